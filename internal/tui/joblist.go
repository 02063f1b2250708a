package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	statusCreated   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // yellow
	statusSubmitted = lipgloss.NewStyle().Foreground(lipgloss.Color("4")) // blue
	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("6")) // cyan
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // green
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // red
)

func formatStatus(status string) string {
	switch status {
	case "created":
		return statusCreated.Render("● created")
	case "submitted":
		return statusSubmitted.Render("● submitted")
	case "running":
		return statusRunning.Render("● running")
	case "completed":
		return statusCompleted.Render("● completed")
	case "failed":
		return statusFailed.Render("✗ failed")
	default:
		return status
	}
}

func statusGlyph(status string) string {
	switch status {
	case "created":
		return "○"
	case "submitted":
		return "◐"
	case "running":
		return "◑"
	case "completed":
		return "●"
	case "failed":
		return "✗"
	default:
		return "?"
	}
}

func (a *App) renderJobList(height int) string {
	if a.loading {
		return "\n  Loading jobs...\n"
	}
	if len(a.jobs) == 0 {
		return "\n  No jobs found. Submit one with: aurora submit\n"
	}

	var lines []string
	for i, j := range a.jobs {
		label := fmt.Sprintf("%s  %-10s  %s", shortID(j.ID), j.Executor, formatStatus(j.Status))
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render("▶ "+fmt.Sprintf("%s  %-10s  %s %s", shortID(j.ID), j.Executor, statusGlyph(j.Status), j.Status)))
		} else {
			lines = append(lines, jobItemStyle.Render("  "+label))
		}
	}

	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func (a *App) renderSamplesPanel(height int) string {
	var b strings.Builder

	b.WriteString("\n  Registered Samples\n")
	b.WriteString("  " + strings.Repeat("─", 40) + "\n\n")

	if len(a.samples) == 0 {
		b.WriteString("  No samples registered.\n")
		b.WriteString("  Type: add <label> to create one\n")
		return b.String()
	}

	for i, s := range a.samples {
		chem := ""
		if s.Chemistry != "" {
			chem = lipgloss.NewStyle().Foreground(mutedColor).Render(" (" + s.Chemistry + ")")
		}
		line := fmt.Sprintf("    %s  %s%s", shortID(s.ID), s.Label, chem)
		if i == a.sampleIdx {
			line = selectedStyle.Render(fmt.Sprintf("▶ %s  %s", shortID(s.ID), s.Label))
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n  " + helpStyle.Render("Commands: add <label>") + "\n")
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
