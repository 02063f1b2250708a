package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (a *App) renderJobDetail(height int) string {
	if a.currentJob == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	j := a.currentJob

	b.WriteString(fmt.Sprintf("\n  Job %s\n", lipgloss.NewStyle().Bold(true).Render(shortID(j.ID))))
	b.WriteString(fmt.Sprintf("  Status: %s\n", formatStatus(j.Status)))
	b.WriteString(fmt.Sprintf("  Sample: %s\n", shortID(j.SampleID)))
	b.WriteString(fmt.Sprintf("  Executor: %s\n", j.Executor))
	if j.Fingerprint != "" {
		b.WriteString(fmt.Sprintf("  Fingerprint: %s\n", shortID(j.Fingerprint)))
	}
	if j.Status == "failed" {
		b.WriteString(fmt.Sprintf("  Failure: %s", j.FailureKind))
		if j.FailureCause != "" {
			b.WriteString(" - " + j.FailureCause)
		}
		b.WriteString("\n")
	}
	if j.StartedAt != "" {
		b.WriteString(fmt.Sprintf("  Started: %s\n", j.StartedAt))
	}
	if j.EndedAt != "" {
		b.WriteString(fmt.Sprintf("  Ended: %s\n", j.EndedAt))
	}

	if a.currentVerdict != nil {
		v := a.currentVerdict
		b.WriteString("\n  Verdict: " + formatVerdict(v.ExitCode) + "\n")

		if len(v.Differences) > 0 {
			b.WriteString(fmt.Sprintf("  Differences (%d):\n", len(v.Differences)))
			for i, d := range v.Differences {
				if i >= 5 {
					b.WriteString(fmt.Sprintf("    … and %d more\n", len(v.Differences)-5))
					break
				}
				loc := d.Artifact
				if d.Line > 0 {
					loc = fmt.Sprintf("%s:%d", d.Artifact, d.Line)
				}
				b.WriteString(fmt.Sprintf("    • %s [%s] want %s got %s\n", loc, d.Kind, d.Want, d.Got))
			}
		}
		if len(v.Errors) > 0 {
			b.WriteString("  Artifact errors:\n")
			for _, e := range v.Errors {
				b.WriteString("    • " + e + "\n")
			}
		}
	} else if j.Status == "completed" {
		b.WriteString("\n  " + helpStyle.Render("No verdict recorded") + "\n")
	}

	return b.String()
}

func formatVerdict(exitCode int) string {
	switch exitCode {
	case 0:
		return statusCompleted.Render("MATCH (exit 0)")
	case 1:
		return statusFailed.Render("STRUCTURAL MISMATCH (exit 1)")
	default:
		return statusCreated.Render(fmt.Sprintf("CONTENT MISMATCH (exit %d)", exitCode))
	}
}
