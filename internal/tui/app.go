// Package tui provides the interactive terminal UI for Aurora.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	jobItemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Italic(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// App is the main TUI application model.
type App struct {
	client         *Client
	jobs           []JobItem
	samples        []SampleItem
	selectedIdx    int
	sampleIdx      int
	input          textinput.Model
	viewport       viewport.Model
	width          int
	height         int
	mode           string // "jobs", "detail", "samples"
	currentJob     *JobDetail
	currentVerdict *VerdictDetail
	message        string
	filter         string
	filterIdx      int
	loading        bool
	daemonOnline   bool
}

var filters = []string{"", "created", "submitted", "running", "completed", "failed"}
var filterNames = []string{"ALL", "CREATED", "SUBMITTED", "RUNNING", "DONE", "FAILED"}

// New creates a new TUI application.
func New(apiAddr, token string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: add <label> | r to refresh | Tab to filter"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:   NewClient(apiAddr, token),
		input:    ti,
		viewport: vp,
		mode:     "jobs",
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchJobs(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" || a.mode == "samples" {
				a.mode = "jobs"
				a.currentJob = nil
				a.currentVerdict = nil
				return a, a.fetchJobs()
			}

		case "up", "k":
			if a.mode == "jobs" && a.selectedIdx > 0 {
				a.selectedIdx--
			} else if a.mode == "samples" && a.sampleIdx > 0 {
				a.sampleIdx--
			}

		case "down", "j":
			if a.mode == "jobs" && a.selectedIdx < len(a.jobs)-1 {
				a.selectedIdx++
			} else if a.mode == "samples" && a.sampleIdx < len(a.samples)-1 {
				a.sampleIdx++
			}

		case "tab":
			if a.mode == "jobs" {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				a.filter = filters[a.filterIdx]
				return a, a.fetchJobs()
			}

		case "enter":
			cmd := strings.TrimSpace(a.input.Value())
			if cmd != "" {
				a.input.SetValue("")
				return a, a.executeCommand(cmd)
			} else if a.mode == "jobs" && len(a.jobs) > 0 {
				j := a.jobs[a.selectedIdx]
				a.mode = "detail"
				return a, a.fetchJobDetail(j.ID)
			}

		case "r":
			switch a.mode {
			case "jobs":
				return a, a.fetchJobs()
			case "samples":
				return a, a.fetchSamples()
			case "detail":
				if a.currentJob != nil {
					return a, a.fetchJobDetail(a.currentJob.ID)
				}
			}

		case "s":
			a.mode = "samples"
			return a, a.fetchSamples()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 10

	case jobsLoadedMsg:
		a.loading = false
		a.jobs = msg.jobs
		if a.selectedIdx >= len(a.jobs) {
			a.selectedIdx = max(0, len(a.jobs)-1)
		}

	case jobDetailLoadedMsg:
		a.currentJob = msg.job
		a.currentVerdict = msg.verdict

	case samplesLoadedMsg:
		a.samples = msg.samples
		if a.sampleIdx >= len(a.samples) {
			a.sampleIdx = max(0, len(a.samples)-1)
		}

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		cmds = append(cmds, a.tickCmd(), a.checkDaemon())
		if a.mode == "jobs" {
			cmds = append(cmds, a.fetchJobs())
		}

	case commandResultMsg:
		a.message = msg.message
		if a.mode == "samples" {
			return a, a.fetchSamples()
		}
		return a, a.fetchJobs()

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}

	header := titleStyle.Render("AURORA Cycling Pipeline")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d jobs]", len(a.jobs)))

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "jobs":
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(lipgloss.NewStyle().Foreground(mutedColor).Render(filterLabel) + "\n")
		b.WriteString(a.renderJobList(contentHeight - 1))
	case "detail":
		b.WriteString(a.renderJobDetail(contentHeight))
	case "samples":
		b.WriteString(a.renderSamplesPanel(contentHeight))
	}

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))
	b.WriteString("\n")

	var status string
	switch a.mode {
	case "jobs":
		status = fmt.Sprintf(" Jobs: %d | ↑↓:nav | Enter:detail | Tab:filter | s:samples | r:refresh | Ctrl+C:quit", len(a.jobs))
	case "samples":
		status = fmt.Sprintf(" Samples: %d | ↑↓:nav | Esc:back | r:refresh", len(a.samples))
	default:
		status = " Esc:back | r:refresh | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) fetchJobs() tea.Cmd {
	a.loading = true
	return func() tea.Msg {
		jobs, err := a.client.ListJobs(a.filter)
		if err != nil {
			return errMsg{err}
		}
		return jobsLoadedMsg{jobs}
	}
}

func (a *App) fetchJobDetail(jobID string) tea.Cmd {
	return func() tea.Msg {
		j, err := a.client.GetJob(jobID)
		if err != nil {
			return errMsg{err}
		}
		verdict, _ := a.client.GetVerdict(jobID)
		return jobDetailLoadedMsg{j, verdict}
	}
}

func (a *App) fetchSamples() tea.Cmd {
	return func() tea.Msg {
		samples, err := a.client.ListSamples()
		if err != nil {
			return errMsg{err}
		}
		return samplesLoadedMsg{samples}
	}
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

func (a *App) executeCommand(input string) tea.Cmd {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	return func() tea.Msg {
		switch cmd {
		case "add":
			if len(args) < 1 {
				return commandResultMsg{"Usage: add <label>"}
			}
			id, err := a.client.CreateSample(args[0])
			if err != nil {
				return commandResultMsg{"Error: " + err.Error()}
			}
			return commandResultMsg{fmt.Sprintf("✓ Registered sample: %s", shortID(id))}

		case "q", "quit", "exit":
			return tea.Quit()

		default:
			return commandResultMsg{fmt.Sprintf("Unknown: %s (try: add <label>)", cmd)}
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}

type jobsLoadedMsg struct {
	jobs []JobItem
}

type jobDetailLoadedMsg struct {
	job     *JobDetail
	verdict *VerdictDetail
}

type samplesLoadedMsg struct {
	samples []SampleItem
}

type daemonStatusMsg struct {
	online bool
}

type tickMsg time.Time

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
