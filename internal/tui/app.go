package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/turboswarm/internal/orchestrator"
	"github.com/ShayCichocki/turboswarm/pkg/models"
)

// DefaultRefreshRate is the status polling interval when none is given.
const DefaultRefreshRate = 250 * time.Millisecond

// Source is the read side of a session manager the view polls.
type Source interface {
	GetStatus(sessionID string) (*models.StatusReport, error)
	ListAgents(sessionID string) ([]models.AgentHandle, error)
	ListTasks(sessionID string) ([]*models.Task, error)
}

// eventMsg carries one session event into the model.
type eventMsg struct {
	event orchestrator.Event
}

// eventsClosedMsg is sent when the event stream ends.
type eventsClosedMsg struct{}

// refreshMsg triggers a status poll.
type refreshMsg struct{}

// snapshotMsg carries the result of a status poll.
type snapshotMsg struct {
	report *models.StatusReport
	agents []models.AgentHandle
	tasks  []*models.Task
	err    error
}

// App is the bubbletea model watching one session.
type App struct {
	source    Source
	sessionID string
	events    <-chan orchestrator.Event
	refresh   time.Duration

	tabs     TabBar
	bar      progress.Model
	spinner  spinner.Model
	viewport viewport.Model

	report     *models.StatusReport
	agents     []models.AgentHandle
	tasks      []*models.Task
	eventLines []string
	lastErr    error

	width    int
	height   int
	quitting bool
	// done is set once the session reached a terminal status.
	done bool
}

// New creates a view of sessionID. events may be nil, in which case the
// Events tab stays empty.
func New(source Source, sessionID string, events <-chan orchestrator.Event, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = DefaultRefreshRate
	}
	s := spinner.New()
	s.Spinner = spinner.MiniDot
	s.Style = workingStyle

	return &App{
		source:    source,
		sessionID: sessionID,
		events:    events,
		refresh:   refresh,
		tabs:      NewTabBar(),
		bar:       progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage(), progress.WithWidth(40)),
		spinner:   s,
		viewport:  viewport.New(80, 20),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.waitForEvent(), a.poll())
}

func (a *App) waitForEvent() tea.Cmd {
	if a.events == nil {
		return nil
	}
	events := a.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: ev}
	}
}

// poll fetches status, agents and tasks in one command.
func (a *App) poll() tea.Cmd {
	source, id := a.source, a.sessionID
	return func() tea.Msg {
		var msg snapshotMsg
		msg.report, msg.err = source.GetStatus(id)
		if msg.err != nil {
			return msg
		}
		if msg.agents, msg.err = source.ListAgents(id); msg.err != nil {
			return msg
		}
		msg.tasks, msg.err = source.ListTasks(id)
		return msg
	}
}

func (a *App) scheduleRefresh() tea.Cmd {
	return tea.Tick(a.refresh, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "up", "down", "pgup", "pgdown", "k", "j":
			var cmd tea.Cmd
			a.viewport, cmd = a.viewport.Update(msg)
			cmds = append(cmds, cmd)
		default:
			a.tabs, _ = a.tabs.Update(msg)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.bar.Width = max(10, min(60, msg.Width-20))
		a.viewport.Width = msg.Width
		a.viewport.Height = a.bodyHeight()
		a.viewport.SetContent(strings.Join(a.eventLines, "\n"))

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case eventMsg:
		a.appendEvent(msg.event)
		cmds = append(cmds, a.waitForEvent())
		if msg.event.Type == orchestrator.EventSessionStatus {
			cmds = append(cmds, a.poll())
		}

	case eventsClosedMsg:
		a.events = nil
		a.appendLine(dimStyle.Render("event stream closed"))

	case refreshMsg:
		cmds = append(cmds, a.poll())

	case snapshotMsg:
		a.lastErr = msg.err
		if msg.err == nil {
			a.report = msg.report
			a.agents = msg.agents
			a.tasks = msg.tasks
			a.done = msg.report != nil && msg.report.Status.Terminal()
		}
		if !a.done {
			cmds = append(cmds, a.scheduleRefresh())
		}
	}

	return a, tea.Batch(cmds...)
}

func (a *App) appendEvent(ev orchestrator.Event) {
	a.appendLine(formatEvent(ev))
}

func (a *App) appendLine(line string) {
	a.eventLines = append(a.eventLines, line)
	if over := len(a.eventLines) - maxEventLines; over > 0 {
		a.eventLines = a.eventLines[over:]
	}
	follow := a.viewport.AtBottom()
	a.viewport.SetContent(strings.Join(a.eventLines, "\n"))
	if follow {
		a.viewport.GotoBottom()
	}
}

// bodyHeight is the number of rows left for the active tab.
func (a *App) bodyHeight() int {
	const chrome = 10
	if a.height <= chrome {
		return 10
	}
	return a.height - chrome
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return "Detached from session " + a.sessionID + "\n"
	}

	var body string
	switch a.tabs.Active() {
	case TabAgents:
		body = renderAgents(a.agents, a.bodyHeight()-1)
	case TabTasks:
		body = renderTasks(a.tasks, a.bodyHeight()-1)
	case TabEvents:
		if len(a.eventLines) == 0 {
			body = dimStyle.Render("No events yet")
		} else {
			body = a.viewport.View()
		}
	}

	var b strings.Builder
	b.WriteString(renderHeader(a.sessionID, a.report, a.bar, a.spinner.View()))
	b.WriteString("\n")
	b.WriteString(a.tabs.View(a.width))
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(body))
	b.WriteString("\n")
	b.WriteString(a.viewFooter())
	return b.String()
}

func (a *App) viewFooter() string {
	if a.lastErr != nil {
		return errorStyle.Render(fmt.Sprintf("status error: %v", a.lastErr)) + dimStyle.Render(" | q to quit")
	}
	if a.done {
		if a.report.Status == models.SessionCompleted {
			return okStyle.Render("✓ session completed") + dimStyle.Render(" | q to exit")
		}
		return errorStyle.Render("✗ session "+string(a.report.Status)) + dimStyle.Render(" | q to exit")
	}
	return dimStyle.Render("1/2/3 or tab to switch tabs | up/down to scroll events | q to detach")
}

// Report returns the most recent status poll, or nil before the first one.
func (a *App) Report() *models.StatusReport {
	return a.report
}

// NewProgram creates a bubbletea program for the view.
func NewProgram(app *App) *tea.Program {
	return tea.NewProgram(app, tea.WithAltScreen())
}

// Watch subscribes to sessionID on m and runs the view until the user quits
// or ctx is cancelled. It returns the last status seen.
func Watch(ctx context.Context, m *orchestrator.SessionManager, sessionID string, refresh time.Duration) (*models.StatusReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := m.Subscribe(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	app := New(m, sessionID, events, refresh)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return app.Report(), err
	}
	return app.Report(), nil
}
