// internal/tui/app.go
//
// The interactive chat client. It uses bubbletea, which follows The Elm
// Architecture: the App struct is the model, Update reacts to messages, and
// View renders the whole screen as a string. All conversation logic lives in
// the session coordinator; this file only displays it.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/termaite/termaite/internal/history"
	"github.com/termaite/termaite/internal/session"
)

// statusRefreshInterval drives the cooldown/throttle countdown display.
const statusRefreshInterval = time.Second

type tickMsg time.Time

type coordEventMsg session.Event

type turnDoneMsg struct {
	err error
}

// App is the bubbletea model for the chat view.
type App struct {
	coord *session.Coordinator
	theme Theme

	viewport   viewport.Model
	input      textinput.Model
	transcript []string

	statuses  []session.AgentStatus
	nextAgent string
	strategy  string

	inputHistory []string
	historyIdx   int
	draft        string

	width  int
	height int
	ready  bool
	busy   bool

	userStyle   lipgloss.Style
	agentStyle  lipgloss.Style
	systemStyle lipgloss.Style
	errorStyle  lipgloss.Style
	statusStyle lipgloss.Style
	accentStyle lipgloss.Style
}

// NewApp creates the chat model over a coordinator.
func NewApp(coord *session.Coordinator, theme Theme) *App {
	input := textinput.New()
	input.Placeholder = "Type a prompt (esc cancels, ctrl+c quits)"
	input.Focus()

	a := &App{
		coord:       coord,
		theme:       theme,
		input:       input,
		viewport:    viewport.New(0, 0),
		userStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color(theme.UserColor)),
		agentStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color(theme.AgentColor)),
		systemStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(theme.SystemColor)),
		errorStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color(theme.ErrorColor)),
		statusStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(theme.StatusColor)),
		accentStyle: lipgloss.NewStyle().Foreground(lipgloss.Color(theme.AccentColor)).Bold(true),
	}
	a.loadInitialState()
	return a
}

// loadInitialState seeds the transcript and recall history from disk.
func (a *App) loadInitialState() {
	if turns, err := a.coord.History(); err == nil {
		for _, t := range turns {
			a.transcript = append(a.transcript, a.renderTurn(t))
		}
	}
	if inputs, err := a.coord.InputHistory(); err == nil {
		a.inputHistory = inputs
	}
	a.historyIdx = len(a.inputHistory)
	a.refreshStatus()
}

func (a *App) refreshStatus() {
	a.statuses = a.coord.ListAgentsWithStatus()
	a.strategy = a.coord.Strategy()
	if name, ok := a.coord.PeekNextAgent(); ok {
		a.nextAgent = name
	} else {
		a.nextAgent = ""
	}
}

// Init starts the periodic status refresh.
func (a *App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(statusRefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles one message.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = msg.Height - 4
		a.input.Width = msg.Width - 4
		a.ready = true
		a.syncViewport()
		return a, nil

	case tickMsg:
		a.refreshStatus()
		return a, tickCmd()

	case coordEventMsg:
		a.appendEvent(session.Event(msg))
		return a, nil

	case turnDoneMsg:
		a.busy = false
		switch msg.err {
		case nil, session.ErrCancelled:
			// Reply and cancellation were already rendered via events.
			if msg.err == session.ErrCancelled {
				a.appendLine(a.systemStyle.Render("(cancelled)"))
			}
		default:
			a.appendLine(a.errorStyle.Render("error: " + msg.err.Error()))
		}
		a.refreshStatus()
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		a.coord.CancelAll()
		return a, tea.Quit

	case tea.KeyEsc:
		if a.busy {
			a.coord.CancelCurrent()
		}
		return a, nil

	case tea.KeyEnter:
		return a, a.submit()

	case tea.KeyUp:
		a.recall(-1)
		return a, nil

	case tea.KeyDown:
		a.recall(1)
		return a, nil

	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		a.viewport, cmd = a.viewport.Update(msg)
		return a, cmd
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) submit() tea.Cmd {
	text := strings.TrimSpace(a.input.Value())
	if text == "" || a.busy {
		return nil
	}
	a.input.SetValue("")
	a.inputHistory = append(a.inputHistory, text)
	a.historyIdx = len(a.inputHistory)
	a.busy = true
	a.appendLine(a.userStyle.Render("you: ") + text)

	coord := a.coord
	return func() tea.Msg {
		_, err := coord.Submit(text)
		return turnDoneMsg{err: err}
	}
}

// recall moves through the persisted input history, stashing the current
// draft so down-arrow restores it.
func (a *App) recall(dir int) {
	if len(a.inputHistory) == 0 {
		return
	}
	if a.historyIdx == len(a.inputHistory) && dir < 0 {
		a.draft = a.input.Value()
	}
	idx := a.historyIdx + dir
	if idx < 0 {
		idx = 0
	}
	if idx >= len(a.inputHistory) {
		a.historyIdx = len(a.inputHistory)
		a.input.SetValue(a.draft)
		a.input.CursorEnd()
		return
	}
	a.historyIdx = idx
	a.input.SetValue(a.inputHistory[idx])
	a.input.CursorEnd()
}

func (a *App) appendEvent(e session.Event) {
	switch e.Kind {
	case session.EventAnnouncement:
		a.appendLine(a.accentStyle.Render(e.Text))
	case session.EventReply:
		a.appendLine(a.agentStyle.Render(e.Text))
	case session.EventFailure:
		a.appendLine(a.errorStyle.Render(e.Text))
	case session.EventInfo:
		a.appendLine(a.systemStyle.Render(e.Text))
	}
}

func (a *App) appendLine(line string) {
	a.transcript = append(a.transcript, line)
	a.syncViewport()
}

func (a *App) syncViewport() {
	a.viewport.SetContent(strings.Join(a.transcript, "\n"))
	a.viewport.GotoBottom()
}

func (a *App) renderTurn(t history.Turn) string {
	switch t.Sender {
	case history.SenderUser:
		return a.userStyle.Render("you: ") + t.Text
	case history.SenderAgent:
		return a.agentStyle.Render(t.Text)
	case history.SenderAnnouncement:
		return a.accentStyle.Render(t.Text)
	default:
		return a.systemStyle.Render(t.Text)
	}
}

// View renders the whole screen.
func (a *App) View() string {
	if !a.ready {
		return "loading..."
	}
	var b strings.Builder
	b.WriteString(a.accentStyle.Render("termaite"))
	b.WriteString("\n")
	b.WriteString(a.viewport.View())
	b.WriteString("\n")
	b.WriteString(a.statusStyle.Render(a.statusLine()))
	b.WriteString("\n> ")
	b.WriteString(a.input.View())
	return b.String()
}

// statusLine renders per-agent availability plus the next pick.
func (a *App) statusLine() string {
	parts := make([]string, 0, len(a.statuses)+2)
	for _, s := range a.statuses {
		parts = append(parts, formatAgentStatus(s))
	}
	if a.nextAgent != "" {
		parts = append(parts, "next: "+a.nextAgent)
	}
	parts = append(parts, "strategy: "+a.strategy)
	if a.busy {
		parts = append(parts, "working...")
	}
	return strings.Join(parts, " | ")
}

// formatAgentStatus compresses one agent's state into a short cell.
func formatAgentStatus(s session.AgentStatus) string {
	switch {
	case !s.Enabled:
		return s.Name + " (off)"
	case s.RemainingCooldown > 0:
		return fmt.Sprintf("%s (cooldown %s)", s.Name, s.RemainingCooldown.Round(time.Second))
	case s.RemainingThrottle > 0:
		return fmt.Sprintf("%s (throttle %s)", s.Name, s.RemainingThrottle.Round(time.Second))
	case s.Pinned:
		return s.Name + " (pinned)"
	default:
		return s.Name
	}
}

// Run wires the coordinator's event stream into a bubbletea program and
// blocks until the user quits.
func Run(coord *session.Coordinator, theme Theme) error {
	app := NewApp(coord, theme)
	p := tea.NewProgram(app, tea.WithAltScreen())
	coord.SetNotifier(func(e session.Event) {
		p.Send(coordEventMsg(e))
	})
	_, err := p.Run()
	coord.SetNotifier(nil)
	return err
}
