package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agent-console/internal/chat"
	"agent-console/internal/hub"
	"agent-console/internal/types"
	"agent-console/internal/utils"
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true)
	footerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
	warnStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	confirmStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	userStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	inputBackground = lipgloss.AdaptiveColor{Light: "252", Dark: "236"}
	msgBoxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Background(inputBackground)
)

// Deps are the long-lived pieces the UI drives.
type Deps struct {
	Store       *hub.Store
	Coordinator *hub.Coordinator
	Poller      *hub.Poller
	Logger      *utils.Logger
	// RequestTimeout bounds each user-initiated request.
	RequestTimeout time.Duration
}

type model struct {
	deps    Deps
	ctx     context.Context
	changes <-chan struct{}

	state    hub.State
	timeline []types.ChatMessage

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	keys     keyMap
	tools    list.Model

	width       int
	height      int
	sending     bool
	resolving   map[string]bool
	errMsg      string
	notice      string
	showHelp    bool
	showTools   bool
	lastUpdated time.Time
}

type storeChangedMsg struct{}

// syncedMsg re-reads the store without re-arming the change listener.
type syncedMsg struct{}

type startedMsg struct{ session *types.Session }

type continuedMsg struct{}

type resolvedMsg struct {
	decisionID string
	approved   bool
}

type toolsMsg struct{ tools []types.ToolInfo }

type errMsg struct {
	err        error
	source     string
	decisionID string
}

// Run blocks until the user quits. The poller is run by the caller.
func Run(ctx context.Context, deps Deps) error {
	changes, unsubscribe := deps.Store.Subscribe()
	defer unsubscribe()

	p := tea.NewProgram(newModel(ctx, deps, changes), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func newModel(ctx context.Context, deps Deps, changes <-chan struct{}) model {
	if deps.Logger == nil {
		deps.Logger = utils.NopLogger()
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	input := textinput.New()
	input.Prompt = "> "
	input.Focus()
	input.CharLimit = 4000
	input.TextStyle = input.TextStyle.Background(inputBackground)

	spin := spinner.New()
	spin.Spinner = spinner.Line
	spin.Style = dimStyle

	m := model{
		deps:      deps,
		ctx:       ctx,
		changes:   changes,
		input:     input,
		viewport:  viewport.New(0, 0),
		spinner:   spin,
		help:      help.New(),
		keys:      defaultKeyMap,
		tools:     newToolList(),
		resolving: make(map[string]bool),
	}
	m.refreshState()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForChange(m.changes))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.syncViewport()
		return m, nil
	case storeChangedMsg:
		m.refreshState()
		m.lastUpdated = time.Now()
		return m, waitForChange(m.changes)
	case syncedMsg:
		m.refreshState()
		if m.notice == "Refreshing..." {
			m.notice = ""
		}
		return m, nil
	case startedMsg:
		m.sending = false
		m.errMsg = ""
		m.notice = "Started session " + msg.session.ShortID()
		m.refreshState()
		return m, nil
	case continuedMsg:
		m.sending = false
		m.errMsg = ""
		m.notice = ""
		return m, nil
	case resolvedMsg:
		delete(m.resolving, msg.decisionID)
		if msg.approved {
			m.notice = "Approved"
		} else {
			m.notice = "Rejected"
		}
		m.refreshState()
		return m, nil
	case toolsMsg:
		m.tools.SetItems(buildToolItems(msg.tools))
		m.showTools = true
		m.syncViewport()
		return m, nil
	case errMsg:
		if msg.decisionID != "" {
			delete(m.resolving, msg.decisionID)
		}
		if msg.source == "continue" || msg.source == "start" {
			m.sending = false
		}
		m.errMsg = msg.err.Error()
		m.deps.Logger.Warn("ui action failed", "source", msg.source, "error", msg.err)
		m.refreshState()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.busy() {
			m.syncViewport()
		}
		return m, cmd
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showTools {
		switch {
		case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Tools):
			if m.tools.FilterState() != list.Filtering {
				m.showTools = false
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.tools, cmd = m.tools.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.syncViewport()
		return m, nil
	case key.Matches(msg, m.keys.Send):
		return m, m.submit()
	case key.Matches(msg, m.keys.Approve):
		return m, m.resolve(true)
	case key.Matches(msg, m.keys.Reject):
		return m, m.resolve(false)
	case key.Matches(msg, m.keys.Refresh):
		if m.state.SessionID == "" {
			return m, nil
		}
		m.notice = "Refreshing..."
		return m, refreshCmd(m.ctx, m.deps)
	case key.Matches(msg, m.keys.Clear):
		m.sending = false
		m.errMsg = ""
		m.notice = "Session cleared. Type a goal to start a new one."
		return m, clearCmd(m.ctx, m.deps)
	case key.Matches(msg, m.keys.Tools):
		return m, listToolsCmd(m.ctx, m.deps)
	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a session when none is active, otherwise continues it.
func (m *model) submit() tea.Cmd {
	text := m.input.Value()
	if strings.TrimSpace(text) == "" || m.sending {
		return nil
	}
	m.input.SetValue("")
	m.errMsg = ""
	m.notice = ""
	m.sending = true
	if m.state.SessionID == "" {
		return startCmd(m.ctx, m.deps, text)
	}
	return continueCmd(m.ctx, m.deps, text)
}

func (m *model) resolve(approved bool) tea.Cmd {
	d, ok := hub.PendingApproval(m.state.Session)
	if !ok {
		m.notice = "Nothing is waiting for approval."
		return nil
	}
	if m.resolving[d.ID] {
		return nil
	}
	m.resolving[d.ID] = true
	m.errMsg = ""
	m.syncViewport()
	return resolveCmd(m.ctx, m.deps, d.ID, approved)
}

func (m *model) refreshState() {
	m.state = m.deps.Store.Snapshot()
	m.timeline = chat.Timeline(m.state.UserMessages, m.state.Session, time.Now())
	m.syncViewport()
}

func (m model) busy() bool {
	if m.sending || len(m.resolving) > 0 {
		return true
	}
	return m.state.Session != nil && m.state.Session.Status.Active() &&
		m.state.Session.Status != types.SessionStatusAwaitingApproval
}

func (m model) View() string {
	header := headerStyle.Render("Agent Console")
	statusBar := m.renderStatusBar()
	errLine := ""
	if m.errMsg != "" {
		errLine = errStyle.Render(m.errMsg)
	} else if m.state.Err != nil {
		errLine = errStyle.Render(sessionErrorText(m.state))
	}
	noticeLine := ""
	if banner := m.renderApprovalBanner(); banner != "" {
		noticeLine = banner
	} else if m.notice != "" {
		noticeLine = dimStyle.Render(m.notice)
	}

	body := m.viewport.View()
	if m.showHelp {
		body = strings.Join([]string{body, "", m.help.FullHelpView(m.keys.FullHelp())}, "\n")
	}
	width, _ := contentSize(m.width, m.height)
	inputBox := msgBoxStyle.Width(max(width-2, 10)).Render(m.input.View())
	footer := footerStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp()))

	content := strings.Join([]string{
		header,
		statusBar,
		errLine,
		noticeLine,
		body,
		inputBox,
		footer,
	}, "\n")
	base := renderCentered(content, m.width, m.height)
	if m.showTools {
		return overlayModal(dimStyle.Render(base), m.renderToolsModal(), m.width, m.height)
	}
	return base
}

func sessionErrorText(state hub.State) string {
	if state.NotFound {
		return "Session not found. Press ctrl+x to start a new one."
	}
	return "Sync error: " + state.Err.Error()
}

func waitForChange(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-ch; !ok {
			return nil
		}
		return storeChangedMsg{}
	}
}
