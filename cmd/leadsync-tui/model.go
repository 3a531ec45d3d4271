package main

import (
	"context"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const actionTimeout = 15 * time.Second

type pane int

const (
	paneBoard pane = iota
	paneConversations
)

// Bubble Tea messages

type tickMsg time.Time

type engineMsg leadsync.EngineUpdate

type engineClosedMsg struct{}

type actionMsg struct {
	label  string
	result leadsync.DispatchResult
	err    error
}

type refreshedMsg struct{ err error }

func tickCmd(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForUpdate blocks on the engine subscription. Update re-arms it after
// every message.
func waitForUpdate(updates <-chan leadsync.EngineUpdate) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-updates
		if !ok {
			return engineClosedMsg{}
		}
		return engineMsg(update)
	}
}

type keyMap struct {
	Left     key.Binding
	Right    key.Binding
	Up       key.Binding
	Down     key.Binding
	Back     key.Binding
	Forward  key.Binding
	Select   key.Binding
	Close    key.Binding
	Sidebar  key.Binding
	FollowUp key.Binding
	Switch   key.Binding
	Refresh  key.Binding
	Dismiss  key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Left, k.Right, k.Back, k.Forward, k.Select, k.FollowUp, k.Switch, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Up, k.Down, k.Close, k.Sidebar, k.Dismiss}}
}

var keys = keyMap{
	Left:     key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "column")),
	Right:    key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "column")),
	Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Back:     key.NewBinding(key.WithKeys("["), key.WithHelp("[", "stage back")),
	Forward:  key.NewBinding(key.WithKeys("]"), key.WithHelp("]", "stage forward")),
	Select:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("⏎", "detail")),
	Close:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "close detail")),
	Sidebar:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "toggle detail")),
	FollowUp: key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow-up")),
	Switch:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "board/inbox")),
	Refresh:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Dismiss:  key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss notice")),
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type model struct {
	engine  *leadsync.Engine
	updates <-chan leadsync.EngineUpdate
	every   time.Duration
	now     func() time.Time

	pane    pane
	col     int
	row     int
	convRow int

	board         []leadsync.BoardColumn
	conversations []leadsync.ConversationSummary
	rollup        leadsync.MetricsSnapshot
	freshness     leadsync.FreshnessReport
	status        leadsync.SyncStatus
	notices       []leadsync.Notice

	conversation *leadsync.ConversationView

	busy    bool
	closed  bool
	lastErr string
	spinner spinner.Model
	help    help.Model
	width   int
	height  int
}

func newModel(engine *leadsync.Engine, updates <-chan leadsync.EngineUpdate, every time.Duration) model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(colorTitle)
	if every <= 0 {
		every = time.Second
	}
	m := model{
		engine:  engine,
		updates: updates,
		every:   every,
		now:     time.Now,
		spinner: sp,
		help:    help.New(),
	}
	m.reload()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd(m.every), waitForUpdate(m.updates))
}

// reload re-reads every view from the engine and keeps the cursors in range.
func (m *model) reload() {
	m.board = m.engine.Board()
	m.conversations = m.engine.Conversations()
	m.rollup = m.engine.Rollup.Snapshot()
	m.freshness = m.engine.Freshness.Last()
	m.status = m.engine.Listener.Status()
	m.notices = m.engine.Notices.Active()

	m.col = clamp(m.col, 0, len(m.board)-1)
	if len(m.board) == 0 {
		m.row = 0
	} else {
		m.row = clamp(m.row, 0, len(m.board[m.col].Leads)-1)
	}
	m.convRow = clamp(m.convRow, 0, len(m.conversations)-1)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.reload()
		return m, tickCmd(m.every)

	case engineMsg:
		m.reload()
		return m, waitForUpdate(m.updates)

	case engineClosedMsg:
		m.closed = true
		return m, nil

	case actionMsg:
		m.busy = false
		switch {
		case msg.err != nil:
			m.lastErr = msg.label + ": " + msg.err.Error()
		case !msg.result.Success:
			m.lastErr = msg.label + ": " + msg.result.Error
		default:
			m.lastErr = ""
		}
		m.reload()
		return m, nil

	case refreshedMsg:
		m.busy = false
		m.lastErr = ""
		if msg.err != nil {
			m.lastErr = "refresh: " + msg.err.Error()
		}
		m.reload()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Switch):
		if m.pane == paneBoard {
			m.pane = paneConversations
		} else {
			m.pane = paneBoard
		}
	case key.Matches(msg, keys.Left):
		if m.pane == paneBoard && m.col > 0 {
			m.col--
			m.row = 0
		}
	case key.Matches(msg, keys.Right):
		if m.pane == paneBoard && m.col < len(m.board)-1 {
			m.col++
			m.row = 0
		}
	case key.Matches(msg, keys.Up):
		if m.pane == paneBoard && m.row > 0 {
			m.row--
		}
		if m.pane == paneConversations && m.convRow > 0 {
			m.convRow--
		}
	case key.Matches(msg, keys.Down):
		if m.pane == paneBoard && len(m.board) > 0 && m.row < len(m.board[m.col].Leads)-1 {
			m.row++
		}
		if m.pane == paneConversations && m.convRow < len(m.conversations)-1 {
			m.convRow++
		}
	case key.Matches(msg, keys.Back):
		m.moveSelected(-1)
	case key.Matches(msg, keys.Forward):
		m.moveSelected(1)
	case key.Matches(msg, keys.Select):
		if lead, ok := m.selectedLead(); ok {
			if err := m.engine.State.SelectLead(lead.ID); err != nil {
				m.lastErr = err.Error()
				break
			}
			m.engine.State.SetSidebarOpen(true)
			m.syncConversation()
		}
	case key.Matches(msg, keys.Close):
		m.engine.State.CloseSidebar()
		m.syncConversation()
	case key.Matches(msg, keys.Sidebar):
		m.engine.State.ToggleSidebar()
		m.syncConversation()
	case key.Matches(msg, keys.Dismiss):
		if len(m.notices) > 0 {
			m.engine.Notices.Dismiss(m.notices[0].ID)
			m.reload()
		}
	case key.Matches(msg, keys.FollowUp):
		lead, ok := m.selectedLead()
		if !ok || m.busy {
			break
		}
		m.busy = true
		return m, followUpCmd(m.engine, lead.ID)
	case key.Matches(msg, keys.Refresh):
		if m.busy {
			break
		}
		m.busy = true
		return m, refreshCmd(m.engine)
	}
	return m, nil
}

// syncConversation keeps a conversation view open for the lead in the detail
// panel, and none while the panel is closed.
func (m *model) syncConversation() {
	state := m.engine.State.View()
	want := ""
	if state.SidebarOpen && state.SelectedLead != nil {
		want = state.SelectedLead.ID
	}
	if m.conversation != nil && m.conversation.LeadID() == want {
		return
	}
	if m.conversation != nil {
		m.conversation.Close()
		m.conversation = nil
	}
	if want != "" {
		m.conversation = m.engine.Listener.OpenConversation(want)
	}
}

func (m model) selectedLead() (leadsync.Lead, bool) {
	switch m.pane {
	case paneConversations:
		if m.convRow < len(m.conversations) {
			return m.conversations[m.convRow].Lead, true
		}
	default:
		if m.col < len(m.board) && m.row < len(m.board[m.col].Leads) {
			return m.board[m.col].Leads[m.row], true
		}
	}
	return leadsync.Lead{}, false
}

// moveSelected moves the highlighted board lead delta columns and follows it.
// The trailing column of leads with an unknown stage is never a target.
func (m *model) moveSelected(delta int) {
	if m.pane != paneBoard {
		return
	}
	lead, ok := m.selectedLead()
	if !ok {
		return
	}
	target := m.col + delta
	if target < 0 || target >= len(m.board) || m.board[target].StageID == "" {
		return
	}
	if _, err := m.engine.Mutator.MoveLeadStage(lead.ID, m.board[target].StageID); err != nil {
		m.lastErr = "move " + lead.Name + ": " + err.Error()
		return
	}
	m.lastErr = ""
	m.col = target
	m.reload()
	for i, l := range m.board[m.col].Leads {
		if l.ID == lead.ID {
			m.row = i
			break
		}
	}
}

func followUpCmd(engine *leadsync.Engine, leadID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		result, err := engine.Mutator.TriggerFollowUp(ctx, leadID)
		return actionMsg{label: "follow-up", result: result, err: err}
	}
}

func refreshCmd(engine *leadsync.Engine) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return refreshedMsg{err: engine.Listener.RefreshAll(ctx)}
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
