// Package tui renders conversations in the terminal. It observes the store
// through the event bus, asks the follow controller whether to stick to the
// newest content, and resolves storage references lazily on render.
package tui

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"parley/internal/adapter/resolver"
	"parley/internal/adapter/transport"
	"parley/internal/domain"
	"parley/internal/usecase"
)

// Sender delivers outbound user envelopes to the gateway.
type Sender interface {
	Send(ctx context.Context, env domain.Envelope) error
}

// Deps wires the chat model to the rest of the system.
type Deps struct {
	Store          *usecase.Store
	Resolver       *resolver.Service
	Monitor        *transport.Monitor
	Sender         Sender
	ConversationID string
	Markdown       bool
	Logger         *slog.Logger
}

// Model is the Bubble Tea chat model.
type Model struct {
	deps   Deps
	follow *usecase.FollowController

	viewport viewport.Model
	input    textinput.Model
	spin     spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
	ready  bool

	connState domain.ConnectionState
	approval  *domain.ContentUnit
	notice    string

	// resolved caches render-time resolution outcomes keyed by reference;
	// pending suppresses duplicate resolve commands per frame.
	resolved map[string]string
	failed   map[string]string
	pending  map[string]bool
}

// NewModel creates the chat model.
func NewModel(deps Deps) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message..."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &Model{
		deps:      deps,
		follow:    usecase.NewFollowController(),
		input:     input,
		spin:      sp,
		connState: deps.Monitor.Snapshot(),
		resolved:  make(map[string]string),
		failed:    make(map[string]string),
		pending:   make(map[string]bool),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.input.Width = msg.Width - 4
		if m.deps.Markdown {
			r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(msg.Width-2),
			)
			if err == nil {
				m.renderer = r
			}
		}
		cmds = append(cmds, m.refresh()...)

	case tea.KeyMsg:
		cmd, handled := m.handleKey(msg)
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
		if handled {
			return m, tea.Batch(cmds...)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)

	case BusEventMsg:
		cmds = append(cmds, m.handleEvent(msg.Event)...)

	case ResolvedMsg:
		delete(m.pending, msg.Reference)
		if msg.Err != nil {
			m.failed[msg.Reference] = msg.Err.Error()
		} else {
			m.resolved[msg.Reference] = msg.URL
			delete(m.failed, msg.Reference)
		}
		cmds = append(cmds, m.refresh()...)

	case SendFailedMsg:
		m.notice = "send failed: " + msg.Err.Error()
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return tea.Quit, true

	case "enter":
		text := m.input.Value()
		if text == "" {
			return nil, true
		}
		m.input.Reset()
		return m.sendCmd(text), true

	case "ctrl+r":
		// Explicit reconnect after exhaustion, and a fresh shot at any
		// failed resolutions.
		m.deps.Monitor.Reset()
		for ref := range m.failed {
			m.deps.Resolver.Invalidate(ref)
			delete(m.failed, ref)
		}
		m.notice = "reconnecting"
		return tea.Batch(m.refresh()...), true

	case "y", "n":
		if m.approval != nil {
			approved := msg.String() == "y"
			unit := *m.approval
			m.approval = nil
			return m.decideCmd(unit, approved), true
		}

	case "up", "down", "pgup", "pgdown", "home", "end":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow.UserScrolled(m.offsetFromBottom())
		return cmd, true
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd, false
}

func (m *Model) handleEvent(event domain.Event) []tea.Cmd {
	switch event.Type {
	case domain.EventStreamStarted:
		m.follow.MessageStarted()
	case domain.EventToolApprovalReq:
		if unit, ok := m.deps.Store.PendingApproval(m.deps.ConversationID); ok {
			m.approval = &unit
		}
	case domain.EventToolApprovalResp:
		m.approval = nil
	case domain.EventConnectionChanged:
		m.connState = m.deps.Monitor.Snapshot()
	case domain.EventStreamError:
		m.notice = "response interrupted by connection loss"
	}
	return m.refresh()
}

// refresh re-renders the viewport from the store and applies the follow
// decision, returning resolve commands for any unresolved references that
// rendering touched.
func (m *Model) refresh() []tea.Cmd {
	if !m.ready {
		return nil
	}

	content, refs := m.renderConversation()
	m.viewport.SetContent(content)

	streaming := m.deps.Store.Streaming(m.deps.ConversationID)
	m.follow.Observe(m.offsetFromBottom(), streaming)
	if m.follow.ShouldFollow() {
		m.viewport.GotoBottom()
	}

	var cmds []tea.Cmd
	for _, ref := range refs {
		if _, ok := m.resolved[ref]; ok {
			continue
		}
		if _, ok := m.failed[ref]; ok {
			continue
		}
		if m.pending[ref] {
			continue
		}
		m.pending[ref] = true
		cmds = append(cmds, m.resolveCmd(ref))
	}
	return cmds
}

func (m *Model) offsetFromBottom() int {
	return m.viewport.TotalLineCount() - (m.viewport.YOffset + m.viewport.Height)
}

func (m *Model) resolveCmd(ref string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		url, err := m.deps.Resolver.Resolve(ctx, ref)
		return ResolvedMsg{Reference: ref, URL: url, Err: err}
	}
}

func (m *Model) sendCmd(text string) tea.Cmd {
	m.deps.Store.AppendUser(m.deps.ConversationID, text)
	env := domain.Envelope{
		ConversationID: m.deps.ConversationID,
		Fragments: []domain.Fragment{{
			Kind: domain.KindText,
			Text: text,
		}},
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.deps.Sender.Send(ctx, env); err != nil {
			return SendFailedMsg{Err: err}
		}
		return nil
	}
}

func (m *Model) decideCmd(unit domain.ContentUnit, approved bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.deps.Store.Decide(ctx, m.deps.ConversationID, unit.ToolCallID, approved); err != nil {
			m.deps.Logger.Warn("approval decision failed", "error", err)
		}
		return nil
	}
}
