package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/goodtune/lockbox/internal/breathing"
	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/guided"
	"github.com/goodtune/lockbox/internal/override"
)

const refreshInterval = 250 * time.Millisecond

type refreshMsg struct{}

// confirmMsg carries the result of an override command issued in the
// background.
type confirmMsg struct {
	result device.OverrideResult
	err    error
}

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// Guided is the conversation view for a guided override session. The
// controller is polled on a short tick; no controller callback sends into
// the program.
type Guided struct {
	ctx     context.Context
	session *override.Session
	ctrl    *guided.Controller
	notices *Notices
	keys    KeyMap
	input   textinput.Model

	width  int
	height int

	progress   guided.Progress
	transcript []guided.Message
	breath     breathing.Update
	confirmOK  bool
	confirming bool
	errText    string
	result     *device.OverrideResult
	quitting   bool
}

// NewGuided creates the view for session, which must be on the guided path.
func NewGuided(ctx context.Context, session *override.Session, notices *Notices) Guided {
	input := textinput.New()
	input.Prompt = "› "
	input.Placeholder = "Tell me what's going on..."
	input.CharLimit = 500
	input.Focus()

	m := Guided{
		ctx:     ctx,
		session: session,
		ctrl:    session.Guided,
		notices: notices,
		keys:    DefaultKeyMap,
		input:   input,
		width:   80,
		height:  24,
	}
	m.sync()
	return m
}

func (m Guided) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, refresh())
}

// sync copies the controller's current view into the model.
func (m *Guided) sync() {
	m.progress = m.ctrl.Progress()
	m.transcript = m.ctrl.Transcript()
	m.breath = m.ctrl.Breathing()
	m.confirmOK = m.ctrl.ConfirmEnabled()
}

func (m Guided) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = msg.Width - 4
		return m, nil

	case refreshMsg:
		m.sync()
		if m.progress.State == guided.Cancelled {
			m.quitting = true
			return m, tea.Quit
		}
		return m, refresh()

	case confirmMsg:
		m.confirming = false
		if msg.err != nil {
			m.errText = confirmError(msg.err)
			m.sync()
			return m, nil
		}
		result := msg.result
		m.result = &result
		m.quitting = true
		m.sync()
		return m, tea.Quit

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Guided) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.session.Cancel()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Back):
		if m.breath.Active {
			m.ctrl.StopBreathing()
			m.sync()
			return m, nil
		}
		m.session.Cancel()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Breathe):
		m.errText = ""
		if err := m.ctrl.StartBreathing(); err != nil {
			m.errText = actionError(err)
		}
		m.sync()
		return m, nil

	case key.Matches(msg, m.keys.Complete):
		m.errText = ""
		if err := m.ctrl.RequestCompletion(); err != nil {
			m.errText = "Keep talking a little longer before asking to unlock."
		}
		m.sync()
		return m, nil

	case key.Matches(msg, m.keys.Confirm):
		if m.confirming || !m.ctrl.ConfirmEnabled() {
			return m, nil
		}
		m.confirming = true
		m.errText = ""
		return m, m.confirm()

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.errText = ""
		if err := m.ctrl.Submit(text); err != nil {
			m.errText = actionError(err)
			return m, nil
		}
		m.input.Reset()
		m.sync()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Guided) confirm() tea.Cmd {
	ctx, session := m.ctx, m.session
	return func() tea.Msg {
		result, err := session.Confirm(ctx)
		return confirmMsg{result: result, err: err}
	}
}

// Result returns the device's reply when the session ended in an unlock.
func (m Guided) Result() (device.OverrideResult, bool) {
	if m.result == nil {
		return device.OverrideResult{}, false
	}
	return *m.result, true
}

func (m Guided) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	p := m.progress

	title := "Guided override"
	if p.Trigger != "" {
		title += " · " + p.Trigger.Label()
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")

	timeMet := p.Elapsed >= p.MinDuration
	msgsMet := p.Interactions >= p.MinInteractions
	b.WriteString(check(timeMet, fmt.Sprintf("Time %s / %s", clockText(p.Elapsed), clockText(p.MinDuration))))
	b.WriteString("   ")
	b.WriteString(check(msgsMet, fmt.Sprintf("Messages %d / %d", p.Interactions, p.MinInteractions)))
	b.WriteString("\n\n")

	b.WriteString(m.transcriptView())
	b.WriteString("\n")

	if m.breath.Active {
		b.WriteString(breathStyle.Render(fmt.Sprintf("%s  %d\ncycle %d of %d",
			m.breath.Phase, m.breath.Remaining, m.breath.Cycle, m.breath.Cycles)))
		b.WriteString("\n")
	}

	switch p.State {
	case guided.RequirementsMet:
		b.WriteString(metStyle.Render("You can ask to unlock now if you still want to."))
		b.WriteString("\n")
	case guided.Completing:
		switch {
		case m.confirming:
			b.WriteString(pendingStyle.Render("Sending override..."))
		case m.confirmOK:
			b.WriteString(metStyle.Render("Press ctrl+y to confirm the unlock."))
		default:
			b.WriteString(pendingStyle.Render(fmt.Sprintf("Take a moment to reflect. Confirm available in %s.", clockText(p.Reflection+time.Second-1))))
		}
		b.WriteString("\n")
	}

	if notice := m.notices.Latest(); notice != "" {
		b.WriteString(pendingStyle.Render(notice))
		b.WriteString("\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText))
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")

	keys := m.keys
	keys.Complete.SetEnabled(p.State == guided.RequirementsMet)
	keys.Confirm.SetEnabled(m.confirmOK)
	b.WriteString(helpLine(keys.Send, keys.Breathe, keys.Complete, keys.Confirm, keys.Back))
	return b.String()
}

// transcriptView renders the most recent messages that fit the window.
func (m Guided) transcriptView() string {
	lines := make([]string, 0, len(m.transcript))
	for _, msg := range m.transcript {
		lines = append(lines, renderMessage(msg))
	}

	room := m.height - 12
	if room < 4 {
		room = 4
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}
	return panelStyle.Width(max(m.width-4, 20)).Render(strings.Join(lines, "\n"))
}

func renderMessage(msg guided.Message) string {
	switch msg.From {
	case guided.User:
		return userStyle.Render("you: ") + msg.Text
	case guided.Coping:
		return copingStyle.Render("tip: " + msg.Text)
	default:
		return guideStyle.Render(msg.Text)
	}
}

func actionError(err error) string {
	if errors.Is(err, guided.ErrInvalidState) {
		return "That isn't available right now."
	}
	return err.Error()
}

func confirmError(err error) string {
	var cmdErr *device.CommandError
	if errors.As(err, &cmdErr) {
		if cmdErr.Message != "" {
			return "Override failed: " + cmdErr.Message
		}
	}
	return fmt.Sprintf("Override failed: %v", err)
}
