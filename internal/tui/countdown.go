package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/goodtune/lockbox/internal/device"
	"github.com/goodtune/lockbox/internal/override"
)

// Countdown is the cooling-off view for a delay override session.
type Countdown struct {
	ctx     context.Context
	session *override.Session
	notices *Notices
	keys    KeyMap
	total   int
	width   int

	remaining  int
	complete   bool
	confirming bool
	errText    string
	result     *device.OverrideResult
	quitting   bool
}

// NewCountdown creates the view for session, which must be on the delay
// path with its timer already started.
func NewCountdown(ctx context.Context, session *override.Session, notices *Notices) Countdown {
	keys := DefaultKeyMap
	keys.Confirm = key.NewBinding(
		key.WithKeys("enter", "y"),
		key.WithHelp("enter", "confirm unlock"),
	)
	keys.Back = key.NewBinding(
		key.WithKeys("esc", "q"),
		key.WithHelp("esc", "cancel"),
	)

	m := Countdown{
		ctx:     ctx,
		session: session,
		notices: notices,
		keys:    keys,
		total:   session.Timer.Remaining(),
		width:   80,
	}
	m.sync()
	return m
}

func (m *Countdown) sync() {
	m.remaining = m.session.Timer.Remaining()
	m.complete = m.session.Timer.IsComplete()
}

func (m Countdown) Init() tea.Cmd {
	return refresh()
}

func (m Countdown) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case refreshMsg:
		m.sync()
		return m, refresh()

	case confirmMsg:
		m.confirming = false
		if msg.err != nil {
			m.errText = confirmError(msg.err)
			return m, nil
		}
		result := msg.result
		m.result = &result
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.Back):
			m.session.Cancel()
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, m.keys.Confirm):
			m.sync()
			if !m.complete || m.confirming {
				return m, nil
			}
			m.confirming = true
			m.errText = ""
			ctx, session := m.ctx, m.session
			return m, func() tea.Msg {
				result, err := session.Confirm(ctx)
				return confirmMsg{result: result, err: err}
			}
		}
	}
	return m, nil
}

// Result returns the device's reply when the session ended in an unlock.
func (m Countdown) Result() (device.OverrideResult, bool) {
	if m.result == nil {
		return device.OverrideResult{}, false
	}
	return *m.result, true
}

func (m Countdown) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Emergency override"))
	b.WriteString("\n\n")

	b.WriteString(clockStyle.Render(clockText(time.Duration(m.remaining) * time.Second)))
	b.WriteString("\n")
	b.WriteString(bar(m.total-m.remaining, m.total, min(m.width-4, 40)))
	b.WriteString("\n\n")

	switch {
	case m.confirming:
		b.WriteString(pendingStyle.Render("Sending override..."))
	case m.complete:
		b.WriteString(metStyle.Render("Cooling-off period complete. Press enter to unlock."))
	default:
		b.WriteString(mutedStyle.Render(fmt.Sprintf("The box unlocks after a %d minute cooling-off period.", m.total/60)))
	}
	b.WriteString("\n")

	if notice := m.notices.Latest(); notice != "" {
		b.WriteString(pendingStyle.Render(notice))
		b.WriteString("\n")
	}
	if m.errText != "" {
		b.WriteString(errorStyle.Render(m.errText))
		b.WriteString("\n")
	}

	keys := m.keys
	keys.Confirm.SetEnabled(m.complete)
	b.WriteString(helpLine(keys.Confirm, keys.Back))
	return b.String()
}
