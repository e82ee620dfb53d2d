package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/goodtune/lockbox/internal/conversation"
)

var pickerKeys = struct {
	Up, Down, Choose, Cancel key.Binding
}{
	Up:     key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("↑", "up")),
	Down:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("↓", "down")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "choose")),
	Cancel: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc", "cancel")),
}

// TriggerPicker asks the user what prompted the override request.
type TriggerPicker struct {
	options  []conversation.Category
	cursor   int
	chosen   conversation.Category
	done     bool
	quitting bool
}

// NewTriggerPicker lists every trigger plus a "not sure" option.
func NewTriggerPicker() TriggerPicker {
	options := append([]conversation.Category(nil), conversation.Triggers...)
	options = append(options, conversation.None)
	return TriggerPicker{options: options}
}

func (m TriggerPicker) Init() tea.Cmd { return nil }

func (m TriggerPicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(keyMsg, pickerKeys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, pickerKeys.Down):
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, pickerKeys.Choose):
		m.chosen = m.options[m.cursor]
		m.done = true
		return m, tea.Quit
	case key.Matches(keyMsg, pickerKeys.Cancel):
		m.quitting = true
		return m, tea.Quit
	}
	return m, nil
}

// Chosen returns the selected trigger, false when the picker was cancelled.
func (m TriggerPicker) Chosen() (conversation.Category, bool) {
	return m.chosen, m.done
}

func (m TriggerPicker) View() string {
	if m.done || m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("What's making you want to open the box?"))
	b.WriteString("\n\n")
	for i, c := range m.options {
		if i == m.cursor {
			b.WriteString(metStyle.Render("› " + c.Label()))
		} else {
			b.WriteString("  " + c.Label())
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpLine(pickerKeys.Up, pickerKeys.Down, pickerKeys.Choose, pickerKeys.Cancel))
	return b.String()
}
