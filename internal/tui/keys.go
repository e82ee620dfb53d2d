package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings shared by the override views. Letters are
// left to the message input, so guided actions use control keys.
type KeyMap struct {
	Send     key.Binding
	Complete key.Binding
	Confirm  key.Binding
	Breathe  key.Binding
	Back     key.Binding
	Quit     key.Binding
}

// DefaultKeyMap is the built-in binding set.
var DefaultKeyMap = KeyMap{
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Complete: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "request unlock"),
	),
	Confirm: key.NewBinding(
		key.WithKeys("ctrl+y"),
		key.WithHelp("ctrl+y", "confirm unlock"),
	),
	Breathe: key.NewBinding(
		key.WithKeys("ctrl+b"),
		key.WithHelp("ctrl+b", "breathing exercise"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "stop exercise / cancel"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "cancel override"),
	),
}

func helpLine(bindings ...key.Binding) string {
	line := ""
	for i, b := range bindings {
		if !b.Enabled() {
			continue
		}
		if i > 0 && line != "" {
			line += "  "
		}
		h := b.Help()
		line += h.Key + " " + h.Desc
	}
	return mutedStyle.Render(line)
}
