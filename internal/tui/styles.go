package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	guideStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	userStyle    = lipgloss.NewStyle().Bold(true)
	copingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Italic(true)
	metStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	clockStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")).Padding(0, 2)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("6")).Padding(0, 1)
	breathStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("4")).Padding(0, 2)
)

// clockText formats d as mm:ss, rounding partial seconds down.
func clockText(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// bar renders a fixed-width progress bar for done out of total.
func bar(done, total, width int) string {
	if width <= 0 {
		return ""
	}
	filled := width
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return metStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}

// check renders a requirement line, green once satisfied.
func check(met bool, text string) string {
	if met {
		return metStyle.Render("✓ " + text)
	}
	return pendingStyle.Render("• " + text)
}
