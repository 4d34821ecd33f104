// Package style provides consistent terminal styling using Lipgloss.
package style

import "github.com/charmbracelet/lipgloss"

var (
	// Title heads the login box.
	Title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))

	// Label styles field names.
	Label = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))

	// Focused marks the active input or switcher entry.
	Focused = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))

	// Muted renders hints and the inactive switcher arrows.
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	// ErrorText renders failure messages on the status line.
	ErrorText = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

	// InfoText renders informational status messages.
	InfoText = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))

	// Box frames the login form.
	Box = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(1, 3)

	// KeyHint styles the F-key legend at the bottom of the screen.
	KeyHint = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)
