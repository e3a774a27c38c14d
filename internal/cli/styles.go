package cli

import "github.com/charmbracelet/lipgloss"

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00D4AA"))

	LabelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Width(22)

	SuccessStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00D4AA"))

	WarningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFA500"))

	ErrorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FF4444"))

	InfoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888"))
)
