package tui

import "github.com/charmbracelet/lipgloss"

var (
	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Italic(true)

	citationStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	stalledStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Italic(true)

	statusConnected = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	statusDegraded = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	statusDown = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	approvalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)
)
