package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/autopilot/internal/execution"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusRunning = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	StyleSelected = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("0"))

	StyleNotice = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

// ExecutionStyle picks the status style for an execution state.
func ExecutionStyle(s execution.Status) lipgloss.Style {
	switch s {
	case execution.StatusRunning, execution.StatusPaused:
		return StyleStatusRunning
	case execution.StatusCompleted:
		return StyleStatusComplete
	case execution.StatusFailed, execution.StatusCancelled:
		return StyleStatusFailed
	default:
		return StyleStatusPending
	}
}

// HealthStyle colours a health score.
func HealthStyle(score float64) lipgloss.Style {
	switch {
	case score >= 80:
		return StyleStatusComplete
	case score >= 50:
		return StyleStatusRunning
	default:
		return StyleStatusFailed
	}
}
