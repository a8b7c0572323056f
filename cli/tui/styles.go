// Package tui renders Bubble Tea views for the vigil CLI: the live
// timeline behind `vigil watch --tui` and read-only history views.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/vigil/adapter"
)

// Color palette.
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	successColor   = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	errorColor     = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	highlightColor = lipgloss.Color("#3B82F6") // Blue
)

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	LabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF"))

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor)
	MutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)

	// BoxStyle frames the output pane.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	HelpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlightColor).
			Padding(0, 2).
			Width(20).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Align(lipgloss.Center)

	StatValueStyle = lipgloss.NewStyle().
			Bold(true).
			Align(lipgloss.Center)
)

// Process statuses shown in the timeline besides the exit outcomes.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
)

// StatusStyle picks the style for a process status or exit outcome.
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case adapter.OutcomeSuccess:
		return SuccessStyle
	case StatusRunning, adapter.OutcomeRetried:
		return WarningStyle
	case adapter.OutcomeFailed, adapter.OutcomeExecError:
		return ErrorStyle
	case StatusQueued, adapter.OutcomeStopped:
		return MutedStyle
	}
	return ValueStyle
}
