package tui

import (
	"fmt"
	"slices"

	tea "github.com/charmbracelet/bubbletea"
)

// Run starts the history TUI for view.
func Run(view string, data any) error {
	if !IsTUISupported(view) {
		return fmt.Errorf("TUI mode is not supported for %s", view)
	}
	_, err := tea.NewProgram(NewHistoryModel(view, data), tea.WithAltScreen()).Run()
	return err
}

// IsTUISupported reports whether a read-only view has a TUI. The live
// timeline is started with RunLive instead.
func IsTUISupported(view string) bool {
	return slices.Contains(SupportedTUIViews(), view)
}

// SupportedTUIViews lists the read-only views with a TUI.
func SupportedTUIViews() []string {
	return []string{ViewTimeline, ViewMetrics}
}
