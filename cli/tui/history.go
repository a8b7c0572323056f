package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// History views.
const (
	ViewTimeline = "history_timeline"
	ViewMetrics  = "history_metrics"
)

// HistoryModel is a read-only, scrollable view of stored history.
type HistoryModel struct {
	view     string
	data     any
	viewport viewport.Model
	ready    bool
	quitting bool
}

// NewHistoryModel creates a history model. Timeline data is the record
// list from the history dataset; metrics data is one metrics record.
func NewHistoryModel(view string, data any) HistoryModel {
	return HistoryModel{view: view, data: data}
}

// Init implements tea.Model.
func (m HistoryModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, max(msg.Height-2, 3))
			m.viewport.SetContent(m.content())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = max(msg.Height-2, 3)
		}
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m HistoryModel) View() string {
	if m.quitting {
		return ""
	}
	body := m.content()
	if m.ready {
		body = m.viewport.View()
	}
	return body + "\n" + HelpStyle.Render("↑/↓ scroll • q quit")
}

func (m HistoryModel) content() string {
	switch m.view {
	case ViewTimeline:
		records, ok := m.data.([]map[string]any)
		if !ok {
			return "Invalid data type for " + m.view
		}
		return renderTimeline(records)
	case ViewMetrics:
		record, ok := m.data.(map[string]any)
		if !ok {
			return "Invalid data type for " + m.view
		}
		return renderMetrics(record)
	}
	return fmt.Sprintf("Unknown view type: %s", m.view)
}

func renderTimeline(records []map[string]any) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run Timeline"))
	b.WriteString("\n\n")
	if len(records) == 0 {
		b.WriteString(MutedStyle.Render("no events"))
		return b.String()
	}
	for _, r := range records {
		eventType := str(r["event_type"])
		style := ValueStyle
		switch eventType {
		case "exit":
			style = exitStyle(r)
		case "test-error", "long-run":
			style = WarningStyle
		}
		line := fmt.Sprintf("%s  %s  %-10s %-16s",
			MutedStyle.Render(str(r["ts"])),
			MutedStyle.Render(shortID(str(r["process_id"]))),
			style.Render(eventType),
			str(r["request_kind"]),
		)
		if text := firstNonEmpty(str(r["error"]), str(r["text"])); text != "" {
			line += " " + strings.TrimRight(text, "\n")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func exitStyle(r map[string]any) lipgloss.Style {
	switch {
	case r["retried"] == true:
		return WarningStyle
	case str(r["error"]) != "":
		return ErrorStyle
	case str(r["exit_code"]) == "0":
		return SuccessStyle
	}
	return ErrorStyle
}

func renderMetrics(r map[string]any) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Session Metrics"))
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render(fmt.Sprintf("session %s  at %s", str(r["session_id"]), str(r["ts"]))))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Scheduled", "requests_scheduled"},
		{"Superseded", "requests_superseded"},
		{"Rejected", "requests_rejected"},
	}
	b.WriteString(statRow(r, rows, highlightColor))
	b.WriteString("\n")
	b.WriteString(statRow(r, [][]string{
		{"Spawned", "processes_spawned"},
		{"Completed", "processes_completed"},
		{"Stopped", "processes_stopped"},
		{"Exec errors", "processes_exec_error"},
	}, successColor))
	b.WriteString("\n")
	b.WriteString(statRow(r, [][]string{
		{"Login shell", "login_shell_retries"},
		{"Watch fallback", "watch_fallbacks"},
		{"Long runs", "long_run_warnings"},
		{"Dropped", "history_dropped"},
	}, warningColor))
	return b.String()
}

func statRow(r map[string]any, stats [][]string, color lipgloss.Color) string {
	boxes := make([]string, 0, len(stats))
	for _, s := range stats {
		boxes = append(boxes, statBox(s[0], str(r[s[1]]), color))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, boxes...)
}

func statBox(label, value string, color lipgloss.Color) string {
	if value == "" {
		value = "0"
	}
	content := lipgloss.JoinVertical(lipgloss.Center,
		StatValueStyle.Foreground(color).Render(value),
		StatLabelStyle.Render(label),
	)
	return StatBoxStyle.BorderForeground(color).Render(content)
}

// str formats a decoded JSON value; whole floats print as integers.
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	}
	return fmt.Sprint(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// RenderHistoryStatic renders a history view without a terminal program.
func RenderHistoryStatic(view string, data any) string {
	return lipgloss.NewStyle().Padding(1, 2).Render(NewHistoryModel(view, data).content())
}
