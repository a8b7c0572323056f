package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/vigil/adapter"
	"github.com/pithecene-io/vigil/types"
)

// DefaultMaxLines bounds the output pane's scrollback.
const DefaultMaxLines = 500

// maxRows bounds the process table.
const maxRows = 8

// Actions are the session operations bound to keys. Nil actions are
// unbound.
type Actions struct {
	RunAll        func()
	ToggleAutoRun func() string
}

// LiveOptions configures the live timeline.
type LiveOptions struct {
	SessionID string
	ModeLabel string
	Actions   Actions
	MaxLines  int
}

// EventMsg delivers one Run Event to the model.
type EventMsg types.RunEvent

type streamClosedMsg struct{}

type modeMsg string

type processRow struct {
	id       string
	kind     types.RequestKind
	target   string
	status   string
	started  time.Time
	finished time.Time
	suites   int
	errors   int
	longRun  bool
}

func (r *processRow) elapsed(now time.Time) time.Duration {
	switch {
	case r.started.IsZero():
		return 0
	case r.finished.IsZero():
		return now.Sub(r.started)
	}
	return r.finished.Sub(r.started)
}

// LiveModel shows every process of a session and a scrolling pane of
// their output, fed from a Run Event channel.
type LiveModel struct {
	opts     LiveOptions
	events   <-chan types.RunEvent
	order    []string
	rows     map[string]*processRow
	lines    []string
	viewport viewport.Model
	spinner  spinner.Model
	mode     string
	width    int
	height   int
	closed   bool
	quitting bool
	now      func() time.Time
}

// NewLiveModel creates a model reading events until the channel closes.
func NewLiveModel(events <-chan types.RunEvent, opts LiveOptions) LiveModel {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = WarningStyle
	return LiveModel{
		opts:     opts,
		events:   events,
		rows:     make(map[string]*processRow),
		viewport: viewport.New(80, 10),
		spinner:  sp,
		mode:     opts.ModeLabel,
		now:      time.Now,
	}
}

func waitForEvent(ch <-chan types.RunEvent) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return EventMsg(e)
	}
}

// Init implements tea.Model.
func (m LiveModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model.
func (m LiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case EventMsg:
		atBottom := m.viewport.AtBottom()
		m.apply(types.RunEvent(msg))
		m.layout()
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		if atBottom {
			m.viewport.GotoBottom()
		}
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.closed = true
		return m, nil

	case modeMsg:
		m.mode = string(msg)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.RunAll) && m.opts.Actions.RunAll != nil:
			run := m.opts.Actions.RunAll
			return m, func() tea.Msg { run(); return nil }
		case key.Matches(msg, keys.Toggle) && m.opts.Actions.ToggleAutoRun != nil:
			toggle := m.opts.Actions.ToggleAutoRun
			return m, func() tea.Msg { return modeMsg(toggle()) }
		case key.Matches(msg, keys.Clear):
			m.lines = m.lines[:0]
			m.viewport.SetContent("")
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *LiveModel) apply(e types.RunEvent) {
	row, ok := m.rows[e.ProcessID]
	if !ok {
		row = &processRow{
			id:     e.ProcessID,
			kind:   e.Request.Kind,
			target: target(e.Request),
			status: StatusQueued,
		}
		m.rows[e.ProcessID] = row
		m.order = append(m.order, e.ProcessID)
	}

	switch e.Type {
	case types.EventStart:
		row.status = StatusRunning
		row.started = e.Timestamp
	case types.EventData:
		line := fmt.Sprintf("%s %s", MutedStyle.Render(shortID(e.ProcessID)), strings.TrimRight(e.Text, "\n"))
		if e.IsError {
			line = ErrorStyle.Render(line)
		}
		m.appendLine(line)
	case types.EventTestError:
		row.errors++
	case types.EventLongRun:
		row.longRun = true
		m.appendLine(WarningStyle.Render(fmt.Sprintf("%s still running after %s", shortID(e.ProcessID), e.Threshold)))
	case types.EventEnd:
		if e.TotalSuites > 0 {
			row.suites = e.TotalSuites
		}
		if e.HasError() && !e.ErrorAlreadyReported {
			m.appendLine(ErrorStyle.Render(fmt.Sprintf("%s %s", shortID(e.ProcessID), e.Error)))
		}
	case types.EventExit:
		row.status = adapter.Outcome(e)
		row.finished = e.Timestamp
		if row.started.IsZero() {
			row.started = e.Timestamp
		}
	}
	if e.TotalSuites > 0 {
		row.suites = e.TotalSuites
	}
}

func (m *LiveModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if over := len(m.lines) - m.opts.MaxLines; over > 0 {
		m.lines = append(m.lines[:0], m.lines[over:]...)
	}
}

// layout gives the output pane whatever the header and table leave.
func (m *LiveModel) layout() {
	if m.width == 0 {
		return
	}
	used := 2 + 1 + min(len(m.order), maxRows) + 2 + 2
	m.viewport.Width = max(m.width-4, 10)
	m.viewport.Height = max(m.height-used, 3)
}

// View implements tea.Model.
func (m LiveModel) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	header := TitleStyle.Render("vigil") + "  " +
		LabelStyle.UnsetWidth().Render("session ") + ValueStyle.Render(m.opts.SessionID) + "  " +
		LabelStyle.UnsetWidth().Render("mode ") + ValueStyle.Render(m.mode)
	if m.closed {
		header += "  " + MutedStyle.Render("(session closed)")
	}
	b.WriteString(header)
	b.WriteString("\n\n")
	b.WriteString(m.renderTable())
	b.WriteString("\n")
	b.WriteString(BoxStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("r run all • a toggle auto-run • c clear • ↑/↓ scroll • q quit"))
	return b.String()
}

func (m LiveModel) renderTable() string {
	if len(m.order) == 0 {
		return MutedStyle.Render("no processes yet")
	}
	ids := m.order
	if len(ids) > maxRows {
		ids = ids[len(ids)-maxRows:]
	}
	now := m.now()
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		row := m.rows[id]
		icon := " "
		if row.status == StatusRunning {
			icon = m.spinner.View()
		}
		status := StatusStyle(row.status).Render(fmt.Sprintf("%-9s", row.status))
		detail := ""
		if row.suites > 0 {
			detail += fmt.Sprintf(" %d suites", row.suites)
		}
		if row.errors > 0 {
			detail += ErrorStyle.Render(fmt.Sprintf(" %d failing", row.errors))
		}
		if row.longRun {
			detail += WarningStyle.Render(" long-run")
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			icon, " ", status, " ",
			MutedStyle.Render(shortID(id)), " ",
			fmt.Sprintf("%-16s", row.kind), " ",
			row.target, " ",
			MutedStyle.Render(row.elapsed(now).Round(100*time.Millisecond).String()),
			detail,
		))
	}
	return strings.Join(lines, "\n")
}

func target(req types.Request) string {
	switch {
	case req.TestFile != "" && req.TestName != "":
		return fmt.Sprintf("%s › %s", req.TestFile, req.TestName)
	case req.TestFile != "":
		return req.TestFile
	case req.FilePattern != "":
		return req.FilePattern
	case req.Base != nil:
		return target(*req.Base)
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type keyMap struct {
	Quit   key.Binding
	RunAll key.Binding
	Toggle key.Binding
	Clear  key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	RunAll: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "run all tests"),
	),
	Toggle: key.NewBinding(
		key.WithKeys("a"),
		key.WithHelp("a", "toggle auto-run"),
	),
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear output"),
	),
}

// RunLive runs the live timeline until the user quits.
func RunLive(events <-chan types.RunEvent, opts LiveOptions) error {
	p := tea.NewProgram(NewLiveModel(events, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
