package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/vigil/adapter"
	"github.com/pithecene-io/vigil/types"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		view string
		want bool
	}{
		{ViewTimeline, true},
		{ViewMetrics, true},
		{"history_sessions", false},
		{"list", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTUISupported(tt.view); got != tt.want {
			t.Errorf("IsTUISupported(%q) = %v, want %v", tt.view, got, tt.want)
		}
	}
	if err := Run("list", nil); err == nil {
		t.Error("expected error for unsupported view")
	}
}

func feed(t *testing.T, m LiveModel, events ...types.RunEvent) LiveModel {
	t.Helper()
	for _, e := range events {
		next, _ := m.Update(EventMsg(e))
		m = next.(LiveModel)
	}
	return m
}

func TestLiveModel_TracksProcesses(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	req := types.Request{Kind: types.KindByFile, TestFile: "src/a.test.js"}
	ev := func(typ types.RunEventType, d time.Duration) types.RunEvent {
		return types.RunEvent{Type: typ, ProcessID: "p-0123456789", Request: req, Timestamp: t0.Add(d)}
	}

	m := NewLiveModel(nil, LiveOptions{SessionID: "s-1", ModeLabel: "auto-run-watch"})
	m.now = func() time.Time { return t0.Add(time.Minute) }
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = next.(LiveModel)

	m = feed(t, m, ev(types.EventScheduled, 0))
	if got := m.rows["p-0123456789"].status; got != StatusQueued {
		t.Fatalf("status after scheduled = %s", got)
	}

	start := ev(types.EventStart, 0)
	data := ev(types.EventData, time.Second)
	data.Text = "PASS src/a.test.js\n"
	testErr := ev(types.EventTestError, time.Second)
	exit := ev(types.EventExit, 2*time.Second)
	exit.CodeKnown = true
	m = feed(t, m, start, data, testErr, exit)

	row := m.rows["p-0123456789"]
	if row.status != adapter.OutcomeSuccess || row.errors != 1 {
		t.Fatalf("row = %+v", row)
	}
	if row.elapsed(m.now()) != 2*time.Second {
		t.Errorf("elapsed = %s", row.elapsed(m.now()))
	}
	if len(m.lines) != 1 || !strings.Contains(m.lines[0], "PASS src/a.test.js") {
		t.Errorf("lines = %q", m.lines)
	}

	view := m.View()
	for _, want := range []string{"s-1", "auto-run-watch", "p-012345", "src/a.test.js", "success", "1 failing"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestLiveModel_ScrollbackBounded(t *testing.T) {
	m := NewLiveModel(nil, LiveOptions{MaxLines: 3})
	for i := 0; i < 5; i++ {
		m = feed(t, m, types.RunEvent{Type: types.EventData, ProcessID: "p", Text: string(rune('a' + i))})
	}
	if len(m.lines) != 3 || !strings.HasSuffix(m.lines[0], "c") {
		t.Errorf("lines = %q", m.lines)
	}
}

func TestLiveModel_Keys(t *testing.T) {
	ran := make(chan struct{}, 1)
	m := NewLiveModel(nil, LiveOptions{Actions: Actions{
		RunAll:        func() { ran <- struct{}{} },
		ToggleAutoRun: func() string { return "auto-run-off" },
	}})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	if cmd == nil {
		t.Fatal("run-all key produced no command")
	}
	cmd()
	select {
	case <-ran:
	default:
		t.Error("run-all action not invoked")
	}

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	next, _ := m.Update(cmd())
	if got := next.(LiveModel).mode; got != "auto-run-off" {
		t.Errorf("mode = %q", got)
	}

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if !next.(LiveModel).quitting || next.View() != "" {
		t.Error("q should quit")
	}
}

func TestLiveModel_StreamClosed(t *testing.T) {
	ch := make(chan types.RunEvent)
	close(ch)
	m := NewLiveModel(ch, LiveOptions{})
	msg := waitForEvent(ch)()
	next, _ := m.Update(msg)
	if !strings.Contains(next.View(), "session closed") {
		t.Error("closed stream not shown")
	}
}

func TestRenderHistoryStatic(t *testing.T) {
	records := []map[string]any{
		{"ts": "2026-01-02T03:04:05Z", "process_id": "p1", "event_type": "start", "request_kind": "all-tests"},
		{"ts": "2026-01-02T03:04:06Z", "process_id": "p1", "event_type": "exit", "request_kind": "all-tests", "exit_code": float64(1)},
	}
	out := RenderHistoryStatic(ViewTimeline, records)
	if !strings.Contains(out, "Run Timeline") || !strings.Contains(out, "all-tests") || !strings.Contains(out, "exit") {
		t.Errorf("timeline output:\n%s", out)
	}

	out = RenderHistoryStatic(ViewMetrics, map[string]any{"session_id": "s-1", "requests_scheduled": float64(7)})
	if !strings.Contains(out, "s-1") || !strings.Contains(out, "7") || !strings.Contains(out, "Scheduled") {
		t.Errorf("metrics output:\n%s", out)
	}

	if out := RenderHistoryStatic(ViewMetrics, "bogus"); !strings.Contains(out, "Invalid data type") {
		t.Errorf("bad data output: %s", out)
	}
}
