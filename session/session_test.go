package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/runmode"
	"github.com/pithecene-io/vigil/runtime/runtimetest"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

type eventLog struct {
	mu     sync.Mutex
	events []types.RunEvent
}

func (l *eventLog) handle(e types.RunEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) types(processID string) []types.RunEventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []types.RunEventType
	for _, e := range l.events {
		if e.ProcessID == processID {
			out = append(out, e.Type)
		}
	}
	return out
}

type fixture struct {
	s       *Session
	backend *runtimetest.Backend
	metrics *metrics.Collector
	events  *eventLog
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		backend: runtimetest.NewBackend(),
		metrics: metrics.NewCollector("s-test", "", ""),
		events:  &eventLog{},
	}
	cfg := Config{
		Backend:          f.backend,
		ID:               "s-test",
		RunMode:          runmode.Config{Type: runmode.TypeOnDemand},
		LongRunThreshold: -1,
		Logger:           log.Nop(),
		Metrics:          f.metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	f.s = s
	s.Bus().SubscribeAll(f.events.handle)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return f
}

func (f *fixture) next(t *testing.T) *runtimetest.Process {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	sp, err := f.backend.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

func (f *fixture) noSpawn(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	if sp, err := f.backend.Next(ctx); err == nil {
		t.Fatalf("unexpected spawn of %s", sp.Spec.Request)
	}
}

func waitDone(t *testing.T, p *scheduler.Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("process %s did not finish", p.ID())
	}
}

func TestIsTestFile(t *testing.T) {
	tests := map[string]bool{
		"/repo/src/a.test.js":          true,
		"/repo/src/a.spec.tsx":         true,
		"/repo/src/__tests__/thing.js": true,
		"/repo/src/a.mjs":              false,
		"/repo/src/contest.js":         false,
	}
	for path, want := range tests {
		if got := IsTestFile(path); got != want {
			t.Errorf("IsTestFile(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without backend")
	}
	_, err := New(Config{Backend: runtimetest.NewBackend(), RunMode: runmode.Config{Type: "hourly"}})
	if !errors.Is(err, runmode.ErrInvalidConfig) {
		t.Errorf("invalid run mode error = %v", err)
	}
	s, err := New(Config{Backend: runtimetest.NewBackend()})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID() == "" || s.Mode().Label() != runmode.LabelWatch {
		t.Errorf("defaults not applied: id=%q label=%s", s.ID(), s.Mode().Label())
	}
}

func TestRunAllTests_ResultsReachHook(t *testing.T) {
	var got struct {
		sync.Mutex
		id string
	}
	f := newFixture(t, func(c *Config) {
		c.OnResults = func(processID string, _ *types.TotalResults) {
			got.Lock()
			got.id = processID
			got.Unlock()
		}
	})

	p, err := f.s.RunAllTests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	sp := f.next(t)
	sp.StdErr("onRunStart: numTotalTestSuites: 1\n")
	sp.StdErr("onRunComplete: numFailedTests: 0\n")
	sp.JSON(&types.TotalResults{Success: true, NumTotalTests: 3})
	sp.Close(0)
	waitDone(t, p)

	if r := f.s.LatestResults(); r == nil || r.NumTotalTests != 3 {
		t.Fatalf("LatestResults = %+v", r)
	}
	got.Lock()
	defer got.Unlock()
	if got.id != p.ID() {
		t.Errorf("OnResults process = %q, want %q", got.id, p.ID())
	}
}

func TestRunFile(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RunMode.Coverage = true })

	first, err := f.s.RunFile(t.Context(), "/repo/src/a.js", "")
	if err != nil {
		t.Fatal(err)
	}
	sp := f.next(t)
	req := sp.Spec.Request
	if req.Kind != types.KindByFile || !req.NotTestFile || !req.Coverage {
		t.Errorf("source file request = %+v", req)
	}
	sp.Close(0)
	waitDone(t, first)

	if _, err := f.s.RunFile(t.Context(), "/repo/src/a.test.js", "adds"); err != nil {
		t.Fatal(err)
	}
	req = f.next(t).Spec.Request
	if req.Kind != types.KindByFileTest || req.TestName != "adds" {
		t.Errorf("named test request = %+v", req)
	}
}

func TestLoginShellUpgradeIsSessionWide(t *testing.T) {
	f := newFixture(t, nil)

	p, err := f.s.RunAllTests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	sp := f.next(t)
	sp.StdErr("/bin/sh: 1: npx: command not found\n")
	sp.Close(127)
	waitDone(t, p)

	if !f.s.UsesLoginShell() {
		t.Fatal("login shell not enabled")
	}
	retry := f.next(t)
	if !retry.Spec.LoginShell || retry.Spec.Request.ParentProcessID != p.ID() {
		t.Fatalf("retry spec = %+v", retry.Spec)
	}
	retry.Close(0)

	if _, err := f.s.RunFile(t.Context(), "/a.test.js", ""); err != nil {
		t.Fatal(err)
	}
	if !f.next(t).Spec.LoginShell {
		t.Error("later processes should keep the login shell")
	}
}

func TestListTestFiles(t *testing.T) {
	f := newFixture(t, nil)

	type result struct {
		files []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		files, err := f.s.ListTestFiles(t.Context())
		done <- result{files, err}
	}()

	sp := f.next(t)
	sp.Output(`["/b.test.js","/a.test.js"]`)
	sp.Close(0)

	select {
	case r := <-done:
		if r.err != nil || !reflect.DeepEqual(r.files, []string{"/b.test.js", "/a.test.js"}) {
			t.Fatalf("ListTestFiles = %v, %v", r.files, r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListTestFiles did not return")
	}
}

func TestListTestFiles_Canceled(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() {
		_, err := f.s.ListTestFiles(ctx)
		done <- err
	}()

	sp := f.next(t)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListTestFiles ignored cancellation")
	}
	if !sp.Stopped() {
		t.Error("list process not stopped")
	}
}

func TestStart(t *testing.T) {
	// Each spawned process is closed before the next is expected: startup
	// requests share the blocking queue.
	tests := []struct {
		name  string
		mode  runmode.Config
		kinds []types.RequestKind
	}{
		{"watch", runmode.Config{Type: runmode.TypeWatch}, []types.RequestKind{types.KindWatchTests}},
		{"legacy startup", runmode.Config{Type: runmode.TypeWatch, RunAllTestsOnStartup: true},
			[]types.RequestKind{types.KindAllTests, types.KindWatchTests}},
		{"on-save", runmode.Config{Type: runmode.TypeOnSave}, nil},
		{"off", runmode.Config{Type: runmode.TypeOnDemand}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(c *Config) { c.RunMode = tt.mode })
			if err := f.s.Start(t.Context()); err != nil {
				t.Fatal(err)
			}
			for i, kind := range tt.kinds {
				sp := f.next(t)
				if got := sp.Spec.Request.Kind; got != kind {
					t.Errorf("spawned %s, want %s", got, kind)
				}
				if i < len(tt.kinds)-1 {
					f.noSpawn(t)
					sp.Close(0)
				}
			}
			f.noSpawn(t)
		})
	}
}

func TestDeferredStart(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RunMode = runmode.Config{Type: runmode.TypeWatch, Deferred: true}
	})
	if err := f.s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	f.noSpawn(t)
	if _, err := f.s.OnFileSaved(t.Context(), "/a.test.js"); !errors.Is(err, ErrDeferred) {
		t.Errorf("OnFileSaved while deferred = %v", err)
	}

	if err := f.s.Undefer(t.Context()); err != nil {
		t.Fatal(err)
	}
	if got := f.next(t).Spec.Request.Kind; got != types.KindWatchTests {
		t.Errorf("after undefer spawned %s", got)
	}
	if err := f.s.Undefer(t.Context()); err != nil {
		t.Fatal(err)
	}
	f.noSpawn(t)
}

func TestOnFileSaved(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RunMode = runmode.Config{Type: runmode.TypeOnSave, TestFileOnly: true}
	})

	p, err := f.s.OnFileSaved(t.Context(), "/repo/src/a.js")
	if err != nil || p != nil {
		t.Fatalf("source save in test-file-only mode = %v, %v", p, err)
	}
	p, err = f.s.OnFileSaved(t.Context(), "/repo/src/a.test.js")
	if err != nil || p == nil {
		t.Fatalf("test save = %v, %v", p, err)
	}
	req := f.next(t).Spec.Request
	if req.Kind != types.KindByFile || req.TestFile != "/repo/src/a.test.js" || req.NotTestFile {
		t.Errorf("request = %+v", req)
	}

	// Off mode ignores saves.
	if _, err := f.s.ToggleAutoRun(t.Context()); err != nil {
		t.Fatal(err)
	}
	if p, _ := f.s.OnFileSaved(t.Context(), "/repo/src/a.test.js"); p != nil {
		t.Error("save triggered a run with auto-run off")
	}
}

func TestOnFileSaved_Throttled(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RunMode = runmode.Config{Type: runmode.TypeOnSave}
		c.SaveRate = 0.001
		c.SaveBurst = 1
	})
	if p, _ := f.s.OnFileSaved(t.Context(), "/a.test.js"); p == nil {
		t.Fatal("first save should run")
	}
	if p, _ := f.s.OnFileSaved(t.Context(), "/b.test.js"); p != nil {
		t.Error("second save should be throttled")
	}
}

func TestToggleAutoRun_Watch(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RunMode = runmode.Config{Type: runmode.TypeWatch} })
	if err := f.s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	watch := f.next(t)

	label, err := f.s.ToggleAutoRun(t.Context())
	if err != nil || label != runmode.LabelOff {
		t.Fatalf("toggle off = %s, %v", label, err)
	}
	select {
	case <-watch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watch process not stopped when auto-run turned off")
	}

	label, err = f.s.ToggleAutoRun(t.Context())
	if err != nil || label != runmode.LabelWatch {
		t.Fatalf("toggle on = %s, %v", label, err)
	}
	if got := f.next(t).Spec.Request.Kind; got != types.KindWatchTests {
		t.Errorf("toggle on spawned %s", got)
	}
}

func TestWatchFallbackThroughSession(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RunMode = runmode.Config{Type: runmode.TypeWatch} })
	if err := f.s.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	watch := f.next(t)
	watch.StdErr("--watch is not supported without git/hg, please use --watchAll\n")

	replacement := f.next(t)
	if replacement.Spec.Request.Kind != types.KindWatchAllTests {
		t.Fatalf("fallback kind = %s", replacement.Spec.Request.Kind)
	}
	if !watch.Stopped() {
		t.Error("original watch process not stopped")
	}
	if f.metrics.Snapshot().WatchFallbacks != 1 {
		t.Error("fallback not counted")
	}
}

func TestSnapshotUpdateConfirmation(t *testing.T) {
	var mu sync.Mutex
	var offered []types.Request
	f := newFixture(t, func(c *Config) {
		c.SnapshotUpdates = true
		c.ConfirmSnapshotUpdate = func(req types.Request) bool {
			mu.Lock()
			defer mu.Unlock()
			offered = append(offered, req)
			return true
		}
	})

	p, err := f.s.RunFile(t.Context(), "/a.test.js", "")
	if err != nil {
		t.Fatal(err)
	}
	sp := f.next(t)
	sp.StdErr("onRunStart: numTotalTestSuites: 1\n")
	sp.StdErr("1 snapshot failed from 1 test suite\n")
	sp.StdErr("onRunComplete: numFailedTests: 0\n")
	sp.Close(1)
	waitDone(t, p)

	update := f.next(t)
	if update.Spec.Request.Kind != types.KindUpdateSnapshot || update.Spec.Request.Base == nil {
		t.Fatalf("follow-up = %+v", update.Spec.Request)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(offered) != 1 {
		t.Errorf("offered %d updates, want 1", len(offered))
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil)
	p, err := f.s.RunAllTests(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	f.next(t)
	if err := f.s.Close(t.Context()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)
	if got := f.events.types(p.ID()); len(got) == 0 || got[len(got)-1] != types.EventExit {
		t.Errorf("events = %v, want trailing exit", got)
	}
	if _, err := f.s.RunAllTests(t.Context()); !errors.Is(err, scheduler.ErrSchedulerClosed) {
		t.Errorf("run after close = %v", err)
	}
}
