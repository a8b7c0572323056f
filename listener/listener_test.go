package listener

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/runtime/runtimetest"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []types.RunEvent
}

func (r *eventRecorder) Publish(e types.RunEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) forProcess(id string) []types.RunEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.RunEvent
	for _, e := range r.events {
		if e.ProcessID == id {
			out = append(out, e)
		}
	}
	return out
}

func eventTypes(events []types.RunEvent) []types.RunEventType {
	out := make([]types.RunEventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func lastEvent(t *testing.T, events []types.RunEvent) types.RunEvent {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	return events[len(events)-1]
}

func countType(events []types.RunEvent, typ types.RunEventType) int {
	n := 0
	for _, e := range events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type shellState struct{ login atomic.Bool }

func (s *shellState) UseLoginShell() bool { return s.login.Load() }

type harness struct {
	sched   *scheduler.Scheduler
	backend *runtimetest.Backend
	rec     *eventRecorder
	shell   *shellState
	metrics *metrics.Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend: runtimetest.NewBackend(),
		rec:     &eventRecorder{},
		shell:   &shellState{},
		metrics: metrics.NewCollector("test", "", ""),
	}
	var seq atomic.Int64
	h.sched = scheduler.New(scheduler.Config{
		Backend:    h.backend,
		Publisher:  h.rec,
		LoginShell: h.shell.UseLoginShell,
		Metrics:    h.metrics,
		NewID: func(kind types.RequestKind) string {
			return fmt.Sprintf("%s-%d", kind, seq.Add(1))
		},
	})
	return h
}

// hooks returns session-like side channels backed by the harness.
func (h *harness) hooks() Hooks {
	return Hooks{
		Shell:   h.shell,
		Metrics: h.metrics,
		RetryLoginShell: func(_ *scheduler.Process, req types.Request, next scheduler.Listener) {
			h.shell.login.Store(true)
			h.sched.ScheduleProcess(req, next)
		},
		WatchFallback: func(p *scheduler.Process, req types.Request, next scheduler.Listener) {
			h.sched.Stop(context.Background(), p)
			h.sched.ScheduleProcess(req, next)
		},
	}
}

func (h *harness) start(t *testing.T, req types.Request, l scheduler.Listener) (*scheduler.Process, *runtimetest.Process) {
	t.Helper()
	p, err := h.sched.Admit(t.Context(), req, l)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	return p, h.next(t)
}

func (h *harness) next(t *testing.T) *runtimetest.Process {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	sp, err := h.backend.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return sp
}

func waitDone(t *testing.T, p *scheduler.Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("process %s did not finish", p.ID())
	}
}
