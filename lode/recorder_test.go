package lode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/types"
)

type fakeClient struct {
	mu      sync.Mutex
	err     error
	batches [][]EventRecord
	metrics []MetricsRecord
	closed  bool
}

func (c *fakeClient) WriteEvents(_ context.Context, records []EventRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.batches = append(c.batches, append([]EventRecord(nil), records...))
	return nil
}

func (c *fakeClient) WriteMetrics(_ context.Context, record MetricsRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.metrics = append(c.metrics, record)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeClient) written() []EventRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []EventRecord
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func newRecorder(t *testing.T, client Client, opts RecorderOptions) *Recorder {
	t.Helper()
	r, err := NewRecorder(client, nil, "s-1", opts)
	if err != nil {
		t.Fatalf("NewRecorder failed: %v", err)
	}
	return r
}

func TestNewRecorder_InvalidMode(t *testing.T) {
	if _, err := NewRecorder(&fakeClient{}, nil, "s", RecorderOptions{Mode: "eventual"}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecorder_StrictWritesEachEvent(t *testing.T) {
	client := &fakeClient{}
	r := newRecorder(t, client, RecorderOptions{Mode: ModeStrict})

	now := time.Now()
	r.Handle(event(types.EventScheduled, "p-1", now))
	r.Handle(event(types.EventStart, "p-1", now))

	if len(client.batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(client.batches))
	}
	if s := r.Stats(); s.EventsPersisted != 2 || s.EventsReceived != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestRecorder_BufferedFlushesOnExit(t *testing.T) {
	client := &fakeClient{}
	r := newRecorder(t, client, RecorderOptions{Mode: ModeBuffered})

	now := time.Now()
	for _, typ := range []types.RunEventType{types.EventScheduled, types.EventStart, types.EventData, types.EventEnd} {
		r.Handle(event(typ, "p-1", now))
	}
	if len(client.written()) != 0 {
		t.Fatal("buffered mode wrote before exit")
	}

	r.Handle(event(types.EventExit, "p-1", now))
	got := client.written()
	if len(got) != 5 || got[4].EventType != string(types.EventExit) {
		t.Fatalf("written = %+v", got)
	}
	if len(client.batches) != 1 {
		t.Errorf("batches = %d, want one flush", len(client.batches))
	}
}

func TestRecorder_BufferedDropsDataWhenFull(t *testing.T) {
	client := &fakeClient{}
	collector := metrics.NewCollector("s-1", "memory", "")
	r := newRecorder(t, client, RecorderOptions{Mode: ModeBuffered, MaxEvents: 2, Metrics: collector})

	now := time.Now()
	r.Handle(event(types.EventScheduled, "p-1", now))
	r.Handle(event(types.EventStart, "p-1", now))
	r.Handle(event(types.EventData, "p-1", now))
	r.Handle(event(types.EventData, "p-1", now))

	s := r.Stats()
	if s.EventsDropped != 2 {
		t.Fatalf("dropped = %d, want 2", s.EventsDropped)
	}
	if collector.Snapshot().HistoryDropped != 2 {
		t.Error("drops not recorded in metrics")
	}

	// A lifecycle event is never dropped: the full buffer is flushed first.
	r.Handle(event(types.EventEnd, "p-1", now))
	if got := client.written(); len(got) != 2 {
		t.Fatalf("written before end = %d, want 2", len(got))
	}
	r.Handle(event(types.EventExit, "p-1", now))
	if got := client.written(); len(got) != 4 {
		t.Fatalf("written = %d, want 4", len(got))
	}
}

func TestRecorder_FailedFlushKeepsBuffer(t *testing.T) {
	client := &fakeClient{}
	client.setErr(errors.New("disk full"))
	r := newRecorder(t, client, RecorderOptions{Mode: ModeBuffered})

	now := time.Now()
	r.Handle(event(types.EventScheduled, "p-1", now))
	r.Handle(event(types.EventExit, "p-1", now))
	if s := r.Stats(); s.WriteErrors != 1 || s.EventsPersisted != 0 {
		t.Fatalf("stats = %+v", s)
	}

	client.setErr(nil)
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := client.written(); len(got) != 2 {
		t.Errorf("written after retry = %d, want 2", len(got))
	}
}

func TestRecorder_CloseWritesMetrics(t *testing.T) {
	client := &fakeClient{}
	collector := metrics.NewCollector("s-1", "memory", "")
	collector.IncScheduled()
	r := newRecorder(t, client, RecorderOptions{Metrics: collector})

	r.Handle(event(types.EventScheduled, "p-1", time.Now()))
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(client.written()) != 1 {
		t.Error("Close did not flush")
	}
	if len(client.metrics) != 1 || client.metrics[0].RequestsScheduled != 1 {
		t.Errorf("metrics = %+v", client.metrics)
	}
	if !client.closed {
		t.Error("client not closed")
	}

	r.Handle(event(types.EventStart, "p-1", time.Now()))
	if r.Stats().EventsReceived != 1 {
		t.Error("event handled after Close")
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestRecorder_PutResults(t *testing.T) {
	files := NewStubFileWriter()
	r, err := NewRecorder(&fakeClient{}, files, "s-1", RecorderOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.PutResults(context.Background(), "p-1", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	got := files.Recorded()
	if len(got) != 1 || got[0].ProcessID != "p-1" || got[0].Filename != ResultsFile {
		t.Errorf("files = %+v", got)
	}

	noFiles := newRecorder(t, &fakeClient{}, RecorderOptions{})
	if err := noFiles.PutResults(context.Background(), "p-1", nil); err != nil {
		t.Errorf("PutResults without writer = %v", err)
	}
}
