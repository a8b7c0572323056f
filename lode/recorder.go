package lode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/types"
)

// Mode is the recorder's persistence mode.
type Mode string

const (
	// ModeStrict writes every event as it arrives.
	ModeStrict Mode = "strict"
	// ModeBuffered batches events and flushes on exit, when full and on
	// Close. Data events may be dropped when the buffer is full.
	ModeBuffered Mode = "buffered"
)

// ErrInvalidMode is returned for an unknown Mode.
var ErrInvalidMode = errors.New("invalid history mode")

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Mode Mode
	// MaxEvents bounds the buffer in buffered mode. Default 1000.
	MaxEvents int
	// WriteTimeout bounds each write. Default 10s.
	WriteTimeout time.Duration
	Metrics      *metrics.Collector
	Logger       *log.Logger
}

// Stats counts what the recorder did with the events it received.
type Stats struct {
	EventsReceived  int64
	EventsPersisted int64
	EventsDropped   int64
	Flushes         int64
	WriteErrors     int64
}

// Recorder persists Run Events from the bus into the history dataset.
// Handle is a bus.Handler; history failures are logged and counted and
// never reach the session.
type Recorder struct {
	client    Client
	files     FileWriter
	sessionID string
	opts      RecorderOptions

	mu     sync.Mutex
	buf    []EventRecord
	stats  Stats
	closed bool
}

// NewRecorder creates a recorder writing through client. files may be nil.
func NewRecorder(client Client, files FileWriter, sessionID string, opts RecorderOptions) (*Recorder, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeBuffered
	case ModeStrict, ModeBuffered:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMode, opts.Mode)
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = 1000
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Recorder{
		client:    client,
		files:     files,
		sessionID: sessionID,
		opts:      opts,
		buf:       make([]EventRecord, 0, min(opts.MaxEvents, 256)),
	}, nil
}

// Handle records one event.
func (r *Recorder) Handle(e types.RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.stats.EventsReceived++
	rec := NewEventRecord(r.sessionID, e)

	if r.opts.Mode == ModeStrict {
		r.writeLocked([]EventRecord{rec})
		return
	}

	if len(r.buf) >= r.opts.MaxEvents {
		if e.Type == types.EventData {
			r.dropLocked(1)
			return
		}
		r.flushLocked()
		if len(r.buf) >= r.opts.MaxEvents && !r.evictDataLocked() {
			r.opts.Logger.Warn("history buffer full, writing lifecycle event past limit", map[string]any{
				"process_id": e.ProcessID,
				"event":      string(e.Type),
			})
		}
	}
	r.buf = append(r.buf, rec)

	if e.Type == types.EventExit {
		r.flushLocked()
	}
}

// Flush writes buffered events. It returns the write error, if any; the
// buffer is kept on failure.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

// PutResults stores a process's raw results document beside its events.
func (r *Recorder) PutResults(ctx context.Context, processID string, data []byte) error {
	if r.files == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.WriteTimeout)
	defer cancel()
	return r.files.PutFile(ctx, processID, ResultsFile, data)
}

// Close flushes, writes the session metrics record and closes the client.
// Events handled after Close are ignored.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	err := r.flushLocked()
	r.mu.Unlock()

	if r.opts.Metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
		record := NewMetricsRecord(r.opts.Metrics.Snapshot(), time.Now())
		err = multierr.Append(err, r.client.WriteMetrics(ctx, record))
		cancel()
	}
	return multierr.Append(err, r.client.Close())
}

// Stats returns a copy of the recorder's counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Recorder) flushLocked() error {
	if len(r.buf) == 0 {
		return nil
	}
	if err := r.writeLocked(r.buf); err != nil {
		return err
	}
	r.stats.Flushes++
	r.buf = r.buf[:0]
	return nil
}

func (r *Recorder) writeLocked(records []EventRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()
	if err := r.client.WriteEvents(ctx, records); err != nil {
		r.stats.WriteErrors++
		r.opts.Logger.Error("history write failed", map[string]any{
			"records": len(records),
			"error":   err.Error(),
		})
		return err
	}
	r.stats.EventsPersisted += int64(len(records))
	return nil
}

// evictDataLocked drops the oldest buffered data event to make room.
func (r *Recorder) evictDataLocked() bool {
	for i, rec := range r.buf {
		if rec.EventType == string(types.EventData) {
			r.buf = append(r.buf[:i], r.buf[i+1:]...)
			r.dropLocked(1)
			return true
		}
	}
	return false
}

func (r *Recorder) dropLocked(n int64) {
	r.stats.EventsDropped += n
	r.opts.Metrics.AddHistoryDropped(n)
}
