// Package monitor implements the long-run monitor: a reusable one-shot
// timer that flags a run exceeding a configured duration.
package monitor

import (
	"sync"
	"time"

	"github.com/pithecene-io/vigil/log"
)

// DefaultThreshold is used when no threshold is configured.
const DefaultThreshold = 60 * time.Second

// RunContext is the run captured when the monitor is armed.
type RunContext struct {
	ProcessID string
	// TotalSuites is the announced suite count; 0 when unknown.
	TotalSuites int
}

// Callback receives the captured run context and the exceeded threshold.
type Callback func(run RunContext, threshold time.Duration)

// Monitor is bound to one callback and reused across runs.
// A threshold <= 0 disables monitoring; Start becomes a no-op.
type Monitor struct {
	threshold time.Duration
	callback  Callback
	logger    *log.Logger

	mu    sync.Mutex
	timer *time.Timer
	// gen invalidates a timer that fired concurrently with Cancel or Start.
	gen uint64
}

// New creates a monitor. logger may be nil.
func New(threshold time.Duration, callback Callback, logger *log.Logger) *Monitor {
	return &Monitor{threshold: threshold, callback: callback, logger: logger}
}

// Enabled reports whether Start arms a timer.
func (m *Monitor) Enabled() bool {
	return m.threshold > 0
}

// Threshold returns the configured threshold.
func (m *Monitor) Threshold() time.Duration {
	return m.threshold
}

// Start arms the timer for run. Re-arming while armed cancels the previous
// timer first.
func (m *Monitor) Start(run RunContext) {
	if !m.Enabled() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.logger.Warn("long-run monitor re-armed while armed, overlapping runs?", map[string]any{
			"process_id": run.ProcessID,
		})
		m.timer.Stop()
		m.timer = nil
	}

	m.gen++
	gen := m.gen
	m.timer = time.AfterFunc(m.threshold, func() { m.fire(gen, run) })
}

func (m *Monitor) fire(gen uint64, run RunContext) {
	m.mu.Lock()
	if gen != m.gen || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	m.callback(run, m.threshold)
}

// Cancel disarms the monitor if armed. Cancel is idempotent.
func (m *Monitor) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer == nil {
		return
	}
	m.timer.Stop()
	m.timer = nil
	m.gen++
}

// Armed reports whether a timer is pending.
func (m *Monitor) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
