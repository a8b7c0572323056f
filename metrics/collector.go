// Package metrics provides per-session counters.
//
// The Collector accumulates counters during a session. It is a leaf package
// with no internal dependencies so every layer can record into it.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Admission
	RequestsScheduled  int64
	RequestsSuperseded int64
	RequestsRejected   int64
	RejectedByReason   map[string]int64

	// Process lifecycle
	ProcessesSpawned   int64
	ProcessesCompleted int64
	ProcessesStopped   int64
	ProcessesExecError int64
	SpawnFailures      int64

	// Policies
	LoginShellRetries int64
	WatchFallbacks    int64
	WatchCrashes      int64
	LongRunWarnings   int64

	// History / notifications
	HistoryWriteSuccess int64
	HistoryWriteFailure int64
	HistoryDropped      int64
	NotifySuccess       int64
	NotifyFailure       int64

	// Dimensions (informational, set at construction)
	SessionID      string
	StorageBackend string
	Adapter        string
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsScheduled  int64
	requestsSuperseded int64
	requestsRejected   int64
	rejectedByReason   map[string]int64

	processesSpawned   int64
	processesCompleted int64
	processesStopped   int64
	processesExecError int64
	spawnFailures      int64

	loginShellRetries int64
	watchFallbacks    int64
	watchCrashes      int64
	longRunWarnings   int64

	historyWriteSuccess int64
	historyWriteFailure int64
	historyDropped      int64
	notifySuccess       int64
	notifyFailure       int64

	sessionID      string
	storageBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// storageBackend and adapter may be empty when not configured.
func NewCollector(sessionID, storageBackend, adapter string) *Collector {
	return &Collector{
		rejectedByReason: make(map[string]int64),
		sessionID:        sessionID,
		storageBackend:   storageBackend,
		adapter:          adapter,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// --- Admission ---

// IncScheduled records an admitted request.
func (c *Collector) IncScheduled() {
	if c == nil {
		return
	}
	c.inc(&c.requestsScheduled)
}

// IncSuperseded records a tracked request dropped by dedup.
func (c *Collector) IncSuperseded() {
	if c == nil {
		return
	}
	c.inc(&c.requestsSuperseded)
}

// IncRejected records an admission failure with its reason label.
func (c *Collector) IncRejected(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsRejected++
	c.rejectedByReason[reason]++
	c.mu.Unlock()
}

// --- Process lifecycle ---

// IncSpawned records a spawned process.
func (c *Collector) IncSpawned() {
	if c == nil {
		return
	}
	c.inc(&c.processesSpawned)
}

// IncSpawnFailure records a backend spawn failure.
func (c *Collector) IncSpawnFailure() {
	if c == nil {
		return
	}
	c.inc(&c.spawnFailures)
}

// IncCompleted records a process that finished without error.
func (c *Collector) IncCompleted() {
	if c == nil {
		return
	}
	c.inc(&c.processesCompleted)
}

// IncStopped records a process stopped on demand.
func (c *Collector) IncStopped() {
	if c == nil {
		return
	}
	c.inc(&c.processesStopped)
}

// IncExecError records a process that ended with a reported error.
func (c *Collector) IncExecError() {
	if c == nil {
		return
	}
	c.inc(&c.processesExecError)
}

// --- Policies ---

// IncLoginShellRetry records a login-shell retry.
func (c *Collector) IncLoginShellRetry() {
	if c == nil {
		return
	}
	c.inc(&c.loginShellRetries)
}

// IncWatchFallback records a watch to watch-all fallback.
func (c *Collector) IncWatchFallback() {
	if c == nil {
		return
	}
	c.inc(&c.watchFallbacks)
}

// IncWatchCrash records an unexpected watch termination.
func (c *Collector) IncWatchCrash() {
	if c == nil {
		return
	}
	c.inc(&c.watchCrashes)
}

// IncLongRun records a long-run warning.
func (c *Collector) IncLongRun() {
	if c == nil {
		return
	}
	c.inc(&c.longRunWarnings)
}

// --- History / notifications ---
// History counters are per-call, not per-record. A single write of N events
// counts as 1 success.

// IncHistoryWriteSuccess records a successful history write.
func (c *Collector) IncHistoryWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.historyWriteSuccess)
}

// IncHistoryWriteFailure records a failed history write.
func (c *Collector) IncHistoryWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.historyWriteFailure)
}

// AddHistoryDropped records events dropped by a full history buffer.
func (c *Collector) AddHistoryDropped(n int64) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	c.historyDropped += n
	c.mu.Unlock()
}

// IncNotifySuccess records a delivered run-finished notification.
func (c *Collector) IncNotifySuccess() {
	if c == nil {
		return
	}
	c.inc(&c.notifySuccess)
}

// IncNotifyFailure records a failed run-finished notification.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.inc(&c.notifyFailure)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := make(map[string]int64, len(c.rejectedByReason))
	for k, v := range c.rejectedByReason {
		rejected[k] = v
	}

	return Snapshot{
		RequestsScheduled:  c.requestsScheduled,
		RequestsSuperseded: c.requestsSuperseded,
		RequestsRejected:   c.requestsRejected,
		RejectedByReason:   rejected,

		ProcessesSpawned:   c.processesSpawned,
		ProcessesCompleted: c.processesCompleted,
		ProcessesStopped:   c.processesStopped,
		ProcessesExecError: c.processesExecError,
		SpawnFailures:      c.spawnFailures,

		LoginShellRetries: c.loginShellRetries,
		WatchFallbacks:    c.watchFallbacks,
		WatchCrashes:      c.watchCrashes,
		LongRunWarnings:   c.longRunWarnings,

		HistoryWriteSuccess: c.historyWriteSuccess,
		HistoryWriteFailure: c.historyWriteFailure,
		HistoryDropped:      c.historyDropped,
		NotifySuccess:       c.notifySuccess,
		NotifyFailure:       c.notifyFailure,

		SessionID:      c.sessionID,
		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
	}
}
