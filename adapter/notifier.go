package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/types"
)

// Notifier turns exit events from the bus into adapter publishes.
// Handle is a bus.Handler and must be subscribed to all events so that
// durations can be measured from the scheduled event.
type Notifier struct {
	adapter   Adapter
	sessionID string
	timeout   time.Duration
	collector *metrics.Collector
	logger    *log.Logger

	mu      sync.Mutex
	started map[string]time.Time
}

// NewNotifier creates a notifier. timeout bounds each publish including
// retries; zero means 30s.
func NewNotifier(a Adapter, sessionID string, timeout time.Duration, collector *metrics.Collector, logger *log.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Notifier{
		adapter:   a,
		sessionID: sessionID,
		timeout:   timeout,
		collector: collector,
		logger:    logger,
		started:   make(map[string]time.Time),
	}
}

// Handle processes one event. Retried exits are not published; the
// replacement process reports the outcome.
func (n *Notifier) Handle(e types.RunEvent) {
	switch e.Type {
	case types.EventScheduled:
		n.mu.Lock()
		n.started[e.ProcessID] = e.Timestamp
		n.mu.Unlock()
		return
	case types.EventExit:
	default:
		return
	}

	n.mu.Lock()
	started := n.started[e.ProcessID]
	delete(n.started, e.ProcessID)
	n.mu.Unlock()

	if e.Retried {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()
	if err := n.adapter.Publish(ctx, NewRunFinishedEvent(n.sessionID, e, started)); err != nil {
		n.collector.IncNotifyFailure()
		n.logger.Warn("run notification failed", map[string]any{
			"process_id": e.ProcessID,
			"error":      err.Error(),
		})
		return
	}
	n.collector.IncNotifySuccess()
}

// Close closes the adapter.
func (n *Notifier) Close() error {
	return n.adapter.Close()
}
