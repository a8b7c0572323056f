// Package bus provides the per-session Run-Event bus.
//
// Every subscriber owns a FIFO mailbox drained by its own goroutine, so a
// subscriber observes events in publish order and a slow subscriber never
// blocks the publisher or other subscribers. Events are value types; a
// handler receives its own copy.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/types"
)

// Handler receives one event.
type Handler func(types.RunEvent)

// Bus is an in-process, goroutine-safe event bus.
type Bus struct {
	mu     sync.RWMutex
	subs   []*mailbox
	nextID atomic.Uint64
	logger *log.Logger
	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates an event bus. logger may be nil.
func New(logger *log.Logger) *Bus {
	return &Bus{logger: logger}
}

// Publish enqueues the event for every matching subscriber and returns
// immediately. Events published after Close are dropped.
func (b *Bus) Publish(event types.RunEvent) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, mb := range b.subs {
		if mb.filter != "" && mb.filter != event.Type {
			continue
		}
		mb.push(event.Clone())
	}
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType types.RunEventType, handler Handler) func() {
	return b.add(eventType, handler)
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.add("", handler)
}

func (b *Bus) add(filter types.RunEventType, handler Handler) func() {
	mb := &mailbox{
		id:      b.nextID.Add(1),
		filter:  filter,
		handler: handler,
		signal:  make(chan struct{}, 1),
		logger:  b.logger,
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return func() {}
	}
	b.subs = append(b.subs, mb)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		mb.run()
	}()

	return func() {
		b.mu.Lock()
		for i, s := range b.subs {
			if s.id == mb.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		mb.close()
	}
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close prevents new publishes, delivers everything already queued and
// waits for all subscriber goroutines to exit.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, mb := range subs {
		mb.close()
	}
	b.wg.Wait()
}

// mailbox is an unbounded FIFO owned by one subscriber.
type mailbox struct {
	id      uint64
	filter  types.RunEventType
	handler Handler
	logger  *log.Logger

	mu     sync.Mutex
	queue  []types.RunEvent
	closed bool
	signal chan struct{}
}

func (m *mailbox) push(event types.RunEvent) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, event)
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox) wake() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// run delivers queued events until the mailbox is closed and empty.
func (m *mailbox) run() {
	for {
		<-m.signal
		for {
			m.mu.Lock()
			if len(m.queue) == 0 {
				closed := m.closed
				m.mu.Unlock()
				if closed {
					return
				}
				break
			}
			event := m.queue[0]
			m.queue[0] = types.RunEvent{}
			m.queue = m.queue[1:]
			m.mu.Unlock()

			m.deliver(event)
		}
	}
}

func (m *mailbox) deliver(event types.RunEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event handler panicked", map[string]any{
				"event":      string(event.Type),
				"process_id": event.ProcessID,
				"panic":      r,
			})
		}
	}()
	m.handler(event)
}
