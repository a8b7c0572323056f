// Package scheduler admits run requests, applies each kind's queue
// discipline and dedup rule, and drives process lifecycles through a
// runtime.Backend.
//
// The tracked-process table is owned exclusively by the Scheduler. A
// dedup scan and the admission it guards run under one lock, so concurrent
// ScheduleProcess calls cannot both admit a duplicate.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/types"
)

// Listener observes one process's raw notifications. The scheduler calls
// it sequentially per process.
type Listener interface {
	OnNotification(p *Process, n runtime.Notification)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(p *Process, n runtime.Notification)

// OnNotification implements Listener.
func (f ListenerFunc) OnNotification(p *Process, n runtime.Notification) { f(p, n) }

// Publisher receives sequenced events, typically a *bus.Bus.
type Publisher interface {
	Publish(types.RunEvent)
}

// Config configures a Scheduler.
type Config struct {
	// Backend spawns processes (required).
	Backend runtime.Backend
	// Publisher receives run events. May be nil.
	Publisher Publisher
	// LoginShell reports whether new processes use a login shell. May be nil.
	LoginShell func() bool
	// NonBlockingLimit caps concurrently running non-blocking processes.
	// Zero means unlimited.
	NonBlockingLimit int
	// Logger may be nil.
	Logger *log.Logger
	// Metrics may be nil.
	Metrics *metrics.Collector
	// NewID overrides process id generation (for testing).
	NewID func(types.RequestKind) string
	// Now overrides the event clock (for testing).
	Now func() time.Time
}

// queue is one admission class.
type queue struct {
	discipline types.QueueDiscipline
	pending    []*Process
	running    map[string]*Process
}

// Scheduler is the process scheduler.
type Scheduler struct {
	config Config
	logger *log.Logger

	mu      sync.Mutex
	tracked []*Process // pending and running, admission order
	queues  map[types.QueueClass]*queue
	closed  bool
}

// New creates a Scheduler.
func New(config Config) *Scheduler {
	if config.NewID == nil {
		config.NewID = func(kind types.RequestKind) string {
			return string(kind) + "-" + uuid.NewString()
		}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Scheduler{
		config: config,
		logger: config.Logger,
		queues: make(map[types.QueueClass]*queue),
	}
}

// ScheduleProcess attempts to admit req with listener l. It returns false
// if admission failed outright.
func (s *Scheduler) ScheduleProcess(req types.Request, l Listener) bool {
	_, err := s.Admit(context.Background(), req, l)
	return err == nil
}

// Admit is ScheduleProcess with the typed admission error and the
// admitted process.
func (s *Scheduler) Admit(ctx context.Context, req types.Request, l Listener) (*Process, error) {
	if err := validate(req); err != nil {
		s.reject(req, err)
		return nil, err
	}
	strategy, _ := StrategyFor(req.Kind)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		err := &AdmissionError{Kind: req.Kind, Reason: ErrSchedulerClosed}
		s.reject(req, err)
		return nil, err
	}

	superseded := s.dedupLocked(req, strategy)

	id := s.config.NewID(req.Kind)
	p := &Process{
		id:       id,
		request:  req.Clone(),
		strategy: strategy,
		listener: l,
		logger:   s.logger.ForProcess(id, string(req.Kind)),
		publish:  s.publish,
		now:      s.config.Now,
		status:   types.StatusPending,
		flags:    make(map[Flag]bool),
		data:     make(map[string]any),
		done:     make(chan struct{}),
	}
	s.tracked = append(s.tracked, p)
	q := s.queueLocked(strategy)
	q.pending = append(q.pending, p)
	toSpawn := s.pumpLocked(strategy.Class)
	s.mu.Unlock()

	s.config.Metrics.IncScheduled()
	p.logger.Debug("request admitted", map[string]any{
		"request":    req.String(),
		"queue":      string(strategy.Class),
		"superseded": len(superseded),
	})

	for _, old := range superseded {
		s.stopSuperseded(old)
	}
	s.spawnAll(ctx, toSpawn)
	return p, nil
}

func (s *Scheduler) reject(req types.Request, err error) {
	label := "malformed"
	var ae *AdmissionError
	if errors.As(err, &ae) {
		label = ae.Label()
	}
	s.config.Metrics.IncRejected(label)
	s.logger.Warn("request rejected", map[string]any{
		"request_kind": string(req.Kind),
		"error":        err.Error(),
	})
}

// dedupLocked removes every tracked process of the same kind that the
// strategy's dedup rule matches, oldest first. Pending matches are dropped
// from their queue; running matches are returned for an on-demand stop.
func (s *Scheduler) dedupLocked(req types.Request, strategy types.ScheduleStrategy) []*Process {
	rule := strategy.Dedup
	if rule == nil {
		return nil
	}
	var running []*Process
	for _, p := range append([]*Process(nil), s.tracked...) {
		if p.request.Kind != req.Kind {
			continue
		}
		status := p.Status()
		if !rule.Matches(status) {
			continue
		}
		if rule.ByContent && !p.request.SameContent(req) {
			continue
		}
		s.config.Metrics.IncSuperseded()
		p.SetStopReason(types.StopOnDemand)
		if status == types.StatusPending {
			s.dropPendingLocked(p)
			p.logger.Debug("pending request superseded", nil)
			continue
		}
		running = append(running, p)
	}
	return running
}

func (s *Scheduler) queueLocked(strategy types.ScheduleStrategy) *queue {
	q, ok := s.queues[strategy.Class]
	if !ok {
		q = &queue{discipline: strategy.Discipline, running: make(map[string]*Process)}
		s.queues[strategy.Class] = q
	}
	return q
}

// pumpLocked moves pending processes of class to running as the queue
// discipline allows and returns them for spawning.
func (s *Scheduler) pumpLocked(class types.QueueClass) []*Process {
	q, ok := s.queues[class]
	if !ok {
		return nil
	}
	var out []*Process
	for len(q.pending) > 0 {
		if q.discipline == types.QueueBlocking && len(q.running) > 0 {
			break
		}
		if q.discipline == types.QueueNonBlocking && s.config.NonBlockingLimit > 0 &&
			len(q.running) >= s.config.NonBlockingLimit {
			break
		}
		p := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.running[p.id] = p
		p.setStatus(types.StatusRunning)
		p.Emit(types.RunEvent{Type: types.EventScheduled})
		out = append(out, p)
	}
	return out
}

// dropPendingLocked removes a never-spawned process from the scheduler.
func (s *Scheduler) dropPendingLocked(p *Process) {
	if q, ok := s.queues[p.strategy.Class]; ok {
		for i, pp := range q.pending {
			if pp == p {
				q.pending = append(q.pending[:i], q.pending[i+1:]...)
				break
			}
		}
	}
	s.untrackLocked(p)
	p.setStatus(types.StatusStopped)
	close(p.done)
}

func (s *Scheduler) untrackLocked(p *Process) {
	for i, pp := range s.tracked {
		if pp == p {
			s.tracked = append(s.tracked[:i], s.tracked[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) spawnAll(ctx context.Context, procs []*Process) {
	for _, p := range procs {
		s.spawn(ctx, p)
	}
}

func (s *Scheduler) spawn(ctx context.Context, p *Process) {
	login := false
	if s.config.LoginShell != nil {
		login = s.config.LoginShell()
	}
	spec := runtime.SpawnSpec{ProcessID: p.id, Request: p.request, LoginShell: login}

	handle, err := s.config.Backend.Spawn(ctx, spec, func(n runtime.Notification) {
		s.onNotification(p, n)
	})
	if err != nil {
		s.config.Metrics.IncSpawnFailure()
		p.logger.Error("spawn failed", map[string]any{"error": err.Error()})
		s.onNotification(p, runtime.Notification{Kind: runtime.NotifyTerminalError, Text: err.Error()})
		s.onNotification(p, runtime.Notification{Kind: runtime.NotifyClose})
		return
	}
	s.config.Metrics.IncSpawned()

	s.mu.Lock()
	p.handle = handle
	stop := p.stopRequested
	s.mu.Unlock()
	if stop {
		go s.stopHandle(context.Background(), p, handle)
	}
}

func (s *Scheduler) onNotification(p *Process, n runtime.Notification) {
	if p.listener != nil {
		p.listener.OnNotification(p, n)
	}
	if n.Kind == runtime.NotifyClose {
		s.finish(p, n)
	}
}

// finish releases the process's slot after its final notification.
func (s *Scheduler) finish(p *Process, n runtime.Notification) {
	if !p.Exited() {
		// The listener did not report an exit; keep the exactly-one-exit
		// guarantee with a bare one.
		p.Emit(types.RunEvent{Type: types.EventExit, ExitCode: n.Code, CodeKnown: n.CodeKnown, Signal: n.Signal})
	}

	var status types.ProcessStatus
	switch {
	case p.StopReason() == types.StopOnDemand:
		status = types.StatusStopped
		s.config.Metrics.IncStopped()
	case p.Flag(FlagExecErrorReported):
		status = types.StatusExecError
		s.config.Metrics.IncExecError()
	default:
		status = types.StatusDone
		s.config.Metrics.IncCompleted()
	}
	p.setStatus(status)

	s.mu.Lock()
	if q, ok := s.queues[p.strategy.Class]; ok {
		delete(q.running, p.id)
	}
	s.untrackLocked(p)
	toSpawn := s.pumpLocked(p.strategy.Class)
	s.mu.Unlock()

	close(p.done)
	p.logger.Debug("process finished", map[string]any{"status": string(status)})

	s.spawnAll(context.Background(), toSpawn)
}

// Stop requests an on-demand stop of p. The returned channel yields the
// stop result once the process has left the scheduler.
func (s *Scheduler) Stop(ctx context.Context, p *Process) <-chan error {
	result := make(chan error, 1)
	p.SetStopReason(types.StopOnDemand)

	s.mu.Lock()
	switch p.Status() {
	case types.StatusPending:
		s.dropPendingLocked(p)
		s.mu.Unlock()
		p.logger.Debug("pending process dropped", nil)
		result <- nil
		return result
	case types.StatusRunning:
	default:
		s.mu.Unlock()
		result <- nil
		return result
	}

	handle := p.handle
	if handle == nil {
		p.stopRequested = true
	}
	s.mu.Unlock()

	go func() {
		if handle != nil {
			if err := s.stopHandle(ctx, p, handle); err != nil {
				result <- err
				return
			}
		}
		select {
		case <-p.done:
			result <- nil
		case <-ctx.Done():
			result <- ctx.Err()
		}
	}()
	return result
}

func (s *Scheduler) stopHandle(ctx context.Context, p *Process, h runtime.Handle) error {
	if err := h.Stop(ctx); err != nil {
		p.logger.Warn("stop failed", map[string]any{"error": err.Error()})
		return err
	}
	return nil
}

func (s *Scheduler) stopSuperseded(p *Process) {
	go func() {
		<-s.Stop(context.Background(), p)
	}()
}

// NumberOfProcesses returns the count of tracked (pending and running)
// processes.
func (s *Scheduler) NumberOfProcesses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// Processes returns the tracked processes matching filter, in admission
// order. A nil filter matches all.
func (s *Scheduler) Processes(filter func(*Process) bool) []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Process
	for _, p := range s.tracked {
		if filter == nil || filter(p) {
			out = append(out, p)
		}
	}
	return out
}

// StopAll stops every tracked process and waits for all of them to leave
// the scheduler.
func (s *Scheduler) StopAll(ctx context.Context) error {
	procs := s.Processes(nil)
	// Pending processes first so none is promoted while running ones stop.
	var pending, rest []*Process
	for _, p := range procs {
		if p.Status() == types.StatusPending {
			pending = append(pending, p)
		} else {
			rest = append(rest, p)
		}
	}
	results := make([]<-chan error, 0, len(procs))
	for _, p := range append(pending, rest...) {
		results = append(results, s.Stop(ctx, p))
	}

	var err error
	for _, ch := range results {
		err = multierr.Append(err, <-ch)
	}
	return err
}

// Close rejects further admissions and stops everything.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.StopAll(ctx)
}

func (s *Scheduler) publish(e types.RunEvent) {
	if s.config.Publisher != nil {
		s.config.Publisher.Publish(e)
	}
}
