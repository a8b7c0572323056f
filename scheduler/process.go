package scheduler

import (
	"sync"
	"time"

	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/types"
)

// Flag is a per-process marker set by listeners and retry policies.
type Flag string

// Process flags.
const (
	// FlagEnvError marks stderr that matched a command-not-found signature.
	FlagEnvError Flag = "env-error"
	// FlagExecErrorReported marks an exec error already surfaced as an event.
	FlagExecErrorReported Flag = "exec-error-reported"
	// FlagTestErrorReported marks a test-error already surfaced for the current run.
	FlagTestErrorReported Flag = "test-error-reported"
	// FlagRetried marks a process whose exit was handled by a retry policy.
	FlagRetried Flag = "retried"
)

// Process is the scheduler-owned state record of one run process.
// Listeners and policies act on it only through its methods.
type Process struct {
	id       string
	request  types.Request
	strategy types.ScheduleStrategy
	listener Listener
	logger   *log.Logger
	publish  func(types.RunEvent)
	now      func() time.Time

	// guarded by Scheduler.mu
	handle        runtime.Handle
	stopRequested bool

	mu         sync.Mutex
	status     types.ProcessStatus
	stopReason types.StopReason
	flags      map[Flag]bool
	data       map[string]any

	// sequencer state, guarded by mu
	started bool
	ended   bool
	exited  bool

	done chan struct{}
}

// ID returns the process id.
func (p *Process) ID() string { return p.id }

// Request returns the originating request.
func (p *Process) Request() types.Request { return p.request.Clone() }

// Strategy returns the resolved schedule strategy.
func (p *Process) Strategy() types.ScheduleStrategy { return p.strategy }

// Logger returns a logger tagged with the process identity.
func (p *Process) Logger() *log.Logger { return p.logger }

// Status returns the lifecycle state.
func (p *Process) Status() types.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Process) setStatus(s types.ProcessStatus) {
	p.mu.Lock()
	p.status = s
	p.mu.Unlock()
}

// StopReason returns why the process was stopped, if it was.
func (p *Process) StopReason() types.StopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopReason
}

// SetStopReason records why the process stopped. An on-demand reason is
// never overwritten.
func (p *Process) SetStopReason(r types.StopReason) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopReason == types.StopOnDemand {
		return
	}
	p.stopReason = r
}

// SetFlag sets a flag.
func (p *Process) SetFlag(f Flag) {
	p.mu.Lock()
	p.flags[f] = true
	p.mu.Unlock()
}

// ClearFlag clears a flag.
func (p *Process) ClearFlag(f Flag) {
	p.mu.Lock()
	delete(p.flags, f)
	p.mu.Unlock()
}

// Flag reports whether f is set.
func (p *Process) Flag(f Flag) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags[f]
}

// SetData stores an opaque value for downstream collaborators.
func (p *Process) SetData(key string, v any) {
	p.mu.Lock()
	p.data[key] = v
	p.mu.Unlock()
}

// Data returns an opaque value stored with SetData.
func (p *Process) Data(key string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.data[key]
	return v, ok
}

// Done is closed once the process has left the scheduler.
func (p *Process) Done() <-chan struct{} { return p.done }

// Emit sequences and publishes an event for this process, enforcing the
// per-process order: scheduled, then one start, then data and test-error,
// then at most one end, then exactly one exit. A start is synthesized
// before the first later event if the runner never announced one. Events
// that would violate the order are dropped and Emit returns false.
func (p *Process) Emit(e types.RunEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		p.logger.Debug("event after exit dropped", map[string]any{"event": string(e.Type)})
		return false
	}

	switch e.Type {
	case types.EventScheduled:
		if p.started {
			return false
		}
	case types.EventStart:
		if p.started {
			return false
		}
		p.started = true
	case types.EventData, types.EventTestError, types.EventLongRun:
		if p.ended {
			p.logger.Debug("event after end dropped", map[string]any{"event": string(e.Type)})
			return false
		}
		p.ensureStartedLocked()
	case types.EventEnd:
		if p.ended {
			return false
		}
		p.ensureStartedLocked()
		p.ended = true
	case types.EventExit:
		p.ensureStartedLocked()
		p.exited = true
	default:
		return false
	}

	p.publishLocked(e)
	return true
}

// Ended reports whether the end event has been emitted.
func (p *Process) Ended() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// Exited reports whether the exit event has been emitted.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

func (p *Process) ensureStartedLocked() {
	if p.started {
		return
	}
	p.started = true
	p.publishLocked(types.RunEvent{Type: types.EventStart})
}

func (p *Process) publishLocked(e types.RunEvent) {
	e.ProcessID = p.id
	e.Request = p.request.Clone()
	if e.Timestamp.IsZero() {
		e.Timestamp = p.now()
	}
	if p.publish != nil {
		p.publish(e)
	}
}
