// Package session wires one test session: the event bus, the scheduler,
// the output listeners and the session-wide login-shell and run-mode
// state. Auto-run triggers (startup, on-save, watch toggling) live here.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/vigil/bus"
	"github.com/pithecene-io/vigil/listener"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/runmode"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

// DefaultLongRunThreshold is used when Config.LongRunThreshold is zero.
const DefaultLongRunThreshold = 60 * time.Second

// testFilePattern matches the runner's default test file naming.
var testFilePattern = regexp.MustCompile(`(^|/)__tests__/|\.(test|spec)\.[cm]?[jt]sx?$`)

// IsTestFile reports whether path looks like a test file.
func IsTestFile(path string) bool {
	return testFilePattern.MatchString(path)
}

// Config configures a Session.
type Config struct {
	// Backend spawns runner processes (required).
	Backend runtime.Backend
	// ID is the session id; empty generates one.
	ID      string
	RunMode runmode.Config
	// LongRunThreshold arms the long-run monitor. Zero uses the default;
	// negative disables it.
	LongRunThreshold time.Duration
	// UseLoginShell starts the session already upgraded.
	UseLoginShell    bool
	NonBlockingLimit int
	// SnapshotUpdates enables the snapshot-failure follow-up.
	SnapshotUpdates bool
	// ConfirmSnapshotUpdate decides whether to run a proposed
	// update-snapshot request. Nil accepts.
	ConfirmSnapshotUpdate func(req types.Request) bool
	// OnResults receives every structured results payload.
	OnResults func(processID string, results *types.TotalResults)
	// SaveRate and SaveBurst throttle on-save runs. Zero rate means
	// unthrottled.
	SaveRate  rate.Limit
	SaveBurst int
	Logger    *log.Logger
	Metrics   *metrics.Collector
}

// ErrDeferred is returned by auto-run triggers while the session is
// deferred.
var ErrDeferred = errors.New("session is deferred")

// Session owns one bus and one scheduler.
type Session struct {
	id      string
	config  Config
	logger  *log.Logger
	metrics *metrics.Collector
	bus     *bus.Bus
	sched   *scheduler.Scheduler
	shell   loginShell
	limiter *rate.Limiter

	mu       sync.Mutex
	mode     runmode.Mode
	deferred bool
	results  *types.TotalResults
}

// loginShell is the one-way session shell upgrade.
type loginShell struct {
	on atomic.Bool
}

func (l *loginShell) UseLoginShell() bool { return l.on.Load() }

// New creates a session. Nothing runs until Start or an explicit run.
func New(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, errors.New("session requires a backend")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.LongRunThreshold == 0 {
		cfg.LongRunThreshold = DefaultLongRunThreshold
	}
	if cfg.RunMode == (runmode.Config{}) {
		cfg.RunMode = runmode.Default()
	}
	if err := cfg.RunMode.Validate(); err != nil {
		return nil, fmt.Errorf("run mode: %w", err)
	}

	s := &Session{
		id:       cfg.ID,
		config:   cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		mode:     runmode.New(cfg.RunMode),
		deferred: cfg.RunMode.Deferred,
		limiter:  rate.NewLimiter(rate.Inf, 0),
	}
	if cfg.SaveRate > 0 {
		s.limiter = rate.NewLimiter(cfg.SaveRate, max(cfg.SaveBurst, 1))
	}
	s.shell.on.Store(cfg.UseLoginShell)
	s.bus = bus.New(cfg.Logger)
	s.sched = scheduler.New(scheduler.Config{
		Backend:          cfg.Backend,
		Publisher:        s.bus,
		LoginShell:       s.shell.UseLoginShell,
		NonBlockingLimit: cfg.NonBlockingLimit,
		Logger:           cfg.Logger,
		Metrics:          cfg.Metrics,
	})
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Bus returns the session's event bus.
func (s *Session) Bus() *bus.Bus { return s.bus }

// Scheduler returns the session's scheduler.
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// Mode returns the current run mode.
func (s *Session) Mode() runmode.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// UsesLoginShell reports whether the session has upgraded to a login shell.
func (s *Session) UsesLoginShell() bool { return s.shell.UseLoginShell() }

// EnableLoginShell upgrades the session shell. The upgrade is one-way.
func (s *Session) EnableLoginShell() {
	if !s.shell.on.Swap(true) {
		s.logger.Info("login shell enabled", nil)
	}
}

// LatestResults returns the most recent structured results, if any.
func (s *Session) LatestResults() *types.TotalResults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

func (s *Session) hooks() listener.Hooks {
	return listener.Hooks{
		Shell: &s.shell,
		RetryLoginShell: func(_ *scheduler.Process, req types.Request, next scheduler.Listener) {
			s.EnableLoginShell()
			s.sched.ScheduleProcess(req, next)
		},
		WatchFallback: func(p *scheduler.Process, req types.Request, next scheduler.Listener) {
			// The stop completes once p closes; waiting here would block
			// p's own notification stream.
			s.sched.Stop(context.Background(), p)
			s.sched.ScheduleProcess(req, next)
		},
		UpdateWithData: func(results *types.TotalResults, p *scheduler.Process) {
			s.mu.Lock()
			s.results = results
			s.mu.Unlock()
			if s.config.OnResults != nil {
				s.config.OnResults(p.ID(), results)
			}
		},
		SnapshotUpdate: func(_ *scheduler.Process, req types.Request) {
			if s.config.ConfirmSnapshotUpdate != nil && !s.config.ConfirmSnapshotUpdate(req) {
				return
			}
			s.sched.ScheduleProcess(req, s.runTestListener())
		},
		Metrics: s.metrics,
	}
}

func (s *Session) runTestListener() *listener.RunTest {
	threshold := s.config.LongRunThreshold
	if threshold < 0 {
		threshold = 0
	}
	return listener.NewRunTest(listener.RunTestOptions{
		Hooks:            s.hooks(),
		LongRunThreshold: threshold,
		SnapshotUpdates:  s.config.SnapshotUpdates,
	})
}

// Run admits req with a run-test listener. The returned process can be
// awaited with Done.
func (s *Session) Run(ctx context.Context, req types.Request) (*scheduler.Process, error) {
	if s.Mode().Config().Coverage {
		req.Coverage = true
	}
	return s.sched.Admit(ctx, req, s.runTestListener())
}

// RunAllTests runs the whole suite once.
func (s *Session) RunAllTests(ctx context.Context) (*scheduler.Process, error) {
	return s.Run(ctx, types.Request{Kind: types.KindAllTests})
}

// RunFile runs one file, or one named test in it when testName is set.
func (s *Session) RunFile(ctx context.Context, file, testName string) (*scheduler.Process, error) {
	req := types.Request{Kind: types.KindByFile, TestFile: file, NotTestFile: !IsTestFile(file)}
	if testName != "" {
		req = types.Request{Kind: types.KindByFileTest, TestFile: file, TestName: testName}
	}
	return s.Run(ctx, req)
}

// ListTestFiles runs the runner's list mode and waits for the result.
func (s *Session) ListTestFiles(ctx context.Context) ([]string, error) {
	type result struct {
		files []string
		err   error
	}
	ch := make(chan result, 1)
	l := listener.NewListTestFiles(s.hooks(), func(files []string, err error) {
		select {
		case ch <- result{files, err}:
		default:
		}
	})
	if _, err := s.sched.Admit(ctx, types.Request{Kind: types.KindListTestFiles}, l); err != nil {
		return nil, err
	}

	// A login-shell retry hands the callback to the replacement, so the
	// first result is final.
	select {
	case r := <-ch:
		return r.files, r.err
	case <-ctx.Done():
		for _, p := range s.sched.Processes(func(p *scheduler.Process) bool {
			return p.Request().Kind == types.KindListTestFiles
		}) {
			<-s.sched.Stop(context.Background(), p)
		}
		return nil, ctx.Err()
	}
}

// Start runs the startup triggers of the run mode. A deferred session
// does nothing until Undefer.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	deferred := s.deferred
	cfg := s.mode.Config()
	s.mu.Unlock()
	if deferred {
		s.logger.Info("session deferred", nil)
		return nil
	}

	s.logger.Info("session started", map[string]any{
		"session_id": s.id,
		"run_mode":   string(s.Mode().Label()),
	})
	// The startup suite goes first: a watch process holds the blocking
	// queue until it is stopped.
	var errs []error
	if cfg.RunAllTestsOnStartup {
		if _, err := s.RunAllTests(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.Type == runmode.TypeWatch {
		if _, err := s.startWatch(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Undefer lifts a deferred start and runs the startup triggers.
func (s *Session) Undefer(ctx context.Context) error {
	s.mu.Lock()
	was := s.deferred
	s.deferred = false
	s.mu.Unlock()
	if !was {
		return nil
	}
	return s.Start(ctx)
}

func (s *Session) startWatch(ctx context.Context) (*scheduler.Process, error) {
	return s.Run(ctx, types.Request{Kind: types.KindWatchTests})
}

// OnFileSaved schedules a by-file run for path when the run mode is
// on-save. It returns the admitted process, or nil when the save did not
// trigger a run.
func (s *Session) OnFileSaved(ctx context.Context, path string) (*scheduler.Process, error) {
	s.mu.Lock()
	deferred := s.deferred
	mode := s.mode
	s.mu.Unlock()

	if deferred {
		return nil, ErrDeferred
	}
	cfg := mode.Config()
	if !mode.AutoRun() || cfg.Type != runmode.TypeOnSave {
		return nil, nil
	}
	isTest := IsTestFile(path)
	if cfg.TestFileOnly && !isTest {
		return nil, nil
	}
	if !s.limiter.Allow() {
		s.logger.Debug("save throttled", map[string]any{"path": path})
		return nil, nil
	}
	return s.Run(ctx, types.Request{Kind: types.KindByFile, TestFile: path, NotTestFile: !isTest})
}

// ToggleAutoRun flips auto-run. Leaving watch stops watch processes;
// entering it starts one.
func (s *Session) ToggleAutoRun(ctx context.Context) (runmode.Label, error) {
	s.mu.Lock()
	before := s.mode.Config()
	s.mode = s.mode.Toggle()
	after := s.mode.Config()
	label := s.mode.Label()
	deferred := s.deferred
	s.mu.Unlock()

	s.logger.Info("auto-run toggled", map[string]any{"run_mode": string(label)})

	if before.Type == runmode.TypeWatch && after.Type != runmode.TypeWatch {
		for _, p := range s.sched.Processes(func(p *scheduler.Process) bool { return p.Request().IsWatch() }) {
			s.sched.Stop(ctx, p)
		}
	}
	if !deferred && after.Type == runmode.TypeWatch && before.Type != runmode.TypeWatch {
		if _, err := s.startWatch(ctx); err != nil {
			return label, err
		}
	}
	return label, nil
}

// Close stops every process and drains the bus.
func (s *Session) Close(ctx context.Context) error {
	err := s.sched.Close(ctx)
	s.bus.Close()
	s.logger.Info("session closed", map[string]any{"session_id": s.id})
	return err
}
