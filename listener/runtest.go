package listener

import (
	"strings"
	"time"

	"github.com/acarl005/stripansi"

	"github.com/pithecene-io/vigil/marker"
	"github.com/pithecene-io/vigil/monitor"
	"github.com/pithecene-io/vigil/policy"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

// RunTestOptions configures a RunTest listener.
type RunTestOptions struct {
	Hooks Hooks
	// LongRunThreshold arms the long-run monitor on every run start.
	// Zero or negative disables it.
	LongRunThreshold time.Duration
	// SnapshotUpdates enables the snapshot-failure follow-up.
	SnapshotUpdates bool
}

// RunTest drives the lifecycle of a full test run:
//
//	idle -> running (run-start marker) -> data/test-error* -> ended
//	(run-complete marker) -> terminal (close)
//
// Watch processes run many cycles; their end is deferred to close.
type RunTest struct {
	base
	opts    RunTestOptions
	monitor *monitor.Monitor

	process     *scheduler.Process
	execErr     string
	reportedErr string
	snapshot    bool
	fellBack    bool
}

// NewRunTest creates a listener for one run-test process.
func NewRunTest(opts RunTestOptions) *RunTest {
	return &RunTest{base: newBase(opts.Hooks), opts: opts}
}

// Next returns a fresh listener with the same configuration, for a
// replacement process.
func (l *RunTest) Next() *RunTest {
	return NewRunTest(l.opts)
}

// OnNotification implements scheduler.Listener.
func (l *RunTest) OnNotification(p *scheduler.Process, n runtime.Notification) {
	if l.process == nil {
		l.bind(p)
	}

	switch n.Kind {
	case runtime.NotifyStdErr:
		l.onStdErr(p, n.Text)
	case runtime.NotifyOutput:
		l.emitData(p, n.Text, false)
	case runtime.NotifyJSON:
		if l.hooks.UpdateWithData != nil && n.Results != nil {
			l.hooks.UpdateWithData(n.Results, p)
		}
	case runtime.NotifyTerminalError:
		l.observeTerminalError(p, n.Text)
		l.emitData(p, n.Text, true)
	case runtime.NotifyExit:
		l.observeExit(n)
	case runtime.NotifyClose:
		l.onClose(p, n)
	}
}

func (l *RunTest) bind(p *scheduler.Process) {
	l.process = p
	l.monitor = monitor.New(l.opts.LongRunThreshold, func(run monitor.RunContext, threshold time.Duration) {
		l.hooks.Metrics.IncLongRun()
		p.Logger().Warn("run exceeded long-run threshold", map[string]any{
			"threshold":    threshold.String(),
			"total_suites": run.TotalSuites,
		})
		p.Emit(types.RunEvent{
			Type:        types.EventLongRun,
			Threshold:   threshold,
			TotalSuites: run.TotalSuites,
		})
	}, p.Logger())
}

func (l *RunTest) onStdErr(p *scheduler.Process, raw string) {
	l.observeStdErr(p, raw)
	clean := stripansi.Strip(raw)
	m := marker.Scan(clean)

	if m.RunStart {
		p.ClearFlag(scheduler.FlagTestErrorReported)
		if p.Request().IsWatch() {
			p.ClearFlag(scheduler.FlagExecErrorReported)
		}
		p.Emit(types.RunEvent{Type: types.EventStart, TotalSuites: m.TotalSuites})
		l.monitor.Start(monitor.RunContext{ProcessID: p.ID(), TotalSuites: m.TotalSuites})
	}

	if m.WatchUnsupported {
		l.onWatchUnsupported(p)
	}

	l.emitDataClean(p, raw, marker.StripControl(clean), false)

	if m.TestFileErrors && !p.Flag(scheduler.FlagTestErrorReported) {
		p.SetFlag(scheduler.FlagTestErrorReported)
		p.Emit(types.RunEvent{Type: types.EventTestError})
	}

	if m.SnapshotFailure {
		l.offerSnapshotUpdate(p)
	}

	if m.RunComplete {
		l.monitor.Cancel()
		if m.ExecError != "" {
			l.execErr = m.ExecError
		}
		if !p.Request().IsWatch() {
			l.emitEnd(p, m.ExecError)
		} else if m.ExecError != "" {
			l.reportCycleError(p, m.ExecError)
		}
	}
}

// reportCycleError surfaces the exec error of one watch cycle as error
// data. The end event of a watch process waits for close, so this is the
// only event carrying it. Reported once per cycle.
func (l *RunTest) reportCycleError(p *scheduler.Process, errMsg string) {
	if p.Flag(scheduler.FlagExecErrorReported) {
		return
	}
	l.reportedErr = errMsg
	p.SetFlag(scheduler.FlagExecErrorReported)
	p.Logger().Error("watch cycle failed", map[string]any{"error": errMsg})
	p.Emit(types.RunEvent{Type: types.EventData, Text: errMsg, IsError: true})
}

func (l *RunTest) emitData(p *scheduler.Process, raw string, isError bool) {
	l.emitDataClean(p, raw, stripansi.Strip(raw), isError)
}

func (l *RunTest) emitDataClean(p *scheduler.Process, raw, text string, isError bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	p.Emit(types.RunEvent{Type: types.EventData, Text: text, Raw: raw, IsError: isError})
}

// emitEnd emits the end event, marking an exec error as reported.
func (l *RunTest) emitEnd(p *scheduler.Process, errMsg string) {
	if !p.Emit(types.RunEvent{Type: types.EventEnd, Error: errMsg}) {
		return
	}
	if errMsg != "" {
		l.reportedErr = errMsg
		p.SetFlag(scheduler.FlagExecErrorReported)
	}
}

func (l *RunTest) onWatchUnsupported(p *scheduler.Process) {
	if l.fellBack {
		return
	}
	replacement, ok := policy.WatchFallback(l.view(p, l.execErr))
	if !ok {
		p.Logger().Info("watch-unsupported signature ignored outside watch mode", nil)
		return
	}
	if l.hooks.WatchFallback == nil {
		p.Logger().Warn("watch mode unsupported and no fallback configured", nil)
		return
	}
	l.fellBack = true
	p.SetFlag(scheduler.FlagRetried)
	l.hooks.Metrics.IncWatchFallback()
	p.Logger().Info("watch mode unsupported, falling back", map[string]any{
		"replacement": string(replacement.Kind),
	})
	l.hooks.WatchFallback(p, replacement, l.Next())
}

func (l *RunTest) offerSnapshotUpdate(p *scheduler.Process) {
	if l.snapshot || !l.opts.SnapshotUpdates || l.hooks.SnapshotUpdate == nil {
		return
	}
	req, ok := policy.SnapshotUpdate(l.view(p, l.execErr))
	if !ok {
		return
	}
	l.snapshot = true
	l.hooks.SnapshotUpdate(p, req)
}

func (l *RunTest) onClose(p *scheduler.Process, n runtime.Notification) {
	l.monitor.Cancel()
	exit := l.finalExit(n)

	if p.Request().IsWatch() && p.StopReason() != types.StopOnDemand {
		p.SetStopReason(types.StopCrash)
	}

	view := l.view(p, l.execErr)
	outcome := policy.Evaluate(view, exit, l.shell())
	if l.retryLoginShell(p, outcome, exit, l.Next()) {
		return
	}

	if l.fellBack {
		// Replaced by the fallback request; nothing to report.
		l.emitEnd(p, "")
		p.Emit(types.RunEvent{
			Type: types.EventExit, ExitCode: exit.Code, CodeKnown: exit.CodeKnown,
			Signal: exit.Signal, Retried: true,
		})
		return
	}

	errMsg := outcome.Error
	if errMsg == "" && l.terminalErr != "" && p.StopReason() != types.StopOnDemand {
		errMsg = l.terminalErr
	}
	if errMsg != "" {
		switch outcome.Kind {
		case policy.ErrorKindWatchCrash:
			l.hooks.Metrics.IncWatchCrash()
			p.Logger().Error("watch process ended unexpectedly", map[string]any{"error": errMsg})
		default:
			p.SetFlag(scheduler.FlagExecErrorReported)
			p.Logger().Error("runner process failed", map[string]any{"error": errMsg})
		}
	}

	l.emitEnd(p, "")
	p.Emit(types.RunEvent{
		Type:                 types.EventExit,
		Error:                errMsg,
		ErrorAlreadyReported: errMsg != "" && errMsg == l.reportedErr,
		ExitCode:             exit.Code,
		CodeKnown:            exit.CodeKnown,
		Signal:               exit.Signal,
	})
}
