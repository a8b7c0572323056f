// Package listener implements the output state machines that turn one
// runner process's raw notifications into sequenced Run Events.
//
// A listener instance observes exactly one process. Replacement processes
// scheduled by a retry policy get a fresh listener with the same
// configuration.
package listener

import (
	"github.com/pithecene-io/vigil/marker"
	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/policy"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

// Hooks are the session side channels a listener acts through. Every
// field is optional.
type Hooks struct {
	// Shell reports whether the session already uses a login shell.
	Shell policy.ShellPolicy
	// RetryLoginShell enables the login shell and schedules req with next
	// attached. It is the only way a listener upgrades the shell.
	RetryLoginShell func(p *scheduler.Process, req types.Request, next scheduler.Listener)
	// WatchFallback stops p and schedules req with next attached.
	WatchFallback func(p *scheduler.Process, req types.Request, next scheduler.Listener)
	// UpdateWithData receives every structured total-results payload.
	UpdateWithData func(results *types.TotalResults, p *scheduler.Process)
	// SnapshotUpdate is offered an update-snapshot request when the
	// output reports snapshot failures.
	SnapshotUpdate func(p *scheduler.Process, req types.Request)
	// Detector overrides the command-not-found detector.
	Detector *marker.EnvErrorDetector
	Metrics  *metrics.Collector
}

// base is the skeleton shared by both specializations: environment-error
// tracking, exit bookkeeping and the login-shell retry.
type base struct {
	hooks    Hooks
	detector marker.EnvErrorDetector

	exit        policy.Exit
	exitSeen    bool
	terminalErr string
}

func newBase(hooks Hooks) base {
	d := marker.NewEnvErrorDetector()
	if hooks.Detector != nil {
		d = *hooks.Detector
	}
	return base{hooks: hooks, detector: d}
}

// observeStdErr flags the process when text looks like a broken
// environment.
func (b *base) observeStdErr(p *scheduler.Process, text string) {
	if !p.Flag(scheduler.FlagEnvError) && b.detector.Match(text) {
		p.SetFlag(scheduler.FlagEnvError)
		p.Logger().Debug("environment error signature in stderr", nil)
	}
}

// observeExit records an exit notification. The close that follows may
// not repeat the code.
func (b *base) observeExit(n runtime.Notification) {
	b.exit = policy.Exit{Code: n.Code, CodeKnown: n.CodeKnown, Signal: n.Signal}
	b.exitSeen = true
}

func (b *base) observeTerminalError(p *scheduler.Process, text string) {
	if b.terminalErr == "" {
		b.terminalErr = text
	}
	p.Logger().Warn("terminal error", map[string]any{"error": text})
}

// finalExit resolves the exit status at close time.
func (b *base) finalExit(n runtime.Notification) policy.Exit {
	if n.CodeKnown || n.Signal != "" || !b.exitSeen {
		return policy.Exit{Code: n.Code, CodeKnown: n.CodeKnown, Signal: n.Signal}
	}
	return b.exit
}

func (b *base) view(p *scheduler.Process, execErr string) policy.Process {
	return policy.Process{
		ID:         p.ID(),
		Request:    p.Request(),
		StopReason: p.StopReason(),
		EnvError:   p.Flag(scheduler.FlagEnvError),
		ExecError:  execErr,
	}
}

// retryLoginShell hands the request back to the session for a login-shell
// rerun and closes this process silently. It reports whether the retry
// was taken.
func (b *base) retryLoginShell(p *scheduler.Process, outcome policy.Outcome, exit policy.Exit, next scheduler.Listener) bool {
	if !outcome.RetryLoginShell || b.hooks.RetryLoginShell == nil {
		return false
	}
	view := b.view(p, "")
	p.SetFlag(scheduler.FlagRetried)
	b.hooks.Metrics.IncLoginShellRetry()
	p.Logger().Info("retrying in login shell", map[string]any{"exit_code": exit.Code})

	b.hooks.RetryLoginShell(p, policy.LoginShellReplacement(view), next)
	p.Emit(types.RunEvent{
		Type:      types.EventExit,
		ExitCode:  exit.Code,
		CodeKnown: exit.CodeKnown,
		Signal:    exit.Signal,
		Retried:   true,
	})
	return true
}

// shell returns the policy view of the session shell. Without a retry
// side channel the shell is treated as already upgraded so failures are
// reported instead of silently swallowed.
func (b *base) shell() policy.ShellPolicy {
	if b.hooks.RetryLoginShell == nil {
		return loginShellOn{}
	}
	return b.hooks.Shell
}

type loginShellOn struct{}

func (loginShellOn) UseLoginShell() bool { return true }
