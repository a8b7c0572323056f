// Package policy holds the retry and fallback decisions applied when a
// runner process terminates or reports a recognized failure signature.
//
// Every function here is pure: it reads a process view and returns a
// decision. Side effects (enabling the login shell, scheduling a
// replacement) belong to the caller.
package policy

import (
	"fmt"

	"github.com/pithecene-io/vigil/types"
)

// CommandNotFoundCode is the shell's exit code for a missing command.
const CommandNotFoundCode = 127

// ErrorKind classifies a run-time failure.
type ErrorKind string

const (
	// ErrorKindEnvironment is a command-not-found failure, recoverable by
	// retrying in a login shell.
	ErrorKindEnvironment ErrorKind = "environment"
	// ErrorKindExec is any other abnormal exit; reported, not retried.
	ErrorKindExec ErrorKind = "exec"
	// ErrorKindWatchUnsupported is recoverable by falling back to watch-all.
	ErrorKindWatchUnsupported ErrorKind = "watch-unsupported"
	// ErrorKindWatchCrash is a watch process ending without an explicit stop.
	ErrorKindWatchCrash ErrorKind = "watch-crash"
)

// ShellPolicy exposes the session's login-shell setting.
type ShellPolicy interface {
	UseLoginShell() bool
}

// Process is the view of a process a policy decides on.
type Process struct {
	ID         string
	Request    types.Request
	StopReason types.StopReason
	// EnvError is set once stderr matched a command-not-found signature.
	EnvError bool
	// ExecError is the runner-reported exec error, if any.
	ExecError string
}

// Exit describes how a process terminated.
type Exit struct {
	Code      int
	CodeKnown bool
	Signal    string
}

// Outcome is the combined decision for one terminal notification.
type Outcome struct {
	// RetryLoginShell asks the caller to enable the login shell and
	// reschedule the request. Reporting is suppressed.
	RetryLoginShell bool
	// Error is the user-facing failure, empty when the exit is clean or
	// handled by a retry.
	Error string
	Kind  ErrorKind
}

// Reported returns true if the outcome carries a user-facing failure.
func (o Outcome) Reported() bool {
	return o.Error != ""
}

// Evaluate applies the policies in fixed priority order: login-shell retry
// first, which short-circuits reporting; then exit-error synthesis and
// watch-crash detection, which are additive.
func Evaluate(p Process, exit Exit, shell ShellPolicy) Outcome {
	if ShouldRetryLoginShell(p, exit, shell) {
		return Outcome{RetryLoginShell: true, Kind: ErrorKindEnvironment}
	}

	var out Outcome
	if msg := ExitError(p, exit); msg != "" {
		out.Error = msg
		out.Kind = ErrorKindExec
		if p.EnvError && exit.CodeKnown && exit.Code >= CommandNotFoundCode {
			out.Kind = ErrorKindEnvironment
		}
	}
	if msg := WatchCrash(p); msg != "" {
		if out.Error != "" {
			msg = msg + ": " + out.Error
		}
		out.Error = msg
		out.Kind = ErrorKindWatchCrash
	}
	return out
}

// ShouldRetryLoginShell triggers when the exit code is in the
// command-not-found range, the environment-error flag is set and the
// session is not already using a login shell.
func ShouldRetryLoginShell(p Process, exit Exit, shell ShellPolicy) bool {
	if !exit.CodeKnown || exit.Code < CommandNotFoundCode {
		return false
	}
	if !p.EnvError {
		return false
	}
	if shell != nil && shell.UseLoginShell() {
		return false
	}
	return true
}

// ExitError synthesizes the failure message for an abnormal exit.
// Exit codes 0 and 1 are normal outcomes (pass, test failures). An
// on-demand stop is never an error. A runner-reported exec error takes
// precedence over the synthesized message.
func ExitError(p Process, exit Exit) string {
	if p.StopReason == types.StopOnDemand {
		return ""
	}
	switch {
	case exit.CodeKnown && exit.Code > 1:
		if p.ExecError != "" {
			return p.ExecError
		}
		return fmt.Sprintf("process %s exited with code= %d", p.ID, exit.Code)
	case !exit.CodeKnown && exit.Signal != "":
		if p.ExecError != "" {
			return p.ExecError
		}
		return fmt.Sprintf("process %s terminated by signal %s", p.ID, exit.Signal)
	}
	return ""
}

// WatchCrash returns the unexpected-termination error for a watch process
// that stopped for any reason other than an on-demand stop, regardless of
// exit code. Non-watch processes yield "".
func WatchCrash(p Process) string {
	if !p.Request.IsWatch() || p.StopReason == types.StopOnDemand {
		return ""
	}
	return fmt.Sprintf("runner process %q (%s) ended unexpectedly", p.ID, p.Request.Kind)
}

// WatchFallback returns the replacement request when a watch-not-supported
// signature is seen on a watch-tests process. Other kinds get no
// replacement: the signature is treated as a false positive there.
func WatchFallback(p Process) (types.Request, bool) {
	if p.Request.Kind != types.KindWatchTests {
		return types.Request{}, false
	}
	replacement := p.Request.Clone()
	replacement.Kind = types.KindWatchAllTests
	replacement.Attempt = 0
	replacement.ParentProcessID = ""
	return replacement, true
}

// LoginShellReplacement returns the request to reschedule after the login
// shell has been enabled.
func LoginShellReplacement(p Process) types.Request {
	return p.Request.Retry(p.ID)
}

// SnapshotUpdate returns the update-snapshot request that re-runs p's
// request with snapshot updating, when p's output reported snapshot
// failures. Requests that already update snapshots yield none.
func SnapshotUpdate(p Process) (types.Request, bool) {
	if p.Request.Kind == types.KindUpdateSnapshot || p.Request.UpdateSnapshot {
		return types.Request{}, false
	}
	if p.Request.Kind == types.KindListTestFiles || p.Request.Kind == types.KindNotTest || p.Request.IsWatch() {
		return types.Request{}, false
	}
	base := p.Request.Clone()
	base.Attempt = 0
	base.ParentProcessID = ""
	return types.Request{Kind: types.KindUpdateSnapshot, Base: &base}, true
}
