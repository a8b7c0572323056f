// Package runtime is the process backend: it turns a run request into a
// runner invocation and reports the process's output and lifecycle as a
// sequential stream of notifications.
package runtime

import (
	"context"

	"github.com/pithecene-io/vigil/types"
)

// NotificationKind classifies a process notification.
type NotificationKind string

const (
	// NotifyStdErr carries a chunk of stderr text.
	NotifyStdErr NotificationKind = "executable-stderr"
	// NotifyJSON carries the structured total-results payload.
	NotifyJSON NotificationKind = "executable-json"
	// NotifyOutput carries a chunk of stdout text.
	NotifyOutput NotificationKind = "executable-output"
	// NotifyTerminalError reports a spawn or I/O failure.
	NotifyTerminalError NotificationKind = "terminal-error"
	// NotifyExit reports process exit; stdio may still be draining.
	NotifyExit NotificationKind = "process-exit"
	// NotifyClose reports process exit with all stdio drained. Always last.
	NotifyClose NotificationKind = "process-close"
)

// Notification is one raw signal from a runner process.
type Notification struct {
	Kind NotificationKind
	// Text is set for stderr, output and terminal-error notifications.
	Text string
	// Results is set for JSON notifications.
	Results *types.TotalResults
	// Code is the exit code; valid when CodeKnown is set.
	Code      int
	CodeKnown bool
	// Signal names the terminating signal, if any.
	Signal string
}

// Handler receives notifications for one process. A backend calls it
// sequentially, never concurrently for the same process, and delivers
// NotifyClose exactly once as the final notification.
type Handler func(Notification)

// SpawnSpec describes one invocation.
type SpawnSpec struct {
	ProcessID string
	Request   types.Request
	// LoginShell runs the command line through a login shell.
	LoginShell bool
}

// Handle controls a spawned process.
type Handle interface {
	// Stop terminates the process and waits until NotifyClose has been
	// delivered or ctx is done.
	Stop(ctx context.Context) error
	// Done is closed after NotifyClose has been delivered.
	Done() <-chan struct{}
}

// Backend spawns runner processes.
type Backend interface {
	// Spawn starts the process described by spec. OS-level start failures
	// are reported through handler (NotifyTerminalError then NotifyClose),
	// not as an error; a returned error means nothing was started and no
	// notification will follow.
	Spawn(ctx context.Context, spec SpawnSpec, handler Handler) (Handle, error)
}
