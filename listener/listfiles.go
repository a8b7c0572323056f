package listener

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/pithecene-io/vigil/marker"
	"github.com/pithecene-io/vigil/policy"
	"github.com/pithecene-io/vigil/runtime"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

// ListErrorKind classifies a failed listing probe.
type ListErrorKind string

const (
	// ListErrorExit is a nonzero exit of the probe.
	ListErrorExit ListErrorKind = "exit"
	// ListErrorParse is output that looked like a file list but did not parse.
	ListErrorParse ListErrorKind = "parse"
	// ListErrorStopped is a probe stopped on demand before completing.
	ListErrorStopped ListErrorKind = "stopped"
)

// ListError is reported to a ListTestFiles callback.
type ListError struct {
	Kind     ListErrorKind
	ExitCode int
	Stderr   string
	// Raw is the accumulated stdout, kept for diagnostics.
	Raw string
}

func (e *ListError) Error() string {
	switch e.Kind {
	case ListErrorParse:
		return "list test files: output is not a file list"
	case ListErrorStopped:
		return "list test files: stopped"
	default:
		if msg := strings.TrimSpace(e.Stderr); msg != "" {
			return fmt.Sprintf("list test files: exit code %d: %s", e.ExitCode, msg)
		}
		return fmt.Sprintf("list test files: exit code %d", e.ExitCode)
	}
}

// ListCallback receives the probe's result exactly once.
type ListCallback func(files []string, err error)

// ListTestFiles accumulates a listing probe's stdout and reports the
// flattened file list on close.
type ListTestFiles struct {
	base
	callback ListCallback
	stdout   strings.Builder
	stderr   strings.Builder
}

// NewListTestFiles creates a listener for one list-test-files process.
func NewListTestFiles(hooks Hooks, callback ListCallback) *ListTestFiles {
	return &ListTestFiles{base: newBase(hooks), callback: callback}
}

// OnNotification implements scheduler.Listener.
func (l *ListTestFiles) OnNotification(p *scheduler.Process, n runtime.Notification) {
	switch n.Kind {
	case runtime.NotifyOutput:
		l.stdout.WriteString(n.Text)
	case runtime.NotifyStdErr:
		l.observeStdErr(p, n.Text)
		l.stderr.WriteString(stripansi.Strip(n.Text))
	case runtime.NotifyTerminalError:
		l.observeTerminalError(p, n.Text)
		l.stderr.WriteString(n.Text)
	case runtime.NotifyExit:
		l.observeExit(n)
	case runtime.NotifyClose:
		l.onClose(p, n)
	}
}

func (l *ListTestFiles) onClose(p *scheduler.Process, n runtime.Notification) {
	exit := l.finalExit(n)
	outcome := policy.Evaluate(l.view(p, ""), exit, l.shell())
	if l.retryLoginShell(p, outcome, exit, NewListTestFiles(l.hooks, l.callback)) {
		return
	}

	files, err := l.result(p, exit)
	if l.callback != nil {
		l.callback(files, err)
	}

	var errMsg string
	if err != nil {
		errMsg = err.Error()
		var le *ListError
		if !errors.As(err, &le) || le.Kind != ListErrorStopped {
			p.Logger().Warn("listing probe failed", map[string]any{"error": errMsg})
		}
	}
	p.Emit(types.RunEvent{
		Type:      types.EventExit,
		Error:     errMsg,
		ExitCode:  exit.Code,
		CodeKnown: exit.CodeKnown,
		Signal:    exit.Signal,
	})
}

func (l *ListTestFiles) result(p *scheduler.Process, exit policy.Exit) ([]string, error) {
	raw := l.stdout.String()
	if p.StopReason() == types.StopOnDemand {
		return nil, &ListError{Kind: ListErrorStopped, Raw: raw}
	}
	if !exit.CodeKnown || exit.Code != 0 {
		code := exit.Code
		if !exit.CodeKnown {
			code = -1
		}
		return nil, &ListError{Kind: ListErrorExit, ExitCode: code, Stderr: l.stderr.String(), Raw: raw}
	}

	files, found := marker.ExtractFileLists(raw)
	if !found {
		if strings.HasPrefix(strings.TrimSpace(raw), "[") {
			return nil, &ListError{Kind: ListErrorParse, Stderr: l.stderr.String(), Raw: raw}
		}
		return []string{}, nil
	}
	return files, nil
}
