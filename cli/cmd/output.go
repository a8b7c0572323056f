package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pithecene-io/vigil/adapter"
	"github.com/pithecene-io/vigil/ipc"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/types"
)

// Event output formats for run and watch.
const (
	eventsText   = "text"
	eventsFrames = "frames"
	eventsNone   = "none"
)

func parseEventFormat(s string) (string, error) {
	switch f := strings.ToLower(s); f {
	case "", eventsText:
		return eventsText, nil
	case eventsFrames, eventsNone:
		return f, nil
	}
	return "", fmt.Errorf("invalid --format %q (must be text, frames or none)", s)
}

// eventHandler returns the bus handler that prints events in format.
// Frames go to out; text goes to out as runner output plus one status line
// per process transition.
func eventHandler(format string, out io.Writer, sessionID string, logger *log.Logger) func(types.RunEvent) {
	switch format {
	case eventsFrames:
		return ipc.NewFrameEncoder(out, sessionID, logger).Handle
	case eventsText:
		p := &textPrinter{out: out}
		return p.handle
	}
	return func(types.RunEvent) {}
}

type textPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *textPrinter) handle(e types.RunEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := e.ProcessID
	if len(id) > 8 {
		id = id[:8]
	}
	switch e.Type {
	case types.EventStart:
		fmt.Fprintf(p.out, "▶ %s %s\n", id, describe(e.Request))
	case types.EventData:
		fmt.Fprint(p.out, e.Text)
		if !strings.HasSuffix(e.Text, "\n") {
			fmt.Fprintln(p.out)
		}
	case types.EventLongRun:
		fmt.Fprintf(p.out, "… %s still running after %s\n", id, e.Threshold)
	case types.EventEnd:
		if e.HasError() && !e.ErrorAlreadyReported {
			fmt.Fprintf(p.out, "✗ %s %s\n", id, e.Error)
		}
	case types.EventExit:
		fmt.Fprintf(p.out, "■ %s %s %s\n", id, describe(e.Request), adapter.Outcome(e))
	}
}

func describe(req types.Request) string {
	parts := []string{string(req.Kind)}
	if req.TestFile != "" {
		parts = append(parts, req.TestFile)
	}
	if req.FilePattern != "" {
		parts = append(parts, req.FilePattern)
	}
	if req.TestName != "" {
		parts = append(parts, fmt.Sprintf("%q", req.TestName))
	}
	return strings.Join(parts, " ")
}
