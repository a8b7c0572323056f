package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/vigil/adapter"
	"github.com/pithecene-io/vigil/cli/config"
	"github.com/pithecene-io/vigil/log"
	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/session"
	"github.com/pithecene-io/vigil/types"
)

// Exit codes for run.
const (
	exitSuccess     = 0
	exitTestFailure = 1
	exitUsage       = 2
)

// RunCommand returns the one-shot run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run tests once and exit with the outcome",
		Flags: append(SessionFlags(),
			&cli.StringFlag{Name: "file", Usage: "Run one file (source files run their related tests)"},
			&cli.StringFlag{Name: "test", Usage: "Test name pattern"},
			&cli.StringFlag{Name: "pattern", Usage: "Test path pattern"},
			&cli.BoolFlag{Name: "update-snapshot", Usage: "Update snapshots for the selected tests"},
			&cli.StringFlag{Name: "format", Usage: "Event output: text, frames or none", Value: eventsText},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Suppress the result summary"},
		),
		Action: runAction,
	}
}

// RunSummary is printed after a run.
type RunSummary struct {
	ProcessID string `json:"process_id"`
	Outcome   string `json:"outcome"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Tests     int    `json:"tests"`
	Passed    int    `json:"passed"`
	Failed    int    `json:"failed"`
	Duration  string `json:"duration"`
}

func runAction(c *cli.Context) error {
	format, err := parseEventFormat(c.String("format"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	req, err := buildRequest(c.String("file"), c.String("test"), c.String("pattern"), c.Bool("update-snapshot"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	st, err := newStack(c, cfg, stackOptions{})
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	out := os.Stderr
	if format == eventsFrames {
		out = os.Stdout
	}
	st.session.Bus().SubscribeAll(eventHandler(format, out, st.session.ID(), st.logger))
	tracker := newOutcomeTracker()
	st.session.Bus().SubscribeAll(tracker.handle)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	started := time.Now()
	p, err := st.session.Run(ctx, req)
	if err != nil {
		st.closeAndLog()
		return cli.Exit(fmt.Sprintf("cannot schedule run: %v", err), exitUsage)
	}
	tracker.setRoot(p.ID())

	var exit types.RunEvent
	select {
	case exit = <-tracker.done:
	case <-ctx.Done():
		// Interrupted: Close stops the process and the stop exit arrives
		// through the tracker before the bus drains.
	}
	closeErr := st.Close()
	if exit.Type == "" {
		select {
		case exit = <-tracker.done:
		default:
		}
	}

	results := st.session.LatestResults()
	code := runExitCode(exit, results)
	if !c.Bool("quiet") && format != eventsFrames {
		printSummary(p, exit, results, time.Since(started))
	}
	if closeErr != nil {
		st.logger.Warn("session close reported errors", map[string]any{"error": closeErr.Error()})
	}
	return cli.Exit("", code)
}

// newStack resolves settings and wires a session.
func newStack(c *cli.Context, cfg *config.Config, opts stackOptions) (*stack, error) {
	level, err := log.ParseLevel(resolveString(c, "log-level", cfg.LogLevel))
	if err != nil {
		return nil, err
	}
	s, err := resolveSettings(c, cfg, log.NewLogger("", level))
	if err != nil {
		return nil, err
	}
	return buildStack(s, opts)
}

func buildRequest(file, test, pattern string, updateSnapshot bool) (types.Request, error) {
	var req types.Request
	switch {
	case file != "" && pattern != "":
		return req, errors.New("--file and --pattern are mutually exclusive")
	case file != "" && test != "":
		req = types.Request{Kind: types.KindByFileTest, TestFile: file, TestName: test}
	case file != "":
		req = types.Request{Kind: types.KindByFile, TestFile: file, NotTestFile: !session.IsTestFile(file)}
	case pattern != "" && test != "":
		req = types.Request{Kind: types.KindByFileTestPattern, FilePattern: pattern, TestName: test}
	case pattern != "":
		req = types.Request{Kind: types.KindByFilePattern, FilePattern: pattern}
	case test != "":
		return req, errors.New("--test needs --file or --pattern")
	default:
		req = types.Request{Kind: types.KindAllTests}
	}
	if updateSnapshot {
		base := req
		req = types.Request{Kind: types.KindUpdateSnapshot, Base: &base}
	}
	return req, nil
}

func runExitCode(exit types.RunEvent, results *types.TotalResults) int {
	if exit.Type == "" {
		return exitTestFailure
	}
	if adapter.Outcome(exit) != adapter.OutcomeSuccess || results.Failed() {
		return exitTestFailure
	}
	return exitSuccess
}

func printSummary(p *scheduler.Process, exit types.RunEvent, results *types.TotalResults, d time.Duration) {
	s := RunSummary{ProcessID: p.ID(), Outcome: "interrupted", Duration: d.Round(time.Millisecond).String()}
	if exit.Type != "" {
		s.ProcessID = exit.ProcessID
		s.Outcome = adapter.Outcome(exit)
		if exit.CodeKnown {
			code := exit.ExitCode
			s.ExitCode = &code
		}
	}
	if results != nil {
		s.Tests, s.Passed, s.Failed = results.NumTotalTests, results.NumPassedTests, results.NumFailedTests
	}
	fmt.Printf("\nprocess=%s outcome=%s tests=%d passed=%d failed=%d duration=%s\n",
		s.ProcessID, s.Outcome, s.Tests, s.Passed, s.Failed, s.Duration)
}

// outcomeTracker finds the final exit of a run, following login-shell
// and watch-fallback replacements through their parent process ids.
type outcomeTracker struct {
	mu     sync.Mutex
	parent map[string]string
	exits  map[string]types.RunEvent
	root   string
	fired  bool
	done   chan types.RunEvent
}

func newOutcomeTracker() *outcomeTracker {
	return &outcomeTracker{
		parent: make(map[string]string),
		exits:  make(map[string]types.RunEvent),
		done:   make(chan types.RunEvent, 1),
	}
}

func (t *outcomeTracker) handle(e types.RunEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.parent[e.ProcessID]; !ok {
		t.parent[e.ProcessID] = e.Request.ParentProcessID
	}
	if e.Type == types.EventExit && !e.Retried {
		t.exits[e.ProcessID] = e
	}
	t.checkLocked()
}

func (t *outcomeTracker) setRoot(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = id
	t.checkLocked()
}

func (t *outcomeTracker) checkLocked() {
	if t.root == "" || t.fired {
		return
	}
	for id, e := range t.exits {
		if t.descendsLocked(id) {
			t.fired = true
			t.done <- e
			return
		}
	}
}

func (t *outcomeTracker) descendsLocked(id string) bool {
	for hops := 0; id != "" && hops <= len(t.parent); hops++ {
		if id == t.root {
			return true
		}
		id = t.parent[id]
	}
	return false
}
