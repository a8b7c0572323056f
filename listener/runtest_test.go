package listener

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/vigil/scheduler"
	"github.com/pithecene-io/vigil/types"
)

const (
	runStartLine    = "onRunStart: numTotalTestSuites: 3\n"
	runCompleteLine = "onRunComplete: numFailedTests: 1\n"
	fileErrorsLine  = "onTestFileResult: encountered errors\n"
)

func TestRunTest_Lifecycle(t *testing.T) {
	h := newHarness(t)
	hooks := h.hooks()
	var ingested []*types.TotalResults
	hooks.UpdateWithData = func(results *types.TotalResults, _ *scheduler.Process) {
		ingested = append(ingested, results)
	}

	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: hooks}))
	sp.StdErr(runStartLine)
	sp.StdErr("PASS src/a.test.js\n")
	sp.StdErr(fileErrorsLine)
	sp.StdErr(fileErrorsLine)
	sp.JSON(&types.TotalResults{NumTotalTests: 4, NumFailedTests: 1})
	sp.StdErr(runCompleteLine)
	sp.Close(1)
	waitDone(t, p)

	events := h.rec.forProcess(p.ID())
	want := []types.RunEventType{
		types.EventScheduled, types.EventStart, types.EventData, types.EventData,
		types.EventTestError, types.EventData, types.EventEnd, types.EventExit,
	}
	if got := eventTypes(events); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[1].TotalSuites != 3 {
		t.Errorf("start TotalSuites = %d, want 3", events[1].TotalSuites)
	}
	if events[2].Text != "PASS src/a.test.js\n" {
		t.Errorf("data text = %q", events[2].Text)
	}
	exit := lastEvent(t, events)
	if exit.HasError() || exit.ExitCode != 1 || !exit.CodeKnown {
		t.Errorf("exit = %+v, want clean code 1", exit)
	}
	if len(ingested) != 1 || ingested[0].NumFailedTests != 1 {
		t.Errorf("UpdateWithData got %d payloads", len(ingested))
	}
	if p.Status() != types.StatusDone {
		t.Errorf("status = %s, want done", p.Status())
	}
}

func TestRunTest_ControlLinesStripped(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr("\x1b[32mPASS\x1b[0m a.test.js\nTest results written to /tmp/out.json\n")
	sp.Close(0)
	waitDone(t, p)

	for _, e := range h.rec.forProcess(p.ID()) {
		if e.Type != types.EventData {
			continue
		}
		if e.Text != "PASS a.test.js\n" {
			t.Errorf("data text = %q, want ANSI and control lines removed", e.Text)
		}
		if !strings.Contains(e.Raw, "\x1b[32m") {
			t.Errorf("data raw = %q, want original text", e.Raw)
		}
	}
}

func TestRunTest_ExecErrorReportedOnce(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr(runStartLine)
	sp.StdErr("onRunComplete: execError: Cannot find module 'x'\n")
	sp.Close(2)
	waitDone(t, p)

	events := h.rec.forProcess(p.ID())
	var end types.RunEvent
	for _, e := range events {
		if e.Type == types.EventEnd {
			end = e
		}
	}
	if end.Error != "Cannot find module 'x'" {
		t.Fatalf("end error = %q", end.Error)
	}
	exit := lastEvent(t, events)
	if exit.Error != end.Error || !exit.ErrorAlreadyReported {
		t.Fatalf("exit = %+v, want same error flagged as already reported", exit)
	}
	if p.Status() != types.StatusExecError {
		t.Errorf("status = %s, want exec-error", p.Status())
	}
}

func TestRunTest_SynthesizedExitError(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.Close(3)
	waitDone(t, p)

	exit := lastEvent(t, h.rec.forProcess(p.ID()))
	want := fmt.Sprintf("process %s exited with code= 3", p.ID())
	if exit.Error != want || exit.ErrorAlreadyReported {
		t.Fatalf("exit = %+v, want %q", exit, want)
	}
}

func TestRunTest_SpawnFailure(t *testing.T) {
	h := newHarness(t)
	h.backend.SpawnErr = fmt.Errorf("fork/exec /bin/sh: permission denied")
	p, err := h.sched.Admit(t.Context(), types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	exit := lastEvent(t, h.rec.forProcess(p.ID()))
	if exit.Type != types.EventExit || !strings.Contains(exit.Error, "permission denied") {
		t.Fatalf("exit = %+v, want spawn error", exit)
	}
	if p.Status() != types.StatusExecError {
		t.Errorf("status = %s, want exec-error", p.Status())
	}
}

func TestRunTest_WatchCrashOnCleanExit(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindWatchTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr(runStartLine)
	sp.StdErr(runCompleteLine)
	sp.Close(0)
	waitDone(t, p)

	events := h.rec.forProcess(p.ID())
	exit := lastEvent(t, events)
	if exit.Type != types.EventExit || !strings.Contains(exit.Error, "ended unexpectedly") {
		t.Fatalf("exit = %+v, want watch crash error", exit)
	}
	if countType(events, types.EventEnd) != 1 {
		t.Errorf("end events = %d, want 1 (deferred to close)", countType(events, types.EventEnd))
	}
	if p.StopReason() != types.StopCrash {
		t.Errorf("stop reason = %q, want crash", p.StopReason())
	}
	if h.metrics.Snapshot().WatchCrashes != 1 {
		t.Errorf("WatchCrashes = %d, want 1", h.metrics.Snapshot().WatchCrashes)
	}
}

func TestRunTest_WatchStoppedOnDemand(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindWatchTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr(runStartLine)

	if err := <-h.sched.Stop(t.Context(), p); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	exit := lastEvent(t, h.rec.forProcess(p.ID()))
	if exit.Type != types.EventExit || exit.HasError() {
		t.Fatalf("exit = %+v, want clean exit", exit)
	}
	if exit.Signal != "SIGTERM" {
		t.Errorf("exit signal = %q, want SIGTERM", exit.Signal)
	}
}

func TestRunTest_WatchCycleExecErrorSurfaced(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindWatchTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	const execErr = "onRunComplete: execError: Cannot find module 'x'\n"
	sp.StdErr(runStartLine)
	sp.StdErr(execErr)
	sp.StdErr(execErr)
	sp.StdErr(runStartLine)
	sp.StdErr(execErr)
	<-h.sched.Stop(t.Context(), p)

	var reported []types.RunEvent
	for _, e := range h.rec.forProcess(p.ID()) {
		if e.Type == types.EventData && e.IsError {
			reported = append(reported, e)
		}
	}
	if len(reported) != 2 {
		t.Fatalf("error data events = %d, want one per cycle", len(reported))
	}
	if reported[0].Text != "Cannot find module 'x'" {
		t.Errorf("error text = %q", reported[0].Text)
	}
	if p.Status() != types.StatusStopped {
		t.Errorf("status = %s, want stopped", p.Status())
	}
}

func TestRunTest_WatchRunsManyCycles(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindWatchAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	for range 3 {
		sp.StdErr(runStartLine)
		sp.StdErr(fileErrorsLine)
		sp.StdErr(runCompleteLine)
	}
	<-h.sched.Stop(t.Context(), p)

	events := h.rec.forProcess(p.ID())
	if n := countType(events, types.EventTestError); n != 3 {
		t.Errorf("test-error events = %d, want one per cycle", n)
	}
	if n := countType(events, types.EventStart); n != 1 {
		t.Errorf("start events = %d, want 1", n)
	}
	if n := countType(events, types.EventEnd); n != 1 {
		t.Errorf("end events = %d, want 1", n)
	}
}

func TestRunTest_LoginShellRetry(t *testing.T) {
	h := newHarness(t)
	first, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	if sp.Spec.LoginShell {
		t.Fatal("first attempt should not use a login shell")
	}
	sp.StdErr("/bin/sh: 1: npx: command not found\n")
	sp.Close(127)
	waitDone(t, first)

	events := h.rec.forProcess(first.ID())
	exit := lastEvent(t, events)
	if exit.HasError() || !exit.Retried {
		t.Fatalf("first exit = %+v, want silent retried exit", exit)
	}
	if !h.shell.UseLoginShell() {
		t.Fatal("login shell not enabled")
	}

	retry := h.next(t)
	if !retry.Spec.LoginShell {
		t.Error("retry should use the login shell")
	}
	if retry.Spec.Request.Attempt != 2 || retry.Spec.Request.ParentProcessID != first.ID() {
		t.Errorf("retry lineage = attempt %d parent %q", retry.Spec.Request.Attempt, retry.Spec.Request.ParentProcessID)
	}

	retry.StdErr("/bin/sh: 1: npx: command not found\n")
	retry.Close(127)

	retryEvents := h.rec.forProcess(retry.Spec.ProcessID)
	retryExit := lastEvent(t, retryEvents)
	if !retryExit.HasError() || retryExit.Retried {
		t.Fatalf("second exit = %+v, want reported error", retryExit)
	}
	if n := len(h.backend.Processes()); n != 2 {
		t.Errorf("spawned %d processes, want 2 (no infinite retry)", n)
	}
	if h.metrics.Snapshot().LoginShellRetries != 1 {
		t.Errorf("LoginShellRetries = %d, want 1", h.metrics.Snapshot().LoginShellRetries)
	}
}

func TestRunTest_NotFoundNamingRunnerIsNotRetried(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr("jest: tests reference a command not found\n")
	sp.Close(127)
	waitDone(t, p)

	if h.shell.UseLoginShell() {
		t.Fatal("login shell enabled for runner output")
	}
	if exit := lastEvent(t, h.rec.forProcess(p.ID())); !exit.HasError() {
		t.Fatalf("exit = %+v, want reported error", exit)
	}
}

func TestRunTest_WatchUnsupportedFallback(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindWatchTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr("--watch is not supported without git/hg, please use --watchAll\n")

	replacement := h.next(t)
	waitDone(t, p)

	if replacement.Spec.Request.Kind != types.KindWatchAllTests {
		t.Fatalf("replacement kind = %s, want watch-all-tests", replacement.Spec.Request.Kind)
	}
	exit := lastEvent(t, h.rec.forProcess(p.ID()))
	if exit.HasError() || !exit.Retried {
		t.Fatalf("exit = %+v, want silent retried exit", exit)
	}
	if h.metrics.Snapshot().WatchFallbacks != 1 {
		t.Errorf("WatchFallbacks = %d, want 1", h.metrics.Snapshot().WatchFallbacks)
	}
}

func TestRunTest_WatchUnsupportedIgnoredOutsideWatch(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{Hooks: h.hooks()}))
	sp.StdErr("--watch is not supported without git/hg, please use --watchAll\n")
	sp.Close(0)
	waitDone(t, p)

	if n := len(h.backend.Processes()); n != 1 {
		t.Fatalf("spawned %d processes, want no fallback", n)
	}
}

func TestRunTest_SnapshotFollowUp(t *testing.T) {
	h := newHarness(t)
	hooks := h.hooks()
	var offered []types.Request
	hooks.SnapshotUpdate = func(_ *scheduler.Process, req types.Request) {
		offered = append(offered, req)
	}
	base := types.Request{Kind: types.KindByFile, TestFile: "/src/a.test.js"}
	p, sp := h.start(t, base, NewRunTest(RunTestOptions{Hooks: hooks, SnapshotUpdates: true}))
	sp.StdErr("› 1 snapshot failed.\n")
	sp.StdErr("› 2 snapshots failed from 1 test suite.\n")
	sp.Close(1)
	waitDone(t, p)

	if len(offered) != 1 {
		t.Fatalf("offered %d snapshot updates, want 1", len(offered))
	}
	if offered[0].Kind != types.KindUpdateSnapshot || offered[0].Base == nil || offered[0].Base.TestFile != base.TestFile {
		t.Errorf("offered = %+v", offered[0])
	}
	if err := offered[0].Validate(); err != nil {
		t.Errorf("offered request invalid: %v", err)
	}
}

func TestRunTest_LongRunFiresOnce(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{
		Hooks:            h.hooks(),
		LongRunThreshold: 100 * time.Millisecond,
	}))
	sp.StdErr(runStartLine)
	sp.StdErr(runStartLine)
	time.Sleep(500 * time.Millisecond)
	sp.StdErr(runCompleteLine)
	sp.Close(0)
	waitDone(t, p)

	events := h.rec.forProcess(p.ID())
	if n := countType(events, types.EventLongRun); n != 1 {
		t.Fatalf("long-run events = %d, want 1", n)
	}
	for _, e := range events {
		if e.Type == types.EventLongRun {
			if e.Threshold != 100*time.Millisecond || e.TotalSuites != 3 {
				t.Errorf("long-run = %+v", e)
			}
		}
	}
}

func TestRunTest_FastRunNoLongRun(t *testing.T) {
	h := newHarness(t)
	p, sp := h.start(t, types.Request{Kind: types.KindAllTests}, NewRunTest(RunTestOptions{
		Hooks:            h.hooks(),
		LongRunThreshold: 100 * time.Millisecond,
	}))
	sp.StdErr(runStartLine)
	sp.StdErr(runCompleteLine)
	sp.Close(0)
	waitDone(t, p)
	time.Sleep(200 * time.Millisecond)

	if n := countType(h.rec.forProcess(p.ID()), types.EventLongRun); n != 0 {
		t.Fatalf("long-run events = %d, want 0", n)
	}
}
