package listener

import (
	"errors"
	"reflect"
	"testing"

	"github.com/pithecene-io/vigil/types"
)

type listResult struct {
	calls int
	files []string
	err   error
}

func (r *listResult) callback(files []string, err error) {
	r.calls++
	r.files = files
	r.err = err
}

func listRequest() types.Request {
	return types.Request{Kind: types.KindListTestFiles}
}

func TestListTestFiles_RoundTrip(t *testing.T) {
	h := newHarness(t)
	var res listResult
	p, sp := h.start(t, listRequest(), NewListTestFiles(h.hooks(), res.callback))
	sp.Output(`["/a.js"]`)
	sp.Output("\nDetermining test suites...\n")
	sp.Output(`["/b.js","/a.js"]`)
	sp.Close(0)
	waitDone(t, p)

	if res.calls != 1 || res.err != nil {
		t.Fatalf("callback calls = %d err = %v", res.calls, res.err)
	}
	if want := []string{"/a.js", "/b.js"}; !reflect.DeepEqual(res.files, want) {
		t.Fatalf("files = %v, want %v", res.files, want)
	}
	if exit := lastEvent(t, h.rec.forProcess(p.ID())); exit.HasError() {
		t.Errorf("exit = %+v, want clean", exit)
	}
}

func TestListTestFiles_NoArrayIsEmpty(t *testing.T) {
	h := newHarness(t)
	var res listResult
	p, sp := h.start(t, listRequest(), NewListTestFiles(h.hooks(), res.callback))
	sp.Output("No tests found\n")
	sp.Close(0)
	waitDone(t, p)

	if res.err != nil || res.files == nil || len(res.files) != 0 {
		t.Fatalf("result = %v, %v; want empty list", res.files, res.err)
	}
}

func TestListTestFiles_ParseError(t *testing.T) {
	h := newHarness(t)
	var res listResult
	p, sp := h.start(t, listRequest(), NewListTestFiles(h.hooks(), res.callback))
	sp.Output(`["/a.js", `)
	sp.Close(0)
	waitDone(t, p)

	var le *ListError
	if !errors.As(res.err, &le) || le.Kind != ListErrorParse {
		t.Fatalf("err = %v, want parse error", res.err)
	}
	if le.Raw != `["/a.js", ` {
		t.Errorf("Raw = %q", le.Raw)
	}
}

func TestListTestFiles_NonZeroExit(t *testing.T) {
	h := newHarness(t)
	var res listResult
	p, sp := h.start(t, listRequest(), NewListTestFiles(h.hooks(), res.callback))
	sp.StdErr("Error: Could not find a config file\n")
	sp.Close(1)
	waitDone(t, p)

	var le *ListError
	if !errors.As(res.err, &le) || le.Kind != ListErrorExit || le.ExitCode != 1 {
		t.Fatalf("err = %v, want exit error with code 1", res.err)
	}
	if le.Stderr != "Error: Could not find a config file\n" {
		t.Errorf("Stderr = %q", le.Stderr)
	}
	if exit := lastEvent(t, h.rec.forProcess(p.ID())); exit.Error != le.Error() {
		t.Errorf("exit error = %q, want %q", exit.Error, le.Error())
	}
}

func TestListTestFiles_Stopped(t *testing.T) {
	h := newHarness(t)
	var res listResult
	p, _ := h.start(t, listRequest(), NewListTestFiles(h.hooks(), res.callback))
	<-h.sched.Stop(t.Context(), p)

	var le *ListError
	if !errors.As(res.err, &le) || le.Kind != ListErrorStopped {
		t.Fatalf("err = %v, want stopped", res.err)
	}
}

func TestListTestFiles_LoginShellRetry(t *testing.T) {
	h := newHarness(t)
	var res listResult
	p, sp := h.start(t, listRequest(), NewListTestFiles(h.hooks(), res.callback))
	sp.StdErr("sh: npx: command not found\n")
	sp.Close(127)
	waitDone(t, p)

	if res.calls != 0 {
		t.Fatalf("callback called %d times before retry finished", res.calls)
	}
	retry := h.next(t)
	if !retry.Spec.LoginShell {
		t.Fatal("retry should use the login shell")
	}
	retry.Output(`["/a.js"]`)
	retry.Close(0)

	if res.calls != 1 || res.err != nil || !reflect.DeepEqual(res.files, []string{"/a.js"}) {
		t.Fatalf("result after retry = %d %v %v", res.calls, res.files, res.err)
	}
}
