package marker

import (
	"reflect"
	"testing"
)

func TestScan_RunStart(t *testing.T) {
	m := Scan("onRunStart: numTotalTestSuites: 12\n")
	if !m.RunStart || m.TotalSuites != 12 {
		t.Fatalf("Scan() = %+v, want run start with 12 suites", m)
	}

	bare := Scan("onRunStart\n")
	if !bare.RunStart || bare.TotalSuites != 0 {
		t.Fatalf("Scan() = %+v, want run start with unknown suites", bare)
	}
}

func TestScan_RunComplete(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		execError string
	}{
		{"plain", "onRunComplete\n", ""},
		{"exec error", "onRunComplete: execError: Cannot find module 'x'\n", "Cannot find module 'x'"},
		{"exec error mid chunk", "noise\nonRunComplete: execError: boom\nmore", "boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Scan(tt.text)
			if !m.RunComplete {
				t.Fatal("run complete not recognized")
			}
			if m.ExecError != tt.execError {
				t.Errorf("ExecError = %q, want %q", m.ExecError, tt.execError)
			}
		})
	}
}

func TestScan_TestFileErrors(t *testing.T) {
	if !Scan("onTestFileResult: encountered errors\n").TestFileErrors {
		t.Fatal("per-file error marker not recognized")
	}
	if Scan("onTestFileResult: ok\n").TestFileErrors {
		t.Fatal("per-file success misread as errors")
	}
}

func TestIsWatchUnsupported(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"--watch is not supported without git/hg, please use --watchAll\n", true},
		{"  --watch is not supported without git/hg, please use --watchAll", true},
		{"FAIL\n  ● Test suite failed to run\n\n    fatal: /tmp/x: '/tmp/x' is outside repository\n", true},
		{"fatal: is outside repository", false},
		{"PASS src/a.test.js", false},
	}
	for _, tt := range tests {
		if got := IsWatchUnsupported(tt.text); got != tt.want {
			t.Errorf("IsWatchUnsupported(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestStripControl(t *testing.T) {
	in := "onRunStart: numTotalTestSuites: 2\nPASS a.test.js\nTest results written to /tmp/out.json\nonRunComplete\nTests: 2 passed\n"
	want := "PASS a.test.js\nonRunComplete\nTests: 2 passed\n"
	if got := StripControl(in); got != want {
		t.Fatalf("StripControl() = %q, want %q", got, want)
	}
}

func TestScan_SnapshotFailure(t *testing.T) {
	for _, text := range []string{
		"Snapshot `renders 1` failed",
		"› 2 snapshots failed from 1 test suite.",
		"1 snapshot failed.",
	} {
		if !Scan(text).SnapshotFailure {
			t.Errorf("snapshot failure not recognized in %q", text)
		}
	}
	if Scan("Snapshots: 3 passed").SnapshotFailure {
		t.Error("passing snapshots misread as failure")
	}
}

func TestEnvErrorDetector(t *testing.T) {
	d := NewEnvErrorDetector()
	tests := []struct {
		text string
		want bool
	}{
		{"/bin/sh: npx: command not found", true},
		{"env: node: No such file or directory", false},
		{"sh: 1: jest: not found\nsh: jest: command not found", false},
		{"react-scripts: command not found", false},
		{"ok line\n/bin/sh: yarn: command not found\n", true},
		{"PASS everything", false},
	}
	for _, tt := range tests {
		if got := d.Match(tt.text); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestExtractFileLists(t *testing.T) {
	tests := []struct {
		name      string
		buf       string
		want      []string
		wantFound bool
	}{
		{
			name:      "concatenated arrays",
			buf:       `["/a.js"]` + `["/b.js","/a.js"]`,
			want:      []string{"/a.js", "/b.js"},
			wantFound: true,
		},
		{
			name:      "interleaved logs",
			buf:       "Determining test suites [2/3]\n[\"/x.test.js\"]\nDone in 0.3s\n",
			want:      []string{"/x.test.js"},
			wantFound: true,
		},
		{
			name:      "empty array",
			buf:       "[]\n",
			want:      []string{},
			wantFound: true,
		},
		{
			name:      "no array",
			buf:       "No tests found\n",
			want:      []string{},
			wantFound: false,
		},
		{
			name:      "truncated array",
			buf:       `["/a.js",`,
			want:      []string{},
			wantFound: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ExtractFileLists(tt.buf)
			if found != tt.wantFound {
				t.Errorf("found = %v, want %v", found, tt.wantFound)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("files = %q, want %q", got, tt.want)
			}
		})
	}
}
