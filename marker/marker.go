// Package marker isolates the textual protocol parsed from the runner's
// output stream. The trigger substrings are fixed by the runner's reporter
// and must match verbatim.
package marker

import (
	"regexp"
	"strconv"
	"strings"
)

// Trigger substrings emitted by the runner reporter.
const (
	RunStart       = "onRunStart"
	RunComplete    = "onRunComplete"
	TestFileErrors = "onTestFileResult: encountered errors"
	ResultsWritten = "Test results written to"
)

var (
	runStartSuitesRe = regexp.MustCompile(`(?im)onRunStart: numTotalTestSuites: ((\d)+)`)
	execErrorRe      = regexp.MustCompile(`(?im)onRunComplete: execError: (.*)`)
	controlLineRe    = regexp.MustCompile(`(?im)^(onRunStart|onRunComplete|Test results written to)[^\n]+\n`)
	watchNoGitRe     = regexp.MustCompile(`(?im)^\s*--watch is not supported without git/hg, please use --watchAll`)
	outsideRepoRe    = regexp.MustCompile(`(?i)Test suite failed to run[\s\S]*fatal:[\s\S]*is outside repository`)
	snapshotFailRe   = regexp.MustCompile(`(?i)Snapshot .* failed|snapshots? failed`)
)

// Markers is the set of protocol markers recognized in one chunk of output.
type Markers struct {
	RunStart bool
	// TotalSuites is the announced suite count; 0 when absent.
	TotalSuites    int
	TestFileErrors bool
	RunComplete    bool
	// ExecError is the extracted exec-error message of a run-complete marker.
	ExecError        string
	WatchUnsupported bool
	SnapshotFailure  bool
}

// Any reports whether the chunk carried a lifecycle marker.
func (m Markers) Any() bool {
	return m.RunStart || m.RunComplete || m.TestFileErrors
}

// Scan classifies a chunk of runner output.
func Scan(text string) Markers {
	var m Markers
	if strings.Contains(text, RunStart) {
		m.RunStart = true
		m.TotalSuites = TotalSuites(text)
	}
	if strings.Contains(text, TestFileErrors) {
		m.TestFileErrors = true
	}
	if strings.Contains(text, RunComplete) {
		m.RunComplete = true
		m.ExecError = ExecError(text)
	}
	m.WatchUnsupported = IsWatchUnsupported(text)
	m.SnapshotFailure = snapshotFailRe.MatchString(text)
	return m
}

// TotalSuites extracts the suite count from a run-start marker.
func TotalSuites(text string) int {
	sub := runStartSuitesRe.FindStringSubmatch(text)
	if sub == nil {
		return 0
	}
	n, err := strconv.Atoi(sub[1])
	if err != nil {
		return 0
	}
	return n
}

// ExecError extracts the message of an "onRunComplete: execError:" marker.
func ExecError(text string) string {
	sub := execErrorRe.FindStringSubmatch(text)
	if sub == nil {
		return ""
	}
	return strings.TrimSpace(sub[1])
}

// IsWatchUnsupported matches either watch-not-supported signature: no VCS
// available for --watch, or a project outside the repository.
func IsWatchUnsupported(text string) bool {
	return watchNoGitRe.MatchString(text) || outsideRepoRe.MatchString(text)
}

// StripControl removes reporter control lines so observers see only
// human-relevant output.
func StripControl(text string) string {
	return controlLineRe.ReplaceAllString(text, "")
}
