package runtime

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/pithecene-io/vigil/types"
)

// Defaults for CommandConfig.
const (
	DefaultCommand = "npx jest"
	DefaultShell   = "/bin/sh"
)

// CommandConfig configures runner invocation.
type CommandConfig struct {
	// Command is the runner command line, e.g. "npx jest".
	Command string
	// Shell runs the command line via "<shell> -c".
	Shell string
	// RootPath is the working directory.
	RootPath string
	// Env holds extra KEY=VALUE entries appended to the inherited environment.
	Env []string
	// ReporterArgs are appended to every test run, e.g. a custom reporter
	// that prints the lifecycle markers.
	ReporterArgs []string
}

// withDefaults fills empty fields.
func (c CommandConfig) withDefaults() CommandConfig {
	if c.Command == "" {
		c.Command = DefaultCommand
	}
	if c.Shell == "" {
		c.Shell = DefaultShell
	}
	return c
}

// ErrNotRunnable is returned for requests that cannot be turned into a
// command line.
var ErrNotRunnable = errors.New("request is not runnable")

// BuildArgs returns the runner arguments for req. outputFile receives the
// structured results; it is ignored for list-test-files and not-test.
func BuildArgs(req types.Request, outputFile string, reporterArgs []string) ([]string, error) {
	if req.Kind == types.KindUpdateSnapshot {
		derived, err := req.DeriveSnapshotUpdate()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNotRunnable, err)
		}
		req = derived
	}

	switch req.Kind {
	case types.KindNotTest:
		return append([]string(nil), req.Args...), nil
	case types.KindListTestFiles:
		return []string{"--listTests", "--json", "--watchAll=false"}, nil
	}

	args := []string{"--testLocationInResults", "--json", "--useStderr"}
	if outputFile != "" {
		args = append(args, "--outputFile", outputFile)
	}
	args = append(args, reporterArgs...)

	switch req.Kind {
	case types.KindAllTests:
		args = append(args, "--watchAll=false")
	case types.KindWatchTests:
		args = append(args, "--watch")
	case types.KindWatchAllTests:
		args = append(args, "--watchAll")
	case types.KindByFile:
		args = append(args, "--watchAll=false")
		if req.NotTestFile {
			args = append(args, "--findRelatedTests", req.TestFile)
		} else {
			args = append(args, "--runTestsByPath", req.TestFile)
		}
	case types.KindByFileTest:
		args = append(args, "--watchAll=false", "--runTestsByPath", req.TestFile,
			"--testNamePattern", TestNamePattern(req.TestName))
	case types.KindByFilePattern:
		args = append(args, "--watchAll=false", "--testPathPattern", req.FilePattern)
	case types.KindByFileTestPattern:
		args = append(args, "--watchAll=false", "--testPathPattern", req.FilePattern,
			"--testNamePattern", TestNamePattern(req.TestName))
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrNotRunnable, req.Kind)
	}

	if req.UpdateSnapshot {
		args = append(args, "--updateSnapshot")
	}
	if req.Coverage {
		args = append(args, "--coverage")
	}
	return args, nil
}

// TestNamePattern escapes a test name for use as an exact-match pattern.
func TestNamePattern(name string) string {
	return "^" + regexp.QuoteMeta(name) + "$"
}

// CommandLine joins the runner command and quoted args into one shell line.
func CommandLine(command string, args []string) string {
	var b strings.Builder
	b.WriteString(command)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(ShellQuote(a))
	}
	return b.String()
}

// ShellArgs returns argv for running line via the configured shell.
func ShellArgs(shell string, loginShell bool, line string) []string {
	if loginShell {
		return []string{shell, "-l", "-c", line}
	}
	return []string{shell, "-c", line}
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./=-]+$`)

// ShellQuote quotes s for a POSIX shell.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// buildEnv returns the inherited environment with extra entries applied.
func buildEnv(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}
	env := append(os.Environ(), extra...)
	return deduplicateEnv(env)
}

// deduplicateEnv keeps the last occurrence of each env var key.
// Configured entries are appended last and win over inherited ones.
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
