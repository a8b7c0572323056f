// Package types defines core domain types for the vigil orchestration layer.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// RequestKind discriminates run requests.
type RequestKind string

// Request kinds.
const (
	KindAllTests          RequestKind = "all-tests"
	KindWatchTests        RequestKind = "watch-tests"
	KindWatchAllTests     RequestKind = "watch-all-tests"
	KindByFile            RequestKind = "by-file"
	KindByFileTest        RequestKind = "by-file-test"
	KindByFilePattern     RequestKind = "by-file-pattern"
	KindByFileTestPattern RequestKind = "by-file-test-pattern"
	KindListTestFiles     RequestKind = "list-test-files"
	KindUpdateSnapshot    RequestKind = "update-snapshot"
	// KindNotTest is an internal kind for arbitrary runner invocations.
	// It cannot be scheduled directly.
	KindNotTest RequestKind = "not-test"
)

// AllKinds returns every schedulable request kind, in a stable order.
func AllKinds() []RequestKind {
	return []RequestKind{
		KindAllTests,
		KindWatchTests,
		KindWatchAllTests,
		KindByFile,
		KindByFileTest,
		KindByFilePattern,
		KindByFileTestPattern,
		KindListTestFiles,
		KindUpdateSnapshot,
	}
}

// IsValid reports whether k is a known kind, including internal ones.
func (k RequestKind) IsValid() bool {
	switch k {
	case KindAllTests, KindWatchTests, KindWatchAllTests,
		KindByFile, KindByFileTest, KindByFilePattern, KindByFileTestPattern,
		KindListTestFiles, KindUpdateSnapshot, KindNotTest:
		return true
	}
	return false
}

// IsWatch reports whether processes of this kind are expected to run indefinitely.
func (k RequestKind) IsWatch() bool {
	return k == KindWatchTests || k == KindWatchAllTests
}

// Request describes one desired runner invocation.
// A Request is a value: it is never mutated after construction.
// Derived requests (retries, snapshot updates) are new values.
type Request struct {
	// Kind selects the invocation shape and the schedule strategy.
	Kind RequestKind `json:"kind" yaml:"kind" msgpack:"kind"`
	// TestFile is the target file for by-file and by-file-test.
	TestFile string `json:"test_file,omitempty" yaml:"test_file,omitempty" msgpack:"test_file,omitempty"`
	// NotTestFile marks a by-file target that is a source file; the runner
	// resolves the related tests instead of running the file directly.
	NotTestFile bool `json:"not_test_file,omitempty" yaml:"not_test_file,omitempty" msgpack:"not_test_file,omitempty"`
	// TestName is the test name pattern for by-file-test and by-file-test-pattern.
	TestName string `json:"test_name,omitempty" yaml:"test_name,omitempty" msgpack:"test_name,omitempty"`
	// FilePattern is the file-name glob for by-file-pattern and by-file-test-pattern.
	FilePattern string `json:"file_pattern,omitempty" yaml:"file_pattern,omitempty" msgpack:"file_pattern,omitempty"`
	// Base is the request an update-snapshot request re-derives.
	Base *Request `json:"base,omitempty" yaml:"base,omitempty" msgpack:"base,omitempty"`
	// UpdateSnapshot is set on requests derived from an update-snapshot request.
	UpdateSnapshot bool `json:"update_snapshot,omitempty" yaml:"update_snapshot,omitempty" msgpack:"update_snapshot,omitempty"`
	// Coverage requests coverage collection from the runner.
	Coverage bool `json:"coverage,omitempty" yaml:"coverage,omitempty" msgpack:"coverage,omitempty"`
	// Args are raw runner arguments for not-test requests.
	Args []string `json:"args,omitempty" yaml:"args,omitempty" msgpack:"args,omitempty"`

	// Attempt is the attempt number; 0 and 1 both mean an initial request.
	Attempt int `json:"attempt,omitempty" yaml:"attempt,omitempty" msgpack:"attempt,omitempty"`
	// ParentProcessID links a retry request to the process it replaces.
	ParentProcessID string `json:"parent_process_id,omitempty" yaml:"parent_process_id,omitempty" msgpack:"parent_process_id,omitempty"`
}

// Errors returned by Request.Validate.
var (
	ErrUnknownKind      = errors.New("unknown request kind")
	ErrMissingTestFile  = errors.New("test file is required")
	ErrMissingTestName  = errors.New("test name is required")
	ErrMissingPattern   = errors.New("file pattern is required")
	ErrMissingBase      = errors.New("update-snapshot requires a base request")
	ErrInvalidLineage   = errors.New("invalid request lineage")
	ErrNestedUpdateBase = errors.New("update-snapshot base is already a snapshot update")
)

// Validate checks the kind-specific payload and lineage rules:
//   - attempt <= 1 => no parent process
//   - attempt > 1 => parent process required
func (r Request) Validate() error {
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}

	switch r.Kind {
	case KindByFile:
		if r.TestFile == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingTestFile)
		}
	case KindByFileTest:
		if r.TestFile == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingTestFile)
		}
		if r.TestName == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingTestName)
		}
	case KindByFilePattern:
		if r.FilePattern == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingPattern)
		}
	case KindByFileTestPattern:
		if r.FilePattern == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingPattern)
		}
		if r.TestName == "" {
			return fmt.Errorf("%s: %w", r.Kind, ErrMissingTestName)
		}
	case KindUpdateSnapshot:
		if r.Base == nil {
			return ErrMissingBase
		}
		if r.Base.Kind == KindUpdateSnapshot || r.Base.UpdateSnapshot {
			return ErrNestedUpdateBase
		}
		if err := r.Base.Validate(); err != nil {
			return fmt.Errorf("update-snapshot base: %w", err)
		}
	}

	if r.Attempt <= 1 && r.ParentProcessID != "" {
		return fmt.Errorf("%w: initial request must not have a parent process", ErrInvalidLineage)
	}
	if r.Attempt > 1 && r.ParentProcessID == "" {
		return fmt.Errorf("%w: retry request (attempt=%d) requires a parent process", ErrInvalidLineage, r.Attempt)
	}

	return nil
}

// IsWatch reports whether the request starts a watch process.
func (r Request) IsWatch() bool {
	return r.Kind.IsWatch()
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	out := r
	if r.Args != nil {
		out.Args = append([]string(nil), r.Args...)
	}
	if r.Base != nil {
		base := r.Base.Clone()
		out.Base = &base
	}
	return out
}

// Retry returns the replacement request for a failed process.
func (r Request) Retry(parentProcessID string) Request {
	out := r.Clone()
	if out.Attempt < 1 {
		out.Attempt = 1
	}
	out.Attempt++
	out.ParentProcessID = parentProcessID
	return out
}

// DeriveSnapshotUpdate converts an update-snapshot request into the request
// that is actually run: the base request with the snapshot flag set.
func (r Request) DeriveSnapshotUpdate() (Request, error) {
	if r.Kind != KindUpdateSnapshot {
		return r, nil
	}
	if err := r.Validate(); err != nil {
		return Request{}, err
	}
	out := r.Base.Clone()
	out.UpdateSnapshot = true
	return out, nil
}

// ContentKey is a deterministic identity of the kind-specific payload.
// Lineage fields are excluded: a retry is the same work.
func (r Request) ContentKey() string {
	h := sha256.New()
	r.writeContent(h)
	return hex.EncodeToString(h.Sum(nil))
}

func (r Request) writeContent(h interface{ Write([]byte) (int, error) }) {
	fields := []string{
		string(r.Kind),
		r.TestFile,
		fmt.Sprint(r.NotTestFile),
		r.TestName,
		r.FilePattern,
		fmt.Sprint(r.UpdateSnapshot),
		fmt.Sprint(r.Coverage),
		strings.Join(r.Args, "\x1f"),
	}
	for _, f := range fields {
		_, _ = h.Write([]byte(f))
		_, _ = h.Write([]byte{0x00})
	}
	if r.Base != nil {
		_, _ = h.Write([]byte("base"))
		r.Base.writeContent(h)
	}
}

// SameContent reports whether two requests carry structurally equal payloads.
func (r Request) SameContent(o Request) bool {
	return r.ContentKey() == o.ContentKey()
}

// String renders a short human-readable description.
func (r Request) String() string {
	var b strings.Builder
	b.WriteString(string(r.Kind))
	switch {
	case r.TestFile != "" && r.TestName != "":
		fmt.Fprintf(&b, " %s %q", r.TestFile, r.TestName)
	case r.TestFile != "":
		fmt.Fprintf(&b, " %s", r.TestFile)
	case r.FilePattern != "" && r.TestName != "":
		fmt.Fprintf(&b, " %s %q", r.FilePattern, r.TestName)
	case r.FilePattern != "":
		fmt.Fprintf(&b, " %s", r.FilePattern)
	case r.Base != nil:
		fmt.Fprintf(&b, " (%s)", r.Base.String())
	}
	if r.UpdateSnapshot {
		b.WriteString(" +snapshot")
	}
	return b.String()
}
