package scheduler

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/vigil/types"
)

// Admission failure reasons.
var (
	// ErrMalformedRequest indicates a request whose payload does not match its kind.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrInternalKind indicates a direct attempt to schedule an internal-only kind.
	ErrInternalKind = errors.New("internal request kind cannot be scheduled")
	// ErrNestedSnapshotUpdate indicates an update-snapshot request targeting
	// a run that already updates snapshots.
	ErrNestedSnapshotUpdate = errors.New("update-snapshot targets a snapshot-updating run")
	// ErrSchedulerClosed indicates the scheduler no longer admits requests.
	ErrSchedulerClosed = errors.New("scheduler closed")
)

// AdmissionError reports a request rejected synchronously; no process was
// spawned.
type AdmissionError struct {
	Kind   types.RequestKind
	Reason error
	Detail error
}

func (e *AdmissionError) Error() string {
	if e.Detail != nil {
		return fmt.Sprintf("admission rejected for %s: %v: %v", e.Kind, e.Reason, e.Detail)
	}
	return fmt.Sprintf("admission rejected for %s: %v", e.Kind, e.Reason)
}

// Unwrap exposes both the reason sentinel and the underlying detail.
func (e *AdmissionError) Unwrap() []error {
	if e.Detail != nil {
		return []error{e.Reason, e.Detail}
	}
	return []error{e.Reason}
}

// Label returns a short metrics label for the reason.
func (e *AdmissionError) Label() string {
	switch {
	case errors.Is(e.Reason, ErrInternalKind):
		return "internal_kind"
	case errors.Is(e.Reason, ErrNestedSnapshotUpdate):
		return "nested_snapshot_update"
	case errors.Is(e.Reason, ErrSchedulerClosed):
		return "closed"
	default:
		return "malformed"
	}
}

// IsAdmissionError returns true if err is or wraps an AdmissionError.
func IsAdmissionError(err error) bool {
	var ae *AdmissionError
	return errors.As(err, &ae)
}

// validate checks that req may be scheduled directly.
func validate(req types.Request) error {
	if req.Kind == types.KindNotTest {
		return &AdmissionError{Kind: req.Kind, Reason: ErrInternalKind}
	}
	if err := req.Validate(); err != nil {
		reason := ErrMalformedRequest
		if errors.Is(err, types.ErrNestedUpdateBase) {
			reason = ErrNestedSnapshotUpdate
		}
		return &AdmissionError{Kind: req.Kind, Reason: reason, Detail: err}
	}
	if _, ok := StrategyFor(req.Kind); !ok {
		return &AdmissionError{Kind: req.Kind, Reason: ErrMalformedRequest}
	}
	return nil
}
