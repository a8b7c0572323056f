// Package adapter defines the downstream notification boundary.
//
// Adapters publish a run-finished notification for every process exit.
// The session owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/vigil/types"
)

// EventTypeRunFinished is the notification event type.
const EventTypeRunFinished = "run_finished"

// Outcomes reported in RunFinishedEvent.
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeExecError = "exec_error"
	OutcomeStopped   = "stopped"
	OutcomeRetried   = "retried"
)

// RunFinishedEvent is the payload published when a process exits.
type RunFinishedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	ProcessID       string `json:"process_id"`
	RequestKind     string `json:"request_kind"`
	TestFile        string `json:"test_file,omitempty"`
	Outcome         string `json:"outcome"`
	ExitCode        *int   `json:"exit_code,omitempty"`
	Signal          string `json:"signal,omitempty"`
	Error           string `json:"error,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	Attempt         int    `json:"attempt"`
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes run-finished events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation and
	// deadlines.
	Publish(ctx context.Context, event *RunFinishedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Outcome classifies an exit event.
func Outcome(e types.RunEvent) string {
	switch {
	case e.Retried:
		return OutcomeRetried
	case e.HasError():
		return OutcomeExecError
	case e.Signal != "":
		return OutcomeStopped
	case e.CodeKnown && e.ExitCode == 0:
		return OutcomeSuccess
	default:
		return OutcomeFailed
	}
}

// NewRunFinishedEvent builds the notification for an exit event. started
// is the process's scheduled time; zero leaves the duration at 0.
func NewRunFinishedEvent(sessionID string, exit types.RunEvent, started time.Time) *RunFinishedEvent {
	ev := &RunFinishedEvent{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeRunFinished,
		SessionID:       sessionID,
		ProcessID:       exit.ProcessID,
		RequestKind:     string(exit.Request.Kind),
		TestFile:        exit.Request.TestFile,
		Outcome:         Outcome(exit),
		Signal:          exit.Signal,
		Error:           exit.Error,
		Timestamp:       exit.Timestamp.UTC().Format(time.RFC3339Nano),
		Attempt:         exit.Request.Attempt,
	}
	if exit.CodeKnown {
		code := exit.ExitCode
		ev.ExitCode = &code
	}
	if !started.IsZero() {
		ev.DurationMs = exit.Timestamp.Sub(started).Milliseconds()
	}
	return ev
}
