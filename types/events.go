package types

import "time"

// ContractVersion is the event frame contract version.
const ContractVersion = "0.1.0"

// RunEventType is the Run Event discriminator.
type RunEventType string

// Run event types.
const (
	EventScheduled RunEventType = "scheduled"
	EventStart     RunEventType = "start"
	EventData      RunEventType = "data"
	EventTestError RunEventType = "test-error"
	EventEnd       RunEventType = "end"
	EventExit      RunEventType = "exit"
	EventLongRun   RunEventType = "long-run"
)

// IsTerminal returns true if this event type is the last event of a process.
func (e RunEventType) IsTerminal() bool {
	return e == EventExit
}

// RunEvent is an immutable lifecycle notification for one process.
// Events are passed by value; subscribers cannot affect each other.
type RunEvent struct {
	// Type is the event type discriminator.
	Type RunEventType `json:"type" msgpack:"type"`
	// ProcessID identifies the originating process.
	ProcessID string `json:"process_id" msgpack:"process_id"`
	// Request is the originating request.
	Request Request `json:"request" msgpack:"request"`
	// Timestamp is when the event was sequenced.
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`

	// Text is the cleaned output for data events.
	Text string `json:"text,omitempty" msgpack:"text,omitempty"`
	// Raw is the unmodified output for data events.
	Raw string `json:"raw,omitempty" msgpack:"raw,omitempty"`
	// IsError marks data that came from an error path.
	IsError bool `json:"is_error,omitempty" msgpack:"is_error,omitempty"`

	// Error is set on end and exit events that carry a failure.
	Error string `json:"error,omitempty" msgpack:"error,omitempty"`
	// ErrorAlreadyReported marks an error that was surfaced earlier for this process.
	ErrorAlreadyReported bool `json:"error_already_reported,omitempty" msgpack:"error_already_reported,omitempty"`

	// ExitCode is the process exit code; valid when CodeKnown is set.
	ExitCode  int    `json:"exit_code,omitempty" msgpack:"exit_code,omitempty"`
	CodeKnown bool   `json:"code_known,omitempty" msgpack:"code_known,omitempty"`
	Signal    string `json:"signal,omitempty" msgpack:"signal,omitempty"`
	// Retried marks an exit handled by a retry policy.
	Retried bool `json:"retried,omitempty" msgpack:"retried,omitempty"`

	// Threshold is the long-run threshold that was exceeded.
	Threshold time.Duration `json:"threshold,omitempty" msgpack:"threshold,omitempty"`
	// TotalSuites is the announced suite count; 0 when unknown.
	TotalSuites int `json:"total_suites,omitempty" msgpack:"total_suites,omitempty"`
}

// Clone returns a deep copy of e; the copy shares no request state.
func (e RunEvent) Clone() RunEvent {
	e.Request = e.Request.Clone()
	return e
}

// HasError returns true if the event carries a failure.
func (e RunEvent) HasError() bool {
	return e.Error != ""
}
