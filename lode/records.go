package lode

import (
	"time"

	"github.com/pithecene-io/vigil/metrics"
	"github.com/pithecene-io/vigil/types"
)

// Record kinds.
const (
	RecordKindRunEvent = "run_event"
	RecordKindMetrics  = "metrics"
)

// SessionPartition is the process_id partition for session-level records.
const SessionPartition = "_session"

// PartitionKeys is the Hive layout of the history dataset.
var PartitionKeys = []string{"session_id", "day", "process_id", "event_type"}

// DeriveDay computes the partition day (YYYY-MM-DD, UTC).
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// EventRecord is the stored form of one Run Event.
type EventRecord struct {
	RecordKind      string `json:"record_kind"`
	ContractVersion string `json:"contract_version"`

	SessionID       string `json:"session_id"`
	Day             string `json:"day"`
	ProcessID       string `json:"process_id"`
	EventType       string `json:"event_type"`
	Ts              string `json:"ts"`
	RequestKind     string `json:"request_kind"`
	Attempt         int    `json:"attempt"`
	ParentProcessID string `json:"parent_process_id,omitempty"`

	Text                 string `json:"text,omitempty"`
	IsError              bool   `json:"is_error,omitempty"`
	Error                string `json:"error,omitempty"`
	ErrorAlreadyReported bool   `json:"error_already_reported,omitempty"`
	ExitCode             *int   `json:"exit_code,omitempty"`
	Signal               string `json:"signal,omitempty"`
	Retried              bool   `json:"retried,omitempty"`
	ThresholdMS          int64  `json:"threshold_ms,omitempty"`
	TotalSuites          int    `json:"total_suites,omitempty"`
}

// NewEventRecord converts a Run Event. Raw output is not stored.
func NewEventRecord(sessionID string, e types.RunEvent) EventRecord {
	r := EventRecord{
		RecordKind:           RecordKindRunEvent,
		ContractVersion:      types.ContractVersion,
		SessionID:            sessionID,
		Day:                  DeriveDay(e.Timestamp),
		ProcessID:            e.ProcessID,
		EventType:            string(e.Type),
		Ts:                   e.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestKind:          string(e.Request.Kind),
		Attempt:              e.Request.Attempt,
		ParentProcessID:      e.Request.ParentProcessID,
		Text:                 e.Text,
		IsError:              e.IsError,
		Error:                e.Error,
		ErrorAlreadyReported: e.ErrorAlreadyReported,
		Signal:               e.Signal,
		Retried:              e.Retried,
		ThresholdMS:          e.Threshold.Milliseconds(),
		TotalSuites:          e.TotalSuites,
	}
	if e.CodeKnown {
		code := e.ExitCode
		r.ExitCode = &code
	}
	return r
}

// toMap flattens the record for the JSONL codec; the Hive layout reads
// partition values from the top-level keys.
func (r EventRecord) toMap() map[string]any {
	m := map[string]any{
		"record_kind":      r.RecordKind,
		"contract_version": r.ContractVersion,
		"session_id":       r.SessionID,
		"day":              r.Day,
		"process_id":       r.ProcessID,
		"event_type":       r.EventType,
		"ts":               r.Ts,
		"request_kind":     r.RequestKind,
		"attempt":          r.Attempt,
	}
	if r.ParentProcessID != "" {
		m["parent_process_id"] = r.ParentProcessID
	}
	if r.Text != "" {
		m["text"] = r.Text
	}
	if r.IsError {
		m["is_error"] = true
	}
	if r.Error != "" {
		m["error"] = r.Error
		m["error_already_reported"] = r.ErrorAlreadyReported
	}
	if r.ExitCode != nil {
		m["exit_code"] = *r.ExitCode
	}
	if r.Signal != "" {
		m["signal"] = r.Signal
	}
	if r.Retried {
		m["retried"] = true
	}
	if r.ThresholdMS != 0 {
		m["threshold_ms"] = r.ThresholdMS
	}
	if r.TotalSuites != 0 {
		m["total_suites"] = r.TotalSuites
	}
	return m
}

// MetricsRecord is the stored session metrics snapshot, written on close.
type MetricsRecord struct {
	RecordKind string `json:"record_kind"`
	SessionID  string `json:"session_id"`
	Day        string `json:"day"`
	Ts         string `json:"ts"`

	RequestsScheduled  int64 `json:"requests_scheduled"`
	RequestsSuperseded int64 `json:"requests_superseded"`
	RequestsRejected   int64 `json:"requests_rejected"`
	ProcessesSpawned   int64 `json:"processes_spawned"`
	ProcessesCompleted int64 `json:"processes_completed"`
	ProcessesStopped   int64 `json:"processes_stopped"`
	ProcessesExecError int64 `json:"processes_exec_error"`
	LoginShellRetries  int64 `json:"login_shell_retries"`
	WatchFallbacks     int64 `json:"watch_fallbacks"`
	WatchCrashes       int64 `json:"watch_crashes"`
	LongRunWarnings    int64 `json:"long_run_warnings"`
	HistoryDropped     int64 `json:"history_dropped"`
}

// NewMetricsRecord converts a metrics snapshot taken at ts.
func NewMetricsRecord(snap metrics.Snapshot, ts time.Time) MetricsRecord {
	return MetricsRecord{
		RecordKind:         RecordKindMetrics,
		SessionID:          snap.SessionID,
		Day:                DeriveDay(ts),
		Ts:                 ts.UTC().Format(time.RFC3339Nano),
		RequestsScheduled:  snap.RequestsScheduled,
		RequestsSuperseded: snap.RequestsSuperseded,
		RequestsRejected:   snap.RequestsRejected,
		ProcessesSpawned:   snap.ProcessesSpawned,
		ProcessesCompleted: snap.ProcessesCompleted,
		ProcessesStopped:   snap.ProcessesStopped,
		ProcessesExecError: snap.ProcessesExecError,
		LoginShellRetries:  snap.LoginShellRetries,
		WatchFallbacks:     snap.WatchFallbacks,
		WatchCrashes:       snap.WatchCrashes,
		LongRunWarnings:    snap.LongRunWarnings,
		HistoryDropped:     snap.HistoryDropped,
	}
}

func (r MetricsRecord) toMap() map[string]any {
	return map[string]any{
		"record_kind":          r.RecordKind,
		"session_id":           r.SessionID,
		"day":                  r.Day,
		"process_id":           SessionPartition,
		"event_type":           RecordKindMetrics,
		"ts":                   r.Ts,
		"requests_scheduled":   r.RequestsScheduled,
		"requests_superseded":  r.RequestsSuperseded,
		"requests_rejected":    r.RequestsRejected,
		"processes_spawned":    r.ProcessesSpawned,
		"processes_completed":  r.ProcessesCompleted,
		"processes_stopped":    r.ProcessesStopped,
		"processes_exec_error": r.ProcessesExecError,
		"login_shell_retries":  r.LoginShellRetries,
		"watch_fallbacks":      r.WatchFallbacks,
		"watch_crashes":        r.WatchCrashes,
		"long_run_warnings":    r.LongRunWarnings,
		"history_dropped":      r.HistoryDropped,
	}
}
