package lode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics record matches.
var ErrNoMetricsFound = errors.New("no metrics records found")

// QueryLatestMetrics returns the most recent session metrics record,
// optionally restricted to one session.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, sessionID string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrapError("read", "snapshots", err)
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasPartition(snap, "event_type", RecordKindMetrics) ||
			!snapshotHasPartition(snap, "session_id", sessionID) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrapError("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
		}
		// Paths are a coarse filter; record fields decide.
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if sessionID != "" && toString(record["session_id"]) != sessionID {
				continue
			}
			return record, nil
		}
	}
	return nil, ErrNoMetricsFound
}

// TimelineFilter restricts ReadTimeline. Empty fields match everything.
type TimelineFilter struct {
	SessionID string
	ProcessID string
	EventType string
}

// ReadTimeline returns the stored Run Event records matching f, ordered by
// timestamp. Records of one process keep their write order.
func ReadTimeline(ctx context.Context, ds lode.Dataset, f TimelineFilter) ([]map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrapError("read", "snapshots", err)
	}

	var out []map[string]any
	for _, snap := range snapshots {
		if !snapshotHasPartition(snap, "session_id", f.SessionID) ||
			!snapshotHasPartition(snap, "process_id", f.ProcessID) ||
			!snapshotHasPartition(snap, "event_type", f.EventType) {
			continue
		}
		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrapError("read", fmt.Sprintf("snapshot/%s", snap.ID), err)
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindRunEvent {
				continue
			}
			if !fieldMatches(record, "session_id", f.SessionID) ||
				!fieldMatches(record, "process_id", f.ProcessID) ||
				!fieldMatches(record, "event_type", f.EventType) {
				continue
			}
			out = append(out, record)
		}
	}

	// RFC3339Nano in UTC sorts lexically.
	sort.SliceStable(out, func(i, j int) bool {
		return toString(out[i]["ts"]) < toString(out[j]["ts"])
	})
	return out, nil
}

// ListSessions returns the session IDs present in the dataset, sorted.
func ListSessions(ctx context.Context, ds lode.Dataset) ([]string, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, wrapError("read", "snapshots", err)
	}
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		for _, f := range snap.Manifest.Files {
			if id, ok := partitionValue(f.Path, "session_id"); ok {
				seen[id] = struct{}{}
			}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func partitionValue(path, key string) (string, bool) {
	prefix := key + "="
	for _, part := range strings.Split(path, "/") {
		if v, ok := strings.CutPrefix(part, prefix); ok {
			return v, true
		}
	}
	return "", false
}

func fieldMatches(record map[string]any, key, want string) bool {
	return want == "" || toString(record[key]) == want
}

// toString returns v if it is a string, else "".
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
