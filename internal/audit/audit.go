// Package audit records before/after snapshots of state-changing operations.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Entry is one audit record. Before and After hold JSON snapshots of the
// object around the change; either may be nil (creation has no Before,
// deletion no After).
type Entry struct {
	Action     string          `json:"action"`
	ObjectType string          `json:"object_type"`
	ObjectID   string          `json:"object_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	At         time.Time       `json:"at"`
}

// Recorder accepts audit entries. Recording is best-effort: failures are
// logged, never propagated to the operation being audited.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Snapshot marshals v for use as a Before/After payload. Marshal failures
// yield nil, which records as an absent snapshot rather than failing the
// audited operation.
func Snapshot(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// LogRecorder emits audit entries as structured log lines.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a recorder that writes to the given logger.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.logger.InfoContext(ctx, "audit",
		"action", e.Action,
		"object_type", e.ObjectType,
		"object_id", e.ObjectID,
		"before", string(e.Before),
		"after", string(e.After),
	)
}

// MemoryRecorder keeps entries in memory, for tests.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(ctx context.Context, e Entry) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of everything recorded so far.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
