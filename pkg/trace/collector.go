// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace buffers per-invocation observability records and flushes
// them once, at invocation teardown, to a durable sink. Trace durability is
// best-effort: a flush failure must never block or fail response delivery.
package trace

import (
	"context"
	"sync"
	"time"
)

// Record is one structured trace entry.
type Record struct {
	Timestamp time.Time      `json:"ts"`
	TraceID   string         `json:"trace_id"`
	Kind      string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Record kinds emitted by the engine and the tool registry.
const (
	KindRoute      = "route"
	KindRetrieve   = "retrieve"
	KindLLMCall    = "llm_call"
	KindToolExec   = "tool_exec"
	KindHandleDone = "handle_done"
	KindError      = "error"
)

// Collector accumulates records per trace id and flushes them to durable
// storage exactly once per invocation.
type Collector interface {
	Record(traceID, kind string, fields map[string]any)
	Flush(ctx context.Context, traceID string) error
}

// Sink receives the buffered records of one trace at flush time.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// Buffered is the standard Collector: an in-memory accumulator keyed by
// trace id, draining into a Sink on flush. Safe for concurrent use.
type Buffered struct {
	mu      sync.Mutex
	buffers map[string][]Record
	sink    Sink
}

// NewBuffered creates a collector draining into sink.
func NewBuffered(sink Sink) *Buffered {
	return &Buffered{
		buffers: make(map[string][]Record),
		sink:    sink,
	}
}

// Record appends an entry to the trace buffer.
func (b *Buffered) Record(traceID, kind string, fields map[string]any) {
	rec := Record{
		Timestamp: time.Now().UTC(),
		TraceID:   traceID,
		Kind:      kind,
		Fields:    fields,
	}
	b.mu.Lock()
	b.buffers[traceID] = append(b.buffers[traceID], rec)
	b.mu.Unlock()
}

// Flush drains the buffer for traceID into the sink. The buffer is removed
// before writing, so a second flush for the same trace is a no-op even when
// the first write failed.
func (b *Buffered) Flush(ctx context.Context, traceID string) error {
	b.mu.Lock()
	records := b.buffers[traceID]
	delete(b.buffers, traceID)
	b.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	return b.sink.Write(ctx, records)
}

// Pending returns the number of buffered records for a trace id.
func (b *Buffered) Pending(traceID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers[traceID])
}

// MemorySink keeps flushed records in memory. Used in tests.
type MemorySink struct {
	mu      sync.Mutex
	Err     error
	records []Record
}

// Write appends the records, or returns the configured error.
func (s *MemorySink) Write(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.records = append(s.records, records...)
	return nil
}

// Records returns a copy of everything written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}
