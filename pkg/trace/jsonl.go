// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// JSONLSink appends trace records to <dir>/<trace_id>.jsonl, one JSON
// object per line.
type JSONLSink struct {
	dir string
}

// NewJSONLSink creates the trace directory if needed.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if dir == "" {
		dir = "./traces"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	return &JSONLSink{dir: dir}, nil
}

// Write appends all records to the file named after their trace id.
// Records are grouped by trace id so one flush touches each file once.
func (s *JSONLSink) Write(_ context.Context, records []Record) error {
	byTrace := make(map[string][]Record)
	for _, rec := range records {
		byTrace[rec.TraceID] = append(byTrace[rec.TraceID], rec)
	}

	for traceID, recs := range byTrace {
		if err := s.appendFile(traceID, recs); err != nil {
			return err
		}
	}
	return nil
}

func (s *JSONLSink) appendFile(traceID string, records []Record) error {
	path := filepath.Join(s.dir, traceID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(flatten(rec)); err != nil {
			return fmt.Errorf("encode trace record: %w", err)
		}
	}
	return nil
}

// flatten merges kind-specific fields into the top-level object, matching
// the line shape {ts, trace_id, event, <fields...>}.
func flatten(rec Record) map[string]any {
	out := map[string]any{
		"ts":       rec.Timestamp,
		"trace_id": rec.TraceID,
		"event":    rec.Kind,
	}
	for k, v := range rec.Fields {
		out[k] = v
	}
	return out
}
