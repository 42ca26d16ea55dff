// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists trace records in SQLite, append-only.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink creates a SQLite-backed sink and ensures schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureTraceSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

// Write stores the records inside a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_events (trace_id, event_kind, fields_json, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rec.TraceID, rec.Kind, string(fields), rec.Timestamp.UTC()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// List returns all records for a trace id in insertion order.
func (s *SQLiteSink) List(ctx context.Context, traceID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, event_kind, fields_json, created_at
		FROM trace_events
		WHERE trace_id = ?
		ORDER BY rowid ASC
	`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			fieldsJSON string
		)
		if err := rows.Scan(&rec.TraceID, &rec.Kind, &fieldsJSON, &rec.Timestamp); err != nil {
			return nil, err
		}
		if fieldsJSON != "" {
			if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
				return nil, err
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func ensureTraceSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trace_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			event_kind TEXT NOT NULL,
			fields_json TEXT,
			created_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trace_events_trace ON trace_events(trace_id);
	`)
	return err
}
