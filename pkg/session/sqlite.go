// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jllopis/telos/pkg/llm"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed store and ensures schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureSessionSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads one session row, or ErrNotFound.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, user_id, selected_skill, trace_id, messages_json, created_at, updated_at
		FROM sessions WHERE id = ?
	`, sessionID)

	var (
		sess         Session
		messagesJSON string
	)
	err := row.Scan(
		&sess.ID,
		&sess.TenantID,
		&sess.UserID,
		&sess.SelectedSkill,
		&sess.TraceID,
		&messagesJSON,
		&sess.CreatedAt,
		&sess.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if messagesJSON != "" {
		if err := json.Unmarshal([]byte(messagesJSON), &sess.Messages); err != nil {
			return nil, err
		}
	}
	return &sess, nil
}

// Save upserts the session row, stamping UpdatedAt.
func (s *SQLiteStore) Save(ctx context.Context, session *Session) error {
	messages := session.Messages
	if messages == nil {
		messages = []llm.Message{}
	}
	messagesJSON, err := json.Marshal(messages)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	created := session.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, user_id, selected_skill, trace_id, messages_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			user_id = excluded.user_id,
			selected_skill = excluded.selected_skill,
			trace_id = excluded.trace_id,
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at
	`,
		session.ID,
		session.TenantID,
		session.UserID,
		session.SelectedSkill,
		session.TraceID,
		string(messagesJSON),
		created.UTC(),
		now,
	)
	return err
}

// Delete removes a session row; missing rows are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

func ensureSessionSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			selected_skill TEXT,
			trace_id TEXT,
			messages_json TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_tenant ON sessions(tenant_id);
	`)
	return err
}
