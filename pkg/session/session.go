// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

// Package session provides per-session conversation state and its stores.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/jllopis/telos/pkg/llm"
)

// ErrNotFound indicates no session exists for the given id.
var ErrNotFound = errors.New("session: not found")

// Session is the per-session conversation state. Within one invocation the
// message history only grows; the engine saves the session exactly once at
// teardown.
type Session struct {
	ID            string        `json:"id"`
	TenantID      string        `json:"tenant_id"`
	UserID        string        `json:"user_id"`
	Messages      []llm.Message `json:"messages"`
	SelectedSkill string        `json:"selected_skill,omitempty"`
	TraceID       string        `json:"trace_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// New creates a session with the current UTC time.
func New(id, tenantID, userID string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so callers cannot alias stored state.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = append([]llm.Message(nil), s.Messages...)
	return &out
}

// Store is the session persistence contract. Load returns ErrNotFound for
// unknown ids. Implementations must tolerate concurrent read-modify-write
// per session id; last write wins.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, sessionID string) error
}
