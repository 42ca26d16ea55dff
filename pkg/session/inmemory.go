// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is a map-backed store for single-process use.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Session
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]*Session)}
}

// Load returns a copy of the stored session or ErrNotFound.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.items[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return stored.Clone(), nil
}

// Save stores a copy of the session, stamping UpdatedAt.
func (s *InMemoryStore) Save(_ context.Context, session *Session) error {
	copied := session.Clone()
	copied.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.items[copied.ID] = copied
	s.mu.Unlock()
	return nil
}

// Delete removes a session; deleting a missing id is not an error.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.items, sessionID)
	s.mu.Unlock()
	return nil
}
