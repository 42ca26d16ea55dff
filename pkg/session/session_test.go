// Copyright 2026 © The Telos Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/jllopis/telos/pkg/llm"
)

func sampleSession() *Session {
	s := New("s-1", "acme", "u-1")
	s.SelectedSkill = "gpu_diagnosis"
	s.TraceID = "t-1"
	s.Messages = []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a diagnosis expert."},
		{Role: llm.RoleUser, Content: "/gpu GPU0 fell off the bus"},
		{Role: llm.RoleAssistant, Content: `{"summary":"Xid 79"}`},
	}
	return s
}

func runStoreTests(t *testing.T, store Store) {
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sess := sampleSession()
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TenantID != "acme" || loaded.UserID != "u-1" {
		t.Fatalf("identity fields lost: %+v", loaded)
	}
	if loaded.SelectedSkill != "gpu_diagnosis" {
		t.Fatalf("selected skill lost: %s", loaded.SelectedSkill)
	}
	if len(loaded.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(loaded.Messages))
	}
	if loaded.Messages[1].Role != llm.RoleUser {
		t.Fatalf("message order lost: %+v", loaded.Messages)
	}

	// Mutating the loaded copy must not affect the stored state.
	loaded.Messages = append(loaded.Messages, llm.Message{Role: llm.RoleUser, Content: "more"})
	again, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.Messages) != 3 {
		t.Fatal("store returned a shared reference")
	}

	// Save is an upsert.
	sess.Messages = append(sess.Messages, llm.Message{Role: llm.RoleUser, Content: "follow-up"})
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("resave: %v", err)
	}
	updated, err := store.Load(ctx, "s-1")
	if err != nil {
		t.Fatalf("load after resave: %v", err)
	}
	if len(updated.Messages) != 4 {
		t.Fatalf("expected 4 messages after resave, got %d", len(updated.Messages))
	}

	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, "s-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	runStoreTests(t, NewInMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	runStoreTests(t, store)
}

func TestCloneIsDeep(t *testing.T) {
	sess := sampleSession()
	clone := sess.Clone()
	clone.Messages[0].Content = "mutated"
	if sess.Messages[0].Content == "mutated" {
		t.Fatal("clone shares message backing array")
	}
}
