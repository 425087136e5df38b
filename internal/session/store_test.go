package session

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"magnus/backend/internal/db"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	database.SetMaxOpenConns(1)

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return NewStore(database)
}

func TestCreateAndResolveSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, rawToken, err := s.Create(ctx, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if rawToken == "" {
		t.Fatal("expected a raw token")
	}
	if created.IconIndex != -1 {
		t.Fatalf("expected icon index -1 on a fresh session, got %d", created.IconIndex)
	}

	resolved, err := s.Resolve(ctx, rawToken)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if resolved.ID != created.ID {
		t.Fatalf("unexpected session id: %s", resolved.ID)
	}
	if resolved.CurrentConversationID != "" {
		t.Fatalf("expected empty conversation pointer, got %q", resolved.CurrentConversationID)
	}
}

func TestResolveRejectsUnknownToken(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Resolve(context.Background(), "not-a-token")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRejectsExpiredSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, rawToken, err := s.Create(ctx, -time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	_, err = s.Resolve(ctx, rawToken)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for expired session, got %v", err)
	}
}

func TestSetAndClearCurrentConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, rawToken, err := s.Create(ctx, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// The pointer has a FK to conversations; seed one.
	seedConversation(t, s.db, "conv-1")

	if err := s.SetCurrentConversation(ctx, created.ID, "conv-1"); err != nil {
		t.Fatalf("set current conversation: %v", err)
	}

	resolved, err := s.Resolve(ctx, rawToken)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if resolved.CurrentConversationID != "conv-1" {
		t.Fatalf("unexpected pointer: %q", resolved.CurrentConversationID)
	}

	if err := s.SetCurrentConversation(ctx, created.ID, ""); err != nil {
		t.Fatalf("clear current conversation: %v", err)
	}

	resolved, err = s.Resolve(ctx, rawToken)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if resolved.CurrentConversationID != "" {
		t.Fatalf("expected cleared pointer, got %q", resolved.CurrentConversationID)
	}
}

func TestDeletingConversationClearsSessionPointer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, rawToken, err := s.Create(ctx, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	seedConversation(t, s.db, "conv-1")
	if err := s.SetCurrentConversation(ctx, created.ID, "conv-1"); err != nil {
		t.Fatalf("set current conversation: %v", err)
	}

	if _, err := s.db.Exec(`DELETE FROM conversations WHERE id = 'conv-1';`); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}

	resolved, err := s.Resolve(ctx, rawToken)
	if err != nil {
		t.Fatalf("resolve session: %v", err)
	}
	if resolved.CurrentConversationID != "" {
		t.Fatalf("expected FK to null the pointer, got %q", resolved.CurrentConversationID)
	}
}

func TestAdvanceIconIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, _, err := s.Create(ctx, time.Hour)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	for want := 0; want < 3; want++ {
		got, err := s.AdvanceIconIndex(ctx, created.ID)
		if err != nil {
			t.Fatalf("advance icon index: %v", err)
		}
		if got != want {
			t.Fatalf("expected icon index %d, got %d", want, got)
		}
	}
}

func TestAdvanceIconIndexMissingSession(t *testing.T) {
	s := newTestStore(t)

	_, err := s.AdvanceIconIndex(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func seedConversation(t *testing.T, database *sql.DB, id string) {
	t.Helper()
	if _, err := database.Exec(`INSERT INTO conversations (id, title, icon) VALUES (?, 'New Conversation', '📝');`, id); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
}
