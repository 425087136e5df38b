package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"magnus/backend/internal/db"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	database, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	// In-memory sqlite gives every connection its own database; pin the pool
	// to one connection so the schema and the queries agree.
	database.SetMaxOpenConns(1)

	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return New(database), database
}

func TestCreateConversationRejectsDuplicateID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "conv-1", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	_, err := s.CreateConversation(ctx, "conv-1", "Other", "💡")
	if !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestAppendMessageEnforcesContiguousSequence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "conv-1", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	if _, err := s.AppendMessage(ctx, "conv-1", RoleUser, "hello", 0); err != nil {
		t.Fatalf("append first message: %v", err)
	}
	if _, err := s.AppendMessage(ctx, "conv-1", RoleAssistant, "hi there", 1); err != nil {
		t.Fatalf("append second message: %v", err)
	}

	_, err := s.AppendMessage(ctx, "conv-1", RoleUser, "stale", 1)
	if !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict for reused sequence, got %v", err)
	}

	_, err = s.AppendMessage(ctx, "conv-1", RoleUser, "gap", 5)
	if !errors.Is(err, ErrSequenceConflict) {
		t.Fatalf("expected ErrSequenceConflict for gapped sequence, got %v", err)
	}
}

func TestAppendMessageToMissingConversation(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.AppendMessage(context.Background(), "nope", RoleUser, "hello", 0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessagesOrderedBySequence(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "conv-1", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	contents := []string{"one", "two", "three", "four"}
	for i, content := range contents {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.AppendMessage(ctx, "conv-1", role, content, i); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	messages, err := s.ListMessages(ctx, "conv-1")
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("expected %d messages, got %d", len(contents), len(messages))
	}
	for i, m := range messages {
		if m.Sequence != i {
			t.Fatalf("expected strictly increasing sequence, got %d at index %d", m.Sequence, i)
		}
		if m.Content != contents[i] {
			t.Fatalf("unexpected content at %d: %q", i, m.Content)
		}
	}
}

func TestLastSequenceForEmptyConversation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "conv-1", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	last, err := s.LastSequence(ctx, "conv-1")
	if err != nil {
		t.Fatalf("last sequence: %v", err)
	}
	if last != -1 {
		t.Fatalf("expected -1 for empty conversation, got %d", last)
	}
}

func TestListConversationsPinnedFirstThenRecency(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"old", "recent", "pinned"} {
		if _, err := s.CreateConversation(ctx, id, "New Conversation", "📝"); err != nil {
			t.Fatalf("create conversation %s: %v", id, err)
		}
	}

	// Fixed timestamps avoid same-millisecond ties.
	setUpdatedAt(t, database, "old", "2024-01-01T00:00:00.000Z")
	setUpdatedAt(t, database, "recent", "2024-06-01T00:00:00.000Z")
	setUpdatedAt(t, database, "pinned", "2024-03-01T00:00:00.000Z")

	if _, err := s.TogglePin(ctx, "pinned"); err != nil {
		t.Fatalf("toggle pin: %v", err)
	}

	conversations, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(conversations) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(conversations))
	}

	got := []string{conversations[0].ID, conversations[1].ID, conversations[2].ID}
	want := []string{"pinned", "recent", "old"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got %v, want %v", got, want)
		}
	}
}

func TestTogglePinDoesNotTouchUpdatedAt(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "conv-1", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	setUpdatedAt(t, database, "conv-1", "2024-01-01T00:00:00.000Z")

	pinned, err := s.TogglePin(ctx, "conv-1")
	if err != nil {
		t.Fatalf("toggle pin: %v", err)
	}
	if !pinned {
		t.Fatal("expected conversation to be pinned")
	}

	conversation, err := s.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conversation.UpdatedAt != "2024-01-01T00:00:00.000Z" {
		t.Fatalf("togglePin changed updated_at: %s", conversation.UpdatedAt)
	}

	pinned, err = s.TogglePin(ctx, "conv-1")
	if err != nil {
		t.Fatalf("toggle pin again: %v", err)
	}
	if pinned {
		t.Fatal("expected double toggle to restore unpinned state")
	}
}

func TestTogglePinMissingConversation(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.TogglePin(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteConversationCascadesAndIsIdempotent(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "conv-1", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := s.AppendMessage(ctx, "conv-1", RoleUser, "hello", 0); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if err := s.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("delete conversation: %v", err)
	}
	if err := s.DeleteConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("repeated delete should not error: %v", err)
	}

	var messageCount int
	if err := database.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = 'conv-1';`).Scan(&messageCount); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messageCount != 0 {
		t.Fatalf("expected cascade delete of messages, got %d", messageCount)
	}
}

func TestWipeAllLeavesNothingBehind(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		if _, err := s.CreateConversation(ctx, id, "New Conversation", "📝"); err != nil {
			t.Fatalf("create conversation %s: %v", id, err)
		}
		if _, err := s.AppendMessage(ctx, id, RoleUser, "hello", 0); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	if err := s.WipeAll(ctx); err != nil {
		t.Fatalf("wipe all: %v", err)
	}

	conversations, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list conversations: %v", err)
	}
	if len(conversations) != 0 {
		t.Fatalf("expected empty listing after wipe, got %d", len(conversations))
	}

	var messageCount int
	if err := database.QueryRow(`SELECT COUNT(*) FROM messages;`).Scan(&messageCount); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messageCount != 0 {
		t.Fatalf("expected no messages after wipe, got %d", messageCount)
	}
}

func TestWipeAllRollsBackWhenTransactionFails(t *testing.T) {
	s, database := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateConversation(ctx, "keep", "New Conversation", "📝"); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := s.AppendMessage(ctx, "keep", RoleUser, "hello", 0); err != nil {
		t.Fatalf("append message: %v", err)
	}

	// A trigger that fires mid-wipe forces the transaction to fail after the
	// message delete has already run; the rollback must restore everything.
	if _, err := database.Exec(`
CREATE TRIGGER fail_wipe BEFORE DELETE ON conversations
BEGIN
  SELECT RAISE(ABORT, 'forced failure');
END;
`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if err := s.WipeAll(ctx); err == nil {
		t.Fatal("expected wipe to fail")
	}

	var messageCount int
	if err := database.QueryRow(`SELECT COUNT(*) FROM messages;`).Scan(&messageCount); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if messageCount != 1 {
		t.Fatalf("expected rollback to restore messages, got %d", messageCount)
	}

	var conversationCount int
	if err := database.QueryRow(`SELECT COUNT(*) FROM conversations;`).Scan(&conversationCount); err != nil {
		t.Fatalf("count conversations: %v", err)
	}
	if conversationCount != 1 {
		t.Fatalf("expected rollback to restore conversations, got %d", conversationCount)
	}
}

func TestUpdateConversationMetaMissingConversation(t *testing.T) {
	s, _ := newTestStore(t)

	err := s.UpdateConversationMeta(context.Background(), "nope", "Title", "💡")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func setUpdatedAt(t *testing.T, database *sql.DB, id, updatedAt string) {
	t.Helper()
	if _, err := database.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?;`, updatedAt, id); err != nil {
		t.Fatalf("set updated_at: %v", err)
	}
}
