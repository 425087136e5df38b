package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("conversation not found")
	ErrDuplicateID      = errors.New("conversation id already exists")
	ErrSequenceConflict = errors.New("message sequence conflict")
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Icon      string `json:"icon"`
	Pinned    bool   `json:"pinned"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Sequence       int    `json:"sequence"`
	CreatedAt      string `json:"createdAt"`
}

// Store persists conversations and their ordered message logs. Appends to the
// same conversation are serialized through a per-conversation mutex on top of
// the transactional sequence check, so concurrent writers cannot interleave
// sequence numbers.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(db *sql.DB) *Store {
	return &Store{db: db, locks: make(map[string]*sync.Mutex)}
}

func (s *Store) conversationLock(conversationID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[conversationID] = lock
	}
	return lock
}

func (s *Store) CreateConversation(ctx context.Context, id, title, icon string) (Conversation, error) {
	result, err := s.db.ExecContext(ctx, `
INSERT INTO conversations (id, title, icon)
VALUES (?, ?, ?)
ON CONFLICT(id) DO NOTHING;
`, id, title, icon)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if affected == 0 {
		return Conversation{}, ErrDuplicateID
	}

	return s.GetConversation(ctx, id)
}

func (s *Store) GetConversation(ctx context.Context, id string) (Conversation, error) {
	var out Conversation
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, icon, is_pinned, created_at, updated_at
FROM conversations
WHERE id = ?;
`, id).Scan(&out.ID, &out.Title, &out.Icon, &out.Pinned, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateConversationMeta(ctx context.Context, id, title, icon string) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET title = ?, icon = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
WHERE id = ?;
`, title, icon, id)
	if err != nil {
		return fmt.Errorf("update conversation meta: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation meta: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
WHERE id = ?;
`, id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage inserts a message at the caller-supplied sequence. The
// sequence must equal LastSequence+1 at commit time; stale writers get
// ErrSequenceConflict instead of silently reordering the log.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string, sequence int) (Message, error) {
	lock := s.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?;`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	var last int
	if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(sequence), -1) FROM messages WHERE conversation_id = ?;
`, conversationID).Scan(&last); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	if sequence != last+1 {
		return Message{}, fmt.Errorf("%w: got %d, want %d", ErrSequenceConflict, sequence, last+1)
	}

	message := Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Sequence:       sequence,
	}
	if err := tx.QueryRowContext(ctx, `
INSERT INTO messages (id, conversation_id, role, content, sequence)
VALUES (?, ?, ?, ?, ?)
RETURNING created_at;
`, message.ID, conversationID, role, content, sequence).Scan(&message.CreatedAt); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return message, nil
}

// LastSequence returns -1 for a conversation with no messages.
func (s *Store) LastSequence(ctx context.Context, conversationID string) (int, error) {
	var last int
	if err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(MAX(sequence), -1) FROM messages WHERE conversation_id = ?;
`, conversationID).Scan(&last); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return last, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, sequence, created_at
FROM messages
WHERE conversation_id = ?
ORDER BY sequence ASC;
`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, 16)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.Sequence, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, icon, is_pinned, created_at, updated_at
FROM conversations
ORDER BY is_pinned DESC, updated_at DESC;
`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	conversations := make([]Conversation, 0, 16)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.Title, &c.Icon, &c.Pinned, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// DeleteConversation is idempotent: deleting a missing id is not an error
// at this layer. Messages go with the conversation via FK cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?;`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func (s *Store) WipeAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("wipe conversations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages;`); err != nil {
		return fmt.Errorf("wipe messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations;`); err != nil {
		return fmt.Errorf("wipe conversations: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("wipe conversations: %w", err)
	}
	return nil
}

// TogglePin flips the pin flag without touching updated_at: pinning is
// recency-neutral.
func (s *Store) TogglePin(ctx context.Context, id string) (bool, error) {
	var pinned bool
	err := s.db.QueryRowContext(ctx, `
UPDATE conversations
SET is_pinned = 1 - is_pinned
WHERE id = ?
RETURNING is_pinned;
`, id).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle pin: %w", err)
	}
	return pinned, nil
}
