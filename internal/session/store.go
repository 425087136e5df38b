package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Session scopes the browser-side state the core tracks between requests:
// which conversation is selected and how far the icon cycle has advanced.
type Session struct {
	ID                    string `json:"id"`
	CurrentConversationID string `json:"currentConversationId,omitempty"`
	IconIndex             int    `json:"-"`
	CreatedAt             string `json:"createdAt"`
	ExpiresAt             string `json:"expiresAt"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) Store {
	return Store{db: db}
}

// Create inserts a fresh session and returns it together with the raw cookie
// token. Only the sha256 of the token is stored.
func (s Store) Create(ctx context.Context, ttl time.Duration) (Session, string, error) {
	rawToken, err := randomToken(32)
	if err != nil {
		return Session{}, "", fmt.Errorf("generate session token: %w", err)
	}

	session := Session{
		ID:        uuid.NewString(),
		IconIndex: -1,
		ExpiresAt: time.Now().Add(ttl).UTC().Format(time.RFC3339),
	}
	if err := s.db.QueryRowContext(ctx, `
INSERT INTO sessions (id, token_hash, expires_at)
VALUES (?, ?, ?)
RETURNING created_at;
`, session.ID, hashToken(rawToken), session.ExpiresAt).Scan(&session.CreatedAt); err != nil {
		return Session{}, "", fmt.Errorf("create session: %w", err)
	}

	return session, rawToken, nil
}

func (s Store) Resolve(ctx context.Context, rawToken string) (Session, error) {
	var out Session
	err := s.db.QueryRowContext(ctx, `
SELECT id, COALESCE(current_conversation_id, ''), icon_index, created_at, expires_at
FROM sessions
WHERE token_hash = ? AND expires_at > strftime('%Y-%m-%dT%H:%M:%SZ','now')
LIMIT 1;
`, hashToken(rawToken)).Scan(&out.ID, &out.CurrentConversationID, &out.IconIndex, &out.CreatedAt, &out.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("resolve session: %w", err)
	}
	return out, nil
}

// SetCurrentConversation points the session at a conversation; an empty id
// clears the pointer ("new chat" without creating a row).
func (s Store) SetCurrentConversation(ctx context.Context, sessionID, conversationID string) error {
	var value any
	if strings.TrimSpace(conversationID) != "" {
		value = conversationID
	}

	result, err := s.db.ExecContext(ctx, `
UPDATE sessions SET current_conversation_id = ? WHERE id = ?;
`, value, sessionID)
	if err != nil {
		return fmt.Errorf("set current conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set current conversation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceIconIndex bumps the session's icon-cycle counter and returns the new
// value. The increment happens in the database so concurrent materializations
// never hand out the same index.
func (s Store) AdvanceIconIndex(ctx context.Context, sessionID string) (int, error) {
	var index int
	err := s.db.QueryRowContext(ctx, `
UPDATE sessions
SET icon_index = icon_index + 1
WHERE id = ?
RETURNING icon_index;
`, sessionID).Scan(&index)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("advance icon index: %w", err)
	}
	return index, nil
}

func (s Store) Delete(ctx context.Context, rawToken string) error {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?;`, hashToken(rawToken)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
