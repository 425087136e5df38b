package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"magnus/backend/internal/llm"
	"magnus/backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func (h Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "session_missing", "request reached handler without a session")
		return
	}

	conversations, err := h.conversations.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversations":        conversations,
		"activeConversationId": sess.CurrentConversationID,
	})
}

// NewChat clears the session's conversation pointer. The conversation row
// itself is only created once the first message is sent.
func (h Handler) NewChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "session_missing", "request reached handler without a session")
		return
	}

	if err := h.sessions.SetCurrentConversation(r.Context(), sess.ID, ""); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to clear active conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "activeConversationId": ""})
}

func (h Handler) SelectConversation(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "session_missing", "request reached handler without a session")
		return
	}

	conversationID := chi.URLParam(r, "id")
	conversation, err := h.conversations.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation does not exist")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read conversation")
		return
	}

	if err := h.sessions.SetCurrentConversation(r.Context(), sess.ID, conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to select conversation")
		return
	}

	messages, err := h.conversations.ListMessages(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"conversation": conversation,
		"messages":     messages,
	})
}

type renameConversationRequest struct {
	Title string `json:"title"`
}

func (h Handler) RenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}

	conversationID := chi.URLParam(r, "id")
	conversation, err := h.conversations.GetConversation(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation does not exist")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read conversation")
		return
	}

	if err := h.conversations.UpdateConversationMeta(r.Context(), conversationID, title, conversation.Icon); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to rename conversation")
		return
	}

	conversation, err = h.conversations.GetConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conversation})
}

func (h Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	pinned, err := h.conversations.TogglePin(r.Context(), conversationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation does not exist")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to toggle pin")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"pinned": pinned})
}

func (h Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	if _, err := h.conversations.GetConversation(r.Context(), conversationID); errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "conversation does not exist")
		return
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read conversation")
		return
	}

	if err := h.conversations.DeleteConversation(r.Context(), conversationID); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to delete conversation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h Handler) WipeConversations(w http.ResponseWriter, r *http.Request) {
	if err := h.conversations.WipeAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to wipe conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type chatMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

type chatMessageResponse struct {
	Text                string             `json:"text"`
	Thinking            string             `json:"thinking,omitempty"`
	Conversation        store.Conversation `json:"conversation"`
	ConversationCreated bool               `json:"conversationCreated"`
}

// ChatMessages runs one full chat turn: replay history to the dispatch
// engine, persist both turns, then materialize or touch the conversation.
func (h Handler) ChatMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "session_missing", "request reached handler without a session")
		return
	}

	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "message is required")
		return
	}

	ctx := r.Context()

	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		conversationID = sess.CurrentConversationID
	}

	var conversation store.Conversation
	created := false
	if conversationID == "" {
		var err error
		conversation, err = h.createPlaceholderConversation(r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to create conversation")
			return
		}
		conversationID = conversation.ID
		created = true
	} else {
		var err error
		conversation, err = h.conversations.GetConversation(ctx, conversationID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation does not exist")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to read conversation")
			return
		}
	}

	stored, err := h.conversations.ListMessages(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read history")
		return
	}

	history := make([]llm.Turn, 0, len(stored)+1)
	for _, m := range stored {
		history = append(history, llm.Turn{Role: m.Role, Text: m.Content})
	}
	history = append(history, llm.Turn{Role: llm.RoleUser, Text: message})

	result, err := h.engine.Invoke(ctx, history)
	if err != nil {
		// A conversation only exists once its first turn succeeds.
		if created {
			if deleteErr := h.conversations.DeleteConversation(ctx, conversationID); deleteErr != nil {
				log.Printf("delete unmaterialized conversation %s: %v", conversationID, deleteErr)
			}
		}
		switch {
		case errors.Is(err, llm.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, "provider_unconfigured", "no language-model provider is configured")
		case errors.Is(err, llm.ErrMalformedHistory), errors.Is(err, llm.ErrEmptyHistory):
			writeError(w, http.StatusBadRequest, "invalid_history", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "dispatch_error", "failed to dispatch message")
		}
		return
	}

	last, err := h.conversations.LastSequence(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to read last sequence")
		return
	}
	if _, err := h.conversations.AppendMessage(ctx, conversationID, store.RoleUser, message, last+1); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to persist user message")
		return
	}
	if _, err := h.conversations.AppendMessage(ctx, conversationID, store.RoleAssistant, result.Text, last+2); err != nil {
		writeError(w, http.StatusInternalServerError, "db_error", "failed to persist assistant message")
		return
	}

	if conversation.Title == placeholderTitle {
		conversation = h.materializeConversation(r, sess.ID, conversationID, message, conversation)
	} else {
		if err := h.conversations.TouchConversation(ctx, conversationID); err != nil {
			log.Printf("touch conversation %s: %v", conversationID, err)
		}
		if refreshed, err := h.conversations.GetConversation(ctx, conversationID); err == nil {
			conversation = refreshed
		}
	}

	if sess.CurrentConversationID != conversationID {
		if err := h.sessions.SetCurrentConversation(ctx, sess.ID, conversationID); err != nil {
			log.Printf("set current conversation %s: %v", conversationID, err)
		}
	}

	writeJSON(w, http.StatusOK, chatMessageResponse{
		Text:                result.Text,
		Thinking:            result.Thinking,
		Conversation:        conversation,
		ConversationCreated: created,
	})
}

// createPlaceholderConversation inserts an unmaterialized row. Ids are random
// tokens, so a duplicate means a collision: log it and retry once with a
// fresh id rather than failing the chat turn.
func (h Handler) createPlaceholderConversation(r *http.Request) (store.Conversation, error) {
	conversation, err := h.conversations.CreateConversation(r.Context(), uuid.NewString(), placeholderTitle, placeholderIcon)
	if errors.Is(err, store.ErrDuplicateID) {
		log.Printf("conversation id collision, retrying with a fresh id")
		conversation, err = h.conversations.CreateConversation(r.Context(), uuid.NewString(), placeholderTitle, placeholderIcon)
	}
	return conversation, err
}

// materializeConversation performs the one-time placeholder rewrite: derived
// title, next icon in the cycle. The icon counter advances here and only
// here, so empty conversations never consume icons.
func (h Handler) materializeConversation(r *http.Request, sessionID, conversationID, message string, fallbackConversation store.Conversation) store.Conversation {
	ctx := r.Context()

	iconIndex, err := h.sessions.AdvanceIconIndex(ctx, sessionID)
	if err != nil {
		log.Printf("advance icon index for session %s: %v", sessionID, err)
		return fallbackConversation
	}

	title := deriveTitle(message)
	if err := h.conversations.UpdateConversationMeta(ctx, conversationID, title, iconForIndex(iconIndex)); err != nil {
		log.Printf("materialize conversation %s: %v", conversationID, err)
		return fallbackConversation
	}

	conversation, err := h.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		log.Printf("reload conversation %s: %v", conversationID, err)
		return fallbackConversation
	}
	log.Printf("conversation materialized: %s title %q icon %q", conversationID, conversation.Title, conversation.Icon)
	return conversation
}
