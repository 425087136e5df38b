package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"magnus/backend/internal/config"
	"magnus/backend/internal/llm"
	"magnus/backend/internal/session"
	"magnus/backend/internal/store"
)

type chatEngine interface {
	Invoke(ctx context.Context, history []llm.Turn) (llm.Result, error)
}

type providerRegistry interface {
	Current() llm.Settings
	Activate(ctx context.Context, requested llm.Settings) error
	LocalModels(ctx context.Context) ([]llm.LocalModel, error)
}

type Handler struct {
	cfg           config.Config
	conversations *store.Store
	sessions      session.Store
	registry      providerRegistry
	engine        chatEngine
}

func NewHandler(cfg config.Config, conversations *store.Store, sessions session.Store, registry providerRegistry, engine chatEngine) Handler {
	return Handler{cfg: cfg, conversations: conversations, sessions: sessions, registry: registry, engine: engine}
}

type contextKey string

const sessionContextKey contextKey = "session"

func (h Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WithSession resolves the session cookie, creating a fresh session (and
// setting the cookie) on first visit or after expiry. There is no user
// identity behind a session; it only scopes the current-conversation pointer
// and the icon cycle.
func (h Handler) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rawToken, err := readSessionCookie(r, h.cfg.SessionCookieName); err == nil {
			if sess, err := h.sessions.Resolve(r.Context(), rawToken); err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess)))
				return
			}
		}

		sess, rawToken, err := h.sessions.Create(r.Context(), h.cfg.SessionTTL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "db_error", "failed to create session")
			return
		}

		h.setSessionCookie(w, rawToken, time.Now().Add(h.cfg.SessionTTL))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess)))
	})
}

func (h Handler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func readSessionCookie(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cookie.Value) == "" {
		return "", http.ErrNoCookie
	}
	return cookie.Value, nil
}

func sessionFromContext(ctx context.Context) (session.Session, bool) {
	value := ctx.Value(sessionContextKey)
	if value == nil {
		return session.Session{}, false
	}
	sess, ok := value.(session.Session)
	return sess, ok
}
