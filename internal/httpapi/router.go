package httpapi

import (
	"database/sql"
	"net/http"

	"magnus/backend/internal/config"
	"magnus/backend/internal/llm"
	"magnus/backend/internal/session"
	"magnus/backend/internal/store"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(cfg config.Config, db *sql.DB, registry *llm.Registry) http.Handler {
	conversations := store.New(db)
	sessions := session.NewStore(db)
	engine := llm.NewEngine(registry)
	h := NewHandler(cfg, conversations, sessions, registry, engine)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(p chi.Router) {
			p.Use(h.WithSession)

			p.Get("/conversations", h.ListConversations)
			p.Post("/conversations/new", h.NewChat)
			p.Delete("/conversations", h.WipeConversations)
			p.Post("/conversations/{id}/select", h.SelectConversation)
			p.Put("/conversations/{id}/title", h.RenameConversation)
			p.Post("/conversations/{id}/pin", h.TogglePin)
			p.Delete("/conversations/{id}", h.DeleteConversation)

			p.Post("/chat/messages", h.ChatMessages)

			p.Get("/settings/provider", h.GetProviderSettings)
			p.Put("/settings/provider", h.UpdateProviderSettings)
			p.Get("/settings/local-models", h.ListLocalModels)
		})
	})

	return r
}
