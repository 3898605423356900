package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meridian/voter-gateway/internal/auth"
)

// SetupRoutes builds the router. authManager guards everything under
// /api; the webhook and health endpoints stay open because providers
// and probes do not carry user tokens. ws is the transport upgrade
// handler and runs outside /api so unauthenticated clients can still
// connect and recover (the transport gates send_message itself).
func SetupRoutes(h *Handlers, health *HealthChecker, authManager *auth.Manager, ws http.HandlerFunc, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", health.HandleHealthz)
	r.Get("/healthz/ready", health.HandleReadiness)

	r.Post("/webhooks/email", h.EmailWebhook)

	if authManager != nil {
		r.Get("/auth/login", authManager.HandleLogin)
		r.Get("/auth/callback", authManager.HandleCallback)
		r.Post("/auth/logout", authManager.HandleLogout)
		r.Get("/auth/user", authManager.HandleUserInfo)
	}

	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api", func(r chi.Router) {
		if authManager != nil {
			r.Use(authManager.RequireAuth)
		}

		r.Route("/query", func(r chi.Router) {
			r.Post("/generate-sql", h.GenerateSQL)
			r.Post("/execute", h.ExecuteQuery)
		})

		r.Route("/lists", func(r chi.Router) {
			r.Get("/", h.ListLists)
			r.Post("/", h.CreateList)
			r.Get("/{id}", h.GetList)
			r.Put("/{id}", h.UpdateList)
			r.Delete("/{id}", h.DeleteList)
			r.Post("/{id}/run", h.RunList)
			r.Post("/{id}/regenerate-sql", h.RegenerateListSQL)
			r.Get("/{id}/export", h.ExportList)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", h.ListSessions)
			r.Get("/{id}", h.GetSession)
			r.Get("/{id}/messages", h.SessionHistory)
			r.Put("/{id}/rename", h.RenameSession)
			r.Post("/{id}/archive", h.ArchiveSession)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Get("/", h.ListCampaigns)
			r.Post("/", h.CreateCampaign)
			r.Get("/{id}", h.GetCampaign)
			r.Put("/{id}", h.UpdateCampaign)
			r.Delete("/{id}", h.DeleteCampaign)
			r.Post("/{id}/send", h.SendCampaign)
			r.Post("/{id}/test", h.TestCampaign)
			r.Get("/{id}/stats", h.CampaignStats)
			r.Get("/{id}/events", h.CampaignEvents)
		})
	})

	return r
}
