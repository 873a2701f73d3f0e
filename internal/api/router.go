package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/isdelr/clinicops/internal/api/handlers"
	"github.com/isdelr/clinicops/internal/auth"
	"github.com/isdelr/clinicops/internal/websocket"
)

// Services are the components the status API reads from.
type Services struct {
	Server  handlers.StatusProvider
	Backups handlers.BackupRunner
	Events  handlers.EventSource
	// Feed, when set, serves the live event stream on /api/v1/ws.
	Feed *websocket.Hub
}

// NewRouter creates and configures a new Chi router.
func NewRouter(issuer *auth.Issuer, allowedOrigins []string, svc Services) *chi.Mux {
	r := chi.NewRouter()

	// Basic middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	serverHandler := handlers.NewServerHandler(svc.Server)
	backupHandler := handlers.NewBackupHandler(svc.Backups)
	eventHandler := handlers.NewEventHandler(svc.Events)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(issuer.Middleware())

		r.Get("/server", serverHandler.Get)
		r.Route("/backups", func(r chi.Router) {
			r.Get("/", backupHandler.GetAll)
			r.Post("/", backupHandler.Create)
		})
		r.Get("/events", eventHandler.GetRecent)
		if svc.Feed != nil {
			r.Get("/ws", handlers.NewWebSocketHandler(svc.Feed, allowedOrigins).Serve)
		}
	})

	return r
}
