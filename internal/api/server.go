package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// Server wraps the HTTP server for the subscription endpoints.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the router and server for the given handlers.
func NewServer(addr string, h *Handlers) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      setupRoutes(h),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func setupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// The unsubscribe/resubscribe links are opened cross-origin from mail
	// clients and hosted preference pages.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Post("/campaigns/{slug}/subscriptions", h.CreateSubscription)

	r.Route("/campaign_subscriptions/{token}", func(r chi.Router) {
		r.Get("/", h.GetSubscription)
		r.Delete("/", h.DeleteSubscription)
		r.Get("/mailings", h.ListMailings)
		r.Get("/subscribe", h.Resubscribe)
		r.Post("/subscribe", h.Resubscribe)
		r.Get("/unsubscribe", h.Unsubscribe)
		r.Post("/unsubscribe", h.Unsubscribe)
		r.Post("/refuel", h.Refuel)
	})

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
