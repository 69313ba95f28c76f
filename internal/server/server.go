package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatbot/internal/chatbot"
	"chatbot/internal/incoming"
	"chatbot/internal/repository"
	"chatbot/internal/store"
)

const (
	// HTTP server timeouts. Writes must outlast a full check batch.
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 2 * time.Minute
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 90 * time.Second

	// Rate limiting - requests per minute
	GlobalRateLimit  = 60 // Global rate limit per minute
	WebhookRateLimit = 30 // Chat webhook and cron trigger rate limit per minute
)

// Bot is the part of the running system the HTTP surface drives.
type Bot interface {
	CheckRepositories(ctx context.Context, ids ...repository.ID) (*chatbot.Summary, error)
	HandleChatEvent(ctx context.Context, event *incoming.ChatEvent) (string, error)
}

// StatusStore serves the stored view of a repository.
type StatusStore interface {
	GetRepositoryStatus(ctx context.Context, id repository.ID, limit int) (*store.RepositoryStatus, error)
}

// Server represents the HTTP server
type Server struct {
	Registry *repository.Registry
	Bot      Bot
	Status   StatusStore
	Logger   *slog.Logger
	TestMode bool

	httpServer *http.Server
}

// NewServer creates a new server instance
func NewServer(registry *repository.Registry, bot Bot, status StatusStore, logger *slog.Logger, testMode bool) *Server {
	return &Server{
		Registry: registry,
		Bot:      bot,
		Status:   status,
		Logger:   logger,
		TestMode: testMode,
	}
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(NewLoggingMiddleware(s.Logger))

	// Rate limiting middleware (only if not in test mode)
	if !s.TestMode {
		r.Use(NewRateLimitMiddleware(GlobalRateLimit, s.Logger))
	}

	r.Get("/health", s.HandleHealth)
	r.Get("/status/{owner}/{name}", s.HandleStatus)

	r.Group(func(r chi.Router) {
		if !s.TestMode {
			r.Use(NewWebhookRateLimitMiddleware(WebhookRateLimit, s.Logger))
		}
		r.Post("/cron/repositories/check", s.HandleCheckRepositories)
		r.Post("/chat/events", s.HandleChatEvent)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops. A server stopped
// by Shutdown returns nil.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	s.Logger.Info("Starting server", "addr", addr)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
	}

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server, letting in-flight checks finish
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
