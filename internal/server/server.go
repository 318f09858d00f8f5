package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sleepd/sleepd/internal/config"
	"github.com/sleepd/sleepd/internal/handler"
	"github.com/sleepd/sleepd/internal/history"
	"github.com/sleepd/sleepd/internal/model"
	"github.com/sleepd/sleepd/internal/server/middleware"
	"github.com/sleepd/sleepd/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host             string
	Port             int
	ShutdownTimeout  time.Duration
	CORSOrigins      []string
	TriggerRateLimit int // requests per minute per IP on the trigger, 0 disables
	SessionTTL       time.Duration
	MaxBodySize      int64 // bytes
	Version          string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "0.0.0.0",
		Port:             5000,
		ShutdownTimeout:  30 * time.Second,
		CORSOrigins:      []string{"*"},
		TriggerRateLimit: 10,
		SessionTTL:       24 * time.Hour,
		MaxBodySize:      64 * 1024,
		Version:          "dev",
	}
}

// Server is the top-level HTTP server for sleepd. It owns the Chi router and
// holds the key store, authentication service, history ledger and sleep
// engine that the handlers share.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	authSvc    *service.AuthService
	ledger     *history.Ledger
	sleeper    handler.Sleeper
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, authSvc *service.AuthService, ledger *history.Ledger, sleeper handler.Sleeper, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		authSvc: authSvc,
		ledger:  ledger,
		sleeper: sleeper,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.PeerAddr)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	if s.cfg.MaxBodySize > 0 {
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))
	}
	r.Use(chimw.Compress(5))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	sysHandler := handler.NewSystemHandler(s.authSvc, s.ledger, s.cfg.SessionTTL, s.cfg.Version)
	sleepHandler := handler.NewSleepHandler(s.ledger, s.sleeper, s.logger)

	// --- Probes (no auth required) ---
	r.Get("/status", sysHandler.Status)
	r.Get("/readyz", s.handleReadyz)

	// --- Sleep trigger: API key or basic credentials ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(s.cfg.TriggerRateLimit))
		r.Use(middleware.AuthenticateTrigger(s.authSvc, s.logger))
		r.Post("/api/sleep", sleepHandler.Trigger)
	})

	// Session endpoints are unauthenticated (login) or stateless (logout)
	r.Post("/admin/session", sysHandler.Login)
	r.Delete("/admin/session", sysHandler.Logout)

	// --- Operator endpoints: admin session required ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdminSession(s.authSvc))

		r.Post("/generate-api-key", sysHandler.GenerateAPIKey)
		r.Get("/api/keys", sysHandler.ListAPIKeys)
		r.Delete("/api/keys/{prefix}", sysHandler.RevokeAPIKey)
		r.Get("/api/history", sysHandler.History)
	})

	s.router = r
}

// handleReadyz is a readiness probe. Returns 200 when the key store answers,
// or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"key_store": "ok"}

	if err := s.store.Ping(r.Context()); err != nil {
		checks["key_store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: message})
}
