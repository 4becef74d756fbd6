package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/davidleathers/dependable-auction-exchange-backend/internal/api/websocket"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/auth"
	"github.com/davidleathers/dependable-auction-exchange-backend/internal/infrastructure/config"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP front of the auction engine.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	checks     map[string]HealthCheck
}

// NewServer builds the route table and middleware chain around an already
// constructed handler set.
func NewServer(cfg *config.Config, handler *Handler, wsHandler *websocket.Handler, authSvc *auth.Service, metricsHandler http.Handler, checks map[string]HealthCheck, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		checks: checks,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleLiveness)
	mux.HandleFunc("GET /health", s.handleReadiness)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	v1 := http.NewServeMux()
	v1.HandleFunc("POST /listings", handler.handleCreateListing)
	v1.HandleFunc("GET /listings", handler.handleBrowseListings)
	v1.HandleFunc("GET /listings/{id}", handler.handleGetListing)
	v1.HandleFunc("GET /listings/slug/{slug}", handler.handleGetListingBySlug)
	v1.HandleFunc("POST /listings/{id}/bids", handler.handlePlaceBid)
	v1.HandleFunc("GET /listings/{id}/bids", handler.handleListBids)
	v1.HandleFunc("DELETE /listings/{id}/bids/{bidID}", handler.handleRetractBid)
	v1.HandleFunc("GET /ws/listings/{id}", wsHandler.HandleListing)
	v1.HandleFunc("GET /ws/ticker", wsHandler.HandleTicker)
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))

	middlewares := []Middleware{
		requestIDMiddleware,
		loggingMiddleware(logger),
		recoveryMiddleware(logger),
		timeoutMiddleware(cfg.Server.WriteTimeout),
		identityMiddleware(authSvc),
	}

	var h http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		"addr", s.httpServer.Addr,
		"environment", s.cfg.Environment,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, status, results)
}
