// Package server exposes the bot over HTTP: webhook ingress, a small REST
// API for positions and sells, and a WebSocket event bridge.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
	"github.com/alanyoungcy/soltraderbot/internal/server/handler"
	"github.com/alanyoungcy/soltraderbot/internal/server/middleware"
	"github.com/alanyoungcy/soltraderbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, API authentication is disabled

	// RateLimit caps requests per client IP per minute when a limiter is
	// provided. Zero disables limiting.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers. Webhook,
// Health, Status, and Positions are required; the rest are mode-dependent
// and skipped when nil.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Webhook   *handler.WebhookHandler
	Sell      *handler.SellHandler
	History   *handler.HistoryHandler
}

// Server is the headless HTTP + WebSocket API server for the trading bot.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux. It
// wires middleware (logging, CORS, auth, rate limiting) and attaches the
// WebSocket hub. The webhook route bypasses API auth; it carries its own
// shared-secret verification.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	api := http.NewServeMux()

	api.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	api.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	api.HandleFunc("GET /api/positions/{mint}", handlers.Positions.GetPosition)

	if handlers.Sell != nil {
		api.HandleFunc("POST /api/sell", handlers.Sell.ExecuteSell)
		api.HandleFunc("GET /api/quotes", handlers.Sell.ListQuotes)
		api.HandleFunc("GET /api/sells", handlers.Sell.ListSells)
	}

	if handlers.History != nil {
		api.HandleFunc("GET /api/history/trades", handlers.History.ListTrades)
		api.HandleFunc("GET /api/history/closed", handlers.History.ListClosed)
		api.HandleFunc("GET /api/audit", handlers.History.ListAudit)
	}

	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// The API surface sits behind key auth; webhook deliveries authenticate
	// with the provider secret instead.
	var apiChain http.Handler = middleware.Auth(cfg.APIKey)(api)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", handlers.Webhook.HandleWebhook)
	mux.Handle("/", apiChain)

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
