// Package server exposes the control API: engine start/stop, status, trade
// history, cooldowns, Prometheus metrics, and the WebSocket event feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/crossbot/internal/domain"
	"github.com/alanyoungcy/crossbot/internal/server/handler"
	"github.com/alanyoungcy/crossbot/internal/server/middleware"
	"github.com/alanyoungcy/crossbot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimitPerSec int    // per-client request budget, 0 disables
}

// Handlers aggregates the HTTP handlers the server registers. Engine may be
// nil in modes without a controllable engine, Trades and Cooldowns when the
// backing store is not wired; nil handlers get no routes.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Engine    *handler.EngineHandler
	Trades    *handler.TradesHandler
	Cooldowns *handler.CooldownsHandler
}

// Server is the headless HTTP + WebSocket API for the trading engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil;
// per-client rate limiting is applied only when both the limiter and a
// positive Config.RateLimitPerSec are present.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and metrics stay outside authentication so load balancers and
	// Prometheus can reach them.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/stats", handlers.Status.GetStats)
	mux.HandleFunc("GET /api/portfolio", handlers.Status.GetPortfolio)

	if handlers.Engine != nil {
		mux.HandleFunc("POST /api/engine/start", handlers.Engine.StartEngine)
		mux.HandleFunc("POST /api/engine/stop", handlers.Engine.StopEngine)
	}

	if handlers.Trades != nil {
		mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
		mux.HandleFunc("GET /api/trades/profit", handlers.Trades.GetProfit)
	}
	if handlers.Cooldowns != nil {
		mux.HandleFunc("GET /api/cooldowns", handlers.Cooldowns.ListCooldowns)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware chain, innermost first: auth, rate limiting, request
	// logging, CORS.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if limiter != nil && cfg.RateLimitPerSec > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerSec, time.Second)(h)
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
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
