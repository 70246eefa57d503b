// Package server implements the HTTP/SSE façade over the orchestration runtime.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ecoverify-ai/ecoverify/internal/auth"
	"github.com/ecoverify-ai/ecoverify/internal/bms"
	"github.com/ecoverify-ai/ecoverify/internal/discovery"
	"github.com/ecoverify-ai/ecoverify/internal/graph"
	"github.com/ecoverify-ai/ecoverify/internal/settlement"
)

// Server is the EcoVerify HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): AuthMgr, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Runner      *graph.Runner
	Telemetry   *bms.Simulator
	Settlements *settlement.Engine
	Discovery   *discovery.Service
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	AuthMgr   *auth.Manager
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	BuildingID          string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Runner:              cfg.Runner,
		Telemetry:           cfg.Telemetry,
		Settlements:         cfg.Settlements,
		Discovery:           cfg.Discovery,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		BuildingID:          cfg.BuildingID,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Mutating endpoints carry the bearer-token check when auth is on.
	protect := func(next http.Handler) http.Handler { return next }
	if cfg.AuthMgr != nil {
		protect = cfg.AuthMgr.Middleware
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/run", protect(http.HandlerFunc(h.HandleRun)))
	mux.Handle("POST /api/resume/{thread_id}", protect(http.HandlerFunc(h.HandleResume)))
	mux.Handle("POST /api/cancel/{thread_id}", protect(http.HandlerFunc(h.HandleCancel)))
	mux.Handle("POST /api/inject-anomaly", protect(http.HandlerFunc(h.HandleInjectAnomaly)))

	mux.HandleFunc("GET /api/stream/{thread_id}", h.HandleStream)
	mux.HandleFunc("GET /api/status/{thread_id}", h.HandleStatus)
	mux.HandleFunc("GET /api/traces/{thread_id}", h.HandleTraces)
	mux.HandleFunc("GET /api/settlements/{thread_id}", h.HandleSettlements)
	mux.HandleFunc("POST /api/personalize", h.HandlePersonalize)
	mux.HandleFunc("GET /api/.well-known/agent.json", h.HandleAgentCard)
	mux.HandleFunc("GET /api/a2a/agents", h.HandleAgentList)
	mux.HandleFunc("GET /api/demo/stream", h.HandleDemoStream)
	mux.HandleFunc("GET /health", h.HandleHealth)

	// MCP over streamable HTTP.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	var handler http.Handler = mux
	handler = maxBytesMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
