package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sanonone/kredo/pkg/engine"
)

// Server holds the HTTP interface and the underlying scoring Engine.
type Server struct {
	Engine *engine.Engine

	httpServer *http.Server

	taskManager *TaskManager
	bootConfig  *Config
	recompute   *RecomputeService
	authToken   string
}

// NewServer initializes the HTTP server using an existing Engine.
// Note: The Engine must be initialized (Open) before passing it here.
func NewServer(eng *engine.Engine, httpAddr string, projectsConfigPath string, authToken string) (*Server, error) {

	// Load the boot configuration
	bootConfig, err := LoadProjectsConfig(projectsConfigPath)
	if err != nil {
		return nil, err
	}
	if len(bootConfig.Projects) > 0 {
		log.Printf("Loaded %d project configurations", len(bootConfig.Projects))
	}

	s := &Server{
		Engine:      eng,
		taskManager: NewTaskManager(),
		bootConfig:  bootConfig,
		authToken:   authToken,
	}

	// Materialize the configured projects and build the recompute workers.
	recompute, err := NewRecomputeService(s)
	if err != nil {
		log.Printf("WARNING: Recompute service failed to start: %v", err)
	}
	s.recompute = recompute

	// Setup HTTP
	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain middlewares: Recovery -> Logging -> Auth -> Mux
	// Order matters! Recovery must be outer-most to catch everything.

	var handler http.Handler = mux

	// 1. Auth (Inner)
	handler = s.authMiddleware(handler)

	// 2. Logging (Middle) - Logs duration and status
	handler = s.LoggingMiddleware(handler)

	// 3. Recovery (Outer) - Catches panics
	handler = s.RecoveryMiddleware(handler)

	// Health and metrics stay outside the chain so probes and scrapers
	// never need a token.
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)
	s.httpServer = &http.Server{
		Addr:    httpAddr,
		Handler: rootMux,
	}

	return s, nil
}

// Handler returns the fully assembled HTTP handler, including the
// middleware chain and the token-free health/metrics routes. Useful for
// serving through httptest or a caller-owned http.Server.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server.
// It does NOT open the data directory (the Engine does that).
func (s *Server) Run() error {
	// Start recompute workers if present
	if s.recompute != nil {
		s.recompute.Start()
	}

	log.Printf("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and the recompute service.
// It does NOT close the Engine (main.go handles that for proper lifecycle management).
func (s *Server) Shutdown() {
	log.Println("Starting graceful shutdown of HTTP Server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if s.recompute != nil {
		s.recompute.Stop()
	}
}
