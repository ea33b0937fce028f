package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opencompliance/corelink/internal/domain"
	"github.com/opencompliance/corelink/internal/router"
	"github.com/opencompliance/corelink/internal/transform"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *transform.Engine, rt *router.Router, version string) *Server {
	handler := NewHandler(repo, cache, bus, engine, rt, version)
	mux := chi.NewRouter()

	// Global middleware stack
	mux.Use(CORSMiddleware)         // CORS for browser clients
	mux.Use(RecoverMiddleware)      // Recover from panics
	mux.Use(TracingMiddleware)      // OpenTelemetry tracing
	mux.Use(LoggingMiddleware)      // Request logging
	mux.Use(middleware.RealIP)      // Extract real IP
	mux.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	mux.Get("/health", handler.Health)
	mux.Get("/ready", handler.Ready)

	// Integration execution and retrieval
	mux.Post("/integrations", handler.ExecuteIntegration)
	mux.Get("/integrations", handler.ListIntegrations)
	mux.Get("/integrations/{id}", handler.GetIntegration)

	// Standalone transformation
	mux.Post("/transform/{ruleId}", handler.Transform)

	// Transformation rule management
	mux.Get("/rules", handler.ListRules)
	mux.Get("/rules/{id}", handler.GetRule)
	mux.Post("/rules", handler.CreateRule)
	mux.Post("/rules/reload", handler.ReloadRules)

	// Lookup table management
	mux.Get("/lookup-tables", handler.ListLookupTables)
	mux.Get("/lookup-tables/{id}", handler.GetLookupTable)
	mux.Post("/lookup-tables", handler.SaveLookupTable)
	mux.Put("/lookup-tables/{id}", handler.SaveLookupTable)

	// Connector lifecycle
	mux.Get("/connectors", handler.ListConnectors)
	mux.Post("/connectors/{system}/connect", handler.ConnectConnector)
	mux.Post("/connectors/{system}/disconnect", handler.DisconnectConnector)

	return &Server{
		router:  mux,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
