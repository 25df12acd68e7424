// Package server provides the HTTP server and routing for the reference
// data service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/refdata/internal/events"
	"github.com/aristath/refdata/internal/modules/factors"
	"github.com/aristath/refdata/internal/modules/mapfiles"
	"github.com/aristath/refdata/internal/modules/universe"
	"github.com/aristath/refdata/internal/registry"
)

// Config holds server configuration.
type Config struct {
	Log      zerolog.Logger
	DataDir  string
	Port     int
	DevMode  bool
	Factors  *factors.Engine
	Maps     *mapfiles.Engine
	Universe *universe.Engine
	Registry *registry.Registry
	EventBus *events.Bus
}

// Server represents the HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	port      int
	artifacts *ArtifactHandlers
	system    *SystemHandlers
	stream    *EventsStreamHandler
	ws        *EventsWebsocketHandler
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		port:      cfg.Port,
		artifacts: NewArtifactHandlers(cfg.DataDir, cfg.Factors, cfg.Maps, cfg.Universe, cfg.Log),
		system:    NewSystemHandlers(cfg.DataDir, cfg.Registry, cfg.Log),
		stream:    NewEventsStreamHandler(cfg.EventBus, cfg.Log),
		ws:        NewEventsWebsocketHandler(cfg.EventBus, cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// Timeout
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.Get("/health", s.handleHealth)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		// Event streams - must be before other routes for proper handling
		r.Get("/events/stream", s.stream.ServeHTTP)
		r.Get("/events/ws", s.ws.ServeHTTP)

		// Generated artifacts; requesting one triggers generation when the
		// on-disk copy is stale or absent.
		r.Get("/factor-files/{symbol}", s.artifacts.HandleFactorFile)
		r.Get("/map-files/{symbol}", s.artifacts.HandleMapFile)
		r.Get("/universe/coarse/{date}", s.artifacts.HandleCoarse)
		r.Get("/fundamental", s.artifacts.HandleFundamental)

		// System monitoring
		r.Get("/status", s.system.HandleStatus)
	})
}

// handleHealth responds to health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the request mux for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
