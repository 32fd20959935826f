package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/sanctiond/internal/catalog"
	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/registry"
	"github.com/opensource-finance/sanctiond/internal/sanction"
	"github.com/opensource-finance/sanctiond/internal/worker"
)

// Deps are the collaborators served by the API.
type Deps struct {
	Repo       domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Catalog    *catalog.Catalog
	Structures *registry.Directory
	Service    *sanction.Service
	Sweeper    *worker.Sweeper

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer

	Auth    domain.AuthConfig
	Version string
}

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Probes and metrics (no actor)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Group(func(r chi.Router) {
		r.Use(ActorMiddleware(deps.Auth))

		// Violation catalog
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.SaveRule)
		r.Post("/rules/reload", handler.ReloadRules)
		r.Get("/rules/{code}", handler.GetRule)
		r.Delete("/rules/{code}", handler.DisableRule)

		// Structure registry replica
		r.Put("/structures/{id}", handler.SaveStructure)
		r.Get("/structures/{id}", handler.GetStructure)

		// Calculation preview
		r.Post("/calculate", handler.Calculate)

		// Decision workflow
		r.Post("/decisions", handler.CreateDecision)
		r.Get("/decisions", handler.ListDecisions)
		r.Post("/decisions/overdue-sweep", handler.SweepOverdue)
		r.Route("/decisions/{id}", func(r chi.Router) {
			r.Get("/", handler.GetDecision)
			r.Patch("/", handler.UpdateDecision)
			r.Post("/submit", handler.SubmitDecision)
			r.Post("/approve", handler.ApproveDecision)
			r.Post("/return", handler.ReturnDecision)
			r.Post("/notify", handler.NotifyDecision)
			r.Post("/payment", handler.RecordPayment)
			r.Post("/overdue", handler.MarkOverdue)
			r.Post("/exports", handler.ExportDecision)
			r.Get("/exports", handler.ListExports)
		})
	})

	return &Server{
		router:  router,
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
