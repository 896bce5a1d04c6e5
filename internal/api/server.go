// Package api exposes specforge over HTTP.
package api

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/specforge/internal/auth"
	"github.com/p-blackswan/specforge/internal/health"
	"github.com/p-blackswan/specforge/internal/ledger"
	"github.com/p-blackswan/specforge/internal/metrics"
	"github.com/p-blackswan/specforge/internal/orchestrator"
	"github.com/p-blackswan/specforge/internal/project"
	"github.com/p-blackswan/specforge/internal/review"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	ListenAddr  string
	RateLimit   RateLimitConfig
	CORSOrigins string
}

// Services are the components the handlers call into.
type Services struct {
	Projects     *project.Service
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
	Review       *review.Engine
	Resolver     auth.Resolver
	Health       *health.Checker
	Metrics      *metrics.Metrics
}

// Server is the API Fiber application.
type Server struct {
	app      *fiber.App
	svc      Services
	resolver auth.Resolver
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	config   ServerConfig
}

// NewServer creates and configures a new API server.
func NewServer(cfg ServerConfig, svc Services, logger zerolog.Logger) *Server {
	s := &Server{
		svc:      svc,
		resolver: svc.Resolver,
		metrics:  svc.Metrics,
		logger:   logger.With().Str("component", "api").Logger(),
		config:   cfg,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		Immutable:             true,
		ErrorHandler:          customErrorHandler(s),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
	})

	s.setupMiddleware(cfg)
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(s.requestID)
	s.app.Use(s.observe)
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods: "GET, POST, PUT, PATCH, DELETE, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.app.Use(NewRateLimitMiddleware(cfg.RateLimit, s.svc.Metrics))
	}
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.LivenessHandler())
	if s.svc.Health != nil {
		s.app.Get("/readyz", s.svc.Health.ReadinessHandler())
	} else {
		s.app.Get("/readyz", health.LivenessHandler())
	}
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	v1 := s.app.Group("/api/v1", s.authenticate)

	v1.Get("/subscription", s.getSubscription)

	v1.Post("/projects", s.createProject)
	v1.Get("/projects", s.listProjects)
	v1.Get("/projects/:id", s.getProject)
	v1.Patch("/projects/:id", s.updateProject)
	v1.Delete("/projects/:id", s.deleteProject)
	v1.Get("/projects/:id/summary", s.projectSummary)

	v1.Get("/projects/:id/specs", s.listSpecs)
	v1.Get("/projects/:id/specs/:docType", s.getSpec)
	v1.Put("/projects/:id/specs/:docType", s.updateSpec)
	v1.Get("/projects/:id/specs/:docType/versions", s.listSpecVersions)
	v1.Post("/projects/:id/specs/:docType/rollback", s.rollbackSpec)

	v1.Post("/projects/:id/tasks", s.submitTask)
	v1.Get("/projects/:id/tasks", s.listTasks)
	v1.Get("/projects/:id/changes/pending", s.listPendingChanges)
	v1.Get("/tasks/:id", s.getTask)
	v1.Get("/tasks/:id/changes", s.listTaskChanges)

	v1.Get("/changes/:id", s.getChange)
	v1.Post("/changes/:id/approve", s.approveChange)
	v1.Post("/changes/:id/reject", s.rejectChange)
	v1.Post("/changes/:id/modify", s.modifyChange)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Info().Str("addr", addr).Msg("API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("API server shutting down")
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}
