package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/saksflyt/saksflyt/internal/advisory"
	"github.com/saksflyt/saksflyt/internal/auth"
	"github.com/saksflyt/saksflyt/internal/pipeline"
	"github.com/saksflyt/saksflyt/internal/queue"
	"github.com/saksflyt/saksflyt/internal/ratelimit"
	"github.com/saksflyt/saksflyt/internal/review"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// Server is the saksflyt HTTP server.
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

// Handlers returns the underlying Handlers.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Limiter is optional; nil disables rate limiting on the credential endpoints.
type ServerConfig struct {
	DB           *storage.DB
	Files        *storage.FileStore
	JWTMgr       *auth.JWTManager
	Orchestrator *pipeline.Orchestrator
	ReviewSvc    *review.Service
	QueueSvc     *queue.Service
	AdvisorySvc  *advisory.Service
	Limiter      ratelimit.Limiter
	Logger       *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string

	MaxRequestBodyBytes int64
	MaxUploadBytes      int64
	AllowedContentTypes map[string]bool

	// Embedding extension points. ExtraRoutes are registered on the mux after
	// the built-in routes; Middlewares wrap the whole chain, first registered
	// outermost.
	ExtraRoutes []func(mux *http.ServeMux)
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Files:               cfg.Files,
		JWTMgr:              cfg.JWTMgr,
		Orchestrator:        cfg.Orchestrator,
		ReviewSvc:           cfg.ReviewSvc,
		QueueSvc:            cfg.QueueSvc,
		AdvisorySvc:         cfg.AdvisorySvc,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		AllowedContentTypes: cfg.AllowedContentTypes,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	// Credential endpoints are limited by client IP to slow brute forcing.
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Credential endpoints (no auth required, rate limited by IP).
	mux.Handle("POST /api/v1/login", authRL(http.HandlerFunc(h.HandleLogin)))
	mux.Handle("POST /api/v1/users/signup", authRL(http.HandlerFunc(h.HandleSignup)))

	// Profile.
	mux.HandleFunc("GET /api/v1/users/me", h.HandleMe)
	mux.HandleFunc("PATCH /api/v1/users/me", h.HandleUpdateMe)

	// Case intake and inspection.
	mux.HandleFunc("POST /api/v1/applications", h.HandleCreateCase)
	mux.HandleFunc("POST /api/v1/applications/{$}", h.HandleCreateCase)
	mux.HandleFunc("GET /api/v1/applications", h.HandleListCases)
	mux.HandleFunc("GET /api/v1/applications/{$}", h.HandleListCases)
	mux.HandleFunc("GET /api/v1/applications/{id}", h.HandleGetCase)
	mux.HandleFunc("PATCH /api/v1/applications/{id}", h.HandleUpdateCase)

	// Documents and processing.
	mux.HandleFunc("POST /api/v1/applications/{id}/documents", h.HandleUploadDocument)
	mux.HandleFunc("GET /api/v1/applications/{id}/documents", h.HandleListDocuments)
	mux.HandleFunc("POST /api/v1/applications/{id}/process", h.HandleProcess)

	// Review surface.
	mux.HandleFunc("GET /api/v1/applications/{id}/decision-breakdown", h.HandleDecisionBreakdown)
	mux.HandleFunc("GET /api/v1/applications/{id}/audit-trail", h.HandleAuditTrail)
	mux.Handle("POST /api/v1/applications/{id}/review-decision", requireReviewer(http.HandlerFunc(h.HandleReviewDecision)))
	mux.HandleFunc("GET /api/v1/applications/{id}/case-explainer", h.HandleCaseExplainer)
	mux.HandleFunc("GET /api/v1/applications/{id}/evidence-recommendations", h.HandleEvidenceRecommendations)

	// Queue (reviewer only). More specific than the {id} patterns, so the
	// mux routes these ahead of them.
	mux.Handle("GET /api/v1/applications/queue/review", requireReviewer(http.HandlerFunc(h.HandleReviewQueue)))
	mux.Handle("GET /api/v1/applications/queue/metrics", requireReviewer(http.HandlerFunc(h.HandleQueueMetrics)))

	// Health (no auth, no rate limit). Served on both paths so probes and
	// API clients share one handler.
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /api/v1/health", h.HandleHealth)

	for _, register := range cfg.ExtraRoutes {
		register(mux)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

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

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
