// Package saksflyt is the public API for embedding the case review server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := saksflyt.New(
//	    saksflyt.WithVersion(version),
//	    saksflyt.WithLogger(logger),
//	    saksflyt.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: saksflyt (root) imports
// internal/*, but internal/* never imports saksflyt (root).
package saksflyt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/saksflyt/saksflyt/internal/advisory"
	"github.com/saksflyt/saksflyt/internal/auth"
	"github.com/saksflyt/saksflyt/internal/config"
	"github.com/saksflyt/saksflyt/internal/extract"
	"github.com/saksflyt/saksflyt/internal/pipeline"
	"github.com/saksflyt/saksflyt/internal/queue"
	"github.com/saksflyt/saksflyt/internal/ratelimit"
	"github.com/saksflyt/saksflyt/internal/review"
	"github.com/saksflyt/saksflyt/internal/rules"
	"github.com/saksflyt/saksflyt/internal/server"
	"github.com/saksflyt/saksflyt/internal/storage"
	"github.com/saksflyt/saksflyt/migrations"
)

// App is a fully wired server instance.
type App struct {
	cfg  config.Config
	opts resolvedOptions
}

// New loads configuration from the environment, applies the given options,
// and returns an App ready to Run. Configuration errors surface here, not
// at Run time.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.version == "" {
		o.version = "dev"
	}

	return &App{cfg: cfg, opts: o}, nil
}

// Run connects to the database, starts the processing workers and the HTTP
// server, and blocks until ctx is cancelled or the server fails. Shutdown is
// graceful: HTTP drains first, then the worker pool.
func (a *App) Run(ctx context.Context) error {
	cfg, logger := a.cfg, a.opts.logger

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	for _, extra := range a.opts.extraMigrations {
		if err := db.RunMigrations(ctx, extra); err != nil {
			return fmt.Errorf("extra migrations: %w", err)
		}
	}

	files, err := storage.NewFileStore(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.SecretKey, cfg.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	dicts, err := extract.LoadDictionaries()
	if err != nil {
		return fmt.Errorf("dictionaries: %w", err)
	}
	extractor := extract.New(extract.DisabledOCR{}, extract.NewRegexNLP(dicts))
	engine := rules.New(extractor.HasDurationPhrase)

	queueSvc := queue.New(db, queue.Config{
		DailyManualCapacity:   cfg.DailyManualCapacity,
		HighPriorityThreshold: cfg.HighPriorityThreshold,
		SLAWindowLowDays:      cfg.SLAWindowLowDays,
		SLAWindowMediumDays:   cfg.SLAWindowMediumDays,
		SLAWindowHighDays:     cfg.SLAWindowHighDays,
	})
	reviewSvc := review.New(db, logger)

	gen := advisory.FromConfig(cfg.AdvisoryBaseURL, cfg.AdvisoryAPIKey, cfg.AdvisoryModel, cfg.AdvisoryTemperature, cfg.AdvisoryTimeout)
	advisorySvc := advisory.New(db, gen, logger)

	orchestrator := pipeline.New(db, files, extractor, engine, queueSvc, pipeline.Config{
		WorkerPoolSize:   cfg.WorkerPoolSize,
		StaleLockTTL:     cfg.StaleLockTTL,
		ExtractorTimeout: cfg.ExtractorTimeout,
	}, logger)

	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- orchestrator.Run(ctx) }()

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
	} else {
		limiter = ratelimit.NoopLimiter{}
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Files:               files,
		JWTMgr:              jwtMgr,
		Orchestrator:        orchestrator,
		ReviewSvc:           reviewSvc,
		QueueSvc:            queueSvc,
		AdvisorySvc:         advisorySvc,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             a.opts.version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		ExtraRoutes:         a.opts.routeRegistrars,
		Middlewares:         a.opts.middlewares,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	select {
	case err := <-pipelineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(10 * time.Second):
		logger.Warn("pipeline did not stop in time")
	}
	return nil
}
