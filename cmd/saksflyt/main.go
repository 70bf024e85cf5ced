package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

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
	"github.com/saksflyt/saksflyt/internal/telemetry"
	"github.com/saksflyt/saksflyt/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// .env is loaded before config so SAKSFLYT_LOG_LEVEL from it takes effect.
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("SAKSFLYT_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("saksflyt starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, true)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database and apply embedded migrations. RunMigrations tracks
	// applied files in schema_migrations and skips duplicates, so errors here
	// indicate real failures.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	files, err := storage.NewFileStore(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.SecretKey, cfg.AccessTokenTTL)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	// Extraction providers. There is no bundled OCR engine; the extractor
	// degrades scanned uploads to an ocr_unavailable warning either way, but
	// the flag keeps the intent explicit and leaves room for a real engine.
	var ocr extract.OCRProvider = extract.DisabledOCR{}
	if !cfg.OCREnabled {
		logger.Info("ocr: disabled via config")
	} else {
		logger.Info("ocr: no engine bundled, image recognition unavailable")
	}

	dicts, err := extract.LoadDictionaries()
	if err != nil {
		return fmt.Errorf("dictionaries: %w", err)
	}
	nlp := extract.NewRegexNLP(dicts)
	extractor := extract.New(ocr, nlp)

	engine := rules.New(extractor.HasDurationPhrase)

	queueSvc := queue.New(db, queue.Config{
		DailyManualCapacity:   cfg.DailyManualCapacity,
		HighPriorityThreshold: cfg.HighPriorityThreshold,
		SLAWindowLowDays:      cfg.SLAWindowLowDays,
		SLAWindowMediumDays:   cfg.SLAWindowMediumDays,
		SLAWindowHighDays:     cfg.SLAWindowHighDays,
	})

	reviewSvc := review.New(db, logger)

	// Advisory generator is optional; without a configured endpoint every
	// explanation comes from the deterministic fallback.
	gen := advisory.FromConfig(cfg.AdvisoryBaseURL, cfg.AdvisoryAPIKey, cfg.AdvisoryModel, cfg.AdvisoryTemperature, cfg.AdvisoryTimeout)
	if gen != nil {
		logger.Info("advisory: enabled", "generator", gen.Name())
	} else {
		logger.Info("advisory: disabled (deterministic fallback only)")
	}
	advisorySvc := advisory.New(db, gen, logger)

	orchestrator := pipeline.New(db, files, extractor, engine, queueSvc, pipeline.Config{
		WorkerPoolSize:   cfg.WorkerPoolSize,
		StaleLockTTL:     cfg.StaleLockTTL,
		ExtractorTimeout: cfg.ExtractorTimeout,
	}, logger)

	// Worker pool runs until ctx is cancelled; exits are collected after the
	// HTTP server drains.
	pipelineDone := make(chan error, 1)
	go func() { pipelineDone <- orchestrator.Run(ctx) }()

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
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
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MaxUploadBytes:      cfg.MaxUploadBytes,
		AllowedContentTypes: contentTypeSet(cfg.AllowedContentTypes),
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Order: (1) stop accepting new HTTP requests and
	// drain in-flight ones (they may still enqueue cases), (2) let the worker
	// pool observe cancellation and roll back anything half-processed.
	slog.Info("saksflyt shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	select {
	case err := <-pipelineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("pipeline shutdown error", "error", err)
		}
	case <-time.After(10 * time.Second):
		slog.Warn("pipeline did not stop in time")
	}

	slog.Info("saksflyt stopped")
	return nil
}

// contentTypeSet converts the configured whitelist into lookup form. Empty
// input keeps the handler defaults.
func contentTypeSet(types []string) map[string]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
