// Package pipeline orchestrates case processing: enqueueing, a bounded
// worker pool consuming the queued set, per-case locks, and recovery of
// locks abandoned by crashed workers.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/saksflyt/saksflyt/internal/apperr"
	"github.com/saksflyt/saksflyt/internal/extract"
	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/queue"
	"github.com/saksflyt/saksflyt/internal/rules"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// Config carries the orchestrator's operational knobs.
type Config struct {
	WorkerPoolSize   int
	PollInterval     time.Duration
	StaleLockTTL     time.Duration
	ExtractorTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.StaleLockTTL <= 0 {
		c.StaleLockTTL = 10 * time.Minute
	}
	if c.ExtractorTimeout <= 0 {
		c.ExtractorTimeout = time.Minute
	}
	return c
}

// Orchestrator enqueues cases and runs the processing workers. A case is
// processed by at most one worker at a time; the lock table is the sole
// mutual-exclusion point.
type Orchestrator struct {
	db        *storage.DB
	files     *storage.FileStore
	extractor *extract.Extractor
	engine    *rules.Engine
	queueSvc  *queue.Service
	cfg       Config
	logger    *slog.Logger

	// wake nudges idle workers after an enqueue instead of waiting for
	// the next poll tick.
	wake chan struct{}
}

// New builds an Orchestrator. Run must be called before enqueued cases are
// picked up.
func New(db *storage.DB, files *storage.FileStore, extractor *extract.Extractor, engine *rules.Engine, queueSvc *queue.Service, cfg Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:        db,
		files:     files,
		extractor: extractor,
		engine:    engine,
		queueSvc:  queueSvc,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue moves a case into the processing queue. A case without documents is
// rejected; a case already queued is returned unchanged; a case currently
// processing is rejected unless force is set and no worker holds its lock.
// With force, previously processed documents are reset and re-extracted.
func (o *Orchestrator) Enqueue(ctx context.Context, caseID uuid.UUID, actorID uuid.UUID, force bool) (model.Case, error) {
	c, err := o.db.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Case{}, apperr.New(apperr.KindNotFound, "case not found")
		}
		return model.Case{}, apperr.Wrap(apperr.KindStorage, "load case", err)
	}

	count, err := o.db.CountDocuments(ctx, caseID)
	if err != nil {
		return model.Case{}, apperr.Wrap(apperr.KindStorage, "count documents", err)
	}
	if count == 0 {
		return model.Case{}, apperr.New(apperr.KindNoDocuments, "case has no documents to process")
	}

	switch c.Status {
	case model.StatusQueued:
		// Idempotent: already waiting for a worker.
		return c, nil
	case model.StatusProcessing:
		if !force {
			return model.Case{}, apperr.New(apperr.KindAlreadyProcessing, "case is already being processed")
		}
		locked, err := o.db.IsCaseLocked(ctx, caseID)
		if err != nil {
			return model.Case{}, apperr.Wrap(apperr.KindStorage, "check case lock", err)
		}
		if locked {
			return model.Case{}, apperr.New(apperr.KindAlreadyProcessing, "case is held by an active worker")
		}
		// Orphaned processing state from a crashed worker. Step back to
		// documents_uploaded so the normal queue transition applies.
		if _, err := o.db.TransitionCase(ctx, caseID, model.StatusDocumentsUploaded, nil, nil); err != nil {
			return model.Case{}, apperr.Wrap(apperr.KindStorage, "recover orphaned case", err)
		}
		c.Status = model.StatusDocumentsUploaded
	case model.StatusApproved, model.StatusRejected:
		return model.Case{}, apperr.Newf(apperr.KindInvalidTransition, "case is %s and cannot be reprocessed", c.Status)
	}

	if force {
		if err := o.db.ResetDocumentsForReprocess(ctx, caseID); err != nil {
			return model.Case{}, apperr.Wrap(apperr.KindStorage, "reset documents", err)
		}
	}

	now := time.Now().UTC()
	audit := model.AuditEvent{
		CaseID:  caseID,
		ActorID: &actorID,
		Action:  model.AuditProcessingQueued,
		Metadata: map[string]any{
			"force_reprocess": force,
			"previous_status": string(c.Status),
		},
	}
	updated, err := o.db.TransitionCase(ctx, caseID, model.StatusQueued, func(c *model.Case) {
		c.QueuedAt = &now
	}, &audit)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			// The status precheck above runs outside the row lock, so a
			// concurrent enqueue may have won the transition. Queueing a case
			// that is already queued is idempotent, not a conflict.
			if cur, gerr := o.db.GetCase(ctx, caseID); gerr == nil && cur.Status == model.StatusQueued {
				return cur, nil
			}
			return model.Case{}, apperr.Wrap(apperr.KindInvalidTransition, "enqueue case", err)
		}
		return model.Case{}, apperr.Wrap(apperr.KindStorage, "enqueue case", err)
	}

	recordQueueDepth(ctx, 1)
	o.nudge()
	return updated, nil
}

// Run starts the worker pool and the stale lock reclaimer, blocking until ctx
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.cfg.WorkerPoolSize; i++ {
		g.Go(func() error {
			o.workerLoop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		o.reclaimLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (o *Orchestrator) nudge() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// workerLoop drains the queue whenever nudged or on the poll tick.
func (o *Orchestrator) workerLoop(ctx context.Context) {
	holderID := uuid.New()
	logger := o.logger.With("worker_id", holderID)

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.wake:
		case <-ticker.C:
		}
		o.drain(ctx, holderID, logger)
	}
}

// drain claims and processes queued cases until the queue is empty or ctx is
// cancelled.
func (o *Orchestrator) drain(ctx context.Context, holderID uuid.UUID, logger *slog.Logger) {
	for ctx.Err() == nil {
		c, err := o.db.ClaimNextQueued(ctx, holderID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return
		case errors.Is(err, storage.ErrLockHeld):
			continue // lost a claim race, try the next case
		case err != nil:
			if ctx.Err() == nil {
				logger.Error("claim queued case", "error", err)
			}
			return
		}
		recordQueueDepth(ctx, -1)
		o.process(ctx, c, holderID, logger)
	}
}

// process runs one case end to end: extract unprocessed documents, evaluate
// rules, persist the breakdown, and transition to review_ready. On failure
// the case rolls back to documents_uploaded; the audit trail records which.
func (o *Orchestrator) process(ctx context.Context, c model.Case, holderID uuid.UUID, logger *slog.Logger) {
	logger = logger.With("case_id", c.ID)
	started := time.Now()
	result := model.AuditProcessingFailed
	defer func() { recordProcessed(context.WithoutCancel(ctx), result, time.Since(started)) }()

	// Cleanup writes must survive shutdown cancellation.
	bg := context.WithoutCancel(ctx)
	defer func() {
		if err := o.db.ReleaseCaseLock(bg, c.ID, holderID); err != nil {
			logger.Error("release case lock", "error", err)
		}
	}()

	if err := o.extractDocuments(ctx, c.ID, logger); err != nil {
		if errors.Is(err, context.Canceled) {
			result = model.AuditProcessingCancelled
			o.rollback(bg, c.ID, model.AuditProcessingCancelled, "shutdown before extraction finished", logger)
			return
		}
		o.rollback(bg, c.ID, model.AuditProcessingFailed, apperr.KindOf(err).String(), logger)
		return
	}

	docs, err := o.db.ListDocuments(ctx, c.ID)
	if err != nil {
		if ctx.Err() != nil {
			result = model.AuditProcessingCancelled
			o.rollback(bg, c.ID, model.AuditProcessingCancelled, "shutdown during processing", logger)
			return
		}
		o.rollback(bg, c.ID, model.AuditProcessingFailed, apperr.KindStorage.String(), logger)
		return
	}

	breakdown, err := o.evaluate(c, docs)
	if err != nil {
		logger.Error("rule evaluation failed", "error", err)
		o.rollback(bg, c.ID, model.AuditProcessingFailed, apperr.KindRuleEngine.String(), logger)
		return
	}

	if err := o.db.ReplaceRuleResults(ctx, c.ID, breakdown.Rules); err != nil {
		if ctx.Err() != nil {
			result = model.AuditProcessingCancelled
			o.rollback(bg, c.ID, model.AuditProcessingCancelled, "shutdown during processing", logger)
			return
		}
		logger.Error("persist rule results", "error", err)
		o.rollback(bg, c.ID, model.AuditProcessingFailed, apperr.KindStorage.String(), logger)
		return
	}

	now := time.Now().UTC()
	risk := breakdown.RiskLevel
	audit := model.AuditEvent{
		CaseID: c.ID,
		Action: model.AuditProcessingCompleted,
		Metadata: map[string]any{
			"confidence_score": breakdown.ConfidenceScore,
			"risk_level":       string(risk),
			"duration_ms":      time.Since(started).Milliseconds(),
		},
	}
	updated, err := o.db.TransitionCase(bg, c.ID, model.StatusReviewReady, func(c *model.Case) {
		c.ConfidenceScore = breakdown.ConfidenceScore
		c.RiskLevel = &risk
		c.RecommendationSummary = &breakdown.Recommendation
		if c.SLADueAt == nil {
			since := now
			if c.QueuedAt != nil {
				since = *c.QueuedAt
			}
			due := since.Add(o.queueSvc.SLAWindow(risk))
			c.SLADueAt = &due
		}
		c.PriorityScore = queue.PriorityScore(*c, now)
	}, &audit)
	if err != nil {
		logger.Error("transition to review_ready", "error", err)
		o.rollback(bg, c.ID, model.AuditProcessingFailed, apperr.KindStorage.String(), logger)
		return
	}

	result = model.AuditProcessingCompleted
	logger.Info("case processed",
		"status", updated.Status,
		"confidence_score", updated.ConfidenceScore,
		"risk_level", risk,
		"duration_ms", time.Since(started).Milliseconds(),
	)
}

// extractDocuments runs the extractor over every document still awaiting
// extraction. A document-level extraction failure marks that document failed
// and moves on; only storage errors and cancellation abort the case.
func (o *Orchestrator) extractDocuments(ctx context.Context, caseID uuid.UUID, logger *slog.Logger) error {
	docs, err := o.db.ListDocuments(ctx, caseID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "list documents", err)
	}

	for _, d := range docs {
		if d.Status != model.DocumentUploaded && d.Status != model.DocumentFailed {
			continue
		}
		if ctx.Err() != nil {
			return context.Canceled
		}
		if err := o.extractOne(ctx, d, logger); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) extractOne(ctx context.Context, d model.Document, logger *slog.Logger) error {
	if err := o.db.MarkDocumentProcessing(ctx, d.ID); err != nil {
		return apperr.Wrap(apperr.KindStorage, "mark document processing", err)
	}

	data, err := o.readDocument(d.StorageKey)
	if err != nil {
		logger.Warn("read document bytes", "document_id", d.ID, "error", err)
		return o.failDocument(ctx, d.ID, "stored file unreadable")
	}

	extractCtx, cancel := context.WithTimeout(ctx, o.cfg.ExtractorTimeout)
	text, fields, err := o.extractor.Extract(extractCtx, d.ContentType, data)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		logger.Warn("extraction failed", "document_id", d.ID, "error", err)
		return o.failDocument(ctx, d.ID, err.Error())
	}

	if err := o.db.StoreExtraction(ctx, d.ID, text, fields); err != nil {
		return apperr.Wrap(apperr.KindStorage, "store extraction", err)
	}
	return nil
}

func (o *Orchestrator) failDocument(ctx context.Context, id uuid.UUID, reason string) error {
	if err := o.db.MarkDocumentFailed(ctx, id, reason); err != nil {
		return apperr.Wrap(apperr.KindStorage, "mark document failed", err)
	}
	return nil
}

func (o *Orchestrator) readDocument(key string) ([]byte, error) {
	f, err := o.files.Open(key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// evaluate shields the worker from a panicking rule.
func (o *Orchestrator) evaluate(c model.Case, docs []model.Document) (b model.DecisionBreakdown, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.Newf(apperr.KindRuleEngine, "rule evaluation panicked: %v", r)
		}
	}()
	return o.engine.Evaluate(c, docs), nil
}

// rollback returns a case from processing to documents_uploaded and records
// why on the audit trail.
func (o *Orchestrator) rollback(ctx context.Context, caseID uuid.UUID, action, reason string, logger *slog.Logger) {
	audit := model.AuditEvent{
		CaseID: caseID,
		Action: action,
		Reason: &reason,
	}
	if action == model.AuditProcessingFailed {
		audit.Metadata = map[string]any{"error_class": reason}
	}
	if _, err := o.db.TransitionCase(ctx, caseID, model.StatusDocumentsUploaded, nil, &audit); err != nil {
		logger.Error("roll back case after failed run", "action", action, "error", err)
		return
	}
	logger.Warn("processing run rolled back", "action", action, "reason", reason)
}

// reclaimLoop periodically releases locks held longer than the TTL and
// requeues their cases.
func (o *Orchestrator) reclaimLoop(ctx context.Context) {
	interval := o.cfg.StaleLockTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		recovered, err := o.db.ReclaimStaleLocks(ctx, o.cfg.StaleLockTTL)
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Error("reclaim stale locks", "error", err)
			}
			continue
		}
		if len(recovered) > 0 {
			o.logger.Warn("recovered stale case locks", "count", len(recovered), "case_ids", recovered)
			recordQueueDepth(ctx, int64(len(recovered)))
			o.nudge()
		}
	}
}
