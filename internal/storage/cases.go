package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saksflyt/saksflyt/internal/model"
)

// ErrInvalidTransition is returned when a requested status change is not an
// edge of the case status graph.
var ErrInvalidTransition = errors.New("storage: invalid status transition")

const caseColumns = `id, owner_id, applicant_full_name, applicant_nationality, applicant_birth_date,
	 notes, status, confidence_score, risk_level, recommendation_summary, priority_score,
	 sla_due_at, queued_at, final_decision, decided_by, decided_at, decision_reason,
	 created_at, updated_at`

func scanCase(row pgx.Row) (model.Case, error) {
	var c model.Case
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.ApplicantFullName, &c.ApplicantNationality, &c.ApplicantBirthDate,
		&c.Notes, &c.Status, &c.ConfidenceScore, &c.RiskLevel, &c.RecommendationSummary, &c.PriorityScore,
		&c.SLADueAt, &c.QueuedAt, &c.FinalDecision, &c.FinalDecisionBy, &c.FinalDecisionAt, &c.FinalDecisionReason,
		&c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// CreateCase inserts a new draft case.
func (db *DB) CreateCase(ctx context.Context, ownerID uuid.UUID, in model.CaseCreate) (model.Case, error) {
	c := model.Case{
		ID:                   uuid.New(),
		OwnerID:              ownerID,
		ApplicantFullName:    in.ApplicantFullName,
		ApplicantNationality: in.ApplicantNationality,
		ApplicantBirthDate:   in.ApplicantBirthDate,
		Notes:                in.Notes,
		Status:               model.StatusDraft,
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO cases (id, owner_id, applicant_full_name, applicant_nationality, applicant_birth_date,
		     notes, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.OwnerID, c.ApplicantFullName, c.ApplicantNationality, c.ApplicantBirthDate,
		c.Notes, c.Status, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: create case: %w", err)
	}
	return c, nil
}

// GetCase retrieves a case by ID.
func (db *DB) GetCase(ctx context.Context, id uuid.UUID) (model.Case, error) {
	c, err := scanCase(db.pool.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Case{}, ErrNotFound
		}
		return model.Case{}, fmt.Errorf("storage: get case: %w", err)
	}
	return c, nil
}

// CaseFilter narrows ListCases.
type CaseFilter struct {
	OwnerID *uuid.UUID
	Status  *model.CaseStatus
	Limit   int
	Offset  int
}

// ListCases returns cases matching the filter, newest first, with the total count.
func (db *DB) ListCases(ctx context.Context, f CaseFilter) ([]model.Case, int, error) {
	where := ""
	var args []any
	idx := 1
	appendCond := func(cond string, v any) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(cond, idx)
		args = append(args, v)
		idx++
	}
	if f.OwnerID != nil {
		appendCond("owner_id = $%d", *f.OwnerID)
	}
	if f.Status != nil {
		appendCond("status = $%d", *f.Status)
	}

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM cases"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count cases: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := db.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM cases%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		caseColumns, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list cases: %w", err)
	}
	defer rows.Close()

	cases, err := collectCases(rows)
	return cases, total, err
}

// UpdateCase applies an applicant-field patch and returns the updated case.
// Status preconditions are enforced by the caller.
func (db *DB) UpdateCase(ctx context.Context, id uuid.UUID, patch model.CasePatch) (model.Case, error) {
	c, err := scanCase(db.pool.QueryRow(ctx,
		`UPDATE cases SET
		     applicant_full_name = COALESCE($2, applicant_full_name),
		     applicant_nationality = COALESCE($3, applicant_nationality),
		     applicant_birth_date = COALESCE($4, applicant_birth_date),
		     notes = COALESCE($5, notes),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+caseColumns,
		id, patch.ApplicantFullName, patch.ApplicantNationality, patch.ApplicantBirthDate, patch.Notes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Case{}, ErrNotFound
		}
		return model.Case{}, fmt.Errorf("storage: update case: %w", err)
	}
	return c, nil
}

// TransitionCase moves a case to a new status atomically. The current row is
// locked, the transition is validated against the status graph, mutate (if
// non-nil) adjusts derived fields on the in-memory copy, and the row plus an
// optional audit event are written in one transaction.
//
// mutate must not change ID, OwnerID, Status, or timestamps.
//
// Concurrent uploads and workers lock the same case row, so deadlocks and
// serialization failures are retried a few times before surfacing.
func (db *DB) TransitionCase(ctx context.Context, id uuid.UUID, to model.CaseStatus, mutate func(c *model.Case), audit *model.AuditEvent) (model.Case, error) {
	var c model.Case
	err := WithRetry(ctx, lockRetries, lockRetryBaseDelay, func() error {
		var err error
		c, err = db.transitionCase(ctx, id, to, mutate, audit)
		return err
	})
	return c, err
}

func (db *DB) transitionCase(ctx context.Context, id uuid.UUID, to model.CaseStatus, mutate func(c *model.Case), audit *model.AuditEvent) (model.Case, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCase(tx.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Case{}, ErrNotFound
		}
		return model.Case{}, fmt.Errorf("storage: lock case: %w", err)
	}

	if !model.ValidTransition(c.Status, to) {
		return model.Case{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	prev := c.Status
	c.Status = to
	if mutate != nil {
		mutate(&c)
	}
	c.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE cases SET
		     status = $2, confidence_score = $3, risk_level = $4, recommendation_summary = $5,
		     priority_score = $6, sla_due_at = $7, queued_at = $8,
		     final_decision = $9, decided_by = $10, decided_at = $11, decision_reason = $12,
		     updated_at = $13
		 WHERE id = $1`,
		c.ID, c.Status, c.ConfidenceScore, c.RiskLevel, c.RecommendationSummary,
		c.PriorityScore, c.SLADueAt, c.QueuedAt,
		c.FinalDecision, c.FinalDecisionBy, c.FinalDecisionAt, c.FinalDecisionReason,
		c.UpdatedAt,
	)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: transition case %s -> %s: %w", prev, to, err)
	}

	if audit != nil {
		if err := insertAudit(ctx, tx, *audit); err != nil {
			return model.Case{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Case{}, fmt.Errorf("storage: commit transition: %w", err)
	}
	return c, nil
}

// ListPendingManual returns every case awaiting a human reviewer
// (review_ready or more_info_required). The set is bounded by the manual
// backlog, so it is loaded whole and ordered in memory by the queue service.
func (db *DB) ListPendingManual(ctx context.Context) ([]model.Case, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE status = $1 OR status = $2`,
		model.StatusReviewReady, model.StatusMoreInfoRequired)
	if err != nil {
		return nil, fmt.Errorf("storage: list pending manual: %w", err)
	}
	defer rows.Close()
	return collectCases(rows)
}

func collectCases(rows pgx.Rows) ([]model.Case, error) {
	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan case: %w", err)
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}
