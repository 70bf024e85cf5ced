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

// AcquireCaseLock takes the processing lock for a case. Presence of a
// case_locks row is the lock; the insert races are settled by the primary key.
func (db *DB) AcquireCaseLock(ctx context.Context, caseID, holderID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO case_locks (case_id, holder_id, acquired_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (case_id) DO NOTHING`,
		caseID, holderID)
	if err != nil {
		return fmt.Errorf("storage: acquire case lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLockHeld
	}
	return nil
}

// ReleaseCaseLock drops the processing lock. Only the holder may release it.
func (db *DB) ReleaseCaseLock(ctx context.Context, caseID, holderID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`DELETE FROM case_locks WHERE case_id = $1 AND holder_id = $2`,
		caseID, holderID)
	if err != nil {
		return fmt.Errorf("storage: release case lock: %w", err)
	}
	return nil
}

// IsCaseLocked reports whether a processing lock exists for the case.
func (db *DB) IsCaseLocked(ctx context.Context, caseID uuid.UUID) (bool, error) {
	var locked bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM case_locks WHERE case_id = $1)`, caseID).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("storage: check case lock: %w", err)
	}
	return locked, nil
}

// ClaimNextQueued picks the oldest queued case, takes its processing lock, and
// moves it to processing, all in one transaction. FOR UPDATE SKIP LOCKED lets
// concurrent workers claim distinct cases without blocking each other.
// Returns ErrNotFound when the queue is empty.
func (db *DB) ClaimNextQueued(ctx context.Context, holderID uuid.UUID) (model.Case, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCase(tx.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE status = $1
		   AND id NOT IN (SELECT case_id FROM case_locks)
		 ORDER BY queued_at NULLS FIRST, created_at
		 LIMIT 1
		 FOR UPDATE SKIP LOCKED`,
		model.StatusQueued))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Case{}, ErrNotFound
		}
		return model.Case{}, fmt.Errorf("storage: claim queued case: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO case_locks (case_id, holder_id, acquired_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (case_id) DO NOTHING`,
		c.ID, holderID)
	if err != nil {
		return model.Case{}, fmt.Errorf("storage: lock claimed case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race to another holder between the scan and the insert.
		return model.Case{}, ErrLockHeld
	}

	c.Status = model.StatusProcessing
	c.UpdatedAt = time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE cases SET status = $2, updated_at = $3 WHERE id = $1`,
		c.ID, c.Status, c.UpdatedAt); err != nil {
		return model.Case{}, fmt.Errorf("storage: mark case processing: %w", err)
	}

	started := model.AuditEvent{
		CaseID:   c.ID,
		Action:   model.AuditProcessingStarted,
		Metadata: map[string]any{"holder_id": holderID.String()},
	}
	if err := insertAudit(ctx, tx, started); err != nil {
		return model.Case{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Case{}, fmt.Errorf("storage: commit claim: %w", err)
	}
	return c, nil
}

// ReclaimStaleLocks returns cases whose processing lock is older than ttl to
// the queue. Each reclaimed case gets a processing_recovered audit event.
// Returns the reclaimed case IDs.
func (db *DB) ReclaimStaleLocks(ctx context.Context, ttl time.Duration) ([]uuid.UUID, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx,
		`DELETE FROM case_locks
		 WHERE acquired_at < now() - $1::interval
		 RETURNING case_id, holder_id, acquired_at`,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return nil, fmt.Errorf("storage: delete stale locks: %w", err)
	}

	type stale struct {
		caseID     uuid.UUID
		holderID   uuid.UUID
		acquiredAt time.Time
	}
	var reclaimed []stale
	for rows.Next() {
		var s stale
		if err := rows.Scan(&s.caseID, &s.holderID, &s.acquiredAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan stale lock: %w", err)
		}
		reclaimed = append(reclaimed, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: read stale locks: %w", err)
	}

	now := time.Now().UTC()
	ids := make([]uuid.UUID, 0, len(reclaimed))
	for _, s := range reclaimed {
		// Only cases still stuck in processing go back to the queue; a lock
		// left behind after a completed run leaves the case untouched.
		tag, err := tx.Exec(ctx,
			`UPDATE cases SET status = $2, queued_at = $3, updated_at = $3
			 WHERE id = $1 AND status = $4`,
			s.caseID, model.StatusQueued, now, model.StatusProcessing)
		if err != nil {
			return nil, fmt.Errorf("storage: requeue reclaimed case: %w", err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		ev := model.AuditEvent{
			CaseID: s.caseID,
			Action: model.AuditProcessingRecovered,
			Metadata: map[string]any{
				"holder_id":   s.holderID.String(),
				"acquired_at": s.acquiredAt.UTC().Format(time.RFC3339),
			},
		}
		if err := insertAudit(ctx, tx, ev); err != nil {
			return nil, err
		}
		ids = append(ids, s.caseID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("storage: commit reclaim: %w", err)
	}
	return ids, nil
}
