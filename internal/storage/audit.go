package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saksflyt/saksflyt/internal/model"
)

func insertAudit(ctx context.Context, tx pgx.Tx, e model.AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal audit metadata: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO audit_events (id, case_id, actor_id, action, reason, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		e.ID, e.CaseID, e.ActorID, e.Action, e.Reason, metaJSON, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert audit event: %w", err)
	}
	return nil
}

// AppendAudit appends one event to a case's audit trail. The table is
// append-only; nothing ever updates or deletes rows.
func (db *DB) AppendAudit(ctx context.Context, e model.AuditEvent) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := insertAudit(ctx, tx, e); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit audit event: %w", err)
	}
	return nil
}

// ListAudit returns a case's audit trail in append order.
func (db *DB) ListAudit(ctx context.Context, caseID uuid.UUID) ([]model.AuditEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, actor_id, action, reason, metadata, created_at
		 FROM audit_events WHERE case_id = $1 ORDER BY seq`, caseID)
	if err != nil {
		return nil, fmt.Errorf("storage: list audit events: %w", err)
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var e model.AuditEvent
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.CaseID, &e.ActorID, &e.Action, &e.Reason, &metaJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan audit event: %w", err)
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("storage: decode audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
