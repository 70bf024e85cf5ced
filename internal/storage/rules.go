package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saksflyt/saksflyt/internal/model"
)

// ReplaceRuleResults atomically swaps a case's rule results for the output of
// one processing run. Readers never observe a partial set.
func (db *DB) ReplaceRuleResults(ctx context.Context, caseID uuid.UUID, results []model.RuleResult) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM rule_results WHERE case_id = $1`, caseID); err != nil {
		return fmt.Errorf("storage: clear rule results: %w", err)
	}

	now := time.Now().UTC()
	for i, r := range results {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.EvaluatedAt.IsZero() {
			r.EvaluatedAt = now
		}
		if r.Evidence == nil {
			r.Evidence = map[string]any{}
		}
		evidenceJSON, err := json.Marshal(r.Evidence)
		if err != nil {
			return fmt.Errorf("storage: marshal rule evidence: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO rule_results (id, case_id, rule_code, rule_name, passed, score, weight,
			     rationale, evidence, position, evaluated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11)`,
			r.ID, caseID, r.RuleCode, r.RuleName, r.Passed, r.Score, r.Weight,
			r.Rationale, evidenceJSON, i, r.EvaluatedAt,
		); err != nil {
			return fmt.Errorf("storage: insert rule result %s: %w", r.RuleCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit rule results: %w", err)
	}
	return nil
}

// ListRuleResults returns a case's rule results in registry order.
func (db *DB) ListRuleResults(ctx context.Context, caseID uuid.UUID) ([]model.RuleResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, case_id, rule_code, rule_name, passed, score, weight,
		     rationale, evidence, position, evaluated_at
		 FROM rule_results WHERE case_id = $1 ORDER BY position`, caseID)
	if err != nil {
		return nil, fmt.Errorf("storage: list rule results: %w", err)
	}
	defer rows.Close()

	var results []model.RuleResult
	for rows.Next() {
		var r model.RuleResult
		var evidenceJSON []byte
		if err := rows.Scan(&r.ID, &r.CaseID, &r.RuleCode, &r.RuleName, &r.Passed, &r.Score, &r.Weight,
			&r.Rationale, &evidenceJSON, &r.Position, &r.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan rule result: %w", err)
		}
		if len(evidenceJSON) > 0 {
			if err := json.Unmarshal(evidenceJSON, &r.Evidence); err != nil {
				return nil, fmt.Errorf("storage: decode rule evidence: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
