package model

import (
	"time"

	"github.com/google/uuid"
)

// RuleResult is one weighted rule's outcome for a case, produced by a single
// processing run. The full set for a case is replaced atomically on each run.
type RuleResult struct {
	ID          uuid.UUID      `json:"id"`
	CaseID      uuid.UUID      `json:"case_id"`
	RuleCode    string         `json:"rule_code"`
	RuleName    string         `json:"rule_name"`
	Passed      bool           `json:"passed"`
	Score       float64        `json:"score"`
	Weight      float64        `json:"weight"`
	Rationale   string         `json:"rationale"`
	Evidence    map[string]any `json:"evidence"`
	Position    int            `json:"-"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// DecisionBreakdown is the per-rule evaluation plus aggregate confidence,
// risk, and recommendation for a case.
type DecisionBreakdown struct {
	CaseID          uuid.UUID    `json:"case_id"`
	ConfidenceScore float64      `json:"confidence_score"`
	RiskLevel       RiskLevel    `json:"risk_level"`
	Recommendation  string       `json:"recommendation"`
	Rules           []RuleResult `json:"rules"`
}
