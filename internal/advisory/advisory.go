// Package advisory produces non-binding review guidance for cases. An
// external generator may enrich the output; every operation degrades to a
// deterministic rules-derived fallback, and advisory output never feeds back
// into case state.
package advisory

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saksflyt/saksflyt/internal/apperr"
	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// maxListItems caps every string list accepted from an external generator.
const maxListItems = 5

// Input is the case context handed to a Generator.
type Input struct {
	Case      model.Case
	Rules     []model.RuleResult
	Documents []model.Document
	Audit     []model.AuditEvent
	RiskLevel model.RiskLevel
}

// Output is a generator's raw memo before validation.
type Output struct {
	Summary           string   `json:"summary"`
	RecommendedAction string   `json:"recommended_action"`
	KeyRisks          []string `json:"key_risks"`
	MissingEvidence   []string `json:"missing_evidence"`
	NextSteps         []string `json:"next_steps"`
}

// Generator produces an advisory memo from case context.
type Generator interface {
	// Name labels the generator in the generated_by field.
	Name() string
	Explain(ctx context.Context, in Input) (Output, error)
}

// Service answers the two advisory read operations.
type Service struct {
	db     *storage.DB
	gen    Generator // nil when no external generator is configured
	logger *slog.Logger
}

// New builds an advisory Service. gen may be nil.
func New(db *storage.DB, gen Generator, logger *slog.Logger) *Service {
	return &Service{db: db, gen: gen, logger: logger}
}

// Explain returns the advisory memo for a case. External generator output is
// schema-validated; on any transport error or schema violation the
// deterministic fallback is returned and the failure is audited.
func (s *Service) Explain(ctx context.Context, caseID uuid.UUID) (model.CaseExplanation, error) {
	in, err := s.loadInput(ctx, caseID)
	if err != nil {
		return model.CaseExplanation{}, err
	}

	now := time.Now().UTC()
	fallback := buildFallbackExplanation(in.Case, in.Rules, in.Documents, in.RiskLevel, now)
	if s.gen == nil {
		return fallback, nil
	}

	out, err := s.gen.Explain(ctx, in)
	if err == nil {
		err = validateOutput(out)
	}
	if err != nil {
		s.recordFallback(ctx, caseID, err)
		return fallback, nil
	}

	return model.CaseExplanation{
		CaseID:            caseID,
		Summary:           out.Summary,
		RecommendedAction: model.ReviewAction(out.RecommendedAction),
		KeyRisks:          coerceList(out.KeyRisks, fallback.KeyRisks),
		MissingEvidence:   coerceList(out.MissingEvidence, fallback.MissingEvidence),
		NextSteps:         coerceList(out.NextSteps, fallback.NextSteps),
		GeneratedBy:       s.gen.Name(),
		GeneratedAt:       now,
	}, nil
}

// EvidenceRecommendations returns the document types most likely to close the
// case's evidence gaps. Always deterministic.
func (s *Service) EvidenceRecommendations(ctx context.Context, caseID uuid.UUID) (model.EvidenceRecommendations, error) {
	in, err := s.loadInput(ctx, caseID)
	if err != nil {
		return model.EvidenceRecommendations{}, err
	}
	return buildEvidenceRecommendations(in.Case, in.Rules, in.Documents, in.RiskLevel, time.Now().UTC()), nil
}

// loadInput gathers the case context both operations share. Risk defaults to
// high for cases that have never been processed.
func (s *Service) loadInput(ctx context.Context, caseID uuid.UUID) (Input, error) {
	c, err := s.db.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Input{}, apperr.New(apperr.KindNotFound, "case not found")
		}
		return Input{}, apperr.Wrap(apperr.KindStorage, "load case", err)
	}
	rules, err := s.db.ListRuleResults(ctx, caseID)
	if err != nil {
		return Input{}, apperr.Wrap(apperr.KindStorage, "load rule results", err)
	}
	docs, err := s.db.ListDocuments(ctx, caseID)
	if err != nil {
		return Input{}, apperr.Wrap(apperr.KindStorage, "load documents", err)
	}
	audit, err := s.db.ListAudit(ctx, caseID)
	if err != nil {
		return Input{}, apperr.Wrap(apperr.KindStorage, "load audit trail", err)
	}

	risk := model.RiskHigh
	if c.RiskLevel != nil {
		risk = *c.RiskLevel
	}
	return Input{Case: c, Rules: rules, Documents: docs, Audit: audit, RiskLevel: risk}, nil
}

// recordFallback audits a degraded advisory call. Audit failures are logged,
// not propagated; the fallback memo is still served.
func (s *Service) recordFallback(ctx context.Context, caseID uuid.UUID, cause error) {
	s.logger.Warn("advisory generator failed, serving fallback", "case_id", caseID, "error", cause)
	event := model.AuditEvent{
		CaseID: caseID,
		Action: model.AuditAdvisoryFallback,
		Metadata: map[string]any{
			"operation": "case_explainer",
			"error":     cause.Error(),
		},
	}
	if err := s.db.AppendAudit(ctx, event); err != nil {
		s.logger.Error("append advisory_fallback audit", "case_id", caseID, "error", err)
	}
}

// validateOutput enforces the generator output schema: a non-empty summary
// and a recognized recommended action.
func validateOutput(out Output) error {
	if strings.TrimSpace(out.Summary) == "" {
		return apperr.New(apperr.KindAdvisoryUnavailable, "generator output missing summary")
	}
	if _, ok := model.ReviewAction(out.RecommendedAction).StatusFor(); !ok {
		return apperr.Newf(apperr.KindAdvisoryUnavailable, "generator output has unknown recommended_action %q", out.RecommendedAction)
	}
	return nil
}

// coerceList trims and caps a generator string list, substituting the
// fallback list when nothing usable remains.
func coerceList(values, fallback []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			cleaned = append(cleaned, v)
		}
	}
	if len(cleaned) == 0 {
		return fallback
	}
	if len(cleaned) > maxListItems {
		cleaned = cleaned[:maxListItems]
	}
	return cleaned
}
