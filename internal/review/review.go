// Package review applies reviewer decisions to cases awaiting manual review.
package review

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

// Service validates and applies review decisions.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New builds a review Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// auditActionFor maps a review action to its audit key.
func auditActionFor(a model.ReviewAction) string {
	switch a {
	case model.ActionApprove:
		return model.AuditReviewApproved
	case model.ActionReject:
		return model.AuditReviewRejected
	default:
		return model.AuditMoreInfoRequested
	}
}

// SubmitDecision applies a reviewer's decision to a case. The actor must be a
// reviewer, the case must be awaiting manual review, and the reason must be
// 8-1000 characters after trimming. Terminal decisions set final_decision and
// clear the SLA deadline; request_more_info clears the deadline only.
func (s *Service) SubmitDecision(ctx context.Context, caseID uuid.UUID, actor model.User, req model.ReviewDecisionRequest) (model.Case, error) {
	if !actor.IsReviewer {
		return model.Case{}, apperr.New(apperr.KindForbidden, "review decisions require the reviewer role")
	}

	target, ok := req.Action.StatusFor()
	if !ok {
		return model.Case{}, apperr.Newf(apperr.KindInvalidInput, "unknown review action %q", req.Action)
	}

	reason := strings.TrimSpace(req.Reason)
	if len(reason) < model.MinReviewReasonLen || len(reason) > model.MaxReviewReasonLen {
		return model.Case{}, apperr.Newf(apperr.KindInvalidInput,
			"reason must be %d-%d characters after trimming", model.MinReviewReasonLen, model.MaxReviewReasonLen)
	}

	current, err := s.db.GetCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Case{}, apperr.New(apperr.KindNotFound, "case not found")
		}
		return model.Case{}, apperr.Wrap(apperr.KindStorage, "load case", err)
	}
	if !current.Status.PendingManual() {
		return model.Case{}, apperr.Newf(apperr.KindInvalidTransition,
			"case is %s, not awaiting manual review", current.Status)
	}

	now := time.Now().UTC()
	audit := model.AuditEvent{
		CaseID:  caseID,
		ActorID: &actor.ID,
		Action:  auditActionFor(req.Action),
		Reason:  &reason,
		Metadata: map[string]any{
			"action":          string(req.Action),
			"previous_status": string(current.Status),
		},
	}

	updated, err := s.db.TransitionCase(ctx, caseID, target, func(c *model.Case) {
		c.SLADueAt = nil
		if target.Terminal() {
			decision := target
			c.FinalDecision = &decision
			c.FinalDecisionBy = &actor.ID
			c.FinalDecisionAt = &now
			c.FinalDecisionReason = &reason
		}
	}, &audit)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return model.Case{}, apperr.New(apperr.KindNotFound, "case not found")
		case errors.Is(err, storage.ErrInvalidTransition):
			return model.Case{}, apperr.Wrap(apperr.KindInvalidTransition, "apply decision", err)
		default:
			return model.Case{}, apperr.Wrap(apperr.KindStorage, "apply decision", err)
		}
	}

	s.logger.Info("review decision applied",
		"case_id", caseID,
		"action", req.Action,
		"reviewer_id", actor.ID,
		"status", updated.Status,
	)
	return updated, nil
}
