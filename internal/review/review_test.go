package review

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/saksflyt/saksflyt/internal/apperr"
	"github.com/saksflyt/saksflyt/internal/model"
)

func testSvc() *Service {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(nil, logger)
}

func TestSubmitDecisionRequiresReviewer(t *testing.T) {
	svc := testSvc()
	applicant := model.User{ID: uuid.New(), IsReviewer: false}

	_, err := svc.SubmitDecision(context.Background(), uuid.New(), applicant, model.ReviewDecisionRequest{
		Action: model.ActionApprove,
		Reason: "All evidence checks out.",
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestSubmitDecisionRejectsUnknownAction(t *testing.T) {
	svc := testSvc()
	reviewer := model.User{ID: uuid.New(), IsReviewer: true}

	_, err := svc.SubmitDecision(context.Background(), uuid.New(), reviewer, model.ReviewDecisionRequest{
		Action: "escalate",
		Reason: "This is a valid-length reason.",
	})
	assert.True(t, apperr.Is(err, apperr.KindInvalidInput))
}

func TestSubmitDecisionReasonBounds(t *testing.T) {
	svc := testSvc()
	reviewer := model.User{ID: uuid.New(), IsReviewer: true}

	for _, reason := range []string{
		"",
		"short",
		"   padded   ", // trims to 6 characters
		strings.Repeat("x", model.MaxReviewReasonLen+1),
	} {
		_, err := svc.SubmitDecision(context.Background(), uuid.New(), reviewer, model.ReviewDecisionRequest{
			Action: model.ActionReject,
			Reason: reason,
		})
		assert.True(t, apperr.Is(err, apperr.KindInvalidInput), "reason %q", reason)
	}
}

func TestAuditActionMapping(t *testing.T) {
	assert.Equal(t, model.AuditReviewApproved, auditActionFor(model.ActionApprove))
	assert.Equal(t, model.AuditReviewRejected, auditActionFor(model.ActionReject))
	assert.Equal(t, model.AuditMoreInfoRequested, auditActionFor(model.ActionRequestMoreInfo))
}
