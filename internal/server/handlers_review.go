package server

import (
	"net/http"

	"github.com/saksflyt/saksflyt/internal/model"
)

// HandleDecisionBreakdown handles GET /api/v1/applications/{id}/decision-breakdown.
func (h *Handlers) HandleDecisionBreakdown(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	rules, err := h.db.ListRuleResults(r.Context(), c.ID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	risk := model.RiskHigh
	if c.RiskLevel != nil {
		risk = *c.RiskLevel
	}
	var recommendation string
	if c.RecommendationSummary != nil {
		recommendation = *c.RecommendationSummary
	}

	writeJSON(w, r, http.StatusOK, model.DecisionBreakdown{
		CaseID:          c.ID,
		ConfidenceScore: c.ConfidenceScore,
		RiskLevel:       risk,
		Recommendation:  recommendation,
		Rules:           rules,
	})
}

// HandleAuditTrail handles GET /api/v1/applications/{id}/audit-trail.
func (h *Handlers) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	events, err := h.db.ListAudit(r.Context(), c.ID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuditTrail{CaseID: c.ID, Events: events})
}

// HandleReviewDecision handles POST /api/v1/applications/{id}/review-decision.
func (h *Handlers) HandleReviewDecision(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	var req model.ReviewDecisionRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	claims := ClaimsFromContext(r.Context())
	actor := model.User{ID: claims.UserID(), Email: claims.Email, IsReviewer: claims.IsReviewer}

	updated, err := h.reviewSvc.SubmitDecision(r.Context(), c.ID, actor, req)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// HandleCaseExplainer handles GET /api/v1/applications/{id}/case-explainer.
func (h *Handlers) HandleCaseExplainer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	explanation, err := h.advisorySvc.Explain(r.Context(), c.ID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, explanation)
}

// HandleEvidenceRecommendations handles
// GET /api/v1/applications/{id}/evidence-recommendations.
func (h *Handlers) HandleEvidenceRecommendations(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	recs, err := h.advisorySvc.EvidenceRecommendations(r.Context(), c.ID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleReviewQueue handles GET /api/v1/applications/queue/review.
func (h *Handlers) HandleReviewQueue(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	items, total, err := h.queueSvc.ListReviewQueue(r.Context(), limit, offset)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeList(w, r, items, total, limit, offset)
}

// HandleQueueMetrics handles GET /api/v1/applications/queue/metrics.
func (h *Handlers) HandleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.queueSvc.Metrics(r.Context())
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, metrics)
}
