package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data   any          `json:"data"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
	Meta   ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	// IncidentID is set on 500 responses so operators can correlate logs.
	IncidentID string `json:"incident_id,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeAlreadyProcessing = "ALREADY_PROCESSING"
	ErrCodeNoDocuments       = "NO_DOCUMENTS"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeRateLimited       = "RATE_LIMITED"
)

// LoginRequest is the body of POST /api/v1/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SignupRequest is the body of POST /api/v1/users/signup.
type SignupRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	FullName *string `json:"full_name,omitempty"`
}

// ProcessRequest is the body of POST /api/v1/applications/{id}/process.
type ProcessRequest struct {
	ForceReprocess bool `json:"force_reprocess"`
}

// ReviewDecisionRequest is the body of POST /api/v1/applications/{id}/review-decision.
type ReviewDecisionRequest struct {
	Action ReviewAction `json:"action"`
	Reason string       `json:"reason"`
}

// ReviewQueueItem is one entry in the priority-ordered manual review queue.
type ReviewQueueItem struct {
	ID                    uuid.UUID  `json:"id"`
	ApplicantFullName     string     `json:"applicant_full_name"`
	ApplicantNationality  string     `json:"applicant_nationality"`
	Status                CaseStatus `json:"status"`
	ConfidenceScore       float64    `json:"confidence_score"`
	RiskLevel             *RiskLevel `json:"risk_level,omitempty"`
	RecommendationSummary *string    `json:"recommendation_summary,omitempty"`
	PriorityScore         int        `json:"priority_score"`
	SLADueAt              *time.Time `json:"sla_due_at,omitempty"`
	IsOverdue             bool       `json:"is_overdue"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// QueueMetrics are aggregate statistics over the pending-manual set.
type QueueMetrics struct {
	PendingManualCount          int     `json:"pending_manual_count"`
	OverdueCount                int     `json:"overdue_count"`
	HighPriorityCount           int     `json:"high_priority_count"`
	AvgWaitingDays              float64 `json:"avg_waiting_days"`
	DailyManualCapacity         int     `json:"daily_manual_capacity"`
	EstimatedDaysToClearBacklog int     `json:"estimated_days_to_clear_backlog"`
}

// CaseExplanation is the advisory memo for a case. Advisory output never
// feeds back into case state.
type CaseExplanation struct {
	CaseID            uuid.UUID    `json:"case_id"`
	Summary           string       `json:"summary"`
	RecommendedAction ReviewAction `json:"recommended_action"`
	KeyRisks          []string     `json:"key_risks"`
	MissingEvidence   []string     `json:"missing_evidence"`
	NextSteps         []string     `json:"next_steps"`
	GeneratedBy       string       `json:"generated_by"`
	GeneratedAt       time.Time    `json:"generated_at"`
}

// EvidenceRecommendations lists the document types most likely to close the
// case's evidence gaps.
type EvidenceRecommendations struct {
	CaseID                   uuid.UUID         `json:"case_id"`
	RecommendedDocumentTypes []string          `json:"recommended_document_types"`
	RationaleByDocumentType  map[string]string `json:"rationale_by_document_type"`
	RecommendedNextActions   []string          `json:"recommended_next_actions"`
	GeneratedBy              string            `json:"generated_by"`
	GeneratedAt              time.Time         `json:"generated_at"`
}

// AuditTrail is the chronological audit event list for a case.
type AuditTrail struct {
	CaseID uuid.UUID    `json:"case_id"`
	Events []AuditEvent `json:"events"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}
