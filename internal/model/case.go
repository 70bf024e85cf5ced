// Package model defines the domain entities and API types for saksflyt.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CaseStatus is the lifecycle state of a citizenship application case.
type CaseStatus string

const (
	StatusDraft             CaseStatus = "draft"
	StatusDocumentsUploaded CaseStatus = "documents_uploaded"
	StatusQueued            CaseStatus = "queued"
	StatusProcessing        CaseStatus = "processing"
	StatusReviewReady       CaseStatus = "review_ready"
	StatusApproved          CaseStatus = "approved"
	StatusRejected          CaseStatus = "rejected"
	StatusMoreInfoRequired  CaseStatus = "more_info_required"
)

// Terminal reports whether the status admits no further transitions.
func (s CaseStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PendingManual reports whether the case is awaiting a human reviewer.
func (s CaseStatus) PendingManual() bool {
	return s == StatusReviewReady || s == StatusMoreInfoRequired
}

// statusGraph is the set of permitted forward edges. The only backwards edge
// is more_info_required → queued (reopen on new upload or explicit requeue).
var statusGraph = map[CaseStatus][]CaseStatus{
	StatusDraft:             {StatusDocumentsUploaded},
	StatusDocumentsUploaded: {StatusQueued},
	StatusQueued:            {StatusProcessing},
	StatusProcessing:        {StatusReviewReady, StatusDocumentsUploaded},
	StatusReviewReady:       {StatusApproved, StatusRejected, StatusMoreInfoRequired, StatusQueued},
	StatusMoreInfoRequired:  {StatusQueued, StatusApproved, StatusRejected, StatusMoreInfoRequired},
}

// ValidTransition reports whether from → to is an edge of the status graph.
func ValidTransition(from, to CaseStatus) bool {
	for _, next := range statusGraph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RiskLevel buckets a confidence score for SLA and queue ordering purposes.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelFor buckets a confidence score: ≥0.75 low, ≥0.50 medium, else high.
func RiskLevelFor(confidence float64) RiskLevel {
	switch {
	case confidence >= 0.75:
		return RiskLow
	case confidence >= 0.50:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ReviewAction is a reviewer decision on a case awaiting manual review.
type ReviewAction string

const (
	ActionApprove         ReviewAction = "approve"
	ActionReject          ReviewAction = "reject"
	ActionRequestMoreInfo ReviewAction = "request_more_info"
)

// StatusFor maps a review action to the resulting case status.
func (a ReviewAction) StatusFor() (CaseStatus, bool) {
	switch a {
	case ActionApprove:
		return StatusApproved, true
	case ActionReject:
		return StatusRejected, true
	case ActionRequestMoreInfo:
		return StatusMoreInfoRequired, true
	default:
		return "", false
	}
}

// Field length limits for case fields. These mirror the columns they map to;
// oversized input is rejected before it reaches the database.
const (
	MaxApplicantNameLen        = 255
	MaxApplicantNationalityLen = 128
	MaxNotesLen                = 2000
	MinReviewReasonLen         = 8
	MaxReviewReasonLen         = 1000
)

// Case is a single citizenship application moving through the review pipeline.
type Case struct {
	ID                   uuid.UUID `json:"id"`
	OwnerID              uuid.UUID `json:"owner_id"`
	ApplicantFullName    string    `json:"applicant_full_name"`
	ApplicantNationality string    `json:"applicant_nationality"`
	ApplicantBirthDate   *time.Time `json:"applicant_birth_date,omitempty"`
	Notes                *string    `json:"notes,omitempty"`

	Status CaseStatus `json:"status"`

	// Derived fields, written only by the processing pipeline and the
	// decision controller. Never patchable through UpdateCase.
	ConfidenceScore       float64    `json:"confidence_score"`
	RiskLevel             *RiskLevel `json:"risk_level,omitempty"`
	RecommendationSummary *string    `json:"recommendation_summary,omitempty"`
	PriorityScore         int        `json:"priority_score"`
	SLADueAt              *time.Time `json:"sla_due_at,omitempty"`
	QueuedAt              *time.Time `json:"queued_at,omitempty"`

	FinalDecision       *CaseStatus `json:"final_decision,omitempty"`
	FinalDecisionReason *string     `json:"final_decision_reason,omitempty"`
	FinalDecisionBy     *uuid.UUID  `json:"final_decision_by,omitempty"`
	FinalDecisionAt     *time.Time  `json:"final_decision_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CaseCreate is the input for creating a case.
type CaseCreate struct {
	ApplicantFullName    string     `json:"applicant_full_name"`
	ApplicantNationality string     `json:"applicant_nationality"`
	ApplicantBirthDate   *time.Time `json:"applicant_birth_date,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
}

// Validate checks field presence and length limits.
func (c CaseCreate) Validate() error {
	name := strings.TrimSpace(c.ApplicantFullName)
	if name == "" || len(name) > MaxApplicantNameLen {
		return fmt.Errorf("applicant_full_name must be 1-%d characters", MaxApplicantNameLen)
	}
	nat := strings.TrimSpace(c.ApplicantNationality)
	if nat == "" || len(nat) > MaxApplicantNationalityLen {
		return fmt.Errorf("applicant_nationality must be 1-%d characters", MaxApplicantNationalityLen)
	}
	if c.Notes != nil && len(*c.Notes) > MaxNotesLen {
		return fmt.Errorf("notes exceeds maximum length of %d characters", MaxNotesLen)
	}
	return nil
}

// CasePatch is a partial update to the applicant-owned fields of a case.
// Derived fields (status, scores, SLA, final decision) are not patchable.
type CasePatch struct {
	ApplicantFullName    *string    `json:"applicant_full_name,omitempty"`
	ApplicantNationality *string    `json:"applicant_nationality,omitempty"`
	ApplicantBirthDate   *time.Time `json:"applicant_birth_date,omitempty"`
	Notes                *string    `json:"notes,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p CasePatch) Empty() bool {
	return p.ApplicantFullName == nil && p.ApplicantNationality == nil &&
		p.ApplicantBirthDate == nil && p.Notes == nil
}

// Validate checks length limits on the present fields.
func (p CasePatch) Validate() error {
	if p.ApplicantFullName != nil {
		name := strings.TrimSpace(*p.ApplicantFullName)
		if name == "" || len(name) > MaxApplicantNameLen {
			return fmt.Errorf("applicant_full_name must be 1-%d characters", MaxApplicantNameLen)
		}
	}
	if p.ApplicantNationality != nil {
		nat := strings.TrimSpace(*p.ApplicantNationality)
		if nat == "" || len(nat) > MaxApplicantNationalityLen {
			return fmt.Errorf("applicant_nationality must be 1-%d characters", MaxApplicantNationalityLen)
		}
	}
	if p.Notes != nil && len(*p.Notes) > MaxNotesLen {
		return fmt.Errorf("notes exceeds maximum length of %d characters", MaxNotesLen)
	}
	return nil
}
