package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit action keys. Stable machine identifiers, never renamed.
const (
	AuditCaseCreated         = "case_created"
	AuditCaseUpdated         = "case_updated"
	AuditDocumentUploaded    = "document_uploaded"
	AuditProcessingQueued    = "processing_queued"
	AuditProcessingStarted   = "processing_started"
	AuditProcessingCompleted = "processing_completed"
	AuditProcessingFailed    = "processing_failed"
	AuditProcessingRecovered = "processing_recovered"
	AuditProcessingCancelled = "processing_cancelled"
	AuditReviewApproved      = "review_approved"
	AuditReviewRejected      = "review_rejected"
	AuditMoreInfoRequested   = "more_info_requested"
	AuditAdvisoryFallback    = "advisory_fallback"
)

// AuditEvent is one append-only entry on a case's audit trail. Events are
// never mutated or deleted; ordering within a case is by append.
type AuditEvent struct {
	ID        uuid.UUID      `json:"id"`
	CaseID    uuid.UUID      `json:"case_id"`
	ActorID   *uuid.UUID     `json:"actor_id,omitempty"`
	Action    string         `json:"action"`
	Reason    *string        `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
}
