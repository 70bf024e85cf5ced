package model

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "uploaded"
	DocumentProcessing DocumentStatus = "processing"
	DocumentProcessed  DocumentStatus = "processed"
	DocumentFailed     DocumentStatus = "failed"
)

// AllowedContentTypes are the upload content types accepted by the API.
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
}

// MaxDocumentTypeLen bounds the free-form document type label.
const MaxDocumentTypeLen = 128

// Extraction methods reported in ExtractedFields.Method.
const (
	MethodDigitalText = "digital_text"
	MethodImageOCR    = "image_ocr"
	MethodNone        = "none"
)

// Extraction warning codes.
const (
	WarnOCRUnavailable = "ocr_unavailable"
	WarnEmptyText      = "empty_text"
)

// Identifiers holds document-number style identifiers found in text.
type Identifiers struct {
	Passport []string `json:"passport"`
}

// Keywords holds curated-dictionary keyword hits.
type Keywords struct {
	Citizenship []string `json:"citizenship"`
}

// Signals holds weaker textual indicators used by the rule engine.
type Signals struct {
	Language  []string `json:"language"`
	Residency []string `json:"residency"`
}

// Entities is the structured entity set extracted from one document's text.
// Each slice holds distinct values; ordering carries no meaning.
type Entities struct {
	Dates         []string    `json:"dates"`
	Identifiers   Identifiers `json:"identifiers"`
	Nationalities []string    `json:"nationalities"`
	Persons       []string    `json:"persons"`
	Locations     []string    `json:"locations"`
	Keywords      Keywords    `json:"keywords"`
	Signals       Signals     `json:"signals"`
}

// Total returns the number of distinct entities across all categories.
func (e Entities) Total() int {
	return len(e.Dates) + len(e.Identifiers.Passport) + len(e.Nationalities) +
		len(e.Persons) + len(e.Locations) + len(e.Keywords.Citizenship) +
		len(e.Signals.Language) + len(e.Signals.Residency)
}

// ExtractedFields is the typed evidence bag persisted per document as JSON.
// Extra is an open extension map for forward compatibility; known keys are
// never moved into it.
type ExtractedFields struct {
	Method         string         `json:"method"`
	OCRConfidence  float64        `json:"ocr_confidence"`
	PageCount      int            `json:"page_count"`
	CharCount      int            `json:"char_count"`
	Warnings       []string       `json:"warnings,omitempty"`
	Entities       Entities       `json:"entities"`
	EntityRichness float64        `json:"entity_richness"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Document is a supporting file attached to a case.
type Document struct {
	ID               uuid.UUID       `json:"id"`
	CaseID           uuid.UUID       `json:"case_id"`
	DocumentType     string          `json:"document_type"`
	OriginalFilename string          `json:"original_filename"`
	ContentType      string          `json:"content_type"`
	SizeBytes        int64           `json:"size_bytes"`
	StorageKey       string          `json:"-"`
	Status           DocumentStatus  `json:"status"`
	ExtractedText    *string         `json:"extracted_text,omitempty"`
	ExtractedFields  ExtractedFields `json:"extracted_fields"`
	FailureReason    *string         `json:"failure_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
