package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saksflyt/saksflyt/internal/model"
)

const documentColumns = `id, case_id, document_type, original_filename, content_type, size_bytes,
	 storage_key, status, extracted_text, extracted_fields, failure_reason, created_at, updated_at`

func scanDocument(row pgx.Row) (model.Document, error) {
	var d model.Document
	var fieldsJSON []byte
	err := row.Scan(
		&d.ID, &d.CaseID, &d.DocumentType, &d.OriginalFilename, &d.ContentType, &d.SizeBytes,
		&d.StorageKey, &d.Status, &d.ExtractedText, &fieldsJSON, &d.FailureReason,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return model.Document{}, err
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &d.ExtractedFields); err != nil {
			return model.Document{}, fmt.Errorf("storage: decode extracted fields: %w", err)
		}
	}
	return d, nil
}

// AddDocument attaches a document to a case and advances the case status where
// the upload implies it: a first upload moves draft to documents_uploaded, and
// an upload on a more_info_required case reopens it into the processing queue.
// Uploads are rejected while the case is queued, processing, or decided.
func (db *DB) AddDocument(ctx context.Context, d model.Document, audit model.AuditEvent) (model.Document, model.Case, error) {
	var (
		doc model.Document
		c   model.Case
	)
	err := WithRetry(ctx, lockRetries, lockRetryBaseDelay, func() error {
		var err error
		doc, c, err = db.addDocument(ctx, d, audit)
		return err
	})
	return doc, c, err
}

func (db *DB) addDocument(ctx context.Context, d model.Document, audit model.AuditEvent) (model.Document, model.Case, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Document{}, model.Case{}, fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	c, err := scanCase(tx.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = $1 FOR UPDATE`, d.CaseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, model.Case{}, ErrNotFound
		}
		return model.Document{}, model.Case{}, fmt.Errorf("storage: lock case: %w", err)
	}

	switch c.Status {
	case model.StatusDraft, model.StatusDocumentsUploaded, model.StatusReviewReady, model.StatusMoreInfoRequired:
	default:
		return model.Document{}, model.Case{}, fmt.Errorf("%w: upload during %s", ErrInvalidTransition, c.Status)
	}

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	d.Status = model.DocumentUploaded
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (id, case_id, document_type, original_filename, content_type, size_bytes,
		     storage_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.CaseID, d.DocumentType, d.OriginalFilename, d.ContentType, d.SizeBytes,
		d.StorageKey, d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return model.Document{}, model.Case{}, fmt.Errorf("storage: insert document: %w", err)
	}

	switch c.Status {
	case model.StatusDraft:
		c.Status = model.StatusDocumentsUploaded
	case model.StatusMoreInfoRequired:
		c.Status = model.StatusQueued
		c.QueuedAt = &now
	}
	c.UpdatedAt = now
	_, err = tx.Exec(ctx,
		`UPDATE cases SET status = $2, queued_at = $3, updated_at = $4 WHERE id = $1`,
		c.ID, c.Status, c.QueuedAt, c.UpdatedAt,
	)
	if err != nil {
		return model.Document{}, model.Case{}, fmt.Errorf("storage: advance case on upload: %w", err)
	}

	if err := insertAudit(ctx, tx, audit); err != nil {
		return model.Document{}, model.Case{}, err
	}
	if c.Status == model.StatusQueued {
		requeued := model.AuditEvent{
			CaseID:  c.ID,
			ActorID: audit.ActorID,
			Action:  model.AuditProcessingQueued,
			Metadata: map[string]any{
				"trigger":     "document_uploaded",
				"document_id": d.ID.String(),
			},
		}
		if err := insertAudit(ctx, tx, requeued); err != nil {
			return model.Document{}, model.Case{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Document{}, model.Case{}, fmt.Errorf("storage: commit add document: %w", err)
	}
	return d, c, nil
}

// GetDocument retrieves a document by ID.
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error) {
	d, err := scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, ErrNotFound
		}
		return model.Document{}, fmt.Errorf("storage: get document: %w", err)
	}
	return d, nil
}

// ListDocuments returns a case's documents in upload order.
func (db *DB) ListDocuments(ctx context.Context, caseID uuid.UUID) ([]model.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE case_id = $1 ORDER BY created_at, id`, caseID)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of documents attached to a case.
func (db *DB) CountDocuments(ctx context.Context, caseID uuid.UUID) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE case_id = $1`, caseID).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count documents: %w", err)
	}
	return n, nil
}

// MarkDocumentProcessing flags a document as being extracted.
func (db *DB) MarkDocumentProcessing(ctx context.Context, id uuid.UUID) error {
	return db.setDocumentStatus(ctx, id, model.DocumentProcessing, nil)
}

// MarkDocumentFailed records a per-document extraction failure.
func (db *DB) MarkDocumentFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return db.setDocumentStatus(ctx, id, model.DocumentFailed, &reason)
}

func (db *DB) setDocumentStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus, failureReason *string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
		id, status, failureReason)
	if err != nil {
		return fmt.Errorf("storage: set document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// StoreExtraction persists a document's extracted text and evidence bag and
// marks it processed.
func (db *DB) StoreExtraction(ctx context.Context, id uuid.UUID, text string, fields model.ExtractedFields) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("storage: encode extracted fields: %w", err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE documents SET
		     status = $2, extracted_text = $3, extracted_fields = $4::jsonb,
		     failure_reason = NULL, updated_at = now()
		 WHERE id = $1`,
		id, model.DocumentProcessed, text, fieldsJSON)
	if err != nil {
		return fmt.Errorf("storage: store extraction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetDocumentsForReprocess returns all of a case's documents to the uploaded
// state so a forced re-run extracts them from scratch.
func (db *DB) ResetDocumentsForReprocess(ctx context.Context, caseID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE documents SET
		     status = $2, extracted_text = NULL, extracted_fields = NULL,
		     failure_reason = NULL, updated_at = now()
		 WHERE case_id = $1`,
		caseID, model.DocumentUploaded)
	if err != nil {
		return fmt.Errorf("storage: reset documents: %w", err)
	}
	return nil
}
