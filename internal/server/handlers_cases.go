package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// casePath parses the {id} path value.
func casePath(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	return id, err == nil
}

// loadCaseForCaller fetches a case and enforces owner-or-reviewer access.
// Non-owners without the reviewer role get a 404, not a 403, so case ids
// cannot be probed for existence.
func (h *Handlers) loadCaseForCaller(w http.ResponseWriter, r *http.Request) (model.Case, bool) {
	id, ok := casePath(r)
	if !ok {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
		return model.Case{}, false
	}

	c, err := h.db.GetCase(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
			return model.Case{}, false
		}
		writeAppError(h.logger, w, r, err)
		return model.Case{}, false
	}

	claims := ClaimsFromContext(r.Context())
	if c.OwnerID != claims.UserID() && !claims.IsReviewer {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "case not found")
		return model.Case{}, false
	}
	return c, true
}

// HandleCreateCase handles POST /api/v1/applications.
func (h *Handlers) HandleCreateCase(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var in model.CaseCreate
	if err := decodeJSON(w, r, &in, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := in.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	ownerID := claims.UserID()
	c, err := h.db.CreateCase(r.Context(), ownerID, in)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	if err := h.db.AppendAudit(r.Context(), model.AuditEvent{
		CaseID:  c.ID,
		ActorID: &ownerID,
		Action:  model.AuditCaseCreated,
		Metadata: map[string]any{
			"applicant_full_name": c.ApplicantFullName,
		},
	}); err != nil {
		h.logger.Error("append case_created audit", "case_id", c.ID, "error", err)
	}

	writeJSON(w, r, http.StatusCreated, c)
}

// HandleListCases handles GET /api/v1/applications. Owners see their own
// cases; reviewers see every case, optionally filtered by status.
func (h *Handlers) HandleListCases(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	filter := storage.CaseFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if !claims.IsReviewer {
		ownerID := claims.UserID()
		filter.OwnerID = &ownerID
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := model.CaseStatus(s)
		filter.Status = &status
	}

	cases, total, err := h.db.ListCases(r.Context(), filter)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeList(w, r, cases, total, filter.Limit, filter.Offset)
}

// HandleGetCase handles GET /api/v1/applications/{id}.
func (h *Handlers) HandleGetCase(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// HandleUpdateCase handles PATCH /api/v1/applications/{id}. Only the owner
// may edit applicant fields, and not after a final decision.
func (h *Handlers) HandleUpdateCase(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	claims := ClaimsFromContext(r.Context())
	actorID := claims.UserID()
	if c.OwnerID != actorID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "only the case owner may edit it")
		return
	}
	if c.Status.Terminal() {
		writeError(w, r, http.StatusConflict, model.ErrCodeInvalidTransition, "case has a final decision and cannot be edited")
		return
	}

	var patch model.CasePatch
	if err := decodeJSON(w, r, &patch, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if patch.Empty() {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "patch contains no fields")
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	updated, err := h.db.UpdateCase(r.Context(), c.ID, patch)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	if err := h.db.AppendAudit(r.Context(), model.AuditEvent{
		CaseID:   c.ID,
		ActorID:  &actorID,
		Action:   model.AuditCaseUpdated,
		Metadata: map[string]any{"fields": patchedFields(patch)},
	}); err != nil {
		h.logger.Error("append case_updated audit", "case_id", c.ID, "error", err)
	}

	writeJSON(w, r, http.StatusOK, updated)
}

// HandleUploadDocument handles POST /api/v1/applications/{id}/documents.
// Multipart form: document_type plus file.
func (h *Handlers) HandleUploadDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	claims := ClaimsFromContext(r.Context())
	actorID := claims.UserID()
	if c.OwnerID != actorID {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "only the case owner may upload documents")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20) // slack for multipart framing
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput, "upload exceeds size limit")
		return
	}

	docType := strings.ToLower(strings.TrimSpace(r.FormValue("document_type")))
	if docType == "" || len(docType) > model.MaxDocumentTypeLen {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput,
			"document_type is required and must be at most 128 characters")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "file part is required")
		return
	}
	defer func() { _ = file.Close() }()

	contentType := header.Header.Get("Content-Type")
	if !h.allowedContentTypes[contentType] {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput,
			"unsupported content type "+contentType)
		return
	}

	key, size, err := h.files.Save(c.ID, header.Filename, file)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	doc := model.Document{
		CaseID:           c.ID,
		DocumentType:     docType,
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		SizeBytes:        size,
		StorageKey:       key,
	}
	audit := model.AuditEvent{
		CaseID:  c.ID,
		ActorID: &actorID,
		Action:  model.AuditDocumentUploaded,
		Metadata: map[string]any{
			"document_type": docType,
			"content_type":  contentType,
			"size_bytes":    size,
		},
	}

	saved, _, err := h.db.AddDocument(r.Context(), doc, audit)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidTransition) {
			writeError(w, r, http.StatusConflict, model.ErrCodeInvalidTransition,
				"documents cannot be added while the case is queued, processing, or decided")
			return
		}
		writeAppError(h.logger, w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, saved)
}

// HandleListDocuments handles GET /api/v1/applications/{id}/documents.
func (h *Handlers) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}
	docs, err := h.db.ListDocuments(r.Context(), c.ID)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeList(w, r, docs, len(docs), len(docs), 0)
}

// HandleProcess handles POST /api/v1/applications/{id}/process. An empty body
// means a plain enqueue without reprocessing.
func (h *Handlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	c, ok := h.loadCaseForCaller(w, r)
	if !ok {
		return
	}

	var req model.ProcessRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}

	claims := ClaimsFromContext(r.Context())
	updated, err := h.orchestrator.Enqueue(r.Context(), c.ID, claims.UserID(), req.ForceReprocess)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// patchedFields lists which fields a case patch touches, for the audit trail.
func patchedFields(p model.CasePatch) []string {
	fields := make([]string, 0, 4)
	if p.ApplicantFullName != nil {
		fields = append(fields, "applicant_full_name")
	}
	if p.ApplicantNationality != nil {
		fields = append(fields, "applicant_nationality")
	}
	if p.ApplicantBirthDate != nil {
		fields = append(fields, "applicant_birth_date")
	}
	if p.Notes != nil {
		fields = append(fields, "notes")
	}
	return fields
}
