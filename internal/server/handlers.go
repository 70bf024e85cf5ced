package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/saksflyt/saksflyt/internal/advisory"
	"github.com/saksflyt/saksflyt/internal/auth"
	"github.com/saksflyt/saksflyt/internal/model"
	"github.com/saksflyt/saksflyt/internal/pipeline"
	"github.com/saksflyt/saksflyt/internal/queue"
	"github.com/saksflyt/saksflyt/internal/review"
	"github.com/saksflyt/saksflyt/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db           *storage.DB
	files        *storage.FileStore
	jwtMgr       *auth.JWTManager
	orchestrator *pipeline.Orchestrator
	reviewSvc    *review.Service
	queueSvc     *queue.Service
	advisorySvc  *advisory.Service
	logger       *slog.Logger
	startedAt    time.Time
	version      string

	maxRequestBodyBytes int64
	maxUploadBytes      int64
	allowedContentTypes map[string]bool
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB           *storage.DB
	Files        *storage.FileStore
	JWTMgr       *auth.JWTManager
	Orchestrator *pipeline.Orchestrator
	ReviewSvc    *review.Service
	QueueSvc     *queue.Service
	AdvisorySvc  *advisory.Service
	Logger       *slog.Logger
	Version      string

	MaxRequestBodyBytes int64
	MaxUploadBytes      int64
	AllowedContentTypes map[string]bool
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	allowed := d.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = model.AllowedContentTypes
	}
	return &Handlers{
		db:                  d.DB,
		files:               d.Files,
		jwtMgr:              d.JWTMgr,
		orchestrator:        d.Orchestrator,
		reviewSvc:           d.ReviewSvc,
		queueSvc:            d.QueueSvc,
		advisorySvc:         d.AdvisorySvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		maxUploadBytes:      d.MaxUploadBytes,
		allowedContentTypes: allowed,
	}
}

// HandleLogin handles POST /api/v1/login.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	user, err := h.db.GetUserByEmail(r.Context(), model.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Burn the same time as a real verification so unknown
			// emails are not distinguishable by latency.
			auth.DummyVerify()
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
			return
		}
		writeAppError(h.logger, w, r, err)
		return
	}

	ok, err := auth.VerifyPassword(req.Password, user.HashedPassword)
	if err != nil || !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "account is inactive")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}

// HandleSignup handles POST /api/v1/users/signup. New accounts are owners;
// reviewer accounts are provisioned operationally.
func (h *Handlers) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	email := model.NormalizeEmail(req.Email)
	if err := model.ValidateEmail(email); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidatePassword(req.Password); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	user, err := h.db.CreateUser(r.Context(), model.User{
		Email:          email,
		HashedPassword: hashed,
		FullName:       req.FullName,
		IsActive:       true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "email already registered")
			return
		}
		writeAppError(h.logger, w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, user)
}

// HandleMe handles GET /api/v1/users/me.
func (h *Handlers) HandleMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	user, err := h.db.GetUser(r.Context(), claims.UserID())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "account no longer exists")
			return
		}
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

// HandleUpdateMe handles PATCH /api/v1/users/me.
func (h *Handlers) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	var patch model.UserPatch
	if err := decodeJSON(w, r, &patch, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if patch.Email != nil {
		normalized := model.NormalizeEmail(*patch.Email)
		patch.Email = &normalized
	}
	if err := patch.Validate(); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}

	user, err := h.db.UpdateUser(r.Context(), claims.UserID(), patch)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, "email already registered")
			return
		}
		writeAppError(h.logger, w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, user)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pg := "ok"
	status := "ok"
	if err := h.db.Ping(r.Context()); err != nil {
		pg = "unreachable"
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pg,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}
