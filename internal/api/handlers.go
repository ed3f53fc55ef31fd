package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/intake"
)

// Handler holds API route handlers.
type Handler struct {
	svc         *intake.Service
	adminEmails []string
	logger      *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *intake.Service, adminEmails []string, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, adminEmails: adminEmails, logger: logger}
}

func (h *Handler) decodeUpload(w http.ResponseWriter, r *http.Request) (SignUploadRequest, bool) {
	var req SignUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode", err)
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "validate", validationError(err))
		return req, false
	}
	return req, true
}

// SignUpload handles POST /api/sign-upload.
//
//	@Summary		Validate an upload, compose its name and sign a write-once URL
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignUploadRequest	true	"Upload metadata"
//	@Success		200		{object}	intake.UploadTarget
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sign-upload [post]
func (h *Handler) SignUpload(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUpload(w, r)
	if !ok {
		return
	}
	target, err := h.svc.SignUpload(r.Context(), auth.FromContext(r.Context()), req.naming())
	if err != nil {
		writeError(w, h.logger, "sign upload", err)
		return
	}
	writeJSON(w, http.StatusOK, target)
}

// PreviewFilename handles POST /api/filename/preview.
//
//	@Summary		Compose the storage name of an upload without signing
//	@Tags			uploads
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignUploadRequest	true	"Upload metadata"
//	@Success		200		{object}	naming.Plan
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/filename/preview [post]
func (h *Handler) PreviewFilename(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUpload(w, r)
	if !ok {
		return
	}
	plan, err := h.svc.Preview(r.Context(), auth.FromContext(r.Context()), req.naming())
	if err != nil {
		writeError(w, h.logger, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// SignDownload handles POST /api/sign-download.
//
//	@Summary		Sign a read URL for a stored document
//	@Tags			documents
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SignDownloadRequest	true	"Object path"
//	@Success		200		{object}	SignDownloadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sign-download [post]
func (h *Handler) SignDownload(w http.ResponseWriter, r *http.Request) {
	var req SignDownloadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "validate", validationError(err))
		return
	}
	su, err := h.svc.SignDownload(r.Context(), req.StoragePath, req.ExpiresIn)
	if err != nil {
		writeError(w, h.logger, "sign download", err)
		return
	}
	writeJSON(w, http.StatusOK, SignDownloadResponse{SignedURL: su.URL})
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		Search indexed documents
//	@Tags			documents
//	@Produce		json
//	@Param			type		query		string	false	"Type code or code family"
//	@Param			date		query		string	false	"YYYY, YYYY-MM or YYYY-MM-DD"
//	@Param			asset		query		string	false	"Asset code"
//	@Param			spv			query		string	false	"SPV"
//	@Param			fund		query		string	false	"Fund"
//	@Param			tenant		query		string	false	"Tenant number"
//	@Param			page		query		int		false	"1-based page"
//	@Param			page_size	query		int		false	"Page size"
//	@Success		200			{object}	DocumentListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), "page")
	if err != nil {
		writeError(w, h.logger, "list documents", err)
		return
	}
	size, err := queryInt(q.Get("page_size"), "page_size")
	if err != nil {
		writeError(w, h.logger, "list documents", err)
		return
	}
	p, err := h.svc.SearchDocuments(r.Context(), intake.SearchQuery{
		Type:     q.Get("type"),
		Date:     q.Get("date"),
		Asset:    q.Get("asset"),
		SPV:      q.Get("spv"),
		Fund:     q.Get("fund"),
		Tenant:   q.Get("tenant"),
		Page:     page,
		PageSize: size,
	})
	if err != nil {
		writeError(w, h.logger, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, newDocumentList(p))
}

func queryInt(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, apperr.InvalidFormat(field, field+" must be a non-negative integer")
	}
	return n, nil
}

// ListTypes handles GET /api/types.
//
//	@Summary		List registered document types
//	@Tags			options
//	@Produce		json
//	@Success		200	{object}	TypeListResponse
//	@Security		BearerAuth
//	@Router			/types [get]
func (h *Handler) ListTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.svc.TypeOptions(r.Context())
	if err != nil {
		writeError(w, h.logger, "list types", err)
		return
	}
	writeJSON(w, http.StatusOK, TypeListResponse{Types: types})
}

// ListIdentifiers handles GET /api/identifiers/{scope}.
//
//	@Summary		List registered identifiers of a scope
//	@Tags			options
//	@Produce		json
//	@Param			scope	path		string	true	"asset, spv or fund"
//	@Success		200		{object}	IdentifierListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/identifiers/{scope} [get]
func (h *Handler) ListIdentifiers(w http.ResponseWriter, r *http.Request) {
	scope := strings.ToLower(chi.URLParam(r, "scope"))
	ids, err := h.svc.IdentifierOptions(r.Context(), scope)
	if err != nil {
		writeError(w, h.logger, "list identifiers", err)
		return
	}
	writeJSON(w, http.StatusOK, IdentifierListResponse{Scope: scope, Identifiers: ids})
}

// ListTenants handles GET /api/tenants.
//
//	@Summary		List tenants, optionally of one asset
//	@Tags			options
//	@Produce		json
//	@Param			asset	query		string	false	"Asset code"
//	@Success		200		{array}		intake.OptionItem
//	@Security		BearerAuth
//	@Router			/tenants [get]
func (h *Handler) ListTenants(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.TenantOptions(r.Context(), r.URL.Query().Get("asset"))
	if err != nil {
		writeError(w, h.logger, "list tenants", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": items})
}

// SetPassword handles POST /api/admin/set-password.
//
//	@Summary		Set the password of another user
//	@Tags			admin
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SetPasswordRequest	true	"Target user and password"
//	@Success		200		{object}	SetPasswordResponse
//	@Failure		400		{object}	errResponse
//	@Failure		403		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/admin/set-password [post]
func (h *Handler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "decode", err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, h.logger, "validate", validationError(err))
		return
	}
	if err := h.svc.SetPassword(r.Context(), req.UserID, req.Email, req.NewPassword); err != nil {
		writeError(w, h.logger, "set password", err)
		return
	}
	caller := auth.FromContext(r.Context())
	h.logger.Info("password set",
		slog.String("by", caller.Email),
		slog.String("user_id", req.UserID),
		slog.String("email", req.Email))
	writeJSON(w, http.StatusOK, SetPasswordResponse{
		OK:   true,
		User: auth.AdminUser{ID: req.UserID, Email: req.Email},
	})
}

// Me handles GET /api/me.
//
//	@Summary		Describe the caller
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	MeResponse
//	@Security		BearerAuth
//	@Router			/me [get]
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{Identity: id, Admin: auth.IsAdmin(h.adminEmails, id.Email)})
}
