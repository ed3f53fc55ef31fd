package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/intake"
)

// RouterConfig carries the collaborators of the API router besides the
// service.
type RouterConfig struct {
	// Verifier authenticates requests; nil disables authentication.
	Verifier auth.Verifier
	// AdminEmails may call the admin routes.
	AdminEmails []string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	Logger *slog.Logger
}

// NewRouter creates a chi router with all API routes mounted. It is meant to
// be mounted under /api.
func NewRouter(svc *intake.Service, rc RouterConfig) chi.Router {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := NewHandler(svc, rc.AdminEmails, logger)

	r := chi.NewRouter()
	r.Use(auth.Middleware(rc.Verifier))

	// Uploads.
	r.Post("/sign-upload", h.SignUpload)
	r.Post("/filename/preview", h.PreviewFilename)

	// Documents.
	r.Post("/sign-download", h.SignDownload)
	r.Get("/documents", h.ListDocuments)

	// Option lists.
	r.Get("/types", h.ListTypes)
	r.Get("/identifiers/{scope}", h.ListIdentifiers)
	r.Get("/tenants", h.ListTenants)

	r.Get("/me", h.Me)

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin(rc.AdminEmails))
		r.Post("/admin/set-password", h.SetPassword)
	})

	// SSE endpoint (protected by same auth middleware).
	if rc.Events != nil {
		r.Get("/events", rc.Events.ServeHTTP)
	}

	return r
}
