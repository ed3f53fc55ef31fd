package api

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/naming"
)

// SignUploadRequest is the body of sign-upload and filename preview requests.
type SignUploadRequest struct {
	Type             string `json:"type" example:"1.2"`
	TypeSource       string `json:"type_source,omitempty" example:"selected"`
	ConfirmType      string `json:"confirm_type,omitempty"`
	TypeName         string `json:"type_name,omitempty" example:"Lease"`
	Date             string `json:"date,omitempty" example:"2024-03"`
	Scope            string `json:"scope,omitempty" example:"asset"`
	Asset            string `json:"asset,omitempty" example:"ABC1"`
	SPV              string `json:"spv,omitempty"`
	Fund             string `json:"fund,omitempty"`
	Tenant           string `json:"tenant,omitempty"`
	Suffix           string `json:"suffix,omitempty"`
	OriginalFilename string `json:"originalFilename" example:"lease.pdf" validate:"required"`
	Ext              string `json:"ext,omitempty"`
}

func (r SignUploadRequest) naming() naming.Request {
	return naming.Request{
		Type:             r.Type,
		TypeSource:       naming.TypeSource(r.TypeSource),
		ConfirmType:      r.ConfirmType,
		TypeName:         r.TypeName,
		Date:             r.Date,
		Scope:            r.Scope,
		Asset:            r.Asset,
		SPV:              r.SPV,
		Fund:             r.Fund,
		Tenant:           r.Tenant,
		Suffix:           r.Suffix,
		OriginalFilename: r.OriginalFilename,
		Ext:              r.Ext,
	}
}

// Validate checks the fields the engine cannot default.
func (r SignUploadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TypeSource, validation.In(string(naming.TypeSelected), string(naming.TypeFromFilename))),
	)
}

// SignDownloadRequest is the body of POST /api/sign-download.
type SignDownloadRequest struct {
	StoragePath string `json:"storage_path" example:"inbox/m(ttype=1.2).pdf" validate:"required"`
	ExpiresIn   int    `json:"expiresIn,omitempty" example:"3600"`
}

// Validate validates the request.
func (r SignDownloadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.StoragePath, validation.Required),
		validation.Field(&r.ExpiresIn, validation.Min(0)),
	)
}

// SignDownloadResponse carries the signed read URL.
type SignDownloadResponse struct {
	SignedURL string `json:"signedUrl" validate:"required"`
}

// SetPasswordRequest is the body of POST /api/admin/set-password. The user
// is addressed by id or, failing that, by email.
type SetPasswordRequest struct {
	UserID      string `json:"userId,omitempty"`
	Email       string `json:"email,omitempty"`
	NewPassword string `json:"newPassword" validate:"required"`
}

// Validate validates the request.
func (r SetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.UserID, validation.When(r.Email == "", validation.Required)),
		validation.Field(&r.NewPassword, validation.Required, validation.RuneLength(auth.MinPasswordLength, 0)),
	)
}

// SetPasswordResponse confirms a password change.
type SetPasswordResponse struct {
	OK   bool           `json:"ok"`
	User auth.AdminUser `json:"user"`
}

// DocumentListResponse wraps a page of search results.
type DocumentListResponse struct {
	Documents []models.Document `json:"documents" validate:"required"`
	Total     int               `json:"total" example:"42" validate:"required"`
	Page      int               `json:"page" example:"1"`
	PageSize  int               `json:"page_size" example:"50"`
}

func newDocumentList(p *index.Page) DocumentListResponse {
	docs := p.Documents
	if docs == nil {
		docs = []models.Document{}
	}
	return DocumentListResponse{Documents: docs, Total: p.Total, Page: p.Page, PageSize: p.PageSize}
}

// TypeListResponse wraps the type pick list.
type TypeListResponse struct {
	Types []models.TypeRule `json:"types" validate:"required"`
}

// IdentifierListResponse wraps the identifier pick list of one scope.
type IdentifierListResponse struct {
	Scope       string   `json:"scope" example:"asset"`
	Identifiers []string `json:"identifiers" validate:"required"`
}

// MeResponse describes the caller.
type MeResponse struct {
	auth.Identity
	Admin bool `json:"admin"`
}

// validationError turns ozzo field errors into the first failing field, in
// name order, as an *apperr.Error.
func validationError(err error) error {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return err
	}
	fields := make([]string, 0, len(errs))
	for f := range errs {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fe := errs[f]
		if fe == nil {
			continue
		}
		var ve validation.Error
		if errors.As(fe, &ve) && ve.Code() == validation.ErrRequired.Code() {
			return apperr.MissingField(f, f+" is required")
		}
		return apperr.InvalidFormat(f, f+": "+fe.Error())
	}
	return nil
}
