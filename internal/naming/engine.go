// Package naming validates upload requests against per-type rules and
// composes the canonical storage key of a document.
//
// A request moves through Received → Validated → Composed → Routed. Every
// check runs before the object store is contacted, so a failed request never
// leaves anything behind.
package naming

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/metaname"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/sanitize"
	"github.com/starford/docintake/internal/storage"
)

// MaxNameLength is the longest composed name, in bytes. Names are single
// path elements in the fs store, and most filesystems stop at 255.
const MaxNameLength = 255

// RuleSource looks up type rules and registered identifiers.
type RuleSource interface {
	// TypeRule returns the rule for code, or an error wrapping
	// apperr.ErrNotFound.
	TypeRule(ctx context.Context, code string) (*models.TypeRule, error)
	IdentifierExists(ctx context.Context, scope models.Scope, id string) (bool, error)
}

// UploadSigner mints write-once upload URLs.
type UploadSigner interface {
	SignUpload(ctx context.Context, bucket, key string, ttl time.Duration) (*storage.SignedURL, error)
}

// TypeSource tells where the type code of a request comes from.
type TypeSource string

const (
	// TypeSelected means the caller picked the code explicitly.
	TypeSelected TypeSource = "selected"
	// TypeFromFilename means the code is read from the start of the original
	// filename and must be echoed back in ConfirmType before composing.
	TypeFromFilename TypeSource = "filename"
)

// Request is one upload request as submitted.
type Request struct {
	Type             string
	TypeSource       TypeSource
	ConfirmType      string
	TypeName         string
	Date             string
	Scope            string
	Asset            string
	SPV              string
	Fund             string
	Tenant           string
	Suffix           string
	OriginalFilename string
	Ext              string
	UploaderID       string
	UploaderEmail    string
}

// Plan is a validated, composed and routed request.
type Plan struct {
	Fields
	Name          string `json:"name"`
	Bucket        string `json:"bucket"`
	ExtractedType string `json:"extracted_type,omitempty"`
	// BaseName is Name without the uploader tag.
	BaseName string           `json:"base_name"`
	Rule     *models.TypeRule `json:"-"`
}

// Engine is the filename rule engine. It holds no per-request state.
type Engine struct {
	cfg       Config
	rules     RuleSource
	signer    UploadSigner
	composer  Composer
	intake    string
	misc      string
	uploadTTL time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithBuckets sets the intake and miscellaneous bucket names.
func WithBuckets(intake, misc string) Option {
	return func(e *Engine) {
		e.intake = intake
		e.misc = misc
	}
}

// WithUploadTTL sets the lifetime of signed upload URLs.
func WithUploadTTL(d time.Duration) Option {
	return func(e *Engine) {
		e.uploadTTL = d
	}
}

// New creates an engine. signer may be nil for engines that only preview.
func New(cfg Config, rules RuleSource, signer UploadSigner, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	composer, err := NewComposer(cfg.Scheme)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		rules:     rules,
		signer:    signer,
		composer:  composer,
		intake:    "inbox",
		misc:      "misc",
		uploadTTL: 2 * time.Hour,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Composer returns the active composer.
func (e *Engine) Composer() Composer { return e.composer }

// ResolveTypeRule looks code up case-insensitively. "other" bypasses the
// lookup. A tenant-case code that is not registered itself but whose parent
// is resolves to the parent's rule.
func (e *Engine) ResolveTypeRule(ctx context.Context, code string) (*models.TypeRule, error) {
	code = strings.TrimSpace(code)
	if models.IsOther(code) {
		return &models.TypeRule{Code: models.OtherType, Name: "Other"}, nil
	}
	rule, err := e.rules.TypeRule(ctx, code)
	if err == nil {
		return rule, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("naming: resolve type %q: %w", code, err)
	}
	if parent, ok := parentCode(code); ok && e.cfg.IsTenantCase(code) {
		rule, err := e.rules.TypeRule(ctx, parent)
		if err == nil {
			return rule, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("naming: resolve type %q: %w", parent, err)
		}
	}
	return nil, apperr.UnknownType(code)
}

// TypeCode returns the code the request names. For TypeFromFilename it also
// returns the extracted code, and fails until the caller has confirmed it.
func (e *Engine) TypeCode(req Request) (code, extracted string, err error) {
	if req.TypeSource != TypeFromFilename {
		code = strings.TrimSpace(req.Type)
		if code == "" {
			return "", "", apperr.MissingField("type", "type is required")
		}
		return code, "", nil
	}
	extracted = ExtractTypeCode(req.OriginalFilename)
	if extracted == "" {
		return "", "", apperr.MissingField("type", "no type code found at the start of the filename")
	}
	if !strings.EqualFold(strings.TrimSpace(req.ConfirmType), extracted) {
		return "", extracted, apperr.MissingField("type_confirmation", "confirm the type code read from the filename").
			With("extracted_type", extracted)
	}
	return extracted, extracted, nil
}

// Validate checks req against rule and returns the sanitized fields. The
// type code in the result carries its tenant segment.
func (e *Engine) Validate(ctx context.Context, req Request, rule *models.TypeRule) (*Fields, error) {
	other := models.IsOther(rule.Code)
	code := strings.TrimSpace(req.Type)
	if other {
		code = models.OtherType
	}
	if code == "" {
		return nil, apperr.MissingField("type", "type is required")
	}
	if !other && !typeCodeRe.MatchString(code) {
		return nil, apperr.InvalidFormat("type", fmt.Sprintf("type code %q must be dotted digits", code))
	}
	if strings.TrimSpace(req.OriginalFilename) == "" {
		return nil, apperr.MissingField("original_filename", "original filename is required")
	}

	f := &Fields{Type: code}

	date := strings.TrimSpace(req.Date)
	switch {
	case date == "":
		if rule.RequireStrict && !other {
			return nil, apperr.MissingField("date", "date is required for type "+code)
		}
	default:
		if _, _, _, ok := ParseDate(date, e.cfg.DateFormats); ok {
			f.Date = date
		} else if !other {
			return nil, apperr.InvalidFormat("date", "date must be "+strings.Join(e.cfg.DateFormats, " or "))
		}
	}

	scope, id, err := resolveScope(req)
	if err != nil {
		return nil, err
	}
	f.Scope, f.Identifier = string(scope), id
	if id == "" && rule.RequiresIdentifier() && !other {
		return nil, apperr.MissingField(f.Scope, f.Scope+" is required for type "+code)
	}
	if id != "" && !other && e.cfg.ValidateIdentifierExists {
		ok, err := e.rules.IdentifierExists(ctx, scope, id)
		if err != nil {
			return nil, fmt.Errorf("naming: check %s %q: %w", scope, id, err)
		}
		if !ok {
			return nil, apperr.UnknownIdentifier(f.Scope, id)
		}
	}

	if tc, ok := e.cfg.tenantCase(code); ok && !other {
		// The tenant number lives at a fixed segment of the family, the
		// same place the indexer reads it from.
		if no := e.cfg.TenantNo(code); no != "" {
			f.TenantNo = no
		} else {
			no := digitsOnly(req.Tenant)
			if no == "" {
				return nil, apperr.MissingField("tenant", "tenant number is required for type "+code)
			}
			full := code + "." + no
			if e.cfg.TenantNo(full) != no {
				return nil, apperr.InvalidFormat("type",
					fmt.Sprintf("type %s cannot take a tenant number: it belongs at segment %d of %s codes", code, tc.Position+1, tc.Prefix))
			}
			f.Type, f.TenantNo = full, no
		}
	} else if e.cfg.Scheme == SchemeConcat {
		f.Tenant = sanitize.Segment(req.Tenant)
	}

	ext, err := e.extension(req)
	if err != nil {
		return nil, err
	}
	f.Ext = ext

	f.TypeName = sanitize.TagValue(req.TypeName)
	if f.TypeName == "" && !other {
		f.TypeName = sanitize.TagValue(rule.Name)
	}
	if e.cfg.Scheme == SchemeConcat {
		f.Suffix = sanitize.Segment(req.Suffix)
	}
	f.Mail = strings.TrimSpace(req.UploaderEmail)
	if e.cfg.UploaderTag {
		f.UploaderTag = UploaderTag(req.UploaderID, req.UploaderEmail)
	}
	return f, nil
}

// UploaderTag derives the stable u-xxxxxx tag of an uploader.
func UploaderTag(id, email string) string {
	src := id
	if src == "" {
		src = email
	}
	if src == "" {
		src = "anon"
	}
	return "u-" + ShortCode(src)
}

func resolveScope(req Request) (models.Scope, string, error) {
	given := map[models.Scope]string{
		models.ScopeAsset: sanitize.Identifier(req.Asset),
		models.ScopeSPV:   sanitize.TagValue(req.SPV),
		models.ScopeFund:  sanitize.TagValue(req.Fund),
	}
	var set []models.Scope
	for _, s := range models.Scopes {
		if given[s] != "" {
			set = append(set, s)
		}
	}
	if len(set) > 1 {
		return "", "", apperr.InvalidFormat("scope", "only one of asset, spv or fund may be set")
	}

	if strings.TrimSpace(req.Scope) != "" {
		scope, ok := models.ParseScope(req.Scope)
		if !ok {
			return "", "", apperr.InvalidFormat("scope", fmt.Sprintf("unknown scope %q", req.Scope))
		}
		if len(set) == 1 && set[0] != scope {
			return "", "", apperr.InvalidFormat("scope", fmt.Sprintf("%s given for scope %s", set[0], scope))
		}
		return scope, given[scope], nil
	}
	if len(set) == 1 {
		return set[0], given[set[0]], nil
	}
	return models.ScopeAsset, "", nil
}

// extension picks the explicit extension, else the original filename's,
// else the default.
func (e *Engine) extension(req Request) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Ext), "."))
	if ext == "" {
		_, ext = metaname.SplitName(sanitize.Filename(req.OriginalFilename))
		ext = strings.ToLower(strings.TrimSpace(ext))
	}
	if ext == "" {
		return strings.ToLower(e.cfg.DefaultExtension), nil
	}
	if !e.cfg.allows(ext) {
		return "", apperr.InvalidFormat("ext", fmt.Sprintf("extension %q is not allowed", ext))
	}
	return ext, nil
}

// Compose renders f with the active scheme.
func (e *Engine) Compose(f Fields) (string, error) {
	name, err := e.composer.Compose(f)
	if err != nil {
		return "", err
	}
	if len(name) > MaxNameLength {
		return "", apperr.InvalidFormat("name", fmt.Sprintf("composed name is %d bytes, limit is %d", len(name), MaxNameLength))
	}
	return name, nil
}

// RouteBucket sends "other" to the miscellaneous bucket and everything else
// to intake.
func (e *Engine) RouteBucket(code string) string {
	if models.IsOther(code) {
		return e.misc
	}
	return e.intake
}

// Buckets returns the intake and miscellaneous bucket names.
func (e *Engine) Buckets() (intake, misc string) { return e.intake, e.misc }

// Prepare runs a request through validation, composition and routing
// without contacting the object store.
func (e *Engine) Prepare(ctx context.Context, req Request) (*Plan, error) {
	code, extracted, err := e.TypeCode(req)
	if err != nil {
		return nil, err
	}
	rule, err := e.ResolveTypeRule(ctx, code)
	if err != nil {
		return nil, err
	}
	req.Type, req.TypeSource = code, TypeSelected
	fields, err := e.Validate(ctx, req, rule)
	if err != nil {
		return nil, err
	}
	name, err := e.Compose(*fields)
	if err != nil {
		return nil, err
	}
	base := *fields
	base.UploaderTag = ""
	baseName, err := e.Compose(base)
	if err != nil {
		return nil, err
	}
	return &Plan{
		Fields:        *fields,
		Name:          name,
		BaseName:      baseName,
		Bucket:        e.RouteBucket(fields.Type),
		ExtractedType: extracted,
		Rule:          rule,
	}, nil
}

// IssueUploadTarget asks the object store for a signed upload URL for
// bucket/name and relays the result.
func (e *Engine) IssueUploadTarget(ctx context.Context, name, bucket string) (*storage.SignedURL, error) {
	if e.signer == nil {
		return nil, apperr.DelegateFailure(errors.New("no object store configured"))
	}
	su, err := e.signer.SignUpload(ctx, bucket, name, e.uploadTTL)
	if errors.Is(err, apperr.ErrAlreadyExists) {
		return nil, apperr.NameTaken(storage.JoinPath(bucket, name), err)
	}
	if err != nil {
		return nil, apperr.DelegateFailure(err)
	}
	if su == nil || su.URL == "" {
		return nil, apperr.DelegateFailure(nil)
	}
	return su, nil
}

// Upload prepares req and signs an upload URL for the result.
func (e *Engine) Upload(ctx context.Context, req Request) (*Plan, *storage.SignedURL, error) {
	plan, err := e.Prepare(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	su, err := e.IssueUploadTarget(ctx, plan.Name, plan.Bucket)
	if err != nil {
		return plan, nil, err
	}
	return plan, su, nil
}
