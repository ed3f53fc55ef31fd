// Package intake coordinates the rule engine, the object store and the index
// behind the HTTP and MCP surfaces.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/auth"
	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/naming"
	"github.com/starford/docintake/internal/sanitize"
	"github.com/starford/docintake/internal/sse"
	"github.com/starford/docintake/internal/storage"
)

const (
	// DefaultDownloadTTL applies when a download request names no lifetime.
	DefaultDownloadTTL = time.Hour
	// MaxDownloadTTL caps requested download lifetimes.
	MaxDownloadTTL = 7 * 24 * time.Hour
)

// Publisher receives service events. *sse.Broker satisfies it.
type Publisher interface {
	Publish(sse.Event)
}

// PasswordSetter updates auth user passwords. *auth.AdminClient satisfies it.
type PasswordSetter interface {
	UpdateUserPassword(ctx context.Context, userID, password string) error
	SetPassword(ctx context.Context, email, password string) error
}

// Service is the application layer shared by the API and the MCP server.
type Service struct {
	engine   *naming.Engine
	store    storage.Provider
	idx      index.Index
	readable map[string]bool
	logger   *slog.Logger

	// downloadTTL applies when a download request names no lifetime.
	downloadTTL time.Duration

	events Publisher
	admin  PasswordSetter
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes upload events to p.
func WithEvents(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithAdmin enables password administration.
func WithAdmin(a PasswordSetter) Option {
	return func(s *Service) { s.admin = a }
}

// WithReadableBuckets adds buckets that downloads may be signed for besides
// the engine's intake and misc buckets.
func WithReadableBuckets(buckets ...string) Option {
	return func(s *Service) {
		for _, b := range buckets {
			if b != "" {
				s.readable[b] = true
			}
		}
	}
}

// WithDownloadTTL changes the default download lifetime. Values outside
// (0, MaxDownloadTTL] are ignored.
func WithDownloadTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 && d <= MaxDownloadTTL {
			s.downloadTTL = d
		}
	}
}

// NewService creates a new intake service.
func NewService(engine *naming.Engine, store storage.Provider, idx index.Index, logger *slog.Logger, opts ...Option) *Service {
	intake, misc := engine.Buckets()
	s := &Service{
		engine:      engine,
		store:       store,
		idx:         idx,
		readable:    map[string]bool{intake: true, misc: true},
		logger:      logger,
		downloadTTL: DefaultDownloadTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the rule engine.
func (s *Service) Engine() *naming.Engine { return s.engine }

// UploadTarget is the answer to a sign-upload request.
type UploadTarget struct {
	SignedURL   string    `json:"signedUrl"`
	Path        string    `json:"path"`
	Bucket      string    `json:"bucket"`
	BaseName    string    `json:"baseName"`
	PersonTag   string    `json:"personTag,omitempty"`
	Token       string    `json:"token,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
	StoragePath string    `json:"storage_path"`
}

func withIdentity(req naming.Request, id auth.Identity) naming.Request {
	req.UploaderID = id.UserID
	req.UploaderEmail = id.Email
	return req
}

// Preview validates and composes req without contacting the object store.
func (s *Service) Preview(ctx context.Context, id auth.Identity, req naming.Request) (*naming.Plan, error) {
	return s.engine.Prepare(ctx, withIdentity(req, id))
}

// SignUpload runs req through the engine and signs a write-once URL for the
// composed name.
func (s *Service) SignUpload(ctx context.Context, id auth.Identity, req naming.Request) (*UploadTarget, error) {
	plan, su, err := s.engine.Upload(ctx, withIdentity(req, id))
	if err != nil {
		s.logFailure("sign-upload", err)
		return nil, err
	}
	path := storage.JoinPath(plan.Bucket, plan.Name)
	s.logger.Info("upload signed",
		slog.String("path", path),
		slog.String("type", plan.Type),
		slog.String("uploader", plan.UploaderTag))
	if s.events != nil {
		s.events.Publish(sse.Event{
			Type:   sse.TypeUploadSigned,
			Data:   sse.DocumentData{Path: path, Bucket: plan.Bucket, Key: plan.Name},
			Bucket: plan.Bucket,
		})
	}
	return &UploadTarget{
		SignedURL:   su.URL,
		Path:        plan.Name,
		Bucket:      plan.Bucket,
		BaseName:    plan.BaseName,
		PersonTag:   plan.UploaderTag,
		Token:       su.Token,
		ExpiresAt:   su.ExpiresAt,
		StoragePath: path,
	}, nil
}

// SignDownload signs a read URL for storagePath ("bucket/key"). expiresIn is
// in seconds; zero means the configured default.
func (s *Service) SignDownload(ctx context.Context, storagePath string, expiresIn int) (*storage.SignedURL, error) {
	if strings.TrimSpace(storagePath) == "" {
		return nil, apperr.MissingField("storage_path", "storage_path is required")
	}
	bucket, key, err := storage.SplitPath(storagePath)
	if err != nil {
		return nil, apperr.InvalidFormat("storage_path", "storage_path must be bucket/key")
	}
	if !s.readable[bucket] {
		return nil, apperr.InvalidFormat("storage_path", fmt.Sprintf("bucket %q is not readable", bucket))
	}
	ttl := s.downloadTTL
	switch {
	case expiresIn < 0:
		return nil, apperr.InvalidFormat("expiresIn", "expiresIn must be positive")
	case int64(expiresIn) >= int64(MaxDownloadTTL/time.Second):
		// Compared in seconds so huge values cannot overflow the Duration.
		ttl = MaxDownloadTTL
	case expiresIn > 0:
		ttl = time.Duration(expiresIn) * time.Second
	}
	su, err := s.store.SignDownload(ctx, bucket, key, ttl)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		s.logFailure("sign-download", err)
		return nil, apperr.DelegateFailure(err)
	}
	return su, nil
}

// SearchQuery is a document search as submitted. Date accepts YYYY, YYYY-MM
// or YYYY-MM-DD and selects the whole period.
type SearchQuery struct {
	Type     string `json:"type,omitempty"`
	Date     string `json:"date,omitempty"`
	Asset    string `json:"asset,omitempty"`
	SPV      string `json:"spv,omitempty"`
	Fund     string `json:"fund,omitempty"`
	Tenant   string `json:"tenant,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// SearchDocuments runs q against the index.
func (s *Service) SearchDocuments(ctx context.Context, q SearchQuery) (*index.Page, error) {
	f := index.Filter{
		TypePrefix: strings.TrimSpace(q.Type),
		Asset:      sanitize.Identifier(q.Asset),
		SPV:        strings.TrimSpace(q.SPV),
		Fund:       strings.TrimSpace(q.Fund),
		Tenant:     strings.TrimSpace(q.Tenant),
		Page:       q.Page,
		PageSize:   q.PageSize,
	}
	if d := strings.TrimSpace(q.Date); d != "" {
		from, to, _, ok := naming.ParseDate(d, naming.AllDateFormats)
		if !ok {
			return nil, apperr.InvalidFormat("date", "date must be YYYY, YYYY-MM or YYYY-MM-DD")
		}
		f.From, f.To = from, to
	}
	return s.idx.SearchDocuments(ctx, f)
}

// OptionItem is one entry of a pick list.
type OptionItem struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// TypeOptions lists the registered types ordered by code segment, with the
// "other" wildcard last.
func (s *Service) TypeOptions(ctx context.Context) ([]models.TypeRule, error) {
	rules, err := s.idx.ListTypes(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rules))
	out := make([]models.TypeRule, 0, len(rules)+1)
	for _, r := range rules {
		k := strings.ToLower(r.Code)
		if seen[k] || models.IsOther(r.Code) {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return lessCode(out[i].Code, out[j].Code) })
	return append(out, models.TypeRule{Code: models.OtherType, Name: "Other"}), nil
}

// IdentifierOptions lists the codes registered under scope, deduplicated
// ignoring case and collated.
func (s *Service) IdentifierOptions(ctx context.Context, scope string) ([]string, error) {
	sc, ok := models.ParseScope(scope)
	if !ok {
		return nil, apperr.InvalidFormat("scope", fmt.Sprintf("unknown scope %q", scope))
	}
	ids, err := s.idx.ListIdentifiers(ctx, sc)
	if err != nil {
		return nil, err
	}
	codes := make([]string, len(ids))
	for i, id := range ids {
		codes[i] = id.Code
	}
	return sanitize.UniqueFold(codes), nil
}

// TenantOptions lists the tenants of asset as "12 - Name" labels.
func (s *Service) TenantOptions(ctx context.Context, asset string) ([]OptionItem, error) {
	tenants, err := s.idx.ListTenants(ctx, sanitize.Identifier(asset))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tenants, func(i, j int) bool {
		if tenants[i].Asset != tenants[j].Asset {
			return tenants[i].Asset < tenants[j].Asset
		}
		return tenants[i].No < tenants[j].No
	})
	out := make([]OptionItem, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, OptionItem{Value: strconv.Itoa(t.No), Label: t.Label()})
	}
	return out, nil
}

// SetPassword lets an admin set the password of another user, addressed by
// id or, failing that, by email.
func (s *Service) SetPassword(ctx context.Context, userID, email, password string) error {
	if s.admin == nil {
		return fmt.Errorf("intake: password administration is not configured: %w", apperr.ErrForbidden)
	}
	userID, email = strings.TrimSpace(userID), strings.TrimSpace(email)
	switch {
	case password == "":
		return apperr.MissingField("newPassword", "newPassword is required")
	case userID != "":
		return s.admin.UpdateUserPassword(ctx, userID, password)
	case email != "":
		return s.admin.SetPassword(ctx, email, password)
	}
	return apperr.MissingField("userId", "userId or email is required")
}

// Ready checks the index connection.
func (s *Service) Ready(ctx context.Context) error {
	return s.idx.Ping(ctx)
}

func (s *Service) logFailure(op string, err error) {
	if ae, ok := apperr.As(err); ok && !ae.Internal() {
		return
	}
	s.logger.Error(op+" failed", slog.String("error", err.Error()))
}

// lessCode orders dotted codes segment by segment, numerically where both
// segments are numbers.
func lessCode(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
