package index

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/sanitize"
	"github.com/starford/docintake/pkg/config"
)

var typeCodeRe = regexp.MustCompile(`^\d+(?:\.\d+)*$`)

// Seed is the YAML document that loads reference data into an index.
//
//	types:
//	  - {type: "1.2", name: Lease, requires_asset: true}
//	identifiers:
//	  - {scope: asset, code: ABC1, name: Main Street 1}
//	tenants:
//	  - {asset: ABC1, tenant_no: 12, tenant_name: Bakery}
type Seed struct {
	Types       []models.TypeRule   `yaml:"types"`
	Identifiers []models.Identifier `yaml:"identifiers"`
	Tenants     []models.Tenant     `yaml:"tenants"`
}

// Validate checks every record of the seed.
func (s *Seed) Validate() error {
	for i, r := range s.Types {
		if err := validation.ValidateStruct(&r,
			validation.Field(&r.Code, validation.Required, validation.Match(typeCodeRe)),
		); err != nil {
			return fmt.Errorf("types[%d]: %w", i, err)
		}
	}
	for i, id := range s.Identifiers {
		if err := validation.ValidateStruct(&id,
			validation.Field(&id.Scope, validation.Required, validation.In(toAny(models.Scopes)...)),
			validation.Field(&id.Code, validation.Required),
		); err != nil {
			return fmt.Errorf("identifiers[%d]: %w", i, err)
		}
	}
	for i, t := range s.Tenants {
		if err := validation.ValidateStruct(&t,
			validation.Field(&t.Asset, validation.Required),
			validation.Field(&t.No, validation.Required, validation.Min(1)),
		); err != nil {
			return fmt.Errorf("tenants[%d]: %w", i, err)
		}
	}
	return nil
}

// LoadSeed reads and validates a seed file. ${VAR} references are expanded.
func LoadSeed(path string) (*Seed, error) {
	var s Seed
	if err := config.Load(path, &s); err != nil {
		return nil, fmt.Errorf("index: seed: %w", err)
	}
	return &s, nil
}

// Apply upserts the seed into idx. Asset codes are normalized the same way
// upload requests normalize them.
func (s *Seed) Apply(ctx context.Context, idx Index, logger *slog.Logger) error {
	scopes := make([]models.Scope, len(s.Identifiers))
	for i, id := range s.Identifiers {
		scope, ok := models.ParseScope(string(id.Scope))
		if !ok {
			return fmt.Errorf("index: seed identifiers[%d] %q: unknown scope %q", i, id.Code, id.Scope)
		}
		scopes[i] = scope
	}

	for _, r := range s.Types {
		r.Code = strings.TrimSpace(r.Code)
		if err := idx.UpsertTypeRule(ctx, r); err != nil {
			return err
		}
	}
	for i, id := range s.Identifiers {
		id.Scope = scopes[i]
		if id.Scope == models.ScopeAsset {
			id.Code = sanitize.Identifier(id.Code)
		} else {
			id.Code = sanitize.TagValue(id.Code)
		}
		if err := idx.UpsertIdentifier(ctx, id); err != nil {
			return err
		}
	}
	for _, t := range s.Tenants {
		t.Asset = sanitize.Identifier(t.Asset)
		if err := idx.UpsertTenant(ctx, t); err != nil {
			return err
		}
	}
	logger.Info("index: seeded",
		slog.Int("types", len(s.Types)),
		slog.Int("identifiers", len(s.Identifiers)),
		slog.Int("tenants", len(s.Tenants)))
	return nil
}

func toAny(scopes []models.Scope) []any {
	out := make([]any, len(scopes))
	for i, s := range scopes {
		out[i] = s
	}
	return out
}
