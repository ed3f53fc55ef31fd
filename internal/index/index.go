// Package index keeps the relational view of the document store: type rules,
// registered identifiers, tenants and one row per stored document.
package index

import (
	"context"
	"time"

	"github.com/starford/docintake/internal/models"
)

// DefaultPageSize is the number of documents per search page.
const DefaultPageSize = 50

// Index is the lookup and search surface shared by the rule engine, the HTTP
// handlers, the indexer and the MCP server. Consumers depend on this
// interface rather than on a concrete driver.
type Index interface {
	// TypeRule returns the rule registered under code (case-insensitive),
	// or an error wrapping apperr.ErrNotFound.
	TypeRule(ctx context.Context, code string) (*models.TypeRule, error)
	ListTypes(ctx context.Context) ([]models.TypeRule, error)
	IdentifierExists(ctx context.Context, scope models.Scope, code string) (bool, error)
	ListIdentifiers(ctx context.Context, scope models.Scope) ([]models.Identifier, error)
	ListTenants(ctx context.Context, asset string) ([]models.Tenant, error)

	UpsertTypeRule(ctx context.Context, r models.TypeRule) error
	UpsertIdentifier(ctx context.Context, id models.Identifier) error
	UpsertTenant(ctx context.Context, t models.Tenant) error

	// UpsertDocument inserts or replaces the row keyed by d.StoragePath.
	UpsertDocument(ctx context.Context, d *models.Document) error
	DeleteDocument(ctx context.Context, storagePath string) error
	// DocumentChecksums maps storage path to checksum for every row whose
	// path starts with bucket + "/".
	DocumentChecksums(ctx context.Context, bucket string) (map[string]string, error)
	SearchDocuments(ctx context.Context, f Filter) (*Page, error)

	Ping(ctx context.Context) error
	Close() error
}

// Filter selects documents. Empty fields match everything.
type Filter struct {
	// TypePrefix matches the code itself and every code below it
	// ("1.7" matches "1.7" and "1.7.1.12" but not "1.70"), ignoring case.
	TypePrefix string
	Asset      string
	SPV        string
	Fund       string
	Tenant     string
	// From and To bound doc_date as [From, To). Zero values are open.
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Page is one page of search results.
type Page struct {
	Documents []models.Document `json:"documents"`
	Total     int               `json:"total"`
	Page      int               `json:"page"`
	PageSize  int               `json:"page_size"`
}

// window returns the normalized page number, page size and row offset.
func (f Filter) window() (page, size, offset int) {
	page, size = f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 500 {
		size = DefaultPageSize
	}
	return page, size, (page - 1) * size
}

// escapeLike escapes the LIKE wildcards in s with a backslash.
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

const dateLayout = "2006-01-02"

// Verify implementations satisfy Index at compile time.
var (
	_ Index = (*SQLite)(nil)
	_ Index = (*Postgres)(nil)
)
