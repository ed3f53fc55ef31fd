package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/models"
)

// TableNames holds the prefixed table names of one environment.
type TableNames struct {
	TypeRules   string
	Identifiers string
	Tenants     string
	Documents   string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		TypeRules:   fmt.Sprintf("%stype_rules", prefix),
		Identifiers: fmt.Sprintf("%sidentifiers", prefix),
		Tenants:     fmt.Sprintf("%stenants", prefix),
		Documents:   fmt.Sprintf("%sdocuments", prefix),
	}
}

// Postgres is the Index backed by a hosted Postgres database.
type Postgres struct {
	pool   *pgxpool.Pool
	tables *TableNames
}

// OpenPostgres connects to dsn, applies the schema and returns the index.
//
// The Supabase transaction pooler (port 6543) does not support prepared
// statements; on that port the pool switches to cache_describe unless the
// DSN sets default_query_exec_mode itself.
func OpenPostgres(ctx context.Context, dsn, tablePrefix string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("index: parse connection string: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	if cfg.ConnConfig.Port == 6543 && cfg.ConnConfig.DefaultQueryExecMode == pgx.QueryExecModeCacheStatement {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheDescribe
		slog.Debug("index: cache_describe mode for pooler", slog.Int("port", 6543))
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("index: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	p := &Postgres{pool: pool, tables: NewTableNames(tablePrefix)}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	t := p.tables
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	type            TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	requires_asset  BOOLEAN NOT NULL DEFAULT FALSE,
	requires_tenant BOOLEAN NOT NULL DEFAULT FALSE,
	require_strict  BOOLEAN NOT NULL DEFAULT FALSE,
	allow_keyword   BOOLEAN NOT NULL DEFAULT FALSE,
	aliases         TEXT[] NOT NULL DEFAULT '{}'
);
CREATE UNIQUE INDEX IF NOT EXISTS %[1]s_lower_type ON %[1]s (lower(type));

CREATE TABLE IF NOT EXISTS %[2]s (
	scope TEXT NOT NULL,
	code  TEXT NOT NULL,
	name  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (scope, code)
);

CREATE TABLE IF NOT EXISTS %[3]s (
	asset       TEXT NOT NULL,
	tenant_no   INTEGER NOT NULL,
	tenant_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (asset, tenant_no)
);

CREATE TABLE IF NOT EXISTS %[4]s (
	id           TEXT PRIMARY KEY,
	storage_path TEXT NOT NULL UNIQUE,
	bucket       TEXT NOT NULL,
	object_key   TEXT NOT NULL,
	type         TEXT NOT NULL,
	type_name    TEXT NOT NULL DEFAULT '',
	scope        TEXT NOT NULL DEFAULT '',
	asset        TEXT NOT NULL DEFAULT '',
	spv          TEXT NOT NULL DEFAULT '',
	fund         TEXT NOT NULL DEFAULT '',
	tenant       TEXT NOT NULL DEFAULT '',
	doc_date     DATE,
	uploader     TEXT NOT NULL DEFAULT '',
	ext          TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[4]s_type ON %[4]s (lower(type) text_pattern_ops);
CREATE INDEX IF NOT EXISTS %[4]s_date ON %[4]s (doc_date DESC NULLS LAST, created_at DESC);
`, t.TypeRules, t.Identifiers, t.Tenants, t.Documents)
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("index: apply schema: %w", err)
	}
	return nil
}

// Ping checks the pool.
func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

const typeRuleColumns = `type, name, requires_asset, requires_tenant, require_strict, allow_keyword, aliases`

func (p *Postgres) TypeRule(ctx context.Context, code string) (*models.TypeRule, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE lower(type) = lower($1)`, typeRuleColumns, p.tables.TypeRules)
	var r models.TypeRule
	err := p.pool.QueryRow(ctx, q, strings.TrimSpace(code)).Scan(
		&r.Code, &r.Name, &r.RequiresAsset, &r.RequiresTenant, &r.RequireStrict, &r.AllowKeyword, &r.Aliases)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("index: type %q: %w", code, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: type %q: %w", code, err)
	}
	return &r, nil
}

func (p *Postgres) ListTypes(ctx context.Context) ([]models.TypeRule, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s ORDER BY type`, typeRuleColumns, p.tables.TypeRules)
	rows, err := p.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("index: list types: %w", err)
	}
	defer rows.Close()

	var out []models.TypeRule
	for rows.Next() {
		var r models.TypeRule
		if err := rows.Scan(&r.Code, &r.Name, &r.RequiresAsset, &r.RequiresTenant, &r.RequireStrict, &r.AllowKeyword, &r.Aliases); err != nil {
			return nil, fmt.Errorf("index: scan type: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertTypeRule(ctx context.Context, r models.TypeRule) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (type) DO UPDATE SET
			name            = EXCLUDED.name,
			requires_asset  = EXCLUDED.requires_asset,
			requires_tenant = EXCLUDED.requires_tenant,
			require_strict  = EXCLUDED.require_strict,
			allow_keyword   = EXCLUDED.allow_keyword,
			aliases         = EXCLUDED.aliases
	`, p.tables.TypeRules, typeRuleColumns)
	_, err := p.pool.Exec(ctx, q, strings.TrimSpace(r.Code), r.Name, r.RequiresAsset, r.RequiresTenant,
		r.RequireStrict, r.AllowKeyword, nonNil(r.Aliases))
	if err != nil {
		return fmt.Errorf("index: upsert type %q: %w", r.Code, err)
	}
	return nil
}

func (p *Postgres) IdentifierExists(ctx context.Context, scope models.Scope, code string) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE scope = $1 AND lower(code) = lower($2))`, p.tables.Identifiers)
	var ok bool
	if err := p.pool.QueryRow(ctx, q, string(scope), strings.TrimSpace(code)).Scan(&ok); err != nil {
		return false, fmt.Errorf("index: identifier exists: %w", err)
	}
	return ok, nil
}

func (p *Postgres) ListIdentifiers(ctx context.Context, scope models.Scope) ([]models.Identifier, error) {
	q := fmt.Sprintf(`SELECT code, name FROM %s WHERE scope = $1 ORDER BY code`, p.tables.Identifiers)
	rows, err := p.pool.Query(ctx, q, string(scope))
	if err != nil {
		return nil, fmt.Errorf("index: list identifiers: %w", err)
	}
	defer rows.Close()

	var out []models.Identifier
	for rows.Next() {
		id := models.Identifier{Scope: scope}
		if err := rows.Scan(&id.Code, &id.Name); err != nil {
			return nil, fmt.Errorf("index: scan identifier: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertIdentifier(ctx context.Context, id models.Identifier) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (scope, code, name) VALUES ($1, $2, $3)
		ON CONFLICT (scope, code) DO UPDATE SET name = EXCLUDED.name
	`, p.tables.Identifiers)
	if _, err := p.pool.Exec(ctx, q, string(id.Scope), id.Code, id.Name); err != nil {
		return fmt.Errorf("index: upsert identifier %s/%s: %w", id.Scope, id.Code, err)
	}
	return nil
}

func (p *Postgres) ListTenants(ctx context.Context, asset string) ([]models.Tenant, error) {
	q := fmt.Sprintf(`SELECT asset, tenant_no, tenant_name FROM %s`, p.tables.Tenants)
	var args []any
	if asset != "" {
		q += ` WHERE lower(asset) = lower($1)`
		args = append(args, asset)
	}
	rows, err := p.pool.Query(ctx, q+` ORDER BY asset, tenant_no`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.Asset, &t.No, &t.Name); err != nil {
			return nil, fmt.Errorf("index: scan tenant: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *Postgres) UpsertTenant(ctx context.Context, t models.Tenant) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (asset, tenant_no, tenant_name) VALUES ($1, $2, $3)
		ON CONFLICT (asset, tenant_no) DO UPDATE SET tenant_name = EXCLUDED.tenant_name
	`, p.tables.Tenants)
	if _, err := p.pool.Exec(ctx, q, t.Asset, t.No, t.Name); err != nil {
		return fmt.Errorf("index: upsert tenant %s/%d: %w", t.Asset, t.No, err)
	}
	return nil
}

func (p *Postgres) UpsertDocument(ctx context.Context, d *models.Document) error {
	prepareDocument(d)
	q := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (storage_path) DO UPDATE SET
			bucket     = EXCLUDED.bucket,
			object_key = EXCLUDED.object_key,
			type       = EXCLUDED.type,
			type_name  = EXCLUDED.type_name,
			scope      = EXCLUDED.scope,
			asset      = EXCLUDED.asset,
			spv        = EXCLUDED.spv,
			fund       = EXCLUDED.fund,
			tenant     = EXCLUDED.tenant,
			doc_date   = EXCLUDED.doc_date,
			uploader   = EXCLUDED.uploader,
			ext        = EXCLUDED.ext,
			checksum   = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at
	`, p.tables.Documents, documentColumns)
	err := p.pool.QueryRow(ctx, q, d.ID, d.StoragePath, d.Bucket, d.Key, d.Type, d.TypeName, string(d.Scope),
		d.Asset, d.SPV, d.Fund, d.Tenant, d.DocDate, d.Uploader, d.Ext, d.Checksum, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert document %q: %w", d.StoragePath, err)
	}
	return nil
}

func (p *Postgres) DeleteDocument(ctx context.Context, storagePath string) error {
	q := fmt.Sprintf(`DELETE FROM %s WHERE storage_path = $1`, p.tables.Documents)
	if _, err := p.pool.Exec(ctx, q, storagePath); err != nil {
		return fmt.Errorf("index: delete document %q: %w", storagePath, err)
	}
	return nil
}

func (p *Postgres) DocumentChecksums(ctx context.Context, bucket string) (map[string]string, error) {
	q := fmt.Sprintf(`SELECT storage_path, checksum FROM %s WHERE bucket = $1`, p.tables.Documents)
	rows, err := p.pool.Query(ctx, q, bucket)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var path, cs string
		if err := rows.Scan(&path, &cs); err != nil {
			return nil, fmt.Errorf("index: scan checksum: %w", err)
		}
		out[path] = cs
	}
	return out, rows.Err()
}

func (p *Postgres) SearchDocuments(ctx context.Context, f Filter) (*Page, error) {
	where, args := postgresWhere(f)
	page, size, offset := f.window()

	var total int
	countQ := fmt.Sprintf(`SELECT count(*) FROM %s%s`, p.tables.Documents, where)
	if err := p.pool.QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("index: count documents: %w", err)
	}

	q := fmt.Sprintf(`SELECT %s FROM %s%s
		ORDER BY doc_date DESC NULLS LAST, created_at DESC
		LIMIT $%d OFFSET $%d`, documentColumns, p.tables.Documents, where, len(args)+1, len(args)+2)
	rows, err := p.pool.Query(ctx, q, append(args, size, offset)...)
	if err != nil {
		return nil, fmt.Errorf("index: search documents: %w", err)
	}
	defer rows.Close()

	out := &Page{Documents: []models.Document{}, Total: total, Page: page, PageSize: size}
	for rows.Next() {
		var d models.Document
		var scope string
		var docDate *time.Time
		if err := rows.Scan(&d.ID, &d.StoragePath, &d.Bucket, &d.Key, &d.Type, &d.TypeName, &scope,
			&d.Asset, &d.SPV, &d.Fund, &d.Tenant, &docDate, &d.Uploader, &d.Ext, &d.Checksum,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("index: scan document: %w", err)
		}
		d.Scope = models.Scope(scope)
		d.DocDate = docDate
		out.Documents = append(out.Documents, d)
	}
	return out, rows.Err()
}

func postgresWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if p := strings.TrimSpace(f.TypePrefix); p != "" {
		args = append(args, p, escapeLike(p)+".%")
		conds = append(conds, fmt.Sprintf(`(lower(type) = lower($%d) OR lower(type) LIKE lower($%d))`, len(args)-1, len(args)))
	}
	for _, c := range []struct{ col, val string }{
		{"asset", f.Asset}, {"spv", f.SPV}, {"fund", f.Fund}, {"tenant", f.Tenant},
	} {
		if v := strings.TrimSpace(c.val); v != "" {
			add(`lower(`+c.col+`) = lower($%d)`, v)
		}
	}
	if !f.From.IsZero() {
		add(`doc_date >= $%d`, f.From)
	}
	if !f.To.IsZero() {
		add(`doc_date < $%d`, f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
