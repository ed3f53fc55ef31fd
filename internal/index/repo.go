package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/models"
)

// TypeRule looks code up ignoring case.
func (db *SQLite) TypeRule(ctx context.Context, code string) (*models.TypeRule, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT type, name, requires_asset, requires_tenant, require_strict, allow_keyword, aliases
		FROM type_rules WHERE type = ? COLLATE NOCASE`, strings.TrimSpace(code))
	r, err := scanTypeRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: type %q: %w", code, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: type %q: %w", code, err)
	}
	return r, nil
}

// ListTypes returns every rule ordered by code.
func (db *SQLite) ListTypes(ctx context.Context) ([]models.TypeRule, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT type, name, requires_asset, requires_tenant, require_strict, allow_keyword, aliases
		FROM type_rules ORDER BY type`)
	if err != nil {
		return nil, fmt.Errorf("index: list types: %w", err)
	}
	defer rows.Close()

	var out []models.TypeRule
	for rows.Next() {
		r, err := scanTypeRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTypeRule(s rowScanner) (*models.TypeRule, error) {
	var r models.TypeRule
	var aliases string
	if err := s.Scan(&r.Code, &r.Name, &r.RequiresAsset, &r.RequiresTenant, &r.RequireStrict, &r.AllowKeyword, &aliases); err != nil {
		return nil, err
	}
	if aliases != "" {
		if err := json.Unmarshal([]byte(aliases), &r.Aliases); err != nil {
			return nil, fmt.Errorf("index: decode aliases of %q: %w", r.Code, err)
		}
	}
	return &r, nil
}

// UpsertTypeRule inserts or replaces a rule.
func (db *SQLite) UpsertTypeRule(ctx context.Context, r models.TypeRule) error {
	aliases, _ := json.Marshal(nonNil(r.Aliases))
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO type_rules (type, name, requires_asset, requires_tenant, require_strict, allow_keyword, aliases)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			name            = excluded.name,
			requires_asset  = excluded.requires_asset,
			requires_tenant = excluded.requires_tenant,
			require_strict  = excluded.require_strict,
			allow_keyword   = excluded.allow_keyword,
			aliases         = excluded.aliases
	`, strings.TrimSpace(r.Code), r.Name, r.RequiresAsset, r.RequiresTenant, r.RequireStrict, r.AllowKeyword, string(aliases))
	if err != nil {
		return fmt.Errorf("index: upsert type %q: %w", r.Code, err)
	}
	return nil
}

// IdentifierExists reports whether code is registered under scope.
func (db *SQLite) IdentifierExists(ctx context.Context, scope models.Scope, code string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM identifiers WHERE scope = ? AND code = ? COLLATE NOCASE`,
		string(scope), strings.TrimSpace(code)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("index: identifier exists: %w", err)
	}
	return n > 0, nil
}

// ListIdentifiers returns the identifiers registered under scope.
func (db *SQLite) ListIdentifiers(ctx context.Context, scope models.Scope) ([]models.Identifier, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT scope, code, name FROM identifiers WHERE scope = ? ORDER BY code`, string(scope))
	if err != nil {
		return nil, fmt.Errorf("index: list identifiers: %w", err)
	}
	defer rows.Close()

	var out []models.Identifier
	for rows.Next() {
		var id models.Identifier
		var s string
		if err := rows.Scan(&s, &id.Code, &id.Name); err != nil {
			return nil, err
		}
		id.Scope = models.Scope(s)
		out = append(out, id)
	}
	return out, rows.Err()
}

// UpsertIdentifier registers an identifier.
func (db *SQLite) UpsertIdentifier(ctx context.Context, id models.Identifier) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO identifiers (scope, code, name) VALUES (?, ?, ?)
		ON CONFLICT(scope, code) DO UPDATE SET name = excluded.name
	`, string(id.Scope), id.Code, id.Name)
	if err != nil {
		return fmt.Errorf("index: upsert identifier %s/%s: %w", id.Scope, id.Code, err)
	}
	return nil
}

// ListTenants returns the tenants of asset, or of every asset when asset is
// empty.
func (db *SQLite) ListTenants(ctx context.Context, asset string) ([]models.Tenant, error) {
	q := `SELECT asset, tenant_no, tenant_name FROM tenants`
	var args []any
	if asset != "" {
		q += ` WHERE asset = ? COLLATE NOCASE`
		args = append(args, asset)
	}
	rows, err := db.conn.QueryContext(ctx, q+` ORDER BY asset, tenant_no`, args...)
	if err != nil {
		return nil, fmt.Errorf("index: list tenants: %w", err)
	}
	defer rows.Close()

	var out []models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.Asset, &t.No, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertTenant registers a tenant.
func (db *SQLite) UpsertTenant(ctx context.Context, t models.Tenant) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO tenants (asset, tenant_no, tenant_name) VALUES (?, ?, ?)
		ON CONFLICT(asset, tenant_no) DO UPDATE SET tenant_name = excluded.tenant_name
	`, t.Asset, t.No, t.Name)
	if err != nil {
		return fmt.Errorf("index: upsert tenant %s/%d: %w", t.Asset, t.No, err)
	}
	return nil
}

// UpsertDocument inserts or replaces a document. The id and created_at of an
// existing row are kept.
func (db *SQLite) UpsertDocument(ctx context.Context, d *models.Document) error {
	prepareDocument(d)
	err := db.conn.QueryRowContext(ctx, `
		INSERT INTO documents (id, storage_path, bucket, object_key, type, type_name, scope, asset, spv, fund,
			tenant, doc_date, uploader, ext, checksum, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(storage_path) DO UPDATE SET
			bucket     = excluded.bucket,
			object_key = excluded.object_key,
			type       = excluded.type,
			type_name  = excluded.type_name,
			scope      = excluded.scope,
			asset      = excluded.asset,
			spv        = excluded.spv,
			fund       = excluded.fund,
			tenant     = excluded.tenant,
			doc_date   = excluded.doc_date,
			uploader   = excluded.uploader,
			ext        = excluded.ext,
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
		RETURNING id
	`, d.ID, d.StoragePath, d.Bucket, d.Key, d.Type, d.TypeName, string(d.Scope), d.Asset, d.SPV, d.Fund,
		d.Tenant, dateArg(d.DocDate), d.Uploader, d.Ext, d.Checksum, d.CreatedAt, d.UpdatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("index: upsert document %q: %w", d.StoragePath, err)
	}
	return nil
}

// DeleteDocument removes the row for storagePath. Missing rows are not an
// error.
func (db *SQLite) DeleteDocument(ctx context.Context, storagePath string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE storage_path = ?`, storagePath); err != nil {
		return fmt.Errorf("index: delete document %q: %w", storagePath, err)
	}
	return nil
}

// DocumentChecksums returns the stored checksums of bucket.
func (db *SQLite) DocumentChecksums(ctx context.Context, bucket string) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT storage_path, checksum FROM documents WHERE bucket = ?`, bucket)
	if err != nil {
		return nil, fmt.Errorf("index: checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

const documentColumns = `id, storage_path, bucket, object_key, type, type_name, scope, asset, spv, fund,
	tenant, doc_date, uploader, ext, checksum, created_at, updated_at`

// SearchDocuments returns one page of documents matching f, newest first.
func (db *SQLite) SearchDocuments(ctx context.Context, f Filter) (*Page, error) {
	where, args := sqliteWhere(f)
	page, size, offset := f.window()

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("index: count documents: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents`+where+`
		ORDER BY doc_date IS NULL, doc_date DESC, created_at DESC
		LIMIT ? OFFSET ?`, append(args, size, offset)...)
	if err != nil {
		return nil, fmt.Errorf("index: search documents: %w", err)
	}
	defer rows.Close()

	out := &Page{Documents: []models.Document{}, Total: total, Page: page, PageSize: size}
	for rows.Next() {
		var d models.Document
		var scope string
		var docDate sql.NullString
		if err := rows.Scan(&d.ID, &d.StoragePath, &d.Bucket, &d.Key, &d.Type, &d.TypeName, &scope,
			&d.Asset, &d.SPV, &d.Fund, &d.Tenant, &docDate, &d.Uploader, &d.Ext, &d.Checksum,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Scope = models.Scope(scope)
		if docDate.Valid {
			if t, err := time.Parse(dateLayout, docDate.String); err == nil {
				d.DocDate = &t
			}
		}
		out.Documents = append(out.Documents, d)
	}
	return out, rows.Err()
}

func sqliteWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	if p := strings.TrimSpace(f.TypePrefix); p != "" {
		conds = append(conds, `(type = ? COLLATE NOCASE OR type LIKE ? ESCAPE '\')`)
		args = append(args, p, escapeLike(p)+".%")
	}
	for _, c := range []struct{ col, val string }{
		{"asset", f.Asset}, {"spv", f.SPV}, {"fund", f.Fund}, {"tenant", f.Tenant},
	} {
		if v := strings.TrimSpace(c.val); v != "" {
			conds = append(conds, c.col+` = ? COLLATE NOCASE`)
			args = append(args, v)
		}
	}
	if !f.From.IsZero() {
		conds = append(conds, `doc_date >= ?`)
		args = append(args, f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		conds = append(conds, `doc_date < ?`)
		args = append(args, f.To.Format(dateLayout))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// prepareDocument fills the id and timestamps of a new row.
func prepareDocument(d *models.Document) {
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = now
	}
}

func dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
