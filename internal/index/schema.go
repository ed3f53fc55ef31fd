package index

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS type_rules (
	type            TEXT PRIMARY KEY COLLATE NOCASE,
	name            TEXT NOT NULL DEFAULT '',
	requires_asset  INTEGER NOT NULL DEFAULT 0,
	requires_tenant INTEGER NOT NULL DEFAULT 0,
	require_strict  INTEGER NOT NULL DEFAULT 0,
	allow_keyword   INTEGER NOT NULL DEFAULT 0,
	aliases         TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS identifiers (
	scope TEXT NOT NULL,
	code  TEXT NOT NULL COLLATE NOCASE,
	name  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (scope, code)
);

CREATE TABLE IF NOT EXISTS tenants (
	asset       TEXT NOT NULL COLLATE NOCASE,
	tenant_no   INTEGER NOT NULL,
	tenant_name TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (asset, tenant_no)
);

CREATE TABLE IF NOT EXISTS documents (
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
	doc_date     TEXT,
	uploader     TEXT NOT NULL DEFAULT '',
	ext          TEXT NOT NULL DEFAULT '',
	checksum     TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_documents_asset ON documents(asset);
CREATE INDEX IF NOT EXISTS idx_documents_date ON documents(doc_date);
`

// SQLite is the file-backed Index used for single-node deployments.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the SQLite database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Ping checks the connection.
func (db *SQLite) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}
