// Package testutil provides shared test helpers for setting up stores and indexes.
package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/models"
	"github.com/starford/docintake/internal/storage"
)

// Secret signs blob tokens in tests.
const Secret = "test-secret"

// TestDB creates a temporary SQLite index that is automatically cleaned up.
func TestDB(t *testing.T) *index.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "docintake-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestStore creates a temporary fs object store whose signed URLs point at
// baseURL.
func TestStore(t *testing.T, baseURL string) *storage.FS {
	t.Helper()
	tokens, err := storage.NewTokenSigner(Secret)
	if err != nil {
		t.Fatal(err)
	}
	store, err := storage.NewFS(t.TempDir(), baseURL, tokens)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// Rules is the reference data most tests run against.
var Rules = index.Seed{
	Types: []models.TypeRule{
		{Code: "1.2", Name: "Lease", RequiresAsset: true},
		{Code: "1.7", Name: "Mietvertrag", RequiresAsset: true},
		{Code: "2.1", Name: "Fund report", RequiresAsset: true, RequireStrict: true},
		{Code: "3", Name: "Correspondence"},
	},
	Identifiers: []models.Identifier{
		{Scope: models.ScopeAsset, Code: "ABC1", Name: "Main Street 1"},
		{Scope: models.ScopeAsset, Code: "XYZ9", Name: "Harbour"},
		{Scope: models.ScopeFund, Code: "F1", Name: "Fund One"},
	},
	Tenants: []models.Tenant{
		{Asset: "ABC1", No: 12, Name: "Bakery"},
		{Asset: "ABC1", No: 3, Name: "Pharmacy"},
	},
}

// SeedRules loads Rules into idx.
func SeedRules(t *testing.T, idx index.Index) {
	t.Helper()
	if err := Rules.Apply(context.Background(), idx, Logger()); err != nil {
		t.Fatal(err)
	}
}
