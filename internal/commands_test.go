package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/docintake/internal/index"
	"github.com/starford/docintake/internal/naming"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Storage.SigningSecret = "secret"
	cfg.Storage.FS.Root = filepath.Join(dir, "store")
	cfg.Index.SQLite.Path = filepath.Join(dir, "index.db")
	return cfg
}

func writeObject(t *testing.T, cfg *Config, bucket, key string) {
	t.Helper()
	p := filepath.Join(cfg.Storage.FS.Root, bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeCommand(t *testing.T) {
	var out bytes.Buffer
	if err := Decode("inbox/m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1).pdf", WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var d naming.Decoded
	if err := json.Unmarshal(out.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Scheme != naming.SchemeTagCodec || d.Fields.Identifier != "ABC1" || d.Fields.Ext != "pdf" {
		t.Errorf("decoded = %+v", d)
	}

	if err := Decode("notes.txt", WithOutput(io.Discard)); err == nil {
		t.Error("expected error for unrecognized name")
	}
}

func TestReindexCommand(t *testing.T) {
	cfg := testConfig(t)
	writeObject(t, cfg, "inbox", "m(ttype=1.2)(tname=Lease)(tscope=asset)(tasset=ABC1)(tdate=2024-03).pdf")
	writeObject(t, cfg, "docs", "1.7.1.12_2023-01-01_ABC1.pdf")
	writeObject(t, cfg, "misc", "holiday photo.jpg")

	var out bytes.Buffer
	if err := Reindex(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	var stats index.SyncStats
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatalf("%v: %s", err, out.String())
	}
	if stats.Indexed != 3 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}

	out.Reset()
	if err := Reindex(context.Background(), WithConfig(cfg), WithLogOutput(io.Discard), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 0 || stats.Unchanged != 3 {
		t.Errorf("second pass stats = %+v", stats)
	}
}

func TestSeedCommand(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "seed.yaml")
	seed := `types:
  - {type: "1.2", name: Lease, requires_asset: true}
identifiers:
  - {scope: asset, code: " abc1 ", name: Main Street 1}
tenants:
  - {asset: ABC1, tenant_no: 12, tenant_name: Bakery}
`
	if err := os.WriteFile(path, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Seed(context.Background(), path, WithConfig(cfg), WithLogOutput(io.Discard)); err != nil {
		t.Fatal(err)
	}

	db, err := index.OpenSQLite(cfg.Index.SQLite.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	rule, err := db.TypeRule(context.Background(), "1.2")
	if err != nil || rule.Name != "Lease" || !rule.RequiresAsset {
		t.Errorf("rule = %+v, %v", rule, err)
	}
	tenants, err := db.ListTenants(context.Background(), "ABC1")
	if err != nil || len(tenants) != 1 {
		t.Errorf("tenants = %+v, %v", tenants, err)
	}
}

func TestSetupRequiresConfig(t *testing.T) {
	if err := Reindex(context.Background(), WithLogOutput(io.Discard)); err == nil {
		t.Fatal("expected error without config")
	}
}
