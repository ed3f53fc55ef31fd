package storage

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/checksum"
)

func tempStore(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	tokens, err := NewTokenSigner("test-secret")
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	fs, err := NewFS(dir, "http://localhost:8080/", tokens)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return fs
}

func TestPutAndOpen(t *testing.T) {
	s := tempStore(t)
	obj, err := s.Put("inbox", "m(ttype=1.2).pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if obj.Checksum != checksum.Sum([]byte("%PDF-1.4")) || obj.Size != 8 {
		t.Errorf("object = %+v", obj)
	}
	f, err := s.Open("inbox", "m(ttype=1.2).pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "%PDF-1.4" {
		t.Errorf("content = %q", data)
	}
}

func TestPutIsWriteOnce(t *testing.T) {
	s := tempStore(t)
	if _, err := s.Put("inbox", "a.pdf", strings.NewReader("one")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_, err := s.Put("inbox", "a.pdf", strings.NewReader("two"))
	if !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("second Put err = %v, want ErrAlreadyExists", err)
	}
	f, _ := s.Open("inbox", "a.pdf")
	defer f.Close()
	data, _ := io.ReadAll(f)
	if string(data) != "one" {
		t.Errorf("object was overwritten: %q", data)
	}
	entries, _ := os.ReadDir(filepath.Join(s.Root(), "inbox"))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestPathTraversalBlocked(t *testing.T) {
	s := tempStore(t)
	for _, key := range []string{"../../etc/passwd", "../other/x.pdf", "/abs.pdf"} {
		if _, err := s.Put("inbox", key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) should fail", key)
		}
	}
	if _, err := s.Put("..", "x.pdf", strings.NewReader("x")); err == nil {
		t.Error("bucket traversal should fail")
	}
}

func TestSignUploadRefusesExisting(t *testing.T) {
	s := tempStore(t)
	ctx := context.Background()
	if _, err := s.SignUpload(ctx, "inbox", "a.pdf", time.Minute); err != nil {
		t.Fatalf("SignUpload: %v", err)
	}
	_, _ = s.Put("inbox", "a.pdf", strings.NewReader("x"))
	if _, err := s.SignUpload(ctx, "inbox", "a.pdf", time.Minute); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestSignedURLCarriesVerifiableToken(t *testing.T) {
	s := tempStore(t)
	key := "m(tname=Lease%20x).pdf"
	su, err := s.SignUpload(context.Background(), "inbox", key, time.Minute)
	if err != nil {
		t.Fatalf("SignUpload: %v", err)
	}
	u, err := url.Parse(su.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if u.Host != "localhost:8080" || u.Path != "/blob/inbox/"+key {
		t.Errorf("url = %s (path %q)", su.URL, u.Path)
	}
	tok := u.Query().Get("token")
	if err := s.Tokens().Verify(tok, OpUpload, "inbox", key); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := s.Tokens().Verify(tok, OpDownload, "inbox", key); err == nil {
		t.Error("upload token must not grant download")
	}
	if err := s.Tokens().Verify(tok, OpUpload, "inbox", "other.pdf"); err == nil {
		t.Error("token must be bound to its key")
	}
}

func TestSignDownloadMissing(t *testing.T) {
	s := tempStore(t)
	_, err := s.SignDownload(context.Background(), "inbox", "nope.pdf", time.Minute)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := tempStore(t)
	_, _ = s.Put("inbox", "a.pdf", strings.NewReader("a"))
	_, _ = s.Put("inbox", "b.png", strings.NewReader("b"))
	_, _ = s.Put("misc", "c.pdf", strings.NewReader("c"))
	dir, _ := s.BucketDir("inbox")
	_ = os.WriteFile(filepath.Join(dir, tmpPrefix+"123"), []byte("partial"), 0o644)

	objs, err := s.List(context.Background(), "inbox")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(objs), objs)
	}
	for _, o := range objs {
		if o.Bucket != "inbox" || o.Checksum == "" {
			t.Errorf("object = %+v", o)
		}
	}
}

func TestLocate(t *testing.T) {
	s := tempStore(t)
	bucket, key, ok := s.Locate(filepath.Join(s.Root(), "inbox", "x.pdf"))
	if !ok || bucket != "inbox" || key != "x.pdf" {
		t.Errorf("Locate = %q %q %v", bucket, key, ok)
	}
	if _, _, ok := s.Locate(filepath.Join(s.Root(), "inbox", tmpPrefix+"1")); ok {
		t.Error("temp files must not be located")
	}
	if _, _, ok := s.Locate(filepath.Join(s.Root(), "inbox")); ok {
		t.Error("bucket directory is not an object")
	}
}

func TestSplitPath(t *testing.T) {
	b, k, err := SplitPath("inbox/a/b.pdf")
	if err != nil || b != "inbox" || k != "a/b.pdf" {
		t.Errorf("SplitPath = %q %q %v", b, k, err)
	}
	for _, bad := range []string{"", "inbox", "inbox/", "/x"} {
		if _, _, err := SplitPath(bad); err == nil {
			t.Errorf("SplitPath(%q) should fail", bad)
		}
	}
}

func TestTokenExpiry(t *testing.T) {
	signer, _ := NewTokenSigner("k")
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	signer.now = func() time.Time { return base }
	tok, _, err := signer.Mint(OpDownload, "inbox", "a.pdf", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	signer.now = func() time.Time { return base.Add(2 * time.Minute) }
	if err := signer.Verify(tok, OpDownload, "inbox", "a.pdf"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v", err)
	}
}
