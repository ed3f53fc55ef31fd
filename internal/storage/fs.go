package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/starford/docintake/internal/apperr"
	"github.com/starford/docintake/internal/checksum"
)

const tmpPrefix = ".docintake-tmp-"

// FS implements Provider backed by the local file system. Every bucket is a
// directory under root; signed URLs point at this service's /blob endpoint.
type FS struct {
	root    string // absolute path to the store directory
	baseURL string
	tokens  *TokenSigner
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root, baseURL string, tokens *TokenSigner) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs, baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens}, nil
}

// Root returns the absolute store directory.
func (f *FS) Root() string { return f.root }

// Tokens returns the signer used for blob URLs.
func (f *FS) Tokens() *TokenSigner { return f.tokens }

// BucketDir returns the directory backing bucket, creating it if needed.
func (f *FS) BucketDir(bucket string) (string, error) {
	dir, err := f.safePath(bucket, "")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir bucket: %w", err)
	}
	return dir, nil
}

// safePath resolves bucket/key against the root and rejects any result that
// escapes it (directory traversal).
func (f *FS) safePath(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", fmt.Errorf("storage: invalid bucket: %q", bucket)
	}
	base := filepath.Join(f.root, bucket)
	if key == "" {
		return base, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", key)
	}
	abs, err := filepath.Abs(filepath.Join(base, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under the bucket.
	if !strings.HasPrefix(abs, base+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes bucket: %s", key)
	}
	return abs, nil
}

// SignUpload mints a URL for PUT /blob/{bucket}/{key}. The key must not exist yet.
func (f *FS) SignUpload(_ context.Context, bucket, key string, ttl time.Duration) (*SignedURL, error) {
	abs, err := f.safePath(bucket, key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err == nil {
		return nil, fmt.Errorf("storage: %s: %w", JoinPath(bucket, key), apperr.ErrAlreadyExists)
	}
	return f.sign(OpUpload, bucket, key, ttl)
}

// SignDownload mints a URL for GET /blob/{bucket}/{key}.
func (f *FS) SignDownload(_ context.Context, bucket, key string, ttl time.Duration) (*SignedURL, error) {
	abs, err := f.safePath(bucket, key)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", JoinPath(bucket, key), apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: stat: %w", err)
	}
	return f.sign(OpDownload, bucket, key, ttl)
}

func (f *FS) sign(op, bucket, key string, ttl time.Duration) (*SignedURL, error) {
	tok, exp, err := f.tokens.Mint(op, bucket, key, ttl)
	if err != nil {
		return nil, err
	}
	u := f.baseURL + "/blob/" + url.PathEscape(bucket) + "/" + escapeKey(key) + "?token=" + url.QueryEscape(tok)
	return &SignedURL{URL: u, Bucket: bucket, Key: key, Token: tok, ExpiresAt: exp}, nil
}

// List walks bucket and returns every object in it.
func (f *FS) List(_ context.Context, bucket string) ([]Object, error) {
	base, err := f.BucketDir(bucket)
	if err != nil {
		return nil, err
	}
	var out []Object
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		obj, err := f.stat(bucket, base, p)
		if err != nil {
			return err
		}
		out = append(out, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Stat returns the object stored at bucket/key.
func (f *FS) Stat(bucket, key string) (Object, error) {
	abs, err := f.safePath(bucket, key)
	if err != nil {
		return Object{}, err
	}
	return f.stat(bucket, filepath.Join(f.root, bucket), abs)
}

// Locate maps an absolute file path back to its bucket and key.
func (f *FS) Locate(abs string) (bucket, key string, ok bool) {
	rel, err := filepath.Rel(f.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	bucket, key, ok = strings.Cut(filepath.ToSlash(rel), "/")
	if !ok || key == "" || strings.HasPrefix(filepath.Base(key), tmpPrefix) {
		return "", "", false
	}
	return bucket, key, true
}

func (f *FS) stat(bucket, base, abs string) (Object, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return Object{}, err
	}
	sum, err := checksum.File(abs)
	if err != nil {
		return Object{}, err
	}
	rel, _ := filepath.Rel(base, abs)
	return Object{
		Bucket:    bucket,
		Key:       filepath.ToSlash(rel),
		Size:      info.Size(),
		Checksum:  sum,
		UpdatedAt: info.ModTime(),
	}, nil
}

// Put writes r to bucket/key: tmp file → fsync → hard link. The link fails
// when the key already exists, so an object is never overwritten.
func (f *FS) Put(bucket, key string, r io.Reader) (Object, error) {
	abs, err := f.safePath(bucket, key)
	if err != nil {
		return Object{}, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Object{}, fmt.Errorf("storage: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return Object{}, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return Object{}, fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return Object{}, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Link(tmpName, abs); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Object{}, fmt.Errorf("storage: %s: %w", JoinPath(bucket, key), apperr.ErrAlreadyExists)
		}
		return Object{}, fmt.Errorf("storage: link: %w", err)
	}
	return f.Stat(bucket, key)
}

// Open opens bucket/key for reading.
func (f *FS) Open(bucket, key string) (*os.File, error) {
	abs, err := f.safePath(bucket, key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: %s: %w", JoinPath(bucket, key), apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	return file, nil
}

// Delete removes bucket/key.
func (f *FS) Delete(bucket, key string) error {
	abs, err := f.safePath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", JoinPath(bucket, key), err)
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
