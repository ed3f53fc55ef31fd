// Package storage defines the object store abstraction.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Object describes one stored object.
type Object struct {
	Bucket    string
	Key       string
	Size      int64
	Checksum  string
	UpdatedAt time.Time
}

// Path returns the storage path "bucket/key".
func (o Object) Path() string {
	return JoinPath(o.Bucket, o.Key)
}

// SignedURL is a time-bounded URL for one object.
type SignedURL struct {
	URL       string    `json:"signedUrl"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"path"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Provider is the interface for object store operations.
type Provider interface {
	// SignUpload mints a write-once URL for bucket/key.
	SignUpload(ctx context.Context, bucket, key string, ttl time.Duration) (*SignedURL, error)
	// SignDownload mints a read URL for an existing object.
	SignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (*SignedURL, error)
	// List returns every object in bucket.
	List(ctx context.Context, bucket string) ([]Object, error)
}

// JoinPath builds a storage path.
func JoinPath(bucket, key string) string {
	return bucket + "/" + key
}

// SplitPath splits "bucket/key" on the first slash.
func SplitPath(p string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("storage: invalid storage path %q", p)
	}
	return bucket, key, nil
}
