package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/starford/docintake/internal/apperr"
)

// Supabase signed upload URLs have a fixed lifetime set by the server.
const supabaseUploadTTL = 2 * time.Hour

const supabaseListPage = 1000

// Supabase implements Provider against the Supabase Storage REST API using
// the service role key.
type Supabase struct {
	baseURL    string // https://<project>.supabase.co
	serviceKey string
	httpClient *http.Client
}

// NewSupabase creates a Supabase Storage client.
func NewSupabase(baseURL, serviceKey string) *Supabase {
	return &Supabase{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *Supabase) storageURL(parts ...string) string {
	return s.baseURL + "/storage/v1" + strings.Join(parts, "")
}

func objectPath(bucket, key string) string {
	return "/" + url.PathEscape(bucket) + "/" + escapeKey(key)
}

// SignUpload calls POST /object/upload/sign/{bucket}/{key}. The ttl is
// ignored; Supabase always issues upload URLs valid for two hours.
func (s *Supabase) SignUpload(ctx context.Context, bucket, key string, _ time.Duration) (*SignedURL, error) {
	var resp struct {
		URL string `json:"url"`
	}
	if err := s.do(ctx, http.MethodPost, s.storageURL("/object/upload/sign", objectPath(bucket, key)), struct{}{}, &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, fmt.Errorf("storage: supabase returned no upload url")
	}
	full, err := url.Parse(s.storageURL(resp.URL))
	if err != nil {
		return nil, fmt.Errorf("storage: parse signed url: %w", err)
	}
	return &SignedURL{
		URL:       full.String(),
		Bucket:    bucket,
		Key:       key,
		Token:     full.Query().Get("token"),
		ExpiresAt: time.Now().Add(supabaseUploadTTL),
	}, nil
}

// SignDownload calls POST /object/sign/{bucket}/{key}.
func (s *Supabase) SignDownload(ctx context.Context, bucket, key string, ttl time.Duration) (*SignedURL, error) {
	payload := map[string]int{"expiresIn": int(ttl.Seconds())}
	var resp struct {
		SignedURL string `json:"signedURL"`
	}
	if err := s.do(ctx, http.MethodPost, s.storageURL("/object/sign", objectPath(bucket, key)), payload, &resp); err != nil {
		return nil, err
	}
	if resp.SignedURL == "" {
		return nil, fmt.Errorf("storage: supabase returned no download url")
	}
	return &SignedURL{
		URL:       s.storageURL(resp.SignedURL),
		Bucket:    bucket,
		Key:       key,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

type supabaseObject struct {
	ID        *string   `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
	Metadata  struct {
		Size int64  `json:"size"`
		ETag string `json:"eTag"`
	} `json:"metadata"`
}

// List pages through POST /object/list/{bucket}. Only the bucket root is
// listed; uploads never create nested keys.
func (s *Supabase) List(ctx context.Context, bucket string) ([]Object, error) {
	var out []Object
	for offset := 0; ; offset += supabaseListPage {
		payload := map[string]any{
			"prefix": "",
			"limit":  supabaseListPage,
			"offset": offset,
			"sortBy": map[string]string{"column": "name", "order": "asc"},
		}
		var page []supabaseObject
		if err := s.do(ctx, http.MethodPost, s.storageURL("/object/list/", url.PathEscape(bucket)), payload, &page); err != nil {
			return nil, err
		}
		for _, o := range page {
			if o.ID == nil {
				continue // folder placeholder
			}
			out = append(out, Object{
				Bucket:    bucket,
				Key:       o.Name,
				Size:      o.Metadata.Size,
				Checksum:  strings.Trim(o.Metadata.ETag, `"`),
				UpdatedAt: o.UpdatedAt,
			})
		}
		if len(page) < supabaseListPage {
			return out, nil
		}
	}
}

type supabaseError struct {
	StatusCode string `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func (s *Supabase) do(ctx context.Context, method, u string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("storage: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("storage: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage: supabase request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("storage: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var se supabaseError
		_ = json.Unmarshal(raw, &se)
		msg := se.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		switch {
		case resp.StatusCode == http.StatusNotFound || se.StatusCode == "404":
			return fmt.Errorf("storage: %s: %w", msg, apperr.ErrNotFound)
		case resp.StatusCode == http.StatusConflict || se.StatusCode == "409":
			return fmt.Errorf("storage: %s: %w", msg, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("storage: supabase status %d: %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("storage: decode response: %w", err)
	}
	return nil
}
