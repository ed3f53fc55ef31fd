package auth

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

// MinPasswordLength is the shortest password SetPassword accepts.
const MinPasswordLength = 8

// AdminClient calls the Supabase Auth admin API with the service role key.
type AdminClient struct {
	supabaseURL string
	serviceKey  string
	httpClient  *http.Client
}

// NewAdminClient creates a new Supabase Admin API client.
func NewAdminClient(supabaseURL, serviceKey string) *AdminClient {
	return &AdminClient{
		supabaseURL: strings.TrimRight(supabaseURL, "/"),
		serviceKey:  serviceKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AdminUser is the part of an auth user record the service reads.
type AdminUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type listUsersResponse struct {
	Users []AdminUser `json:"users"`
}

// FindUserByEmail pages through the user list looking for email.
func (c *AdminClient) FindUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for page := 1; page <= 50; page++ {
		u := fmt.Sprintf("%s/auth/v1/admin/users?page=%d&per_page=200", c.supabaseURL, page)
		var resp listUsersResponse
		if err := c.do(ctx, http.MethodGet, u, nil, &resp); err != nil {
			return nil, err
		}
		for _, user := range resp.Users {
			if strings.ToLower(user.Email) == email {
				return &user, nil
			}
		}
		if len(resp.Users) < 200 {
			break
		}
	}
	return nil, fmt.Errorf("auth: user %q: %w", email, apperr.ErrNotFound)
}

// UpdateUserPassword sets the password of userID.
func (c *AdminClient) UpdateUserPassword(ctx context.Context, userID, password string) error {
	if len(password) < MinPasswordLength {
		return apperr.InvalidFormat("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	u := fmt.Sprintf("%s/auth/v1/admin/users/%s", c.supabaseURL, url.PathEscape(userID))
	return c.do(ctx, http.MethodPut, u, map[string]string{"password": password}, nil)
}

// SetPassword resolves email to a user and updates their password.
func (c *AdminClient) SetPassword(ctx context.Context, email, password string) error {
	if len(password) < MinPasswordLength {
		return apperr.InvalidFormat("password", fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	user, err := c.FindUserByEmail(ctx, email)
	if err != nil {
		return err
	}
	return c.UpdateUserPassword(ctx, user.ID, password)
}

func (c *AdminClient) do(ctx context.Context, method, u string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("auth: marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("auth: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("apikey", c.serviceKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("auth: %s: %w", req.URL.Path, apperr.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("auth: %s %s failed with status %d: %s", method, req.URL.Path, resp.StatusCode, string(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("auth: decode response: %w", err)
		}
	}
	return nil
}
