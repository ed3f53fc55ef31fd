// Package auth resolves the caller identity of API requests.
//
// Three modes exist: disabled (every request is anonymous), token (one
// static bearer token) and jwt (Supabase access tokens checked against the
// project JWKS).
package auth

import (
	"context"
	"fmt"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeToken    Mode = "token"
	ModeJWT      Mode = "jwt"
)

// ParseMode validates a configured mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDisabled, ModeToken, ModeJWT:
		return m, nil
	case "":
		return ModeDisabled, nil
	}
	return "", fmt.Errorf("auth: unknown mode %q", s)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Anonymous reports whether the identity carries neither id nor email.
func (i Identity) Anonymous() bool {
	return i.UserID == "" && i.Email == ""
}

type contextKey string

const identityKey contextKey = "identity"

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by the middleware, or the zero
// (anonymous) identity.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}
