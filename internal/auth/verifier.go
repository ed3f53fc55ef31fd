package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/starford/docintake/internal/apperr"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	// Verify returns an error wrapping apperr.ErrUnauthorized for any token
	// it does not accept.
	Verify(ctx context.Context, token string) (Identity, error)
	Close() error
}

// StaticToken accepts exactly one shared token.
type StaticToken struct {
	token string
	id    Identity
}

// NewStaticToken creates a verifier for token. Requests that pass it act as
// userID.
func NewStaticToken(token, userID string) (*StaticToken, error) {
	if token == "" {
		return nil, errors.New("auth: static token is empty")
	}
	return &StaticToken{token: token, id: Identity{UserID: userID}}, nil
}

func (s *StaticToken) Verify(_ context.Context, token string) (Identity, error) {
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return Identity{}, apperr.ErrUnauthorized
	}
	return s.id, nil
}

func (s *StaticToken) Close() error { return nil }

// Claims is the subset of a Supabase access token the service reads.
type Claims struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	Role        string `json:"role"` // "authenticated" or "anon"
	IsAnonymous bool   `json:"is_anonymous"`
}

// JWTVerifier checks Supabase access tokens.
type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	logger  *slog.Logger
}

// NewJWKSVerifier fetches and caches the public keys at jwksURL. keyfunc
// refreshes them in the background until ctx ends.
func NewJWKSVerifier(ctx context.Context, jwksURL string, logger *slog.Logger) (*JWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("auth: JWKS URL cannot be empty")
	}
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("auth: create JWKS client: %w", err)
	}
	logger.Info("auth: JWT verifier initialized", slog.String("jwks_url", jwksURL))
	return NewJWTVerifier(jwks.Keyfunc, logger), nil
}

// NewJWTVerifier verifies tokens with the keys kf returns.
func NewJWTVerifier(kf jwt.Keyfunc, logger *slog.Logger) *JWTVerifier {
	return &JWTVerifier{keyfunc: kf, logger: logger}
}

// Verify accepts RS256 and ES256 tokens of authenticated users only.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		v.logger.Debug("auth: token rejected", slog.Any("error", err))
		return Identity{}, apperr.ErrUnauthorized
	}
	if claims.Subject == "" {
		v.logger.Debug("auth: token missing subject claim")
		return Identity{}, apperr.ErrUnauthorized
	}
	if claims.Role != "authenticated" || claims.IsAnonymous {
		v.logger.Warn("auth: token has invalid role",
			slog.String("role", claims.Role),
			slog.String("user_id", claims.Subject))
		return Identity{}, apperr.ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

// Close is a no-op; keyfunc stops refreshing when its context ends.
func (v *JWTVerifier) Close() error { return nil }
