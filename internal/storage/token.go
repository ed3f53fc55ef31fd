package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Blob operations a token can grant.
const (
	OpUpload   = "upload"
	OpDownload = "download"
)

// ErrInvalidToken is returned for tokens that fail verification or do not
// grant the requested operation.
var ErrInvalidToken = errors.New("storage: invalid blob token")

// BlobClaims scopes a token to one operation on one object.
type BlobClaims struct {
	Op     string `json:"op"`
	Bucket string `json:"bkt"`
	Key    string `json:"key"`
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies HS256 blob tokens.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner creates a signer. The secret must not be empty.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("storage: signing secret is empty")
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}, nil
}

// Mint returns a token for op on bucket/key valid for ttl.
func (s *TokenSigner) Mint(op, bucket, key string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(ttl)
	claims := BlobClaims{
		Op:     op,
		Bucket: bucket,
		Key:    key,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: sign token: %w", err)
	}
	return tok, exp, nil
}

// Verify checks tok and that it grants op on bucket/key.
func (s *TokenSigner) Verify(tok, op, bucket, key string) error {
	var claims BlobClaims
	_, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Op != op || claims.Bucket != bucket || claims.Key != key {
		return ErrInvalidToken
	}
	return nil
}
