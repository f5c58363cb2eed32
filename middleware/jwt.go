package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when the token is malformed or badly signed
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when the token has expired
	ErrTokenExpired = errors.New("token expired")

	// ErrMissingSubject is returned when the token names no principal
	ErrMissingSubject = errors.New("token has no subject")
)

// HMACValidator validates HS256 tokens signed with a shared secret
type HMACValidator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewHMACValidator creates a validator. An empty issuer accepts any issuer.
func NewHMACValidator(secret []byte, issuer string, leeway time.Duration) (*HMACValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	return &HMACValidator{secret: secret, issuer: issuer, leeway: leeway}, nil
}

// ValidateToken parses and verifies tokenString
func (v *HMACValidator) ValidateToken(_ context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return claims, nil
}
