package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "governance-test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: "tenant-1",
		Roles:    []string{"admin"},
	}
}

func TestHMACValidator(t *testing.T) {
	v, err := NewHMACValidator(testSecret, "governance-test", 0)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		claims, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, testSecret, validClaims()))
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Subject)
		assert.Equal(t, "tenant-1", claims.TenantID)
		assert.Equal(t, []string{"admin"}, claims.Roles)
	})

	t.Run("expired token", func(t *testing.T) {
		c := validClaims()
		c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, testSecret, c))
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("missing expiry", func(t *testing.T) {
		c := validClaims()
		c.ExpiresAt = nil
		_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, testSecret, c))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, []byte("another-secret-another-secret!!"), validClaims()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("other HMAC algorithm", func(t *testing.T) {
		_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS512, testSecret, validClaims()))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		c := validClaims()
		c.Issuer = "someone-else"
		_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, testSecret, c))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("no subject", func(t *testing.T) {
		c := validClaims()
		c.Subject = ""
		_, err := v.ValidateToken(ctx, sign(t, jwt.SigningMethodHS256, testSecret, c))
		assert.ErrorIs(t, err, ErrMissingSubject)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.ValidateToken(ctx, "not.a.token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestHMACValidator_LeewayAndIssuer(t *testing.T) {
	v, err := NewHMACValidator(testSecret, "", time.Minute)
	require.NoError(t, err)

	c := validClaims()
	c.Issuer = "anyone"
	c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
	_, err = v.ValidateToken(context.Background(), sign(t, jwt.SigningMethodHS256, testSecret, c))
	assert.NoError(t, err)

	_, err = NewHMACValidator(nil, "", 0)
	assert.Error(t, err)
}
