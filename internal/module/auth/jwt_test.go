package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultJWTConfig(t *testing.T) {
	config := DefaultJWTConfig()
	assert.Equal(t, 12*time.Hour, config.TokenExpiry)
	assert.Equal(t, "clipforge", config.Issuer)
}

func TestNewJWTManager(t *testing.T) {
	t.Run("creates with custom config", func(t *testing.T) {
		manager := NewJWTManager(&JWTConfig{Secret: "s", TokenExpiry: 30 * time.Minute, Issuer: "x"})
		assert.Equal(t, 30*time.Minute, manager.TokenExpiry())
	})

	t.Run("creates with nil config uses defaults", func(t *testing.T) {
		manager := NewJWTManager(nil)
		assert.Equal(t, 12*time.Hour, manager.TokenExpiry())
	})
}

func TestJWTManager_ValidateToken(t *testing.T) {
	config := &JWTConfig{
		Secret:      "test-secret-key-that-is-long-enough",
		TokenExpiry: 15 * time.Minute,
		Issuer:      "test",
	}
	manager := NewJWTManager(config)

	t.Run("validates valid token", func(t *testing.T) {
		token, expiresAt, err := manager.GenerateToken("admin")
		require.NoError(t, err)
		assert.True(t, expiresAt.After(time.Now()))

		claims, err := manager.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "admin", claims.Subject)
		assert.Equal(t, RoleAdmin, claims.Role)
		assert.Equal(t, "test", claims.Issuer)
	})

	t.Run("rejects invalid token", func(t *testing.T) {
		_, err := manager.ValidateToken("invalid-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects token with wrong secret", func(t *testing.T) {
		other := NewJWTManager(&JWTConfig{Secret: "another-secret", TokenExpiry: time.Minute, Issuer: "test"})
		token, _, err := other.GenerateToken("admin")
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		past := NewJWTManager(config)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := past.GenerateToken("admin")
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects other signing methods", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleAdmin})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = manager.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("rejects tokens without the admin role", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "test", Subject: "admin"},
			Role:             "viewer",
		})
		signed, err := token.SignedString([]byte(config.Secret))
		require.NoError(t, err)

		_, err = manager.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidTokenClaims)
	})
}
