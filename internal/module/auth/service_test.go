package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, password string) *Service {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return NewService(&Config{
		PasswordHash: string(hash),
		JWT:          &JWTConfig{Secret: "test-secret", Issuer: "clipforge"},
	}, nil)
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, "hunter2")

	t.Run("valid password issues a verifiable token", func(t *testing.T) {
		res, err := svc.Login(ctx, "hunter2")
		require.NoError(t, err)
		assert.Equal(t, "Bearer", res.TokenType)
		assert.NotEmpty(t, res.Token)

		subject, err := svc.VerifyToken(res.Token)
		require.NoError(t, err)
		assert.Equal(t, AdminSubject, subject)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "hunter3")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := svc.VerifyToken("abc")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestService_NotConfigured(t *testing.T) {
	svc := NewService(nil, nil)
	assert.False(t, svc.Enabled())

	_, err := svc.Login(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = svc.VerifyToken("token")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))
}
