// Package auth guards administrative endpoints with a single operator
// password and short-lived bearer tokens.
package auth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AdminSubject is the token subject of the operator.
const AdminSubject = "admin"

// Config contains service configuration.
type Config struct {
	// PasswordHash is the bcrypt hash of the operator password.
	PasswordHash string
	JWT          *JWTConfig
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Service checks operator credentials and issues tokens.
type Service struct {
	hash   []byte
	jwt    *JWTManager
	logger *zap.Logger
}

// NewService creates a new auth service.
func NewService(config *Config, logger *zap.Logger) *Service {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		hash:   []byte(config.PasswordHash),
		jwt:    NewJWTManager(config.JWT),
		logger: logger.Named("auth"),
	}
}

// Enabled reports whether a password hash and signing secret are set.
func (s *Service) Enabled() bool {
	return len(s.hash) > 0 && s.jwt.config.Secret != ""
}

// Login verifies password and issues an admin token.
func (s *Service) Login(_ context.Context, password string) (*LoginResult, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(password)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Error("failed to compare admin password", zap.Error(err))
		}
		s.logger.Warn("rejected admin login")
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.jwt.GenerateToken(AdminSubject)
	if err != nil {
		return nil, err
	}
	s.logger.Info("admin logged in", zap.Time("expires_at", expiresAt))
	return &LoginResult{Token: token, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// VerifyToken validates token and returns its subject.
func (s *Service) VerifyToken(token string) (string, error) {
	if !s.Enabled() {
		return "", ErrNotConfigured
	}
	claims, err := s.jwt.ValidateToken(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// HashPassword returns the bcrypt hash to put in configuration.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
