package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/corvidwave/foreman/internal/config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
)

// Service authenticates the single operator identity configured in
// Config.Control and issues/validates JWT access tokens. OperatorPassword
// in config is a bcrypt hash, never the plaintext. There is no store of
// registered users; the configured operator is the only identity.
type Service struct {
	cfg          config.ControlConfig
	refreshMutex sync.RWMutex
	refresh      map[string]time.Time
}

// NewService builds an auth Service bound to the daemon's control config.
func NewService(cfg config.ControlConfig) *Service {
	return &Service{
		cfg:     cfg,
		refresh: make(map[string]time.Time),
	}
}

// Login validates operator credentials and issues a token pair.
func (s *Service) Login(req LoginRequest) (*TokenPair, error) {
	if req.Username != s.cfg.OperatorUsername {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.OperatorPassword), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issueTokens()
}

// RefreshToken exchanges a still-valid refresh token for a new pair.
// Refresh tokens are single use: the old one is invalidated immediately.
func (s *Service) RefreshToken(refreshToken string) (*TokenPair, error) {
	s.refreshMutex.Lock()
	expiresAt, exists := s.refresh[refreshToken]
	if exists {
		delete(s.refresh, refreshToken)
	}
	s.refreshMutex.Unlock()

	if !exists {
		return nil, ErrInvalidToken
	}
	if time.Now().After(expiresAt) {
		return nil, ErrExpiredToken
	}

	return s.issueTokens()
}

// Logout invalidates a refresh token so it can no longer be redeemed.
func (s *Service) Logout(refreshToken string) error {
	s.refreshMutex.Lock()
	defer s.refreshMutex.Unlock()

	if _, exists := s.refresh[refreshToken]; !exists {
		return ErrInvalidToken
	}
	delete(s.refresh, refreshToken)
	return nil
}

// ValidateToken parses and verifies an access token, returning its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Type != "access" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) issueTokens() (*TokenPair, error) {
	now := time.Now()
	accessTTL := time.Duration(s.cfg.AccessTokenMinutes) * time.Minute
	refreshTTL := time.Duration(s.cfg.RefreshTokenHours) * time.Hour

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: s.cfg.OperatorUsername,
		Type:     "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})

	accessString, err := access.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshRaw := make([]byte, 32)
	if _, err := rand.Read(refreshRaw); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	refreshString := base64.URLEncoding.EncodeToString(refreshRaw)

	s.refreshMutex.Lock()
	s.refresh[refreshString] = now.Add(refreshTTL)
	s.refreshMutex.Unlock()

	return &TokenPair{
		AccessToken:  accessString,
		RefreshToken: refreshString,
		ExpiresAt:    now.Add(accessTTL),
	}, nil
}

// HashPassword is a small operator-facing helper (wired from a CLI flag in
// cmd/foremand) for producing the operator_password bcrypt hash that goes
// into the config file.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
