// Package auth implements the bearer-token guard in front of the control
// surface. There is exactly one operator identity per deployment,
// configured in Config.Control; this is not a multi-user accounts system.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest authenticates the single configured operator.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// AuthResponse is returned from login and refresh.
type AuthResponse struct {
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Username     string    `json:"username"`
}

// Claims is the JWT payload for an access token.
type Claims struct {
	Username string `json:"username"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// TokenPair is an access/refresh token issued at login or refresh time.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}
