package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo stores authentication details.
type TokenInfo struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// IsExpired checks if the token has expired. A zero expiry never expires.
func (t *TokenInfo) IsExpired() bool {
	return t.ExpiredAt(time.Now())
}

// ExpiredAt reports whether the token is expired at now.
func (t *TokenInfo) ExpiredAt(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// TokenClaims are the claims carried by backend-issued JWTs.
type TokenClaims struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
	ID    string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the identity the fitness endpoints are keyed by.
func (c *TokenClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	if c.ID != "" {
		return c.ID
	}
	return c.Subject
}

// TokenInfoFromClaims builds token details from parsed claims.
func TokenInfoFromClaims(token string, c *TokenClaims) *TokenInfo {
	info := &TokenInfo{
		Token:  token,
		UserID: c.UserID(),
		Email:  c.Email,
	}
	if c.ExpiresAt != nil {
		info.ExpiresAt = c.ExpiresAt.Time
	}
	return info
}
