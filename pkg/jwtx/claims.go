package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultAccessTokenTTL is the default lifetime for storefront access tokens.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// Claims are the storefront access-token claims. Fields are additive so older
// tokens keep decoding.
type Claims struct {
	jwt.RegisteredClaims

	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	// DeviceID binds the token to the fingerprint of the device it was
	// issued to. Bound tokens are refused client-side on a high risk device.
	DeviceID string `json:"device_id,omitempty"`

	// SessionID identifies the backend session (and refresh token family).
	SessionID string `json:"session_id,omitempty"`

	TenantID string `json:"tenant_id,omitempty"`
}

// AccessClaimsParams groups the inputs of NewAccessClaims.
type AccessClaimsParams struct {
	Subject     string
	Email       string
	Role        string
	Permissions []string
	DeviceID    string
	SessionID   string
	TenantID    string
	Issuer      string
	Audience    []string
	TTL         time.Duration
	Now         time.Time
}

// NewAccessClaims builds minimally-correct claims.
func NewAccessClaims(p AccessClaimsParams) Claims {
	ttl := p.TTL
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}

	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.Issuer,
			Subject:   p.Subject,
			Audience:  jwt.ClaimStrings(p.Audience),
			IssuedAt:  jwt.NewNumericDate(p.Now),
			NotBefore: jwt.NewNumericDate(p.Now),
			ExpiresAt: jwt.NewNumericDate(p.Now.Add(ttl)),
			ID:        NewJTI(),
		},
		Email:       p.Email,
		Role:        p.Role,
		Permissions: p.Permissions,
		DeviceID:    p.DeviceID,
		SessionID:   p.SessionID,
		TenantID:    p.TenantID,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// HasPermission reports whether p is among the granted permissions.
func (c *Claims) HasPermission(p string) bool {
	return slices.Contains(c.Permissions, p)
}

// HasRole reports whether the token carries role r.
func (c *Claims) HasRole(r string) bool {
	return r != "" && c.Role == r
}

// ExpiresAtTime returns the exp claim, or false when the token has none.
func (c *Claims) ExpiresAtTime() (time.Time, bool) {
	if c.ExpiresAt == nil {
		return time.Time{}, false
	}
	return c.ExpiresAt.Time, true
}

// TimeToExpiry is exp minus now. ok is false when the token has no exp.
func (c *Claims) TimeToExpiry(now time.Time) (tte time.Duration, ok bool) {
	exp, ok := c.ExpiresAtTime()
	if !ok {
		return 0, false
	}
	return exp.Sub(now), true
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't before nbf
// at the given instant.
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}
