package authsdk

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ============================================================================
// Internal Response Types (used for JSON unmarshaling)
// ============================================================================

// ErrorResponse covers the error body shapes the backend uses: a
// {code, message} pair or an OAuth2 style {error, error_description}.
type ErrorResponse struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ============================================================================
// Token Types
// ============================================================================

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token" validate:"required"`

	// RefreshToken is empty when the backend did not rotate it.
	RefreshToken string `json:"refresh_token,omitempty"`

	TokenType string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty" validate:"gte=0"`

	// TokenExpiry is an absolute expiry some deployments send instead of
	// ExpiresIn. It wins when both are present.
	TokenExpiry Expiry `json:"token_expiry,omitempty"`

	Customer *Customer `json:"customer,omitempty" validate:"omitempty"`
}

// ExpiresAt derives the absolute access token expiry relative to the moment
// the response was received. The zero time means the backend sent neither
// field.
func (r *TokenResponse) ExpiresAt(receivedAt time.Time) time.Time {
	if !r.TokenExpiry.IsZero() {
		return r.TokenExpiry.Time
	}
	if r.ExpiresIn > 0 {
		return receivedAt.Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return time.Time{}
}

// Expiry decodes an RFC 3339 string, epoch seconds or epoch milliseconds.
// Numbers above 1e12 are taken as milliseconds.
type Expiry struct {
	time.Time
}

const epochMillisThreshold = 1e12

func (e *Expiry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		e.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			e.Time = time.Time{}
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			e.Time = t
			return nil
		}
		data = []byte(s)
	}

	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return fmt.Errorf("authsdk: invalid token_expiry %s", data)
	}

	if n > epochMillisThreshold {
		e.Time = time.UnixMilli(int64(n))
	} else {
		e.Time = time.Unix(int64(n), 0)
	}
	return nil
}

func (e Expiry) MarshalJSON() ([]byte, error) {
	if e.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(e.UTC().Format(time.RFC3339Nano))
}

// LogoutRequest is the body of POST /api/auth/logout.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ============================================================================
// Customer Types
// ============================================================================

// Customer is the profile returned with login and by GET /api/auth/me.
type Customer struct {
	ID            string `json:"id" validate:"required"`
	Email         string `json:"email" validate:"required"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	PhoneVerified bool   `json:"phone_verified"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse is returned by /livez.
type HealthResponse struct {
	// Status indicates the overall health status (e.g., "ok")
	Status string `json:"status"`

	// Uptime is the service uptime duration as a string (e.g., "1h23m45s")
	Uptime string `json:"uptime,omitempty"`

	// Version is the service version string
	Version string `json:"version,omitempty"`
}
