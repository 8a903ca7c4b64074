package authsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *SDKClient {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewSDKClient(srv.URL + "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestRefresh(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/refresh", r.URL.Path)
		require.Equal(t, "Bearer r1", r.Header.Get("Authorization"))
		require.Equal(t, "fp-hash", r.Header.Get(HeaderFingerprint))
		require.Equal(t, "acme", r.Header.Get(HeaderTenantID))

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "a.b.c",
			"refresh_token": "r2",
			"expires_in":    900,
		})
	})
	client.TenantID = "acme"
	client.Fingerprint = func(context.Context) string { return "fp-hash" }

	tokens, err := client.Refresh(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "a.b.c", tokens.AccessToken)
	assert.Equal(t, "r2", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	now := time.Unix(1_700_000_000, 0)
	assert.Equal(t, now.Add(15*time.Minute), tokens.ExpiresAt(now))
}

func TestRefreshRequiresAccessToken(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"refresh_token": "r2"})
	})

	_, err := client.Refresh(context.Background(), "r1")
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.Contains(t, err.Error(), "access_token")

	_, err = client.Refresh(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    any
		code    string
		message string
	}{
		{"message", http.StatusUnauthorized, map[string]string{"code": "invalid_token", "message": "refresh token revoked"}, "invalid_token", "refresh token revoked"},
		{"oauth style", http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "expired"}, "invalid_grant", "expired"},
		{"no body", http.StatusBadGateway, nil, "", "Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.body == nil {
					w.WriteHeader(tt.status)
					return
				}
				writeJSON(w, tt.status, tt.body)
			})

			_, err := client.Refresh(context.Background(), "r1")

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.status == http.StatusUnauthorized, IsUnauthorized(err))
		})
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))

		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "hunter2" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid credentials"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "a.b.c",
			"refresh_token": "r1",
			"token_expiry":  "2023-11-14T23:13:20Z",
			"customer":      map[string]any{"id": "c1", "email": req.Email, "email_verified": true},
		})
	})

	tokens, err := client.Login(context.Background(), "kim@example.com", "hunter2")
	require.NoError(t, err)
	require.NotNil(t, tokens.Customer)
	assert.Equal(t, "kim@example.com", tokens.Customer.Email)
	assert.True(t, tokens.Customer.EmailVerified)
	assert.Equal(t, time.Unix(1_700_003_600, 0).UTC(), tokens.ExpiresAt(time.Now()).UTC())

	_, err = client.Login(context.Background(), "kim@example.com", "wrong")
	assert.True(t, IsUnauthorized(err))

	_, err = client.Login(context.Background(), "not-an-email", "hunter2")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestLogoutAndMe(t *testing.T) {
	t.Parallel()

	var revoked string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer a.b.c" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "missing token"})
			return
		}

		switch r.URL.Path {
		case "/api/auth/logout":
			var req LogoutRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			revoked = req.RefreshToken
			w.WriteHeader(http.StatusNoContent)
		case "/api/auth/me":
			writeJSON(w, http.StatusOK, map[string]any{"id": "c1", "email": "kim@example.com"})
		default:
			http.NotFound(w, r)
		}
	})

	customer, err := client.Me(context.Background(), "a.b.c")
	require.NoError(t, err)
	assert.Equal(t, "c1", customer.ID)

	require.NoError(t, client.Logout(context.Background(), "a.b.c", "r1"))
	assert.Equal(t, "r1", revoked)

	assert.True(t, IsUnauthorized(client.Logout(context.Background(), "", "r1")))
}

func TestExpiryDecoding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2023-11-14T22:13:20Z"`, time.Unix(1_700_000_000, 0)},
		{`"2023-11-14T22:13:20.5Z"`, time.Unix(1_700_000_000, 500_000_000)},
		{`1700000000`, time.Unix(1_700_000_000, 0)},
		{`1700000000000`, time.UnixMilli(1_700_000_000_000)},
		{`"1700000000000"`, time.UnixMilli(1_700_000_000_000)},
		{`null`, time.Time{}},
		{`""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var e Expiry
			require.NoError(t, json.Unmarshal([]byte(tt.in), &e))
			assert.True(t, tt.want.Equal(e.Time), "got %v", e.Time)
		})
	}

	var e Expiry
	require.Error(t, json.Unmarshal([]byte(`"tomorrow"`), &e))
	require.Error(t, json.Unmarshal([]byte(`-5`), &e))
}

func TestExpiresAtPrefersAbsoluteExpiry(t *testing.T) {
	t.Parallel()

	abs := time.Unix(1_700_000_000, 0)
	r := TokenResponse{ExpiresIn: 60, TokenExpiry: Expiry{abs}}
	assert.Equal(t, abs, r.ExpiresAt(time.Now()))

	assert.True(t, (&TokenResponse{}).ExpiresAt(time.Now()).IsZero())
}
