// Package http exposes the dev backend's storefront auth endpoints.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/sessionguard/internal/devauth/service"
	"github.com/aussiebroadwan/sessionguard/pkg/authsdk"
	"github.com/aussiebroadwan/sessionguard/pkg/httpx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

const maxBodyBytes = 1 << 16

type AuthHandler struct {
	AuthService *service.AuthService
}

// HandleLogin exchanges email and password for a token pair.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req authsdk.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	pair, customer, err := h.AuthService.Login(ctx, req.Email, req.Password, r.Header.Get(authsdk.HeaderFingerprint))
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		log.Info("login rejected")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
		return
	case err != nil:
		log.Error("login failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	log.Info("customer logged in", "customer_id", customer.ID, "device", slogx.Short(r.Header.Get(authsdk.HeaderFingerprint)))

	resp := tokenResponse(pair)
	resp.Customer = toCustomer(customer)
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleRefresh rotates the refresh token presented as the bearer credential.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	refresh, ok := httpx.BearerToken(r)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "missing refresh token")
		return
	}

	pair, err := h.AuthService.Refresh(ctx, refresh, r.Header.Get(authsdk.HeaderFingerprint))
	switch {
	case errors.Is(err, service.ErrInvalidRefresh):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Refresh token is invalid or expired")
		return
	case errors.Is(err, service.ErrDeviceMismatch):
		log.Warn("refresh from a different device refused")
		httpx.WriteError(w, http.StatusUnauthorized, "device_mismatch", "Refresh token was issued to another device")
		return
	case err != nil:
		log.Error("refresh failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleLogout revokes the refresh token named in the body.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req authsdk.LogoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
			return
		}
	}

	if err := h.AuthService.Logout(ctx, req.RefreshToken); err != nil {
		slogx.FromContext(ctx).Error("logout failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleMe returns the profile of the authenticated customer.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := httpx.ClaimsFromContext(ctx)
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "missing claims")
		return
	}

	customer, err := h.AuthService.CustomerByID(ctx, claims.Subject)
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Customer not found")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, toCustomer(customer))
}

func tokenResponse(pair *service.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(pair.ExpiresIn.Seconds()),
		TokenExpiry:  authsdk.Expiry{Time: pair.ExpiresAt},
	}
}

func toCustomer(c service.Customer) *authsdk.Customer {
	return &authsdk.Customer{
		ID:            c.ID,
		Email:         c.Email,
		FirstName:     c.FirstName,
		LastName:      c.LastName,
		Phone:         c.Phone,
		EmailVerified: c.EmailVerified,
		PhoneVerified: c.PhoneVerified,
	}
}
