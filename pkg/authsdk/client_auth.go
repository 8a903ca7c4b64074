package authsdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidRequest is returned before any network call when the request is
// missing required fields.
var ErrInvalidRequest = errors.New("authsdk: invalid request")

// Login exchanges customer credentials for a token pair.
func (c *SDKClient) Login(ctx context.Context, email, password string) (*TokenResponse, error) {
	body := LoginRequest{Email: email, Password: password}
	if err := validate.Struct(body); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, describe(err))
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/login", body, c.deviceHeaders(ctx, ""))
	if err != nil {
		return nil, err
	}

	return c.decodeTokens(resp)
}

// Refresh exchanges a refresh token for a new pair. The refresh token is sent
// as the bearer credential.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: empty refresh token", ErrInvalidRequest)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/refresh", nil, c.deviceHeaders(ctx, refreshToken))
	if err != nil {
		return nil, err
	}

	return c.decodeTokens(resp)
}

// Logout revokes the session on the backend. Callers treat failures as
// best effort; local state is cleared regardless.
func (c *SDKClient) Logout(ctx context.Context, accessToken, refreshToken string) error {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/auth/logout",
		LogoutRequest{RefreshToken: refreshToken}, authHeaders(accessToken))
	if err != nil {
		return err
	}

	return checkStatusOK(resp)
}

// Me fetches the profile of the customer the access token belongs to.
func (c *SDKClient) Me(ctx context.Context, accessToken string) (*Customer, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/auth/me", nil, authHeaders(accessToken))
	if err != nil {
		return nil, err
	}

	var customer Customer
	if err := decodeJSON(resp, &customer, http.StatusOK); err != nil {
		return nil, err
	}
	if err := validateResponse(&customer); err != nil {
		return nil, err
	}

	return &customer, nil
}

func (c *SDKClient) decodeTokens(resp *http.Response) (*TokenResponse, error) {
	var tokens TokenResponse
	if err := decodeJSON(resp, &tokens, http.StatusOK); err != nil {
		return nil, err
	}
	if err := validateResponse(&tokens); err != nil {
		return nil, err
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}

	return &tokens, nil
}
