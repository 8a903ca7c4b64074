/*
Package authsdk is a client for the storefront authentication endpoints.

# Overview

SDKClient wraps the four calls the session core needs. It is stateless:
tokens are owned by the token store and passed in per call.

	client := authsdk.NewSDKClient("https://shop.example.com")
	client.TenantID = "acme"

	tokens, err := client.Login(ctx, "kim@example.com", "hunter2")
	tokens, err = client.Refresh(ctx, tokens.RefreshToken)
	customer, err := client.Me(ctx, tokens.AccessToken)
	err = client.Logout(ctx, tokens.AccessToken, tokens.RefreshToken)

# Endpoints

  - POST /api/auth/login: JSON {email, password}
  - POST /api/auth/refresh: refresh token as the bearer credential
  - POST /api/auth/logout: access token as bearer, JSON {refresh_token}
  - GET /api/auth/me: access token as bearer

Login and refresh send X-Device-Fingerprint when SDKClient.Fingerprint is
set, which lets the backend stamp a device_id claim on the access token.

# Token Expiry

Backends report expiry either as a relative expires_in (seconds) or as an
absolute token_expiry. token_expiry may be an RFC 3339 string, epoch
seconds or epoch milliseconds. Use TokenResponse.ExpiresAt with the time
the response was received to get one absolute value.

# Error Handling

Non-2xx responses are returned as *APIError carrying the status code and
the backend's message:

	tokens, err := client.Refresh(ctx, refresh)
	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		// refresh token revoked or rotated elsewhere
	}

A 2xx response without an access token fails with ErrInvalidResponse.
*/
package authsdk
