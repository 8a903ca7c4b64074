package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient talks to the storefront authentication endpoints. It holds no
// tokens itself; callers pass the token each call needs.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// TenantID is sent as X-Tenant-ID when set.
	TenantID string

	// Fingerprint, when set, is sent as X-Device-Fingerprint on login and
	// refresh so the backend can bind the session to the device.
	Fingerprint func(ctx context.Context) string
}

// NewSDKClient creates a client with a 10 second request timeout.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}
