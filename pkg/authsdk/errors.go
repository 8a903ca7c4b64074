package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidResponse is returned when a 2xx response lacks required fields.
var ErrInvalidResponse = errors.New("authsdk: invalid response")

// ============================================================================
// APIError - non-2xx responses
// ============================================================================

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authsdk: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("authsdk: %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// ============================================================================
// Error Parsing Helpers
// ============================================================================

// parseErrorResponse turns a non-2xx response into an *APIError. The message
// comes from "message", then "error_description", then the status text.
// Returns nil for 2xx.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		apiErr.Code = errResp.Code
		if apiErr.Code == "" {
			apiErr.Code = errResp.Error
		}

		switch {
		case errResp.Message != "":
			apiErr.Message = errResp.Message
		case errResp.ErrorDescription != "":
			apiErr.Message = errResp.ErrorDescription
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}

	return apiErr
}
