package httpx

import (
	"net/http"
	"slices"

	"github.com/aussiebroadwan/sessionguard/pkg/jwtx"
	"github.com/aussiebroadwan/sessionguard/pkg/slogx"
)

// Verifier checks an access token and returns its claims.
type Verifier interface {
	Verify(token string) (*jwtx.Claims, error)
}

// AuthnMiddleware requires a valid bearer access token and stores its claims
// in the request context.
func AuthnMiddleware(v Verifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.Verify(raw)
			if err != nil {
				log.Warn("jwt verify failed", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
		})
	}
}

// RequirePermission rejects requests whose verified claims lack permission p.
// It must run after AuthnMiddleware.
func RequirePermission(p string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok || !slices.Contains(claims.Permissions, p) {
				WriteError(w, http.StatusForbidden, "insufficient_permission", "missing permission "+p)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RFC 6750 error response for bearer auth, with a storefront error body.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", desc)
}
