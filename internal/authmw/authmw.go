// Package authmw guards board-changing requests (acknowledgements, manual
// refreshes) with a shared bearer token. Reads stay open.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Safe reports whether method is read-only and never needs a token.
func Safe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// RequireToken returns middleware that passes safe methods through and
// requires "Authorization: Bearer <token>" on every other method. An empty
// token disables the check. Comparison is constant-time.
func RequireToken(token string) func(http.Handler) http.Handler {
	if token == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if Safe(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			got, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, `{"error":"missing or malformed authorization header"}`)
				return
			}
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				unauthorized(w, `{"error":"invalid token"}`)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearer(header string) ([]byte, bool) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil, false
	}
	tok := strings.TrimSpace(header[len(bearerPrefix):])
	if tok == "" {
		return nil, false
	}
	return []byte(tok), true
}

func unauthorized(w http.ResponseWriter, body string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="queuewatch"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body + "\n"))
}
