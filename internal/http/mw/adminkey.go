// Package mw contains HTTP middleware for the racewire-api.
package mw

import (
	"crypto/subtle"
	"net/http"
)

// AdminKeyHeader carries the pre-shared key for admin trigger endpoints.
const AdminKeyHeader = "X-Admin-Key"

// RequireAdminKey guards admin trigger routes with a pre-shared header key.
// An empty configured key disables the admin surface entirely.
func RequireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				http.Error(w, "admin endpoints disabled", http.StatusServiceUnavailable)
				return
			}
			got := r.Header.Get(AdminKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
