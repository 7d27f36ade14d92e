package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey string

const AccessGroupKey contextKey = "access_group"

// APIKeyAuth resolves the API key in the Authorization header to the access
// group it belongs to. validKeys maps access group -> key.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// "Bearer <key>" dan "<key>" sama-sama diterima
			apiKey := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if apiKey == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			group := ""
			for g, key := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					group = g
					break
				}
			}
			if group == "" {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAccessGroup(r.Context(), group)))
		})
	}
}

// WithAccessGroup returns ctx carrying group.
func WithAccessGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, AccessGroupKey, group)
}

// GetAccessGroup extracts the caller's access group from context
func GetAccessGroup(ctx context.Context) string {
	if group, ok := ctx.Value(AccessGroupKey).(string); ok {
		return group
	}
	return ""
}
