package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userIDKey contextKey = "user_id"

// UserID returns the authenticated operator id from the request context,
// or "anonymous" when auth is disabled.
func UserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		return id
	}
	return "anonymous"
}

// Middleware guards the operator API with bearer token validation.
type Middleware struct {
	validator Validator
	enabled   bool
}

// NewMiddleware creates the auth middleware. With enabled false every
// request passes through as anonymous.
func NewMiddleware(validator Validator, enabled bool) *Middleware {
	return &Middleware{validator: validator, enabled: enabled}
}

// Protect wraps a handler with bearer token validation.
func (m *Middleware) Protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled || m.validator == nil {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		resp, err := m.validator.Validate(r.Context(), parts[1])
		if err != nil || !resp.Valid {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, resp.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
