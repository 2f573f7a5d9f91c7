// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for user ID.
	UserIDKey ContextKey = "user_id"
	// ScopesKey is the context key for JWT scopes.
	ScopesKey ContextKey = "scopes"
)

// Claims represents JWT claims. The subject is the owning user id.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope,omitempty"`
}

// Auth creates JWT authentication middleware.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
				unauthorized(w, "invalid authorization header format")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				unauthorized(w, "invalid token")
				return
			}

			ctx := WithUserID(r.Context(), claims.Subject)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes)
			recordIdentity(ctx, claims.Subject)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// WithUserID returns a context carrying the authenticated user id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID gets user ID from context.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// GetScopes gets scopes from context.
func GetScopes(ctx context.Context) []string {
	if v, ok := ctx.Value(ScopesKey).([]string); ok {
		return v
	}
	return nil
}

// HasScope checks if the context has a specific scope.
func HasScope(ctx context.Context, scope string) bool {
	return slices.Contains(GetScopes(ctx), scope)
}

// RequireScope creates middleware that requires a specific scope. An empty
// scope lets every authenticated request through.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if scope != "" && !HasScope(r.Context(), scope) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"insufficient permissions"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
