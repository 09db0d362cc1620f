package api

import (
	"context"
	"net/http"
	"strings"

	"fincapes/internal/auth"
)

type contextKey string

const (
	userUIDKey contextKey = "userUID"
	staffKey   contextKey = "staff"
)

type AuthMiddleware struct {
	jwtService *auth.JWTService
}

func NewAuthMiddleware(jwtService *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwtService: jwtService}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			unauthorized(w, "Invalid authorization header format")
			return
		}

		token := parts[1]
		claims, err := m.jwtService.ValidateAccessToken(token)
		if err != nil {
			unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userUIDKey, claims.UserUID)
		ctx = context.WithValue(ctx, staffKey, claims.Staff)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth attaches identity when a valid bearer token is present
// but lets anonymous requests through. Used on public routes whose
// response varies for staff.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			if claims, err := m.jwtService.ValidateAccessToken(parts[1]); err == nil {
				ctx := context.WithValue(r.Context(), userUIDKey, claims.UserUID)
				ctx = context.WithValue(ctx, staffKey, claims.Staff)
				r = r.WithContext(ctx)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff gates staff-only routes. Must run after RequireAuth.
func (m *AuthMiddleware) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsStaff(r) {
			forbidden(w, "Staff access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func GetUserUID(r *http.Request) string {
	if v := r.Context().Value(userUIDKey); v != nil {
		if uid, ok := v.(string); ok {
			return uid
		}
	}
	return ""
}

func IsStaff(r *http.Request) bool {
	if v := r.Context().Value(staffKey); v != nil {
		if staff, ok := v.(bool); ok {
			return staff
		}
	}
	return false
}
