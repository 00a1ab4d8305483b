package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const (
	ctxUserID contextKey = "auth_user_id"
	ctxRole   contextKey = "auth_role"
	ctxClaims contextKey = "auth_claims"
)

// Middleware authenticates requests with either a Bearer JWT or an
// X-API-Key header and stores the identity on the request context.
// When enabled is false every request passes through untouched.
func Middleware(manager *Manager, enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				userID, permissions, err := manager.ValidateAPIKey(apiKey)
				if err != nil {
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				user, err := manager.GetUser(userID)
				if err != nil {
					http.Error(w, "Invalid API key", http.StatusUnauthorized)
					return
				}
				claims := &Claims{
					UserID:      userID,
					Username:    user.Username,
					Role:        user.Role,
					Permissions: permissions,
				}
				next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Authorization required", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "Bearer token required", http.StatusUnauthorized)
				return
			}

			claims, err := manager.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims)))
		})
	}
}

// RequirePermission wraps a handler so only authenticated identities
// holding the permission may reach it.
func RequirePermission(manager *Manager, permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaimsFromRequest(r)
		if claims == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if !manager.HasPermission(claims, permission) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func withIdentity(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ctxUserID, claims.UserID)
	ctx = context.WithValue(ctx, ctxRole, claims.Role)
	return context.WithValue(ctx, ctxClaims, claims)
}

// GetUserIDFromRequest returns the authenticated user ID, or "".
func GetUserIDFromRequest(r *http.Request) string {
	if v, ok := r.Context().Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

// GetRoleFromRequest returns the authenticated user's role, or "".
func GetRoleFromRequest(r *http.Request) string {
	if v, ok := r.Context().Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// GetClaimsFromRequest returns the full claims, or nil.
func GetClaimsFromRequest(r *http.Request) *Claims {
	if v, ok := r.Context().Value(ctxClaims).(*Claims); ok {
		return v
	}
	return nil
}
