package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"kobovault/internal/key"
	"kobovault/internal/user"
	"kobovault/pkg/config"
	"kobovault/pkg/utils"
)

// All authentication and permission failures answer with the same opaque
// 401 so callers cannot tell a bad key from a revoked, expired, or
// under-scoped one.
func denyUnauthorized(w http.ResponseWriter) {
	utils.BuildErrorResponse(w, http.StatusUnauthorized, "Unauthorized", nil)
}

func JWTMiddleware(cfg config.Config, userRepo user.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				denyUnauthorized(w)
				return
			}

			usr, err := resolveJWT(cfg, userRepo, authHeader)
			if err != nil {
				denyUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), utils.UserKey, *usr)
			ctx = context.WithValue(ctx, utils.PermissionsKey, []string{"*"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func APIKeyMiddleware(keySvc *key.Service, userRepo user.Repository) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("x-api-key")
			if rawKey == "" {
				denyUnauthorized(w)
				return
			}

			usr, perms, err := resolveAPIKey(keySvc, userRepo, rawKey)
			if err != nil {
				denyUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), utils.UserKey, *usr)
			ctx = context.WithValue(ctx, utils.PermissionsKey, perms)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UnifiedAuthMiddleware accepts either a JWT session (wildcard
// permissions) or an API key (scoped permissions).
func UnifiedAuthMiddleware(cfg config.Config, userRepo user.Repository, keySvc *key.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rawKey := r.Header.Get("x-api-key"); rawKey != "" {
				usr, perms, err := resolveAPIKey(keySvc, userRepo, rawKey)
				if err != nil {
					denyUnauthorized(w)
					return
				}
				ctx := context.WithValue(r.Context(), utils.UserKey, *usr)
				ctx = context.WithValue(ctx, utils.PermissionsKey, perms)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				denyUnauthorized(w)
				return
			}
			usr, err := resolveJWT(cfg, userRepo, authHeader)
			if err != nil {
				denyUnauthorized(w)
				return
			}
			ctx := context.WithValue(r.Context(), utils.UserKey, *usr)
			ctx = context.WithValue(ctx, utils.PermissionsKey, []string{"*"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			perms, ok := r.Context().Value(utils.PermissionsKey).([]string)
			if !ok {
				denyUnauthorized(w)
				return
			}

			for _, p := range perms {
				if p == "*" || p == perm {
					next.ServeHTTP(w, r)
					return
				}
			}

			denyUnauthorized(w)
		})
	}
}

func resolveJWT(cfg config.Config, userRepo user.Repository, authHeader string) (*user.User, error) {
	tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	userIDStr, ok := claims[utils.UserIDKey].(string)
	if !ok {
		return nil, fmt.Errorf("invalid user id in token")
	}

	return userRepo.FindByID(userIDStr)
}

func resolveAPIKey(keySvc *key.Service, userRepo user.Repository, rawKey string) (*user.User, []string, error) {
	apiKey, err := keySvc.Authorize(rawKey, "")
	if err != nil {
		return nil, nil, err
	}

	usr, err := userRepo.FindByID(apiKey.UserID.String())
	if err != nil {
		return nil, nil, err
	}

	return usr, apiKey.Permissions, nil
}
