package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/GiorgiUbiria/secure_banking/configs"
	"github.com/GiorgiUbiria/secure_banking/internal/httputil"
	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/GiorgiUbiria/secure_banking/internal/models"
	"github.com/GiorgiUbiria/secure_banking/internal/store"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const (
	UserIDContextKey contextKey = "userID"
	UserContextKey   contextKey = "user"
)

func Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		tokenStr := parts[1]

		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(configs.AppConfig.JWT.SECRET), nil
		})
		if err != nil || !token.Valid {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}

		sub, ok := claims["sub"].(float64)
		if !ok || sub <= 0 {
			logger.Log.Error("jwt subject missing or wrong type")
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token payload")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, uint(sub))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoadUser resolves the authenticated user id to a fresh user row, so role
// changes take effect without a new token. Inactive users are rejected.
func LoadUser(s store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserID(r.Context())
			if !ok {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			user, err := s.FindUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					httputil.WriteError(w, http.StatusUnauthorized, "unknown user")
					return
				}
				logger.Log.Error("failed to load user", zap.Uint("user_id", userID), zap.Error(err))
				httputil.WriteError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !user.Active {
				httputil.WriteError(w, http.StatusForbidden, "user is not active")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets the request through only when the loaded user has one of
// roles. It must run after LoadUser.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			httputil.WriteError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func UserID(ctx context.Context) (uint, bool) {
	id, ok := ctx.Value(UserIDContextKey).(uint)
	return id, ok
}

func CurrentUser(ctx context.Context) (*models.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*models.User)
	return u, ok
}
