package notification

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sapliy/supplyhub/pkg/jsonutil"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserID extracts the authenticated user id placed by AuthMiddleware.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// AuthMiddleware resolves the caller to a user identity. Session issuance is
// external; this only verifies what the session service minted.
//
// Accepted credentials, in order:
//   - Authorization: Bearer <jwt> with a numeric "uid" claim,
//   - a "token" query parameter carrying the same JWT (EventSource cannot set
//     request headers),
//   - an X-User-ID header for trusted internal service calls, the convention
//     the rest of the ecosystem's services use behind the gateway.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token != "" && secret != "" {
				userID, err := parseUserToken(token, secret)
				if err != nil {
					jsonutil.WriteError(w, http.StatusUnauthorized, "Invalid token")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
				return
			}

			if raw := r.Header.Get("X-User-ID"); raw != "" {
				userID, err := strconv.ParseInt(raw, 10, 64)
				if err == nil && userID > 0 {
					next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
					return
				}
			}

			jsonutil.WriteError(w, http.StatusUnauthorized, "Authentication required")
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func parseUserToken(tokenString, secret string) (int64, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return 0, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, jwt.ErrTokenInvalidClaims
	}

	switch uid := claims["uid"].(type) {
	case float64:
		if uid > 0 {
			return int64(uid), nil
		}
	case string:
		if id, err := strconv.ParseInt(uid, 10, 64); err == nil && id > 0 {
			return id, nil
		}
	}
	return 0, jwt.ErrTokenInvalidClaims
}
