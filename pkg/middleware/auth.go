package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/salepoint/salepoint/pkg/errors"
	"github.com/salepoint/salepoint/pkg/httputil"
)

type authContextKey string

const (
	userIDKey   authContextKey = "user_id"
	userRoleKey authContextKey = "user_role"
)

// Claims are the JWT claims expected on incoming tokens.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// TokenValidator validates a raw token string and returns its claims.
// Extracted as a func so tests can substitute a stub.
type TokenValidator func(tokenString string) (*Claims, error)

// NewJWTValidator returns a TokenValidator backed by an HMAC secret.
func NewJWTValidator(secret string) TokenValidator {
	return func(tokenString string) (*Claims, error) {
		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Unauthorized("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil {
			return nil, errors.Unauthorized("invalid token")
		}

		claims, ok := token.Claims.(*Claims)
		if !ok || !token.Valid {
			return nil, errors.Unauthorized("invalid token claims")
		}
		return claims, nil
	}
}

// Auth rejects requests without a valid bearer token and stores the operator
// identity in the request context for audit attribution.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.WriteError(w, r, errors.Unauthorized("missing authorization header"), nil)
				return
			}

			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httputil.WriteError(w, r, errors.Unauthorized("malformed authorization header"), nil)
				return
			}

			claims, err := validate(tokenString)
			if err != nil {
				httputil.WriteError(w, r, err, nil)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			ctx = context.WithValue(ctx, userRoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the authenticated user ID, or "" when absent.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}

// UserRoleFromContext returns the authenticated user role, or "" when absent.
func UserRoleFromContext(ctx context.Context) string {
	if role, ok := ctx.Value(userRoleKey).(string); ok {
		return role
	}
	return ""
}
