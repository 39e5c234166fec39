package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

// CallerKey holds the authenticated caller (the token subject).
const CallerKey contextKey = "caller"

// Claims identify the internal service calling the orchestration API,
// normally the checkout service.
type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// RequireAuth accepts HS256 bearer tokens signed with jwtSecret.
func RequireAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header", "auth_required")
				return
			}

			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				writeError(w, http.StatusUnauthorized, "invalid authorization scheme", "auth_invalid_scheme")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method")
				}
				return []byte(jwtSecret), nil
			}, jwt.WithExpirationRequired())

			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid token", "auth_invalid")
				return
			}

			ctx := context.WithValue(r.Context(), CallerKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetCaller(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(CallerKey).(string)
	return caller, ok
}
