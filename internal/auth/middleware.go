// internal/auth/middleware.go
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/JaviNavarroB/Cierzo/internal/httpx"
)

type contextKey string

const claimsKey contextKey = "auth_claims"

// TokenParser is satisfied by *Tokens.
type TokenParser interface {
	Parse(tokenString string) (*Claims, error)
}

// Middleware rejects requests without a valid bearer token. A missing token
// answers 401, an invalid or expired one 403.
func Middleware(parser TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				httpx.Error(w, http.StatusUnauthorized, "Token no proporcionado")
				return
			}

			claims, err := parser.Parse(token)
			if err != nil {
				log.Debug().Err(err).Msg("rejected bearer token")
				httpx.Error(w, http.StatusForbidden, "Token inválido o expirado")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// UserID returns the authenticated caller, or 0 when the request carries none.
func UserID(ctx context.Context) int64 {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	if !ok || claims == nil {
		return 0
	}
	return claims.UserID
}
