package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/angelmondragon/cooperative-backend/api/responses"
	"github.com/angelmondragon/cooperative-backend/api/validators"
	pkgerrors "github.com/angelmondragon/cooperative-backend/pkg/errors"
	"github.com/angelmondragon/cooperative-backend/pkg/logger"
)

const (
	operatorHeader  = "X-Operator"
	defaultOperator = "operator"
	maxOperatorLen  = 64
)

// AdminToken validates the shared operator bearer token and seeds the request
// context with the calling operator's name. An empty expected token rejects
// every request.
func AdminToken(expected string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin api disabled"))
				return
			}

			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid token"))
				return
			}

			operator := validators.SanitizeString(r.Header.Get(operatorHeader), maxOperatorLen)
			if operator == "" {
				operator = defaultOperator
			}

			ctx := WithOperator(r.Context(), operator)
			if logg != nil {
				ctx = logg.WithField(ctx, "operator", operator)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
