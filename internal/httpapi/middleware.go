package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/vasudvy/billfrog/internal/auth"
	"github.com/vasudvy/billfrog/internal/utils"
)

// ContextKey is the type for request context keys set by middleware.
type ContextKey string

const (
	// OperatorIDKey carries the authenticated operator's id.
	OperatorIDKey ContextKey = "operatorID"
	// OperatorNameKey carries the authenticated operator's username.
	OperatorNameKey ContextKey = "operatorName"
)

// OperatorJWTMiddleware guards the configuration surfaces with operator
// tokens.
func OperatorJWTMiddleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Missing authentication token")
				return
			}
			tokenString = strings.TrimPrefix(tokenString, "Bearer ")

			claims, err := auth.ValidateOperatorJWT(tokenString, secret)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), OperatorIDKey, claims.OperatorID)
			ctx = context.WithValue(ctx, OperatorNameKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
