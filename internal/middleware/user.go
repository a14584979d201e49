// Package middleware provides HTTP middlewares for user identification and logging.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const userKey ctxKey = "user"

// DefaultUserID is assigned to requests that carry no user identifier.
const DefaultUserID = "default"

// UserIdentity extracts the caller's user id and stores it in the request context.
//
// The id is taken from the X-User-ID header, falling back to the user_id query
// parameter and finally DefaultUserID. No credentials are verified.
func UserIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			userID = strings.TrimSpace(r.URL.Query().Get("user_id"))
		}
		if userID == "" {
			userID = DefaultUserID
		}
		ctx := context.WithValue(r.Context(), userKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user id stored by UserIdentity.
// Returns an empty string if not found.
func GetUserIDFromContext(ctx context.Context) string {
	val := ctx.Value(userKey)
	if s, ok := val.(string); ok {
		return s
	}
	return ""
}
