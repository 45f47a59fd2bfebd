package api

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader carries the learner's id. Requests without it run anonymously.
const UserIDHeader = "X-User-ID"

type contextKey string

const userIDContextKey contextKey = "user_id"

// UserIDFromContext returns the caller's id, or "" for anonymous callers
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDContextKey).(string)
	return id
}

// ContextWithUserID adds the caller's id to context
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

func identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(UserIDHeader))
		next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), id)))
	})
}
