package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

type contextKey string

const (
	UserIDContextKey contextKey = "user_id"
)

// Auth resolves the caller identity from the X-User-ID header. Suitable for
// internal VPN deployments; external exposure needs a real auth layer in
// front.
func Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))

		// Default for single-tenant deployments.
		if userID == "" {
			userID = "default_user"
		}

		if !isValidUserID(userID) {
			slog.Warn("rejected invalid user id", "user_id", userID, "path", r.URL.Path)
			http.Error(w, "Invalid user ID format", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUserID(ctx context.Context) string {
	userID, ok := ctx.Value(UserIDContextKey).(string)
	if !ok {
		return ""
	}
	return userID
}

func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > 255 {
		return false
	}

	for _, ch := range userID {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '_' || ch == '.' || ch == '@') {
			return false
		}
	}

	return true
}
