package domain

import "context"

type contextKey string

const userIDKey contextKey = "user_id"

// WithUserID attaches the acting user to the context. Every storage adapter
// reads it back to scope row-level security, so it must be set before any
// repository call.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFrom returns the acting user, or "" when none was attached.
func UserIDFrom(ctx context.Context) string {
	userID, ok := ctx.Value(userIDKey).(string)
	if !ok {
		return ""
	}
	return userID
}
