package core

import "context"

type contextKey string

const ctxKeyUserID contextKey = "user_id"

// ContextWithUserID records the acting user on ctx.
func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, userID)
}

// UserIDFromContext returns the acting user recorded on ctx.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(ctxKeyUserID).(int64)
	return v, ok
}
