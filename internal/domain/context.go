package domain

import "context"

type ctxKey string

const (
	invocationCtxKey ctxKey = "invocation_id"
	noRetryCtxKey    ctxKey = "no_retry"
)

// ContextWithInvocationID returns a new context carrying the invocation ID (ULID).
func ContextWithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationCtxKey, id)
}

// InvocationIDFromContext extracts the invocation ID from the context.
// Returns empty string if not set.
func InvocationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(invocationCtxKey).(string); ok {
		return v
	}
	return ""
}

// WithNoRetry marks ctx so that API clients issue each request at most once,
// even for idempotent methods.
func WithNoRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, noRetryCtxKey, true)
}

// NoRetry reports whether ctx was marked with WithNoRetry.
func NoRetry(ctx context.Context) bool {
	v, _ := ctx.Value(noRetryCtxKey).(bool)
	return v
}
