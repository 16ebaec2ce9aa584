package contextkey

import "context"

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID   key = "trace_id"
	RequestID key = "request_id"
	UserID    key = "user_id"
)

// WithTraceID returns a context carrying the trace id.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceID, traceID)
}

// TraceIDFrom returns the trace id stored in the context, if any.
func TraceIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(TraceID).(string)
	return v, ok
}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestID, requestID)
}

// RequestIDFrom returns the request id stored in the context, if any.
func RequestIDFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(RequestID).(string)
	return v, ok
}

// WithUserID returns a context carrying the acting user id.
// Identity travels with the request context, so work handed to the
// judge pipeline keeps the submitting user without goroutine-local state.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserID, userID)
}

// UserIDFrom returns the acting user id stored in the context, if any.
func UserIDFrom(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(UserID).(int64)
	return v, ok
}
