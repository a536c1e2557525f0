package gatewayerr

import "context"

type contextKey string

const requestIDKey contextKey = "requestId"

// WithRequestID attaches a request/trace correlation id to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID extracts the correlation id attached by WithRequestID, or ""
// if none was set.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
