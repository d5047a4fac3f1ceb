package errors

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a type for context keys
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	jobHandleKey contextKey = "video_id"
)

// GenerateRequestID generates a new unique request ID
func GenerateRequestID() string {
	return uuid.New().String()
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// RequestIDOrGenerate returns the request ID from context or generates a new one
func RequestIDOrGenerate(ctx context.Context) string {
	if requestID := GetRequestID(ctx); requestID != "" {
		return requestID
	}
	return GenerateRequestID()
}

// WithJobHandle tags the context with the server-assigned job handle so log
// lines emitted while the job is tracked can be correlated.
func WithJobHandle(ctx context.Context, handle string) context.Context {
	return context.WithValue(ctx, jobHandleKey, handle)
}

// GetJobHandle returns the job handle stored in the context, if any
func GetJobHandle(ctx context.Context) string {
	if handle, ok := ctx.Value(jobHandleKey).(string); ok {
		return handle
	}
	return ""
}
