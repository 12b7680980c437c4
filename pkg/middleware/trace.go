package middleware

import (
	"context"
	"net/http"

	"github.com/Suhaibinator/routekit/pkg/common"
	"github.com/google/uuid"
)

// TraceIDHeader is the response header carrying the trace ID.
const TraceIDHeader = "X-Trace-ID"

// traceIDKey is the key used to store the trace ID in the request context
type traceIDKey struct{}

var TraceIDKey = traceIDKey{}

// TraceMiddleware creates a middleware that assigns a unique trace ID to each request,
// stores it in the request context and echoes it in the X-Trace-ID response header.
// An incoming X-Trace-ID header is reused when present.
func TraceMiddleware() common.Middleware {
	return func(r *http.Request, srv common.Server, next common.Next) (*common.Response, error) {
		traceID := r.Header.Get(TraceIDHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		common.WithValue(r, TraceIDKey, traceID)

		resp, err := next()
		if resp != nil {
			resp.SetHeader(TraceIDHeader, traceID)
		}
		return resp, err
	}
}

// GetTraceID extracts the trace ID from the request context.
// Returns an empty string if no trace ID is found.
func GetTraceID(r *http.Request) string {
	return GetTraceIDFromContext(r.Context())
}

// GetTraceIDFromContext extracts the trace ID from a context.
// Returns an empty string if no trace ID is found.
func GetTraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
