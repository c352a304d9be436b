// Package kit holds the transport-neutral endpoint shape shared by the HTTP
// and MCP surfaces, plus request-scoped context accessors.
package kit

import "context"

// Endpoint is one operation, independent of transport. The request is a
// typed pointer produced by the transport's decode step.
type Endpoint func(ctx context.Context, req any) (any, error)

type contextKey string

const (
	TransportKey contextKey = "kit_transport" // "http", "mcp"
	RequestIDKey contextKey = "kit_request_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}

func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}
