package telemetry

import (
	"context"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const (
	clientContextKey contextKey = "telemetry_client"
)

// WithClient adds a telemetry client to the context
func WithClient(ctx context.Context, client *Client) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// FromContext retrieves the telemetry client from context
func FromContext(ctx context.Context) *Client {
	if client, ok := ctx.Value(clientContextKey).(*Client); ok {
		return client
	}
	return nil
}

// LogUsageEventContext records a usage event via the client carried in ctx,
// if any. Libraries that receive a context but no client use this.
func LogUsageEventContext(ctx context.Context, component, event string) {
	if client := FromContext(ctx); client != nil {
		client.LogUsageEvent(component, event)
	}
}
