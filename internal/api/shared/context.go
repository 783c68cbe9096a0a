package shared

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// ContextKey is the type of request-scoped values set by the API layer.
type ContextKey string

const (
	// AgentIDContextKey holds the authenticated agent ID
	AgentIDContextKey ContextKey = "agentID"

	// TraceIDKey holds the trace ID echoed in error responses
	TraceIDKey ContextKey = "traceID"
)

// WithTraceID stores traceID in ctx, generating one when it is empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the trace ID in ctx, or "" when none was set.
func GetTraceID(ctx context.Context) string {
	traceID, _ := ctx.Value(TraceIDKey).(string)
	return traceID
}

// NewTraceID returns a random 32-character hex ID.
func NewTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// WithAgentID stores the authenticated agent ID in ctx.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDContextKey, agentID)
}

// GetAgentID returns the authenticated agent ID and whether one was present.
func GetAgentID(ctx context.Context) (string, bool) {
	agentID, ok := ctx.Value(AgentIDContextKey).(string)
	return agentID, ok && agentID != ""
}
