package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type agentCtxKey struct{}
type sessionCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation data from ctx: the active span plus
// the agent and session ids set with WithAgentID and WithSessionID.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if id := AgentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("agent_id", id))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session_id", id))
	}
	return fields
}

// WithAgentID tags ctx with the agent whose pipeline is running.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentCtxKey{}, agentID)
}

// AgentIDFromContext returns the agent id, or "" when unset.
func AgentIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(agentCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSessionID tags ctx with the simulation session id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// SessionIDFromContext returns the session id, or "" when unset.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves the logger stored in ctx, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
