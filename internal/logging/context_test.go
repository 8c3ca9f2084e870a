package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_AgentAndSession(t *testing.T) {
	ctx := WithSessionID(WithAgentID(context.Background(), "a1"), "s1")

	assert.Equal(t, "a1", AgentIDFromContext(ctx))
	assert.Equal(t, "s1", SessionIDFromContext(ctx))

	keys := map[string]string{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = f.String
	}
	assert.Equal(t, "a1", keys["agent_id"])
	assert.Equal(t, "s1", keys["session_id"])
}

func TestContextFields_Span(t *testing.T) {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(tracetest.NewInMemoryExporter()),
	)
	ctx, span := provider.Tracer("test").Start(context.Background(), "reflection.cycle")
	defer span.End()

	var hasTrace, hasSpan bool
	for _, f := range ContextFields(ctx) {
		switch f.Key {
		case "trace_id":
			hasTrace = f.String != ""
		case "span_id":
			hasSpan = f.String != ""
		}
	}
	assert.True(t, hasTrace)
	assert.True(t, hasSpan)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()).Underlying())

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}
