package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewTraceID(), NewTraceID())
	assert.NotEqual(t, NewQueryID(), NewQueryID())
	assert.NotEmpty(t, NewQueryID())
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetQueryID(ctx))
	assert.Empty(t, GetConversationID(ctx))

	ctx = WithTraceID(ctx, "t")
	ctx = WithQueryID(ctx, "q")
	ctx = WithConversationID(ctx, "c")

	assert.Equal(t, &TraceContext{TraceID: "t", QueryID: "q", ConversationID: "c"}, FromContext(ctx))
}

func TestNewQueryContext(t *testing.T) {
	t.Run("fresh trace", func(t *testing.T) {
		ctx := NewQueryContext(context.Background(), "conv")
		assert.NotEmpty(t, GetTraceID(ctx))
		assert.NotEmpty(t, GetQueryID(ctx))
		assert.Equal(t, "conv", GetConversationID(ctx))
	})

	t.Run("keeps outer trace", func(t *testing.T) {
		ctx := NewQueryContext(WithTraceID(context.Background(), "outer"), "")
		assert.Equal(t, "outer", GetTraceID(ctx))
		assert.Empty(t, GetConversationID(ctx))
	})

	t.Run("new query id per query", func(t *testing.T) {
		base := context.Background()
		assert.NotEqual(t, GetQueryID(NewQueryContext(base, "c")), GetQueryID(NewQueryContext(base, "c")))
	})
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithConversationID(WithQueryID(context.Background(), "q1"), "c1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "q1", line["query_id"])
	assert.Equal(t, "c1", line["conversation_id"])
	assert.NotContains(t, line, "trace_id")
}

func TestStartSpan(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("mcpagent-test", 1))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	ctx, span := StartSpan(context.Background(), TracerAgent, "unit", attribute.String("k", "v"))
	defer span.End()

	assert.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
}

func TestStartSpan_NilContext(t *testing.T) {
	//nolint:staticcheck // exercising the nil guard
	ctx, span := StartSpan(nil, TracerDispatch, "nil-ctx")
	defer span.End()
	assert.NotNil(t, ctx)
}
