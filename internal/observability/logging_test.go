package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerAddsTraceInfoFromContext(t *testing.T) {
	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	tracer := tp.Tracer("test-tracer")

	core, observedLogs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	logger.Info(ctx, "quiz created", map[string]interface{}{"test_id": "abc"})

	entries := observedLogs.All()
	require.Len(t, entries, 1)

	entry := entries[0]
	assert.Equal(t, "quiz created", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "abc", fields["test_id"])

	spanContext := span.SpanContext()
	assert.Equal(t, spanContext.TraceID().String(), fields["trace_id"])
	assert.Equal(t, spanContext.SpanID().String(), fields["span_id"])
}

func TestLoggerWithoutSpanOmitsTraceInfo(t *testing.T) {
	core, observedLogs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Info(context.Background(), "no tracing here", nil)

	entries := observedLogs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.NotContains(t, fields, "trace_id")
	assert.NotContains(t, fields, "span_id")
}

func TestLoggerErrorIncludesErrorField(t *testing.T) {
	core, observedLogs := observer.New(zap.InfoLevel)
	logger := &Logger{Logger: zap.New(core)}

	logger.Error(context.Background(), "generation failed", errors.New("provider timeout"), map[string]interface{}{"provider": "openai"})

	entries := observedLogs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "provider timeout", fields["error"])
	assert.Equal(t, "openai", fields["provider"])
}

func TestMergeFields(t *testing.T) {
	merged := mergeFields(
		map[string]interface{}{"a": 1},
		nil,
		map[string]interface{}{"b": 2, "a": 3},
	)
	assert.Equal(t, map[string]interface{}{"a": 3, "b": 2}, merged)

	assert.Empty(t, mergeFields())
	assert.Empty(t, mergeFields(nil))
}
