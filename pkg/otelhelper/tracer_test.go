package otelhelper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpanAndSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	_, span := StartSpan(context.Background(), tracer, "engine.start", attribute.String(FlowIDKey, "f-1"))
	SetError(span, errors.New("boom"), attribute.String(NodeIDKey, "menu"))
	span.End()

	ended := recorder.Ended()
	if assert.Len(t, ended, 1) {
		assert.Equal(t, "engine.start", ended[0].Name())
		assert.Equal(t, "boom", ended[0].Status().Description)
		assert.Contains(t, ended[0].Attributes(), attribute.String(FlowIDKey, "f-1"))
	}
}

func TestStartSpan_NilTracerFallsBackToNoop(t *testing.T) {
	ctx, span := StartSpan(context.Background(), nil, "noop")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.False(t, span.SpanContext().IsValid())
}
