package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestWithLogFields_Merges(t *testing.T) {
	ctx := WithLogFields(context.Background(), LogFields{Component: "rover.engine", Stream: "comment"})
	ctx = WithLogFields(ctx, LogFields{Handler: "echo", ItemID: "c1"})
	ctx = WithLogFields(ctx, LogFields{Component: "rover.engine.dispatcher"})

	assert.Equal(t, LogFields{
		Component: "rover.engine.dispatcher",
		Handler:   "echo",
		ItemID:    "c1",
		Stream:    "comment",
	}, GetLogFields(ctx))
	assert.Equal(t, LogFields{}, GetLogFields(context.Background()))
}

func TestTraceHandler_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{JSON: true})

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	ctx = WithLogFields(ctx, LogFields{Handler: "echo", ItemID: "c1"})
	l.InfoContext(ctx, "reacted")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "reacted", rec["msg"])
	assert.Equal(t, "echo", rec["handler"])
	assert.Equal(t, "c1", rec["item_id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), rec["trace_id"])
	assert.NotContains(t, rec, "stream")
}

func TestNew_Levels(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, Options{}).Debug("hidden")
	assert.Empty(t, buf.String())

	New(&buf, Options{Verbose: true}).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "ab...", Truncate("abcdef", 2))
}
