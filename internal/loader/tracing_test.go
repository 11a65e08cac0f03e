package loader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kenneth/media-resource-loader/internal/source"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestController_SessionSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	src := source.OpenFile(encryptedFile(t, "clip.mp4", plaintext(100), testCipherParams()))
	c := newTestController(t, src, WithMaxChunkBytes(40), WithTracer(tp.Tracer("test")))

	req := newDataRequest("clip.mp4", 10, 50)
	c.HandleRequest(req)
	require.NoError(t, waitFinished(t, req))
	c.Wait()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "loader.session", span.Name())

	offset, ok := spanAttr(span, "range.offset")
	require.True(t, ok)
	assert.Equal(t, int64(10), offset.AsInt64())

	outcome, ok := spanAttr(span, "session.outcome")
	require.True(t, ok)
	assert.Equal(t, "completed", outcome.AsString())

	bytes, ok := spanAttr(span, "session.bytes")
	require.True(t, ok)
	assert.Equal(t, int64(50), bytes.AsInt64())
}

func TestController_FailedSessionSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	c := newTestController(t, &failingSource{data: make([]byte, 100)},
		WithMaxChunkBytes(10), WithTracer(tp.Tracer("test")))

	req := newDataRequest("broken.mp4", 0, ToEnd)
	c.HandleRequest(req)
	require.Error(t, waitFinished(t, req))
	c.Wait()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.NotEmpty(t, spans[0].Events(), "error should be recorded as a span event")
}
