package metrics

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func tracedContext(t *testing.T) context.Context {
	t.Helper()
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(context.Background(), sc)
}

func TestGetExemplar(t *testing.T) {
	labels := getExemplar(tracedContext(t))
	require.NotNil(t, labels)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", labels["trace_id"])

	assert.Nil(t, getExemplar(context.Background()))
}

func TestExemplar_RecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordHTTPRequest(tracedContext(t), "GET", "/media/a.mp4", http.StatusOK, 10*time.Millisecond, 1)

	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() != "http_request_duration_seconds" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, bucket := range metric.GetHistogram().GetBucket() {
				if ex := bucket.GetExemplar(); ex != nil {
					for _, lp := range ex.GetLabel() {
						if lp.GetName() == "trace_id" && lp.GetValue() == "4bf92f3577b34da6a3ce929d0e0e4736" {
							found = true
						}
					}
				}
			}
		}
	}
	assert.True(t, found, "expected trace_id exemplar on request duration histogram")
}
