package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "clip.mp4", time.Time{}, bytes.NewReader(content))
	}))
}

func TestRunStorm_VerifiesContent(t *testing.T) {
	content := make([]byte, 64*1024)
	for i := range content {
		content[i] = byte(i % 253)
	}
	ts := rangeServer(content)
	defer ts.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	results, err := RunStorm(context.Background(), StormConfig{
		URL:       ts.URL,
		Workers:   2,
		Duration:  200 * time.Millisecond,
		QPS:       50,
		MaxRange:  4096,
		Plaintext: content,
	}, logger)
	require.NoError(t, err)

	assert.Greater(t, results.Requests, int64(0))
	assert.Equal(t, results.Requests, results.Completed)
	assert.Zero(t, results.Mismatches)
	assert.Equal(t, int64(len(content)), results.ResourceLen)
	assert.LessOrEqual(t, results.LatencyP50, results.LatencyP99)
}

func TestRunStorm_DetectsMismatch(t *testing.T) {
	content := bytes.Repeat([]byte{1}, 8192)
	ts := rangeServer(content)
	defer ts.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	results, err := RunStorm(context.Background(), StormConfig{
		URL:       ts.URL,
		Workers:   1,
		Duration:  100 * time.Millisecond,
		QPS:       50,
		MaxRange:  128,
		Plaintext: bytes.Repeat([]byte{2}, 8192),
	}, logger)
	require.NoError(t, err)
	assert.Equal(t, results.Requests, results.Mismatches)
}

func TestRunStorm_PlaintextSizeMismatch(t *testing.T) {
	ts := rangeServer(make([]byte, 100))
	defer ts.Close()

	_, err := RunStorm(context.Background(), StormConfig{URL: ts.URL, Duration: time.Second, Plaintext: make([]byte, 10)}, logrus.New())
	assert.Error(t, err)
}

func TestPercentiles(t *testing.T) {
	var latencies []time.Duration
	for i := 1; i <= 100; i++ {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}
	p50, p95, p99 := percentiles(latencies)
	assert.Equal(t, 50*time.Millisecond, p50)
	assert.Equal(t, 95*time.Millisecond, p95)
	assert.Equal(t, 99*time.Millisecond, p99)

	p50, _, _ = percentiles(nil)
	assert.Zero(t, p50)
}

func TestAnalyzeRegression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "baseline.json")
	require.NoError(t, SaveBaseline(path, &StormResults{LatencyP95: 100 * time.Millisecond, Throughput: 1000}))

	ok, err := AnalyzeRegression(&StormResults{LatencyP95: 105 * time.Millisecond, Throughput: 980}, path, 10)
	require.NoError(t, err)
	assert.False(t, ok.Significant)

	slow, err := AnalyzeRegression(&StormResults{LatencyP95: 150 * time.Millisecond, Throughput: 1000}, path, 10)
	require.NoError(t, err)
	assert.True(t, slow.Significant)
	assert.InDelta(t, 50.0, slow.LatencyP95Change, 0.01)

	_, err = AnalyzeRegression(&StormResults{}, filepath.Join(t.TempDir(), "missing.json"), 10)
	assert.Error(t, err)
}
