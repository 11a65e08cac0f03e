package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StormConfig configures a seek storm: concurrent workers issuing random
// byte-range GETs, each one superseding the stream of the previous request.
type StormConfig struct {
	URL        string
	Workers    int
	Duration   time.Duration
	QPS        int
	MaxRange   int64
	Plaintext  []byte // optional; enables content verification
	HTTPClient *http.Client
}

// StormResults summarizes a storm run.
type StormResults struct {
	Requests    int64         `json:"requests"`
	Completed   int64         `json:"completed"`
	Superseded  int64         `json:"superseded"`
	Errors      int64         `json:"errors"`
	Mismatches  int64         `json:"mismatches"`
	Bytes       int64         `json:"bytes"`
	Duration    time.Duration `json:"duration"`
	LatencyP50  time.Duration `json:"latency_p50"`
	LatencyP95  time.Duration `json:"latency_p95"`
	LatencyP99  time.Duration `json:"latency_p99"`
	Throughput  float64       `json:"throughput_bytes_per_sec"`
	ResourceLen int64         `json:"resource_length"`
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeSuperseded
	outcomeError
	outcomeMismatch
)

type sample struct {
	outcome outcome
	latency time.Duration
	bytes   int64
}

// RunStorm probes the resource size with HEAD and runs the configured
// workers until Duration elapses or ctx is cancelled.
func RunStorm(ctx context.Context, cfg StormConfig, logger *logrus.Logger) (*StormResults, error) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = 1 << 20
	}

	size, err := probeSize(ctx, client, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Plaintext != nil && int64(len(cfg.Plaintext)) != size {
		return nil, fmt.Errorf("plaintext is %d bytes but resource is %d", len(cfg.Plaintext), size)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	samples := make(chan sample, cfg.Workers*16)
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			runWorker(ctx, worker, cfg, client, size, samples, logger)
		}(i)
	}

	go func() {
		wg.Wait()
		close(samples)
	}()

	results := &StormResults{ResourceLen: size}
	var latencies []time.Duration
	for s := range samples {
		results.Requests++
		results.Bytes += s.bytes
		latencies = append(latencies, s.latency)
		switch s.outcome {
		case outcomeCompleted:
			results.Completed++
		case outcomeSuperseded:
			results.Superseded++
		case outcomeMismatch:
			results.Mismatches++
		default:
			results.Errors++
		}
	}

	results.Duration = time.Since(start)
	if secs := results.Duration.Seconds(); secs > 0 {
		results.Throughput = float64(results.Bytes) / secs
	}
	results.LatencyP50, results.LatencyP95, results.LatencyP99 = percentiles(latencies)
	return results, nil
}

func runWorker(ctx context.Context, worker int, cfg StormConfig, client *http.Client, size int64, out chan<- sample, logger *logrus.Logger) {
	interval := time.Second
	if cfg.QPS > 0 {
		interval = time.Second / time.Duration(cfg.QPS)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		offset := rand.Int64N(size)
		length := min(size-offset, 1+rand.Int64N(cfg.MaxRange))

		s := fetchRange(ctx, client, cfg.URL, offset, length, cfg.Plaintext)
		if ctx.Err() != nil {
			return
		}
		if s.outcome == outcomeError || s.outcome == outcomeMismatch {
			logger.WithFields(logrus.Fields{
				"worker": worker,
				"offset": offset,
				"length": length,
			}).Debug("Range request failed")
		}
		out <- s
	}
}

func fetchRange(ctx context.Context, client *http.Client, url string, offset, length int64, plaintext []byte) sample {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return sample{outcome: outcomeError}
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := client.Do(req)
	if err != nil {
		return sample{outcome: outcomeError, latency: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		io.Copy(io.Discard, resp.Body)
		return sample{outcome: outcomeSuperseded, latency: time.Since(start)}
	}
	if resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return sample{outcome: outcomeError, latency: time.Since(start)}
	}

	body, err := io.ReadAll(resp.Body)
	s := sample{latency: time.Since(start), bytes: int64(len(body))}

	// A newer request cut this stream short; what did arrive must still be
	// the right plaintext.
	if plaintext != nil && !bytes.Equal(body, plaintext[offset:offset+int64(len(body))]) {
		s.outcome = outcomeMismatch
		return s
	}
	switch {
	case err == nil && int64(len(body)) == length:
		s.outcome = outcomeCompleted
	case errors.Is(err, io.ErrUnexpectedEOF) || int64(len(body)) < length:
		s.outcome = outcomeSuperseded
	default:
		s.outcome = outcomeError
	}
	return s
}

func probeSize(ctx context.Context, client *http.Client, url string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("HEAD %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HEAD %s: unexpected status %s", url, resp.Status)
	}
	if resp.ContentLength <= 0 {
		return 0, fmt.Errorf("HEAD %s: resource has no length", url)
	}
	return resp.ContentLength, nil
}

func percentiles(latencies []time.Duration) (p50, p95, p99 time.Duration) {
	if len(latencies) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	at := func(p float64) time.Duration {
		idx := int(float64(len(sorted)-1) * p)
		return sorted[idx]
	}
	return at(0.50), at(0.95), at(0.99)
}

// Regression compares a run against a stored baseline.
type Regression struct {
	LatencyP95Change float64
	ThroughputChange float64
	Significant      bool
}

// SaveBaseline writes results as JSON.
func SaveBaseline(path string, results *StormResults) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// AnalyzeRegression loads the baseline at path and flags a regression when
// p95 latency grew or throughput shrank by more than threshold percent.
func AnalyzeRegression(results *StormResults, path string, threshold float64) (*Regression, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var baseline StormResults
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, fmt.Errorf("failed to parse baseline: %w", err)
	}

	r := &Regression{}
	if baseline.LatencyP95 > 0 {
		r.LatencyP95Change = 100 * float64(results.LatencyP95-baseline.LatencyP95) / float64(baseline.LatencyP95)
	}
	if baseline.Throughput > 0 {
		r.ThroughputChange = 100 * (results.Throughput - baseline.Throughput) / baseline.Throughput
	}
	r.Significant = r.LatencyP95Change > threshold || r.ThroughputChange < -threshold
	return r, nil
}

// PrintResults writes a human readable summary to stdout.
func PrintResults(r *StormResults) {
	fmt.Printf("Requests:    %d\n", r.Requests)
	fmt.Printf("Completed:   %d\n", r.Completed)
	fmt.Printf("Superseded:  %d\n", r.Superseded)
	fmt.Printf("Errors:      %d\n", r.Errors)
	fmt.Printf("Mismatches:  %d\n", r.Mismatches)
	fmt.Printf("Bytes:       %d\n", r.Bytes)
	fmt.Printf("Throughput:  %.2f MiB/s\n", r.Throughput/(1024*1024))
	fmt.Printf("Latency p50: %v\n", r.LatencyP50)
	fmt.Printf("Latency p95: %v\n", r.LatencyP95)
	fmt.Printf("Latency p99: %v\n", r.LatencyP99)
}
