package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	httpSinkTimeout      = 10 * time.Second
)

// Sink is an EventWriter that holds resources until closed.
type Sink interface {
	EventWriter
	Close() error
}

// ReportWriter accepts a whole batch of events at once.
type ReportWriter interface {
	WriteReport(report *Report) error
}

// SessionTrail is the ordered list of events logged for one session.
// Rejected requests never get a session and share the trail with an empty ID.
type SessionTrail struct {
	SessionID string        `json:"session_id"`
	Events    []*AuditEvent `json:"events"`
}

// Report is the payload a batch of audit events is delivered as.
type Report struct {
	Resource string            `json:"resource"`
	SentAt   time.Time         `json:"sent_at"`
	Outcomes map[EventType]int `json:"outcomes"`
	// Bytes sums the plaintext delivered by sessions that ended in this batch.
	Bytes    int64          `json:"bytes_delivered"`
	Sessions []SessionTrail `json:"sessions"`
}

// NewReport groups events by session, keeping the order in which each
// session first appeared.
func NewReport(events []*AuditEvent) *Report {
	r := &Report{
		SentAt:   time.Now().UTC(),
		Outcomes: make(map[EventType]int),
	}
	index := make(map[string]int)
	for _, e := range events {
		if r.Resource == "" {
			r.Resource = e.Resource
		}
		r.Outcomes[e.EventType]++
		if e.EventType.terminal() {
			r.Bytes += e.Bytes
		}

		i, ok := index[e.SessionID]
		if !ok {
			i = len(r.Sessions)
			index[e.SessionID] = i
			r.Sessions = append(r.Sessions, SessionTrail{SessionID: e.SessionID})
		}
		r.Sessions[i].Events = append(r.Sessions[i].Events, e)
	}
	return r
}

func (t EventType) terminal() bool {
	switch t {
	case EventTypeSessionCompleted, EventTypeSessionSuperseded, EventTypeSessionFailed:
		return true
	}
	return false
}

// BatchSink buffers events and hands them to the wrapped writer from a single
// goroutine, either when size events are pending or every interval.
type BatchSink struct {
	wrapped  EventWriter
	logger   *logrus.Logger
	size     int
	interval time.Duration

	mu      sync.Mutex
	pending []*AuditEvent

	kick      chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewBatchSink starts a batching sink in front of wrapped. Flush failures are
// logged to logger and the batch is dropped.
func NewBatchSink(wrapped EventWriter, size int, interval time.Duration, logger *logrus.Logger) *BatchSink {
	if size <= 0 {
		size = defaultBatchSize
	}
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &BatchSink{
		wrapped:  wrapped,
		logger:   logger,
		size:     size,
		interval: interval,
		pending:  make([]*AuditEvent, 0, size),
		kick:     make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

// WriteEvent queues event. It never blocks on the wrapped writer.
func (s *BatchSink) WriteEvent(event *AuditEvent) error {
	s.mu.Lock()
	s.pending = append(s.pending, event)
	full := len(s.pending) >= s.size
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close flushes what is pending, stops the flusher and closes the wrapped
// writer when it is a Sink.
func (s *BatchSink) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	<-s.done
	if sink, ok := s.wrapped.(Sink); ok {
		return sink.Close()
	}
	return nil
}

func (s *BatchSink) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-s.kick:
		case <-s.closeCh:
			s.flush(s.take())
			return
		}
		s.flush(s.take())
	}
}

func (s *BatchSink) take() []*AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	events := s.pending
	s.pending = make([]*AuditEvent, 0, s.size)
	return events
}

func (s *BatchSink) flush(events []*AuditEvent) {
	if len(events) == 0 {
		return
	}

	var err error
	if rw, ok := s.wrapped.(ReportWriter); ok {
		err = rw.WriteReport(NewReport(events))
	} else {
		for _, event := range events {
			if werr := s.wrapped.WriteEvent(event); werr != nil && err == nil {
				err = werr
			}
		}
	}
	if err != nil {
		s.logger.WithError(err).WithField("events", len(events)).Warn("Failed to flush audit events")
	}
}

// HTTPSink posts reports as JSON to a collector endpoint.
type HTTPSink struct {
	endpoint string
	headers  map[string]string
	client   *http.Client
}

// NewHTTPSink creates a sink posting to endpoint with the extra headers.
func NewHTTPSink(endpoint string, headers map[string]string) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		headers:  headers,
		client:   &http.Client{Timeout: httpSinkTimeout},
	}
}

// WriteEvent posts a single-event report.
func (s *HTTPSink) WriteEvent(event *AuditEvent) error {
	return s.WriteReport(NewReport([]*AuditEvent{event}))
}

// WriteReport posts report. Any status of 400 or above is an error.
func (s *HTTPSink) WriteReport(report *Report) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode audit report: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), httpSinkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post audit report: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("audit collector returned %s", resp.Status)
	}
	return nil
}

// StreamSink writes one JSON event per line to an io.Writer.
type StreamSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStreamSink creates a sink writing JSON lines to w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{enc: json.NewEncoder(w)}
}

// WriteEvent writes event as one line.
func (s *StreamSink) WriteEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(event)
}

// FileSink appends JSON lines to a file that stays open until Close.
type FileSink struct {
	path string

	mu     sync.Mutex
	file   *os.File
	stream *StreamSink
}

// NewFileSink creates a sink appending to path. The file is opened on the
// first write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// WriteEvent appends event to the file.
func (s *FileSink) WriteEvent(event *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open audit file: %w", err)
		}
		s.file = f
		s.stream = NewStreamSink(f)
	}
	return s.stream.WriteEvent(event)
}

// Close closes the file if it was opened.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.stream = nil
	return err
}
