package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/media-resource-loader/internal/config"
)

// EventType represents the type of audit event.
type EventType string

const (
	// EventTypeSessionStart is logged when a data request starts pumping.
	EventTypeSessionStart EventType = "session_start"
	// EventTypeSessionSuperseded is logged when a newer request replaces a session.
	EventTypeSessionSuperseded EventType = "session_superseded"
	// EventTypeSessionCompleted is logged when a session delivered its whole range.
	EventTypeSessionCompleted EventType = "session_completed"
	// EventTypeSessionFailed is logged when a session ends with an error.
	EventTypeSessionFailed EventType = "session_failed"
	// EventTypeRequestRejected is logged when a request is finished without a session.
	EventTypeRequestRejected EventType = "request_rejected"
)

// AuditEvent represents a single audit log event.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Resource  string                 `json:"resource"`
	SessionID string                 `json:"session_id,omitempty"`
	Offset    int64                  `json:"offset"`
	Length    int64                  `json:"length"`
	Bytes     int64                  `json:"bytes"`
	Algorithm string                 `json:"algorithm,omitempty"`
	Success   bool                   `json:"success"`
	Error     string                 `json:"error,omitempty"`
	Duration  time.Duration          `json:"duration_ms"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Session describes one playback session for audit purposes.
type Session struct {
	Resource  string
	SessionID string
	Offset    int64
	Length    int64
	Algorithm string
}

// Logger is the interface for audit logging.
type Logger interface {
	// Log logs an audit event.
	Log(event *AuditEvent) error

	// LogSession logs a session lifecycle event. bytes is the number of
	// plaintext bytes delivered so far.
	LogSession(eventType EventType, s Session, bytes int64, err error, duration time.Duration)

	// GetEvents returns retained audit events (for testing/querying).
	GetEvents() []*AuditEvent

	// Close closes the logger and its underlying writer.
	Close() error
}

type auditLogger struct {
	mu        sync.Mutex
	events    []*AuditEvent
	maxEvents int
	writer    EventWriter
	logger    *logrus.Logger
}

// EventWriter is an interface for writing audit events.
type EventWriter interface {
	WriteEvent(event *AuditEvent) error
}

// NewLogger creates a new audit logger keeping at most maxEvents in memory.
// A nil writer prints JSON lines to stdout.
func NewLogger(maxEvents int, writer EventWriter) Logger {
	return newAuditLogger(maxEvents, writer, logrus.StandardLogger())
}

func newAuditLogger(maxEvents int, writer EventWriter, logger *logrus.Logger) *auditLogger {
	if writer == nil {
		writer = NewStreamSink(os.Stdout)
	}
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &auditLogger{
		events:    make([]*AuditEvent, 0, min(maxEvents, 64)),
		maxEvents: maxEvents,
		writer:    writer,
		logger:    logger,
	}
}

// NewLoggerFromConfig creates a new audit logger from configuration. Sink
// failures are reported through logger.
func NewLoggerFromConfig(cfg config.AuditConfig, logger *logrus.Logger) (Logger, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var writer EventWriter

	switch cfg.Sink.Type {
	case "http":
		if cfg.Sink.Endpoint == "" {
			return nil, fmt.Errorf("http audit sink requires an endpoint")
		}
		writer = NewHTTPSink(cfg.Sink.Endpoint, cfg.Sink.Headers)
	case "file":
		if cfg.Sink.FilePath == "" {
			return nil, fmt.Errorf("file audit sink requires file_path")
		}
		writer = NewFileSink(cfg.Sink.FilePath)
	case "stdout", "":
		writer = NewStreamSink(os.Stdout)
	default:
		return nil, fmt.Errorf("unknown sink type: %s", cfg.Sink.Type)
	}

	if cfg.Sink.BatchSize > 0 || cfg.Sink.FlushInterval > 0 {
		writer = NewBatchSink(writer, cfg.Sink.BatchSize, cfg.Sink.FlushInterval, logger)
	}

	return newAuditLogger(cfg.MaxEvents, writer, logger), nil
}

// Log logs an audit event. Writer failures are logged and never fail the
// caller.
func (l *auditLogger) Log(event *AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.WriteEvent(event); err != nil {
		l.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"session_id": event.SessionID,
		}).Warn("Failed to write audit event")
	}

	l.events = append(l.events, event)
	if len(l.events) > l.maxEvents {
		l.events = l.events[len(l.events)-l.maxEvents:]
	}
	return nil
}

func (l *auditLogger) LogSession(eventType EventType, s Session, bytes int64, err error, duration time.Duration) {
	event := &AuditEvent{
		Timestamp: time.Now(),
		EventType: eventType,
		Resource:  s.Resource,
		SessionID: s.SessionID,
		Offset:    s.Offset,
		Length:    s.Length,
		Bytes:     bytes,
		Algorithm: s.Algorithm,
		Success:   err == nil,
		Duration:  duration,
	}
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(event)
}

func (l *auditLogger) GetEvents() []*AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := make([]*AuditEvent, len(l.events))
	copy(events, l.events)
	return events
}

func (l *auditLogger) Close() error {
	if sink, ok := l.writer.(Sink); ok {
		return sink.Close()
	}
	return nil
}

// MarshalJSON reports Duration in milliseconds.
func (e *AuditEvent) MarshalJSON() ([]byte, error) {
	type alias AuditEvent
	return json.Marshal(&struct {
		*alias
		Duration int64 `json:"duration_ms"`
	}{
		alias:    (*alias)(e),
		Duration: e.Duration.Milliseconds(),
	})
}
