package audit

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenneth/media-resource-loader/internal/config"
)

func TestLogSession(t *testing.T) {
	mock := &mockWriter{}
	logger := NewLogger(10, mock)

	s := Session{Resource: "movie.mp4", SessionID: "abc", Offset: 40, Length: 60, Algorithm: "aes-256-ctr"}
	logger.LogSession(EventTypeSessionStart, s, 0, nil, 0)
	logger.LogSession(EventTypeSessionFailed, s, 20, errors.New("read failed"), 5*time.Millisecond)

	events := logger.GetEvents()
	require.Len(t, events, 2)

	assert.Equal(t, EventTypeSessionStart, events[0].EventType)
	assert.True(t, events[0].Success)
	assert.Equal(t, int64(40), events[0].Offset)

	assert.Equal(t, EventTypeSessionFailed, events[1].EventType)
	assert.False(t, events[1].Success)
	assert.Equal(t, "read failed", events[1].Error)
	assert.Equal(t, int64(20), events[1].Bytes)

	assert.Equal(t, 2, mock.count())
}

func TestLogger_MaxEvents(t *testing.T) {
	logger := NewLogger(3, &mockWriter{})

	for i := 0; i < 5; i++ {
		logger.LogSession(EventTypeSessionCompleted, Session{Offset: int64(i)}, 0, nil, 0)
	}

	events := logger.GetEvents()
	require.Len(t, events, 3)
	assert.Equal(t, int64(2), events[0].Offset)
	assert.Equal(t, int64(4), events[2].Offset)
}

func TestAuditEvent_DurationMillis(t *testing.T) {
	data, err := json.Marshal(&AuditEvent{EventType: EventTypeSessionCompleted, Duration: 1500 * time.Millisecond})
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(1500), raw["duration_ms"])
	assert.Equal(t, "session_completed", raw["event_type"])
}

func TestNewLoggerFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		sink    config.SinkConfig
		wantErr bool
	}{
		{name: "stdout", sink: config.SinkConfig{Type: "stdout"}},
		{name: "default", sink: config.SinkConfig{}},
		{name: "file", sink: config.SinkConfig{Type: "file", FilePath: "audit.log"}},
		{name: "batched http", sink: config.SinkConfig{Type: "http", Endpoint: "http://localhost:1234", BatchSize: 10}},
		{name: "http without endpoint", sink: config.SinkConfig{Type: "http"}, wantErr: true},
		{name: "file without path", sink: config.SinkConfig{Type: "file"}, wantErr: true},
		{name: "unknown", sink: config.SinkConfig{Type: "syslog"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.AuditConfig{Enabled: true, MaxEvents: 10, Sink: tt.sink}
			if cfg.Sink.FilePath != "" {
				cfg.Sink.FilePath = filepath.Join(t.TempDir(), cfg.Sink.FilePath)
			}
			logger, err := NewLoggerFromConfig(cfg, logrus.New())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.NoError(t, logger.Close())
		})
	}
}

type failingWriter struct{}

func (failingWriter) WriteEvent(*AuditEvent) error { return errors.New("collector down") }

func TestLog_WriterFailureIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	l := newAuditLogger(10, failingWriter{}, logger)

	require.NoError(t, l.Log(&AuditEvent{EventType: EventTypeSessionFailed, SessionID: "s-1"}))

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "s-1", entry.Data["session_id"])
	assert.Len(t, l.GetEvents(), 1, "the event is retained even when the sink fails")
}
