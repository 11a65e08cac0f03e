package loader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/media-resource-loader/internal/crypto"
)

// State is the controller's session lifecycle state.
type State int32

const (
	// StateIdle means no session is live.
	StateIdle State = iota
	// StateActive means a session's pump is delivering data.
	StateActive
	// StateFinishing means the live session is being stopped.
	StateFinishing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFinishing:
		return "finishing"
	default:
		return "unknown"
	}
}

// session is the live association between one data request and its pump.
// cursor is owned by the pump goroutine until done is closed.
type session struct {
	id       string
	resource string
	offset   int64
	length   int64
	cursor   int64

	delivered atomic.Int64
	chunks    atomic.Int32

	req    LoadRequest
	data   DataRequest
	cipher *crypto.Cipher

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// deliver is a one-slot semaphore held around "check cancellation, then
	// Respond". stop cancels while holding it unless a delivery is stalled.
	deliver chan struct{}

	finishOnce sync.Once
	span       trace.Span
	started    time.Time
}

func (s *session) end() int64 {
	return s.offset + s.length
}

// stop cancels the pump and waits up to grace for it to exit. It reports
// false when the pump is stuck delivering to the engine; the pump is then
// abandoned and will not start another delivery.
func (s *session) stop(grace time.Duration) bool {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case s.deliver <- struct{}{}:
		s.cancel()
		<-s.deliver
	case <-timer.C:
		s.cancel()
		return false
	}

	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// finish runs fn exactly once for the session and reports whether this call
// did it.
func (s *session) finish(fn func()) bool {
	ran := false
	s.finishOnce.Do(func() {
		ran = true
		fn()
	})
	return ran
}
