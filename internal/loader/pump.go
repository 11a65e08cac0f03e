package loader

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/media-resource-loader/internal/debug"
	"github.com/kenneth/media-resource-loader/internal/metrics"
	"github.com/kenneth/media-resource-loader/internal/s3"
	"github.com/kenneth/media-resource-loader/internal/source"
)

type tickResult int

const (
	tickContinue tickResult = iota
	tickComplete
	tickCancelled
)

// runPump drives one session. The first tick runs immediately, the rest on
// the controller's tick interval. It returns once the session completed, failed
// or was cancelled by the controller.
func (c *Controller) runPump(s *session) {
	defer c.wg.Done()

	result, err := c.pumpLoop(s)
	if result == tickComplete {
		s.state.Store(int32(StateFinishing))
		outcome := metrics.OutcomeCompleted
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		c.finishSession(s, err, outcome)
	}

	close(s.done)
	c.release(s)
}

func (c *Controller) pumpLoop(s *session) (tickResult, error) {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		result, err := c.tick(s)
		if result != tickContinue {
			return result, err
		}

		select {
		case <-s.ctx.Done():
			return tickCancelled, nil
		case <-ticker.C:
		}
	}
}

// tick reads, decrypts and delivers one chunk at the session cursor.
func (c *Controller) tick(s *session) (tickResult, error) {
	if s.ctx.Err() != nil {
		return tickCancelled, nil
	}

	remaining := s.end() - s.cursor
	if remaining <= 0 {
		return tickComplete, nil
	}

	start := time.Now()
	n := int(min(int64(c.maxChunkBytes), remaining))
	buf := c.pool.Get(n)
	defer c.pool.Put(buf)

	read, err := c.src.ReadChunk(s.ctx, s.cursor, buf)
	if err != nil {
		if s.ctx.Err() != nil {
			return tickCancelled, nil
		}
		c.metrics.RecordSourceError(sourceErrorType(err))
		return tickComplete, fmt.Errorf("%w at offset %d: %w", ErrSourceRead, s.cursor, err)
	}
	if read == 0 {
		return tickComplete, nil
	}

	chunk := buf[:read]
	decryptStart := time.Now()
	if err := s.cipher.Transform(chunk, chunk, s.cursor); err != nil {
		return tickComplete, fmt.Errorf("decrypt at offset %d: %w", s.cursor, err)
	}
	decryptDur := time.Since(decryptStart)

	select {
	case s.deliver <- struct{}{}:
	case <-s.ctx.Done():
		return tickCancelled, nil
	}
	if s.ctx.Err() != nil {
		<-s.deliver
		return tickCancelled, nil
	}
	err = s.data.Respond(chunk)
	<-s.deliver
	if err != nil {
		return tickComplete, fmt.Errorf("engine rejected chunk at offset %d: %w", s.cursor, err)
	}

	if debug.Enabled() {
		c.logger.WithFields(logrus.Fields{
			"session_id": s.id,
			"cursor":     s.cursor,
			"bytes":      read,
		}).Debug("Delivered chunk")
	}

	s.cursor += int64(read)
	s.delivered.Add(int64(read))
	s.chunks.Add(1)
	c.metrics.RecordChunk(s.ctx, read, time.Since(start), decryptDur)

	if s.cursor >= s.end() {
		return tickComplete, nil
	}
	return tickContinue, nil
}

func sourceErrorType(err error) string {
	switch {
	case errors.Is(err, source.ErrClosed):
		return "closed"
	case errors.Is(err, s3.ErrNotFound):
		return "not_found"
	default:
		return "io"
	}
}
