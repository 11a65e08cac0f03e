// Package loader serves playback-engine load requests for one encrypted media
// resource. Each data request becomes a session whose pump reads, decrypts and
// delivers bounded chunks on a fixed cadence; a new data request supersedes
// the live session.
package loader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kenneth/media-resource-loader/internal/audit"
	"github.com/kenneth/media-resource-loader/internal/config"
	"github.com/kenneth/media-resource-loader/internal/crypto"
	"github.com/kenneth/media-resource-loader/internal/metrics"
	"github.com/kenneth/media-resource-loader/internal/mime"
	"github.com/kenneth/media-resource-loader/internal/source"
	"github.com/kenneth/media-resource-loader/internal/tracing"
)

// Controller is the entry point a playback engine calls for every load
// request on the resource. It is safe for concurrent use.
type Controller struct {
	src       source.ByteReader
	cipherCtx *crypto.CipherContext
	resolver  mime.Resolver
	pool      *crypto.BufferPool

	logger  *logrus.Logger
	metrics *metrics.Metrics
	audit   audit.Logger
	tracer  trace.Tracer

	tickInterval  time.Duration
	maxChunkBytes int
	stallTimeout  time.Duration

	// mu serializes session replacement: the old pump is stopped and its
	// request is finished before the new session starts. active is only
	// written under mu.
	mu     sync.Mutex
	active atomic.Pointer[session]
	closed atomic.Bool

	wg sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithMetrics records session and chunk metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithAudit records session lifecycle events.
func WithAudit(a audit.Logger) Option {
	return func(c *Controller) { c.audit = a }
}

// WithTracer sets the tracer used for session spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// WithResolver replaces the content-type resolver.
func WithResolver(r mime.Resolver) Option {
	return func(c *Controller) { c.resolver = r }
}

// WithCipherContext sets the password context used to decrypt.
func WithCipherContext(cc *crypto.CipherContext) Option {
	return func(c *Controller) { c.cipherCtx = cc }
}

// WithBufferPool sets the pool chunk buffers are taken from.
func WithBufferPool(p *crypto.BufferPool) Option {
	return func(c *Controller) { c.pool = p }
}

// WithTickInterval sets the pump cadence. Non-positive values are ignored.
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithStallTimeout bounds how long supersession waits for a pump stuck
// delivering to the engine.
func WithStallTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.stallTimeout = d
		}
	}
}

// WithMaxChunkBytes caps the bytes read and delivered per tick. Non-positive
// values are ignored.
func WithMaxChunkBytes(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxChunkBytes = n
		}
	}
}

// New creates a controller that owns src. src is closed by Close.
func New(src source.ByteReader, opts ...Option) *Controller {
	c := &Controller{
		src:           src,
		tickInterval:  config.DefaultTickInterval,
		maxChunkBytes: config.DefaultMaxChunkBytes,
		stallTimeout:  config.DefaultStallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.cipherCtx == nil {
		c.cipherCtx = crypto.NewCipherContext(crypto.DefaultParams())
	}
	if c.resolver == nil {
		c.resolver = mime.NewTableResolver(nil)
	}
	if c.pool == nil {
		c.pool = crypto.GetGlobalBufferPool()
	}
	if c.tracer == nil {
		c.tracer = tracing.Tracer()
	}
	return c
}

// NewFromConfig creates a controller from the encryption, loader and mime
// sections of cfg. Explicit opts are applied after the configured ones.
func NewFromConfig(cfg *config.Config, src source.ByteReader, opts ...Option) (*Controller, error) {
	params, err := crypto.ParamsFromConfig(cfg.Encryption)
	if err != nil {
		return nil, err
	}
	cc := crypto.NewCipherContext(params)

	password, err := cfg.Encryption.ResolvePassword()
	if err != nil {
		return nil, err
	}
	if err := cc.SetPassword(password); err != nil {
		return nil, err
	}

	base := []Option{
		WithCipherContext(cc),
		WithResolver(mime.NewTableResolver(cfg.Mime.Overrides)),
		WithTickInterval(cfg.Loader.TickInterval),
		WithMaxChunkBytes(cfg.Loader.MaxChunkBytes),
		WithStallTimeout(cfg.Loader.StallTimeout),
	}
	return New(src, append(base, opts...)...), nil
}

// SetPassword sets the decryption password. It fails with
// crypto.ErrPasswordLocked once data has been served.
func (c *Controller) SetPassword(password string) error {
	return c.cipherCtx.SetPassword(password)
}

// State reports the session lifecycle state.
func (c *Controller) State() State {
	s := c.active.Load()
	if s == nil {
		return StateIdle
	}
	return State(s.state.Load())
}

// Source returns the byte source the controller reads from.
func (c *Controller) Source() source.ByteReader {
	return c.src
}

// Ready reports whether requests can be served.
func (c *Controller) Ready() error {
	if c.closed.Load() {
		return ErrControllerClosed
	}
	return c.sourceErr()
}

// ShouldHandle accepts every request and serves it asynchronously. The
// engine must wait for Finish.
func (c *Controller) ShouldHandle(req LoadRequest) bool {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.HandleRequest(req)
	}()
	return true
}

// HandleRequest answers the metadata sub-request, then either finishes the
// request or makes it the live session, superseding the previous one.
func (c *Controller) HandleRequest(req LoadRequest) {
	log := c.logger.WithField("resource", req.ResourceName())

	if err := c.Ready(); err != nil {
		c.reject(req, err)
		return
	}

	if md := req.Metadata(); md != nil {
		c.fillMetadata(req, md)
	}

	data := req.Data()
	if data == nil {
		req.Finish(nil)
		c.metrics.RecordRequestFinished(metrics.OutcomeCompleted)
		return
	}

	offset, length, err := c.resolveRange(data)
	if err != nil {
		c.reject(req, err)
		return
	}

	ciph, err := c.cipherCtx.Cipher()
	if err != nil {
		c.reject(req, fmt.Errorf("failed to derive cipher: %w", err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		c.reject(req, ErrControllerClosed)
		return
	}

	c.supersedeLocked(metrics.OutcomeSuperseded)

	s := c.newSession(req, data, ciph, offset, length)
	s.state.Store(int32(StateActive))
	c.active.Store(s)

	c.metrics.RecordSessionStart()
	c.auditSession(audit.EventTypeSessionStart, s, nil)
	log.WithFields(logrus.Fields{
		"session_id": s.id,
		"offset":     offset,
		"length":     length,
	}).Info("Session started")

	c.wg.Add(1)
	go c.runPump(s)
}

// Close finishes the live session without error, stops its pump and closes
// the source. Later requests are finished with ErrControllerClosed.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed.Swap(true) {
		c.mu.Unlock()
		return nil
	}
	c.supersedeLocked(metrics.OutcomeClosed)
	c.mu.Unlock()

	c.logger.Info("Loader controller closed")
	return c.src.Close()
}

// Wait blocks until every dispatched request has been handled and no pump is
// running.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// supersedeLocked stops the live session and finishes its request without
// error. A session stuck inside Respond is abandoned after the stall timeout
// so that one unresponsive engine cannot block the controller. c.mu must be
// held.
func (c *Controller) supersedeLocked(outcome string) {
	s := c.active.Load()
	if s == nil {
		return
	}
	s.state.Store(int32(StateFinishing))
	stopped := s.stop(c.stallTimeout)
	if c.finishSession(s, nil, outcome) {
		log := c.logger.WithFields(logrus.Fields{
			"session_id": s.id,
			"outcome":    outcome,
		})
		if stopped {
			log.WithField("cursor", s.cursor).Debug("Session stopped")
		} else {
			log.WithField("stall_timeout", c.stallTimeout.String()).Warn("Session abandoned while delivery was stalled")
		}
	}
	c.active.Store(nil)
}

// release clears s as the live session after its pump finished on its own.
func (c *Controller) release(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active.CompareAndSwap(s, nil)
}

func (c *Controller) newSession(req LoadRequest, data DataRequest, ciph *crypto.Cipher, offset, length int64) *session {
	id := uuid.NewString()
	resource := c.resourceName(req)

	ctx, span := c.tracer.Start(context.Background(), "loader.session",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("resource.name", resource),
			attribute.Int64("range.offset", offset),
			attribute.Int64("range.length", length),
			attribute.String("cipher.algorithm", ciph.Algorithm()),
		),
	)
	ctx, cancel := context.WithCancel(ctx)

	return &session{
		id:       id,
		resource: resource,
		offset:   offset,
		length:   length,
		cursor:   offset,
		req:      req,
		data:     data,
		cipher:   ciph,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		deliver:  make(chan struct{}, 1),
		span:     span,
		started:  time.Now(),
	}
}

// finishSession finishes the session's request once and records the
// outcome. It reports whether this call finished the request.
func (c *Controller) finishSession(s *session, err error, outcome string) bool {
	return s.finish(func() {
		s.cancel()
		s.req.Finish(err)

		c.metrics.RecordSessionEnd(outcome)

		eventType := audit.EventTypeSessionCompleted
		switch outcome {
		case metrics.OutcomeSuperseded, metrics.OutcomeClosed:
			eventType = audit.EventTypeSessionSuperseded
		case metrics.OutcomeFailed:
			eventType = audit.EventTypeSessionFailed
		}
		c.auditSession(eventType, s, err)

		s.span.SetAttributes(
			attribute.String("session.outcome", outcome),
			attribute.Int64("session.bytes", s.delivered.Load()),
		)
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
		s.span.End()

		fields := logrus.Fields{
			"session_id": s.id,
			"outcome":    outcome,
			"bytes":      s.delivered.Load(),
			"chunks":     s.chunks.Load(),
			"duration":   time.Since(s.started).String(),
		}
		if err != nil {
			c.logger.WithFields(fields).WithError(err).Warn("Session failed")
			return
		}
		c.logger.WithFields(fields).Info("Session finished")
	})
}

func (c *Controller) reject(req LoadRequest, err error) {
	req.Finish(err)
	c.metrics.RecordRequestFinished(metrics.OutcomeRejected)
	if c.audit != nil {
		c.audit.LogSession(audit.EventTypeRequestRejected, audit.Session{Resource: c.resourceName(req)}, 0, err, 0)
	}
	c.logger.WithField("resource", req.ResourceName()).WithError(err).Warn("Request rejected")
}

func (c *Controller) auditSession(eventType audit.EventType, s *session, err error) {
	if c.audit == nil {
		return
	}
	var d time.Duration
	if eventType != audit.EventTypeSessionStart {
		d = time.Since(s.started)
	}
	c.audit.LogSession(eventType, audit.Session{
		Resource:  s.resource,
		SessionID: s.id,
		Offset:    s.offset,
		Length:    s.length,
		Algorithm: s.cipher.Algorithm(),
	}, s.delivered.Load(), err, d)
}

func (c *Controller) fillMetadata(req LoadRequest, md MetadataRequest) {
	contentType, _ := mime.ResolveName(c.resolver, c.resourceName(req))
	md.SetContentType(contentType)
	md.SetContentLength(c.src.Size())
	md.SetByteRangeAccessSupported(true)
}

// resolveRange clamps the requested range to the resource. A ToEnd length
// runs to the end of the file.
func (c *Controller) resolveRange(data DataRequest) (int64, int64, error) {
	size := c.src.Size()
	offset := data.RequestedOffset()
	if offset < 0 || offset >= size {
		return 0, 0, fmt.Errorf("%w: offset %d, size %d", ErrRangeNotSatisfiable, offset, size)
	}

	length := data.RequestedLength()
	switch {
	case length == ToEnd:
		length = size - offset
	case length < 0:
		return 0, 0, fmt.Errorf("%w: length %d", ErrRangeNotSatisfiable, length)
	case length > size-offset:
		length = size - offset
	}
	return offset, length, nil
}

func (c *Controller) sourceErr() error {
	if err := c.src.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	if c.src.Size() <= 0 {
		return fmt.Errorf("%w: empty resource", ErrSourceUnavailable)
	}
	return nil
}

func (c *Controller) resourceName(req LoadRequest) string {
	if name := req.ResourceName(); name != "" {
		return name
	}
	return c.src.Name()
}
