package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kenneth/media-resource-loader/internal/config"
	"github.com/kenneth/media-resource-loader/internal/loader"
	"github.com/kenneth/media-resource-loader/internal/metrics"
	"github.com/kenneth/media-resource-loader/internal/middleware"
)

// Handler exposes the loader as an HTTP playback engine. Every GET or HEAD on
// the media route becomes one load request; a newer GET supersedes the stream
// of an older one, as a seeking player would.
type Handler struct {
	controller   *loader.Controller
	logger       *logrus.Logger
	metrics      *metrics.Metrics
	writeTimeout time.Duration
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithWriteTimeout sets the deadline for writing one chunk to a client.
func WithWriteTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// NewHandler creates a new API handler.
func NewHandler(controller *loader.Controller, logger *logrus.Logger, m *metrics.Metrics, opts ...HandlerOption) *Handler {
	h := &Handler{
		controller:   controller,
		logger:       logger,
		metrics:      m,
		writeTimeout: config.DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", metrics.ReadinessHandler(h.ready)).Methods(http.MethodGet)
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/media/{name}", h.handleMedia).Methods(http.MethodGet, http.MethodHead)
}

// NewRouter builds the full HTTP handler with recovery, logging, metrics and
// tracing middleware.
func NewRouter(h *Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RecoveryMiddleware(h.logger))
	r.Use(middleware.LoggingMiddleware(h.logger))
	if h.metrics != nil {
		r.Use(middleware.MetricsMiddleware(h.metrics))
	}
	h.RegisterRoutes(r)
	return captureConn(otelhttp.NewHandler(r, "medialoader"))
}

type connKey struct{}

// captureConn keeps a controller for the server's writer in the request
// context so handlers can set deadlines through any wrapping.
func captureConn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), connKey{}, http.NewResponseController(w))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) ready(context.Context) error {
	return h.controller.Ready()
}

func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	src := h.controller.Source()
	if name != src.Name() {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	req := newHTTPRequest(name, w, h.writeTimeout)
	if conn, ok := r.Context().Value(connKey{}).(*http.ResponseController); ok {
		req.conn = conn
	}
	req.metaOnly = r.Method == http.MethodHead

	if rng := r.Header.Get("Range"); rng != "" && !req.metaOnly && src.Err() == nil {
		size := src.Size()
		start, end, err := parseByteRange(rng, size)
		switch {
		case errors.Is(err, errInvalidRange):
			http.Error(w, "invalid range", http.StatusBadRequest)
			return
		case errors.Is(err, errRangeNotSatisfiable):
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
			return
		case err != nil:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		req.ranged = true
		req.offset = start
		req.length = end - start + 1
	}

	h.controller.ShouldHandle(req)

	log := h.logger.WithFields(logrus.Fields{
		"resource": name,
		"offset":   req.offset,
		"length":   req.length,
	})

	select {
	case <-req.done:
	case <-r.Context().Done():
		req.close()
		log.Debug("Client disconnected before the request finished")
		return
	}

	wroteHeader, written := req.close()
	err := req.finishErr
	switch {
	case err == nil && req.metaOnly:
		req.mu.Lock()
		req.writeHeaderLocked()
		req.mu.Unlock()
	case err == nil && !wroteHeader:
		// Superseded before any byte was produced.
		http.Error(w, "superseded by a newer request", http.StatusConflict)
	case err == nil:
	case wroteHeader:
		log.WithError(err).WithField("bytes", written).Warn("Stream ended with error")
		panic(http.ErrAbortHandler)
	default:
		status := statusForError(err)
		if status == http.StatusRequestedRangeNotSatisfiable {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", src.Size()))
		}
		http.Error(w, http.StatusText(status), status)
	}
}

// statusForError maps a loader finish error to an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, loader.ErrSourceUnavailable), errors.Is(err, loader.ErrControllerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, loader.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable
	default:
		return http.StatusInternalServerError
	}
}
