package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kenneth/media-resource-loader/internal/loader"
)

var errClientGone = errors.New("client disconnected")

// httpRequest adapts one HTTP request/response pair to loader.LoadRequest.
// Response headers are written on the first delivered chunk so that errors
// raised before any data can still change the status code.
type httpRequest struct {
	name string
	w    http.ResponseWriter
	rc   *http.ResponseController
	// conn sets write deadlines. It wraps the server's own writer when the
	// router captured one, since instrumentation wrappers may hide it.
	conn     *http.ResponseController
	metaOnly bool
	ranged   bool
	offset   int64
	length   int64

	// writeTimeout bounds each chunk write so a client that stops reading
	// fails the session instead of holding it.
	writeTimeout time.Duration

	mu            sync.Mutex
	contentType   string
	contentLength int64
	rangeAccess   bool
	wroteHeader   bool
	written       int64
	closed        bool
	deadlineSet   bool

	finishOnce sync.Once
	finishErr  error
	done       chan struct{}
}

func newHTTPRequest(name string, w http.ResponseWriter, writeTimeout time.Duration) *httpRequest {
	rc := http.NewResponseController(w)
	return &httpRequest{
		name:         name,
		w:            w,
		rc:           rc,
		conn:         rc,
		length:       loader.ToEnd,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (r *httpRequest) ResourceName() string { return r.name }

func (r *httpRequest) Metadata() loader.MetadataRequest { return r }

func (r *httpRequest) Data() loader.DataRequest {
	if r.metaOnly {
		return nil
	}
	return r
}

func (r *httpRequest) Finish(err error) {
	r.finishOnce.Do(func() {
		r.finishErr = err
		close(r.done)
	})
}

func (r *httpRequest) SetContentType(ct string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contentType = ct
}

func (r *httpRequest) SetContentLength(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contentLength = n
}

func (r *httpRequest) SetByteRangeAccessSupported(b bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rangeAccess = b
}

func (r *httpRequest) RequestedOffset() int64 { return r.offset }

func (r *httpRequest) RequestedLength() int64 { return r.length }

// Respond writes and flushes one chunk. It fails once the handler has
// returned, which ends the loader session.
func (r *httpRequest) Respond(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errClientGone
	}
	if r.writeTimeout > 0 {
		err := r.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
		switch {
		case err == nil:
			r.deadlineSet = true
		case !errors.Is(err, http.ErrNotSupported):
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if !r.wroteHeader {
		r.writeHeaderLocked()
	}

	n, err := r.w.Write(chunk)
	r.written += int64(n)
	if err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := r.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush response: %w", err)
	}
	return nil
}

// writeHeaderLocked writes the success headers. r.mu must be held.
func (r *httpRequest) writeHeaderLocked() {
	h := r.w.Header()
	ct := r.contentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	if r.rangeAccess {
		h.Set("Accept-Ranges", "bytes")
	}

	status := http.StatusOK
	length := r.contentLength
	switch {
	case r.metaOnly:
	case r.ranged:
		status = http.StatusPartialContent
		length = r.length
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.offset, r.offset+r.length-1, r.contentLength))
	default:
		length = r.contentLength - r.offset
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))

	r.w.WriteHeader(status)
	r.wroteHeader = true
}

// close stops further writes and clears the chunk deadline so it does not
// outlive the request on a kept-alive connection. It returns whether headers
// were written and how many body bytes went out.
func (r *httpRequest) close() (bool, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.deadlineSet {
		_ = r.conn.SetWriteDeadline(time.Time{})
		r.deadlineSet = false
	}
	return r.wroteHeader, r.written
}
