package crypto

import (
	"context"
	"io"
)

// DefaultStreamBufferSize is the read size used by StreamReader.
const DefaultStreamBufferSize = 64 * 1024

// StreamReader applies a Cipher to a sequential stream whose first byte sits
// at a known absolute offset. It is used for whole-file tooling; the loader
// itself transforms positioned chunks directly.
type StreamReader struct {
	ctx     context.Context
	source  io.Reader
	cipher  *Cipher
	offset  int64
	pool    *BufferPool
	pending []byte
	buf     []byte
	err     error
}

// NewStreamReader wraps source. offset is the absolute position of the first
// byte source will return.
func NewStreamReader(ctx context.Context, source io.Reader, c *Cipher, offset int64, pool *BufferPool) *StreamReader {
	if pool == nil {
		pool = GetGlobalBufferPool()
	}
	return &StreamReader{
		ctx:    ctx,
		source: source,
		cipher: c,
		offset: offset,
		pool:   pool,
	}
}

// Offset returns the absolute position of the next byte Read will produce.
func (r *StreamReader) Offset() int64 {
	return r.offset - int64(len(r.pending))
}

// Read implements io.Reader.
func (r *StreamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
	}

	if len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if err := r.fill(); err != nil && len(r.pending) == 0 {
			return 0, err
		}
	}

	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	if len(r.pending) == 0 && r.buf != nil {
		r.pool.Put(r.buf)
		r.buf = nil
	}
	return n, nil
}

func (r *StreamReader) fill() error {
	buf := r.pool.Get(DefaultStreamBufferSize)
	n, err := io.ReadFull(r.source, buf)
	if n > 0 {
		if terr := r.cipher.Transform(buf[:n], buf[:n], r.offset); terr != nil {
			r.pool.Put(buf)
			r.err = terr
			return terr
		}
		r.offset += int64(n)
		r.buf = buf
		r.pending = buf[:n]
	} else {
		r.pool.Put(buf)
	}

	switch err {
	case nil:
		return nil
	case io.EOF, io.ErrUnexpectedEOF:
		r.err = io.EOF
	default:
		r.err = err
	}
	return r.err
}

// Close releases any buffered plaintext back to the pool.
func (r *StreamReader) Close() error {
	if r.buf != nil {
		r.pool.Put(r.buf)
		r.buf = nil
	}
	r.pending = nil
	if r.err == nil {
		r.err = io.EOF
	}
	return nil
}
