package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync/atomic"

	"github.com/kenneth/media-resource-loader/internal/s3"
)

// S3Source reads ranges of an object through ranged GET requests.
type S3Source struct {
	client s3.Client
	bucket string
	key    string
	size   int64
	err    error
	closed atomic.Bool
}

// OpenS3 resolves the object size with a HEAD request. Like OpenFile it
// never fails; a missing object produces an unavailable source.
func OpenS3(ctx context.Context, client s3.Client, bucket, key string) *S3Source {
	s := &S3Source{client: client, bucket: bucket, key: key}

	info, err := client.HeadObject(ctx, bucket, key)
	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return s
	}
	if info.Size <= 0 {
		s.err = fmt.Errorf("%w: s3://%s/%s is empty", ErrUnavailable, bucket, key)
		return s
	}
	s.size = info.Size
	return s
}

// Name returns the base name of the object key.
func (s *S3Source) Name() string { return path.Base(s.key) }

// Size returns the object size.
func (s *S3Source) Size() int64 { return s.size }

// Err returns the open error, if any.
func (s *S3Source) Err() error { return s.err }

// ReadChunk issues one ranged GET for [offset, offset+len(buf)).
func (s *S3Source) ReadChunk(ctx context.Context, offset int64, buf []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if s.closed.Load() {
		return 0, ErrClosed
	}
	if len(buf) == 0 || offset >= s.size {
		return 0, nil
	}

	end := offset + int64(len(buf)) - 1
	if end >= s.size {
		end = s.size - 1
	}

	body, err := s.client.GetObjectRange(ctx, s.bucket, s.key, offset, end)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, buf[:end-offset+1])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read s3://%s/%s at %d: %w", s.bucket, s.key, offset, err)
	}
	return n, nil
}

// Close marks the source closed. No connection is held between reads.
func (s *S3Source) Close() error {
	s.closed.Store(true)
	return nil
}
