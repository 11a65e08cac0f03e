package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileSource reads from a local file. The handle is opened once at
// construction and owned until Close.
type FileSource struct {
	path string
	size int64
	err  error

	mu   sync.Mutex // serializes seek+read on the shared handle
	file *os.File
}

// OpenFile opens path for reading. It never fails: an unreadable or empty
// file yields a source whose Err reports the problem and whose Size is zero,
// so callers can still answer requests with an explicit error.
func OpenFile(path string) *FileSource {
	s := &FileSource{path: path}

	f, err := os.Open(path)
	if err != nil {
		s.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return s
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		s.err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		return s
	}
	if info.IsDir() {
		f.Close()
		s.err = fmt.Errorf("%w: %s is a directory", ErrUnavailable, path)
		return s
	}
	if info.Size() == 0 {
		f.Close()
		s.err = fmt.Errorf("%w: %s is empty", ErrUnavailable, path)
		return s
	}

	s.file = f
	s.size = info.Size()
	return s
}

// Name returns the base name of the file.
func (s *FileSource) Name() string { return filepath.Base(s.path) }

// Path returns the path the source was opened with.
func (s *FileSource) Path() string { return s.path }

// Size returns the file size captured at open time.
func (s *FileSource) Size() int64 { return s.size }

// Err returns the open error, if any.
func (s *FileSource) Err() error { return s.err }

// ReadChunk seeks to offset and reads up to len(buf) bytes.
func (s *FileSource) ReadChunk(ctx context.Context, offset int64, buf []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return 0, ErrClosed
	}
	if _, err := s.file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to %d: %w", offset, err)
	}

	n, err := io.ReadFull(s.file, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read %d bytes at %d: %w", len(buf), offset, err)
	}
	return n, nil
}

// Close releases the file handle.
func (s *FileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
