// Package source provides positioned byte readers over encrypted media.
//
// Every ReadChunk call is an independent positioned read: offsets are not
// contiguous across calls because a new playback session can start anywhere.
package source

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the underlying media could not be opened.
	ErrUnavailable = errors.New("media source unavailable")

	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("media source closed")
)

// ByteReader reads raw (still encrypted) bytes from the media.
type ByteReader interface {
	// Name identifies the resource; its extension selects the content type.
	Name() string

	// Size is the total byte size. Zero when the source is unavailable.
	Size() int64

	// Err reports why the source is unusable, or nil.
	Err() error

	// ReadChunk fills buf with bytes starting at offset. It returns fewer
	// than len(buf) bytes only at end of file.
	ReadChunk(ctx context.Context, offset int64, buf []byte) (int, error)

	Close() error
}
