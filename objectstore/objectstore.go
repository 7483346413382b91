// Package objectstore defines the append-only object store boundary used by
// the audio-fork service. Backends live in subpackages.
package objectstore

import (
	"context"
	"errors"
)

// ContentTypeOctetStream is the content type of raw audio objects.
const ContentTypeOctetStream = "application/octet-stream"

// ErrWriterClosed is returned by Write and Close after the writer is closed.
var ErrWriterClosed = errors.New("objectstore: writer is closed")

// Store opens streaming writers on named objects.
type Store interface {
	// OpenWriter starts a new object. The object becomes visible once the
	// writer is closed successfully.
	OpenWriter(ctx context.Context, bucket, object, contentType string) (Writer, error)
}

// Writer appends bytes to one object.
type Writer interface {
	Write(p []byte) (int, error)
	Close() error
	IsOpen() bool
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, bucket, object, contentType string) (Writer, error)

// OpenWriter calls f.
func (f StoreFunc) OpenWriter(ctx context.Context, bucket, object, contentType string) (Writer, error) {
	return f(ctx, bucket, object, contentType)
}
