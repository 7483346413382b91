// Package gcs stores audio objects in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AmmannChristian/go-audiofork/objectstore"
)

// Store opens resumable upload writers on GCS objects.
type Store struct {
	client    *storage.Client
	chunkSize int
	owned     bool
}

var _ objectstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the resumable upload chunk size. Zero uploads each
// object in a single request when the writer is closed.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.chunkSize = n
		}
	}
}

// New creates a client using application default credentials unless
// clientOpts say otherwise. The STORAGE_EMULATOR_HOST variable is honored
// by the client library.
func New(ctx context.Context, clientOpts []option.ClientOption, opts ...Option) (*Store, error) {
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	s := NewFromClient(client, opts...)
	s.owned = true
	return s, nil
}

// NewFromClient wraps an existing client. Close leaves it open.
func NewFromClient(client *storage.Client, opts ...Option) *Store {
	s := &Store{client: client, chunkSize: -1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenWriter implements objectstore.Store. GCS only creates the object on a
// successful Close.
func (s *Store) OpenWriter(ctx context.Context, bucket, object, contentType string) (objectstore.Writer, error) {
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("gcs: bucket and object name are required")
	}

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if s.chunkSize >= 0 {
		w.ChunkSize = s.chunkSize
	}
	return newWriter(w, bucket+"/"+object), nil
}

// Close releases the client if the store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// writer tracks the open state the storage.Writer does not expose.
type writer struct {
	mu   sync.Mutex
	dst  io.WriteCloser
	name string
	open bool
}

func newWriter(dst io.WriteCloser, name string) *writer {
	return &writer{dst: dst, name: name, open: true}
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return 0, objectstore.ErrWriterClosed
	}
	n, err := w.dst.Write(p)
	if err != nil {
		return n, fmt.Errorf("gcs: write %s: %w", w.name, err)
	}
	return n, nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return objectstore.ErrWriterClosed
	}
	w.open = false
	if err := w.dst.Close(); err != nil {
		return fmt.Errorf("gcs: finalize %s: %w", w.name, err)
	}
	return nil
}

func (w *writer) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}
