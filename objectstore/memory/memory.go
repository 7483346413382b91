// Package memory is an in-process object store for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AmmannChristian/go-audiofork/objectstore"
)

// Object is a committed object.
type Object struct {
	ContentType string
	Data        []byte
}

// Store keeps objects in memory and records how writers were used.
type Store struct {
	mu      sync.Mutex
	objects map[string]Object
	opens   map[string]int
	closes  map[string]int
	writes  map[string]int

	// FailOpen, when set, is returned by OpenWriter for every object.
	FailOpen error
	// FailWrite, when set, is returned by Write on every writer.
	FailWrite error
	// FailClose, when set, is returned by the first Close of every writer.
	FailClose error
}

var _ objectstore.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		objects: make(map[string]Object),
		opens:   make(map[string]int),
		closes:  make(map[string]int),
		writes:  make(map[string]int),
	}
}

func key(bucket, object string) string {
	return bucket + "/" + object
}

// OpenWriter implements objectstore.Store.
func (s *Store) OpenWriter(_ context.Context, bucket, object, contentType string) (objectstore.Writer, error) {
	if bucket == "" || object == "" {
		return nil, errors.New("memory: bucket and object name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailOpen != nil {
		return nil, s.FailOpen
	}
	s.opens[key(bucket, object)]++
	return &writer{store: s, key: key(bucket, object), contentType: contentType, open: true}, nil
}

// Object returns a copy of the committed object.
func (s *Store) Object(bucket, object string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key(bucket, object)]
	if !ok {
		return Object{}, false
	}
	return Object{ContentType: obj.ContentType, Data: bytes.Clone(obj.Data)}, true
}

// Objects returns the names of all committed objects in bucket.
func (s *Store) Objects(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := bucket + "/"
	var names []string
	for k := range s.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			names = append(names, k[len(prefix):])
		}
	}
	return names
}

// Opens reports how many writers were opened on the object.
func (s *Store) Opens(bucket, object string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[key(bucket, object)]
}

// Closes reports how many times Close was called on the object's writers,
// including rejected repeat calls.
func (s *Store) Closes(bucket, object string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes[key(bucket, object)]
}

// Writes reports how many Write calls reached the object's writers.
func (s *Store) Writes(bucket, object string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[key(bucket, object)]
}

type writer struct {
	store       *Store
	key         string
	contentType string
	buf         bytes.Buffer
	open        bool
}

func (w *writer) Write(p []byte) (int, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	if !w.open {
		return 0, objectstore.ErrWriterClosed
	}
	w.store.writes[w.key]++
	if w.store.FailWrite != nil {
		return 0, w.store.FailWrite
	}
	return w.buf.Write(p)
}

func (w *writer) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	w.store.closes[w.key]++
	if !w.open {
		return objectstore.ErrWriterClosed
	}
	w.open = false

	if w.store.FailClose != nil {
		return fmt.Errorf("memory: commit %s: %w", w.key, w.store.FailClose)
	}
	w.store.objects[w.key] = Object{ContentType: w.contentType, Data: bytes.Clone(w.buf.Bytes())}
	return nil
}

func (w *writer) IsOpen() bool {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	return w.open
}
