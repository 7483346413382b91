package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/AmmannChristian/go-audiofork/objectstore"
)

func TestStore_WriteAndCommit(t *testing.T) {
	s := New()

	w, err := s.OpenWriter(context.Background(), "bucket", "audio/c1-agent.raw", objectstore.ContentTypeOctetStream)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := w.Write([]byte("ab")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := w.Write([]byte("c")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if _, ok := s.Object("bucket", "audio/c1-agent.raw"); ok {
		t.Error("expected object to be invisible before close")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if w.IsOpen() {
		t.Error("expected writer to report closed")
	}

	obj, ok := s.Object("bucket", "audio/c1-agent.raw")
	if !ok {
		t.Fatal("expected committed object")
	}
	if string(obj.Data) != "abc" {
		t.Errorf("expected abc, got %q", obj.Data)
	}
	if obj.ContentType != objectstore.ContentTypeOctetStream {
		t.Errorf("unexpected content type %q", obj.ContentType)
	}
	if names := s.Objects("bucket"); len(names) != 1 || names[0] != "audio/c1-agent.raw" {
		t.Errorf("unexpected object list %v", names)
	}
}

func TestStore_DoubleClose(t *testing.T) {
	s := New()
	w, _ := s.OpenWriter(context.Background(), "b", "o", "")

	if err := w.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := w.Close(); !errors.Is(err, objectstore.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
	if _, err := w.Write([]byte("x")); !errors.Is(err, objectstore.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed on write, got %v", err)
	}
	if n := s.Closes("b", "o"); n != 2 {
		t.Errorf("expected 2 recorded closes, got %d", n)
	}
}

func TestStore_FaultInjection(t *testing.T) {
	boom := errors.New("boom")

	s := New()
	s.FailOpen = boom
	if _, err := s.OpenWriter(context.Background(), "b", "o", ""); !errors.Is(err, boom) {
		t.Errorf("expected open failure, got %v", err)
	}

	s = New()
	s.FailWrite = boom
	w, _ := s.OpenWriter(context.Background(), "b", "o", "")
	if _, err := w.Write([]byte("x")); !errors.Is(err, boom) {
		t.Errorf("expected write failure, got %v", err)
	}
	if s.Writes("b", "o") != 1 {
		t.Errorf("expected one recorded write, got %d", s.Writes("b", "o"))
	}

	s = New()
	s.FailClose = boom
	w, _ = s.OpenWriter(context.Background(), "b", "o", "")
	if err := w.Close(); !errors.Is(err, boom) {
		t.Errorf("expected close failure, got %v", err)
	}
	if _, ok := s.Object("b", "o"); ok {
		t.Error("expected failed commit to leave no object")
	}
}

func TestStore_RequiresNames(t *testing.T) {
	if _, err := New().OpenWriter(context.Background(), "", "o", ""); err == nil {
		t.Error("expected error for empty bucket")
	}
}
