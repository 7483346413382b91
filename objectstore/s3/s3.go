// Package s3 stores audio objects in Amazon S3 or an S3-compatible service.
//
// S3 has no append handle, so each writer drives a multipart upload: bytes
// are buffered until a part is large enough, the tail part is sent on Close,
// and the upload is completed. Objects that never received data are created
// with a single PutObject.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/AmmannChristian/go-audiofork/objectstore"
)

// MinPartSize is the smallest part S3 accepts except for the last one.
const MinPartSize = 5 << 20

// API is the subset of the S3 client used by the store.
type API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store opens multipart writers on S3 objects.
type Store struct {
	api      API
	partSize int
}

var _ objectstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPartSize sets the buffered part size. Values below MinPartSize are
// raised to it.
func WithPartSize(n int) Option {
	return func(s *Store) {
		s.partSize = max(n, MinPartSize)
	}
}

// New loads the default AWS configuration for region. A non-empty endpoint
// targets an S3-compatible service with path-style addressing.
func New(ctx context.Context, region, endpoint string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(region) == "" {
		return nil, fmt.Errorf("s3: missing region")
	}

	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg, err := config.LoadDefaultConfig(loadCtx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return NewFromAPI(client, opts...), nil
}

// NewFromAPI wraps an existing client.
func NewFromAPI(api API, opts ...Option) *Store {
	s := &Store{api: api, partSize: MinPartSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenWriter implements objectstore.Store. The multipart upload is created
// lazily when the first part is flushed.
func (s *Store) OpenWriter(ctx context.Context, bucket, object, contentType string) (objectstore.Writer, error) {
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("s3: bucket and object name are required")
	}
	return &writer{
		ctx:         ctx,
		api:         s.api,
		bucket:      bucket,
		key:         object,
		contentType: contentType,
		partSize:    s.partSize,
		open:        true,
	}, nil
}

type writer struct {
	ctx         context.Context
	api         API
	bucket      string
	key         string
	contentType string
	partSize    int

	mu       sync.Mutex
	buf      bytes.Buffer
	uploadID string
	parts    []types.CompletedPart
	open     bool
	err      error
}

func (w *writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return 0, objectstore.ErrWriterClosed
	}
	if w.err != nil {
		return 0, w.err
	}

	w.buf.Write(p)
	for w.buf.Len() >= w.partSize {
		if err := w.flushPart(w.buf.Next(w.partSize)); err != nil {
			w.fail(err)
			return 0, w.err
		}
	}
	return len(p), nil
}

func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.open {
		return objectstore.ErrWriterClosed
	}
	w.open = false

	if w.err != nil {
		return w.err
	}

	if w.uploadID == "" {
		_, err := w.api.PutObject(w.ctx, &s3.PutObjectInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(w.contentType),
			Body:        bytes.NewReader(w.buf.Bytes()),
		})
		if err != nil {
			return fmt.Errorf("s3: put %s/%s: %w", w.bucket, w.key, err)
		}
		return nil
	}

	if w.buf.Len() > 0 {
		if err := w.flushPart(w.buf.Bytes()); err != nil {
			w.fail(err)
			return w.err
		}
	}

	_, err := w.api.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.bucket),
		Key:             aws.String(w.key),
		UploadId:        aws.String(w.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.fail(fmt.Errorf("complete upload: %w", err))
		return w.err
	}
	return nil
}

func (w *writer) IsOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.open
}

// flushPart uploads one part, creating the multipart upload on first use.
func (w *writer) flushPart(part []byte) error {
	if w.uploadID == "" {
		out, err := w.api.CreateMultipartUpload(w.ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(w.bucket),
			Key:         aws.String(w.key),
			ContentType: aws.String(w.contentType),
		})
		if err != nil {
			return fmt.Errorf("create upload: %w", err)
		}
		if out.UploadId == nil || *out.UploadId == "" {
			return errors.New("create upload: missing upload id")
		}
		w.uploadID = *out.UploadId
	}

	number := int32(len(w.parts) + 1)
	out, err := w.api.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(w.bucket),
		Key:        aws.String(w.key),
		UploadId:   aws.String(w.uploadID),
		PartNumber: aws.Int32(number),
		Body:       bytes.NewReader(part),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", number, err)
	}
	w.parts = append(w.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(number)})
	return nil
}

// fail records err and aborts the multipart upload, if any. Later calls
// return the recorded error.
func (w *writer) fail(err error) {
	w.err = fmt.Errorf("s3: %s/%s: %w", w.bucket, w.key, err)
	w.buf.Reset()
	if w.uploadID == "" {
		return
	}
	_, _ = w.api.AbortMultipartUpload(context.WithoutCancel(w.ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.bucket),
		Key:      aws.String(w.key),
		UploadId: aws.String(w.uploadID),
	})
}
