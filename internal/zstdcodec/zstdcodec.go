// Package zstdcodec registers a zstd compressor with gRPC. Import it for its
// side effect; clients opt in per call with grpc.UseCompressor(Name).
package zstdcodec

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// Name is the grpc-encoding value.
const Name = "zstd"

func init() {
	encoding.RegisterCompressor(&compressor{})
}

type compressor struct {
	encoders sync.Pool
}

// Compress implements encoding.Compressor.
func (c *compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	if enc, ok := c.encoders.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return &pooledWriter{Encoder: enc, pool: &c.encoders}, nil
	}

	enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &pooledWriter{Encoder: enc, pool: &c.encoders}, nil
}

// Decompress implements encoding.Compressor.
func (c *compressor) Decompress(r io.Reader) (io.Reader, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return &closingReader{dec: dec}, nil
}

// Name implements encoding.Compressor.
func (c *compressor) Name() string { return Name }

type pooledWriter struct {
	*zstd.Encoder
	pool *sync.Pool
}

func (w *pooledWriter) Close() error {
	err := w.Encoder.Close()
	w.pool.Put(w.Encoder)
	return err
}

// closingReader releases the decoder once the message has been read.
type closingReader struct {
	dec *zstd.Decoder
}

func (r *closingReader) Read(p []byte) (int, error) {
	if r.dec == nil {
		return 0, io.EOF
	}
	n, err := r.dec.Read(p)
	if err != nil {
		r.dec.Close()
		r.dec = nil
	}
	return n, err
}
