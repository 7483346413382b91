// Package protocodec replaces gRPC's default "proto" codec with one that also
// handles hand-encoded messages.
//
// Types implementing Message are encoded with their own protobuf wire
// methods; every other value goes to the codec gRPC registered before this
// package, so generated messages (health, reflection) are unaffected.
package protocodec

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	grpcproto "google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/mem"
)

// Name is the content subtype this codec is registered under.
const Name = grpcproto.Name

// Message is implemented by types that encode themselves in protobuf wire
// format.
type Message interface {
	MarshalWire() ([]byte, error)
	UnmarshalWire(b []byte) error
}

func init() {
	encoding.RegisterCodecV2(&Codec{fallback: encoding.GetCodecV2(grpcproto.Name)})
}

// Codec implements encoding.CodecV2.
type Codec struct {
	fallback encoding.CodecV2
}

// Marshal encodes v.
func (c *Codec) Marshal(v any) (mem.BufferSlice, error) {
	m, ok := v.(Message)
	if !ok {
		return c.fallbackCodec().Marshal(v)
	}
	b, err := m.MarshalWire()
	if err != nil {
		return nil, fmt.Errorf("protocodec: marshal %T: %w", v, err)
	}
	return mem.BufferSlice{mem.SliceBuffer(b)}, nil
}

// Unmarshal decodes data into v.
func (c *Codec) Unmarshal(data mem.BufferSlice, v any) error {
	m, ok := v.(Message)
	if !ok {
		return c.fallbackCodec().Unmarshal(data, v)
	}
	if err := m.UnmarshalWire(data.Materialize()); err != nil {
		return fmt.Errorf("protocodec: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name returns the content subtype.
func (c *Codec) Name() string { return Name }

func (c *Codec) fallbackCodec() encoding.CodecV2 {
	if c.fallback == nil {
		return unsupported{}
	}
	return c.fallback
}

type unsupported struct{}

func (unsupported) Marshal(v any) (mem.BufferSlice, error) {
	return nil, fmt.Errorf("protocodec: cannot marshal %T", v)
}

func (unsupported) Unmarshal(_ mem.BufferSlice, v any) error {
	return fmt.Errorf("protocodec: cannot unmarshal into %T", v)
}

func (unsupported) Name() string { return Name }
