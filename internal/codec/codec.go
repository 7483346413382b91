// Package codec registers a CBOR codec with gRPC under the content subtype
// "cbor". Messages exchanged by the fork service are plain Go structs with
// cbor tags, so clients must call with grpc.CallContentSubtype(Name).
package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// Name is the gRPC content subtype served by this codec.
const Name = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	encoding.RegisterCodec(Codec{})
}

// Codec implements encoding.Codec with CBOR Core Deterministic Encoding.
type Codec struct{}

// Marshal encodes v.
func (Codec) Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal %T: %w", v, err)
	}
	return b, nil
}

// Unmarshal decodes data into v. Unknown fields are ignored.
func (Codec) Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal %T: %w", v, err)
	}
	return nil
}

// Name returns the content subtype.
func (Codec) Name() string { return Name }
