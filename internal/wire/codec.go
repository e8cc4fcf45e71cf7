package wire

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the grpc content-subtype of the codec.
const CodecName = "termwire"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec is a grpc codec for Message values.
type Codec struct{}

func (Codec) Name() string { return CodecName }

func (Codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(Message)
	if !ok {
		return nil, fmt.Errorf("termwire: cannot marshal %T", v)
	}
	return m.MarshalWire()
}

func (Codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(Message)
	if !ok {
		return fmt.Errorf("termwire: cannot unmarshal into %T", v)
	}
	return m.UnmarshalWire(data)
}
