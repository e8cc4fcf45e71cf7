package terminal

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// EncodeAll is safe for concurrent use; a single encoder serves every service.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// compressPayload compresses data when it is larger than threshold and the
// compressed form is actually smaller. The returned flag reports whether the
// returned bytes are compressed.
func compressPayload(data []byte, threshold int) ([]byte, bool) {
	if len(data) <= threshold {
		return data, false
	}
	enc := zstdEncoder()
	if enc == nil {
		return data, false
	}
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if len(compressed) >= len(data) {
		return data, false
	}
	return compressed, true
}

// Decompress reverses the compression applied to a DataResponse payload.
func Decompress(data []byte) ([]byte, error) {
	return zstdDecoder().DecodeAll(data, nil)
}

// Payload returns the raw terminal bytes of a data response.
func (r DataResponse) Payload() ([]byte, error) {
	if !r.Compressed {
		return r.Data, nil
	}
	return Decompress(r.Data)
}
