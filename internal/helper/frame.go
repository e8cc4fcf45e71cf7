// Package helper bridges a shell running in a separate helper process back
// to the terminal host. The host listens on two unix sockets: frames flow to
// the helper on the input socket and raw terminal output flows back on the
// output socket.
//
// A frame is a one-byte type, a little-endian uint32 payload length and the
// payload. Data frames carry keystrokes; resize frames carry rows and cols as
// little-endian uint16 values.
package helper

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	MsgData   byte = 0x01
	MsgResize byte = 0x02

	HeaderSize = 5
	MaxPayload = 16 << 20
)

var (
	ErrPayloadTooLarge = errors.New("helper frame payload too large")
	ErrUnknownType     = errors.New("unknown helper frame type")
)

// AppendFrame appends an encoded frame to dst.
func AppendFrame(dst []byte, typ byte, payload []byte) []byte {
	var hdr [HeaderSize]byte
	hdr[0] = typ
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// EncodeResize returns a complete resize frame.
func EncodeResize(rows, cols uint16) []byte {
	var payload [4]byte
	binary.LittleEndian.PutUint16(payload[0:], rows)
	binary.LittleEndian.PutUint16(payload[2:], cols)
	return AppendFrame(nil, MsgResize, payload[:])
}

// DecodeResize parses the payload of a resize frame.
func DecodeResize(payload []byte) (rows, cols uint16, err error) {
	if len(payload) < 4 {
		return 0, 0, fmt.Errorf("resize payload is %d bytes", len(payload))
	}
	return binary.LittleEndian.Uint16(payload[0:]), binary.LittleEndian.Uint16(payload[2:]), nil
}

// FrameReader reads frames from a stream. The payload slice returned by Next
// is reused by the following call.
type FrameReader struct {
	r   io.Reader
	hdr [HeaderSize]byte
	buf []byte
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, buf: make([]byte, 4096)}
}

// Next returns the next frame. It returns io.EOF when the stream ends on a
// frame boundary and io.ErrUnexpectedEOF when it ends inside one.
func (fr *FrameReader) Next() (byte, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		return 0, nil, err
	}
	typ := fr.hdr[0]
	n := binary.LittleEndian.Uint32(fr.hdr[1:])
	if n > MaxPayload {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, n)
	}
	if typ != MsgData && typ != MsgResize {
		return 0, nil, fmt.Errorf("%w: %#x", ErrUnknownType, typ)
	}
	if cap(fr.buf) < int(n) {
		fr.buf = make([]byte, n)
	}
	payload := fr.buf[:n]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return typ, payload, nil
}

// FrameWriter writes frames to a stream. Write sends p as one or more data
// frames, so a FrameWriter can stand in for the terminal input.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxPayload {
			chunk = chunk[:MaxPayload]
		}
		if err := fw.send(AppendFrame(make([]byte, 0, HeaderSize+len(chunk)), MsgData, chunk)); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// Resize sends a resize frame.
func (fw *FrameWriter) Resize(rows, cols uint16) error {
	return fw.send(EncodeResize(rows, cols))
}

func (fw *FrameWriter) send(frame []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err := fw.w.Write(frame)
	return err
}
