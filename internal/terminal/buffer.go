package terminal

import "bytes"

// OutputBuffer keeps a bounded, line-oriented history of a terminal's output so
// a reconnecting controller can be replayed recent content. It is not safe for
// concurrent use; the owning Session serializes access.
type OutputBuffer struct {
	lines          [][]byte
	totalSize      int
	lastIncomplete bool

	maxBytes int
	maxLines int
}

// NewOutputBuffer returns an empty buffer bounded by maxBytes and maxLines.
func NewOutputBuffer(maxBytes, maxLines int) *OutputBuffer {
	d := DefaultLimits()
	if maxBytes <= 0 {
		maxBytes = d.MaxBufferBytes
	}
	if maxLines <= 0 {
		maxLines = d.MaxBufferLines
	}
	return &OutputBuffer{maxBytes: maxBytes, maxLines: maxLines}
}

// Append adds data, continuing an unterminated last line if there is one, and
// evicts the oldest lines until both ceilings hold.
func (b *OutputBuffer) Append(data []byte) {
	if len(data) == 0 {
		return
	}

	if b.lastIncomplete && len(b.lines) > 0 {
		last := len(b.lines) - 1
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			b.lines[last] = append(b.lines[last], data...)
			b.totalSize += len(data)
			b.trim()
			return
		}
		b.lines[last] = append(b.lines[last], data[:nl+1]...)
		b.totalSize += nl + 1
		b.lastIncomplete = false
		data = data[nl+1:]
	}

	for len(data) > 0 {
		nl := bytes.IndexByte(data, '\n')
		var line []byte
		if nl < 0 {
			line = append([]byte(nil), data...)
			b.lastIncomplete = true
			data = nil
		} else {
			line = append([]byte(nil), data[:nl+1]...)
			data = data[nl+1:]
		}
		b.lines = append(b.lines, line)
		b.totalSize += len(line)
	}
	b.trim()
}

func (b *OutputBuffer) trim() {
	drop := 0
	for drop < len(b.lines) && (b.totalSize > b.maxBytes || len(b.lines)-drop > b.maxLines) {
		b.totalSize -= len(b.lines[drop])
		b.lines[drop] = nil
		drop++
	}
	if drop == 0 {
		return
	}
	b.lines = b.lines[drop:]
	if len(b.lines) == 0 {
		b.lastIncomplete = false
	}
}

// Recent returns the most recent whole lines whose combined size fits in
// maxBytes, oldest first.
func (b *OutputBuffer) Recent(maxBytes int) []byte {
	size := 0
	start := len(b.lines)
	for start > 0 {
		n := len(b.lines[start-1])
		if size+n > maxBytes {
			break
		}
		size += n
		start--
	}
	out := make([]byte, 0, size)
	for _, line := range b.lines[start:] {
		out = append(out, line...)
	}
	return out
}

// Size returns the number of buffered bytes.
func (b *OutputBuffer) Size() int { return b.totalSize }

// Lines returns the number of buffered lines.
func (b *OutputBuffer) Lines() int { return len(b.lines) }
