// Package tinycompress writes zlib streams made of stored DEFLATE blocks.
// The output is readable by any zlib decoder; nothing is actually compressed,
// which keeps the firmware free of compress/flate and its tables.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// maxStored is the largest payload of one stored DEFLATE block.
const maxStored = 0xFFFF

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on Close.
type Writer struct {
	output io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer that emits to w. sizeHint preallocates the input
// buffer so Write does not grow it.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	return &Writer{
		output: w,
		buf:    make([]byte, 0, sizeHint),
	}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the header, the stored blocks and the Adler-32 trailer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	out := make([]byte, 0, Size(len(w.buf)))
	out = append(out, 0x78, 0x01)

	data := w.buf
	for {
		n := min(len(data), maxStored)
		final := byte(0)
		if n == len(data) {
			final = 1
		}
		l := uint16(n)
		out = append(out, final, byte(l), byte(l>>8), byte(^l), byte(^l>>8))
		out = append(out, data[:n]...)
		data = data[n:]
		if final == 1 {
			break
		}
	}

	sum := adler32.Checksum(w.buf)
	out = append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))

	_, err := w.output.Write(out)
	return err
}

// Size returns the length of the stream Close produces for n input bytes.
func Size(n int) int {
	blocks := 1
	if n > 0 {
		blocks += (n - 1) / maxStored
	}
	return 2 + blocks*5 + n + 4
}
