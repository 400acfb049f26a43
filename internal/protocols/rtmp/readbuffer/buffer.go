// Package readbuffer contains a grow-on-demand read cache.
package readbuffer

import (
	"errors"
	"fmt"
	"io"
)

const (
	defaultSize    = 128 * 1024
	defaultMaxSize = 256 * 1024
)

// ErrOverflow is returned when a read does not fit in the buffer.
var ErrOverflow = errors.New("read buffer overflow")

// Buffer is a grow-on-demand cache in front of an io.Reader.
// It hands out slices of its internal storage without copying.
// It is not safe for concurrent use; one Buffer serves one connection.
type Buffer struct {
	Reader  io.Reader
	Size    int
	MaxSize int

	buf   []byte
	begin int
	end   int
}

// Initialize initializes a Buffer.
func (b *Buffer) Initialize() {
	if b.Size == 0 {
		b.Size = defaultSize
	}
	if b.MaxSize == 0 {
		b.MaxSize = defaultMaxSize
	}
	if b.Size > b.MaxSize {
		b.Size = b.MaxSize
	}
	b.buf = make([]byte, b.Size)
}

// Len returns the number of buffered, unread bytes.
func (b *Buffer) Len() int {
	return b.end - b.begin
}

// Bytes returns the unread portion of the buffer without consuming it.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.begin:b.end]
}

// Skip moves the read position by n bytes. A negative n rewinds
// over bytes already handed out by ReadSlice.
func (b *Buffer) Skip(n int) error {
	pos := b.begin + n
	if pos < 0 || pos > b.end {
		return fmt.Errorf("cannot skip %d bytes", n)
	}
	b.begin = pos
	return nil
}

// Grow blocks on the underlying reader until at least n unread bytes
// are buffered. It returns ErrOverflow when n exceeds the maximum
// capacity of the buffer.
func (b *Buffer) Grow(n int) error {
	avail := b.end - b.begin
	if avail >= n {
		return nil
	}

	if n > b.MaxSize {
		return ErrOverflow
	}

	// enlarge storage when total capacity is insufficient.
	if n > len(b.buf) {
		newSize := len(b.buf) * 2
		for newSize < n {
			newSize *= 2
		}
		if newSize > b.MaxSize {
			newSize = b.MaxSize
		}

		newBuf := make([]byte, newSize)
		copy(newBuf, b.buf[b.begin:b.end])
		b.buf = newBuf
		b.begin = 0
		b.end = avail
	} else if n > len(b.buf)-b.begin {
		// move residual bytes to front when the tail is too short.
		copy(b.buf, b.buf[b.begin:b.end])
		b.begin = 0
		b.end = avail
	}

	nr, err := io.ReadAtLeast(b.Reader, b.buf[b.end:], n-avail)
	if err != nil {
		return err
	}
	b.end += nr

	return nil
}

// ReadSlice consumes and returns the next n bytes without copying.
// The returned slice is valid until the next Grow or ReadSlice call.
func (b *Buffer) ReadSlice(n int) ([]byte, error) {
	err := b.Grow(n)
	if err != nil {
		return nil, err
	}

	ret := b.buf[b.begin : b.begin+n]
	b.begin += n
	return ret, nil
}

// Read implements io.Reader, draining buffered bytes first.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.begin == b.end {
		if len(p) >= len(b.buf) {
			// large reads bypass the cache.
			return b.Reader.Read(p)
		}

		b.begin = 0
		b.end = 0
		n, err := b.Reader.Read(b.buf)
		if err != nil {
			return 0, err
		}
		b.end = n
	}

	n := copy(p, b.buf[b.begin:b.end])
	b.begin += n
	return n, nil
}
