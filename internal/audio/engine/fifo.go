package engine

import (
	"fmt"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/pcmstream/internal/audio"
)

// FIFO models the device-side sample FIFO a channel feeds or drains. It is not
// safe for concurrent use; a SimChannel serializes access.
type FIFO struct {
	buffer *ringbuffer.RingBuffer
	size   int
}

// NewFIFO creates a FIFO holding size bytes.
func NewFIFO(size int) (*FIFO, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid FIFO size %d: %w", size, audio.ErrInvalidParameters)
	}
	return &FIFO{buffer: ringbuffer.New(size), size: size}, nil
}

// Push stores as much of p as fits and returns the number of bytes stored.
func (f *FIFO) Push(p []byte) int {
	n := min(len(p), f.buffer.Free())
	if n == 0 {
		return 0
	}
	written, _ := f.buffer.Write(p[:n])
	return written
}

// Pop moves up to len(p) bytes out of the FIFO.
func (f *FIFO) Pop(p []byte) int {
	n := min(len(p), f.buffer.Length())
	if n == 0 {
		return 0
	}
	read, _ := f.buffer.Read(p[:n])
	return read
}

// Len returns the bytes buffered.
func (f *FIFO) Len() int {
	return f.buffer.Length()
}

// Free returns the space left.
func (f *FIFO) Free() int {
	return f.buffer.Free()
}

// Size returns the FIFO capacity.
func (f *FIFO) Size() int {
	return f.size
}

// Reset discards everything buffered.
func (f *FIFO) Reset() {
	f.buffer.Reset()
}
