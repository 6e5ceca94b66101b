package buffer

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// StreamBuffer is the fixed memory region a stream moves periods through. It
// holds a whole number of equally sized periods and lives as long as its session.
type StreamBuffer struct {
	data        []byte
	periodBytes int
	periods     int
	allocator   Allocator

	mu       sync.Mutex
	released bool
}

// NewStreamBuffer wraps an existing region. len(data) must equal periodBytes*periods.
func NewStreamBuffer(data []byte, periodBytes, periods int) (*StreamBuffer, error) {
	return newStreamBuffer(data, periodBytes, periods, nil)
}

func newStreamBuffer(data []byte, periodBytes, periods int, allocator Allocator) (*StreamBuffer, error) {
	if periodBytes <= 0 {
		return nil, fmt.Errorf("invalid period size: %d, must be greater than 0", periodBytes)
	}
	if periods <= 0 {
		return nil, fmt.Errorf("invalid period count: %d, must be greater than 0", periods)
	}
	if len(data) != periodBytes*periods {
		return nil, fmt.Errorf("buffer is %d bytes, expected %d periods of %d bytes", len(data), periods, periodBytes)
	}

	return &StreamBuffer{
		data:        data,
		periodBytes: periodBytes,
		periods:     periods,
		allocator:   allocator,
	}, nil
}

// Bytes returns the whole region.
func (b *StreamBuffer) Bytes() []byte {
	return b.data
}

// Size returns the buffer size in bytes.
func (b *StreamBuffer) Size() int {
	return len(b.data)
}

// PeriodBytes returns the size of one period.
func (b *StreamBuffer) PeriodBytes() int {
	return b.periodBytes
}

// Periods returns the number of periods in the buffer.
func (b *StreamBuffer) Periods() int {
	return b.periods
}

// Base returns the address of the first byte of the region.
func (b *StreamBuffer) Base() uintptr {
	if len(b.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.data[0]))
}

// Region returns length bytes starting at offset. The region never wraps.
func (b *StreamBuffer) Region(offset, length int) []byte {
	return b.data[offset : offset+length : offset+length]
}

// Period returns the bytes of period i.
func (b *StreamBuffer) Period(i int) []byte {
	return b.Region(i*b.periodBytes, b.periodBytes)
}

// Release hands the region back to its allocator. It is safe to call more than once.
func (b *StreamBuffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	b.released = true

	if b.allocator == nil {
		return nil
	}
	if err := b.allocator.Free(b.data); err != nil {
		return fmt.Errorf("error freeing stream buffer: %w", err)
	}
	return nil
}

// HeapAllocator allocates stream buffers on the Go heap.
type HeapAllocator struct{}

// Allocate implements Allocator.
func (HeapAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.New("allocation size must be greater than 0")
	}
	return make([]byte, size), nil
}

// Free implements Allocator.
func (HeapAllocator) Free([]byte) error {
	return nil
}
