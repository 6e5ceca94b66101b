package buffer

// Allocator provides the memory backing a stream buffer.
type Allocator interface {
	// Allocate returns a zeroed region of exactly size bytes.
	Allocate(size int) ([]byte, error)

	// Free returns a region obtained from Allocate.
	Free(region []byte) error
}

// FactoryInterface defines the buffer factory operations
type FactoryInterface interface {
	CreateStreamBuffer(periodBytes, periods int) (*StreamBuffer, error)
}
