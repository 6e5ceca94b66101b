//go:build !linux

package buffer

// MmapAllocator falls back to heap memory where anonymous mappings are not wired up.
type MmapAllocator struct {
	Lock   bool
	Logger interface {
		Warn(msg string, args ...interface{})
	}
}

// Allocate implements Allocator.
func (a *MmapAllocator) Allocate(size int) ([]byte, error) {
	return HeapAllocator{}.Allocate(size)
}

// Free implements Allocator.
func (a *MmapAllocator) Free([]byte) error {
	return nil
}

const mmapSupported = false
