//go:build linux

package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapAllocator maps stream buffers as anonymous shared memory, the way a
// device buffer is mapped into the host address space. With Lock set the
// pages are pinned so transfers never fault.
type MmapAllocator struct {
	Lock   bool
	Logger interface {
		Warn(msg string, args ...interface{})
	}
}

// Allocate implements Allocator.
func (a *MmapAllocator) Allocate(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("allocation size must be greater than 0, got %d", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to map %d byte stream buffer: %w", size, err)
	}

	if a.Lock {
		if err := unix.Mlock(region); err != nil && a.Logger != nil {
			// RLIMIT_MEMLOCK is often tiny; run unpinned rather than fail
			a.Logger.Warn("could not lock %d byte stream buffer: %v", size, err)
		}
	}

	return region, nil
}

// Free implements Allocator.
func (a *MmapAllocator) Free(region []byte) error {
	if a.Lock {
		_ = unix.Munlock(region)
	}
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("failed to unmap stream buffer: %w", err)
	}
	return nil
}

// mmapSupported reports whether MmapAllocator maps real memory on this platform.
const mmapSupported = true
