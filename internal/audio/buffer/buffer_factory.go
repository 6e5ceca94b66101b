package buffer

import (
	"fmt"

	"github.com/tphakala/pcmstream/internal/audio"
)

// Factory creates stream buffers from a configured allocator
type Factory struct {
	logger    audio.Logger
	config    *Config
	allocator Allocator
}

// NewFactory creates a buffer factory with default dependencies
func NewFactory() *Factory {
	logger := &audio.StandardLogger{}
	config := NewDefaultConfig()
	return NewFactoryWithDeps(logger, config, allocatorFor(config, logger))
}

// NewFactoryWithDeps creates a buffer factory with custom dependencies. A nil
// allocator is chosen from config.
func NewFactoryWithDeps(logger audio.Logger, config *Config, allocator Allocator) *Factory {
	if allocator == nil {
		allocator = allocatorFor(config, logger)
	}
	return &Factory{
		logger:    logger,
		config:    config,
		allocator: allocator,
	}
}

func allocatorFor(config *Config, logger audio.Logger) Allocator {
	if config.Mapped {
		return &MmapAllocator{Lock: config.Locked, Logger: logger}
	}
	return HeapAllocator{}
}

// CreateStreamBuffer allocates a buffer of periods*periodBytes bytes.
func (f *Factory) CreateStreamBuffer(periodBytes, periods int) (*StreamBuffer, error) {
	if periodBytes <= 0 || periods <= 0 {
		return nil, fmt.Errorf("invalid buffer geometry: %d periods of %d bytes: %w",
			periods, periodBytes, audio.ErrInvalidParameters)
	}

	size := periodBytes * periods
	region, err := f.allocator.Allocate(size)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate stream buffer: %w", err)
	}

	sb, err := newStreamBuffer(region, periodBytes, periods, f.allocator)
	if err != nil {
		if freeErr := f.allocator.Free(region); freeErr != nil {
			f.logger.Error("error freeing stream buffer: %v", freeErr)
		}
		return nil, err
	}

	f.logger.Debug("allocated %d byte stream buffer (%d periods of %d bytes)", size, periods, periodBytes)
	return sb, nil
}
