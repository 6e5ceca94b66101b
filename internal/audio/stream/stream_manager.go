package stream

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
	"github.com/tphakala/pcmstream/internal/audio/dma"
)

// Manager keeps the open streams of one process by name.
type Manager struct {
	registry *dma.Registry
	factory  buffer.FactoryInterface
	logger   audio.Logger

	streams   map[string]*Stream
	streamsMu sync.RWMutex
}

// NewManager creates a manager with default dependencies
func NewManager() *Manager {
	logger := &audio.StandardLogger{}
	return NewManagerWithDeps(dma.NewRegistryWithDeps(logger), buffer.NewFactory(), logger)
}

// NewManagerWithDeps creates a manager with custom dependencies
func NewManagerWithDeps(registry *dma.Registry, factory buffer.FactoryInterface, logger audio.Logger) *Manager {
	return &Manager{
		registry: registry,
		factory:  factory,
		logger:   logger,
		streams:  make(map[string]*Stream),
	}
}

// Registry returns the session registry completions are routed through.
func (m *Manager) Registry() *dma.Registry {
	return m.registry
}

// OpenStream allocates a ring buffer for cfg and opens a stream named id over it.
func (m *Manager) OpenStream(id string, cfg *dma.Config, deps dma.Deps) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.streamsMu.Lock()
	defer m.streamsMu.Unlock()

	if _, exists := m.streams[id]; exists {
		return nil, fmt.Errorf("stream %s: %w", id, audio.ErrStreamExists)
	}

	buf, err := m.factory.CreateStreamBuffer(cfg.PeriodBytes, cfg.Periods)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate buffer for stream %s: %w", id, err)
	}

	if deps.Logger == nil {
		deps.Logger = m.logger
	}
	s, err := Open(m.registry, id, cfg, buf, deps)
	if err != nil {
		if rerr := buf.Release(); rerr != nil {
			m.logger.Warn("failed to release buffer of stream %s: %v", id, rerr)
		}
		return nil, err
	}

	m.streams[id] = s
	m.logger.Info("opened %s stream %s (%d x %d bytes)", cfg.Direction, id, cfg.Periods, cfg.PeriodBytes)
	return s, nil
}

// GetStream returns a stream by name
func (m *Manager) GetStream(id string) (*Stream, error) {
	m.streamsMu.RLock()
	defer m.streamsMu.RUnlock()

	s, exists := m.streams[id]
	if !exists {
		return nil, fmt.Errorf("stream %s: %w", id, audio.ErrStreamNotFound)
	}
	return s, nil
}

// ListStreams returns all open streams ordered by name
func (m *Manager) ListStreams() []*Stream {
	m.streamsMu.RLock()
	defer m.streamsMu.RUnlock()

	streams := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		streams = append(streams, s)
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].ID() < streams[j].ID() })
	return streams
}

// CloseStream closes and forgets a stream
func (m *Manager) CloseStream(id string) error {
	m.streamsMu.Lock()
	s, exists := m.streams[id]
	if !exists {
		m.streamsMu.Unlock()
		return fmt.Errorf("stream %s: %w", id, audio.ErrStreamNotFound)
	}
	delete(m.streams, id)
	m.streamsMu.Unlock()

	if err := s.Close(); err != nil {
		return fmt.Errorf("failed to close stream %s: %w", id, err)
	}
	return nil
}

// CloseAll closes every stream, continuing past failures.
func (m *Manager) CloseAll() error {
	var errs []error
	for _, s := range m.ListStreams() {
		if err := m.CloseStream(s.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
