package dma

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
)

// Registry opens sessions and routes completion tokens back to them.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint32]*Session
	nextID   uint32
	logger   audio.Logger
}

// NewRegistry creates a registry with default dependencies
func NewRegistry() *Registry {
	return NewRegistryWithDeps(&audio.StandardLogger{})
}

// NewRegistryWithDeps creates a registry with custom dependencies
func NewRegistryWithDeps(logger audio.Logger) *Registry {
	return &Registry{
		sessions: make(map[uint32]*Session),
		logger:   logger,
	}
}

// Open validates config, binds buf and allocates a transfer channel. On failure
// nothing stays allocated and the session is never registered.
func (r *Registry) Open(config *Config, buf *buffer.StreamBuffer, deps Deps) (*Session, error) {
	if config == nil {
		return nil, newError(KindConfiguration, "open", 0, audio.ErrInvalidParameters)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, newError(KindConfiguration, "open", 0, errors.New("no stream buffer"))
	}
	if buf.Size() != config.BufferBytes() || buf.PeriodBytes() != config.PeriodBytes {
		return nil, newError(KindConfiguration, "open", 0,
			fmt.Errorf("stream buffer is %d periods of %d bytes, config wants %d of %d",
				buf.Periods(), buf.PeriodBytes(), config.Periods, config.PeriodBytes))
	}

	logger := deps.Logger
	if logger == nil {
		logger = r.logger
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	s := &Session{
		id:       id,
		config:   *config,
		buf:      buf,
		notifier: notifier,
		inhibit:  deps.Inhibit,
		logger:   logger,
		registry: r,
		state:    audio.StateInvalid,
		queue:    newDescriptorQueue(config.Slots),
		errCh:    make(chan error, config.ErrorQueueSize),
	}

	if deps.Channels != nil {
		ch, err := deps.Channels.AllocateChannel(config.Direction, func(tok audio.Token) {
			_ = r.complete(tok)
		})
		if err != nil {
			s.state = audio.StateExit
			return nil, newError(KindResourceExhaustion, "open", id, err)
		}
		s.channel = ch
	}

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	logger.Debug("session %d opened for %s, %d byte buffer, %d descriptor slots",
		id, config.Direction, buf.Size(), config.Slots)
	return s, nil
}

// Lookup returns the session with the given id.
func (r *Registry) Lookup(id uint32) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Complete routes a completion token to its session. Tokens for sessions that
// are not open are protocol violations.
func (r *Registry) Complete(tok audio.Token) error {
	return r.complete(tok)
}

func (r *Registry) complete(tok audio.Token) error {
	r.mu.RLock()
	s, ok := r.sessions[tok.Session]
	r.mu.RUnlock()

	if !ok {
		err := newError(KindProtocolViolation, "complete", tok.Session,
			fmt.Errorf("no open session for token (slot %d, generation %d)", tok.Slot, tok.Gen))
		r.logger.Error("%v", err)
		return err
	}
	return s.complete(tok)
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() error {
	r.mu.RLock()
	ids := make([]uint32, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		if s, ok := r.Lookup(id); ok {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) remove(id uint32) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
