// Package stream is the application side of a PCM session: it keeps the
// application cursor, blocks readers and writers until the device has room or
// data, and detects underruns and overruns.
package stream

import (
	"context"
	"sync"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
	"github.com/tphakala/pcmstream/internal/audio/dma"
)

// ErrClosed is returned by operations on a closed stream.
const ErrClosed = audio.Error("stream closed")

// Stream couples a dma.Session with the application cursor into its ring
// buffer. It is the session's period notifier.
type Stream struct {
	id      string
	session *dma.Session
	buf     *buffer.StreamBuffer
	dir     audio.Direction
	period  uint64
	size    uint64
	logger  audio.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	appl     uint64 // bytes written (playback) or read (capture) by the application
	hw       uint64 // bytes the device has completed
	xrun     bool
	xruns    int
	draining bool
	closed   bool
}

// Open opens a session over buf and returns its stream. deps.Notifier is
// replaced by the stream itself.
func Open(reg *dma.Registry, id string, cfg *dma.Config, buf *buffer.StreamBuffer, deps dma.Deps) (*Stream, error) {
	logger := deps.Logger
	if logger == nil {
		logger = &audio.StandardLogger{}
	}

	s := &Stream{
		id:     id,
		buf:    buf,
		dir:    cfg.Direction,
		period: uint64(cfg.PeriodBytes),
		size:   uint64(cfg.BufferBytes()),
		logger: logger,
	}
	s.cond = sync.NewCond(&s.mu)

	deps.Notifier = s
	session, err := reg.Open(cfg, buf, deps)
	if err != nil {
		return nil, err
	}
	s.session = session
	return s, nil
}

// ID returns the stream name.
func (s *Stream) ID() string {
	return s.id
}

// Session returns the underlying session.
func (s *Stream) Session() *dma.Session {
	return s.session
}

// Direction returns the stream direction.
func (s *Stream) Direction() audio.Direction {
	return s.dir
}

// PeriodElapsed advances the hardware cursor by one period. It runs on the
// session's completion path and only touches stream state.
func (s *Stream) PeriodElapsed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hw += s.period

	switch s.dir {
	case audio.Playback:
		// At hw == appl the next descriptor is already playing unwritten data.
		if s.hw >= s.appl && !s.draining && !s.xrun {
			s.xrun = true
			s.xruns++
		}
	case audio.Capture:
		// At a full buffer the next descriptor is already overwriting unread data.
		if s.hw-s.appl >= s.size && !s.xrun {
			s.xrun = true
			s.xruns++
		}
	}
	s.cond.Broadcast()
}

// Prepare rewinds the session and both cursors and clears any xrun.
func (s *Stream) Prepare() error {
	if err := s.session.Prepare(); err != nil {
		return err
	}

	s.mu.Lock()
	s.appl, s.hw = 0, 0
	s.xrun, s.draining = false, false
	s.mu.Unlock()
	return nil
}

// Start starts the session.
func (s *Stream) Start() error {
	return s.session.Start()
}

// Stop drops whatever is pending: the session is stopped and prepared again,
// so the next Start begins at the start of the buffer.
func (s *Stream) Stop() error {
	if err := s.session.Stop(); err != nil {
		return err
	}
	return s.Prepare()
}

// Close closes the session and releases the buffer. Blocked readers and
// writers return ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	err := s.session.Close()
	if rerr := s.buf.Release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// Position returns the device position in frames.
func (s *Stream) Position() int {
	return s.session.Position()
}

// Avail returns the bytes the application can write (playback) or read (capture)
// without blocking.
func (s *Stream) Avail() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availLocked()
}

// availLocked keeps the period the device is working on out of the
// application's reach.
func (s *Stream) availLocked() int {
	if s.dir == audio.Playback {
		capacity := s.size - s.period
		if s.appl < s.hw {
			return int(capacity)
		}
		filled := s.appl - s.hw
		if filled >= capacity {
			return 0
		}
		return int(capacity - filled)
	}
	if s.hw <= s.appl {
		return 0
	}
	return int(min(s.hw-s.appl, s.size-s.period))
}

// Xruns returns how many underruns or overruns the stream has seen.
func (s *Stream) Xruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.xruns
}

// Write copies p into the ring buffer, blocking while it is full. It returns
// early with ErrXrun after an underrun, ErrClosed once closed, or the context
// error when ctx ends.
func (s *Stream) Write(ctx context.Context, p []byte) (int, error) {
	if s.dir != audio.Playback {
		return 0, audio.ErrInvalidParameters
	}
	return s.transfer(ctx, p, func(ring, data []byte) int { return copy(ring, data) })
}

// Read copies captured data out of the ring buffer, blocking until at least
// some is available.
func (s *Stream) Read(ctx context.Context, p []byte) (int, error) {
	if s.dir != audio.Capture {
		return 0, audio.ErrInvalidParameters
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	for s.availLocked() == 0 {
		if err := s.waitErrLocked(ctx); err != nil {
			return 0, err
		}
		s.cond.Wait()
	}
	if err := s.waitErrLocked(ctx); err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) && s.availLocked() > 0 {
		n += s.copyLocked(p[n:], func(ring, data []byte) int { return copy(data, ring) })
	}
	return n, nil
}

// transfer moves all of p through the ring, waiting for room as needed.
func (s *Stream) transfer(ctx context.Context, p []byte, move func(ring, data []byte) int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	n := 0
	for n < len(p) {
		if err := s.waitErrLocked(ctx); err != nil {
			return n, err
		}
		if s.availLocked() == 0 {
			s.cond.Wait()
			continue
		}
		n += s.copyLocked(p[n:], move)
	}
	return n, nil
}

// copyLocked moves up to avail bytes at the application cursor, without
// crossing the end of the ring.
func (s *Stream) copyLocked(p []byte, move func(ring, data []byte) int) int {
	off := s.appl % s.size
	k := min(uint64(len(p)), uint64(s.availLocked()), s.size-off)
	moved := move(s.buf.Bytes()[off:off+k], p[:k])
	s.appl += uint64(moved)
	return moved
}

func (s *Stream) waitErrLocked(ctx context.Context) error {
	switch {
	case s.closed:
		return ErrClosed
	case s.xrun:
		return audio.ErrXrun
	default:
		return ctx.Err()
	}
}

func (s *Stream) wake() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Drain pads the last partial period with silence and waits until the device
// has played everything written. The session keeps running.
func (s *Stream) Drain(ctx context.Context) error {
	if s.dir != audio.Playback {
		return audio.ErrInvalidParameters
	}

	if rem := s.pending() % s.period; rem != 0 {
		if _, err := s.Write(ctx, make([]byte, s.period-rem)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.wake)
	defer stop()

	s.draining = true
	defer func() { s.draining = false }()

	for s.hw < s.appl {
		if err := s.waitErrLocked(ctx); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

func (s *Stream) pending() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appl
}
