// Package dma implements the double-buffered transfer core of a PCM stream: the
// descriptor queue, the scheduler that keeps it full, the stream state machine,
// the completion handler and the position reporter.
//
// A session owns one ring buffer and a fixed set of descriptor slots. Control
// operations (Prepare, Start, Stop, Close) are serialized with each other; the
// completion path and position queries share a short critical section with them.
package dma

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
)

// Deps are the collaborators of a session. Channels, Notifier and Inhibit are optional.
type Deps struct {
	// Channels provides the transfer channel. Without it the session runs in
	// null mode: bookkeeping advances but nothing is submitted.
	Channels audio.ChannelAllocator
	Notifier audio.PeriodNotifier
	Inhibit  audio.InhibitGuard
	Logger   audio.Logger
}

// Session is one open PCM stream.
type Session struct {
	id       uint32
	config   Config
	buf      *buffer.StreamBuffer
	channel  audio.Channel
	notifier audio.PeriodNotifier
	inhibit  audio.InhibitGuard
	logger   audio.Logger
	registry *Registry

	// ctrl serializes control transitions; it is always taken before mu.
	ctrl sync.Mutex

	mu          sync.Mutex
	state       audio.StreamState
	pos         buffer.Position
	queue       *DescriptorQueue
	inhibitHeld bool
	closed      bool
	err         error
	errCh       chan error
}

type nopNotifier struct{}

func (nopNotifier) PeriodElapsed() {}

// ID returns the session identifier carried in completion tokens.
func (s *Session) ID() uint32 {
	return s.id
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	return s.config
}

// Buffer returns the session ring buffer.
func (s *Session) Buffer() *buffer.StreamBuffer {
	return s.buf
}

// State returns the current state.
func (s *Session) State() audio.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WritePos returns the byte offset the next transfer will start at.
func (s *Session) WritePos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.WritePos
}

// PeriodIndex returns the period the device is working on.
func (s *Session) PeriodIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.PeriodIndex
}

// QueueIndices returns the descriptor queue head and tail.
func (s *Session) QueueIndices() (head, tail int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.head, s.queue.tail
}

// InFlight returns the number of descriptors submitted and not yet completed or withdrawn.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.InFlight()
}

// Errors delivers errors raised on the completion path. It is closed by Close.
func (s *Session) Errors() <-chan error {
	return s.errCh
}

// Err returns the first error raised on the completion path, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Prepare rewinds the write cursor, period index and descriptor queue. It is
// unconditional: whatever position a stopped stream reached is discarded.
func (s *Session) Prepare() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed || s.state == audio.StateExit:
		return newError(KindClosed, "prepare", s.id, nil)
	case s.state == audio.StateInit:
		return newError(KindInvalidState, "prepare", s.id, errors.New("stream is running"))
	}

	s.pos.Reset()
	s.queue.reset()

	s.logger.Debug("session %d prepared (%d periods of %d bytes)", s.id, s.config.Periods, s.config.PeriodBytes)
	return nil
}

// Start moves the session to Init and fills every descriptor slot.
func (s *Session) Start() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed || s.state == audio.StateExit:
		return newError(KindClosed, "start", s.id, nil)
	case s.state == audio.StateInit:
		return newError(KindInvalidState, "start", s.id, errors.New("stream already running"))
	}

	s.acquireInhibitLocked()
	s.state = audio.StateInit

	var errs []error
	for i := 0; i < s.queue.Len(); i++ {
		if err := s.enqueueNext(); err != nil {
			errs = append(errs, err)
		}
	}

	s.logger.Debug("session %d started, %d descriptors in flight, write position %d",
		s.id, s.queue.InFlight(), s.pos.WritePos)

	return errors.Join(errs...)
}

// Stop moves a running session to Abort and withdraws every outstanding
// descriptor. It returns after the engine confirmed the withdrawals or the
// withdraw timeout expired. Stopping a session that is not running is a no-op.
func (s *Session) Stop() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	if s.closed || s.state == audio.StateExit {
		s.mu.Unlock()
		return newError(KindClosed, "stop", s.id, nil)
	}
	if s.state != audio.StateInit {
		s.mu.Unlock()
		return nil
	}

	s.state = audio.StateAbort
	claimed := s.queue.claimInFlight()
	s.mu.Unlock()

	werr := s.withdraw("stop", claimed)

	s.mu.Lock()
	s.queue.settleWithdrawn(claimed)
	s.queue.reset()
	s.releaseInhibitLocked()
	s.mu.Unlock()

	if werr != nil {
		s.logger.Error("session %d: %v", s.id, werr)
		return werr
	}

	s.logger.Debug("session %d stopped, %d descriptors withdrawn", s.id, len(claimed))
	return nil
}

// Close withdraws anything still outstanding, releases the transfer channel and
// moves the session to Exit. Closing twice is a no-op.
func (s *Session) Close() error {
	s.ctrl.Lock()
	defer s.ctrl.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = audio.StateExit
	claimed := s.queue.claimInFlight()
	s.mu.Unlock()

	werr := s.withdraw("close", claimed)

	var rerr error
	if s.channel != nil {
		if err := s.channel.Release(); err != nil {
			rerr = fmt.Errorf("failed to release transfer channel: %w", err)
		}
	}

	s.mu.Lock()
	s.queue.settleWithdrawn(claimed)
	s.queue.reset()
	s.releaseInhibitLocked()
	close(s.errCh)
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.remove(s.id)
	}

	s.logger.Debug("session %d closed", s.id)
	return errors.Join(werr, rerr)
}

// TriggerCmd is a stream trigger as issued by a host audio layer.
type TriggerCmd int

const (
	TriggerStart TriggerCmd = iota
	TriggerStop
	TriggerPausePush
	TriggerPauseRelease
	TriggerSuspend
	TriggerResume
)

// Trigger maps host trigger commands onto Start and Stop.
func (s *Session) Trigger(cmd TriggerCmd) error {
	switch cmd {
	case TriggerStart, TriggerResume, TriggerPauseRelease:
		return s.Start()
	case TriggerStop, TriggerSuspend, TriggerPausePush:
		return s.Stop()
	default:
		return newError(KindInvalidState, "trigger", s.id, fmt.Errorf("unknown trigger command %d", cmd))
	}
}

// withdraw pulls claimed descriptors back from the engine and records which ones
// it removed. Must be called without mu held.
func (s *Session) withdraw(op string, claimed []withdrawal) error {
	if s.channel == nil || len(claimed) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.WithdrawTimeout)
	defer cancel()

	var errs []error
	for i := range claimed {
		err := s.channel.Withdraw(ctx, claimed[i].handle)
		switch {
		case err == nil:
			claimed[i].removed = true
		case errors.Is(err, audio.ErrNotQueued):
			// Completed in the engine first; its completion is still on the way.
		default:
			errs = append(errs, fmt.Errorf("handle %d: %w", claimed[i].handle, err))
		}
	}
	if len(errs) > 0 {
		return newError(KindWithdrawalFailure, op, s.id, errors.Join(errs...))
	}
	return nil
}

func (s *Session) acquireInhibitLocked() {
	if s.inhibit == nil || s.inhibitHeld {
		return
	}
	if err := s.inhibit.Acquire(); err != nil {
		s.logger.Warn("session %d: could not inhibit suspend: %v", s.id, err)
		return
	}
	s.inhibitHeld = true
}

func (s *Session) releaseInhibitLocked() {
	if !s.inhibitHeld {
		return
	}
	s.inhibit.Release()
	s.inhibitHeld = false
}

// escalate reports a completion-path error. Must be called with mu held.
func (s *Session) escalate(err error) {
	if s.err == nil {
		s.err = err
	}
	s.logger.Error("session %d: %v", s.id, err)

	if s.closed {
		return
	}
	select {
	case s.errCh <- err:
	default:
		s.logger.Warn("session %d: error queue full, dropped: %v", s.id, err)
	}
}
