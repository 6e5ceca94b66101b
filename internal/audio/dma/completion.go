package dma

import (
	"fmt"

	"github.com/tphakala/pcmstream/internal/audio"
)

// complete handles the completion of the descriptor identified by tok. It runs
// on the engine's completion context and never blocks beyond the session lock,
// except after a protocol violation, when it withdraws what is still queued.
func (s *Session) complete(tok audio.Token) error {
	s.mu.Lock()
	claimed, err := s.completeLocked(tok)
	s.mu.Unlock()

	if len(claimed) > 0 {
		s.abandon(claimed)
	}
	return err
}

// completeLocked retires tok. On a violation it returns the slots it claimed
// for withdrawal. Must be called with mu held.
func (s *Session) completeLocked(tok audio.Token) ([]withdrawal, error) {
	if tok.Slot < 0 || tok.Slot >= s.queue.Len() {
		return s.violation(fmt.Errorf("completion for slot %d of %d", tok.Slot, s.queue.Len()))
	}

	sl := &s.queue.slots[tok.Slot]
	switch {
	case sl.state == slotInFlight && sl.gen == tok.Gen:
		if tok.Slot != s.queue.head {
			return s.violation(fmt.Errorf("slot %d completed ahead of head slot %d", tok.Slot, s.queue.head))
		}

	case sl.withdrawnGen != 0 && sl.withdrawnGen == tok.Gen:
		// Finished in the engine while being withdrawn. Only one of the two counts.
		sl.withdrawnGen = 0
		if sl.state == slotWithdrawn {
			sl.state = slotIdle
			sl.handle = 0
		}
		s.logger.Debug("session %d: late completion for withdrawn slot %d ignored", s.id, tok.Slot)
		return nil, nil

	default:
		return s.violation(fmt.Errorf("completion for slot %d generation %d, slot is at generation %d (in flight: %t)",
			tok.Slot, tok.Gen, sl.gen, sl.state == slotInFlight))
	}

	sl.state = slotIdle
	sl.handle = 0
	s.pos.AdvancePeriod(s.config.Periods)

	if s.state != audio.StateInit {
		return nil, nil
	}

	s.queue.head = s.queue.next(s.queue.head)
	s.notifier.PeriodElapsed()

	if err := s.enqueueNext(); err != nil {
		s.escalate(err)
	}
	return nil, nil
}

// violation forces the session to Exit, escalates err and claims every
// descriptor still in flight. Must be called with mu held.
func (s *Session) violation(cause error) ([]withdrawal, error) {
	err := newError(KindProtocolViolation, "complete", s.id, cause)
	s.state = audio.StateExit
	s.escalate(err)

	claimed := s.queue.claimInFlight()
	s.releaseInhibitLocked()
	return claimed, err
}

// abandon withdraws the descriptors a violation claimed. Must be called without mu held.
func (s *Session) abandon(claimed []withdrawal) {
	werr := s.withdraw("complete", claimed)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue.settleWithdrawn(claimed)
	if werr != nil {
		s.escalate(werr)
	}
	s.logger.Debug("session %d: %d descriptors withdrawn after protocol violation", s.id, len(claimed))
}
