package dma

import (
	"fmt"

	"github.com/tphakala/pcmstream/internal/audio"
)

// enqueueNext submits the period at the write cursor and advances the cursor.
// The cursor advances whether or not anything was submitted: a stopped or
// channel-less session keeps its accounting moving without issuing work.
// Must be called with mu held.
func (s *Session) enqueueNext() error {
	offset := s.pos.WritePos
	defer s.pos.AdvanceWrite(s.config.PeriodBytes, s.buf.Size())

	if s.channel == nil || s.state != audio.StateInit {
		return nil
	}

	idx := s.queue.next(s.queue.tail)
	sl := &s.queue.slots[idx]
	if sl.state == slotInFlight {
		return newError(KindProtocolViolation, "enqueue", s.id,
			fmt.Errorf("slot %d still in flight, queue holds %d descriptors", idx, s.queue.InFlight()))
	}

	sl.gen++
	sl.desc = audio.Descriptor{
		Offset:    offset,
		Length:    s.config.PeriodBytes,
		Direction: s.config.Direction,
		Addr:      s.buf.Base() + uintptr(offset),
		FIFOAddr:  s.config.FIFOAddr,
		Data:      s.buf.Region(offset, s.config.PeriodBytes),
		Token:     audio.Token{Session: s.id, Slot: idx, Gen: sl.gen},
	}

	h, err := s.channel.Submit(sl.desc)
	if err != nil {
		sl.state = slotIdle
		return newError(KindSubmitFailure, "enqueue", s.id, fmt.Errorf("offset %d: %w", offset, err))
	}

	sl.handle = h
	sl.state = slotInFlight
	s.queue.tail = idx
	return nil
}
