package dma

// PositionBytes returns the byte offset the device has reached in the ring
// buffer: the completed periods plus the live progress of the head descriptor.
// The result is always below the buffer size.
func (s *Session) PositionBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := s.pos.PeriodIndex * s.config.PeriodBytes

	if s.channel != nil {
		head := &s.queue.slots[s.queue.head]
		if head.state == slotInFlight {
			progress := s.channel.Progress(head.handle)
			switch {
			case progress < 0:
				progress = 0
			case progress > s.config.PeriodBytes:
				progress = s.config.PeriodBytes
			}
			pos += progress
		}
	}

	return pos % s.buf.Size()
}

// Position returns the device position in frames.
func (s *Session) Position() int {
	return s.PositionBytes() / s.config.FrameBytes
}
