package buffer

// AdvanceWrite returns the write offset one period past pos, wrapping at bufferSize.
func AdvanceWrite(pos, periodBytes, bufferSize int) int {
	return (pos + periodBytes) % bufferSize
}

// AdvancePeriod returns the period index following index, wrapping at periods.
func AdvancePeriod(index, periods int) int {
	return (index + 1) % periods
}

// Position is the ring bookkeeping of a stream: where the next transfer starts
// and which period the device is currently working on.
type Position struct {
	WritePos    int // byte offset of the next transfer, 0 <= WritePos < buffer size
	PeriodIndex int // period in progress, 0 <= PeriodIndex < periods
}

// Reset rewinds both cursors to the start of the buffer.
func (p *Position) Reset() {
	p.WritePos = 0
	p.PeriodIndex = 0
}

// AdvanceWrite moves the write cursor forward by one period.
func (p *Position) AdvanceWrite(periodBytes, bufferSize int) {
	p.WritePos = AdvanceWrite(p.WritePos, periodBytes, bufferSize)
}

// AdvancePeriod moves the period index forward by one.
func (p *Position) AdvancePeriod(periods int) {
	p.PeriodIndex = AdvancePeriod(p.PeriodIndex, periods)
}
