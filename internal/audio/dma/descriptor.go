package dma

import "github.com/tphakala/pcmstream/internal/audio"

type slotState int

const (
	slotIdle slotState = iota
	slotInFlight
	slotWithdrawn
)

// slot is one reusable transfer descriptor.
type slot struct {
	desc   audio.Descriptor
	handle audio.Handle
	state  slotState
	gen    uint64

	// withdrawnGen is the generation last claimed by a withdrawal. A late
	// completion carrying it lost the race and is acknowledged once. It is
	// cleared when the engine confirms it removed the descriptor.
	withdrawnGen uint64
}

// DescriptorQueue is the logical ring over a session's descriptor slots. Head
// is the oldest in-flight slot, tail the most recently enqueued one.
type DescriptorQueue struct {
	slots []slot
	head  int
	tail  int
}

func newDescriptorQueue(n int) *DescriptorQueue {
	q := &DescriptorQueue{slots: make([]slot, n)}
	q.reset()
	return q
}

func (q *DescriptorQueue) reset() {
	q.head = 0
	q.tail = len(q.slots) - 1
}

func (q *DescriptorQueue) next(i int) int {
	return (i + 1) % len(q.slots)
}

// Len returns the number of slots.
func (q *DescriptorQueue) Len() int {
	return len(q.slots)
}

// InFlight returns the number of slots submitted and not yet completed or withdrawn.
func (q *DescriptorQueue) InFlight() int {
	n := 0
	for i := range q.slots {
		if q.slots[i].state == slotInFlight {
			n++
		}
	}
	return n
}

// withdrawal is one slot claimed for withdrawal from the engine.
type withdrawal struct {
	slot    int
	gen     uint64
	handle  audio.Handle
	removed bool // the engine dropped it before it completed
}

// claimInFlight marks every in-flight slot withdrawn and returns them.
func (q *DescriptorQueue) claimInFlight() []withdrawal {
	var claimed []withdrawal
	for i := range q.slots {
		s := &q.slots[i]
		if s.state != slotInFlight {
			continue
		}
		s.state = slotWithdrawn
		s.withdrawnGen = s.gen
		claimed = append(claimed, withdrawal{slot: i, gen: s.gen, handle: s.handle})
	}
	return claimed
}

// settleWithdrawn returns the claimed slots to the idle pool. A slot the engine
// removed can never complete, so it stops accepting a late completion.
func (q *DescriptorQueue) settleWithdrawn(claimed []withdrawal) {
	for _, w := range claimed {
		s := &q.slots[w.slot]
		if w.removed && s.withdrawnGen == w.gen {
			s.withdrawnGen = 0
		}
		if s.state == slotWithdrawn && s.gen == w.gen {
			s.state = slotIdle
			s.handle = 0
		}
	}
}
