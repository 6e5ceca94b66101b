// Package engine provides transfer engines that move descriptors between a
// session's stream buffer and a device endpoint.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tphakala/pcmstream/internal/audio"
)

// MaxQueueDepth is the largest number of descriptors a Queue holds.
const MaxQueueDepth = 16

type entry struct {
	handle audio.Handle
	desc   audio.Descriptor
	done   int
}

// Queue is the per-channel descriptor queue shared by the engines. Descriptors
// are transferred strictly in submission order and completed from Transfer,
// outside the queue lock.
type Queue struct {
	mu         sync.Mutex
	entries    []entry
	depth      int
	nextHandle audio.Handle
	onComplete audio.CompletionFunc
	released   bool

	completed uint64
	withdrawn uint64
}

// NewQueue creates a queue holding at most depth descriptors.
func NewQueue(depth int, onComplete audio.CompletionFunc) (*Queue, error) {
	if depth <= 0 || depth > MaxQueueDepth {
		return nil, fmt.Errorf("invalid queue depth %d, must be between 1 and %d: %w",
			depth, MaxQueueDepth, audio.ErrInvalidParameters)
	}
	if onComplete == nil {
		return nil, fmt.Errorf("no completion callback: %w", audio.ErrInvalidParameters)
	}
	return &Queue{
		entries:    make([]entry, 0, depth),
		depth:      depth,
		onComplete: onComplete,
	}, nil
}

// Submit queues desc behind any descriptor already pending.
func (q *Queue) Submit(desc audio.Descriptor) (audio.Handle, error) {
	if desc.Length <= 0 || len(desc.Data) != desc.Length {
		return 0, fmt.Errorf("descriptor length %d with %d data bytes: %w",
			desc.Length, len(desc.Data), audio.ErrInvalidParameters)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.released {
		return 0, audio.ErrChannelReleased
	}
	if len(q.entries) >= q.depth {
		return 0, audio.ErrQueueFull
	}

	q.nextHandle++
	q.entries = append(q.entries, entry{handle: q.nextHandle, desc: desc})
	return q.nextHandle, nil
}

// Withdraw removes h from the queue. Once it returns the descriptor is not
// touched again. Handles that already completed, or were never queued, fail
// with ErrNotQueued.
func (q *Queue) Withdraw(ctx context.Context, h audio.Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].handle == h {
			q.drop(i)
			q.withdrawn++
			return nil
		}
	}
	return audio.ErrNotQueued
}

// Progress returns the bytes of h transferred so far.
func (q *Queue) Progress(h audio.Handle) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].handle == h {
			return q.entries[i].done
		}
	}
	return 0
}

// Pending returns the number of queued descriptors.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Stats returns the number of completed and withdrawn descriptors.
func (q *Queue) Stats() (completed, withdrawn uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.completed, q.withdrawn
}

// Release drops every pending descriptor without completing it. Further
// submissions fail with ErrChannelReleased.
func (q *Queue) Release() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.released = true
	q.entries = q.entries[:0]
	return nil
}

// Transfer moves up to n bytes through the pending descriptors in order. For
// every chunk fn receives the unmoved part of the head descriptor's data and
// returns how many bytes it moved; moving less than offered ends the transfer.
// Descriptors that finish are completed after the queue lock is dropped.
func (q *Queue) Transfer(n int, fn func(chunk []byte) int) int {
	var finished [MaxQueueDepth]audio.Token
	nf := 0
	moved := 0

	q.mu.Lock()
	for n > 0 && len(q.entries) > 0 {
		e := &q.entries[0]
		chunk := e.desc.Data[e.done:]
		if len(chunk) > n {
			chunk = chunk[:n]
		}

		k := fn(chunk)
		if k < 0 {
			k = 0
		}
		if k > len(chunk) {
			k = len(chunk)
		}
		e.done += k
		moved += k
		n -= k

		if e.done == e.desc.Length {
			finished[nf] = e.desc.Token
			nf++
			q.drop(0)
			q.completed++
		}
		if k < len(chunk) {
			break
		}
	}
	cb := q.onComplete
	q.mu.Unlock()

	for i := 0; i < nf; i++ {
		cb(finished[i])
	}
	return moved
}

// drop removes entry i, keeping the backing array. Must be called with mu held.
func (q *Queue) drop(i int) {
	copy(q.entries[i:], q.entries[i+1:])
	q.entries[len(q.entries)-1] = entry{}
	q.entries = q.entries[:len(q.entries)-1]
}
