// Package audio holds the types and collaborator contracts shared by the PCM
// transfer core, the transfer engines and the stream consumers.
package audio

import "context"

// CompletionFunc is invoked by a transfer engine once for every descriptor that
// ran to completion. Engines must not hold internal locks while calling it and
// must never call it from inside Submit.
type CompletionFunc func(token Token)

// TransferEngine moves descriptors between a stream buffer and a device FIFO.
type TransferEngine interface {
	// Submit queues a descriptor behind any already in flight.
	Submit(desc Descriptor) (Handle, error)

	// Withdraw removes a descriptor from the engine. It returns once the engine
	// has confirmed the descriptor will not be transferred further. It fails
	// with ErrNotQueued for an unknown or already completed handle.
	Withdraw(ctx context.Context, h Handle) error

	// Progress returns the bytes of the descriptor transferred so far, or 0 if
	// the handle is unknown. It must not block.
	Progress(h Handle) int
}

// Channel is a transfer engine channel owned by exactly one session.
type Channel interface {
	TransferEngine

	// Release drops any queued descriptors and returns the channel to its engine.
	Release() error
}

// ChannelAllocator hands out transfer channels.
type ChannelAllocator interface {
	// AllocateChannel returns a channel for the given direction whose completions
	// are delivered to onComplete. It fails with ErrNoChannel when exhausted.
	AllocateChannel(dir Direction, onComplete CompletionFunc) (Channel, error)
}

// PeriodNotifier is told once per elapsed period while a stream is running.
type PeriodNotifier interface {
	PeriodElapsed()
}

// InhibitGuard keeps the host from suspending while a stream is running.
type InhibitGuard interface {
	Acquire() error
	Release()
}
