package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tphakala/pcmstream/internal/audio"
)

// Options configures a simulated engine.
type Options struct {
	Channels     int // channel pool size
	QueueDepth   int // descriptors each channel accepts
	FIFOBytes    int // device FIFO size per channel
	BytesPerTick int // bytes the device consumes or produces per Step

	// Sink receives what playback channels drain from their FIFO. Nil discards.
	Sink io.Writer
	// Source feeds capture channels. Nil or exhausted sources produce silence.
	Source io.Reader

	Logger audio.Logger
}

// DefaultOptions returns a four channel engine moving 1 KiB per tick.
func DefaultOptions() Options {
	return Options{
		Channels:     4,
		QueueDepth:   4,
		FIFOBytes:    256,
		BytesPerTick: 1024,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	switch {
	case o.Channels <= 0:
		return fmt.Errorf("invalid channel count: %d", o.Channels)
	case o.QueueDepth <= 0 || o.QueueDepth > MaxQueueDepth:
		return fmt.Errorf("invalid queue depth: %d, must be between 1 and %d", o.QueueDepth, MaxQueueDepth)
	case o.FIFOBytes <= 0:
		return fmt.Errorf("invalid FIFO size: %d", o.FIFOBytes)
	case o.BytesPerTick <= 0:
		return fmt.Errorf("invalid bytes per tick: %d", o.BytesPerTick)
	}
	return nil
}

// Engine is a software transfer engine. Its device side is a FIFO per channel
// that Step drains into Sink or fills from Source, the way a codec clocks
// samples out of or into the hardware FIFO.
type Engine struct {
	mu       sync.Mutex
	opts     Options
	channels []*SimChannel
	logger   audio.Logger
}

// NewEngine creates a simulated engine.
func NewEngine(opts Options) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w: %w", audio.ErrInvalidParameters, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = &audio.StandardLogger{}
	}
	return &Engine{opts: opts, logger: logger}, nil
}

// AllocateChannel returns a channel from the pool, or ErrNoChannel when every
// channel is in use.
func (e *Engine) AllocateChannel(dir audio.Direction, onComplete audio.CompletionFunc) (audio.Channel, error) {
	if !dir.Valid() {
		return nil, fmt.Errorf("unknown direction %d: %w", dir, audio.ErrInvalidParameters)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.channels) >= e.opts.Channels {
		return nil, audio.ErrNoChannel
	}

	q, err := NewQueue(e.opts.QueueDepth, onComplete)
	if err != nil {
		return nil, err
	}
	fifo, err := NewFIFO(e.opts.FIFOBytes)
	if err != nil {
		return nil, err
	}

	ch := &SimChannel{
		Queue:   q,
		engine:  e,
		dir:     dir,
		fifo:    fifo,
		scratch: make([]byte, e.opts.FIFOBytes),
	}
	e.channels = append(e.channels, ch)
	e.logger.Debug("allocated %s channel, %d of %d in use", dir, len(e.channels), e.opts.Channels)
	return ch, nil
}

// Active returns the number of allocated channels.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

// Step advances every allocated channel by one device tick.
func (e *Engine) Step() error {
	e.mu.Lock()
	channels := append([]*SimChannel(nil), e.channels...)
	e.mu.Unlock()

	var errs []error
	for _, ch := range channels {
		if err := ch.Step(e.opts.BytesPerTick); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run steps the engine every interval until ctx is cancelled. Endpoint errors
// are logged and do not stop the loop.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Step(); err != nil {
				e.logger.Warn("engine step: %v", err)
			}
		}
	}
}

func (e *Engine) release(ch *SimChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, c := range e.channels {
		if c == ch {
			e.channels = append(e.channels[:i], e.channels[i+1:]...)
			break
		}
	}
}

// SimChannel is one channel of a simulated engine.
type SimChannel struct {
	*Queue

	engine  *Engine
	dir     audio.Direction
	fifo    *FIFO
	scratch []byte

	stepMu    sync.Mutex
	sourceEOF bool
	underruns uint64
	overruns  uint64
}

// Direction returns the channel direction.
func (c *SimChannel) Direction() audio.Direction {
	return c.dir
}

// Xruns returns how many ticks found the FIFO short of data (playback) or of
// room (capture).
func (c *SimChannel) Xruns() (underruns, overruns uint64) {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	return c.underruns, c.overruns
}

// Step moves n bytes between the FIFO and the device endpoint and lets the
// descriptor queue top up or drain the FIFO.
func (c *SimChannel) Step(n int) error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	if c.dir == audio.Playback {
		return c.stepPlayback(n)
	}
	return c.stepCapture(n)
}

func (c *SimChannel) stepPlayback(n int) error {
	var sinkErr error

	for n > 0 {
		c.Queue.Transfer(c.fifo.Free(), c.fifo.Push)

		chunk := c.scratch[:min(n, len(c.scratch))]
		got := c.fifo.Pop(chunk)
		if got > 0 && c.engine.opts.Sink != nil && sinkErr == nil {
			if _, err := c.engine.opts.Sink.Write(chunk[:got]); err != nil {
				sinkErr = fmt.Errorf("playback sink: %w", err)
			}
		}
		if got < len(chunk) {
			c.underruns++
			break
		}
		n -= got
	}
	return sinkErr
}

func (c *SimChannel) stepCapture(n int) error {
	var sourceErr error

	for n > 0 {
		chunk := c.scratch[:min(n, len(c.scratch))]
		c.fill(chunk, &sourceErr)

		if pushed := c.fifo.Push(chunk); pushed < len(chunk) {
			c.overruns++
		}
		n -= len(chunk)

		c.Queue.Transfer(c.fifo.Len(), c.fifo.Pop)
	}
	return sourceErr
}

// fill reads chunk from the capture source, padding with silence.
func (c *SimChannel) fill(chunk []byte, errp *error) {
	got := 0
	src := c.engine.opts.Source
	if src != nil && !c.sourceEOF {
		var err error
		got, err = io.ReadFull(src, chunk)
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			c.sourceEOF = true
			c.engine.logger.Debug("capture source exhausted, producing silence")
		case err != nil && *errp == nil:
			*errp = fmt.Errorf("capture source: %w", err)
		}
	}
	clear(chunk[got:])
}

// Release returns the channel to its engine, dropping anything still queued.
func (c *SimChannel) Release() error {
	if err := c.Queue.Release(); err != nil {
		return err
	}
	c.stepMu.Lock()
	c.fifo.Reset()
	c.stepMu.Unlock()

	c.engine.release(c)
	return nil
}
