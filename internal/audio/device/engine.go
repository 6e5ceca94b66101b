package device

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/engine"
)

// Options configures the devices opened for each channel.
type Options struct {
	DeviceID     string // device ID or name, empty selects the default device
	SampleRate   uint32
	Channels     uint32
	PeriodFrames uint32 // miniaudio period size, 0 lets the backend choose
	QueueDepth   int
}

// DefaultOptions returns 48 kHz stereo with a four descriptor queue.
func DefaultOptions() Options {
	return Options{
		SampleRate: 48000,
		Channels:   2,
		QueueDepth: 4,
	}
}

// Engine hands out channels backed by one miniaudio device each. Samples are
// signed 16-bit little endian.
type Engine struct {
	ctx    Context
	opts   Options
	logger audio.Logger

	mu       sync.Mutex
	channels map[*Channel]struct{}
}

// NewEngine creates an engine opening devices on ctx.
func NewEngine(ctx Context, opts Options) *Engine {
	return NewEngineWithDeps(ctx, opts, &audio.StandardLogger{})
}

// NewEngineWithDeps creates an engine with custom dependencies
func NewEngineWithDeps(ctx Context, opts Options, logger audio.Logger) *Engine {
	return &Engine{
		ctx:      ctx,
		opts:     opts,
		logger:   logger,
		channels: make(map[*Channel]struct{}),
	}
}

// FrameBytes returns the size of one interleaved frame.
func (e *Engine) FrameBytes() int {
	return int(e.opts.Channels) * 2
}

// AllocateChannel opens and starts a device for dir. Failing to open the device
// is reported as ErrNoChannel.
func (e *Engine) AllocateChannel(dir audio.Direction, onComplete audio.CompletionFunc) (audio.Channel, error) {
	q, err := engine.NewQueue(e.opts.QueueDepth, onComplete)
	if err != nil {
		return nil, err
	}

	ch := &Channel{Queue: q, owner: e, dir: dir}
	ch.copyFn = ch.copyChunk

	config, err := e.deviceConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrNoChannel, err)
	}

	e.logger.Debug("opening %s device: %d Hz, %d channels, period %d frames, queue depth %d",
		dir, config.SampleRate, e.opts.Channels, config.PeriodSizeInFrames, e.opts.QueueDepth)

	callbacks := malgo.DeviceCallbacks{
		Data: ch.onData,
		Stop: func() {
			log.Printf("⚠️ %s device stopped", dir)
		},
	}

	dev, err := e.ctx.InitDevice(&config, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize %s device: %w", audio.ErrNoChannel, dir, err)
	}
	ch.device = NewMalgoDeviceAdapter(dev)

	if err := ch.device.Start(); err != nil {
		if uninitErr := ch.device.Uninit(); uninitErr != nil {
			log.Printf("❌ Error uninitializing device: %v", uninitErr)
		}
		return nil, fmt.Errorf("%w: failed to start %s device: %w", audio.ErrNoChannel, dir, err)
	}

	e.mu.Lock()
	e.channels[ch] = struct{}{}
	e.mu.Unlock()

	log.Printf("🎵 %s device started (%d Hz, %d channels)", dir, e.opts.SampleRate, e.opts.Channels)
	return ch, nil
}

// Active returns the number of open channels.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

func (e *Engine) deviceConfig(dir audio.Direction) (malgo.DeviceConfig, error) {
	deviceType := malgo.Playback
	if dir == audio.Capture {
		deviceType = malgo.Capture
	}

	config := malgo.DefaultDeviceConfig(deviceType)
	config.SampleRate = e.opts.SampleRate
	config.PeriodSizeInFrames = e.opts.PeriodFrames
	config.Alsa.NoMMap = 1

	sub := &config.Playback
	if dir == audio.Capture {
		sub = &config.Capture
	}
	sub.Format = malgo.FormatS16
	sub.Channels = e.opts.Channels

	if e.opts.DeviceID != "" {
		id, err := FindDevice(e.ctx, deviceType, e.opts.DeviceID)
		if err != nil {
			return config, err
		}
		sub.DeviceID = id
	}
	return config, nil
}

func (e *Engine) release(ch *Channel) {
	e.mu.Lock()
	delete(e.channels, ch)
	e.mu.Unlock()
}

// Channel is a transfer channel whose device callback moves the queued descriptors.
type Channel struct {
	*engine.Queue

	owner  *Engine
	dir    audio.Direction
	device Device

	// Only touched from the data callback.
	buf    []byte
	off    int
	copyFn func(chunk []byte) int

	xruns    atomic.Uint64
	released atomic.Bool
}

// Xruns returns how many callbacks the queue could not fully serve.
func (c *Channel) Xruns() uint64 {
	return c.xruns.Load()
}

// onData is the device data callback. Playback output not covered by a
// descriptor is filled with silence.
func (c *Channel) onData(output, input []byte, _ uint32) {
	if c.dir == audio.Playback {
		c.buf, c.off = output, 0
		c.Queue.Transfer(len(output), c.copyFn)
		if c.off < len(output) {
			clear(output[c.off:])
			c.xruns.Add(1)
		}
	} else {
		c.buf, c.off = input, 0
		c.Queue.Transfer(len(input), c.copyFn)
		if c.off < len(input) {
			c.xruns.Add(1)
		}
	}
	c.buf = nil
}

func (c *Channel) copyChunk(chunk []byte) int {
	var n int
	if c.dir == audio.Playback {
		n = copy(c.buf[c.off:], chunk)
	} else {
		n = copy(chunk, c.buf[c.off:])
	}
	c.off += n
	return n
}

// Release stops and closes the device and drops any queued descriptors.
func (c *Channel) Release() error {
	if !c.released.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := c.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop device: %w", err))
	}
	if err := c.device.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("failed to uninitialize device: %w", err))
	}
	if err := c.Queue.Release(); err != nil {
		errs = append(errs, err)
	}
	c.owner.release(c)

	log.Printf("🛑 %s device closed", c.dir)
	return errors.Join(errs...)
}

// HexToASCII converts a hexadecimal string to an ASCII string.
// This is used for converting malgo device IDs to human-readable form.
func HexToASCII(hexStr string) (string, error) {
	bytes, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// FindDevice returns the miniaudio ID of the first device whose decoded ID or
// name matches id.
func FindDevice(ctx Context, deviceType malgo.DeviceType, id string) (unsafe.Pointer, error) {
	infos, err := ctx.Devices(deviceType)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	for i := range infos {
		decodedID, err := HexToASCII(infos[i].ID.String())
		if err != nil {
			continue
		}
		if matchesDevice(decodedID, infos[i].Name(), id) {
			return infos[i].ID.Pointer(), nil
		}
	}
	return nil, fmt.Errorf("audio device '%s' not found", id)
}

// matchesDevice checks if a device matches the configured ID.
func matchesDevice(decodedID, deviceName, configuredID string) bool {
	return decodedID == configuredID ||
		deviceName == configuredID ||
		strings.Contains(deviceName, configuredID) ||
		strings.Contains(decodedID, configuredID)
}
