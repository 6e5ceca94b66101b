package dma

import (
	"fmt"
	"time"

	"github.com/tphakala/pcmstream/internal/audio"
)

// Config is the geometry and behaviour of one stream session. It is fixed for
// the lifetime of the session.
type Config struct {
	Direction   audio.Direction
	PeriodBytes int // bytes per period
	Periods     int // periods in the ring buffer
	Slots       int // descriptor slots kept in flight
	FrameBytes  int // bytes per interleaved frame
	Channels    int // interleaved channels, 0 skips the profile channel check
	Granularity int // minimum transfer step; PeriodBytes must be a multiple
	Profile     audio.HardwareProfile
	FIFOAddr    uintptr

	// WithdrawTimeout bounds how long Stop and Close wait for the engine.
	WithdrawTimeout time.Duration

	// ErrorQueueSize is the capacity of the session error channel.
	ErrorQueueSize int
}

// Defaults
const (
	DefaultSlots           = 2
	DefaultGranularity     = 8
	DefaultWithdrawTimeout = time.Second
	DefaultErrorQueueSize  = 8
)

// NewDefaultConfig returns a 16-bit stereo playback configuration with four
// 4 KiB periods and a double-buffered descriptor queue.
func NewDefaultConfig() *Config {
	return &Config{
		Direction:       audio.Playback,
		PeriodBytes:     4096,
		Periods:         4,
		Slots:           DefaultSlots,
		FrameBytes:      4,
		Channels:        2,
		Granularity:     DefaultGranularity,
		Profile:         audio.DefaultProfile,
		WithdrawTimeout: DefaultWithdrawTimeout,
		ErrorQueueSize:  DefaultErrorQueueSize,
	}
}

// BufferBytes returns the ring buffer size.
func (c *Config) BufferBytes() int {
	return c.PeriodBytes * c.Periods
}

// Validate checks the configuration against itself and the hardware profile.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return newError(KindConfiguration, "validate", 0, err)
	}
	return nil
}

func (c *Config) validate() error {
	if !c.Direction.Valid() {
		return fmt.Errorf("unknown direction %d", c.Direction)
	}
	if c.Slots < 2 {
		return fmt.Errorf("descriptor slots must be at least 2, got %d", c.Slots)
	}
	if c.Periods < 2 {
		return fmt.Errorf("periods must be at least 2, got %d", c.Periods)
	}
	if c.Slots > c.Periods {
		return fmt.Errorf("%d descriptor slots cannot be in flight over %d periods", c.Slots, c.Periods)
	}
	if c.PeriodBytes <= 0 {
		return fmt.Errorf("invalid period size: %d, must be greater than 0", c.PeriodBytes)
	}
	if c.Granularity <= 0 {
		return fmt.Errorf("invalid transfer granularity: %d", c.Granularity)
	}
	if c.PeriodBytes%c.Granularity != 0 {
		return fmt.Errorf("period size %d is not a multiple of the %d byte transfer step", c.PeriodBytes, c.Granularity)
	}
	if c.FrameBytes <= 0 {
		return fmt.Errorf("invalid frame size: %d", c.FrameBytes)
	}
	if c.PeriodBytes%c.FrameBytes != 0 {
		return fmt.Errorf("period size %d is not a whole number of %d byte frames", c.PeriodBytes, c.FrameBytes)
	}
	if c.WithdrawTimeout <= 0 {
		return fmt.Errorf("invalid withdraw timeout: %v", c.WithdrawTimeout)
	}
	if c.ErrorQueueSize <= 0 {
		return fmt.Errorf("invalid error queue size: %d", c.ErrorQueueSize)
	}

	return c.validateProfile()
}

func (c *Config) validateProfile() error {
	p := c.Profile
	if c.PeriodBytes < p.PeriodBytesMin || c.PeriodBytes > p.PeriodBytesMax {
		return fmt.Errorf("period size %d outside %s range [%d, %d]",
			c.PeriodBytes, p.Name, p.PeriodBytesMin, p.PeriodBytesMax)
	}
	if c.Periods < p.PeriodsMin || c.Periods > p.PeriodsMax {
		return fmt.Errorf("period count %d outside %s range [%d, %d]",
			c.Periods, p.Name, p.PeriodsMin, p.PeriodsMax)
	}
	if p.BufferBytesMax > 0 && c.BufferBytes() > p.BufferBytesMax {
		return fmt.Errorf("buffer size %d exceeds %s maximum %d", c.BufferBytes(), p.Name, p.BufferBytesMax)
	}
	if c.Channels != 0 && (c.Channels < p.ChannelsMin || c.Channels > p.ChannelsMax) {
		return fmt.Errorf("%d channels outside %s range [%d, %d]",
			c.Channels, p.Name, p.ChannelsMin, p.ChannelsMax)
	}
	return nil
}
