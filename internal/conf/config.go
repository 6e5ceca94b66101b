// Package conf loads pcmstream settings from a JSON file.
package conf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
	"github.com/tphakala/pcmstream/internal/audio/dma"
	"github.com/tphakala/pcmstream/internal/audio/engine"
)

// Engine kinds
const (
	EngineSim   = "sim"   // software engine clocked by a ticker
	EngineMalgo = "malgo" // miniaudio device
	EngineNull  = "null"  // no engine, bookkeeping only
)

// Settings is the full configuration of one pcmstream run.
type Settings struct {
	Debug  bool           `json:"debug"`
	Stream StreamSettings `json:"stream"`
	Engine EngineSettings `json:"engine"`
	Buffer BufferSettings `json:"buffer"`
}

// StreamSettings describes the PCM format and ring geometry.
type StreamSettings struct {
	Direction       string `json:"direction"` // playback or capture
	Profile         string `json:"profile"`   // default or tdm
	SampleRate      int    `json:"sampleRate"`
	Channels        int    `json:"channels"`
	BitDepth        int    `json:"bitDepth"`
	PeriodBytes     int    `json:"periodBytes"`
	Periods         int    `json:"periods"`
	Slots           int    `json:"slots"`
	WithdrawTimeout string `json:"withdrawTimeout"`
}

// EngineSettings selects and sizes the transfer engine.
type EngineSettings struct {
	Kind       string `json:"kind"`
	Backend    string `json:"backend"` // malgo backend, empty for the platform default
	Device     string `json:"device"`  // malgo device ID or name
	Channels   int    `json:"channels"`
	QueueDepth int    `json:"queueDepth"`
	FIFOBytes  int    `json:"fifoBytes"`

	// BytesPerTick of 0 derives the sim engine rate from the stream format.
	BytesPerTick int    `json:"bytesPerTick"`
	TickInterval string `json:"tickInterval"`
}

// BufferSettings selects how stream buffers are allocated.
type BufferSettings struct {
	Mapped bool `json:"mapped"`
	Locked bool `json:"locked"`
}

// Defaults returns 48 kHz 16-bit stereo playback through the sim engine.
func Defaults() *Settings {
	return &Settings{
		Stream: StreamSettings{
			Direction:       audio.Playback.String(),
			Profile:         audio.DefaultProfile.Name,
			SampleRate:      48000,
			Channels:        2,
			BitDepth:        16,
			PeriodBytes:     4096,
			Periods:         4,
			Slots:           dma.DefaultSlots,
			WithdrawTimeout: dma.DefaultWithdrawTimeout.String(),
		},
		Engine: EngineSettings{
			Kind:         EngineSim,
			Channels:     4,
			QueueDepth:   4,
			FIFOBytes:    256,
			TickInterval: "10ms",
		},
		Buffer: BufferSettings{
			Mapped: true,
		},
	}
}

// Load reads settings from path on top of Defaults. An empty path returns the
// defaults.
func Load(path string) (*Settings, error) {
	settings := Defaults()
	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := sonnet.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return settings, nil
}

// Validate checks every section, including the stream geometry against its
// hardware profile.
func (s *Settings) Validate() error {
	var errs []error

	if _, err := s.Direction(); err != nil {
		errs = append(errs, err)
	}
	if s.Stream.BitDepth != 16 && s.Stream.BitDepth != 24 && s.Stream.BitDepth != 32 {
		errs = append(errs, fmt.Errorf("unsupported bit depth: %d", s.Stream.BitDepth))
	}
	if s.Stream.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid sample rate: %d", s.Stream.SampleRate))
	}

	switch s.Engine.Kind {
	case EngineSim, EngineMalgo, EngineNull:
	default:
		errs = append(errs, fmt.Errorf("unknown engine kind %q", s.Engine.Kind))
	}
	if _, err := s.TickInterval(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		cfg, err := s.DMAConfig()
		if err != nil {
			errs = append(errs, err)
		} else if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 && s.Engine.Kind == EngineSim {
		opts, err := s.SimOptions()
		if err == nil {
			err = opts.Validate()
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	// Start submits every slot at once.
	if len(errs) == 0 && s.Engine.Kind != EngineNull && s.Engine.QueueDepth < s.Stream.Slots {
		errs = append(errs, fmt.Errorf("engine queue depth %d cannot hold %d descriptor slots",
			s.Engine.QueueDepth, s.Stream.Slots))
	}

	return errors.Join(errs...)
}

// Direction parses the stream direction.
func (s *Settings) Direction() (audio.Direction, error) {
	switch s.Stream.Direction {
	case audio.Playback.String():
		return audio.Playback, nil
	case audio.Capture.String():
		return audio.Capture, nil
	default:
		return 0, fmt.Errorf("unknown stream direction %q", s.Stream.Direction)
	}
}

// FrameBytes returns the size of one interleaved frame.
func (s *Settings) FrameBytes() int {
	return s.Stream.Channels * s.Stream.BitDepth / 8
}

// TickInterval parses the sim engine tick interval.
func (s *Settings) TickInterval() (time.Duration, error) {
	d, err := time.ParseDuration(s.Engine.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid tick interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid tick interval: %v", d)
	}
	return d, nil
}

// DMAConfig converts the stream settings into a session configuration.
func (s *Settings) DMAConfig() (*dma.Config, error) {
	dir, err := s.Direction()
	if err != nil {
		return nil, err
	}
	profile, err := audio.ProfileByName(s.Stream.Profile)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", s.Stream.Profile, err)
	}
	timeout, err := time.ParseDuration(s.Stream.WithdrawTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid withdraw timeout: %w", err)
	}

	cfg := dma.NewDefaultConfig()
	cfg.Direction = dir
	cfg.Profile = profile
	cfg.PeriodBytes = s.Stream.PeriodBytes
	cfg.Periods = s.Stream.Periods
	cfg.Slots = s.Stream.Slots
	cfg.Channels = s.Stream.Channels
	cfg.FrameBytes = s.FrameBytes()
	cfg.WithdrawTimeout = timeout
	return cfg, nil
}

// SimOptions converts the engine settings into sim engine options. A zero
// BytesPerTick moves one tick's worth of real time per step.
func (s *Settings) SimOptions() (engine.Options, error) {
	tick, err := s.TickInterval()
	if err != nil {
		return engine.Options{}, err
	}

	bytesPerTick := s.Engine.BytesPerTick
	if bytesPerTick == 0 {
		frames := int(time.Duration(s.Stream.SampleRate) * tick / time.Second)
		bytesPerTick = max(frames, 1) * s.FrameBytes()
	}

	return engine.Options{
		Channels:     s.Engine.Channels,
		QueueDepth:   s.Engine.QueueDepth,
		FIFOBytes:    s.Engine.FIFOBytes,
		BytesPerTick: bytesPerTick,
	}, nil
}

// BufferConfig converts the buffer settings.
func (s *Settings) BufferConfig() *buffer.Config {
	return &buffer.Config{
		Mapped: s.Buffer.Mapped,
		Locked: s.Buffer.Locked,
	}
}

// Logger returns the logger the settings ask for.
func (s *Settings) Logger() audio.Logger {
	return &audio.StandardLogger{Verbose: s.Debug}
}
