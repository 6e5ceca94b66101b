// Command pcmstream plays a WAV file through, or captures one from, a
// double-buffered PCM session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/buffer"
	"github.com/tphakala/pcmstream/internal/audio/device"
	"github.com/tphakala/pcmstream/internal/audio/dma"
	"github.com/tphakala/pcmstream/internal/audio/engine"
	"github.com/tphakala/pcmstream/internal/audio/stream"
	"github.com/tphakala/pcmstream/internal/conf"
)

type options struct {
	configPath string
	engineKind string
	backend    string
	deviceID   string
	profile    string
	debug      bool
	duration   time.Duration
	input      string // capture source for the sim engine
	output     string // playback sink for the sim engine
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Printf("❌ %v", err)
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		fmt.Fprintf(fs.Output(), "usage:\n")
		fmt.Fprintf(fs.Output(), "  pcmstream [flags] play <in.wav>\n")
		fmt.Fprintf(fs.Output(), "  pcmstream [flags] capture <out.wav>\n\nflags:\n")
		fs.PrintDefaults()
	}
}

func run(args []string) error {
	var opts options
	fs := flag.NewFlagSet("pcmstream", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "JSON settings file")
	fs.StringVar(&opts.engineKind, "engine", "", "transfer engine: sim, malgo or null")
	fs.StringVar(&opts.backend, "backend", "", "malgo backend, empty for the platform default")
	fs.StringVar(&opts.deviceID, "device", "", "malgo device ID or name")
	fs.StringVar(&opts.profile, "profile", "", "hardware profile: default or tdm")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	fs.DurationVar(&opts.duration, "duration", 5*time.Second, "capture length")
	fs.StringVar(&opts.input, "in", "", "WAV file the sim engine captures from")
	fs.StringVar(&opts.output, "out", "", "WAV file the sim engine plays into")
	fs.Usage = usage(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("expected a command and a file")
	}
	cmd, path := fs.Arg(0), fs.Arg(1)

	settings, err := conf.Load(opts.configPath)
	if err != nil {
		return err
	}
	applyFlags(settings, &opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "play":
		return play(ctx, settings, &opts, path)
	case "capture":
		return capture(ctx, settings, &opts, path)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func applyFlags(s *conf.Settings, opts *options) {
	if opts.engineKind != "" {
		s.Engine.Kind = opts.engineKind
	}
	if opts.backend != "" {
		s.Engine.Backend = opts.backend
	}
	if opts.deviceID != "" {
		s.Engine.Device = opts.deviceID
	}
	if opts.profile != "" {
		s.Stream.Profile = opts.profile
	}
	if opts.debug {
		s.Debug = true
	}
}

func printBanner(s *conf.Settings) {
	info, err := host.Info()
	if err != nil {
		fmt.Printf("❌ Error retrieving host info: %v\n", err)
	} else {
		fmt.Printf("System details: %s %s %s (%s)\n", info.OS, info.Platform, info.PlatformVersion, info.KernelArch)
	}

	fmt.Printf("Starting %s: %d Hz, %d channels, %d-bit, %d periods of %d bytes, %d slots, %s engine\n",
		s.Stream.Direction, s.Stream.SampleRate, s.Stream.Channels, s.Stream.BitDepth,
		s.Stream.Periods, s.Stream.PeriodBytes, s.Stream.Slots, s.Engine.Kind)
}

// pipeline holds what one run opened, so it can be torn down in order.
type pipeline struct {
	manager *stream.Manager
	stream  *stream.Stream
	sim     *engine.Engine
	closers []io.Closer
	logger  audio.Logger

	cancel context.CancelCauseFunc
	wg     sync.WaitGroup
}

// open builds the engine selected in s and opens the stream over it. sink and
// source are only used by the sim engine.
func open(s *conf.Settings, sink io.Writer, source io.Reader) (*pipeline, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	cfg, err := s.DMAConfig()
	if err != nil {
		return nil, err
	}

	logger := s.Logger()
	p := &pipeline{logger: logger}

	var channels audio.ChannelAllocator
	switch s.Engine.Kind {
	case conf.EngineSim:
		simOpts, err := s.SimOptions()
		if err != nil {
			return nil, err
		}
		simOpts.Sink, simOpts.Source, simOpts.Logger = sink, source, logger
		p.sim, err = engine.NewEngine(simOpts)
		if err != nil {
			return nil, err
		}
		channels = p.sim

	case conf.EngineMalgo:
		hw, err := openDevice(s, cfg, logger)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, hw)
		channels = hw.engine

	case conf.EngineNull:
		log.Printf("⚠️ null engine selected, positions advance by period only")
	}

	factory := buffer.NewFactoryWithDeps(logger, s.BufferConfig(), nil)
	p.manager = stream.NewManagerWithDeps(dma.NewRegistryWithDeps(logger), factory, logger)

	id := "pcm0p"
	if cfg.Direction == audio.Capture {
		id = "pcm0c"
	}
	p.stream, err = p.manager.OpenStream(id, cfg, dma.Deps{Channels: channels, Logger: logger})
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// start runs the sim clock and watches the session for escalated errors. The
// returned context ends when the session fails, parent ends or halt is called.
func (p *pipeline) start(parent context.Context, s *conf.Settings) context.Context {
	ctx, cancel := context.WithCancelCause(parent)
	p.cancel = cancel

	if p.sim != nil {
		tick, _ := s.TickInterval()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.sim.Run(ctx, tick)
		}()
	}

	errCh := p.stream.Session().Errors()
	go func() {
		select {
		case err, ok := <-errCh:
			if ok {
				cancel(fmt.Errorf("session failed: %w", err))
			}
		case <-ctx.Done():
		}
	}()
	return ctx
}

// halt stops the sim clock and waits until it no longer touches the sink or source.
func (p *pipeline) halt() {
	if p.cancel != nil {
		p.cancel(nil)
	}
	p.wg.Wait()
}

func (p *pipeline) close() {
	p.halt()
	if p.manager != nil {
		if err := p.manager.CloseAll(); err != nil {
			log.Printf("❌ Error closing streams: %v", err)
		}
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i].Close(); err != nil {
			log.Printf("❌ Error closing audio context: %v", err)
		}
	}
}

// hardware is a malgo context and the engine opening devices on it.
type hardware struct {
	ctx    *device.MalgoContextAdapter
	engine *device.Engine
}

func openDevice(s *conf.Settings, cfg *dma.Config, logger audio.Logger) (*hardware, error) {
	if s.Stream.BitDepth != 16 {
		return nil, fmt.Errorf("malgo engine supports 16-bit samples only, got %d", s.Stream.BitDepth)
	}

	factory, err := device.NewContextFactory(s.Engine.Backend)
	if err != nil {
		return nil, err
	}
	ctx, err := factory.CreateContext(func(msg string) {
		logger.Debug("malgo: %s", msg)
	})
	if err != nil {
		return nil, err
	}

	opts := device.DefaultOptions()
	opts.DeviceID = s.Engine.Device
	opts.SampleRate = uint32(s.Stream.SampleRate)
	opts.Channels = uint32(s.Stream.Channels)
	opts.PeriodFrames = uint32(cfg.PeriodBytes / cfg.FrameBytes / 2)
	opts.QueueDepth = s.Engine.QueueDepth

	return &hardware{ctx: ctx, engine: device.NewEngineWithDeps(ctx, opts, logger)}, nil
}

// Close releases the malgo context.
func (h *hardware) Close() error {
	return h.ctx.Uninit()
}

// cause returns the reason ctx ended, or nil when it did not.
func cause(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return context.Cause(ctx)
}
