package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/file"
	"github.com/tphakala/pcmstream/internal/audio/stream"
	"github.com/tphakala/pcmstream/internal/conf"
)

func play(ctx context.Context, s *conf.Settings, opts *options, path string) error {
	src, err := file.OpenWAV(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info := src.Info()
	s.Stream.Direction = audio.Playback.String()
	s.Stream.SampleRate, s.Stream.Channels, s.Stream.BitDepth = info.SampleRate, info.NumChannels, info.BitDepth

	var sink io.Writer
	var out *file.WAVSink
	if opts.output != "" {
		out, err = file.CreateWAV(opts.output, info.SampleRate, info.BitDepth, info.NumChannels)
		if err != nil {
			return err
		}
		defer out.Close()
		sink = out
	}

	printBanner(s)

	p, err := open(s, sink, nil)
	if err != nil {
		return err
	}
	defer p.close()

	runCtx := p.start(ctx, s)

	pl := &player{st: p.stream, frameBytes: info.FrameBytes()}
	prog := newProgress(path, info.TotalFrames, info.SampleRate)

	if err := p.stream.Prepare(); err != nil {
		return err
	}
	log.Printf("🎵 Playing %s (%v)", path, info.Duration)

	chunk := make([]byte, s.Stream.PeriodBytes)
	for {
		n, rerr := io.ReadFull(src, chunk)
		if n > 0 {
			if err := pl.write(runCtx, chunk[:n]); err != nil {
				prog.done()
				return interrupted(ctx, runCtx, err)
			}
			prog.update(pl.frames, p.stream.Xruns())
		}
		if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	if err := pl.finish(runCtx); err != nil {
		prog.done()
		return interrupted(ctx, runCtx, err)
	}
	prog.update(pl.frames, p.stream.Xruns())
	prog.done()

	if err := p.stream.Stop(); err != nil {
		return err
	}
	p.halt()
	if out != nil {
		if err := out.Close(); err != nil {
			return fmt.Errorf("failed to finalize %s: %w", opts.output, err)
		}
	}

	log.Printf("🛑 Playback finished: %d frames, %d underruns", pl.frames, p.stream.Xruns())
	return nil
}

// player feeds a playback stream, starting it once the ring is full and
// restarting it after an underrun.
type player struct {
	st         *stream.Stream
	frameBytes int
	running    bool
	written    int
	frames     int
}

func (pl *player) write(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		if !pl.running && pl.st.Avail() == 0 {
			if err := pl.start(); err != nil {
				return err
			}
		}

		// A stopped stream is not drained, so never ask it for more than fits.
		k := len(data)
		if !pl.running {
			k = min(k, pl.st.Avail())
		}

		n, err := pl.st.Write(ctx, data[:k])
		data = data[n:]
		pl.written += n
		pl.frames = pl.written / pl.frameBytes

		switch {
		case errors.Is(err, audio.ErrXrun):
			log.Printf("⚠️ Playback underrun, restarting stream")
			if err := pl.st.Stop(); err != nil {
				return err
			}
			pl.running = false
		case err != nil:
			return err
		}
	}
	return nil
}

func (pl *player) start() error {
	if err := pl.st.Start(); err != nil {
		return err
	}
	pl.running = true
	return nil
}

// finish starts a stream that never filled and waits for it to play out.
func (pl *player) finish(ctx context.Context) error {
	if !pl.running {
		if pl.written == 0 {
			return nil
		}
		if err := pl.start(); err != nil {
			return err
		}
	}
	return pl.st.Drain(ctx)
}

// interrupted turns a cancelled run into its cause: nil for a signal, the
// session error when the session failed.
func interrupted(parent, run context.Context, err error) error {
	if !errors.Is(err, context.Canceled) {
		return err
	}
	if parent.Err() != nil {
		log.Println("Received interrupt, shutting down")
		return nil
	}
	if c := cause(run); c != nil {
		return c
	}
	return err
}
