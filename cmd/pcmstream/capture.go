package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/tphakala/pcmstream/internal/audio"
	"github.com/tphakala/pcmstream/internal/audio/file"
	"github.com/tphakala/pcmstream/internal/conf"
)

func capture(ctx context.Context, s *conf.Settings, opts *options, path string) error {
	s.Stream.Direction = audio.Capture.String()

	var source io.Reader
	if opts.input != "" {
		in, err := file.OpenWAV(opts.input)
		if err != nil {
			return err
		}
		defer in.Close()

		info := in.Info()
		s.Stream.SampleRate, s.Stream.Channels, s.Stream.BitDepth = info.SampleRate, info.NumChannels, info.BitDepth
		source = in
	}

	printBanner(s)

	out, err := file.CreateWAV(path, s.Stream.SampleRate, s.Stream.BitDepth, s.Stream.Channels)
	if err != nil {
		return err
	}
	defer out.Close()

	p, err := open(s, nil, source)
	if err != nil {
		return err
	}
	defer p.close()

	runCtx := p.start(ctx, s)

	frameBytes := s.FrameBytes()
	total := int(time.Duration(s.Stream.SampleRate)*opts.duration/time.Second) * frameBytes
	prog := newProgress(path, total/frameBytes, s.Stream.SampleRate)

	st := p.stream
	if err := st.Prepare(); err != nil {
		return err
	}
	if err := st.Start(); err != nil {
		return err
	}
	log.Printf("🎵 Capturing %v into %s", opts.duration, path)

	chunk := make([]byte, s.Stream.PeriodBytes)
	got := 0
	var runErr error
	for got < total {
		n, err := st.Read(runCtx, chunk[:min(len(chunk), total-got)])
		if n > 0 {
			if _, werr := out.Write(chunk[:n]); werr != nil {
				runErr = werr
				break
			}
			got += n
			prog.update(got/frameBytes, st.Xruns())
		}

		if errors.Is(err, audio.ErrXrun) {
			log.Printf("⚠️ Capture overrun, restarting stream")
			if err := st.Stop(); err != nil {
				runErr = err
				break
			}
			if err := st.Start(); err != nil {
				runErr = err
				break
			}
			continue
		}
		if err != nil {
			runErr = interrupted(ctx, runCtx, err)
			break
		}
	}
	prog.done()

	if err := st.Stop(); err != nil && runErr == nil {
		runErr = err
	}
	p.halt()
	if err := out.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("failed to finalize %s: %w", path, err)
	}
	if runErr != nil {
		return runErr
	}

	log.Printf("🛑 Capture finished: %d frames, %d overruns", got/frameBytes, st.Xruns())
	return nil
}
