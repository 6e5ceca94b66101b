package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource reads the data chunk of a WAV file as little endian PCM bytes.
// It is an io.ReadCloser and can feed a capture engine directly.
type WAVSource struct {
	file    *os.File
	decoder *wav.Decoder
	info    Info
	width   int // bytes per sample

	samples *audio.IntBuffer
	pending []byte // encoded samples not yet returned
	eof     bool
}

// OpenWAV opens a WAV file for reading.
func OpenWAV(filePath string) (*WAVSource, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		f.Close()
		return nil, errors.New("invalid WAV file format")
	}

	info := Info{
		SampleRate:  int(decoder.SampleRate),
		NumChannels: int(decoder.NumChans),
		BitDepth:    int(decoder.BitDepth),
		Format:      FormatWAV,
		Path:        filePath,
	}
	if err := validateFormat(info.SampleRate, info.BitDepth, info.NumChannels); err != nil {
		f.Close()
		return nil, err
	}

	if err := decoder.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to locate WAV data chunk: %w", err)
	}
	info.TotalFrames = int(decoder.PCMLen()) / info.FrameBytes()
	info.Duration = time.Duration(info.TotalFrames) * time.Second / time.Duration(info.SampleRate)

	return &WAVSource{
		file:    f,
		decoder: decoder,
		info:    info,
		width:   info.BitDepth / 8,
		samples: &audio.IntBuffer{
			Data:   make([]int, 4096),
			Format: &audio.Format{SampleRate: info.SampleRate, NumChannels: info.NumChannels},
		},
	}, nil
}

// Info returns metadata about the file.
func (s *WAVSource) Info() Info {
	return s.info
}

// Read implements io.Reader.
func (s *WAVSource) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(s.pending) == 0 {
			if s.eof {
				break
			}
			if err := s.decode(); err != nil {
				return n, err
			}
			continue
		}
		k := copy(p[n:], s.pending)
		s.pending = s.pending[k:]
		n += k
	}
	if n == 0 && s.eof {
		return 0, io.EOF
	}
	return n, nil
}

func (s *WAVSource) decode() error {
	got, err := s.decoder.PCMBuffer(s.samples)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error reading WAV data: %w", err)
	}
	if got == 0 || errors.Is(err, io.EOF) {
		s.eof = true
	}
	s.pending = encodeSamples(s.pending[:0], s.samples.Data[:got], s.width)
	return nil
}

// Close closes the file.
func (s *WAVSource) Close() error {
	return s.file.Close()
}

// WAVSink encodes little endian PCM bytes into a WAV file. It is an
// io.WriteCloser and can take the output of a playback engine directly.
type WAVSink struct {
	file    *os.File
	encoder *wav.Encoder
	format  *audio.Format
	width   int
	partial []byte // trailing bytes of an incomplete sample
	closed  bool
}

// CreateWAV creates a WAV file, making its directory if needed.
func CreateWAV(filePath string, sampleRate, bitDepth, channels int) (*WAVSink, error) {
	if err := validateFormat(sampleRate, bitDepth, channels); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	f, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	return &WAVSink{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, bitDepth, channels, 1),
		format:  &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		width:   bitDepth / 8,
	}, nil
}

// Write implements io.Writer.
func (w *WAVSink) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}

	data := p
	if len(w.partial) > 0 {
		data = append(w.partial, p...)
	}
	whole := len(data) - len(data)%w.width

	if whole > 0 {
		if err := w.encoder.Write(&audio.IntBuffer{
			Data:   decodeSamples(data[:whole], w.width),
			Format: w.format,
		}); err != nil {
			return 0, fmt.Errorf("failed to write to WAV encoder: %w", err)
		}
	}
	w.partial = append(w.partial[:0:0], data[whole:]...)
	return len(p), nil
}

// Close finalizes the WAV header and closes the file. A trailing incomplete
// sample is dropped.
func (w *WAVSink) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.encoder.Close()
	if err := w.file.Close(); err != nil && encErr == nil {
		encErr = err
	}
	return encErr
}

// encodeSamples appends samples to dst as little endian integers of width bytes.
func encodeSamples(dst []byte, samples []int, width int) []byte {
	for _, v := range samples {
		for b := 0; b < width; b++ {
			dst = append(dst, byte(v>>(8*b)))
		}
	}
	return dst
}

// decodeSamples reads little endian signed integers of width bytes.
func decodeSamples(data []byte, width int) []int {
	samples := make([]int, len(data)/width)
	shift := 64 - 8*width
	for i := range samples {
		var v uint64
		for b := 0; b < width; b++ {
			v |= uint64(data[i*width+b]) << (8 * b)
		}
		samples[i] = int(int64(v<<shift) >> shift)
	}
	return samples
}
