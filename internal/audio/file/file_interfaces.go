// Package file moves interleaved little endian PCM between WAV files and the
// simulated transfer engine.
package file

import (
	"fmt"
	"time"
)

// Format represents the supported audio file formats.
type Format string

// FormatWAV represents the WAV audio format.
const FormatWAV Format = "wav"

// Standard audio constants
const (
	DefaultSampleRate = 48000
	DefaultBitDepth   = 16
	DefaultChannels   = 2
)

// Info contains metadata about an audio file.
type Info struct {
	SampleRate  int           // Sample rate in Hz
	NumChannels int           // Number of audio channels
	BitDepth    int           // Bit depth (16, 24 or 32)
	TotalFrames int           // Interleaved frames in the data chunk
	Duration    time.Duration // Duration of the audio file
	Format      Format        // Audio format
	Path        string        // File path
}

// FrameBytes returns the size of one interleaved frame.
func (i Info) FrameBytes() int {
	return i.NumChannels * i.BitDepth / 8
}

func validateFormat(sampleRate, bitDepth, channels int) error {
	switch {
	case sampleRate <= 0:
		return fmt.Errorf("invalid sample rate: %d", sampleRate)
	case bitDepth != 16 && bitDepth != 24 && bitDepth != 32:
		return fmt.Errorf("unsupported bit depth: %d", bitDepth)
	case channels <= 0:
		return fmt.Errorf("invalid channel count: %d", channels)
	}
	return nil
}
