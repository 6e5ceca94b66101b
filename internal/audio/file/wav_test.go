package file

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		bitDepth int
		channels int
	}{
		{"16-bit stereo", 16, 2},
		{"24-bit mono", 24, 1},
		{"32-bit stereo", 32, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "out", "test.wav")
			frameBytes := tt.channels * tt.bitDepth / 8

			pcm := make([]byte, 480*frameBytes)
			for i := range pcm {
				pcm[i] = byte(i*31 + 7)
			}

			sink, err := CreateWAV(path, 48000, tt.bitDepth, tt.channels)
			require.NoError(t, err)

			// Odd write sizes split samples across calls.
			for off := 0; off < len(pcm); off += 37 {
				n, err := sink.Write(pcm[off:min(off+37, len(pcm))])
				require.NoError(t, err)
				require.Equal(t, min(37, len(pcm)-off), n)
			}
			require.NoError(t, sink.Close())
			require.NoError(t, sink.Close())

			src, err := OpenWAV(path)
			require.NoError(t, err)
			defer src.Close()

			info := src.Info()
			assert.Equal(t, 48000, info.SampleRate)
			assert.Equal(t, tt.channels, info.NumChannels)
			assert.Equal(t, tt.bitDepth, info.BitDepth)
			assert.Equal(t, 480, info.TotalFrames)
			assert.Equal(t, 10*time.Millisecond, info.Duration)
			assert.Equal(t, FormatWAV, info.Format)

			got, err := io.ReadAll(src)
			require.NoError(t, err)
			assert.Equal(t, pcm, got)
		})
	}
}

func TestWAVSink_WriteAfterClose(t *testing.T) {
	t.Parallel()

	sink, err := CreateWAV(filepath.Join(t.TempDir(), "closed.wav"), 8000, 16, 1)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	_, err = sink.Write([]byte{1, 2})
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestCreateWAV_InvalidFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := CreateWAV(filepath.Join(dir, "a.wav"), 48000, 8, 2)
	assert.ErrorContains(t, err, "unsupported bit depth")

	_, err = CreateWAV(filepath.Join(dir, "b.wav"), 0, 16, 2)
	assert.ErrorContains(t, err, "invalid sample rate")

	_, err = CreateWAV(filepath.Join(dir, "c.wav"), 48000, 16, 0)
	assert.ErrorContains(t, err, "invalid channel count")
}

func TestOpenWAV_Invalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := OpenWAV(filepath.Join(dir, "missing.wav"))
	assert.ErrorContains(t, err, "failed to open WAV file")

	junk := filepath.Join(dir, "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not a riff file"), 0o600))
	_, err = OpenWAV(junk)
	assert.Error(t, err)
}

func TestSampleCodec(t *testing.T) {
	t.Parallel()

	samples := []int{0, 1, -1, 8388607, -8388608, 4660}
	data := encodeSamples(nil, samples, 3)
	assert.Len(t, data, 18)
	assert.Equal(t, samples, decodeSamples(data, 3))

	assert.Equal(t, []byte{0xff, 0x7f, 0x00, 0x80}, encodeSamples(nil, []int{32767, -32768}, 2))
	assert.Equal(t, []int{32767, -32768}, decodeSamples([]byte{0xff, 0x7f, 0x00, 0x80}, 2))
}
