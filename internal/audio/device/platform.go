package device

import (
	"runtime"

	"github.com/gen2brain/malgo"
)

// PlatformDefaultBackend returns the miniaudio backend used on the current platform.
func PlatformDefaultBackend() malgo.Backend {
	switch runtime.GOOS {
	case "linux":
		return malgo.BackendAlsa
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendNull
	}
}

// BackendByName maps a backend name from the settings file to a malgo backend.
// The empty name selects the platform default.
func BackendByName(name string) (malgo.Backend, bool) {
	switch name {
	case "":
		return PlatformDefaultBackend(), true
	case "null":
		return malgo.BackendNull, true
	case "alsa":
		return malgo.BackendAlsa, true
	case "pulseaudio":
		return malgo.BackendPulseaudio, true
	case "jack":
		return malgo.BackendJack, true
	case "wasapi":
		return malgo.BackendWasapi, true
	case "coreaudio":
		return malgo.BackendCoreaudio, true
	default:
		return malgo.BackendNull, false
	}
}
