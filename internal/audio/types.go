package audio

// Direction identifies which way samples move between the stream buffer and the device FIFO.
type Direction int

const (
	// Playback moves samples from the stream buffer to the device.
	Playback Direction = iota

	// Capture moves samples from the device into the stream buffer.
	Capture
)

// String returns a human-readable name for the direction.
func (d Direction) String() string {
	switch d {
	case Playback:
		return "playback"
	case Capture:
		return "capture"
	default:
		return "unknown"
	}
}

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	return d == Playback || d == Capture
}

// StreamState is the state of a stream session.
type StreamState int

const (
	// StateInvalid is an open session that has not started streaming.
	StateInvalid StreamState = iota

	// StateInit is a session with transfers flowing.
	StateInit

	// StateAbort is a stopped session whose transfers were withdrawn.
	StateAbort

	// StateExit is a closed session. It is terminal.
	StateExit
)

// String returns a human-readable name for the state.
func (s StreamState) String() string {
	switch s {
	case StateInvalid:
		return "invalid"
	case StateInit:
		return "init"
	case StateAbort:
		return "abort"
	case StateExit:
		return "exit"
	default:
		return "unknown"
	}
}

// PageSize is the allocation granule the hardware profiles are expressed in.
const PageSize = 4096

// HardwareProfile describes the period and buffer geometry a device accepts.
type HardwareProfile struct {
	Name           string
	ChannelsMin    int
	ChannelsMax    int
	PeriodBytesMin int
	PeriodBytesMax int
	PeriodsMin     int
	PeriodsMax     int
	BufferBytesMax int
}

// DefaultProfile covers mono and stereo interleaved streams.
var DefaultProfile = HardwareProfile{
	Name:           "default",
	ChannelsMin:    1,
	ChannelsMax:    2,
	PeriodBytesMin: 128,
	PeriodBytesMax: PageSize,
	PeriodsMin:     2,
	PeriodsMax:     8,
	BufferBytesMax: PageSize * 8,
}

// TDMProfile covers high channel count streams. Its period geometry is fixed.
var TDMProfile = HardwareProfile{
	Name:           "tdm",
	ChannelsMin:    8,
	ChannelsMax:    16,
	PeriodBytesMin: 1024 * 16,
	PeriodBytesMax: 1024 * 16,
	PeriodsMin:     4,
	PeriodsMax:     4,
	BufferBytesMax: 1024 * 16 * 4,
}

// ProfileByName returns the hardware profile with the given name.
func ProfileByName(name string) (HardwareProfile, error) {
	switch name {
	case "", DefaultProfile.Name:
		return DefaultProfile, nil
	case TDMProfile.Name:
		return TDMProfile, nil
	default:
		return HardwareProfile{}, ErrUnknownProfile
	}
}

// Token correlates a completion signal with the session and descriptor slot that issued it.
// Gen distinguishes successive uses of the same slot.
type Token struct {
	Session uint32
	Slot    int
	Gen     uint64
}

// Handle identifies a submitted descriptor inside a transfer engine.
type Handle uint64

// Descriptor describes one transfer between the stream buffer and the device FIFO.
type Descriptor struct {
	Offset    int       // byte offset into the stream buffer
	Length    int       // bytes to move, one period once issued
	Direction Direction // Playback reads Data, Capture fills it
	Addr      uintptr   // buffer base + Offset
	FIFOAddr  uintptr   // device FIFO address from the device configuration
	Data      []byte    // the buffer region [Offset, Offset+Length)
	Token     Token
}

// ToMemory reports whether the transfer writes into the stream buffer.
func (d *Descriptor) ToMemory() bool {
	return d.Direction == Capture
}

// Common error values.
var (
	ErrInvalidParameters = Error("invalid parameters")
	ErrUnknownProfile    = Error("unknown hardware profile")
	ErrNoChannel         = Error("no transfer channel available")
	ErrChannelReleased   = Error("transfer channel released")
	ErrQueueFull         = Error("transfer queue full")
	ErrNotQueued         = Error("descriptor not queued")
	ErrXrun              = Error("stream xrun")
	ErrStreamNotFound    = Error("stream not found")
	ErrStreamExists      = Error("stream already exists")
)

// Error type for common errors.
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}
