package buffer

// Config holds the configuration parameters needed by the buffer package
type Config struct {
	// Mapped selects anonymous shared mappings instead of heap memory.
	Mapped bool

	// Locked pins mapped buffers in memory.
	Locked bool
}

// NewDefaultConfig creates a config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Mapped: true,
		Locked: false,
	}
}
