package tracer

import (
	"errors"
	"fmt"

	"github.com/tracertl/tracertl/tracefile"
)

const (
	DefaultOutputPath      = "tracefile.zst"
	DefaultMaxInstructions = 500
	DefaultInitialCapacity = 4096
	DefaultFlushThreshold  = 64 * 1024
	DefaultMaxCapacity     = 1024 * 1024
)

var (
	ErrInvalidBudget   = errors.New("instruction budget must be positive")
	ErrInvalidCapacity = errors.New("invalid buffer capacity")
	ErrMissingOutput   = errors.New("output path is required")
)

// Config is the session configuration
type Config struct {
	// OutputPath is the trace file created by Open, truncated if it exists
	OutputPath string

	// MaxInstructions is the budget of records accepted across all vCPUs
	MaxInstructions uint64

	// InitialCapacity is the number of records the buffer is allocated with.
	// The buffer doubles when full, up to MaxCapacity.
	InitialCapacity int

	// FlushThreshold is the buffered record count that triggers a flush
	FlushThreshold int

	// MaxCapacity bounds buffer growth. Records arriving while the buffer is
	// at MaxCapacity are dropped, which only happens while flushes fail.
	MaxCapacity int

	// Codec is one of zstd, snappy or none
	Codec string

	// CompressionLevel is a zstd level name (fastest, default, better, best)
	CompressionLevel string

	// PhysicalMemory records the physical address of memory accesses when
	// the emulator supplies one
	PhysicalMemory bool
}

// DefaultConfig returns the default session configuration
func DefaultConfig() *Config {
	return &Config{
		OutputPath:      DefaultOutputPath,
		MaxInstructions: DefaultMaxInstructions,
		InitialCapacity: DefaultInitialCapacity,
		FlushThreshold:  DefaultFlushThreshold,
		MaxCapacity:     DefaultMaxCapacity,
		Codec:           tracefile.CodecZstd,
	}
}

// Validate checks the configuration for values that make startup impossible
func (c *Config) Validate() error {
	if c.OutputPath == "" {
		return ErrMissingOutput
	}

	if c.MaxInstructions == 0 {
		return ErrInvalidBudget
	}

	if c.InitialCapacity <= 0 {
		return fmt.Errorf("%w: initial capacity %d", ErrInvalidCapacity, c.InitialCapacity)
	}

	if c.FlushThreshold <= 0 {
		return fmt.Errorf("%w: flush threshold %d", ErrInvalidCapacity, c.FlushThreshold)
	}

	if c.MaxCapacity < c.InitialCapacity || c.MaxCapacity < c.FlushThreshold {
		return fmt.Errorf(
			"%w: max capacity %d below initial capacity %d or flush threshold %d",
			ErrInvalidCapacity,
			c.MaxCapacity,
			c.InitialCapacity,
			c.FlushThreshold,
		)
	}

	return nil
}
