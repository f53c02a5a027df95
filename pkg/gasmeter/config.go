package gasmeter

import (
	"time"
)

// PollMode selects how the drain worker behaves when the channel is empty.
type PollMode string

const (
	// PollSpin re-acquires the lock and polls again immediately. Lowest
	// latency, one core kept busy per meter.
	PollSpin PollMode = "spin"

	// PollWait parks the worker until a value arrives, Close is requested,
	// or WakeInterval elapses.
	PollWait PollMode = "wait"
)

// Config holds drain worker settings.
type Config struct {
	// PollMode is "spin" or "wait".
	// Default: "wait".
	PollMode PollMode `mapstructure:"poll_mode"`

	// WakeInterval bounds how long a waiting worker sleeps before polling
	// again. Only used in wait mode.
	// Default: 10 milliseconds.
	WakeInterval time.Duration `mapstructure:"wake_interval"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		PollMode:     PollWait,
		WakeInterval: 10 * time.Millisecond,
	}
}

// Validate checks the config for invalid values and applies defaults.
func (c *Config) Validate() {
	switch c.PollMode {
	case PollSpin, PollWait:
	default:
		c.PollMode = PollWait
	}
	if c.WakeInterval <= 0 {
		c.WakeInterval = 10 * time.Millisecond
	}
}
