package bridge

import "time"

// Config holds per-session timing.
type Config struct {
	// Timeout bounds the wait for one response frame.
	Timeout time.Duration
	// StopTimeout bounds receiver shutdown on Close.
	StopTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Timeout:     2 * time.Second,
		StopTimeout: time.Second,
	}
}

func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	return c
}
