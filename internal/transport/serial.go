package transport

import (
	"time"

	"github.com/danmuck/xcbridge/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SerialConfig tunes the UART link.
type SerialConfig struct {
	BaudRate     int
	QueueDepth   int
	MaxPayload   int
	PollInterval time.Duration
	StopTimeout  time.Duration
	// Accept lists frame types delivered to waiters; others are dropped.
	Accept []frame.Type
	Logger *zerolog.Logger
}

func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		BaudRate:     115200,
		QueueDepth:   DefaultQueueDepth,
		MaxPayload:   frame.MaxPayloadLen,
		PollInterval: 50 * time.Millisecond,
		StopTimeout:  time.Second,
		Accept:       []frame.Type{frame.TypeCommand},
	}
}

// WithDefaults fills zero fields from DefaultSerialConfig.
func (c SerialConfig) WithDefaults() SerialConfig {
	d := DefaultSerialConfig()
	if c.BaudRate <= 0 {
		c.BaudRate = d.BaudRate
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = d.QueueDepth
	}
	if c.MaxPayload <= 0 || c.MaxPayload > frame.MaxPayloadLen {
		c.MaxPayload = d.MaxPayload
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if len(c.Accept) == 0 {
		c.Accept = d.Accept
	}
	return c
}

func (c SerialConfig) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return log.Logger
}

// SerialOpener opens serial links with cfg.
func SerialOpener(cfg SerialConfig) Opener {
	return OpenerFunc(func(path string) (FrameTransport, error) {
		return OpenSerial(path, cfg)
	})
}
