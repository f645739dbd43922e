package transport

import (
	"context"
	"errors"
	"time"

	"github.com/danmuck/xcbridge/internal/protocol/frame"
)

var (
	ErrDeviceNotFound      = errors.New("transport: device not found")
	ErrResourceBusy        = errors.New("transport: device held by another session")
	ErrTimeout             = errors.New("transport: timed out waiting for frame")
	ErrClosed              = errors.New("transport: closed")
	ErrNotStarted          = errors.New("transport: receiver not started")
	ErrAlreadyStarted      = errors.New("transport: receiver already started")
	ErrStopTimeout         = errors.New("transport: receiver did not stop in time")
	ErrTypeNotAccepted     = errors.New("transport: frame type not accepted")
	ErrUnsupportedPlatform = errors.New("transport: serial link only supported on linux")
)

// FrameTransport is one exclusively held, framed link to a device.
type FrameTransport interface {
	// Start launches the background receiver.
	Start() error
	// Send writes one frame; it does not wait for a reply.
	Send(t frame.Type, payload []byte) error
	// Wait blocks until a frame of type t arrives, timeout elapses, or ctx ends.
	Wait(ctx context.Context, t frame.Type, timeout time.Duration) (frame.Frame, error)
	// Drain discards queued frames of type t and reports how many were dropped.
	Drain(t frame.Type) int
	// Stop halts the receiver, waiting at most timeout.
	Stop(timeout time.Duration) error
	// Close releases the device. It implies Stop.
	Close() error
}

// Opener acquires a FrameTransport for a device path.
type Opener interface {
	Open(path string) (FrameTransport, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(path string) (FrameTransport, error)

func (f OpenerFunc) Open(path string) (FrameTransport, error) {
	return f(path)
}
