package bridge

import (
	"errors"
	"fmt"

	"github.com/danmuck/xcbridge/internal/observability"
	"github.com/danmuck/xcbridge/internal/protocol/command"
	"github.com/danmuck/xcbridge/internal/transport"
)

var (
	ErrNotConnected      = errors.New("bridge: session not connected")
	ErrAlreadyOpen       = errors.New("bridge: session already open")
	ErrProtocolViolation = errors.New("bridge: protocol violation")
	ErrCommandFailed     = errors.New("bridge: command failed")

	ErrTimeout              = transport.ErrTimeout
	ErrResourceBusy         = transport.ErrResourceBusy
	ErrTransportUnavailable = transport.ErrDeviceNotFound
)

// CommandFailedError is a device-reported nonzero status, with the text the
// device gave for it through get-last-error.
type CommandFailedError struct {
	CommandID command.ID
	Name      string
	Status    uint8
	Message   string
}

func (e *CommandFailedError) Error() string {
	if e == nil {
		return ""
	}
	name := e.Name
	if name == "" {
		name = e.CommandID.String()
	}
	return fmt.Sprintf("bridge: %s failed with code %d [%s]", name, e.Status, e.Message)
}

func (e *CommandFailedError) Is(target error) bool {
	return target == ErrCommandFailed
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeOK
	case errors.Is(err, ErrCommandFailed):
		return observability.OutcomeFailed
	case errors.Is(err, ErrTimeout):
		return observability.OutcomeTimeout
	case errors.Is(err, ErrProtocolViolation):
		return observability.OutcomeProtocol
	default:
		return observability.OutcomeError
	}
}
