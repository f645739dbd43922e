package command

import "errors"

var (
	ErrShortPayload        = errors.New("command: payload shorter than header")
	ErrUnregisteredCommand = errors.New("command: unregistered command id")
	ErrDuplicateCommand    = errors.New("command: command id already registered")
	ErrInvalidDescriptor   = errors.New("command: invalid descriptor")
	ErrNonASCII            = errors.New("command: result is not ascii text")
	ErrParamsTooLarge      = errors.New("command: parameters too large")
)
