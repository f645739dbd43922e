package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	StartMarker byte = 0xCC
	EndMarker   byte = 0xCD

	// HeaderLen covers start marker, u16 length and type byte.
	HeaderLen = 4
	// Overhead is header plus trailing end marker.
	Overhead = HeaderLen + 1

	MaxPayloadLen = 0xFFFF
)

// Type identifies the logical channel a frame belongs to.
type Type uint8

// TypeCommand carries every command request and response.
const TypeCommand Type = 0xF2

func (t Type) String() string {
	if t == TypeCommand {
		return "command"
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

var (
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrBadStartMarker  = errors.New("frame: bad start marker")
	ErrBadEndMarker    = errors.New("frame: bad end marker")
	ErrShortFrame      = errors.New("frame: short frame")
)

// Frame is one complete link message.
type Frame struct {
	Type    Type
	Payload []byte
}

func Encode(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, Overhead+len(f.Payload))
	buf[0] = StartMarker
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(f.Payload)))
	buf[3] = byte(f.Type)
	copy(buf[HeaderLen:], f.Payload)
	buf[len(buf)-1] = EndMarker
	return buf, nil
}

func WriteFrame(w io.Writer, f Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Parse decodes exactly one frame from b.
func Parse(b []byte) (Frame, error) {
	if len(b) < Overhead {
		return Frame{}, ErrShortFrame
	}
	if b[0] != StartMarker {
		return Frame{}, ErrBadStartMarker
	}
	n := int(binary.LittleEndian.Uint16(b[1:3]))
	if len(b) != Overhead+n {
		return Frame{}, fmt.Errorf("%w: length field %d, have %d payload bytes", ErrShortFrame, n, len(b)-Overhead)
	}
	if b[len(b)-1] != EndMarker {
		return Frame{}, ErrBadEndMarker
	}
	payload := make([]byte, n)
	copy(payload, b[HeaderLen:HeaderLen+n])
	return Frame{Type: Type(b[3]), Payload: payload}, nil
}
