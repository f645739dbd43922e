package command

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/xcbridge/internal/protocol/frame"
)

const (
	IDLen             = 2
	ResponseHeaderLen = IDLen + 1

	MaxParamsLen = frame.MaxPayloadLen - IDLen
	MaxResultLen = frame.MaxPayloadLen - ResponseHeaderLen

	StatusOK uint8 = 0
)

// ID is the little-endian u16 leading every command-channel payload.
type ID uint16

func (id ID) String() string {
	return fmt.Sprintf("0x%04x", uint16(id))
}

// Request is one host->device command. Build it with NewRequest.
type Request struct {
	CommandID ID
	Params    []byte
}

func NewRequest(id ID, params []byte) Request {
	var p []byte
	if len(params) > 0 {
		p = make([]byte, len(params))
		copy(p, params)
	}
	return Request{CommandID: id, Params: p}
}

// Response is one device->host reply; Result is interpreted per command.
type Response struct {
	CommandID ID
	Status    uint8
	Result    []byte
}

func (r Response) OK() bool {
	return r.Status == StatusOK
}

func EncodeRequest(req Request) ([]byte, error) {
	if len(req.Params) > MaxParamsLen {
		return nil, ErrParamsTooLarge
	}
	buf := make([]byte, IDLen+len(req.Params))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(req.CommandID))
	copy(buf[IDLen:], req.Params)
	return buf, nil
}

func DecodeRequest(payload []byte) (Request, error) {
	if len(payload) < IDLen {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	return NewRequest(ID(binary.LittleEndian.Uint16(payload[0:2])), payload[IDLen:]), nil
}

func EncodeResponse(resp Response) ([]byte, error) {
	if len(resp.Result) > MaxResultLen {
		return nil, ErrParamsTooLarge
	}
	buf := make([]byte, ResponseHeaderLen+len(resp.Result))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(resp.CommandID))
	buf[2] = resp.Status
	copy(buf[ResponseHeaderLen:], resp.Result)
	return buf, nil
}

// DecodeResponse splits a command-channel payload without consulting a registry.
func DecodeResponse(payload []byte) (Response, error) {
	if len(payload) < ResponseHeaderLen {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrShortPayload, len(payload))
	}
	result := make([]byte, len(payload)-ResponseHeaderLen)
	copy(result, payload[ResponseHeaderLen:])
	return Response{
		CommandID: ID(binary.LittleEndian.Uint16(payload[0:2])),
		Status:    payload[2],
		Result:    result,
	}, nil
}
