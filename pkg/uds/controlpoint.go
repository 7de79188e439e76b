package uds

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// User Control Point op codes.
const (
	OpRegisterNewUser byte = 0x01
	OpConsent         byte = 0x02
	OpDeleteUserData  byte = 0x03
	OpResponseCode    byte = 0x20
)

// User Control Point response values.
const (
	ResponseSuccess            byte = 0x01
	ResponseOpCodeNotSupported byte = 0x02
	ResponseInvalidParameter   byte = 0x03
	ResponseOperationFailed    byte = 0x04
	ResponseUserNotAuthorized  byte = 0x05
)

// ControlPointRequest is a decoded User Control Point write.
type ControlPointRequest struct {
	OpCode      byte
	UserIndex   uint8
	ConsentCode uint16
}

// ControlPointResponse is the procedure result indicated back to the client.
// UserIndex is only present on a successful Register New User.
type ControlPointResponse struct {
	RequestOpCode byte
	Value         byte
	UserIndex     uint8
	HasUserIndex  bool
}

// Marshal encodes the request for a control point write.
func (r ControlPointRequest) Marshal() []byte {
	switch r.OpCode {
	case OpRegisterNewUser:
		b := make([]byte, 3)
		b[0] = r.OpCode
		binary.LittleEndian.PutUint16(b[1:], r.ConsentCode)
		return b
	case OpConsent:
		b := make([]byte, 4)
		b[0] = r.OpCode
		b[1] = r.UserIndex
		binary.LittleEndian.PutUint16(b[2:], r.ConsentCode)
		return b
	default:
		return []byte{r.OpCode}
	}
}

// UnmarshalControlPointRequest decodes a control point write payload.
// An unknown op code is returned as-is so the caller can answer with
// ResponseOpCodeNotSupported.
func UnmarshalControlPointRequest(data []byte) (ControlPointRequest, error) {
	if len(data) == 0 {
		return ControlPointRequest{}, errors.Wrap(ErrInvalidParameter, "empty control point request")
	}
	req := ControlPointRequest{OpCode: data[0]}
	switch req.OpCode {
	case OpRegisterNewUser:
		if len(data) != 3 {
			return req, errors.Wrap(ErrInvalidParameter, "register request expects 3 bytes")
		}
		req.ConsentCode = binary.LittleEndian.Uint16(data[1:])
	case OpConsent:
		if len(data) != 4 {
			return req, errors.Wrap(ErrInvalidParameter, "consent request expects 4 bytes")
		}
		req.UserIndex = data[1]
		req.ConsentCode = binary.LittleEndian.Uint16(data[2:])
	case OpDeleteUserData:
		if len(data) != 1 {
			return req, errors.Wrap(ErrInvalidParameter, "delete request expects 1 byte")
		}
	}
	return req, nil
}

// Marshal encodes the response for the indication payload. The request op
// code is always echoed.
func (r ControlPointResponse) Marshal() []byte {
	b := []byte{OpResponseCode, r.RequestOpCode, r.Value}
	if r.HasUserIndex {
		b = append(b, r.UserIndex)
	}
	return b
}

// UnmarshalControlPointResponse decodes an indicated procedure result.
func UnmarshalControlPointResponse(data []byte) (ControlPointResponse, error) {
	if len(data) < 3 || data[0] != OpResponseCode {
		return ControlPointResponse{}, errors.Wrap(ErrInvalidParameter, "malformed control point response")
	}
	resp := ControlPointResponse{RequestOpCode: data[1], Value: data[2]}
	if len(data) > 3 {
		resp.UserIndex = data[3]
		resp.HasUserIndex = true
	}
	return resp, nil
}
