package uds

import (
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestRegisterRequestRoundTrip(t *testing.T) {
	req := ControlPointRequest{OpCode: OpRegisterNewUser, ConsentCode: 1234}
	data := req.Marshal()
	assert.Equal(t, len(data), 3)
	assert.Equal(t, data[0], OpRegisterNewUser)
	decoded, err := UnmarshalControlPointRequest(data)
	assert.NilError(t, err)
	assert.Equal(t, decoded.ConsentCode, uint16(1234))
}

func TestConsentRequestRoundTrip(t *testing.T) {
	req := ControlPointRequest{OpCode: OpConsent, UserIndex: 2, ConsentCode: 9999}
	decoded, err := UnmarshalControlPointRequest(req.Marshal())
	assert.NilError(t, err)
	assert.Equal(t, decoded.UserIndex, uint8(2))
	assert.Equal(t, decoded.ConsentCode, uint16(9999))
}

func TestDeleteRequestIsSingleByte(t *testing.T) {
	req := ControlPointRequest{OpCode: OpDeleteUserData}
	data := req.Marshal()
	assert.DeepEqual(t, data, []byte{OpDeleteUserData})
	_, err := UnmarshalControlPointRequest(data)
	assert.NilError(t, err)
}

func TestUnmarshalRequestRejectsTruncated(t *testing.T) {
	_, err := UnmarshalControlPointRequest([]byte{OpRegisterNewUser, 0x01})
	assert.Assert(t, err != nil)
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
}

func TestUnmarshalRequestUnknownOpCode(t *testing.T) {
	// Unknown op codes decode cleanly; the procedure engine answers them
	// with ResponseOpCodeNotSupported rather than an ATT error.
	req, err := UnmarshalControlPointRequest([]byte{0x42})
	assert.NilError(t, err)
	assert.Equal(t, req.OpCode, byte(0x42))
}

func TestResponseWithUserIndex(t *testing.T) {
	resp := ControlPointResponse{RequestOpCode: OpRegisterNewUser, Value: ResponseSuccess, UserIndex: 1, HasUserIndex: true}
	data := resp.Marshal()
	assert.DeepEqual(t, data, []byte{OpResponseCode, OpRegisterNewUser, ResponseSuccess, 0x01})
	decoded, err := UnmarshalControlPointResponse(data)
	assert.NilError(t, err)
	assert.Assert(t, decoded.HasUserIndex)
	assert.Equal(t, decoded.UserIndex, uint8(1))
}

func TestResponseWithoutUserIndex(t *testing.T) {
	resp := ControlPointResponse{RequestOpCode: OpConsent, Value: ResponseUserNotAuthorized}
	decoded, err := UnmarshalControlPointResponse(resp.Marshal())
	assert.NilError(t, err)
	assert.Assert(t, !decoded.HasUserIndex)
	assert.Equal(t, decoded.Value, ResponseUserNotAuthorized)
}

func TestResponseErrorMapping(t *testing.T) {
	assert.NilError(t, ResponseError(ResponseSuccess))
	assert.Equal(t, ResponseError(ResponseInvalidParameter), ErrInvalidParameter)
	assert.Equal(t, ResponseError(ResponseUserNotAuthorized), ErrUserNotAuthorized)
	assert.Equal(t, ResponseError(ResponseOperationFailed), ErrOperationFailed)
	assert.Equal(t, ResponseError(ResponseOpCodeNotSupported), ErrOpCodeNotSupported)
}
