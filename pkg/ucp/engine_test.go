package ucp

import (
	"testing"
	"time"

	"github.com/Krajiyah/uds-sdk/internal"
	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/store"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type recordingIndicator struct {
	responses chan uds.ControlPointResponse
	err       error
}

func newRecordingIndicator() *recordingIndicator {
	return &recordingIndicator{responses: make(chan uds.ControlPointResponse, 4)}
}

func (r *recordingIndicator) IndicateControlPoint(addr string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	resp, err := uds.UnmarshalControlPointResponse(payload)
	if err != nil {
		return err
	}
	r.responses <- resp
	return nil
}

func (r *recordingIndicator) next(t *testing.T) uds.ControlPointResponse {
	select {
	case resp := <-r.responses:
		return resp
	case <-time.After(time.Second * 2):
		t.Fatal("no indication delivered")
		return uds.ControlPointResponse{}
	}
}

func getTestSession() *session.Session {
	s := session.NewSession(internal.TestAddr, session.LEPublic)
	s.Encrypted = true
	s.ControlPointCCCD = uds.CCCDIndicate
	return s
}

func getTestEngine() (*Engine, *store.UserStore, *recordingIndicator) {
	st := store.NewUserStore(nil)
	ind := newRecordingIndicator()
	return NewEngine(st, ind, nil), st, ind
}

func submit(t *testing.T, e *Engine, s *session.Session, ind *recordingIndicator, req uds.ControlPointRequest) uds.ControlPointResponse {
	assert.NilError(t, e.HandleWrite(s, req.Marshal()))
	return ind.next(t)
}

func TestRegisterNewUserProcedure(t *testing.T) {
	e, st, ind := getTestEngine()
	s := getTestSession()
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	assert.Assert(t, resp.HasUserIndex)
	assert.Equal(t, resp.UserIndex, uint8(0))
	assert.Assert(t, st.Registered(0))
}

func TestRegisterFailsWhenFull(t *testing.T) {
	e, st, ind := getTestEngine()
	s := getTestSession()
	for i := 0; i < uds.MaxUsers; i++ {
		_, err := st.Register(1000)
		assert.NilError(t, err)
	}
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseOperationFailed)
	assert.Assert(t, !resp.HasUserIndex)
}

func TestConsentSelectsUser(t *testing.T) {
	e, st, ind := getTestEngine()
	s := getTestSession()
	index, err := st.Register(1234)
	assert.NilError(t, err)
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: index, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	assert.Equal(t, s.SelectedUser(), index)
	assert.Assert(t, s.HasConsent(index))
}

func TestConsentWrongCode(t *testing.T) {
	e, st, ind := getTestEngine()
	s := getTestSession()
	index, err := st.Register(1234)
	assert.NilError(t, err)
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: index, ConsentCode: 4321})
	assert.Equal(t, resp.Value, uds.ResponseUserNotAuthorized)
	assert.Assert(t, !s.HasConsent(index))
	assert.Equal(t, st.ConsentAttempts(index), uint8(uds.MaxConsentAttempts-1))
}

func TestConsentLockedOutUser(t *testing.T) {
	e, st, ind := getTestEngine()
	s := getTestSession()
	index, err := st.Register(1234)
	assert.NilError(t, err)
	for i := 0; i < int(uds.MaxConsentAttempts); i++ {
		_ = st.Authorize(index, 1)
	}
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: index, ConsentCode: 1})
	assert.Equal(t, resp.Value, uds.ResponseOperationFailed)
}

func TestConsentUnregisteredUser(t *testing.T) {
	e, _, ind := getTestEngine()
	s := getTestSession()
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: 0, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseUserNotAuthorized)
}

func TestDeleteUserDataProcedure(t *testing.T) {
	e, st, ind := getTestEngine()
	s := getTestSession()
	index, err := st.Register(1234)
	assert.NilError(t, err)
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: index, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	resp = submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpDeleteUserData})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	assert.Assert(t, !st.Registered(index))
	assert.Equal(t, s.SelectedUser(), uint8(uds.UnknownUserIndex))
	assert.Assert(t, !s.HasConsent(index))
}

func TestDeleteWithoutSelectedUser(t *testing.T) {
	e, _, ind := getTestEngine()
	s := getTestSession()
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpDeleteUserData})
	assert.Equal(t, resp.Value, uds.ResponseUserNotAuthorized)
}

func TestUnknownOpCodeIndicatesNotSupported(t *testing.T) {
	e, _, ind := getTestEngine()
	s := getTestSession()
	resp := submit(t, e, s, ind, uds.ControlPointRequest{OpCode: 0x42})
	assert.Equal(t, resp.Value, uds.ResponseOpCodeNotSupported)
	assert.Equal(t, resp.RequestOpCode, byte(0x42))
}

func TestWriteRejectedOnUnencryptedLink(t *testing.T) {
	e, _, _ := getTestEngine()
	s := getTestSession()
	s.Encrypted = false
	err := e.HandleWrite(s, uds.ControlPointRequest{OpCode: uds.OpDeleteUserData}.Marshal())
	assert.Equal(t, errors.Cause(err), uds.ErrInsufficientEncryption)
}

func TestWriteRejectedWithoutIndications(t *testing.T) {
	e, _, _ := getTestEngine()
	s := getTestSession()
	s.ControlPointCCCD = 0
	err := e.HandleWrite(s, uds.ControlPointRequest{OpCode: uds.OpDeleteUserData}.Marshal())
	assert.Equal(t, errors.Cause(err), uds.ErrCCCDImproperlyConfigured)
}

func TestSecondProcedureWhileBusy(t *testing.T) {
	e, _, _ := getTestEngine()
	s := getTestSession()
	assert.NilError(t, s.BeginProcedure())
	err := e.HandleWrite(s, uds.ControlPointRequest{OpCode: uds.OpDeleteUserData}.Marshal())
	assert.Equal(t, errors.Cause(err), uds.ErrProcedureInProgress)
}

func TestProcedureReleasedAfterIndication(t *testing.T) {
	e, _, ind := getTestEngine()
	s := getTestSession()
	_ = submit(t, e, s, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1})
	// the slot frees once the indication is confirmed
	deadline := time.Now().Add(time.Second * 2)
	for s.Procedure() != session.ProcedureIdle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond * 5)
	}
	assert.Equal(t, s.Procedure(), session.ProcedureIdle)
}

func TestMalformedWriteDoesNotOccupyProcedure(t *testing.T) {
	e, _, _ := getTestEngine()
	s := getTestSession()
	err := e.HandleWrite(s, []byte{uds.OpRegisterNewUser})
	assert.Equal(t, errors.Cause(err), uds.ErrInvalidParameter)
	assert.Equal(t, s.Procedure(), session.ProcedureIdle)
}
