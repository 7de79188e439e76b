package server

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/Krajiyah/uds-sdk/internal"
	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/pkg/errors"
	"gotest.tools/assert"
)

type testServerListener struct {
	procedures chan uds.ControlPointResponse
}

func newTestServerListener() *testServerListener {
	return &testServerListener{procedures: make(chan uds.ControlPointResponse, 4)}
}

func (l *testServerListener) OnClientConnected(addr string)                   {}
func (l *testServerListener) OnClientDisconnected(addr string, retained bool) {}
func (l *testServerListener) OnInternalError(err error)                       {}
func (l *testServerListener) OnProcedureComplete(addr string, resp uds.ControlPointResponse) {
	l.procedures <- resp
}

type sinkRecorder struct {
	payloads chan []byte
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{payloads: make(chan []byte, 4)}
}

func (r *sinkRecorder) sink(payload []byte) error {
	r.payloads <- append([]byte{}, payload...)
	return nil
}

func (r *sinkRecorder) next(t *testing.T) []byte {
	select {
	case p := <-r.payloads:
		return p
	case <-time.After(time.Second * 2):
		t.Fatal("no payload delivered")
		return nil
	}
}

func getConnectedServer(t *testing.T, listener Listener) (*UDSServer, *session.Session) {
	srv := NewUDSServer("TestServer", listener)
	s := srv.OnConnected(internal.TestAddr, session.LEPublic)
	srv.OnEncryptionChanged(internal.TestAddr, true, 16)
	return srv, s
}

func runProcedure(t *testing.T, srv *UDSServer, ind *sinkRecorder, req uds.ControlPointRequest) uds.ControlPointResponse {
	assert.NilError(t, srv.HandleControlPointWrite(internal.TestAddr, req.Marshal()))
	resp, err := uds.UnmarshalControlPointResponse(ind.next(t))
	assert.NilError(t, err)
	return resp
}

const secondTestAddr = "44:22:33:44:55:66"

func TestDeleteRevokesOtherSessionsConsent(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	other := srv.OnConnected(secondTestAddr, session.LEPublic)
	srv.OnEncryptionChanged(secondTestAddr, true, 16)

	_, err := srv.Store().Register(1234)
	assert.NilError(t, err)
	assert.NilError(t, srv.Store().Authorize(0, 1234))
	other.GrantConsent(0)
	other.SelectUser(0)
	_, err = srv.HandleCharacteristicRead(secondTestAddr, uds.FirstName)
	assert.NilError(t, err)

	// The first session deletes user 0 and a new user reuses the slot. The
	// second session's old grant must not authorize it against the new
	// occupant.
	assert.NilError(t, srv.Store().Delete(0))
	index, err := srv.Store().Register(9876)
	assert.NilError(t, err)
	assert.Equal(t, index, uint8(0))

	assert.Equal(t, other.SelectedUser(), uint8(uds.UnknownUserIndex))
	_, err = srv.HandleCharacteristicRead(secondTestAddr, uds.FirstName)
	assert.Equal(t, errors.Cause(err), uds.ErrUserDataAccessNotPermitted)
}

func TestReadRequiresEncryption(t *testing.T) {
	srv := NewUDSServer("TestServer", nil)
	srv.OnConnected(internal.TestAddr, session.LEPublic)
	_, err := srv.HandleCharacteristicRead(internal.TestAddr, uds.FirstName)
	assert.Equal(t, errors.Cause(err), uds.ErrInsufficientEncryption)
}

func TestReadRequiresSelectedUser(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	_, err := srv.HandleCharacteristicRead(internal.TestAddr, uds.FirstName)
	assert.Equal(t, errors.Cause(err), uds.ErrUserDataAccessNotPermitted)
}

func TestReadRequiresConsent(t *testing.T) {
	srv, s := getConnectedServer(t, nil)
	_, err := srv.Store().Register(1234)
	assert.NilError(t, err)
	s.SelectUser(0)
	_, err = srv.HandleCharacteristicRead(internal.TestAddr, uds.FirstName)
	assert.Equal(t, errors.Cause(err), uds.ErrUserDataAccessNotPermitted)
}

func TestUnknownSession(t *testing.T) {
	srv := NewUDSServer("TestServer", nil)
	_, err := srv.HandleCharacteristicRead("00:00:00:00:00:00", uds.FirstName)
	assert.Equal(t, errors.Cause(err), uds.ErrNoSession)
}

func TestUserIndexReadBeforeConsent(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	index, err := srv.HandleUserIndexRead(internal.TestAddr)
	assert.NilError(t, err)
	assert.Equal(t, index, uint8(uds.UnknownUserIndex))
}

func TestFullRegistrationScenario(t *testing.T) {
	listener := newTestServerListener()
	srv, _ := getConnectedServer(t, listener)
	ind := newSinkRecorder()
	assert.NilError(t, srv.EnableControlPointIndications(internal.TestAddr, ind.sink))

	resp := runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	assert.Equal(t, resp.UserIndex, uint8(0))

	resp = runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: 0, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)

	index, err := srv.HandleUserIndexRead(internal.TestAddr)
	assert.NilError(t, err)
	assert.Equal(t, index, uint8(0))

	longName := strings.Repeat("VeryLongFirstName", 6)
	assert.NilError(t, srv.HandleCharacteristicWrite(internal.TestAddr, uds.FirstName, []byte(longName)))
	value, err := srv.HandleCharacteristicRead(internal.TestAddr, uds.FirstName)
	assert.NilError(t, err)
	assert.Equal(t, value.(uds.StringValue).Text, longName)

	increment, err := srv.HandleChangeIncrementRead(internal.TestAddr)
	assert.NilError(t, err)
	assert.Equal(t, increment, uint32(1))
}

func TestChangeNotificationFanOut(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	ind := newSinkRecorder()
	notify := newSinkRecorder()
	assert.NilError(t, srv.EnableControlPointIndications(internal.TestAddr, ind.sink))
	assert.NilError(t, srv.EnableChangeNotifications(internal.TestAddr, notify.sink))

	resp := runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	resp = runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: 0, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)

	assert.NilError(t, srv.HandleCharacteristicWrite(internal.TestAddr, uds.Age, []byte{30}))
	payload := notify.next(t)
	assert.Equal(t, binary.LittleEndian.Uint32(payload), uint32(1))
}

func TestNoNotificationWithoutCCCD(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	ind := newSinkRecorder()
	notify := newSinkRecorder()
	assert.NilError(t, srv.EnableControlPointIndications(internal.TestAddr, ind.sink))
	assert.NilError(t, srv.EnableChangeNotifications(internal.TestAddr, notify.sink))
	srv.DisableChangeNotifications(internal.TestAddr)

	resp := runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	resp = runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: 0, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)

	assert.NilError(t, srv.HandleCharacteristicWrite(internal.TestAddr, uds.Age, []byte{30}))
	select {
	case <-notify.payloads:
		t.Fatal("notification delivered without configured CCCD")
	case <-time.After(time.Millisecond * 100):
	}
}

func TestControlPointWriteWithoutCCCD(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	err := srv.HandleControlPointWrite(internal.TestAddr, uds.ControlPointRequest{OpCode: uds.OpDeleteUserData}.Marshal())
	assert.Equal(t, errors.Cause(err), uds.ErrCCCDImproperlyConfigured)
	assert.Equal(t, uds.ATTError(err), uds.ATTErrorCCCDImproperlyConfigured)
}

func TestDisconnectDropsUnbondedState(t *testing.T) {
	srv, _ := getConnectedServer(t, nil)
	ind := newSinkRecorder()
	assert.NilError(t, srv.EnableControlPointIndications(internal.TestAddr, ind.sink))
	resp := runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	srv.OnDisconnected(internal.TestAddr)
	_, ok := srv.Registry().Find(internal.TestAddr)
	assert.Assert(t, !ok)
	// the store survives the session
	assert.Assert(t, srv.Store().Registered(0))
}

func TestBondedSessionKeepsConsentAcrossDisconnect(t *testing.T) {
	srv, s := getConnectedServer(t, nil)
	srv.SetLinkKeys(internal.TestAddr, session.LinkKeys{LTK: []byte{1, 2, 3}, LTKValid: true})
	ind := newSinkRecorder()
	assert.NilError(t, srv.EnableControlPointIndications(internal.TestAddr, ind.sink))
	resp := runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpRegisterNewUser, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)
	resp = runProcedure(t, srv, ind, uds.ControlPointRequest{OpCode: uds.OpConsent, UserIndex: 0, ConsentCode: 1234})
	assert.Equal(t, resp.Value, uds.ResponseSuccess)

	srv.OnDisconnected(internal.TestAddr)
	revived := srv.OnConnected(internal.TestAddr, session.LEPublic)
	assert.Equal(t, revived, s)
	assert.Assert(t, revived.HasConsent(0))
	// selection and encryption do not survive; data access needs a fresh
	// encrypted link and user selection
	srv.OnEncryptionChanged(internal.TestAddr, true, 16)
	_, err := srv.HandleCharacteristicRead(internal.TestAddr, uds.FirstName)
	assert.Equal(t, errors.Cause(err), uds.ErrUserDataAccessNotPermitted)
}
