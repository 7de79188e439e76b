package client

import (
	"encoding/binary"
	"time"

	"github.com/Krajiyah/uds-sdk/pkg/ble"
	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/transfer"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/Krajiyah/uds-sdk/pkg/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultProcedureTimeout bounds the wait for a control point result
// indication.
const DefaultProcedureTimeout = time.Second * 30

// Listener observes client side events.
type Listener interface {
	OnConnected(addr string)
	OnDisconnected(addr string)
	OnDatabaseChange(increment uint32)
	OnInternalError(err error)
}

// Client is the client role API of the service.
type Client interface {
	Connect(addr string) error
	Disconnect() error
	ReadCharacteristic(t uds.CharacteristicType, readLong bool) (uds.Value, error)
	WriteCharacteristic(t uds.CharacteristicType, value uds.Value) error
	ReadUserIndex() (uint8, error)
	ReadDatabaseChangeIncrement() (uint32, error)
	WriteDatabaseChangeIncrement(increment uint32) error
	RegisterNewUser(consentCode uint16) (uint8, error)
	Consent(userIndex uint8, consentCode uint16) error
	DeleteUserData() error
}

// UDSClient drives the service on a remote server through a vendor stack
// adapter. One session per connection; attribute sequences are serialized
// through the session's single pending request slot.
type UDSClient struct {
	conn     ble.Adapter
	registry *session.Registry
	session  *session.Session
	transfer *transfer.Engine
	listener Listener
	timeout  time.Duration
	respCh   chan uds.ControlPointResponse
	log      *logrus.Entry
}

// NewUDSClient returns a client over the given adapter. listener may be nil.
func NewUDSClient(conn ble.Adapter, listener Listener) *UDSClient {
	return &UDSClient{
		conn:     conn,
		registry: session.NewRegistry(),
		transfer: transfer.NewEngine(conn),
		listener: listener,
		timeout:  DefaultProcedureTimeout,
		log:      logrus.WithField("component", "uds-client"),
	}
}

// SetProcedureTimeout overrides the control point indication wait.
func (client *UDSClient) SetProcedureTimeout(timeout time.Duration) {
	client.timeout = timeout
}

// Session exposes the active session, or nil before Connect.
func (client *UDSClient) Session() *session.Session { return client.session }

// Connect dials the server, establishes the session, and discovers the
// remote attribute handles. A bonded session retained from a previous
// connection is revived with its consent state intact.
func (client *UDSClient) Connect(addr string) error {
	if err := client.conn.Dial(addr); err != nil {
		return errors.Wrap(err, "dial issue: ")
	}
	if connected := client.conn.ConnectedAddr(); !util.AddrEqualAddr(connected, addr) {
		return errors.Wrapf(uds.ErrNotConnected, "adapter connected to %s, expected %s", connected, addr)
	}
	s, ok := client.registry.Find(addr)
	if !ok {
		var err error
		s, err = client.registry.Create(addr, session.LEPublic)
		if err != nil {
			return err
		}
	}
	client.session = s
	s.Encrypted = client.conn.Encrypted()
	s.Discovery = session.DiscoveryPending
	dis, gaps, udsHandles, err := client.conn.DiscoverHandles()
	if err != nil {
		s.Discovery = session.DiscoveryIdle
		return errors.Wrap(err, "discovery issue: ")
	}
	s.DIS = dis
	s.GAPS = gaps
	s.UDS = udsHandles
	s.Discovery = session.DiscoveryComplete
	client.log.WithField("addr", s.Addr).Info("connected and discovered")
	if client.listener != nil {
		client.listener.OnConnected(s.Addr)
	}
	return nil
}

// Disconnect tears the link down. The session survives in the registry
// only if the device bonded.
func (client *UDSClient) Disconnect() error {
	if client.session == nil {
		return errors.Wrap(uds.ErrNotConnected, "disconnect")
	}
	addr := client.session.Addr
	err := client.conn.Disconnect()
	client.registry.OnDisconnect(addr)
	client.session = nil
	if client.listener != nil {
		client.listener.OnDisconnected(addr)
	}
	return err
}

// ready returns the session once it is connected with discovery complete.
func (client *UDSClient) ready() (*session.Session, error) {
	s := client.session
	if s == nil {
		return nil, errors.Wrap(uds.ErrNotConnected, "no active connection")
	}
	if s.Discovery != session.DiscoveryComplete {
		return nil, errors.Wrap(uds.ErrServiceDiscoveryIncomplete, "handles not discovered")
	}
	return s, nil
}

func (client *UDSClient) characteristicHandle(s *session.Session, t uds.CharacteristicType) (uint16, error) {
	handle, ok := s.UDS.Characteristics[t]
	if !ok || handle == 0 {
		return 0, errors.Wrapf(uds.ErrServiceDiscoveryIncomplete, "no handle for %s", t)
	}
	return handle, nil
}

// ReadCharacteristic reads one user data characteristic. readLong drives
// the read long continuation sequence and is only meaningful for string
// typed characteristics; fixed size values always fit a single read.
func (client *UDSClient) ReadCharacteristic(t uds.CharacteristicType, readLong bool) (uds.Value, error) {
	s, err := client.ready()
	if err != nil {
		return nil, err
	}
	if !t.Valid() {
		return nil, errors.Wrapf(uds.ErrInvalidParameter, "characteristic type %d", t)
	}
	handle, err := client.characteristicHandle(s, t)
	if err != nil {
		return nil, err
	}
	if readLong && !t.IsString() {
		return nil, errors.Wrapf(uds.ErrInvalidParameter, "read long on fixed size %s", t)
	}
	data, err := client.transfer.Read(s, session.KindCharacteristicRead, t, handle, readLong)
	if err != nil {
		return nil, err
	}
	return uds.UnmarshalValue(t, data)
}

// WriteCharacteristic writes one user data characteristic, using the
// prepare and execute sequence when the value exceeds a single write.
func (client *UDSClient) WriteCharacteristic(t uds.CharacteristicType, value uds.Value) error {
	s, err := client.ready()
	if err != nil {
		return err
	}
	if err := uds.CheckValue(t, value); err != nil {
		return err
	}
	handle, err := client.characteristicHandle(s, t)
	if err != nil {
		return err
	}
	return client.transfer.Write(s, session.KindCharacteristicWrite, t, handle, value.Marshal())
}

// readSmall performs a single attribute read under the session's pending
// request slot, for values that always fit one response.
func (client *UDSClient) readSmall(s *session.Session, kind session.RequestKind, handle uint16) ([]byte, error) {
	pending := session.NewPendingRequest(kind, 0, handle)
	if err := s.BeginRequest(pending); err != nil {
		return nil, err
	}
	defer s.EndRequest()
	return client.conn.ReadAttribute(handle)
}

func (client *UDSClient) writeSmall(s *session.Session, kind session.RequestKind, handle uint16, payload []byte) error {
	pending := session.NewPendingRequest(kind, 0, handle)
	if err := s.BeginRequest(pending); err != nil {
		return err
	}
	defer s.EndRequest()
	return client.conn.WriteAttribute(handle, payload)
}

// ReadUserIndex reads the user index characteristic.
func (client *UDSClient) ReadUserIndex() (uint8, error) {
	s, err := client.ready()
	if err != nil {
		return uds.UnknownUserIndex, err
	}
	data, err := client.readSmall(s, session.KindUserIndexRead, s.UDS.UserIndex)
	if err != nil {
		return uds.UnknownUserIndex, err
	}
	if len(data) != 1 {
		return uds.UnknownUserIndex, errors.Wrap(uds.ErrInvalidParameter, "user index expects 1 byte")
	}
	return data[0], nil
}

// ReadDatabaseChangeIncrement reads the change increment for the selected
// user.
func (client *UDSClient) ReadDatabaseChangeIncrement() (uint32, error) {
	s, err := client.ready()
	if err != nil {
		return 0, err
	}
	data, err := client.readSmall(s, session.KindChangeIncrementRead, s.UDS.DatabaseChangeIncrement)
	if err != nil {
		return 0, err
	}
	if len(data) != 4 {
		return 0, errors.Wrap(uds.ErrInvalidParameter, "change increment expects 4 bytes")
	}
	return binary.LittleEndian.Uint32(data), nil
}

// WriteDatabaseChangeIncrement writes the change increment for the
// selected user.
func (client *UDSClient) WriteDatabaseChangeIncrement(increment uint32) error {
	s, err := client.ready()
	if err != nil {
		return err
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, increment)
	return client.writeSmall(s, session.KindChangeIncrementWrite, s.UDS.DatabaseChangeIncrement, payload)
}

// ReadControlPointCCCD reads back the control point CCCD configuration on
// the server.
func (client *UDSClient) ReadControlPointCCCD() (uint16, error) {
	s, err := client.ready()
	if err != nil {
		return 0, err
	}
	data, err := client.readSmall(s, session.KindCCCDRead, s.UDS.UserControlPointCCCD)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, errors.Wrap(uds.ErrInvalidParameter, "cccd expects 2 bytes")
	}
	return binary.LittleEndian.Uint16(data), nil
}

// SubscribeDatabaseChange configures change increment notifications and
// routes them to the listener.
func (client *UDSClient) SubscribeDatabaseChange() error {
	s, err := client.ready()
	if err != nil {
		return err
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uds.CCCDNotify)
	if err := client.writeSmall(s, session.KindCCCDWrite, s.UDS.DatabaseChangeIncrementCCCD, payload); err != nil {
		return err
	}
	s.DatabaseChangeIncrementCCCD = uds.CCCDNotify
	return client.conn.SubscribeNotifications(s.UDS.DatabaseChangeIncrement, func(data []byte) {
		if len(data) != 4 {
			return
		}
		if client.listener != nil {
			client.listener.OnDatabaseChange(binary.LittleEndian.Uint32(data))
		}
	})
}

// ConfigureControlPointIndications writes the control point CCCD and
// subscribes for procedure result indications. Must be called before any
// control point procedure.
func (client *UDSClient) ConfigureControlPointIndications() error {
	s, err := client.ready()
	if err != nil {
		return err
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, uds.CCCDIndicate)
	if err := client.writeSmall(s, session.KindCCCDWrite, s.UDS.UserControlPointCCCD, payload); err != nil {
		return err
	}
	s.ControlPointCCCD = uds.CCCDIndicate
	client.respCh = make(chan uds.ControlPointResponse, 1)
	return client.conn.SubscribeIndications(s.UDS.UserControlPoint, func(data []byte) {
		resp, err := uds.UnmarshalControlPointResponse(data)
		if err != nil {
			if client.listener != nil {
				client.listener.OnInternalError(errors.Wrap(err, "indication decode issue: "))
			}
			return
		}
		select {
		case client.respCh <- resp:
		default:
			client.log.Warn("unsolicited control point indication dropped")
		}
	})
}

// SubmitControlPointRequest writes a control point request and waits for
// the matching result indication. One procedure at a time per session.
func (client *UDSClient) SubmitControlPointRequest(req uds.ControlPointRequest) (uds.ControlPointResponse, error) {
	s, err := client.ready()
	if err != nil {
		return uds.ControlPointResponse{}, err
	}
	if s.ControlPointCCCD&uds.CCCDIndicate == 0 || client.respCh == nil {
		return uds.ControlPointResponse{}, errors.Wrap(uds.ErrCCCDImproperlyConfigured, "indications not configured")
	}
	if err := s.BeginProcedure(); err != nil {
		return uds.ControlPointResponse{}, err
	}
	defer s.EndProcedure()
	if err := client.writeSmall(s, session.KindControlPointWrite, s.UDS.UserControlPoint, req.Marshal()); err != nil {
		return uds.ControlPointResponse{}, err
	}
	select {
	case resp := <-client.respCh:
		if resp.RequestOpCode != req.OpCode {
			return resp, errors.Wrapf(uds.ErrOperationFailed, "response for op 0x%02X, expected 0x%02X", resp.RequestOpCode, req.OpCode)
		}
		return resp, nil
	case <-time.After(client.timeout):
		return uds.ControlPointResponse{}, errors.Wrap(uds.ErrOperationFailed, "procedure timed out")
	}
}

// RegisterNewUser runs the register new user procedure and returns the
// assigned user index.
func (client *UDSClient) RegisterNewUser(consentCode uint16) (uint8, error) {
	if !uds.ValidConsentCode(consentCode) {
		return uds.UnknownUserIndex, errors.Wrapf(uds.ErrInvalidParameter, "consent code %d", consentCode)
	}
	resp, err := client.SubmitControlPointRequest(uds.ControlPointRequest{
		OpCode:      uds.OpRegisterNewUser,
		ConsentCode: consentCode,
	})
	if err != nil {
		return uds.UnknownUserIndex, err
	}
	if err := uds.ResponseError(resp.Value); err != nil {
		return uds.UnknownUserIndex, errors.Wrap(err, "register new user")
	}
	if !resp.HasUserIndex {
		return uds.UnknownUserIndex, errors.Wrap(uds.ErrOperationFailed, "register response missing user index")
	}
	return resp.UserIndex, nil
}

// Consent runs the consent procedure for the given user. On success the
// server selects that user for this session.
func (client *UDSClient) Consent(userIndex uint8, consentCode uint16) error {
	if !uds.ValidConsentCode(consentCode) {
		return errors.Wrapf(uds.ErrInvalidParameter, "consent code %d", consentCode)
	}
	resp, err := client.SubmitControlPointRequest(uds.ControlPointRequest{
		OpCode:      uds.OpConsent,
		UserIndex:   userIndex,
		ConsentCode: consentCode,
	})
	if err != nil {
		return err
	}
	return errors.Wrapf(uds.ResponseError(resp.Value), "consent for user %d", userIndex)
}

// DeleteUserData runs the delete user data procedure for the currently
// consented user.
func (client *UDSClient) DeleteUserData() error {
	resp, err := client.SubmitControlPointRequest(uds.ControlPointRequest{OpCode: uds.OpDeleteUserData})
	if err != nil {
		return err
	}
	return errors.Wrap(uds.ResponseError(resp.Value), "delete user data")
}
