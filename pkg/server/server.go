package server

import (
	"encoding/binary"
	"sync"

	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/store"
	"github.com/Krajiyah/uds-sdk/pkg/ucp"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Listener observes server side events.
type Listener interface {
	OnClientConnected(addr string)
	OnClientDisconnected(addr string, retained bool)
	OnProcedureComplete(addr string, resp uds.ControlPointResponse)
	OnInternalError(err error)
}

// Sink delivers one notification or indication payload to a subscribed
// remote device.
type Sink func(payload []byte) error

// UDSServer is the server role: it owns the user data store, the session
// registry for every connected client, and the control point engine, and
// exposes the event entry points the stack glue drives.
type UDSServer struct {
	name     string
	registry *session.Registry
	store    *store.UserStore
	engine   *ucp.Engine
	listener Listener

	mu         sync.Mutex
	notifiers  map[string]Sink
	indicators map[string]Sink

	log *logrus.Entry
}

// NewUDSServer returns a server with an empty store. listener may be nil.
func NewUDSServer(name string, listener Listener) *UDSServer {
	srv := &UDSServer{
		name:       name,
		registry:   session.NewRegistry(),
		listener:   listener,
		notifiers:  map[string]Sink{},
		indicators: map[string]Sink{},
		log:        logrus.WithField("component", "uds-server"),
	}
	srv.store = store.NewUserStore(srv.notifyChange)
	srv.store.OnSlotFreed(srv.revokeSlotConsent)
	srv.engine = ucp.NewEngine(srv.store, srv, srv)
	return srv
}

// revokeSlotConsent drops every session's consent and selection for a
// deleted user index. Without this a session that consented to the old
// occupant would pass the access gates against whoever registers into the
// reused slot.
func (srv *UDSServer) revokeSlotConsent(userIndex uint8) {
	for _, s := range srv.registry.All() {
		s.RevokeConsent(userIndex)
		s.ClearSelection(userIndex)
	}
}

// Registry exposes the session registry for inspection.
func (srv *UDSServer) Registry() *session.Registry { return srv.registry }

// Store exposes the user data store for local (server side) operations.
func (srv *UDSServer) Store() *store.UserStore { return srv.store }

// OnConnected creates the session for a newly connected device, or revives
// a retained bonded session.
func (srv *UDSServer) OnConnected(addr string, addrType session.AddrType) *session.Session {
	s, ok := srv.registry.Find(addr)
	if !ok {
		var err error
		s, err = srv.registry.Create(addr, addrType)
		if err != nil {
			// Lost the race with another connect event for the same address.
			s, _ = srv.registry.Find(addr)
		}
	}
	srv.log.WithField("addr", s.Addr).Info("client connected")
	if srv.listener != nil {
		srv.listener.OnClientConnected(s.Addr)
	}
	return s
}

// OnDisconnected discards the device's transient state and removes the
// session unless the device was bonded.
func (srv *UDSServer) OnDisconnected(addr string) {
	_, retained := srv.registry.OnDisconnect(addr)
	key := session.NormalizeAddr(addr)
	srv.mu.Lock()
	delete(srv.notifiers, key)
	delete(srv.indicators, key)
	srv.mu.Unlock()
	srv.log.WithFields(logrus.Fields{"addr": key, "retained": retained}).Info("client disconnected")
	if srv.listener != nil {
		srv.listener.OnClientDisconnected(key, retained)
	}
}

// OnEncryptionChanged records the link encryption state reported by the
// stack's security events.
func (srv *UDSServer) OnEncryptionChanged(addr string, encrypted bool, keySize int) {
	if s, ok := srv.registry.Find(addr); ok {
		s.Encrypted = encrypted
		s.EncryptionKeySize = keySize
	}
}

// SetLinkKeys stores long term key material for the session so the device
// is treated as bonded.
func (srv *UDSServer) SetLinkKeys(addr string, keys session.LinkKeys) {
	if s, ok := srv.registry.Find(addr); ok {
		s.Keys = keys
	}
}

func (srv *UDSServer) sessionFor(addr string) (*session.Session, error) {
	s, ok := srv.registry.Find(addr)
	if !ok {
		return nil, errors.Wrapf(uds.ErrNoSession, "addr %s", addr)
	}
	return s, nil
}

// authorize runs the per user data access checks in their required order:
// link encrypted, a user selected, consent granted for that user.
func (srv *UDSServer) authorize(s *session.Session) (uint8, error) {
	if !s.Encrypted {
		return uds.UnknownUserIndex, errors.Wrap(uds.ErrInsufficientEncryption, "user data access on unencrypted link")
	}
	selected := s.SelectedUser()
	if selected == uds.UnknownUserIndex {
		return uds.UnknownUserIndex, errors.Wrap(uds.ErrUserDataAccessNotPermitted, "no user selected")
	}
	if !s.HasConsent(selected) {
		return uds.UnknownUserIndex, errors.Wrapf(uds.ErrUserDataAccessNotPermitted, "no consent for user %d", selected)
	}
	return selected, nil
}

// HandleCharacteristicRead serves a remote read of a user data
// characteristic, gated on encryption, selection, and consent before the
// store is touched.
func (srv *UDSServer) HandleCharacteristicRead(addr string, t uds.CharacteristicType) (uds.Value, error) {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return nil, err
	}
	selected, err := srv.authorize(s)
	if err != nil {
		return nil, err
	}
	return srv.store.Read(selected, t)
}

// HandleCharacteristicWrite serves a remote write of a user data
// characteristic with the same gating as reads.
func (srv *UDSServer) HandleCharacteristicWrite(addr string, t uds.CharacteristicType, data []byte) error {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return err
	}
	selected, err := srv.authorize(s)
	if err != nil {
		return err
	}
	value, err := uds.UnmarshalValue(t, data)
	if err != nil {
		return err
	}
	return srv.store.Write(selected, t, value)
}

// HandleUserIndexRead serves a read of the user index characteristic: the
// session's selected user, or the unknown marker.
func (srv *UDSServer) HandleUserIndexRead(addr string) (uint8, error) {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return uds.UnknownUserIndex, err
	}
	if !s.Encrypted {
		return uds.UnknownUserIndex, errors.Wrap(uds.ErrInsufficientEncryption, "user index read on unencrypted link")
	}
	return s.SelectedUser(), nil
}

// HandleChangeIncrementRead serves a read of the database change increment
// for the session's selected user.
func (srv *UDSServer) HandleChangeIncrementRead(addr string) (uint32, error) {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return 0, err
	}
	selected, err := srv.authorize(s)
	if err != nil {
		return 0, err
	}
	return srv.store.ChangeIncrement(selected)
}

// HandleChangeIncrementWrite serves a client write of the database change
// increment for the session's selected user.
func (srv *UDSServer) HandleChangeIncrementWrite(addr string, data []byte) error {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return err
	}
	selected, err := srv.authorize(s)
	if err != nil {
		return err
	}
	if len(data) != 4 {
		return errors.Wrap(uds.ErrInvalidParameter, "change increment expects 4 bytes")
	}
	return srv.store.SetChangeIncrement(selected, binary.LittleEndian.Uint32(data))
}

// HandleControlPointWrite hands a control point write to the procedure
// engine. A nil return acknowledges the write; the result follows by
// indication.
func (srv *UDSServer) HandleControlPointWrite(addr string, data []byte) error {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return err
	}
	return srv.engine.HandleWrite(s, data)
}

// EnableControlPointIndications records the CCCD configuration and the
// sink used to deliver procedure result indications to the device.
func (srv *UDSServer) EnableControlPointIndications(addr string, sink Sink) error {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return err
	}
	s.ControlPointCCCD = uds.CCCDIndicate
	srv.mu.Lock()
	srv.indicators[s.Addr] = sink
	srv.mu.Unlock()
	return nil
}

// DisableControlPointIndications clears the CCCD configuration and sink.
func (srv *UDSServer) DisableControlPointIndications(addr string) {
	if s, ok := srv.registry.Find(addr); ok {
		s.ControlPointCCCD = 0
	}
	srv.mu.Lock()
	delete(srv.indicators, session.NormalizeAddr(addr))
	srv.mu.Unlock()
}

// EnableChangeNotifications records the CCCD configuration and sink for
// database change increment notifications.
func (srv *UDSServer) EnableChangeNotifications(addr string, sink Sink) error {
	s, err := srv.sessionFor(addr)
	if err != nil {
		return err
	}
	s.DatabaseChangeIncrementCCCD = uds.CCCDNotify
	srv.mu.Lock()
	srv.notifiers[s.Addr] = sink
	srv.mu.Unlock()
	return nil
}

// DisableChangeNotifications clears the CCCD configuration and sink.
func (srv *UDSServer) DisableChangeNotifications(addr string) {
	if s, ok := srv.registry.Find(addr); ok {
		s.DatabaseChangeIncrementCCCD = 0
	}
	srv.mu.Lock()
	delete(srv.notifiers, session.NormalizeAddr(addr))
	srv.mu.Unlock()
}

// IndicateControlPoint delivers a procedure result to the device's
// indication sink. Implements the control point engine's Indicator.
func (srv *UDSServer) IndicateControlPoint(addr string, payload []byte) error {
	srv.mu.Lock()
	sink, ok := srv.indicators[session.NormalizeAddr(addr)]
	srv.mu.Unlock()
	if !ok {
		return errors.Wrapf(uds.ErrCCCDImproperlyConfigured, "no indication sink for %s", addr)
	}
	return sink(payload)
}

// OnProcedureComplete implements the control point engine's Listener.
func (srv *UDSServer) OnProcedureComplete(addr string, resp uds.ControlPointResponse) {
	if srv.listener != nil {
		srv.listener.OnProcedureComplete(addr, resp)
	}
}

// OnInternalError implements the control point engine's Listener.
func (srv *UDSServer) OnInternalError(err error) {
	if srv.listener != nil {
		srv.listener.OnInternalError(err)
	}
}

// notifyChange fans a database change increment out to every session that
// configured notifications. Delivery is best effort.
func (srv *UDSServer) notifyChange(userIndex uint8, increment uint32) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, increment)
	srv.mu.Lock()
	sinks := make(map[string]Sink, len(srv.notifiers))
	for addr, sink := range srv.notifiers {
		sinks[addr] = sink
	}
	srv.mu.Unlock()
	for addr, sink := range sinks {
		s, ok := srv.registry.Find(addr)
		if !ok || s.DatabaseChangeIncrementCCCD&uds.CCCDNotify == 0 {
			continue
		}
		if err := sink(payload); err != nil {
			srv.log.WithError(err).WithField("addr", addr).Warn("change notification dropped")
		}
	}
}
