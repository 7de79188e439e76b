package session

import (
	"strings"
	"sync"

	"github.com/Krajiyah/uds-sdk/pkg/uds"
	mapset "github.com/deckarep/golang-set"
)

// AddrType is the kind of device address a session is keyed by.
type AddrType int

const (
	LEPublic AddrType = iota
	LERandom
	BREDR
)

// DiscoveryState is the authoritative service discovery state for a session.
type DiscoveryState int

const (
	DiscoveryIdle DiscoveryState = iota
	DiscoveryPending
	DiscoveryComplete
)

// ProcedureState tracks whether a control point procedure is running on the
// session.
type ProcedureState int

const (
	ProcedureIdle ProcedureState = iota
	ProcedureInProgress
)

// LinkKeys is the long term key material owned by a session, used to resume
// encryption on reconnect.
type LinkKeys struct {
	LTK          []byte
	EDIV         uint16
	Rand         uint64
	LTKValid     bool
	LinkKey      []byte
	LinkKeyValid bool
}

// DISHandles are the attribute handles discovered for the Device
// Information Service.
type DISHandles struct {
	ManufacturerName  uint16
	ModelNumber       uint16
	SerialNumber      uint16
	HardwareRevision  uint16
	FirmwareRevision  uint16
	SoftwareRevision  uint16
	SystemID          uint16
	IEEECertification uint16
	PnPID             uint16
}

// GAPSHandles are the attribute handles discovered for the Generic Access
// Profile Service.
type GAPSHandles struct {
	DeviceName uint16
	Appearance uint16
}

// UDSHandles are the attribute handles discovered for the User Data
// Service: one per user data characteristic plus the database change
// increment, user index, control point, and the two CCCDs.
type UDSHandles struct {
	Characteristics             map[uds.CharacteristicType]uint16
	DatabaseChangeIncrement     uint16
	DatabaseChangeIncrementCCCD uint16
	UserIndex                   uint16
	UserControlPoint            uint16
	UserControlPointCCCD        uint16
}

// Session is the per remote device record. The device address is the only
// stable identity across asynchronous stack events, so every event handler
// re-resolves its session through the registry rather than holding a
// reference.
//
// The exported connection state fields (Encrypted, Keys, Discovery, the
// handle tables, and the CCCD words) are written only from the stack's
// serialized event context for the device; only the consent, selection,
// and request/procedure state crosses goroutines and goes through the
// locked accessors.
type Session struct {
	Addr     string
	AddrType AddrType

	mu sync.Mutex

	Encrypted         bool
	EncryptionKeySize int
	Keys              LinkKeys

	Discovery DiscoveryState
	DIS       DISHandles
	GAPS      GAPSHandles
	UDS       UDSHandles

	procedure ProcedureState
	pending   *PendingRequest

	consent      [uds.MaxUsers]bool
	selectedUser uint8

	// Server side CCCD configuration written by this remote device.
	ControlPointCCCD            uint16
	DatabaseChangeIncrementCCCD uint16

	readOnce mapset.Set
}

// NewSession returns a session for the device address. The address is
// normalized so the same device always resolves to the same record.
func NewSession(addr string, addrType AddrType) *Session {
	return &Session{
		Addr:         NormalizeAddr(addr),
		AddrType:     addrType,
		selectedUser: uds.UnknownUserIndex,
		UDS:          UDSHandles{Characteristics: map[uds.CharacteristicType]uint16{}},
		readOnce:     mapset.NewSet(),
	}
}

// NormalizeAddr upper cases a device address for map keying.
func NormalizeAddr(addr string) string {
	return strings.ToUpper(addr)
}

// Bonded reports whether the session should survive a disconnect: the link
// was encrypted and valid long term key material is held.
func (s *Session) Bonded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Encrypted && (s.Keys.LTKValid || s.Keys.LinkKeyValid)
}

// BeginRequest installs the pending request context. At most one request
// may be outstanding per session; a second is rejected, never queued.
func (s *Session) BeginRequest(r *PendingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return uds.ErrRequestInProgress
	}
	s.pending = r
	return nil
}

// Pending returns the outstanding request context, or nil.
func (s *Session) Pending() *PendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// EndRequest clears the pending request context. Called on every terminal
// event, success or failure.
func (s *Session) EndRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// BeginProcedure moves the session into ProcedureInProgress, rejecting a
// second control point write while one is running.
func (s *Session) BeginProcedure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procedure == ProcedureInProgress {
		return uds.ErrProcedureInProgress
	}
	s.procedure = ProcedureInProgress
	return nil
}

// EndProcedure returns the session to idle once the indication outcome has
// been observed.
func (s *Session) EndProcedure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedure = ProcedureIdle
}

// Procedure returns the current procedure state.
func (s *Session) Procedure() ProcedureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procedure
}

// GrantConsent records a successful consent procedure for the user index.
func (s *Session) GrantConsent(userIndex uint8) {
	if int(userIndex) >= uds.MaxUsers {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent[userIndex] = true
}

// RevokeConsent drops the consent grant for the user index.
func (s *Session) RevokeConsent(userIndex uint8) {
	if int(userIndex) >= uds.MaxUsers {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent[userIndex] = false
}

// HasConsent reports whether this session holds consent for the user index.
func (s *Session) HasConsent(userIndex uint8) bool {
	if int(userIndex) >= uds.MaxUsers {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent[userIndex]
}

// SelectUser records the user the session operates on.
func (s *Session) SelectUser(userIndex uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedUser = userIndex
}

// SelectedUser returns the selected user index, or UnknownUserIndex.
func (s *Session) SelectedUser() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedUser
}

// ClearSelection resets the selected user if it matches userIndex.
func (s *Session) ClearSelection(userIndex uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedUser == userIndex {
		s.selectedUser = uds.UnknownUserIndex
	}
}

// MarkRead records that a standard read completed for the handle, which is
// what permits a later read long on it.
func (s *Session) MarkRead(handle uint16) {
	s.readOnce.Add(handle)
}

// ReadOnce reports whether a standard read has completed for the handle in
// this connection.
func (s *Session) ReadOnce(handle uint16) bool {
	return s.readOnce.Contains(handle)
}

// OnDisconnected discards transient per connection state: the pending
// request, any running procedure, the first-read bookkeeping, CCCD
// configuration, and the encrypted flag. Consent grants and key material
// survive for bonded sessions.
func (s *Session) OnDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.procedure = ProcedureIdle
	s.Encrypted = false
	s.EncryptionKeySize = 0
	s.ControlPointCCCD = 0
	s.DatabaseChangeIncrementCCCD = 0
	s.readOnce = mapset.NewSet()
}
