package store

import (
	"sync"

	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChangeListener is invoked after any successful characteristic write with
// the user's new database change increment. Delivery of the resulting
// notification is best effort; the store does not wait on it.
type ChangeListener func(userIndex uint8, increment uint32)

// FreeListener is invoked after a user slot is deleted. The server uses it
// to drop any consent or selection sessions still hold for the index, so a
// later occupant of the slot never inherits them.
type FreeListener func(userIndex uint8)

type userSlot struct {
	registered      bool
	consentCode     uint16
	consentAttempts uint8
	changeIncrement uint32
	values          map[uds.CharacteristicType]uds.Value
}

// UserStore is the fixed capacity collection of user profiles held by a
// UDS server.
type UserStore struct {
	mu       sync.Mutex
	users    [uds.MaxUsers]userSlot
	listener ChangeListener
	freed    FreeListener
	log      *logrus.Entry
}

// NewUserStore returns an empty store. listener may be nil.
func NewUserStore(listener ChangeListener) *UserStore {
	return &UserStore{
		listener: listener,
		log:      logrus.WithField("component", "user-store"),
	}
}

// OnSlotFreed registers the listener fired after each successful Delete.
func (st *UserStore) OnSlotFreed(freed FreeListener) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.freed = freed
}

func (st *UserStore) slot(userIndex uint8) (*userSlot, error) {
	if int(userIndex) >= uds.MaxUsers {
		return nil, errors.Wrapf(uds.ErrInvalidParameter, "user index %d out of range", userIndex)
	}
	return &st.users[userIndex], nil
}

// Register fills the first unregistered slot in index order and returns its
// index. The new user starts with a zeroed change counter and a full
// consent attempt budget.
func (st *UserStore) Register(consentCode uint16) (uint8, error) {
	if !uds.ValidConsentCode(consentCode) {
		return uds.UnknownUserIndex, errors.Wrapf(uds.ErrInvalidParameter, "consent code %d out of range", consentCode)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for i := range st.users {
		if st.users[i].registered {
			continue
		}
		st.users[i] = userSlot{
			registered:      true,
			consentCode:     consentCode,
			consentAttempts: uds.MaxConsentAttempts,
			values:          map[uds.CharacteristicType]uds.Value{},
		}
		st.log.WithField("user", i).Info("registered new user")
		return uint8(i), nil
	}
	return uds.UnknownUserIndex, errors.Wrap(uds.ErrOperationFailed, "no free user slot")
}

// Delete marks the slot unregistered, discards its data, and fires the
// freed listener so stale consent for the index cannot outlive the user.
func (st *UserStore) Delete(userIndex uint8) error {
	st.mu.Lock()
	slot, err := st.slot(userIndex)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if !slot.registered {
		st.mu.Unlock()
		return errors.Wrapf(uds.ErrNotRegistered, "user %d", userIndex)
	}
	*slot = userSlot{}
	freed := st.freed
	st.mu.Unlock()
	st.log.WithField("user", userIndex).Info("deleted user data")
	if freed != nil {
		freed(userIndex)
	}
	return nil
}

// Registered reports whether the slot holds a registered user.
func (st *UserStore) Registered(userIndex uint8) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	slot, err := st.slot(userIndex)
	return err == nil && slot.registered
}

// Authorize verifies a consent code against the slot, enforcing the retry
// limited lockout: a mismatch burns one attempt, and once the budget is
// exhausted every further attempt fails outright until the user is deleted
// and re-registered.
func (st *UserStore) Authorize(userIndex uint8, consentCode uint16) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	slot, err := st.slot(userIndex)
	if err != nil || !slot.registered {
		return errors.Wrapf(uds.ErrUserNotAuthorized, "user %d not registered", userIndex)
	}
	if !uds.ValidConsentCode(consentCode) {
		return errors.Wrapf(uds.ErrInvalidParameter, "consent code %d out of range", consentCode)
	}
	// The lockout is permanent: once the budget is gone even the correct
	// code is refused until the user is deleted and re-registered.
	if slot.consentAttempts == 0 {
		st.log.WithField("user", userIndex).Warn("consent attempted on locked out user")
		return errors.Wrapf(uds.ErrOperationFailed, "user %d locked out", userIndex)
	}
	if slot.consentCode == consentCode {
		slot.consentAttempts = uds.MaxConsentAttempts
		return nil
	}
	slot.consentAttempts--
	return errors.Wrapf(uds.ErrUserNotAuthorized, "wrong consent code for user %d", userIndex)
}

// ConsentAttempts returns the remaining consent attempt budget.
func (st *UserStore) ConsentAttempts(userIndex uint8) uint8 {
	st.mu.Lock()
	defer st.mu.Unlock()
	slot, err := st.slot(userIndex)
	if err != nil {
		return 0
	}
	return slot.consentAttempts
}

// Read returns the stored value for the characteristic. Unwritten
// characteristics of a registered user read back as their zero value.
func (st *UserStore) Read(userIndex uint8, t uds.CharacteristicType) (uds.Value, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(uds.ErrInvalidParameter, "unknown characteristic type %d", int(t))
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	slot, err := st.slot(userIndex)
	if err != nil {
		return nil, err
	}
	if !slot.registered {
		return nil, errors.Wrapf(uds.ErrNotRegistered, "user %d", userIndex)
	}
	if v, ok := slot.values[t]; ok {
		return v, nil
	}
	return zeroValue(t), nil
}

// Write stores the value, bumps the user's database change increment, and
// fires the change listener.
func (st *UserStore) Write(userIndex uint8, t uds.CharacteristicType, v uds.Value) error {
	if err := uds.CheckValue(t, v); err != nil {
		return err
	}
	st.mu.Lock()
	slot, err := st.slot(userIndex)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if !slot.registered {
		st.mu.Unlock()
		return errors.Wrapf(uds.ErrNotRegistered, "user %d", userIndex)
	}
	slot.values[t] = v
	slot.changeIncrement++
	increment := slot.changeIncrement
	listener := st.listener
	st.mu.Unlock()
	st.log.WithFields(logrus.Fields{"user": userIndex, "characteristic": t.String(), "increment": increment}).Debug("characteristic written")
	if listener != nil {
		listener(userIndex, increment)
	}
	return nil
}

// ChangeIncrement returns the user's database change increment.
func (st *UserStore) ChangeIncrement(userIndex uint8) (uint32, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	slot, err := st.slot(userIndex)
	if err != nil {
		return 0, err
	}
	if !slot.registered {
		return 0, errors.Wrapf(uds.ErrNotRegistered, "user %d", userIndex)
	}
	return slot.changeIncrement, nil
}

// SetChangeIncrement overwrites the counter. Exposed because the database
// change increment characteristic itself is client writable.
func (st *UserStore) SetChangeIncrement(userIndex uint8, increment uint32) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	slot, err := st.slot(userIndex)
	if err != nil {
		return err
	}
	if !slot.registered {
		return errors.Wrapf(uds.ErrNotRegistered, "user %d", userIndex)
	}
	slot.changeIncrement = increment
	return nil
}

func zeroValue(t uds.CharacteristicType) uds.Value {
	switch t.Kind() {
	case uds.KindString:
		return uds.StringValue{}
	case uds.KindUint8:
		return uds.Uint8Value{}
	case uds.KindUint16:
		return uds.Uint16Value{}
	case uds.KindDate:
		return uds.DateValue{}
	case uds.KindFiveZone:
		return uds.FiveZoneValue{}
	case uds.KindThreeZone:
		return uds.ThreeZoneValue{}
	default:
		return uds.TwoZoneValue{}
	}
}
