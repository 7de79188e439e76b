package transfer

import (
	"bytes"

	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Transport is the subset of the vendor stack adapter the transfer engine
// drives. Every call is one attribute operation returning its completion.
type Transport interface {
	ReadAttribute(handle uint16) ([]byte, error)
	ReadLongAttribute(handle uint16, offset int) ([]byte, error)
	WriteAttribute(handle uint16, payload []byte) error
	PrepareWrite(handle uint16, payload []byte, offset int) ([]byte, error)
	ExecuteWrite(commit bool) error
	MTU() int
}

// Engine sequences reads and writes of variable length characteristics so
// callers see them as atomic operations, while respecting the negotiated
// ATT MTU. Only one sequence may be outstanding per session; a second
// request is rejected with a busy error, never queued.
type Engine struct {
	transport Transport
	log       *logrus.Entry
}

// NewEngine returns an engine driving the given transport.
func NewEngine(transport Transport) *Engine {
	return &Engine{
		transport: transport,
		log:       logrus.WithField("component", "transfer-engine"),
	}
}

// Read performs the full read sequence for the attribute: one standard
// read, then, when readLong is set, successive read longs appended at the
// accumulated offset while full size fragments keep arriving.
func (e *Engine) Read(s *session.Session, kind session.RequestKind, t uds.CharacteristicType, handle uint16, readLong bool) ([]byte, error) {
	pending := session.NewPendingRequest(kind, t, handle)
	if err := s.BeginRequest(pending); err != nil {
		return nil, err
	}
	defer s.EndRequest()

	pending.ReadState = session.AwaitingFirstRead
	e.log.WithFields(logrus.Fields{"id": pending.ID, "handle": handle}).Debug("read started")
	payload, err := e.transport.ReadAttribute(handle)
	if err != nil {
		pending.ReadState = session.ReadIdle
		return nil, errors.Wrap(err, "read issue: ")
	}
	pending.Accumulated = append(pending.Accumulated, payload...)
	s.MarkRead(handle)
	if !readLong {
		pending.ReadState = session.ReadIdle
		return pending.Accumulated, nil
	}

	// A fragment shorter than MTU-1 means the value is exhausted.
	full := e.transport.MTU() - 1
	for len(payload) == full && len(pending.Accumulated) < uds.MaxStringLength {
		pending.ReadState = session.AwaitingReadLong
		payload, err = e.transport.ReadLongAttribute(handle, len(pending.Accumulated))
		if err != nil {
			pending.ReadState = session.ReadIdle
			return nil, errors.Wrap(err, "read long issue: ")
		}
		pending.Accumulated = append(pending.Accumulated, payload...)
	}
	pending.ReadState = session.ReadIdle
	return pending.Accumulated, nil
}

// ReadLong continues an already read attribute from the given offset. It is
// a caller error to issue this before a standard read has completed for the
// attribute in the current session; the error is reported, not silently
// corrected.
func (e *Engine) ReadLong(s *session.Session, kind session.RequestKind, t uds.CharacteristicType, handle uint16, offset int) ([]byte, error) {
	if !s.ReadOnce(handle) {
		return nil, errors.Wrapf(uds.ErrReadNotStarted, "handle 0x%04X", handle)
	}
	pending := session.NewPendingRequest(kind, t, handle)
	if err := s.BeginRequest(pending); err != nil {
		return nil, err
	}
	defer s.EndRequest()
	pending.ReadState = session.AwaitingReadLong
	payload, err := e.transport.ReadLongAttribute(handle, offset)
	pending.ReadState = session.ReadIdle
	if err != nil {
		return nil, errors.Wrap(err, "read long issue: ")
	}
	return payload, nil
}

// Write performs the full write sequence for the attribute. Values that fit
// a single ATT payload go out as one write; longer values are sent as
// Prepare Write chunks followed by Execute Write commit. Any mid sequence
// failure cancels the peer's prepare queue before surfacing the error.
func (e *Engine) Write(s *session.Session, kind session.RequestKind, t uds.CharacteristicType, handle uint16, value []byte) error {
	pending := session.NewPendingRequest(kind, t, handle)
	if err := s.BeginRequest(pending); err != nil {
		return err
	}
	defer s.EndRequest()

	pending.Buffer = value
	mtu := e.transport.MTU()
	if len(value) <= mtu-3 {
		pending.WriteState = session.SinglePayload
		err := e.transport.WriteAttribute(handle, value)
		pending.WriteState = session.WriteIdle
		if err != nil {
			return errors.Wrap(err, "write issue: ")
		}
		return nil
	}

	pending.WriteState = session.PreparingChunks
	chunkSize := mtu - 5
	if chunkSize <= 0 {
		pending.WriteState = session.WriteIdle
		return errors.Wrapf(uds.ErrInvalidParameter, "mtu %d too small for chunked write", mtu)
	}
	e.log.WithFields(logrus.Fields{"id": pending.ID, "handle": handle, "size": len(value)}).Debug("chunked write started")
	for pending.Offset < len(pending.Buffer) {
		n := chunkSize
		if remaining := pending.Remaining(); remaining < n {
			n = remaining
		}
		chunk := pending.Buffer[pending.Offset : pending.Offset+n]
		echo, err := e.transport.PrepareWrite(handle, chunk, pending.Offset)
		if err != nil {
			return e.cancel(pending, errors.Wrap(err, "prepare write issue: "))
		}
		if !bytes.Equal(echo, chunk) {
			return e.cancel(pending, uds.NewTransportError("prepare write", 0, errors.New("echoed chunk does not match sent chunk")))
		}
		pending.Offset += n
		if pending.Offset > len(pending.Buffer) {
			// Guards against a malformed response advancing past the value.
			return e.cancel(pending, uds.NewTransportError("prepare write", 0, errors.New("offset overshot value length")))
		}
	}

	pending.WriteState = session.Committing
	if err := e.transport.ExecuteWrite(true); err != nil {
		pending.WriteState = session.WriteIdle
		return errors.Wrap(err, "execute write issue: ")
	}
	pending.WriteState = session.WriteIdle
	return nil
}

func (e *Engine) cancel(pending *session.PendingRequest, cause error) error {
	if err := e.transport.ExecuteWrite(false); err != nil {
		e.log.WithError(err).Warn("execute write cancel failed")
	}
	pending.WriteState = session.WriteIdle
	return cause
}
