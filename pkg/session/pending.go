package session

import (
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/google/uuid"
)

// RequestKind identifies what a pending request context is waiting on.
type RequestKind int

const (
	KindCharacteristicRead RequestKind = iota
	KindCharacteristicWrite
	KindCCCDRead
	KindCCCDWrite
	KindChangeIncrementRead
	KindChangeIncrementWrite
	KindUserIndexRead
	KindControlPointWrite
)

// ReadState is the chunked read sequencer state.
type ReadState int

const (
	ReadIdle ReadState = iota
	AwaitingFirstRead
	AwaitingReadLong
)

// WriteState is the chunked write sequencer state.
type WriteState int

const (
	WriteIdle WriteState = iota
	SinglePayload
	PreparingChunks
	Committing
)

// PendingRequest is the per session context for the one outstanding
// transfer or control point operation. It is created when the request is
// issued and destroyed on the terminal response or confirmation.
type PendingRequest struct {
	ID     string
	Kind   RequestKind
	Type   uds.CharacteristicType
	Handle uint16

	ReadState ReadState
	// Accumulated grows across successive read long responses.
	Accumulated []byte

	WriteState WriteState
	// Buffer holds the full value being written; Offset is the next byte
	// to send via Prepare Write. Offset never exceeds len(Buffer).
	Buffer []byte
	Offset int
}

// NewPendingRequest returns a fresh context with a correlation id for
// logging.
func NewPendingRequest(kind RequestKind, t uds.CharacteristicType, handle uint16) *PendingRequest {
	return &PendingRequest{
		ID:     uuid.New().String()[0:8],
		Kind:   kind,
		Type:   t,
		Handle: handle,
	}
}

// Remaining returns how many bytes of the write buffer are still unsent.
func (r *PendingRequest) Remaining() int {
	return len(r.Buffer) - r.Offset
}
