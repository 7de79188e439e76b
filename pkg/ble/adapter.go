package ble

import (
	"github.com/Krajiyah/uds-sdk/pkg/session"
)

// Adapter is the boundary to the vendor GATT stack for the client role.
// Each attribute operation issues one stack request and returns its
// completion; precondition failures are detected by the engines before any
// adapter call is made.
type Adapter interface {
	Dial(addr string) error
	Disconnect() error
	ConnectedAddr() string

	// DiscoverHandles walks the remote database and returns the DIS, GAPS,
	// and UDS attribute handles.
	DiscoverHandles() (session.DISHandles, session.GAPSHandles, session.UDSHandles, error)

	ReadAttribute(handle uint16) ([]byte, error)
	ReadLongAttribute(handle uint16, offset int) ([]byte, error)
	WriteAttribute(handle uint16, payload []byte) error
	// PrepareWrite queues one chunk at the offset and returns the chunk the
	// peer echoed back.
	PrepareWrite(handle uint16, payload []byte, offset int) ([]byte, error)
	ExecuteWrite(commit bool) error

	SubscribeNotifications(handle uint16, h func([]byte)) error
	SubscribeIndications(handle uint16, h func([]byte)) error
	Unsubscribe(handle uint16) error

	Encrypted() bool
	MTU() int
}
