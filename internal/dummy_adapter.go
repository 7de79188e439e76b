package internal

import (
	"sync"

	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/pkg/errors"
)

// TestAddr is the peer address used across the test suite.
const TestAddr = "33:22:33:44:55:66"

type preparedChunk struct {
	Handle  uint16
	Offset  int
	Payload []byte
}

// DummyAdapter is an in-memory stand-in for the vendor stack adapter. It
// keeps attribute values in a map, replays prepared write queues with real
// execute semantics, and lets tests inject failures at chosen points.
type DummyAdapter struct {
	mu        sync.Mutex
	Attrs     map[uint16][]byte
	Mtu       int
	connected string
	encrypted bool

	DIS  session.DISHandles
	GAPS session.GAPSHandles
	UDS  session.UDSHandles

	prepared []preparedChunk
	subs     map[uint16]func([]byte)

	// Ops records every adapter call in order, for sequencing assertions.
	Ops []string

	// Failure injection. A zero value means no injection; counts are 1
	// based against the operations performed so far.
	FailReadAt    int
	FailPrepareAt int
	CorruptEchoAt int
	FailExecute   bool
	FailWrite     bool
	DialErr       error

	reads    int
	prepares int
}

func NewDummyAdapter(mtu int) *DummyAdapter {
	return &DummyAdapter{
		Attrs: map[uint16][]byte{},
		Mtu:   mtu,
		subs:  map[uint16]func([]byte){},
	}
}

func (a *DummyAdapter) record(op string) {
	a.Ops = append(a.Ops, op)
}

func (a *DummyAdapter) Dial(addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.DialErr != nil {
		return a.DialErr
	}
	a.connected = addr
	a.record("dial")
	return nil
}

func (a *DummyAdapter) Disconnect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = ""
	a.record("disconnect")
	return nil
}

func (a *DummyAdapter) ConnectedAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *DummyAdapter) DiscoverHandles() (session.DISHandles, session.GAPSHandles, session.UDSHandles, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("discover")
	return a.DIS, a.GAPS, a.UDS, nil
}

func (a *DummyAdapter) ReadAttribute(handle uint16) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	a.record("read")
	if a.FailReadAt > 0 && a.reads == a.FailReadAt {
		return nil, uds.NewTransportError("read", 0x0E, errors.New("injected read failure"))
	}
	value := a.Attrs[handle]
	limit := a.Mtu - 1
	if len(value) > limit {
		value = value[:limit]
	}
	return append([]byte{}, value...), nil
}

func (a *DummyAdapter) ReadLongAttribute(handle uint16, offset int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reads++
	a.record("readLong")
	if a.FailReadAt > 0 && a.reads == a.FailReadAt {
		return nil, uds.NewTransportError("readLong", 0x0E, errors.New("injected read failure"))
	}
	value := a.Attrs[handle]
	if offset > len(value) {
		return nil, uds.NewTransportError("readLong", 0x07, errors.New("invalid offset"))
	}
	value = value[offset:]
	limit := a.Mtu - 1
	if len(value) > limit {
		value = value[:limit]
	}
	return append([]byte{}, value...), nil
}

func (a *DummyAdapter) WriteAttribute(handle uint16, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.record("write")
	if a.FailWrite {
		return uds.NewTransportError("write", 0x0E, errors.New("injected write failure"))
	}
	a.Attrs[handle] = append([]byte{}, payload...)
	return nil
}

func (a *DummyAdapter) PrepareWrite(handle uint16, payload []byte, offset int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prepares++
	a.record("prepare")
	if a.FailPrepareAt > 0 && a.prepares == a.FailPrepareAt {
		return nil, uds.NewTransportError("prepare", 0x09, errors.New("injected prepare failure"))
	}
	echo := append([]byte{}, payload...)
	if a.CorruptEchoAt > 0 && a.prepares == a.CorruptEchoAt {
		echo[0] ^= 0xFF
		return echo, nil
	}
	a.prepared = append(a.prepared, preparedChunk{Handle: handle, Offset: offset, Payload: append([]byte{}, payload...)})
	return echo, nil
}

func (a *DummyAdapter) ExecuteWrite(commit bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if commit {
		a.record("execute")
	} else {
		a.record("cancel")
	}
	queue := a.prepared
	a.prepared = nil
	if a.FailExecute && commit {
		return uds.NewTransportError("execute", 0x0E, errors.New("injected execute failure"))
	}
	if !commit {
		return nil
	}
	for _, chunk := range queue {
		value := a.Attrs[chunk.Handle]
		if chunk.Offset != len(value) {
			return uds.NewTransportError("execute", 0x07, errors.New("invalid offset"))
		}
		a.Attrs[chunk.Handle] = append(value, chunk.Payload...)
	}
	return nil
}

func (a *DummyAdapter) SubscribeNotifications(handle uint16, h func([]byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs[handle] = h
	a.record("subscribeNotify")
	return nil
}

func (a *DummyAdapter) SubscribeIndications(handle uint16, h func([]byte)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs[handle] = h
	a.record("subscribeIndicate")
	return nil
}

func (a *DummyAdapter) Unsubscribe(handle uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subs, handle)
	a.record("unsubscribe")
	return nil
}

// Deliver pushes a notification or indication payload to the handler a
// test subscribed on the handle.
func (a *DummyAdapter) Deliver(handle uint16, payload []byte) bool {
	a.mu.Lock()
	h, ok := a.subs[handle]
	a.mu.Unlock()
	if !ok {
		return false
	}
	h(payload)
	return true
}

func (a *DummyAdapter) SetEncrypted(encrypted bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encrypted = encrypted
}

func (a *DummyAdapter) Encrypted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.encrypted
}

func (a *DummyAdapter) MTU() int { return a.Mtu }

// PreparedCount reports how many chunks sit in the prepare queue.
func (a *DummyAdapter) PreparedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prepared)
}
