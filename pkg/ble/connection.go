package ble

import (
	"context"
	"sync"
	"time"

	"github.com/Krajiyah/uds-sdk/pkg/session"
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/Krajiyah/uds-sdk/pkg/util"
	"github.com/currantlabs/ble"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	maxRetryAttempts = 5
	connectTimeout   = 10 * time.Second
	requestMTU       = 256
)

var (
	disUUID  = ble.UUID16(0x180A)
	gapsUUID = ble.UUID16(0x1800)
	udsUUID  = ble.UUID16(uds.ServiceUUID16)
)

type coreMethods interface {
	Dial(context.Context, ble.Addr) (ble.Client, error)
}

type realCoreMethods struct{}

func (bc *realCoreMethods) Dial(ctx context.Context, addr ble.Addr) (ble.Client, error) {
	return ble.Dial(ctx, addr)
}

type connectionListener interface {
	OnDisconnected()
}

// RealConnection implements Adapter on the vendor stack. The stack does not
// expose prepare/execute write primitives at this API level, so prepared
// chunks are queued here and flushed as one long write on commit.
type RealConnection struct {
	mutex           *sync.Mutex
	cln             ble.Client
	methods         coreMethods
	listener        connectionListener
	connectedAddr   string
	mtu             int
	encrypted       bool
	characteristics map[uint16]*ble.Characteristic
	prepareQueue    []byte
	prepareHandle   uint16
	log             *logrus.Entry
}

// NewRealConnection returns an unconnected adapter. listener may be nil.
func NewRealConnection(listener connectionListener) *RealConnection {
	return &RealConnection{
		mutex:           &sync.Mutex{},
		methods:         &realCoreMethods{},
		listener:        listener,
		mtu:             uds.DefaultMTU,
		characteristics: map[uint16]*ble.Characteristic{},
		log:             logrus.WithField("component", "ble-adapter"),
	}
}

func retry(fn func() error) error {
	err := errors.New("not error")
	attempts := 0
	for err != nil && attempts < maxRetryAttempts {
		err = fn()
		attempts++
	}
	if err != nil {
		return errors.Wrap(err, "exceeded retry attempts issue: ")
	}
	return nil
}

func retryAndCatch(fn func() error) error {
	return retry(func() error { return util.CatchErrs(fn) })
}

// Dial connects to the device at addr and exchanges the MTU.
func (c *RealConnection) Dial(addr string) error {
	return retryAndCatch(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		cln, err := c.methods.Dial(ctx, ble.NewAddr(addr))
		if err != nil {
			return errors.Wrap(err, "Dial issue: ")
		}
		c.mutex.Lock()
		c.cln = cln
		c.connectedAddr = session.NormalizeAddr(addr)
		c.mutex.Unlock()
		go func() {
			<-cln.Disconnected()
			c.mutex.Lock()
			c.connectedAddr = ""
			c.encrypted = false
			c.prepareQueue = nil
			c.prepareHandle = 0
			c.mutex.Unlock()
			if c.listener != nil {
				c.listener.OnDisconnected()
			}
		}()
		mtu, err := cln.ExchangeMTU(requestMTU)
		if err != nil {
			c.log.WithError(err).Warn("mtu exchange failed, staying at default")
			mtu = uds.DefaultMTU
		}
		c.mutex.Lock()
		c.mtu = mtu
		c.mutex.Unlock()
		return nil
	})
}

// Disconnect tears the link down.
func (c *RealConnection) Disconnect() error {
	c.mutex.Lock()
	cln := c.cln
	c.connectedAddr = ""
	c.encrypted = false
	c.mutex.Unlock()
	if cln == nil {
		return uds.ErrNotConnected
	}
	return util.CatchErrs(func() error { return cln.CancelConnection() })
}

// ConnectedAddr returns the remote address, or empty when disconnected.
func (c *RealConnection) ConnectedAddr() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.connectedAddr
}

// DiscoverHandles performs service discovery and captures the attribute
// handles for DIS, GAPS, and UDS.
func (c *RealConnection) DiscoverHandles() (session.DISHandles, session.GAPSHandles, session.UDSHandles, error) {
	var dis session.DISHandles
	var gaps session.GAPSHandles
	udsHandles := session.UDSHandles{Characteristics: map[uds.CharacteristicType]uint16{}}
	if c.cln == nil {
		return dis, gaps, udsHandles, uds.ErrNotConnected
	}
	var profile *ble.Profile
	err := retryAndCatch(func() error {
		p, e := c.cln.DiscoverProfile(true)
		profile = p
		return errors.Wrap(e, "DiscoverProfile issue: ")
	})
	if err != nil {
		return dis, gaps, udsHandles, err
	}
	for _, svc := range profile.Services {
		switch {
		case svc.UUID.Equal(disUUID):
			c.captureDIS(svc, &dis)
		case svc.UUID.Equal(gapsUUID):
			c.captureGAPS(svc, &gaps)
		case svc.UUID.Equal(udsUUID):
			c.captureUDS(svc, &udsHandles)
		}
	}
	if udsHandles.UserControlPoint == 0 {
		return dis, gaps, udsHandles, errors.Wrap(uds.ErrServiceDiscoveryIncomplete, "user data service not found on peer")
	}
	return dis, gaps, udsHandles, nil
}

func uuid16Of(char *ble.Characteristic) uint16 {
	if len(char.UUID) != 2 {
		return 0
	}
	return uint16(char.UUID[0]) | uint16(char.UUID[1])<<8
}

func (c *RealConnection) remember(char *ble.Characteristic) uint16 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.characteristics[char.ValueHandle] = char
	return char.ValueHandle
}

func (c *RealConnection) captureDIS(svc *ble.Service, dis *session.DISHandles) {
	for _, char := range svc.Characteristics {
		h := c.remember(char)
		switch uuid16Of(char) {
		case 0x2A29:
			dis.ManufacturerName = h
		case 0x2A24:
			dis.ModelNumber = h
		case 0x2A25:
			dis.SerialNumber = h
		case 0x2A27:
			dis.HardwareRevision = h
		case 0x2A26:
			dis.FirmwareRevision = h
		case 0x2A28:
			dis.SoftwareRevision = h
		case 0x2A23:
			dis.SystemID = h
		case 0x2A2A:
			dis.IEEECertification = h
		case 0x2A50:
			dis.PnPID = h
		}
	}
}

func (c *RealConnection) captureGAPS(svc *ble.Service, gaps *session.GAPSHandles) {
	for _, char := range svc.Characteristics {
		h := c.remember(char)
		switch uuid16Of(char) {
		case 0x2A00:
			gaps.DeviceName = h
		case 0x2A01:
			gaps.Appearance = h
		}
	}
}

func (c *RealConnection) captureUDS(svc *ble.Service, handles *session.UDSHandles) {
	for _, char := range svc.Characteristics {
		h := c.remember(char)
		u := uuid16Of(char)
		if t, ok := uds.TypeForUUID16(u); ok {
			handles.Characteristics[t] = h
			continue
		}
		switch u {
		case uds.DatabaseChangeIncrementUUID16:
			handles.DatabaseChangeIncrement = h
			if char.CCCD != nil {
				handles.DatabaseChangeIncrementCCCD = char.CCCD.Handle
			}
		case uds.UserIndexUUID16:
			handles.UserIndex = h
		case uds.UserControlPointUUID16:
			handles.UserControlPoint = h
			if char.CCCD != nil {
				handles.UserControlPointCCCD = char.CCCD.Handle
			}
		}
	}
}

func (c *RealConnection) characteristic(handle uint16) (*ble.Characteristic, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if char, ok := c.characteristics[handle]; ok {
		return char, nil
	}
	return nil, errors.Wrapf(uds.ErrServiceDiscoveryIncomplete, "no characteristic at handle 0x%04X", handle)
}

// ReadAttribute issues a standard read.
func (c *RealConnection) ReadAttribute(handle uint16) ([]byte, error) {
	char, err := c.characteristic(handle)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = retryAndCatch(func() error {
		d, e := c.cln.ReadCharacteristic(char)
		data = d
		return e
	})
	if err != nil {
		return nil, uds.NewTransportError("read", 0, err)
	}
	return data, nil
}

// ReadLongAttribute returns the value bytes from offset onward. The stack
// only exposes a whole value long read at this API level, so the offset is
// applied here.
func (c *RealConnection) ReadLongAttribute(handle uint16, offset int) ([]byte, error) {
	char, err := c.characteristic(handle)
	if err != nil {
		return nil, err
	}
	var data []byte
	err = retryAndCatch(func() error {
		d, e := c.cln.ReadLongCharacteristic(char)
		data = d
		return e
	})
	if err != nil {
		return nil, uds.NewTransportError("read long", 0, err)
	}
	if offset >= len(data) {
		return []byte{}, nil
	}
	return data[offset:], nil
}

// WriteAttribute issues a standard write with response.
func (c *RealConnection) WriteAttribute(handle uint16, payload []byte) error {
	char, err := c.characteristic(handle)
	if err != nil {
		return err
	}
	err = retryAndCatch(func() error {
		return c.cln.WriteCharacteristic(char, payload, false)
	})
	if err != nil {
		return uds.NewTransportError("write", 0, err)
	}
	return nil
}

// PrepareWrite queues a chunk for the handle and returns the echoed chunk.
// Chunks must arrive in offset order on a single handle at a time, matching
// the one prepare queue the ATT bearer provides.
func (c *RealConnection) PrepareWrite(handle uint16, payload []byte, offset int) ([]byte, error) {
	if _, err := c.characteristic(handle); err != nil {
		return nil, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.prepareHandle != 0 && c.prepareHandle != handle {
		return nil, uds.NewTransportError("prepare write", 0, errors.Errorf("prepare queue busy with handle 0x%04X", c.prepareHandle))
	}
	if offset != len(c.prepareQueue) {
		return nil, uds.NewTransportError("prepare write", 0, errors.Errorf("offset %d does not continue queue of %d bytes", offset, len(c.prepareQueue)))
	}
	c.prepareHandle = handle
	c.prepareQueue = append(c.prepareQueue, payload...)
	echo := make([]byte, len(payload))
	copy(echo, payload)
	return echo, nil
}

// ExecuteWrite commits or cancels the prepare queue. Commit flushes the
// reassembled value as one long write to the peer.
func (c *RealConnection) ExecuteWrite(commit bool) error {
	c.mutex.Lock()
	handle := c.prepareHandle
	value := c.prepareQueue
	c.prepareQueue = nil
	c.prepareHandle = 0
	c.mutex.Unlock()
	if !commit {
		return nil
	}
	if handle == 0 {
		return uds.NewTransportError("execute write", 0, errors.New("nothing prepared"))
	}
	return c.WriteAttribute(handle, value)
}

func (c *RealConnection) subscribe(handle uint16, indicate bool, h func([]byte)) error {
	char, err := c.characteristic(handle)
	if err != nil {
		return err
	}
	err = retryAndCatch(func() error {
		return c.cln.Subscribe(char, indicate, func(data []byte) {
			cp := make([]byte, len(data))
			copy(cp, data)
			h(cp)
		})
	})
	if err != nil {
		return uds.NewTransportError("subscribe", 0, err)
	}
	return nil
}

// SubscribeNotifications enables notifications for the handle.
func (c *RealConnection) SubscribeNotifications(handle uint16, h func([]byte)) error {
	return c.subscribe(handle, false, h)
}

// SubscribeIndications enables indications for the handle.
func (c *RealConnection) SubscribeIndications(handle uint16, h func([]byte)) error {
	return c.subscribe(handle, true, h)
}

// Unsubscribe disables notifications and indications for the handle.
func (c *RealConnection) Unsubscribe(handle uint16) error {
	char, err := c.characteristic(handle)
	if err != nil {
		return err
	}
	return retryAndCatch(func() error {
		if e := c.cln.Unsubscribe(char, false); e != nil {
			return e
		}
		return c.cln.Unsubscribe(char, true)
	})
}

// SetEncrypted records the link encryption state, reported by the stack's
// security manager callbacks outside this API.
func (c *RealConnection) SetEncrypted(encrypted bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.encrypted = encrypted
}

// Encrypted reports whether the link is encrypted.
func (c *RealConnection) Encrypted() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.encrypted
}

// MTU returns the negotiated ATT MTU.
func (c *RealConnection) MTU() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.mtu
}
