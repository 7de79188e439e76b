package internal

import (
	"sync"

	"github.com/currantlabs/ble"
)

// DummyCoreClient implements the vendor stack client against an in-memory
// attribute table, for exercising the real adapter without hardware.
type DummyCoreClient struct {
	mu           sync.Mutex
	addr         string
	Attrs        map[uint16][]byte
	Written      map[uint16][][]byte
	Prof         *ble.Profile
	Mtu          int
	disconnected chan struct{}
}

func NewDummyCoreClient(addr string, prof *ble.Profile) *DummyCoreClient {
	return &DummyCoreClient{
		addr:         addr,
		Attrs:        map[uint16][]byte{},
		Written:      map[uint16][][]byte{},
		Prof:         prof,
		Mtu:          185,
		disconnected: make(chan struct{}),
	}
}

func (c *DummyCoreClient) ReadCharacteristic(char *ble.Characteristic) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte{}, c.Attrs[char.ValueHandle]...), nil
}

func (c *DummyCoreClient) ReadLongCharacteristic(char *ble.Characteristic) ([]byte, error) {
	return c.ReadCharacteristic(char)
}

func (c *DummyCoreClient) WriteCharacteristic(char *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte{}, value...)
	c.Attrs[char.ValueHandle] = cp
	c.Written[char.ValueHandle] = append(c.Written[char.ValueHandle], cp)
	return nil
}

func (c *DummyCoreClient) Address() ble.Addr                                { return ble.NewAddr(c.addr) }
func (c *DummyCoreClient) Name() string                                     { return "dummy" }
func (c *DummyCoreClient) Profile() *ble.Profile                            { return c.Prof }
func (c *DummyCoreClient) DiscoverProfile(force bool) (*ble.Profile, error) { return c.Prof, nil }
func (c *DummyCoreClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	return c.Prof.Services, nil
}
func (c *DummyCoreClient) DiscoverIncludedServices(filter []ble.UUID, s *ble.Service) ([]*ble.Service, error) {
	return nil, nil
}
func (c *DummyCoreClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	return s.Characteristics, nil
}
func (c *DummyCoreClient) DiscoverDescriptors(filter []ble.UUID, char *ble.Characteristic) ([]*ble.Descriptor, error) {
	return nil, nil
}
func (c *DummyCoreClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error)  { return nil, nil }
func (c *DummyCoreClient) WriteDescriptor(d *ble.Descriptor, v []byte) error { return nil }
func (c *DummyCoreClient) ReadRSSI() int                                     { return -40 }
func (c *DummyCoreClient) ExchangeMTU(rxMTU int) (txMTU int, err error)      { return c.Mtu, nil }
func (c *DummyCoreClient) Subscribe(char *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return nil
}
func (c *DummyCoreClient) Unsubscribe(char *ble.Characteristic, ind bool) error { return nil }
func (c *DummyCoreClient) ClearSubscriptions() error                            { return nil }
func (c *DummyCoreClient) CancelConnection() error {
	select {
	case <-c.disconnected:
	default:
		close(c.disconnected)
	}
	return nil
}
func (c *DummyCoreClient) Disconnected() <-chan struct{} { return c.disconnected }
