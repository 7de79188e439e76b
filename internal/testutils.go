package internal

import (
	"github.com/Krajiyah/uds-sdk/pkg/uds"
	"github.com/currantlabs/ble"
)

// Attribute handles used by the test profile.
const (
	TestFirstNameHandle  = uint16(0x0010)
	TestAgeHandle        = uint16(0x0012)
	TestChangeHandle     = uint16(0x0020)
	TestChangeCCCD       = uint16(0x0021)
	TestUserIndexHandle  = uint16(0x0022)
	TestUCPHandle        = uint16(0x0024)
	TestUCPCCCD          = uint16(0x0025)
	TestDeviceNameHandle = uint16(0x0003)
)

func newChar(uuid16 uint16, valueHandle uint16) *ble.Characteristic {
	c := &ble.Characteristic{}
	c.UUID = ble.UUID16(uuid16)
	c.Handle = valueHandle - 1
	c.ValueHandle = valueHandle
	return c
}

func withCCCD(c *ble.Characteristic, handle uint16) *ble.Characteristic {
	d := &ble.Descriptor{}
	d.UUID = ble.UUID16(uds.CCCDUUID16)
	d.Handle = handle
	c.CCCD = d
	return c
}

// GetTestProfile builds the remote attribute layout the adapter tests
// discover against: GAPS, then the user data service.
func GetTestProfile() *ble.Profile {
	gaps := &ble.Service{}
	gaps.UUID = ble.UUID16(0x1800)
	gaps.Characteristics = []*ble.Characteristic{newChar(0x2A00, TestDeviceNameHandle)}

	svc := &ble.Service{}
	svc.UUID = ble.UUID16(uds.ServiceUUID16)
	svc.Characteristics = []*ble.Characteristic{
		newChar(uds.FirstName.UUID16(), TestFirstNameHandle),
		newChar(uds.Age.UUID16(), TestAgeHandle),
		withCCCD(newChar(uds.DatabaseChangeIncrementUUID16, TestChangeHandle), TestChangeCCCD),
		newChar(uds.UserIndexUUID16, TestUserIndexHandle),
		withCCCD(newChar(uds.UserControlPointUUID16, TestUCPHandle), TestUCPCCCD),
	}
	return &ble.Profile{Services: []*ble.Service{gaps, svc}}
}
