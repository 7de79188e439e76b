package uds

// 16 bit Bluetooth SIG assigned numbers for the User Data Service and its
// characteristics.
const (
	ServiceUUID16 = 0x181C

	DatabaseChangeIncrementUUID16 = 0x2A99
	UserIndexUUID16               = 0x2A9A
	UserControlPointUUID16        = 0x2A9F
	CCCDUUID16                    = 0x2902
)

var characteristicUUIDs = map[CharacteristicType]uint16{
	FirstName:                    0x2A8A,
	LastName:                     0x2A90,
	EmailAddress:                 0x2A87,
	Age:                          0x2A80,
	DateOfBirth:                  0x2A85,
	Gender:                       0x2A8C,
	Weight:                       0x2A98,
	Height:                       0x2A8E,
	VO2Max:                       0x2A96,
	HeartRateMax:                 0x2A8D,
	RestingHeartRate:             0x2A92,
	MaximumRecommendedHeartRate:  0x2A91,
	AerobicThreshold:             0x2A7F,
	AnaerobicThreshold:           0x2A83,
	SportType:                    0x2A93,
	DateOfThreshold:              0x2A86,
	WaistCircumference:           0x2A97,
	HipCircumference:             0x2A8F,
	FatBurnHeartRateLowerLimit:   0x2A88,
	FatBurnHeartRateUpperLimit:   0x2A89,
	AerobicHeartRateLowerLimit:   0x2A7E,
	AerobicHeartRateUpperLimit:   0x2A84,
	AnaerobicHeartRateLowerLimit: 0x2A81,
	AnaerobicHeartRateUpperLimit: 0x2A82,
	FiveZoneHeartRateLimits:      0x2A8B,
	ThreeZoneHeartRateLimits:     0x2A94,
	TwoZoneHeartRateLimit:        0x2A95,
	Language:                     0x2AA2,
}

// UUID16 returns the assigned number for the characteristic type.
func (t CharacteristicType) UUID16() uint16 {
	return characteristicUUIDs[t]
}

// TypeForUUID16 resolves an assigned number back to a characteristic type.
func TypeForUUID16(u uint16) (CharacteristicType, bool) {
	for t, candidate := range characteristicUUIDs {
		if candidate == u {
			return t, true
		}
	}
	return 0, false
}
