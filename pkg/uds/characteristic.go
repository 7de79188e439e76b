package uds

// CharacteristicType enumerates the user data characteristics defined by the
// User Data Service.
type CharacteristicType int

const (
	FirstName CharacteristicType = iota
	LastName
	EmailAddress
	Age
	DateOfBirth
	Gender
	Weight
	Height
	VO2Max
	HeartRateMax
	RestingHeartRate
	MaximumRecommendedHeartRate
	AerobicThreshold
	AnaerobicThreshold
	SportType
	DateOfThreshold
	WaistCircumference
	HipCircumference
	FatBurnHeartRateLowerLimit
	FatBurnHeartRateUpperLimit
	AerobicHeartRateLowerLimit
	AerobicHeartRateUpperLimit
	AnaerobicHeartRateLowerLimit
	AnaerobicHeartRateUpperLimit
	FiveZoneHeartRateLimits
	ThreeZoneHeartRateLimits
	TwoZoneHeartRateLimit
	Language
)

// NumCharacteristicTypes is the number of user data characteristic types.
const NumCharacteristicTypes = int(Language) + 1

// ValueKind is the wire category of a characteristic value.
type ValueKind int

const (
	KindString ValueKind = iota
	KindUint8
	KindUint16
	KindDate
	KindFiveZone
	KindThreeZone
	KindTwoZone
)

var kinds = map[CharacteristicType]ValueKind{
	FirstName:                    KindString,
	LastName:                     KindString,
	EmailAddress:                 KindString,
	Age:                          KindUint8,
	DateOfBirth:                  KindDate,
	Gender:                       KindUint8,
	Weight:                       KindUint16,
	Height:                       KindUint16,
	VO2Max:                       KindUint8,
	HeartRateMax:                 KindUint8,
	RestingHeartRate:             KindUint8,
	MaximumRecommendedHeartRate:  KindUint8,
	AerobicThreshold:             KindUint8,
	AnaerobicThreshold:           KindUint8,
	SportType:                    KindUint8,
	DateOfThreshold:              KindDate,
	WaistCircumference:           KindUint16,
	HipCircumference:             KindUint16,
	FatBurnHeartRateLowerLimit:   KindUint8,
	FatBurnHeartRateUpperLimit:   KindUint8,
	AerobicHeartRateLowerLimit:   KindUint8,
	AerobicHeartRateUpperLimit:   KindUint8,
	AnaerobicHeartRateLowerLimit: KindUint8,
	AnaerobicHeartRateUpperLimit: KindUint8,
	FiveZoneHeartRateLimits:      KindFiveZone,
	ThreeZoneHeartRateLimits:     KindThreeZone,
	TwoZoneHeartRateLimit:        KindTwoZone,
	Language:                     KindString,
}

var names = map[CharacteristicType]string{
	FirstName:                    "First Name",
	LastName:                     "Last Name",
	EmailAddress:                 "Email Address",
	Age:                          "Age",
	DateOfBirth:                  "Date of Birth",
	Gender:                       "Gender",
	Weight:                       "Weight",
	Height:                       "Height",
	VO2Max:                       "VO2 Max",
	HeartRateMax:                 "Heart Rate Max",
	RestingHeartRate:             "Resting Heart Rate",
	MaximumRecommendedHeartRate:  "Maximum Recommended Heart Rate",
	AerobicThreshold:             "Aerobic Threshold",
	AnaerobicThreshold:           "Anaerobic Threshold",
	SportType:                    "Sport Type",
	DateOfThreshold:              "Date of Threshold",
	WaistCircumference:           "Waist Circumference",
	HipCircumference:             "Hip Circumference",
	FatBurnHeartRateLowerLimit:   "Fat Burn Heart Rate Lower Limit",
	FatBurnHeartRateUpperLimit:   "Fat Burn Heart Rate Upper Limit",
	AerobicHeartRateLowerLimit:   "Aerobic Heart Rate Lower Limit",
	AerobicHeartRateUpperLimit:   "Aerobic Heart Rate Upper Limit",
	AnaerobicHeartRateLowerLimit: "Anaerobic Heart Rate Lower Limit",
	AnaerobicHeartRateUpperLimit: "Anaerobic Heart Rate Upper Limit",
	FiveZoneHeartRateLimits:      "Five Zone Heart Rate Limits",
	ThreeZoneHeartRateLimits:     "Three Zone Heart Rate Limits",
	TwoZoneHeartRateLimit:        "Two Zone Heart Rate Limit",
	Language:                     "Language",
}

// Kind returns the wire category for the characteristic type.
func (t CharacteristicType) Kind() ValueKind {
	return kinds[t]
}

// Valid reports whether t is a defined characteristic type.
func (t CharacteristicType) Valid() bool {
	_, ok := kinds[t]
	return ok
}

// IsString reports whether the characteristic carries a variable length
// string value and therefore may need the chunked transfer paths.
func (t CharacteristicType) IsString() bool {
	return t.Kind() == KindString
}

func (t CharacteristicType) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return "Unknown Characteristic"
}

// AllCharacteristicTypes returns every defined characteristic type in
// declaration order.
func AllCharacteristicTypes() []CharacteristicType {
	all := make([]CharacteristicType, 0, NumCharacteristicTypes)
	for t := FirstName; t <= Language; t++ {
		all = append(all, t)
	}
	return all
}
