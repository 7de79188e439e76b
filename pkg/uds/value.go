package uds

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Value is a typed characteristic value. The same representation is used for
// storage, wire encode, and wire decode.
type Value interface {
	Kind() ValueKind
	Marshal() []byte
}

// StringValue carries the UTF-8 string characteristics (first name, last
// name, email address, language).
type StringValue struct {
	Text string
}

// DateValue carries date of birth and date of threshold. A year of zero
// means unknown.
type DateValue struct {
	Year  uint16
	Month uint8
	Day   uint8
}

// Uint8Value carries the single byte characteristics (age, gender, heart
// rate limits, and similar).
type Uint8Value struct {
	Value uint8
}

// Uint16Value carries the two byte characteristics (weight, height, waist
// and hip circumference).
type Uint16Value struct {
	Value uint16
}

// FiveZoneValue carries the four boundary values of the five zone heart
// rate limits characteristic.
type FiveZoneValue struct {
	VeryLightToLight uint8
	LightToModerate  uint8
	ModerateToHard   uint8
	HardToMaximum    uint8
}

// ThreeZoneValue carries the two boundary values of the three zone heart
// rate limits characteristic.
type ThreeZoneValue struct {
	LightToModerate uint8
	ModerateToHard  uint8
}

// TwoZoneValue carries the single boundary value of the two zone heart rate
// limit characteristic.
type TwoZoneValue struct {
	FatBurnToFitness uint8
}

func (v StringValue) Kind() ValueKind    { return KindString }
func (v DateValue) Kind() ValueKind      { return KindDate }
func (v Uint8Value) Kind() ValueKind     { return KindUint8 }
func (v Uint16Value) Kind() ValueKind    { return KindUint16 }
func (v FiveZoneValue) Kind() ValueKind  { return KindFiveZone }
func (v ThreeZoneValue) Kind() ValueKind { return KindThreeZone }
func (v TwoZoneValue) Kind() ValueKind   { return KindTwoZone }

func (v StringValue) Marshal() []byte { return []byte(v.Text) }

func (v DateValue) Marshal() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, v.Year)
	b[2] = v.Month
	b[3] = v.Day
	return b
}

func (v Uint8Value) Marshal() []byte { return []byte{v.Value} }

func (v Uint16Value) Marshal() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v.Value)
	return b
}

func (v FiveZoneValue) Marshal() []byte {
	return []byte{v.VeryLightToLight, v.LightToModerate, v.ModerateToHard, v.HardToMaximum}
}

func (v ThreeZoneValue) Marshal() []byte {
	return []byte{v.LightToModerate, v.ModerateToHard}
}

func (v TwoZoneValue) Marshal() []byte { return []byte{v.FatBurnToFitness} }

func (v StringValue) String() string { return v.Text }

func (v DateValue) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", v.Year, v.Month, v.Day)
}

// Validate checks the date field ranges. A fully zeroed date is the
// "unknown" value and is valid.
func (v DateValue) Validate() error {
	if v.Year == 0 && v.Month == 0 && v.Day == 0 {
		return nil
	}
	if v.Year < 1582 || v.Year > 9999 {
		return errors.Wrap(ErrInvalidParameter, "year out of range")
	}
	if v.Month > 12 {
		return errors.Wrap(ErrInvalidParameter, "month out of range")
	}
	if v.Day > 31 {
		return errors.Wrap(ErrInvalidParameter, "day out of range")
	}
	return nil
}

// UnmarshalValue decodes wire data into the typed value for the
// characteristic type.
func UnmarshalValue(t CharacteristicType, data []byte) (Value, error) {
	switch t.Kind() {
	case KindString:
		if len(data) > MaxStringLength {
			return nil, errors.Wrapf(ErrInvalidParameter, "string value exceeds %d bytes", MaxStringLength)
		}
		return StringValue{Text: string(data)}, nil
	case KindUint8:
		if len(data) != 1 {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s expects 1 byte, got %d", t, len(data))
		}
		return Uint8Value{Value: data[0]}, nil
	case KindUint16:
		if len(data) != 2 {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s expects 2 bytes, got %d", t, len(data))
		}
		return Uint16Value{Value: binary.LittleEndian.Uint16(data)}, nil
	case KindDate:
		if len(data) != 4 {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s expects 4 bytes, got %d", t, len(data))
		}
		v := DateValue{Year: binary.LittleEndian.Uint16(data), Month: data[2], Day: data[3]}
		if err := v.Validate(); err != nil {
			return nil, err
		}
		return v, nil
	case KindFiveZone:
		if len(data) != 4 {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s expects 4 bytes, got %d", t, len(data))
		}
		return FiveZoneValue{data[0], data[1], data[2], data[3]}, nil
	case KindThreeZone:
		if len(data) != 2 {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s expects 2 bytes, got %d", t, len(data))
		}
		return ThreeZoneValue{data[0], data[1]}, nil
	case KindTwoZone:
		if len(data) != 1 {
			return nil, errors.Wrapf(ErrInvalidParameter, "%s expects 1 byte, got %d", t, len(data))
		}
		return TwoZoneValue{data[0]}, nil
	}
	return nil, errors.Wrapf(ErrInvalidParameter, "unknown characteristic type %d", int(t))
}

// CheckValue verifies that the value's category matches the characteristic
// type before it is stored or written to the wire.
func CheckValue(t CharacteristicType, v Value) error {
	if !t.Valid() {
		return errors.Wrapf(ErrInvalidParameter, "unknown characteristic type %d", int(t))
	}
	if v == nil {
		return errors.Wrap(ErrInvalidParameter, "nil value")
	}
	if v.Kind() != t.Kind() {
		return errors.Wrapf(ErrInvalidParameter, "%s cannot hold a value of kind %d", t, int(v.Kind()))
	}
	if s, ok := v.(StringValue); ok && len(s.Text) > MaxStringLength {
		return errors.Wrapf(ErrInvalidParameter, "string value exceeds %d bytes", MaxStringLength)
	}
	if d, ok := v.(DateValue); ok {
		return d.Validate()
	}
	return nil
}
