package uds

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/assert"
)

func TestStringValueRoundTrip(t *testing.T) {
	v, err := UnmarshalValue(FirstName, []byte("Ada"))
	assert.NilError(t, err)
	assert.Equal(t, v.(StringValue).Text, "Ada")
	assert.DeepEqual(t, v.Marshal(), []byte("Ada"))
}

func TestStringValueLengthBound(t *testing.T) {
	long := strings.Repeat("x", MaxStringLength+1)
	_, err := UnmarshalValue(FirstName, []byte(long))
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
	err = CheckValue(FirstName, StringValue{Text: long})
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
}

func TestWeightIsLittleEndian(t *testing.T) {
	v, err := UnmarshalValue(Weight, []byte{0x34, 0x12})
	assert.NilError(t, err)
	assert.Equal(t, v.(Uint16Value).Value, uint16(0x1234))
}

func TestDateValidation(t *testing.T) {
	assert.NilError(t, DateValue{}.Validate())
	assert.NilError(t, DateValue{Year: 1990, Month: 6, Day: 15}.Validate())
	assert.Assert(t, DateValue{Year: 1500, Month: 1, Day: 1}.Validate() != nil)
	assert.Assert(t, DateValue{Year: 1990, Month: 13, Day: 1}.Validate() != nil)
	assert.Assert(t, DateValue{Year: 1990, Month: 1, Day: 32}.Validate() != nil)
}

func TestUnmarshalDateRejectsBadRanges(t *testing.T) {
	// year 100 is below the Gregorian floor
	_, err := UnmarshalValue(DateOfBirth, []byte{0x64, 0x00, 0x01, 0x01})
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
}

func TestCheckValueRejectsKindMismatch(t *testing.T) {
	err := CheckValue(Age, StringValue{Text: "not an age"})
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
}

func TestFixedSizeLengthChecks(t *testing.T) {
	_, err := UnmarshalValue(Age, []byte{1, 2})
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
	_, err = UnmarshalValue(FiveZoneHeartRateLimits, []byte{1, 2, 3})
	assert.Equal(t, errors.Cause(err), ErrInvalidParameter)
}

func TestEveryTypeHasKindAndUUID(t *testing.T) {
	for _, ct := range AllCharacteristicTypes() {
		assert.Assert(t, ct.Valid())
		assert.Assert(t, ct.UUID16() != 0)
		assert.Assert(t, ct.String() != "")
	}
	assert.Equal(t, len(AllCharacteristicTypes()), NumCharacteristicTypes)
}
