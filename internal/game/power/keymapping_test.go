package power

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMappingEncodeDecodeInverse(t *testing.T) {
	original := &KeyMapping{
		SpecIndex:       2,
		Persist:         true,
		PrimaryAction:   1001,
		SecondaryAction: 1002,
		TravelPower:     1006,
		Slots:           []PrototypeID{1003, 0, 1004, 1007},
	}

	decoded, err := DecodeKeyMapping(original.Encode())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestKeyMappingEmptySlots(t *testing.T) {
	original := &KeyMapping{SpecIndex: 0, Persist: false}

	decoded, err := DecodeKeyMapping(original.Encode())
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
	assert.Nil(t, decoded.Slots)
}

func TestKeyMappingRejectsUnknownVersion(t *testing.T) {
	data := (&KeyMapping{SpecIndex: 1}).Encode()
	data[0] = keyMappingVersion + 1

	_, err := DecodeKeyMapping(data)
	assert.ErrorContains(t, err, "version")
}

func TestKeyMappingRejectsShortBlob(t *testing.T) {
	_, err := DecodeKeyMapping([]byte{keyMappingVersion, 0, 0})
	assert.ErrorContains(t, err, "too short")
}

func TestKeyMappingRejectsTruncatedSlotList(t *testing.T) {
	data := (&KeyMapping{
		SpecIndex: 1,
		Slots:     []PrototypeID{1001, 1002},
	}).Encode()

	_, err := DecodeKeyMapping(data[:len(data)-4])
	assert.ErrorContains(t, err, "truncated")
}
