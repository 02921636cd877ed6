package fat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNeedsLFN(t *testing.T) {
	require.False(t, needsLFN("README.TXT"))
	require.False(t, needsLFN("A.B"))
	require.True(t, needsLFN("readme.txt"))
	require.True(t, needsLFN("LONGNAMES.TXT"))
	require.True(t, needsLFN("A.TOOLONG"))
}

func TestLFNChecksum_MatchesDerivedShortName(t *testing.T) {
	nameField, extField := deriveShortName("HELLO.TXT")
	var key [11]byte
	copy(key[:8], nameField[:])
	copy(key[8:], extField[:])

	sum := lfnChecksum(key)
	require.NotZero(t, sum)

	// Recomputing from the same bytes must be stable.
	require.Equal(t, sum, lfnChecksum(key))
}

func TestBuildAndDecodeLFNSlots_RoundTrips(t *testing.T) {
	name := "a very long file name.txt"
	nameField, extField := deriveShortName(name)
	var key [11]byte
	copy(key[:8], nameField[:])
	copy(key[8:], extField[:])
	checksum := lfnChecksum(key)

	slots := buildLFNSlots(name, checksum)
	require.Len(t, slots, lfnSlotsNeeded(name))

	// Slots are produced in descending ordinal (on-disk write) order: the
	// first slot carries the final bit and the highest ordinal.
	require.NotZero(t, slots[0].Order&lfnOrderFinal)
	require.Equal(t, uint8(len(slots)), slots[0].Order&lfnOrderMask)
	require.Equal(t, uint8(1), slots[len(slots)-1].Order&lfnOrderMask)

	// Reassemble in ascending ordinal order and decode.
	units := make([]uint16, 0, len(slots)*lfnCharsPerSlot)
	for i := len(slots) - 1; i >= 0; i-- {
		u := slots[i].codeUnits()
		units = append(units, u[:]...)
	}
	require.Equal(t, name, decodeLFNName(units))
}

func TestDeriveShortName_PadsAndUppercases(t *testing.T) {
	nameField, extField := deriveShortName("abc.de")
	require.Equal(t, "ABC     ", string(nameField[:]))
	require.Equal(t, "DE ", string(extField[:]))
}

func TestIsValidName(t *testing.T) {
	require.False(t, IsValidName(""))
	require.False(t, IsValidName("."))
	require.False(t, IsValidName(".."))
	require.False(t, IsValidName("/"))
	require.False(t, IsValidName("a/b"))
	require.False(t, IsValidName("a*b"))
	require.True(t, IsValidName("normal.txt"))
}
