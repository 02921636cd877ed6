package fat

import (
	"encoding/binary"
	"strings"

	"github.com/go-restruct/restruct"
)

// rawLFNSlot is one 32-byte VFAT long-filename directory entry, carrying up
// to 13 UCS-2 code units of a name longer than 8.3 allows.
type rawLFNSlot struct {
	Order      uint8
	Name1      [5]uint16
	Attr       uint8 // always AttrLongName
	Type       uint8 // always 0
	Checksum   uint8
	Name2      [6]uint16
	ClusterLow uint16 // always 0
	Name3      [2]uint16
}

const lfnOrderFinal = 0x40 // bit set on the highest-ordered (first-written) slot
const lfnOrderMask = 0x3F
const lfnCharsPerSlot = 13

func unpackLFNSlot(raw []byte) (rawLFNSlot, error) {
	var s rawLFNSlot
	err := restruct.Unpack(raw, binary.LittleEndian, &s)
	return s, err
}

func (s rawLFNSlot) pack() []byte {
	raw, err := restruct.Pack(binary.LittleEndian, &s)
	if err != nil {
		panic(err)
	}
	return raw
}

// codeUnits returns this slot's 13 UCS-2 code units in order.
func (s rawLFNSlot) codeUnits() [13]uint16 {
	var units [13]uint16
	copy(units[0:5], s.Name1[:])
	copy(units[5:11], s.Name2[:])
	copy(units[11:13], s.Name3[:])
	return units
}

// decodeLFNName converts accumulated UCS-2 code units (already ordered low
// byte first, slot 1 first) into a Go string, stopping at the first 0x0000
// terminator.
func decodeLFNName(units []uint16) string {
	var b strings.Builder
	for _, u := range units {
		if u == 0x0000 {
			break
		}
		if u == 0xFFFF {
			continue
		}
		b.WriteRune(rune(u))
	}
	return b.String()
}

// lfnChecksum computes the checksum byte every LFN slot must carry, bound
// to the 11-byte short name that follows the LFN run.
func lfnChecksum(shortNameKey [11]byte) uint8 {
	var sum uint8
	for _, b := range shortNameKey {
		rotated := sum >> 1
		if sum&1 != 0 {
			rotated |= 0x80
		}
		sum = rotated + b
	}
	return sum
}

// needsLFN reports whether name requires long-filename slots: any
// lowercase letter, a base longer than 8 characters, or an extension longer
// than 3 characters. Deliberately conservative, per the case-sensitive or
// overlong rule this format follows.
func needsLFN(name string) bool {
	base, ext, hasDot := splitBaseExt(name)
	if hasDot && len(ext) > 3 {
		return true
	}
	if len(base) > 8 {
		return true
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			return true
		}
	}
	return false
}

func splitBaseExt(name string) (base, ext string, hasDot bool) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, "", false
	}
	return name[:idx], name[idx+1:], true
}

// deriveShortName upper-cases name, splits on the last ".", and pads/
// truncates to the 8.3 form. Collisions between distinct long names that
// derive the same short name are not disambiguated.
func deriveShortName(name string) (nameField [8]byte, extField [3]byte) {
	base, ext, _ := splitBaseExt(name)
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)

	for i := range nameField {
		nameField[i] = ' '
	}
	for i := range extField {
		extField[i] = ' '
	}
	copy(nameField[:], base)
	copy(extField[:], ext)
	return nameField, extField
}

// lfnSlotsNeeded returns the number of LFN slots required to carry name.
func lfnSlotsNeeded(name string) int {
	return (len(name) + lfnCharsPerSlot - 1) / lfnCharsPerSlot
}

// buildLFNSlots produces the LFN slots for name in on-disk (descending
// ordinal) write order: highest ordinal first with the final-slot bit set,
// ordinal 1 last, immediately followed by the short entry it describes.
func buildLFNSlots(name string, checksum uint8) []rawLFNSlot {
	runes := []rune(name)
	count := lfnSlotsNeeded(name)
	slots := make([]rawLFNSlot, count)

	for i := 0; i < count; i++ {
		ordinal := i + 1
		start := i * lfnCharsPerSlot
		var units [13]uint16
		for j := 0; j < lfnCharsPerSlot; j++ {
			pos := start + j
			switch {
			case pos < len(runes):
				units[j] = uint16(runes[pos])
			case pos == len(runes):
				units[j] = 0x0000 // length-terminating code unit
			default:
				units[j] = 0xFFFF // padding for the remainder of the final slot
			}
		}

		order := uint8(ordinal)
		if ordinal == count {
			order |= lfnOrderFinal
		}

		slots[count-1-i] = rawLFNSlot{
			Order:    order,
			Name1:    [5]uint16(units[0:5]),
			Attr:     AttrLongName,
			Checksum: checksum,
			Name2:    [6]uint16(units[5:11]),
			Name3:    [2]uint16(units[11:13]),
		}
	}
	return slots
}
