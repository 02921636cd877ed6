package fat

import (
	"encoding/binary"
	"strings"

	"github.com/go-restruct/restruct"
)

const direntSize = 32

// Attribute bits used on a directory entry's AttributeFlags field.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = 0x0F // AttrReadOnly|AttrHidden|AttrSystem|AttrVolumeID
)

// rawDirent is the 32-byte on-disk short directory entry, decoded by
// restruct from its plain, untagged fields rather than by manual byte
// slicing.
type rawDirent struct {
	Name             [8]byte
	Extension        [3]byte
	AttributeFlags   uint8
	NTReserved       uint8
	CreateTimeTenths uint8
	CreateTime       uint16
	CreateDate       uint16
	AccessDate       uint16
	ClusterHigh      uint16
	ModifyTime       uint16
	ModifyDate       uint16
	ClusterLow       uint16
	FileSize         uint32
}

func unpackDirent(raw []byte) (rawDirent, error) {
	var d rawDirent
	err := restruct.Unpack(raw, binary.LittleEndian, &d)
	return d, err
}

func (d rawDirent) pack() []byte {
	// restruct.Pack never fails for a fixed-size, tag-free struct of this
	// shape; a panic here would indicate a programming error, not bad input.
	raw, err := restruct.Pack(binary.LittleEndian, &d)
	if err != nil {
		panic(err)
	}
	return raw
}

// FirstByte sentinels for a short entry's Name[0] field.
const (
	direntFree      = 0x00 // and every following entry in the directory
	direntErasedTag = 0xE5
)

func (d rawDirent) isFree() bool     { return d.Name[0] == direntFree }
func (d rawDirent) isErased() bool   { return d.Name[0] == direntErasedTag }
func (d rawDirent) isLongName() bool { return d.AttributeFlags == AttrLongName }
func (d rawDirent) isVolumeID() bool { return d.AttributeFlags&AttrVolumeID != 0 }
func (d rawDirent) isDir() bool      { return d.AttributeFlags&AttrDirectory != 0 }
func (d rawDirent) cluster() uint32  { return uint32(d.ClusterHigh)<<16 | uint32(d.ClusterLow) }

func (d *rawDirent) setCluster(c uint32) {
	d.ClusterHigh = uint16(c >> 16)
	d.ClusterLow = uint16(c & 0xFFFF)
}

// shortName reconstructs the presentation form of the 8.3 name: base and
// extension trimmed of trailing spaces, joined with "." only if there is an
// extension.
func (d rawDirent) shortName() string {
	base := strings.TrimRight(string(d.Name[:]), " ")
	ext := strings.TrimRight(string(d.Extension[:]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// shortNameKey is the canonical 11-byte comparison key for a short name:
// upper-cased name+extension with no separator, used for case-insensitive
// identity regardless of how the name is displayed.
func (d rawDirent) shortNameKey() [11]byte {
	var key [11]byte
	copy(key[:8], d.Name[:])
	copy(key[8:], d.Extension[:])
	for i, b := range key {
		key[i] = toUpperASCII(b)
	}
	return key
}

func toUpperASCII(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// Dirent is the enumeration-facing, decoded view of one directory entry:
// its long name if one was present, its canonical short name, and the
// fields callers need (attributes, cluster, size).
type Dirent struct {
	LongName  string // "" if no LFN slots preceded this entry
	ShortName string
	ShortKey  [11]byte
	Attr      uint8
	Cluster   uint32
	Size      uint32
}

// Name returns the long name if present, else the short name.
func (e Dirent) Name() string {
	if e.LongName != "" {
		return e.LongName
	}
	return e.ShortName
}

func (e Dirent) IsDir() bool { return e.Attr&AttrDirectory != 0 }
