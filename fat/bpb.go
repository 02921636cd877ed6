package fat

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/dargueta/nanofat/nanoerr"
)

// Variant identifies which FAT flavor a mounted volume uses. It is derived
// solely from the cluster count, never stored on disk or chosen by the
// caller.
type Variant int

const (
	Variant12 Variant = 12
	Variant16 Variant = 16
	Variant32 Variant = 32
)

func (v Variant) String() string {
	switch v {
	case Variant12:
		return "FAT12"
	case Variant16:
		return "FAT16"
	case Variant32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// DetermineVariant classifies a volume purely by its total cluster count,
// matching the thresholds every conforming FAT implementation uses.
func DetermineVariant(totalClusters uint32) Variant {
	switch {
	case totalClusters < 4085:
		return Variant12
	case totalClusters < 65525:
		return Variant16
	default:
		return Variant32
	}
}

// rawBPB is the common prefix of every FAT boot sector (the BIOS Parameter
// Block), laid out exactly as it appears on disk.
type rawBPB struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	SectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// rawFAT32Extension is the FAT32-only extended BPB that follows rawBPB.
type rawFAT32Extension struct {
	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	NTReserved       uint8
	ExBootSignature  uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FileSystemType   [8]byte
}

// rawFAT1216Extension is the FAT12/16 extended BPB that follows rawBPB.
type rawFAT1216Extension struct {
	DriveNumber     uint8
	NTReserved      uint8
	ExBootSignature uint8
	VolumeID        uint32
	VolumeLabel     [11]byte
	FileSystemType  [8]byte
}

// Layout holds the fully-derived geometry of a mounted volume: everything
// computed from the BPB once, rather than re-derived on every access.
type Layout struct {
	Variant           Variant
	BytesPerSector    int
	SectorsPerCluster int
	NumFATs           int
	TotalSectors      uint32
	TotalClusters     uint32

	FATStartSector  uint32
	FATSizeSectors  uint32
	RootDirSector   uint32
	RootDirSectors  uint32
	DataStartSector uint32
	RootCluster     uint32 // FAT32 only; 0 otherwise
	VolumeLabel     string
}

// ParseBPB reads one logical sector (or more, if bps > 512 and the reader
// supplies it) from r and derives a full Layout, validating every field
// spec.md requires before computing derived geometry.
func ParseBPB(r io.Reader) (Layout, error) {
	var raw rawBPB
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "read BPB: %s", err)
	}

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "unsupported sector size %d", raw.BytesPerSector)
	}
	if raw.NumFATs == 0 {
		return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "invalid BPB: num_fats is 0")
	}
	if raw.SectorsPerCluster == 0 {
		return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "invalid BPB: sectors_per_cluster is 0")
	}

	totalSectors := uint32(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = raw.TotalSectors32
	}

	fatStart := uint32(raw.ReservedSectors)
	rootDirSectors := uint32((int(raw.RootEntryCount)*32 + int(raw.BytesPerSector) - 1) / int(raw.BytesPerSector))

	var fatSize uint32
	var rootCluster uint32
	var volumeLabel [11]byte

	if raw.SectorsPerFAT16 != 0 {
		fatSize = uint32(raw.SectorsPerFAT16)
		var ext rawFAT1216Extension
		if err := binary.Read(r, binary.LittleEndian, &ext); err == nil {
			volumeLabel = ext.VolumeLabel
		}
	} else {
		var ext rawFAT32Extension
		if err := binary.Read(r, binary.LittleEndian, &ext); err != nil {
			return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "invalid BPB: missing FAT32 extension: %s", err)
		}
		fatSize = ext.SectorsPerFAT32
		rootCluster = ext.RootCluster
		volumeLabel = ext.VolumeLabel
		if rootDirSectors != 0 {
			return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "invalid BPB: FAT32 must have root_entry_count 0")
		}
	}

	rootDirSector := fatStart + uint32(raw.NumFATs)*fatSize
	dataStart := rootDirSector + rootDirSectors

	if dataStart > totalSectors {
		return Layout{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "invalid BPB: data region starts past end of volume")
	}
	dataSectors := totalSectors - dataStart
	totalClusters := dataSectors / uint32(raw.SectorsPerCluster)

	variant := DetermineVariant(totalClusters)
	if variant == Variant32 {
		dataStart = rootDirSector // FAT32's root is a regular cluster chain; no reserved root region.
		rootDirSectors = 0
	}

	return Layout{
		Variant:           variant,
		BytesPerSector:    int(raw.BytesPerSector),
		SectorsPerCluster: int(raw.SectorsPerCluster),
		NumFATs:           int(raw.NumFATs),
		TotalSectors:      totalSectors,
		TotalClusters:     totalClusters,
		FATStartSector:    fatStart,
		FATSizeSectors:    fatSize,
		RootDirSector:     rootDirSector,
		RootDirSectors:    rootDirSectors,
		DataStartSector:   dataStart,
		RootCluster:       rootCluster,
		VolumeLabel:       trimLabel(volumeLabel[:]),
	}, nil
}

func trimLabel(raw []byte) string {
	return string(bytes.TrimRight(raw, " \x00"))
}

// sectorReaderFromBytes wraps a decoded sector buffer as an io.Reader for
// ParseBPB, which is written against io.Reader so it can be fed either a
// raw sector buffer or (in principle) a streamed source.
func sectorReaderFromBytes(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// ClusterToSector converts a cluster number to the logical sector at which
// its data begins.
func (l Layout) ClusterToSector(cluster uint32) uint32 {
	return l.DataStartSector + (cluster-2)*uint32(l.SectorsPerCluster)
}

// BytesPerCluster is SectorsPerCluster*BytesPerSector as an int.
func (l Layout) BytesPerCluster() int {
	return l.SectorsPerCluster * l.BytesPerSector
}
