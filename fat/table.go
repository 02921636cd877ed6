package fat

import (
	"encoding/binary"

	"github.com/boljen/go-bitmap"

	"github.com/dargueta/nanofat/block"
	"github.com/dargueta/nanofat/nanoerr"
)

// eocSentinel is the normalized end-of-chain marker Get returns regardless
// of variant; values at or above it always mean "last cluster in chain".
const eocSentinel = 0x0FFFFFFF

// ioFailureSentinel is what Get returns when the cache's backing sector
// could not be loaded; callers are expected to treat it as end-of-chain and
// abort, per the error-handling policy.
const ioFailureSentinel = 0xFFFFFFFF

// Table implements the FAT cluster-chain engine: Get/Set/Alloc/Flush over a
// single-logical-sector write-through cache of the first FAT copy.
//
// The cache's loaded/dirty state is tracked with a one-bit go-bitmap.Bitmap
// each, the same structure the single-sector cache in this family of
// drivers uses at larger scale; here there is exactly one cacheable unit
// (the currently loaded FAT sector), so the bitmaps are always length 1.
type Table struct {
	sectors *block.SectorDevice
	layout  Layout
	fatLBA  uint32 // first logical sector of the first FAT copy

	cacheSector uint32 // which FAT-relative sector is currently cached
	cacheValid  bool
	cacheData   []byte
	loaded      bitmap.Bitmap
	dirty       bitmap.Bitmap
}

// NewTable constructs a Table bound to the first FAT copy described by
// layout, reading/writing logical sectors through sectors.
func NewTable(sectors *block.SectorDevice, layout Layout) *Table {
	return &Table{
		sectors:   sectors,
		layout:    layout,
		fatLBA:    layout.FATStartSector,
		cacheData: make([]byte, layout.BytesPerSector),
		loaded:    bitmap.New(1),
		dirty:     bitmap.New(1),
	}
}

// entryByteOffset returns the FAT-relative byte offset of cluster's entry.
// For FAT12 this is the first of the two bytes the 12-bit entry spans; the
// odd/even nibble choice is made by extractFAT12/packFAT12.
func (t *Table) entryByteOffset(cluster uint32) uint32 {
	switch t.layout.Variant {
	case Variant12:
		return cluster + cluster/2
	case Variant16:
		return cluster * 2
	default:
		return cluster * 4
	}
}

func (t *Table) sectorOfOffset(offset uint32) uint32 {
	return offset / uint32(t.layout.BytesPerSector)
}

// loadSector demands FAT-relative logical sector sector into the cache,
// flushing first if the currently cached sector is dirty. Returns false if
// the load failed.
func (t *Table) loadSector(sector uint32) bool {
	if t.cacheValid && t.cacheSector == sector {
		return true
	}
	if t.cacheValid && bitmap.Get(t.dirty, 0) {
		if !t.flushCurrent() {
			return false
		}
	}
	if err := t.sectors.ReadSector(uint64(t.fatLBA+sector), t.cacheData); err != nil {
		t.cacheValid = false
		return false
	}
	t.cacheSector = sector
	t.cacheValid = true
	bitmap.Set(t.loaded, 0, true)
	bitmap.Set(t.dirty, 0, false)
	return true
}

func (t *Table) flushCurrent() bool {
	if !t.cacheValid || !bitmap.Get(t.dirty, 0) {
		return true
	}
	if err := t.sectors.WriteSector(uint64(t.fatLBA+t.cacheSector), t.cacheData); err != nil {
		return false
	}
	bitmap.Set(t.dirty, 0, false)
	return true
}

// Flush writes the cached FAT sector back if dirty.
func (t *Table) Flush() error {
	if !t.flushCurrent() {
		return nanoerr.New(nanoerr.ErrIOFailed)
	}
	return nil
}

func (t *Table) normalizeEOC(raw uint32) uint32 {
	switch t.layout.Variant {
	case Variant12:
		if raw >= 0x0FF8 {
			return eocSentinel
		}
	case Variant16:
		if raw >= 0xFFF8 {
			return eocSentinel
		}
	default:
		if raw >= 0x0FFFFFF8 {
			return eocSentinel
		}
	}
	return raw
}

func (t *Table) variantEOC() uint32 {
	switch t.layout.Variant {
	case Variant12:
		return 0x0FFF
	case Variant16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// Get returns cluster's FAT entry, normalized to eocSentinel if it denotes
// end-of-chain. Returns ioFailureSentinel if the backing sector could not
// be loaded; spec-conformant callers treat that as end-of-chain.
func (t *Table) Get(cluster uint32) uint32 {
	offset := t.entryByteOffset(cluster)
	sector := t.sectorOfOffset(offset)
	byteInSector := offset % uint32(t.layout.BytesPerSector)

	if !t.loadSector(sector) {
		return ioFailureSentinel
	}

	switch t.layout.Variant {
	case Variant12:
		// A 12-bit entry straddling the sector boundary needs both the
		// current sector's last byte and the next sector's first byte.
		if byteInSector == uint32(t.layout.BytesPerSector)-1 {
			lowByte := t.cacheData[byteInSector]
			if !t.loadSector(sector + 1) {
				return ioFailureSentinel
			}
			highByte := t.cacheData[0]
			raw := uint32(lowByte) | uint32(highByte)<<8
			return t.extractFAT12(cluster, raw)
		}
		raw := uint32(t.cacheData[byteInSector]) | uint32(t.cacheData[byteInSector+1])<<8
		return t.extractFAT12(cluster, raw)

	case Variant16:
		return t.normalizeEOC(uint32(binary.LittleEndian.Uint16(t.cacheData[byteInSector:])))

	default:
		raw := binary.LittleEndian.Uint32(t.cacheData[byteInSector:]) & 0x0FFFFFFF
		return t.normalizeEOC(raw)
	}
}

func (t *Table) extractFAT12(cluster, packed uint32) uint32 {
	if cluster%2 == 1 {
		return t.normalizeEOC(packed >> 4)
	}
	return t.normalizeEOC(packed & 0x0FFF)
}

// Set writes value into cluster's FAT entry and marks the cache dirty.
// Returns an error if the backing sector could not be loaded.
func (t *Table) Set(cluster, value uint32) error {
	offset := t.entryByteOffset(cluster)
	sector := t.sectorOfOffset(offset)
	byteInSector := offset % uint32(t.layout.BytesPerSector)

	if !t.loadSector(sector) {
		return nanoerr.New(nanoerr.ErrIOFailed)
	}

	switch t.layout.Variant {
	case Variant12:
		if byteInSector == uint32(t.layout.BytesPerSector)-1 {
			lowByte := t.cacheData[byteInSector]
			if !t.loadSector(sector + 1) {
				return nanoerr.New(nanoerr.ErrIOFailed)
			}
			highByte := t.cacheData[0]
			packed := t.packFAT12(cluster, uint32(lowByte)|uint32(highByte)<<8, value)
			t.cacheData[0] = byte(packed >> 8)
			bitmap.Set(t.dirty, 0, true)
			if !t.loadSector(sector) {
				return nanoerr.New(nanoerr.ErrIOFailed)
			}
			t.cacheData[byteInSector] = byte(packed)
			bitmap.Set(t.dirty, 0, true)
			return nil
		}
		packed := t.packFAT12(cluster, uint32(t.cacheData[byteInSector])|uint32(t.cacheData[byteInSector+1])<<8, value)
		t.cacheData[byteInSector] = byte(packed)
		t.cacheData[byteInSector+1] = byte(packed >> 8)

	case Variant16:
		binary.LittleEndian.PutUint16(t.cacheData[byteInSector:], uint16(value))

	default:
		old := binary.LittleEndian.Uint32(t.cacheData[byteInSector:])
		merged := (old & 0xF0000000) | (value & 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(t.cacheData[byteInSector:], merged)
	}

	bitmap.Set(t.dirty, 0, true)
	return nil
}

func (t *Table) packFAT12(cluster, current, value uint32) uint32 {
	if cluster%2 == 1 {
		return (current & 0x000F) | ((value & 0x0FFF) << 4)
	}
	return (current & 0xF000) | (value & 0x0FFF)
}

// Alloc linearly scans for the first free cluster (entry value 0), marks it
// end-of-chain, flushes the FAT cache, zeroes every sector of the new
// cluster's data, and returns its number. Returns 0 if the volume is full.
func (t *Table) Alloc() (uint32, error) {
	for c := uint32(2); c < t.layout.TotalClusters+2; c++ {
		entry := t.Get(c)
		if entry == ioFailureSentinel {
			return 0, nanoerr.New(nanoerr.ErrIOFailed)
		}
		if entry == 0 {
			if err := t.Set(c, t.variantEOC()); err != nil {
				return 0, err
			}
			if err := t.Flush(); err != nil {
				return 0, err
			}
			if err := t.zeroCluster(c); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, nil
}

func (t *Table) zeroCluster(cluster uint32) error {
	zero := make([]byte, t.layout.BytesPerSector)
	lba := t.layout.ClusterToSector(cluster)
	for i := 0; i < t.layout.SectorsPerCluster; i++ {
		if err := t.sectors.WriteSector(uint64(lba)+uint64(i), zero); err != nil {
			return nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "zero cluster %d: %s", cluster, err)
		}
	}
	return nil
}

// IsEndOfChain reports whether value (as returned by Get) denotes the end
// of a cluster chain.
func IsEndOfChain(value uint32) bool {
	return value >= eocSentinel
}

// IsFree reports whether value (as returned by Get) denotes a free cluster.
func IsFree(value uint32) bool {
	return value == 0
}
