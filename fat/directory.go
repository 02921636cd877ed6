package fat

import (
	"strings"

	"github.com/dargueta/nanofat/block"
	"github.com/dargueta/nanofat/nanoerr"
)

// Directory implements enumeration, slot allocation, insertion, and erase
// over either the fixed FAT12/16 root region or a regular cluster-chain
// directory, presenting both through the same sector-walking logic.
type Directory struct {
	sectors *block.SectorDevice
	table   *Table
	layout  Layout
}

func NewDirectory(sectors *block.SectorDevice, table *Table, layout Layout) *Directory {
	return &Directory{sectors: sectors, table: table, layout: layout}
}

func (d *Directory) entriesPerSector() int {
	return d.layout.BytesPerSector / direntSize
}

// isFixedRoot reports whether dirCluster addresses the FAT12/16 fixed root
// region rather than a regular cluster chain.
func (d *Directory) isFixedRoot(dirCluster uint32) bool {
	return dirCluster == 0 && d.layout.Variant != Variant32
}

// forEachSector walks every logical sector belonging to dirCluster in
// order, calling fn(lba). If fn returns stop=true, iteration ends early
// without error. For a cluster-chain directory, if extend is true and the
// chain runs out without fn stopping, a new zeroed cluster is allocated and
// linked, and iteration continues into it.
func (d *Directory) forEachSector(dirCluster uint32, extend bool, fn func(lba uint32) (stop bool, err error)) error {
	if d.isFixedRoot(dirCluster) {
		for i := uint32(0); i < d.layout.RootDirSectors; i++ {
			stop, err := fn(d.layout.RootDirSector + i)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		if extend {
			return nanoerr.NewWithMessage(nanoerr.ErrNoSpaceOnDevice, "root directory is full")
		}
		return nil
	}

	cluster := dirCluster
	for {
		base := d.layout.ClusterToSector(cluster)
		for i := 0; i < d.layout.SectorsPerCluster; i++ {
			stop, err := fn(base + uint32(i))
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}

		next := d.table.Get(cluster)
		if IsEndOfChain(next) || next == ioFailureSentinel {
			if !extend {
				return nil
			}
			newCluster, err := d.table.Alloc()
			if err != nil {
				return err
			}
			if newCluster == 0 {
				return nanoerr.New(nanoerr.ErrNoSpaceOnDevice)
			}
			if err := d.table.Set(cluster, newCluster); err != nil {
				return err
			}
			if err := d.table.Flush(); err != nil {
				return err
			}
			cluster = newCluster
			continue
		}
		cluster = next
	}
}

// rawEntryAt reads the single 32-byte entry at (lba, index) within a
// logical sector.
func (d *Directory) rawEntryAt(lba uint32, index int) (rawDirent, error) {
	sectorBuf := make([]byte, d.layout.BytesPerSector)
	if err := d.sectors.ReadSector(uint64(lba), sectorBuf); err != nil {
		return rawDirent{}, nanoerr.New(nanoerr.ErrIOFailed)
	}
	off := index * direntSize
	return unpackDirent(sectorBuf[off : off+direntSize])
}

func (d *Directory) writeRawEntryAt(lba uint32, index int, raw []byte) error {
	sectorBuf := make([]byte, d.layout.BytesPerSector)
	if err := d.sectors.ReadSector(uint64(lba), sectorBuf); err != nil {
		return nanoerr.New(nanoerr.ErrIOFailed)
	}
	off := index * direntSize
	copy(sectorBuf[off:off+direntSize], raw)
	if err := d.sectors.WriteSector(uint64(lba), sectorBuf); err != nil {
		return nanoerr.New(nanoerr.ErrIOFailed)
	}
	return nil
}

// ReadEntries enumerates every live entry in dirCluster, reconstructing
// long names from preceding LFN runs and stopping at the first free
// (0x00) entry.
func (d *Directory) ReadEntries(dirCluster uint32) ([]Dirent, error) {
	var entries []Dirent
	var lfnUnits []uint16
	var lfnChecksumWant uint8
	var haveLFN bool

	err := d.forEachSector(dirCluster, false, func(lba uint32) (bool, error) {
		for i := 0; i < d.entriesPerSector(); i++ {
			raw, err := d.rawEntryAt(lba, i)
			if err != nil {
				return false, err
			}

			if raw.isFree() {
				return true, nil // logical end of directory
			}
			if raw.isErased() {
				lfnUnits = nil
				haveLFN = false
				continue
			}
			if raw.isLongName() {
				slot, err := unpackLFNSlotFromRaw(raw)
				if err != nil {
					return false, err
				}
				ordinal := int(slot.Order & lfnOrderMask)
				if slot.Order&lfnOrderFinal != 0 {
					lfnUnits = make([]uint16, ordinal*lfnCharsPerSlot)
					lfnChecksumWant = slot.Checksum
					haveLFN = true
				}
				if haveLFN && ordinal >= 1 {
					units := slot.codeUnits()
					start := (ordinal - 1) * lfnCharsPerSlot
					if start+lfnCharsPerSlot <= len(lfnUnits) {
						copy(lfnUnits[start:start+lfnCharsPerSlot], units[:])
					}
				}
				continue
			}
			if raw.isVolumeID() {
				lfnUnits = nil
				haveLFN = false
				continue
			}

			entry := Dirent{
				ShortName: raw.shortName(),
				ShortKey:  raw.shortNameKey(),
				Attr:      raw.AttributeFlags,
				Cluster:   raw.cluster(),
				Size:      raw.FileSize,
			}
			if haveLFN && lfnChecksum(raw.shortNameKey()) == lfnChecksumWant {
				entry.LongName = decodeLFNName(lfnUnits)
			}
			lfnUnits = nil
			haveLFN = false

			entries = append(entries, entry)
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// dirent reconstruction of an LFN raw entry from a generic rawDirent view
// (both share the same 32-byte shape; this re-decodes the original bytes).
func unpackLFNSlotFromRaw(raw rawDirent) (rawLFNSlot, error) {
	packed := raw.pack()
	return unpackLFNSlot(packed)
}

// Find looks up name case-insensitively against both short and long names
// in dirCluster.
func (d *Directory) Find(dirCluster uint32, name string) (Dirent, bool, error) {
	entries, err := d.ReadEntries(dirCluster)
	if err != nil {
		return Dirent{}, false, err
	}
	upperTarget := strings.ToUpper(name)
	for _, e := range entries {
		if strings.ToUpper(e.ShortName) == upperTarget {
			return e, true, nil
		}
		if e.LongName != "" && strings.ToUpper(e.LongName) == upperTarget {
			return e, true, nil
		}
	}
	return Dirent{}, false, nil
}

// FindEmptyEntries scans dirCluster for `count` consecutive entries whose
// first byte is free or erased, extending a non-root chain with a new
// cluster if none is found. Returns the logical sector and index of the
// first free slot in the run.
func (d *Directory) FindEmptyEntries(dirCluster uint32, count int) (uint32, int, error) {
	type pos struct {
		lba   uint32
		index int
	}
	var run []pos
	var foundLBA uint32
	var foundIndex int
	found := false

	err := d.forEachSector(dirCluster, !d.isFixedRoot(dirCluster), func(lba uint32) (bool, error) {
		for i := 0; i < d.entriesPerSector(); i++ {
			raw, err := d.rawEntryAt(lba, i)
			if err != nil {
				return false, err
			}
			if raw.isFree() || raw.isErased() {
				run = append(run, pos{lba, i})
				if len(run) == count {
					foundLBA = run[0].lba
					foundIndex = run[0].index
					found = true
					return true, nil
				}
			} else {
				run = run[:0]
			}
		}
		return false, nil
	})
	if err != nil {
		return 0, 0, err
	}
	if !found {
		return 0, 0, nanoerr.New(nanoerr.ErrNoSpaceOnDevice)
	}
	return foundLBA, foundIndex, nil
}

// writeSequential writes entries (each direntSize bytes) starting at
// (startLBA, startIndex), advancing to the next sector (and, for a
// cluster-chain directory, the next cluster) as slots fill up. The run
// must have already been reserved by FindEmptyEntries.
func (d *Directory) writeSequential(dirCluster, startLBA uint32, startIndex int, blobs [][]byte) error {
	perSector := d.entriesPerSector()
	lba := startLBA
	index := startIndex

	for _, blob := range blobs {
		if index == perSector {
			index = 0
			lba++
			spc := uint32(d.layout.SectorsPerCluster)
			if !d.isFixedRoot(dirCluster) && (lba-d.layout.DataStartSector)%spc == 0 {
				cluster := (lba-1-d.layout.DataStartSector)/spc + 2
				next := d.table.Get(cluster)
				if IsEndOfChain(next) || next == ioFailureSentinel {
					return nanoerr.New(nanoerr.ErrIOFailed)
				}
				lba = d.layout.ClusterToSector(next)
			}
		}
		if err := d.writeRawEntryAt(lba, index, blob); err != nil {
			return err
		}
		index++
	}
	return nil
}

// InsertShortEntry writes a short directory entry for name into dirCluster,
// preceded by LFN slots if needsLFN(name) is true. It returns only an
// error; the sector/index the short entry was committed at is not reported.
func (d *Directory) InsertShortEntry(dirCluster uint32, name string, attr uint8, cluster, size uint32) error {
	nameField, extField := deriveShortName(name)
	shortKey := append(append([]byte{}, nameField[:]...), extField[:]...)
	var key11 [11]byte
	copy(key11[:], shortKey)

	entry := rawDirent{
		Name:           nameField,
		Extension:      extField,
		AttributeFlags: attr,
	}
	entry.setCluster(cluster)
	entry.FileSize = size

	var blobs [][]byte
	if needsLFN(name) {
		checksum := lfnChecksum(key11)
		slots := buildLFNSlots(name, checksum)
		for _, s := range slots {
			blobs = append(blobs, s.pack())
		}
	}
	blobs = append(blobs, entry.pack())

	lba, index, err := d.FindEmptyEntries(dirCluster, len(blobs))
	if err != nil {
		return err
	}
	return d.writeSequential(dirCluster, lba, index, blobs)
}

// EraseShortEntry finds the short entry matching shortKey in dirCluster and
// tombstones it (sets its first byte to 0xE5). Any LFN slots that preceded
// it are deliberately left untouched on disk.
func (d *Directory) EraseShortEntry(dirCluster uint32, shortKey [11]byte) error {
	found := false
	err := d.forEachSector(dirCluster, false, func(lba uint32) (bool, error) {
		for i := 0; i < d.entriesPerSector(); i++ {
			raw, err := d.rawEntryAt(lba, i)
			if err != nil {
				return false, err
			}
			if raw.isFree() {
				return true, nil
			}
			if raw.isErased() || raw.isLongName() || raw.isVolumeID() {
				continue
			}
			if raw.shortNameKey() == shortKey {
				raw.Name[0] = direntErasedTag
				if err := d.writeRawEntryAt(lba, i, raw.pack()); err != nil {
					return false, err
				}
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return nanoerr.New(nanoerr.ErrNotFound)
	}
	return nil
}

// PatchShortEntry rewrites the cluster and size fields of the short entry
// matching shortKey in dirCluster.
func (d *Directory) PatchShortEntry(dirCluster uint32, shortKey [11]byte, cluster, size uint32) error {
	found := false
	err := d.forEachSector(dirCluster, false, func(lba uint32) (bool, error) {
		for i := 0; i < d.entriesPerSector(); i++ {
			raw, err := d.rawEntryAt(lba, i)
			if err != nil {
				return false, err
			}
			if raw.isFree() {
				return true, nil
			}
			if raw.isErased() || raw.isLongName() || raw.isVolumeID() {
				continue
			}
			if raw.shortNameKey() == shortKey {
				raw.setCluster(cluster)
				raw.FileSize = size
				if err := d.writeRawEntryAt(lba, i, raw.pack()); err != nil {
					return false, err
				}
				found = true
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return err
	}
	if !found {
		return nanoerr.New(nanoerr.ErrNotFound)
	}
	return nil
}

// InitDotEntries writes "." and ".." as the first two entries of a freshly
// allocated directory cluster.
func (d *Directory) InitDotEntries(newCluster, parentCluster uint32) error {
	lba := d.layout.ClusterToSector(newCluster)

	dot := rawDirent{AttributeFlags: AttrDirectory}
	dot.Name = [8]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
	dot.Extension = [3]byte{' ', ' ', ' '}
	dot.setCluster(newCluster)

	dotdot := rawDirent{AttributeFlags: AttrDirectory}
	dotdot.Name = [8]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' '}
	dotdot.Extension = [3]byte{' ', ' ', ' '}
	dotdot.setCluster(parentCluster)

	if err := d.writeRawEntryAt(lba, 0, dot.pack()); err != nil {
		return err
	}
	return d.writeRawEntryAt(lba, 1, dotdot.pack())
}
