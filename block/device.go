// Package block implements the lowest two layers of the storage stack: a
// PIO-style block device exposing fixed 512-byte sectors across up to four
// drives, and a sector adapter that re-expresses those as the filesystem's
// own logical sector size.
package block

import (
	"fmt"
	"io"

	"github.com/dargueta/nanofat/nanoerr"
)

// SectorSize is the fixed physical sector size every Device transfers in.
// Real ATA PIO hardware has no other unit; logical sizes above this are
// built up by SectorDevice.
const SectorSize = 512

// MaxDrives is the number of drive slots a Device exposes: two channels,
// each with a master and a slave, exactly as the ATA compatibility ports
// (0x1F0-0x1F7 primary, 0x170-0x177 secondary) address them.
const MaxDrives = 4

// PIO command bytes, carried here purely as documentation of the hardware
// contract a bare-metal backend would issue against the same Device
// interface; FileDevice below never sends them anywhere.
const (
	CommandReadPIO    = 0x20
	CommandWritePIO   = 0x30
	CommandCacheFlush = 0xE7
	CommandIdentify   = 0xEC
)

// PollTimeoutIterations bounds the busy-wait loop used while polling a
// drive's BSY/DRQ/ERR status bits on real hardware.
const PollTimeoutIterations = 100_000

// DriveInfo is what an IDENTIFY command reports about one drive slot.
type DriveInfo struct {
	Present      bool
	Model        string
	TotalSectors uint64
}

// Device is the block-level contract every higher layer is written
// against: read or write exactly Count 512-byte sectors starting at LBA on
// one of up to MaxDrives drives.
type Device interface {
	Identify(drive int) (DriveInfo, error)
	ReadSectors(drive int, lba uint64, count int, out []byte) error
	WriteSectors(drive int, lba uint64, count int, in []byte) error
}

// FileDevice backs each of the four drive slots with an io.ReadWriteSeeker
// (a real disk image file, or an in-memory buffer in tests), standing in
// for the ATA PIO transfer a bare-metal driver would perform port by port.
type FileDevice struct {
	drives [MaxDrives]io.ReadWriteSeeker
	models [MaxDrives]string
}

// NewFileDevice constructs a FileDevice with no drives attached.
func NewFileDevice() *FileDevice {
	return &FileDevice{}
}

// Attach installs backing, rw as drive index drive, and label model as the
// string an IDENTIFY on that slot will report.
func (d *FileDevice) Attach(drive int, rw io.ReadWriteSeeker, model string) error {
	if drive < 0 || drive >= MaxDrives {
		return nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "drive index %d out of range", drive)
	}
	d.drives[drive] = rw
	d.models[drive] = model
	return nil
}

func (d *FileDevice) Identify(drive int) (DriveInfo, error) {
	if drive < 0 || drive >= MaxDrives {
		return DriveInfo{}, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "drive index %d out of range", drive)
	}
	rw := d.drives[drive]
	if rw == nil {
		return DriveInfo{Present: false}, nil
	}

	size, err := rw.Seek(0, io.SeekEnd)
	if err != nil {
		return DriveInfo{}, nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "identify drive %d: %s", drive, err)
	}
	if _, err := rw.Seek(0, io.SeekStart); err != nil {
		return DriveInfo{}, nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "identify drive %d: %s", drive, err)
	}

	return DriveInfo{
		Present:      true,
		Model:        d.models[drive],
		TotalSectors: uint64(size) / SectorSize,
	}, nil
}

func (d *FileDevice) transfer(drive int, lba uint64, count int, buf []byte, write bool) error {
	if drive < 0 || drive >= MaxDrives {
		return nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "drive index %d out of range", drive)
	}
	rw := d.drives[drive]
	if rw == nil {
		return nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "drive %d not present", drive)
	}
	if len(buf) < count*SectorSize {
		return nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "buffer too small for %d sectors", count)
	}

	offset := int64(lba) * SectorSize
	if _, err := rw.Seek(offset, io.SeekStart); err != nil {
		return nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "seek to lba %d: %s", lba, err)
	}

	n := count * SectorSize
	var err error
	if write {
		_, err = rw.Write(buf[:n])
	} else {
		_, err = io.ReadFull(rw, buf[:n])
	}
	if err != nil {
		return nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "transfer at lba %d: %s", lba, err)
	}
	return nil
}

func (d *FileDevice) ReadSectors(drive int, lba uint64, count int, out []byte) error {
	return d.transfer(drive, lba, count, out, false)
}

func (d *FileDevice) WriteSectors(drive int, lba uint64, count int, in []byte) error {
	if err := d.transfer(drive, lba, count, in, true); err != nil {
		return err
	}
	// Real hardware issues CommandCacheFlush and polls for completion after
	// a WRITE_PIO data phase; FileDevice's backing writer has no cache to
	// flush, so this is a no-op kept only to document the step.
	return nil
}

var _ fmt.Stringer = DriveInfo{}

func (i DriveInfo) String() string {
	if !i.Present {
		return "(no drive)"
	}
	return fmt.Sprintf("%s (%d sectors)", i.Model, i.TotalSectors)
}
