package block

import (
	"github.com/dargueta/nanofat/nanoerr"
)

// SectorDevice exposes logical sectors of BytesPerSector on top of a raw
// Device, decomposing each logical transfer into bps/512 consecutive
// 512-byte transfers, the way a filesystem with a native sector size above
// the physical 512-byte unit is served on real hardware.
type SectorDevice struct {
	Device         Device
	Drive          int
	BytesPerSector int
}

// NewSectorDevice validates bytesPerSector against the set this module
// supports and returns a ready adapter.
func NewSectorDevice(dev Device, drive, bytesPerSector int) (*SectorDevice, error) {
	switch bytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "unsupported sector size %d", bytesPerSector)
	}
	return &SectorDevice{Device: dev, Drive: drive, BytesPerSector: bytesPerSector}, nil
}

func (s *SectorDevice) rawSectorsPerLogical() int {
	return s.BytesPerSector / SectorSize
}

// ReadSector reads exactly one logical sector at logical lba into out,
// which must be at least BytesPerSector bytes.
func (s *SectorDevice) ReadSector(lba uint64, out []byte) error {
	raw := s.rawSectorsPerLogical()
	return s.Device.ReadSectors(s.Drive, lba*uint64(raw), raw, out)
}

// WriteSector writes exactly one logical sector at logical lba from in,
// which must be at least BytesPerSector bytes.
func (s *SectorDevice) WriteSector(lba uint64, in []byte) error {
	raw := s.rawSectorsPerLogical()
	return s.Device.WriteSectors(s.Drive, lba*uint64(raw), raw, in)
}

// ReadSectors reads count consecutive logical sectors starting at lba.
func (s *SectorDevice) ReadSectors(lba uint64, count int, out []byte) error {
	raw := s.rawSectorsPerLogical()
	return s.Device.ReadSectors(s.Drive, lba*uint64(raw), raw*count, out)
}

// WriteSectors writes count consecutive logical sectors starting at lba.
func (s *SectorDevice) WriteSectors(lba uint64, count int, in []byte) error {
	raw := s.rawSectorsPerLogical()
	return s.Device.WriteSectors(s.Drive, lba*uint64(raw), raw*count, in)
}
