package fat

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/dargueta/nanofat/block"
)

// buildFAT12Image constructs a minimal, conformant FAT12 image: 40 logical
// sectors of 512 bytes, 1 reserved sector, a single 1-sector FAT, a
// 1-sector root directory (16 entries), and 37 one-sector clusters of data.
func buildFAT12Image(t *testing.T) []byte {
	t.Helper()

	const (
		totalSectors = 40
		bytesPerSect = 512
		rootEntries  = 16
	)

	image := make([]byte, totalSectors*bytesPerSect)

	var bpb rawBPB
	bpb.JmpBoot = [3]byte{0xEB, 0x3C, 0x90}
	copy(bpb.OEMName[:], "NANOFAT ")
	bpb.BytesPerSector = bytesPerSect
	bpb.SectorsPerCluster = 1
	bpb.ReservedSectors = 1
	bpb.NumFATs = 1
	bpb.RootEntryCount = rootEntries
	bpb.TotalSectors16 = totalSectors
	bpb.Media = 0xF8
	bpb.SectorsPerFAT16 = 1
	bpb.SectorsPerTrack = 18
	bpb.NumHeads = 2

	var ext rawFAT1216Extension
	ext.ExBootSignature = 0x29
	copy(ext.VolumeLabel[:], "TESTVOL    ")
	copy(ext.FileSystemType[:], "FAT12   ")

	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &bpb))
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &ext))
	copy(image[0:], buf.Bytes())

	return image
}

// mountSyntheticVolume builds a FAT12 image, mounts it, and returns the
// Volume plus the raw backing bytes for out-of-band inspection.
func mountSyntheticVolume(t *testing.T) (*Volume, []byte) {
	t.Helper()
	image := buildFAT12Image(t)

	dev := block.NewFileDevice()
	require.NoError(t, dev.Attach(0, bytesextra.NewReadWriteSeeker(image), "TEST"))

	vol := New(dev)
	require.NoError(t, vol.Mount(0))
	return vol, image
}
