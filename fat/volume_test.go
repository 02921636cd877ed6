package fat

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVolume_MountDerivesFAT12Layout(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)
	require.Equal(t, Variant12, vol.Layout.Variant)
	require.Equal(t, "TESTVOL", strings.TrimSpace(vol.Layout.VolumeLabel))
	require.Equal(t, "/", vol.Pwd())
}

func TestVolume_TouchWriteReadHello(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)

	require.NoError(t, vol.Touch("hello.txt"))
	require.NoError(t, vol.Write("hello.txt", []byte("hello")))

	buf := make([]byte, 64)
	n, err := vol.Read("hello.txt", buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	data, err := vol.Cat("hello.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestVolume_TouchProducesEmptyFile(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)
	require.NoError(t, vol.Touch("empty.txt"))

	entry, err := vol.Stat("empty.txt")
	require.NoError(t, err)
	require.Zero(t, entry.Cluster)
	require.Zero(t, entry.Size)

	data, err := vol.Cat("empty.txt")
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestVolume_WriteMultiClusterChainLength(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)
	require.NoError(t, vol.Touch("big.bin"))

	clusterSize := vol.Layout.BytesPerCluster()
	payload := bytes.Repeat([]byte{0xAB}, clusterSize*3+1)
	require.NoError(t, vol.Write("big.bin", payload))

	entry, err := vol.Stat("big.bin")
	require.NoError(t, err)
	require.EqualValues(t, len(payload), entry.Size)

	chainLen := 0
	cluster := entry.Cluster
	for cluster != 0 && !IsEndOfChain(cluster) {
		chainLen++
		cluster = vol.table.Get(cluster)
	}
	require.Equal(t, 4, chainLen)

	data, err := vol.Cat("big.bin")
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestVolume_MkdirCdTouchLs(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)

	require.NoError(t, vol.Mkdir("sub"))
	require.NoError(t, vol.Cd("sub"))
	require.Equal(t, "/sub", vol.Pwd())

	require.NoError(t, vol.Touch("inner.txt"))

	entries, err := vol.Ls("")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "inner.txt", entries[0].Name)
	require.False(t, entries[0].IsDir)
}

func TestVolume_WriteThenRmClearsFATAndTombstones(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)

	require.NoError(t, vol.Touch("doomed.txt"))
	require.NoError(t, vol.Write("doomed.txt", bytes.Repeat([]byte{1}, vol.Layout.BytesPerCluster()+10)))

	entry, err := vol.Stat("doomed.txt")
	require.NoError(t, err)
	require.NotZero(t, entry.Cluster)

	firstCluster := entry.Cluster
	require.NoError(t, vol.Rm("doomed.txt"))

	require.True(t, IsFree(vol.table.Get(firstCluster)))

	_, ok, err := vol.dirs.Find(vol.Layout.RootCluster, "doomed.txt")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVolume_WriteIdempotentDoesNotLeakClusters(t *testing.T) {
	vol, _ := mountSyntheticVolume(t)
	require.NoError(t, vol.Touch("repeat.bin"))

	payload := bytes.Repeat([]byte{0x42}, vol.Layout.BytesPerCluster()*2)

	require.NoError(t, vol.Write("repeat.bin", payload))
	entryFirst, err := vol.Stat("repeat.bin")
	require.NoError(t, err)

	freeBefore := countFreeClusters(t, vol)

	require.NoError(t, vol.Write("repeat.bin", payload))
	entrySecond, err := vol.Stat("repeat.bin")
	require.NoError(t, err)

	freeAfter := countFreeClusters(t, vol)

	require.Equal(t, freeBefore, freeAfter, "re-writing the same size must not leak clusters")

	// Alloc's linear lowest-first scan means the freed chain is immediately
	// reclaimed, so the file lands back on the same first cluster.
	require.Equal(t, entryFirst.Cluster, entrySecond.Cluster)
}

func countFreeClusters(t *testing.T, vol *Volume) int {
	t.Helper()
	free := 0
	for c := uint32(2); c < vol.Layout.TotalClusters+2; c++ {
		if IsFree(vol.table.Get(c)) {
			free++
		}
	}
	return free
}
