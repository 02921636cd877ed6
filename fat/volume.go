// Package fat implements the FAT12/16/32 filesystem driver: BPB parsing,
// the FAT cluster-chain engine, the directory engine with long-filename
// support, a path resolver, and the file operations built on top of them.
package fat

import (
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/dargueta/nanofat/block"
	"github.com/dargueta/nanofat/nanoerr"
)

// Volume is the mutable, process-wide state of the single mounted
// filesystem: one at a time, exactly as this family of drivers is used on
// a system with no multi-tasking. It owns the FAT cache, the directory
// engine, and the current navigation state, and is passed explicitly
// rather than hidden behind package-level globals.
type Volume struct {
	device Device
	drive  int

	sectors *block.SectorDevice
	Layout  Layout
	table   *Table
	dirs    *Directory

	currentCluster uint32
	currentPath    string
	mounted        bool
}

// Device is the subset of block.Device a Volume needs to mount.
type Device = block.Device

// New constructs an unmounted Volume over dev.
func New(dev Device) *Volume {
	return &Volume{device: dev}
}

// Mount reads the BPB from drive's LBA 0, validates it, derives the
// volume's layout, and resets navigation state to the root. Mounting a
// second volume implicitly unmounts the first.
func (v *Volume) Mount(drive int) error {
	if v.mounted {
		if err := v.Unmount(); err != nil {
			return err
		}
	}

	sectors, err := block.NewSectorDevice(v.device, drive, 512)
	if err != nil {
		return err
	}
	// The BPB always declares its own (possibly larger) sector size; read
	// the first 512 bytes to learn it, then re-open at the true size.
	probe := make([]byte, 512)
	if err := sectors.ReadSector(0, probe); err != nil {
		return nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "read boot sector: %s", err)
	}

	layout, err := ParseBPB(sectorReaderFromBytes(probe))
	if err != nil {
		return err
	}

	if layout.BytesPerSector != 512 {
		sectors, err = block.NewSectorDevice(v.device, drive, layout.BytesPerSector)
		if err != nil {
			return err
		}
		full := make([]byte, layout.BytesPerSector)
		if err := sectors.ReadSector(0, full); err != nil {
			return nanoerr.NewWithMessage(nanoerr.ErrIOFailed, "read boot sector: %s", err)
		}
		layout, err = ParseBPB(sectorReaderFromBytes(full))
		if err != nil {
			return err
		}
	}

	v.drive = drive
	v.sectors = sectors
	v.Layout = layout
	v.table = NewTable(sectors, layout)
	v.dirs = NewDirectory(sectors, v.table, layout)
	v.currentCluster = rootClusterOf(layout)
	v.currentPath = "/"
	v.mounted = true
	return nil
}

// Unmount flushes the FAT cache if dirty and clears volume state.
func (v *Volume) Unmount() error {
	if !v.mounted {
		return nil
	}
	err := v.table.Flush()
	v.mounted = false
	v.sectors = nil
	v.table = nil
	v.dirs = nil
	v.currentCluster = 0
	v.currentPath = ""
	return err
}

func (v *Volume) requireMounted() error {
	if !v.mounted {
		return nanoerr.NewWithMessage(nanoerr.ErrInvalidArgument, "no volume mounted")
	}
	return nil
}

// Pwd returns the current working path, tracked verbatim as set by Cd
// rather than re-derived from the cluster chain.
func (v *Volume) Pwd() string {
	return v.currentPath
}

// Cd changes the current working directory. An absolute path (starting
// with "/") replaces currentPath verbatim, without normalizing "."/".."
// segments within it; "cd .." strips the last path segment.
func (v *Volume) Cd(path string) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	if path == "/" {
		v.currentCluster = rootClusterOf(v.Layout)
		v.currentPath = "/"
		return nil
	}

	entry, _, err := ResolvePath(v.dirs, v.Layout, v.currentCluster, path)
	if err != nil {
		return err
	}
	if !entry.IsDir() {
		return nanoerr.New(nanoerr.ErrNotADirectory)
	}

	v.currentCluster = entry.Cluster
	if path == ".." {
		idx := strings.LastIndex(strings.TrimRight(v.currentPath, "/"), "/")
		if idx <= 0 {
			v.currentPath = "/"
		} else {
			v.currentPath = v.currentPath[:idx]
		}
	} else if strings.HasPrefix(path, "/") {
		v.currentPath = path
	} else if v.currentPath == "/" {
		v.currentPath = "/" + path
	} else {
		v.currentPath = v.currentPath + "/" + path
	}
	return nil
}

// LsEntry is one line of `ls` output.
type LsEntry struct {
	Name  string
	IsDir bool
	Size  uint32
}

// Ls lists path (or the current directory if empty), skipping "." and "..".
func (v *Volume) Ls(path string) ([]LsEntry, error) {
	if err := v.requireMounted(); err != nil {
		return nil, err
	}
	cluster, err := v.resolveDirCluster(path)
	if err != nil {
		return nil, err
	}
	raw, err := v.dirs.ReadEntries(cluster)
	if err != nil {
		return nil, err
	}

	out := make([]LsEntry, 0, len(raw))
	for _, e := range raw {
		if e.ShortName == "." || e.ShortName == ".." {
			continue
		}
		if e.Attr&AttrVolumeID != 0 {
			continue
		}
		out = append(out, LsEntry{Name: e.Name(), IsDir: e.IsDir(), Size: e.Size})
	}
	return out, nil
}

func (v *Volume) resolveDirCluster(path string) (uint32, error) {
	if path == "" || path == "." {
		return v.currentCluster, nil
	}
	entry, _, err := ResolvePath(v.dirs, v.Layout, v.currentCluster, path)
	if err != nil {
		return 0, err
	}
	if !entry.IsDir() {
		return 0, nanoerr.New(nanoerr.ErrNotADirectory)
	}
	return entry.Cluster, nil
}

// readChain reads up to max bytes of a file's cluster chain starting at
// firstCluster, capped at size, into a newly allocated buffer.
func (v *Volume) readChain(firstCluster, size, max uint32) ([]byte, error) {
	if firstCluster == 0 || size == 0 {
		return nil, nil
	}
	toRead := size
	if max < toRead {
		toRead = max
	}

	out := make([]byte, 0, toRead)
	cluster := firstCluster
	bytesPerCluster := uint32(v.Layout.BytesPerCluster())
	buf := make([]byte, v.Layout.BytesPerSector)

	for uint32(len(out)) < toRead {
		lba := v.Layout.ClusterToSector(cluster)
		for i := 0; i < v.Layout.SectorsPerCluster && uint32(len(out)) < toRead; i++ {
			if err := v.sectors.ReadSector(uint64(lba)+uint64(i), buf); err != nil {
				return nil, nanoerr.New(nanoerr.ErrIOFailed)
			}
			remaining := toRead - uint32(len(out))
			n := uint32(len(buf))
			if remaining < n {
				n = remaining
			}
			out = append(out, buf[:n]...)
		}
		_ = bytesPerCluster
		next := v.table.Get(cluster)
		if IsEndOfChain(next) || next == ioFailureSentinel {
			break
		}
		cluster = next
	}
	return out, nil
}

// Read fills buf with up to len(buf) bytes of path's contents, returning
// the number of bytes actually read.
func (v *Volume) Read(path string, buf []byte) (int, error) {
	if err := v.requireMounted(); err != nil {
		return 0, err
	}
	entry, _, err := ResolvePath(v.dirs, v.Layout, v.currentCluster, path)
	if err != nil {
		return 0, err
	}
	if entry.IsDir() {
		return 0, nanoerr.New(nanoerr.ErrIsADirectory)
	}
	data, err := v.readChain(entry.Cluster, entry.Size, uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	return copy(buf, data), nil
}

// Cat returns the full contents of path.
func (v *Volume) Cat(path string) ([]byte, error) {
	if err := v.requireMounted(); err != nil {
		return nil, err
	}
	entry, _, err := ResolvePath(v.dirs, v.Layout, v.currentCluster, path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, nanoerr.New(nanoerr.ErrIsADirectory)
	}
	return v.readChain(entry.Cluster, entry.Size, entry.Size)
}

// Touch creates an empty file at path if it does not exist; if a file
// already exists there, it is a no-op success. Fails if a directory with
// that name exists.
func (v *Volume) Touch(path string) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	parentPath, leaf := SplitParentLeaf(path)
	if !IsValidName(leaf) {
		return nanoerr.New(nanoerr.ErrInvalidArgument)
	}

	parentCluster, err := v.resolveParentCluster(parentPath)
	if err != nil {
		return err
	}

	existing, ok, err := v.dirs.Find(parentCluster, leaf)
	if err != nil {
		return err
	}
	if ok {
		if existing.IsDir() {
			return nanoerr.New(nanoerr.ErrIsADirectory)
		}
		return nil
	}

	return v.dirs.InsertShortEntry(parentCluster, leaf, AttrArchive, 0, 0)
}

func (v *Volume) resolveParentCluster(parentPath string) (uint32, error) {
	if parentPath == "" || parentPath == "." {
		return v.currentCluster, nil
	}
	if parentPath == "/" {
		return rootClusterOf(v.Layout), nil
	}
	entry, _, err := ResolvePath(v.dirs, v.Layout, v.currentCluster, parentPath)
	if err != nil {
		return 0, err
	}
	if !entry.IsDir() {
		return 0, nanoerr.New(nanoerr.ErrNotADirectory)
	}
	return entry.Cluster, nil
}

// freeChain sets every cluster in the chain starting at first to 0.
func (v *Volume) freeChain(first uint32) error {
	cluster := first
	for cluster != 0 && !IsEndOfChain(cluster) {
		next := v.table.Get(cluster)
		if err := v.table.Set(cluster, 0); err != nil {
			return err
		}
		if next == ioFailureSentinel {
			break
		}
		cluster = next
	}
	return v.table.Flush()
}

// Write replaces path's contents with data, creating the file if needed.
// On allocation failure partway through, clusters written so far are
// unwound and, if the file was created by this call, its directory entry
// is removed.
func (v *Volume) Write(path string, data []byte) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	parentPath, leaf := SplitParentLeaf(path)
	if !IsValidName(leaf) {
		return nanoerr.New(nanoerr.ErrInvalidArgument)
	}
	parentCluster, err := v.resolveParentCluster(parentPath)
	if err != nil {
		return err
	}

	existing, ok, err := v.dirs.Find(parentCluster, leaf)
	createdHere := false
	if err != nil {
		return err
	}
	if ok && existing.IsDir() {
		return nanoerr.New(nanoerr.ErrIsADirectory)
	}
	if !ok {
		if err := v.dirs.InsertShortEntry(parentCluster, leaf, AttrArchive, 0, 0); err != nil {
			return err
		}
		createdHere = true
		existing, _, err = v.dirs.Find(parentCluster, leaf)
		if err != nil {
			return err
		}
	}

	if existing.Cluster != 0 {
		if err := v.freeChain(existing.Cluster); err != nil {
			return err
		}
	}

	if len(data) == 0 {
		return v.dirs.PatchShortEntry(parentCluster, existing.ShortKey, 0, 0)
	}

	firstCluster, werr := v.writeClusterChain(data)
	if werr != nil {
		if createdHere {
			_ = v.dirs.EraseShortEntry(parentCluster, existing.ShortKey)
		}
		return werr
	}

	return v.dirs.PatchShortEntry(parentCluster, existing.ShortKey, firstCluster, uint32(len(data)))
}

// writeClusterChain allocates and links clusters to hold data, writing it
// sectorsPerCluster-sized chunks at a time and zero-padding the last
// cluster. On allocation failure, the partial chain built so far is
// unwound before returning.
func (v *Volume) writeClusterChain(data []byte) (uint32, error) {
	bytesPerCluster := v.Layout.BytesPerCluster()
	var first, prev uint32
	pos := 0

	unwind := func() {
		if first != 0 {
			_ = v.freeChain(first)
		}
	}

	for pos < len(data) {
		cluster, err := v.table.Alloc()
		if err != nil {
			unwind()
			return 0, err
		}
		if cluster == 0 {
			unwind()
			return 0, nanoerr.New(nanoerr.ErrNoSpaceOnDevice)
		}
		if first == 0 {
			first = cluster
		} else {
			if err := v.table.Set(prev, cluster); err != nil {
				unwind()
				return 0, err
			}
		}
		prev = cluster

		chunk := make([]byte, bytesPerCluster)
		end := pos + bytesPerCluster
		if end > len(data) {
			end = len(data)
		}
		copy(chunk, data[pos:end])
		pos = end

		lba := v.Layout.ClusterToSector(cluster)
		for i := 0; i < v.Layout.SectorsPerCluster; i++ {
			sectorStart := i * v.Layout.BytesPerSector
			sectorEnd := sectorStart + v.Layout.BytesPerSector
			if sectorEnd > len(chunk) {
				sectorEnd = len(chunk)
			}
			sectorBuf := make([]byte, v.Layout.BytesPerSector)
			copy(sectorBuf, chunk[sectorStart:sectorEnd])
			if err := v.sectors.WriteSector(uint64(lba)+uint64(i), sectorBuf); err != nil {
				unwind()
				return 0, nanoerr.New(nanoerr.ErrIOFailed)
			}
		}
	}

	if err := v.table.Flush(); err != nil {
		unwind()
		return 0, err
	}
	return first, nil
}

// Mkdir creates a new directory at path, with "." and ".." entries
// pre-populated.
func (v *Volume) Mkdir(path string) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	parentPath, leaf := SplitParentLeaf(path)
	if !IsValidName(leaf) {
		return nanoerr.New(nanoerr.ErrInvalidArgument)
	}
	parentCluster, err := v.resolveParentCluster(parentPath)
	if err != nil {
		return err
	}

	if _, ok, err := v.dirs.Find(parentCluster, leaf); err != nil {
		return err
	} else if ok {
		return nanoerr.New(nanoerr.ErrExists)
	}

	newCluster, err := v.table.Alloc()
	if err != nil {
		return err
	}
	if newCluster == 0 {
		return nanoerr.New(nanoerr.ErrNoSpaceOnDevice)
	}
	if err := v.dirs.InitDotEntries(newCluster, parentCluster); err != nil {
		_ = v.table.Set(newCluster, 0)
		_ = v.table.Flush()
		return err
	}

	if err := v.dirs.InsertShortEntry(parentCluster, leaf, AttrDirectory, newCluster, 0); err != nil {
		_ = v.table.Set(newCluster, 0)
		_ = v.table.Flush()
		return err
	}
	return nil
}

// Rm resolves path, releases its cluster chain, and tombstones its short
// entry. LFN slots preceding it are left intact on disk.
func (v *Volume) Rm(path string) error {
	if err := v.requireMounted(); err != nil {
		return err
	}
	parentPath, leaf := SplitParentLeaf(path)
	parentCluster, err := v.resolveParentCluster(parentPath)
	if err != nil {
		return err
	}

	entry, ok, err := v.dirs.Find(parentCluster, leaf)
	if err != nil {
		return err
	}
	if !ok {
		return nanoerr.New(nanoerr.ErrNotFound)
	}

	var merr *multierror.Error
	if entry.Cluster != 0 {
		if err := v.freeChain(entry.Cluster); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if err := v.dirs.EraseShortEntry(parentCluster, entry.ShortKey); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// Stat returns the resolved directory entry for path.
func (v *Volume) Stat(path string) (Dirent, error) {
	if err := v.requireMounted(); err != nil {
		return Dirent{}, err
	}
	entry, _, err := ResolvePath(v.dirs, v.Layout, v.currentCluster, path)
	return entry, err
}

// Exists reports whether path resolves to an entry.
func (v *Volume) Exists(path string) bool {
	_, err := v.Stat(path)
	return err == nil
}

// IsDir reports whether path resolves to a directory.
func (v *Volume) IsDir(path string) bool {
	entry, err := v.Stat(path)
	return err == nil && entry.IsDir()
}

// FSStat summarizes the mounted volume: type, label, and geometry.
type FSStat struct {
	Variant           Variant
	Label             string
	BytesPerSector    int
	SectorsPerCluster int
	TotalClusters     uint32
}

// FSStat reports volume-wide geometry and label.
func (v *Volume) FSStat() (FSStat, error) {
	if err := v.requireMounted(); err != nil {
		return FSStat{}, err
	}
	return FSStat{
		Variant:           v.Layout.Variant,
		Label:             v.Layout.VolumeLabel,
		BytesPerSector:    v.Layout.BytesPerSector,
		SectorsPerCluster: v.Layout.SectorsPerCluster,
		TotalClusters:     v.Layout.TotalClusters,
	}, nil
}
