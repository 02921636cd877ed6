// Package elf32 implements the ELF32/i386 program loader: validate, bounds
// check against the fixed load window, publish the syscall table, copy
// PT_LOAD segments, and dispatch to the entry point.
package elf32

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/noxer/bytewriter"
)

// MaxFileSize bounds how large an ELF image the loader will read into its
// transient load buffer.
const MaxFileSize = 512 * 1024

// Load window every PT_LOAD segment's [vaddr, vaddr+memsz) must fall
// within.
const (
	LoadWindowStart uint32 = 0x00110000
	LoadWindowEnd   uint32 = 0x00A00000
)

const (
	ptLoad      = 1
	etExec      = 2
	emI386      = 3
	elfClass32  = 1
	elfData2LSB = 1
)

// ErrorKind enumerates the loader's tagged failure modes.
type ErrorKind int

const (
	ErrNotELF ErrorKind = iota
	ErrNot32Bit
	ErrWrongEndianness
	ErrNotExecutable
	ErrWrongArch
	ErrNoSegments
	ErrLoadFailed
	ErrFileNotFound
	ErrFileRead
)

func (k ErrorKind) String() string {
	switch k {
	case ErrNotELF:
		return "not-elf"
	case ErrNot32Bit:
		return "not-32-bit"
	case ErrWrongEndianness:
		return "wrong-endianness"
	case ErrNotExecutable:
		return "not-executable"
	case ErrWrongArch:
		return "wrong-arch"
	case ErrNoSegments:
		return "no-segments"
	case ErrLoadFailed:
		return "load-failed"
	case ErrFileNotFound:
		return "file-not-found"
	case ErrFileRead:
		return "file-read"
	default:
		return "unknown"
	}
}

// LoadError is the tagged result every validation/load failure returns.
type LoadError struct {
	Kind  ErrorKind
	Start uint32 // attempted range, for ErrLoadFailed
	End   uint32
	Want  [2]uint32 // permitted window, for ErrLoadFailed
	Cause error
}

func (e *LoadError) Error() string {
	switch e.Kind {
	case ErrLoadFailed:
		return fmt.Sprintf(
			"load-failed: segment [0x%08X, 0x%08X) outside permitted window [0x%08X, 0x%08X)",
			e.Start, e.End, e.Want[0], e.Want[1],
		)
	case ErrFileNotFound, ErrFileRead:
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
		}
		return e.Kind.String()
	default:
		return e.Kind.String()
	}
}

func (e *LoadError) Unwrap() error { return e.Cause }

func fail(kind ErrorKind) error { return &LoadError{Kind: kind} }

type ehdr struct {
	Ident     [16]byte
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type phdr struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

// Image is a validated ELF32/i386 executable ready to be loaded.
type Image struct {
	header   ehdr
	segments []phdr
	raw      []byte
}

// Parse validates data as an ET_EXEC/EM_386/ELFCLASS32 image with at least
// one PT_LOAD segment, without touching any memory outside the buffer
// itself.
func Parse(data []byte) (*Image, error) {
	if len(data) > MaxFileSize {
		return nil, fail(ErrFileRead)
	}
	if len(data) < 52 || data[0] != 0x7F || data[1] != 'E' || data[2] != 'L' || data[3] != 'F' {
		return nil, fail(ErrNotELF)
	}
	if data[4] != elfClass32 {
		return nil, fail(ErrNot32Bit)
	}
	if data[5] != elfData2LSB {
		return nil, fail(ErrWrongEndianness)
	}

	var h ehdr
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &h); err != nil {
		return nil, fail(ErrNotELF)
	}
	if h.Type != etExec {
		return nil, fail(ErrNotExecutable)
	}
	if h.Machine != emI386 {
		return nil, fail(ErrWrongArch)
	}
	if h.Phnum < 1 {
		return nil, fail(ErrNoSegments)
	}

	var segments []phdr
	for i := 0; i < int(h.Phnum); i++ {
		off := int(h.Phoff) + i*int(h.Phentsize)
		if off+32 > len(data) {
			return nil, fail(ErrNoSegments)
		}
		var p phdr
		if err := binary.Read(bytes.NewReader(data[off:off+32]), binary.LittleEndian, &p); err != nil {
			return nil, fail(ErrNoSegments)
		}
		if p.Type == ptLoad {
			segments = append(segments, p)
		}
	}
	if len(segments) == 0 {
		return nil, fail(ErrNoSegments)
	}

	return &Image{header: h, segments: segments, raw: data}, nil
}

// EntryPoint is the validated image's declared entry virtual address.
func (img *Image) EntryPoint() uint32 { return img.header.Entry }

// CheckBounds verifies every PT_LOAD segment's [vaddr, vaddr+memsz) lies
// within the fixed load window, without copying anything. Callers must do
// this before Copy.
func (img *Image) CheckBounds() error {
	for _, seg := range img.segments {
		start := seg.Vaddr
		end := seg.Vaddr + seg.Memsz
		if start < LoadWindowStart || end > LoadWindowEnd || end < start {
			return &LoadError{
				Kind:  ErrLoadFailed,
				Start: start,
				End:   end,
				Want:  [2]uint32{LoadWindowStart, LoadWindowEnd},
			}
		}
	}
	return nil
}

// AddressSpace simulates the fixed physical load window a real loader
// would copy PT_LOAD segments into directly; Go has no portable way to
// address physical memory, so this is a plain buffer addressed the same
// way the real window is, and every write into it goes through
// bytewriter's bounds-enforced sequential writer rather than a raw pointer
// cast.
type AddressSpace struct {
	buf []byte // buf[i] corresponds to virtual address LoadWindowStart+i
}

// NewAddressSpace allocates a zeroed buffer spanning the entire load
// window.
func NewAddressSpace() *AddressSpace {
	return &AddressSpace{buf: make([]byte, LoadWindowEnd-LoadWindowStart)}
}

// At returns the backing slice for the window [vaddr, vaddr+size).
func (a *AddressSpace) At(vaddr, size uint32) []byte {
	start := vaddr - LoadWindowStart
	return a.buf[start : start+size]
}

// Copy writes each PT_LOAD segment's file bytes into the address space and
// zeroes its BSS tail. img.CheckBounds must have already succeeded.
func (img *Image) Copy(space *AddressSpace) error {
	for _, seg := range img.segments {
		if int(seg.Offset)+int(seg.Filesz) > len(img.raw) {
			return &LoadError{Kind: ErrLoadFailed, Start: seg.Vaddr, End: seg.Vaddr + seg.Memsz, Want: [2]uint32{LoadWindowStart, LoadWindowEnd}}
		}

		window := space.At(seg.Vaddr, seg.Memsz)
		w := bytewriter.New(window)
		if _, err := w.Write(img.raw[seg.Offset : seg.Offset+seg.Filesz]); err != nil {
			return &LoadError{Kind: ErrLoadFailed, Start: seg.Vaddr, End: seg.Vaddr + seg.Memsz, Want: [2]uint32{LoadWindowStart, LoadWindowEnd}, Cause: err}
		}
		for i := seg.Filesz; i < seg.Memsz; i++ {
			window[i] = 0
		}
	}
	return nil
}

// EntryFunc is the zero-argument, int-returning function a loaded
// program's entry point is cast to.
type EntryFunc func() int

// Loader runs the full state machine: read (via ReadFile), validate,
// bounds-check, publish syscalls (via Publish), copy, and dispatch.
type Loader struct {
	Space     *AddressSpace
	ReadFile  func(path string) ([]byte, error)
	Publish   func()
	MakeEntry func(entry uint32) EntryFunc
}

// Run executes the full load-and-launch sequence for path, returning the
// program's exit status.
func (l *Loader) Run(path string) (int, error) {
	data, err := l.ReadFile(path)
	if err != nil {
		return 0, &LoadError{Kind: ErrFileNotFound, Cause: err}
	}
	if len(data) > MaxFileSize {
		return 0, fail(ErrFileRead)
	}

	img, err := Parse(data)
	if err != nil {
		return 0, err
	}
	if err := img.CheckBounds(); err != nil {
		return 0, err
	}

	l.Publish()

	if err := img.Copy(l.Space); err != nil {
		return 0, err
	}

	entry := l.MakeEntry(img.EntryPoint())
	return entry(), nil
}
