package elf32

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildELFImage(t *testing.T, entry uint32, segs []phdr, body []byte) []byte {
	t.Helper()

	const ehdrSize = 52
	const phdrSize = 32
	phoff := uint32(ehdrSize)

	h := ehdr{
		Type:      etExec,
		Machine:   emI386,
		Version:   1,
		Entry:     entry,
		Phoff:     phoff,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     uint16(len(segs)),
	}
	h.Ident[0] = 0x7F
	h.Ident[1] = 'E'
	h.Ident[2] = 'L'
	h.Ident[3] = 'F'
	h.Ident[4] = elfClass32
	h.Ident[5] = elfData2LSB

	buf := &bytes.Buffer{}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, &h))
	for _, s := range segs {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, &s))
	}
	buf.Write(body)
	return buf.Bytes()
}

func TestParse_ConformingHeaderPasses(t *testing.T) {
	bodyOffset := uint32(52 + 32)
	segs := []phdr{
		{Type: ptLoad, Offset: bodyOffset, Vaddr: 0x00200000, Filesz: 4, Memsz: 8},
	}
	data := buildELFImage(t, 0x00200000, segs, []byte{1, 2, 3, 4})

	img, err := Parse(data)
	require.NoError(t, err)
	require.EqualValues(t, 0x00200000, img.EntryPoint())
}

func TestParse_RejectsNonELFMagic(t *testing.T) {
	_, err := Parse(make([]byte, 64))
	require.Error(t, err)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrNotELF, lerr.Kind)
}

func TestParse_RejectsWrongClass(t *testing.T) {
	data := make([]byte, 64)
	data[0], data[1], data[2], data[3] = 0x7F, 'E', 'L', 'F'
	data[4] = 2 // ELFCLASS64
	_, err := Parse(data)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrNot32Bit, lerr.Kind)
}

func TestParse_RejectsWrongEndianness(t *testing.T) {
	data := make([]byte, 64)
	data[0], data[1], data[2], data[3] = 0x7F, 'E', 'L', 'F'
	data[4] = elfClass32
	data[5] = 2 // ELFDATA2MSB
	_, err := Parse(data)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrWrongEndianness, lerr.Kind)
}

func TestParse_RejectsNonExecutableType(t *testing.T) {
	segs := []phdr{{Type: ptLoad, Offset: 84, Vaddr: 0x00200000, Filesz: 0, Memsz: 4}}
	data := buildELFImage(t, 0, segs, nil)
	// Flip ET_EXEC to ET_DYN (3) in place.
	binary.LittleEndian.PutUint16(data[16:], 3)

	_, err := Parse(data)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrNotExecutable, lerr.Kind)
}

func TestParse_RejectsWrongArch(t *testing.T) {
	segs := []phdr{{Type: ptLoad, Offset: 84, Vaddr: 0x00200000, Filesz: 0, Memsz: 4}}
	data := buildELFImage(t, 0, segs, nil)
	binary.LittleEndian.PutUint16(data[18:], 0x28) // EM_ARM

	_, err := Parse(data)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrWrongArch, lerr.Kind)
}

func TestParse_RejectsNoSegments(t *testing.T) {
	data := buildELFImage(t, 0, nil, nil)
	_, err := Parse(data)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrNoSegments, lerr.Kind)
}

// TestValidatorClosure checks the passing half of the closure property: a
// conforming header produces no validation error. Each tagged rejection is
// checked by its own TestParse_Rejects* test above.
func TestValidatorClosure(t *testing.T) {
	bodyOffset := uint32(52 + 32)
	conforming := buildELFImage(t, 0x00200000, []phdr{
		{Type: ptLoad, Offset: bodyOffset, Vaddr: 0x00200000, Filesz: 4, Memsz: 64},
	}, []byte{1, 2, 3, 4})

	_, err := Parse(conforming)
	require.NoError(t, err)
}

func TestCheckBounds_SegmentInsideWindowPasses(t *testing.T) {
	bodyOffset := uint32(52 + 32)
	segs := []phdr{{Type: ptLoad, Offset: bodyOffset, Vaddr: 0x00200000, Filesz: 64, Memsz: 128}}
	body := bytes.Repeat([]byte{0xAB}, 64)
	data := buildELFImage(t, 0x00200000, segs, body)

	img, err := Parse(data)
	require.NoError(t, err)
	require.NoError(t, img.CheckBounds())

	space := NewAddressSpace()
	require.NoError(t, img.Copy(space))

	window := space.At(0x00200000, 128)
	require.Equal(t, body, window[:64])
	require.Equal(t, make([]byte, 64), window[64:128])
}

func TestCheckBounds_SegmentBelowWindowFails(t *testing.T) {
	bodyOffset := uint32(52 + 32)
	segs := []phdr{{Type: ptLoad, Offset: bodyOffset, Vaddr: 0x00100000, Filesz: 0, Memsz: 4}}
	data := buildELFImage(t, 0x00100000, segs, nil)

	img, err := Parse(data)
	require.NoError(t, err)

	err = img.CheckBounds()
	require.Error(t, err)
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	require.Equal(t, ErrLoadFailed, lerr.Kind)
	require.Equal(t, "load-failed", lerr.Kind.String())
	require.Equal(t, uint32(0x00100000), lerr.Start)
	require.Equal(t, [2]uint32{LoadWindowStart, LoadWindowEnd}, lerr.Want)
}

func TestLoader_Run_EndToEndSuccess(t *testing.T) {
	bodyOffset := uint32(52 + 32)
	segs := []phdr{{Type: ptLoad, Offset: bodyOffset, Vaddr: 0x00200000, Filesz: 64, Memsz: 128}}
	body := bytes.Repeat([]byte{0x90}, 64)
	data := buildELFImage(t, 0x00200000, segs, body)

	published := false
	var capturedEntry uint32
	loader := &Loader{
		Space:    NewAddressSpace(),
		ReadFile: func(path string) ([]byte, error) { return data, nil },
		Publish:  func() { published = true },
		MakeEntry: func(entry uint32) EntryFunc {
			capturedEntry = entry
			return func() int { return 42 }
		},
	}

	status, err := loader.Run("/bin/prog")
	require.NoError(t, err)
	require.Equal(t, 42, status)
	require.True(t, published)
	require.EqualValues(t, 0x00200000, capturedEntry)
}

func TestLoader_Run_EndToEndLoadFailedOutsideWindow(t *testing.T) {
	bodyOffset := uint32(52 + 32)
	segs := []phdr{{Type: ptLoad, Offset: bodyOffset, Vaddr: 0x00100000, Filesz: 0, Memsz: 4}}
	data := buildELFImage(t, 0x00100000, segs, nil)

	loader := &Loader{
		Space:    NewAddressSpace(),
		ReadFile: func(path string) ([]byte, error) { return data, nil },
		Publish:  func() {},
		MakeEntry: func(entry uint32) EntryFunc {
			return func() int { return 0 }
		},
	}

	_, err := loader.Run("/bin/bad")
	require.Error(t, err)
	require.Contains(t, err.Error(), "load-failed")
}
