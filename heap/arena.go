// Package heap implements the program heap: a fixed-size bump-allocated
// arena, reset at the start of every program launch. There is no free;
// memory is reclaimed only by resetting the whole arena.
package heap

import "github.com/dargueta/nanofat/nanoerr"

// DefaultSize is the arena size a launched program is guaranteed: roughly
// 1 MiB, matching the load window's heap allowance.
const DefaultSize = 1 << 20

// Arena is a bump allocator over a fixed backing buffer.
type Arena struct {
	data   []byte
	offset int
}

// NewArena constructs an Arena of the given size.
func NewArena(size int) *Arena {
	return &Arena{data: make([]byte, size)}
}

// Reset sets the bump offset back to zero, as happens at every program
// launch. The backing bytes are not cleared, so a slice returned by a later
// Alloc may still hold bytes written before the Reset.
func (a *Arena) Reset() {
	a.offset = 0
}

// Alloc reserves size bytes and returns a slice over them. Free is
// deliberately not provided: this allocator only grows until Reset.
func (a *Arena) Alloc(size int) ([]byte, error) {
	if size < 0 || a.offset+size > len(a.data) {
		return nil, nanoerr.New(nanoerr.ErrNoSpaceOnDevice)
	}
	start := a.offset
	a.offset += size
	return a.data[start:a.offset], nil
}

// Used returns the number of bytes allocated since the last Reset.
func (a *Arena) Used() int {
	return a.offset
}

// Capacity returns the arena's total size.
func (a *Arena) Capacity() int {
	return len(a.data)
}
