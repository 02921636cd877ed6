// Package syscalltable implements the fixed-address function-pointer ABI
// loaded programs use to reach the console, keyboard, filesystem, and heap:
// a magic number, a version, and a fixed-order sequence of function
// values, rebuilt immediately before every program launch.
package syscalltable

import (
	"github.com/dargueta/nanofat/console"
	"github.com/dargueta/nanofat/fat"
	"github.com/dargueta/nanofat/heap"
)

// Magic identifies a correctly-installed table; a loaded program is
// expected to check it (and Version) before making any call through the
// table.
const Magic uint32 = 0xA105C411

// Version is bumped whenever the field order or count below changes.
const Version uint32 = 1

// Table is the ABI surface published to a loaded program. Field order is
// part of the contract and must never change without bumping Version.
type Table struct {
	Magic   uint32
	Version uint32

	// Console.
	Print      func(s string)
	PrintColor func(s string, color console.Color)
	PutChar    func(c byte)
	Clear      func()

	// Keyboard / line input.
	GetChar  func() byte
	ReadLine func(buf []byte) int

	// Sleep / ticks.
	Sleep    func(ms uint32)
	GetTicks func() uint32

	// Cursor.
	GetCursor func() int
	SetCursor func(pos int)

	// Key polling.
	PollKey func() (key byte, ok bool)

	// Filesystem.
	FSRead  func(path string, buf []byte) (int, error)
	FSCat   func(path string) ([]byte, error)
	FSWrite func(path string, data []byte) error
	FSTouch func(path string) error
	FSMkdir func(path string) error
	FSRm    func(path string) error
	FSCd    func(path string) error
	FSLs    func(path string) ([]fat.LsEntry, error)

	// Heap.
	HeapAlloc func(size int) ([]byte, error)
}

// Clock is the tick source a table is built against; kept as an interface
// so tests can supply a deterministic one.
type Clock interface {
	Sleep(ms uint32)
	Ticks() uint32
}

// Keyboard is the line-input source a table is built against.
type Keyboard interface {
	GetChar() byte
	ReadLine(buf []byte) int
	PollKey() (key byte, ok bool)
}

// Build constructs a Table wired to sink, vol, arena, and kb. It does not
// install anything; Install does that.
func Build(sink console.Sink, vol *fat.Volume, arena *heap.Arena, clock Clock, kb Keyboard) *Table {
	return &Table{
		Magic:   Magic,
		Version: Version,

		Print:      sink.WriteString,
		PrintColor: sink.WriteStringColor,
		PutChar:    sink.WriteChar,
		Clear:      sink.Clear,

		GetChar:  kb.GetChar,
		ReadLine: kb.ReadLine,

		Sleep:    clock.Sleep,
		GetTicks: clock.Ticks,

		GetCursor: sink.Cursor,
		SetCursor: sink.SetCursor,

		PollKey: kb.PollKey,

		FSRead:  vol.Read,
		FSCat:   vol.Cat,
		FSWrite: vol.Write,
		FSTouch: vol.Touch,
		FSMkdir: vol.Mkdir,
		FSRm:    vol.Rm,
		FSCd:    vol.Cd,
		FSLs:    vol.Ls,

		HeapAlloc: arena.Alloc,
	}
}

// Installer holds the single, process-wide installed table, matching the
// "written only by the loader, read only by programs" ownership rule and
// the single-initialization-guard direction for this kind of global state.
type Installer struct {
	current *Table
	arena   *heap.Arena
}

func NewInstaller(arena *heap.Arena) *Installer {
	return &Installer{arena: arena}
}

// Install publishes table as the current syscall table and resets the
// heap's bump offset to zero, exactly as happens immediately before every
// program invocation.
func (in *Installer) Install(table *Table) {
	in.current = table
	in.arena.Reset()
}

// Current returns the currently installed table, or nil if none has been
// installed yet.
func (in *Installer) Current() *Table {
	return in.current
}
