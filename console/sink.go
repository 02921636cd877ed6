// Package console defines the text-output contract every other package in
// this module writes diagnostics and program output through, and a couple
// of concrete sinks (an in-memory buffer for tests, a terminal writer for
// the CLI).
package console

import (
	"fmt"
	"io"
	"strings"
)

// Color packs a 4-bit foreground and 4-bit background nibble the way a VGA
// text-mode attribute byte does, even though no sink here renders actual
// color.
type Color uint8

func NewColor(foreground, background uint8) Color {
	return Color(foreground&0x0F | (background&0x0F)<<4)
}

// Sink is the console contract required by every component per spec: write
// a string, write a string with color, write a single character, clear,
// get/set the cursor, and query the screen's dimensions.
type Sink interface {
	WriteString(s string)
	WriteStringColor(s string, color Color)
	WriteChar(c byte)
	Clear()
	Cursor() int
	SetCursor(pos int)
	Dimensions() (width, height int)
}

// Text is a Sink backed by an io.Writer, used by the CLI and by tests.
// Cursor tracking is a linear position as spec.md requires, independent of
// what the underlying writer actually does with escape sequences.
type Text struct {
	w             io.Writer
	width, height int
	cursor        int
}

// NewText constructs a Text sink of the given screen dimensions, writing
// to w.
func NewText(w io.Writer, width, height int) *Text {
	return &Text{w: w, width: width, height: height}
}

func (t *Text) WriteString(s string) {
	fmt.Fprint(t.w, s)
	t.cursor += len(s)
}

func (t *Text) WriteStringColor(s string, _ Color) {
	// A real VGA sink would set the attribute byte per cell; a plain
	// io.Writer has no notion of color, so this degrades to WriteString.
	t.WriteString(s)
}

func (t *Text) WriteChar(c byte) {
	fmt.Fprint(t.w, string(c))
	t.cursor++
}

func (t *Text) Clear() {
	fmt.Fprint(t.w, strings.Repeat("\n", t.height))
	t.cursor = 0
}

func (t *Text) Cursor() int { return t.cursor }

func (t *Text) SetCursor(pos int) { t.cursor = pos }

func (t *Text) Dimensions() (int, int) { return t.width, t.height }

// Memory is a Sink that records every write for inspection in tests,
// without producing any actual terminal output.
type Memory struct {
	Lines         []string
	width, height int
	cursor        int
}

func NewMemory(width, height int) *Memory {
	return &Memory{width: width, height: height}
}

func (m *Memory) WriteString(s string)               { m.Lines = append(m.Lines, s); m.cursor += len(s) }
func (m *Memory) WriteStringColor(s string, _ Color) { m.WriteString(s) }
func (m *Memory) WriteChar(c byte)                   { m.WriteString(string(c)) }
func (m *Memory) Clear()                             { m.Lines = nil; m.cursor = 0 }
func (m *Memory) Cursor() int                        { return m.cursor }
func (m *Memory) SetCursor(pos int)                  { m.cursor = pos }
func (m *Memory) Dimensions() (int, int)             { return m.width, m.height }
