package syscalltable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dargueta/nanofat/console"
	"github.com/dargueta/nanofat/heap"
)

type stubClock struct{}

func (stubClock) Sleep(ms uint32) {}
func (stubClock) Ticks() uint32   { return 42 }

type stubKeyboard struct{}

func (stubKeyboard) GetChar() byte           { return 'x' }
func (stubKeyboard) ReadLine(buf []byte) int { return copy(buf, "line") }
func (stubKeyboard) PollKey() (byte, bool)   { return 0, false }

func TestBuild_CarriesMagicAndVersion(t *testing.T) {
	sink := console.NewMemory(80, 25)
	table := Build(sink, nil, heap.NewArena(64), stubClock{}, stubKeyboard{})
	require.Equal(t, Magic, table.Magic)
	require.Equal(t, Version, table.Version)
}

func TestBuild_WiresConsoleAndKeyboard(t *testing.T) {
	sink := console.NewMemory(80, 25)
	table := Build(sink, nil, heap.NewArena(64), stubClock{}, stubKeyboard{})

	table.Print("hi")
	require.Equal(t, []string{"hi"}, sink.Lines)
	require.Equal(t, byte('x'), table.GetChar())
	require.Equal(t, uint32(42), table.GetTicks())
}

func TestInstaller_InstallResetsArena(t *testing.T) {
	arena := heap.NewArena(64)
	installer := NewInstaller(arena)

	_, err := arena.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, 32, arena.Used())

	sink := console.NewMemory(80, 25)
	table := Build(sink, nil, arena, stubClock{}, stubKeyboard{})
	installer.Install(table)

	require.Zero(t, arena.Used())
	require.Same(t, table, installer.Current())
}
