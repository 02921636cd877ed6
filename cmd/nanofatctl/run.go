package main

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dargueta/nanofat/console"
	"github.com/dargueta/nanofat/elf32"
	"github.com/dargueta/nanofat/fat"
	"github.com/dargueta/nanofat/heap"
	"github.com/dargueta/nanofat/syscalltable"
)

// wallClock is the Clock a real launch uses: Sleep actually sleeps, Ticks
// counts elapsed milliseconds since the installer was created.
type wallClock struct{ start time.Time }

func (w wallClock) Sleep(ms uint32) { time.Sleep(time.Duration(ms) * time.Millisecond) }
func (w wallClock) Ticks() uint32   { return uint32(time.Since(w.start).Milliseconds()) }

// stdinKeyboard services GetChar/ReadLine/PollKey from the process's own
// stdin, standing in for the PS/2 keyboard driver this module treats as an
// external collaborator.
type stdinKeyboard struct {
	r *bufio.Reader
}

func newStdinKeyboard() *stdinKeyboard {
	return &stdinKeyboard{r: bufio.NewReader(os.Stdin)}
}

func (k *stdinKeyboard) GetChar() byte {
	b, err := k.r.ReadByte()
	if err != nil {
		return 0
	}
	return b
}

func (k *stdinKeyboard) ReadLine(buf []byte) int {
	line, _ := k.r.ReadString('\n')
	n := copy(buf, line)
	return n
}

func (k *stdinKeyboard) PollKey() (byte, bool) {
	if k.r.Buffered() == 0 {
		return 0, false
	}
	b, err := k.r.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}

func runCommand(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("a program path is required")
	}

	return withVolume(c, func(vol *fat.Volume) error {
		sink := console.NewText(os.Stdout, 80, 25)
		arena := heap.NewArena(heap.DefaultSize)
		installer := syscalltable.NewInstaller(arena)
		clock := wallClock{start: time.Now()}
		kb := newStdinKeyboard()

		loader := &elf32.Loader{
			Space: elf32.NewAddressSpace(),
			ReadFile: func(p string) ([]byte, error) {
				return vol.Cat(p)
			},
			Publish: func() {
				table := syscalltable.Build(sink, vol, arena, clock, kb)
				installer.Install(table)
			},
			MakeEntry: func(entry uint32) elf32.EntryFunc {
				// A real loader casts the entry virtual address to a
				// zero-argument function pointer and calls it directly;
				// without a bare-metal target to call into, we report the
				// entry address that would have been invoked.
				return func() int {
					sink.WriteString(fmt.Sprintf("would call entry point 0x%08X\n", entry))
					return 0
				}
			},
		}

		status, err := loader.Run(path)
		if err != nil {
			return err
		}
		fmt.Printf("exit code: %d\n", status)
		return nil
	})
}
