// Command nanofatctl mounts a FAT12/16/32 image and drives its file
// operations from the shell, standing in for the interactive commands a
// freestanding shell would issue against the same core.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/dargueta/nanofat/block"
	"github.com/dargueta/nanofat/disks"
	"github.com/dargueta/nanofat/fat"
)

func openVolume(c *cli.Context) (*fat.Volume, func() error, error) {
	imagePath := c.String("image")
	if imagePath == "" {
		return nil, nil, fmt.Errorf("--image is required")
	}

	f, err := os.OpenFile(imagePath, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, err
	}

	dev := block.NewFileDevice()
	if err := dev.Attach(0, f, imagePath); err != nil {
		f.Close()
		return nil, nil, err
	}

	vol := fat.New(dev)
	if err := vol.Mount(0); err != nil {
		f.Close()
		return nil, nil, err
	}

	return vol, func() error {
		if err := vol.Unmount(); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	}, nil
}

func withVolume(c *cli.Context, fn func(vol *fat.Volume) error) error {
	vol, closeFn, err := openVolume(c)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(vol)
}

func main() {
	app := &cli.App{
		Name:  "nanofatctl",
		Usage: "mount and manipulate FAT12/16/32 disk images",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image", Required: true, Usage: "path to the disk image"},
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "list a directory",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					return withVolume(c, func(vol *fat.Volume) error {
						entries, err := vol.Ls(path)
						if err != nil {
							return err
						}
						for _, e := range entries {
							if e.IsDir {
								fmt.Printf("%s/\n", e.Name)
							} else {
								fmt.Printf("%-20s %s\n", e.Name, humanize.Bytes(uint64(e.Size)))
							}
						}
						return nil
					})
				},
			},
			{
				Name:      "cat",
				Usage:     "print a file's contents",
				ArgsUsage: "path",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					return withVolume(c, func(vol *fat.Volume) error {
						data, err := vol.Cat(path)
						if err != nil {
							return err
						}
						_, err = os.Stdout.Write(data)
						return err
					})
				},
			},
			{
				Name:      "touch",
				Usage:     "create an empty file",
				ArgsUsage: "path",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					return withVolume(c, func(vol *fat.Volume) error {
						return vol.Touch(path)
					})
				},
			},
			{
				Name:      "cd",
				Usage:     "change the current working directory",
				ArgsUsage: "path",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					return withVolume(c, func(vol *fat.Volume) error {
						return vol.Cd(path)
					})
				},
			},
			{
				Name:  "pwd",
				Usage: "print the current working directory",
				Action: func(c *cli.Context) error {
					return withVolume(c, func(vol *fat.Volume) error {
						fmt.Println(vol.Pwd())
						return nil
					})
				},
			},
			{
				Name:      "mkdir",
				Usage:     "create a directory",
				ArgsUsage: "path",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					return withVolume(c, func(vol *fat.Volume) error {
						return vol.Mkdir(path)
					})
				},
			},
			{
				Name:      "rm",
				Usage:     "remove a file",
				ArgsUsage: "path",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					return withVolume(c, func(vol *fat.Volume) error {
						return vol.Rm(path)
					})
				},
			},
			{
				Name:      "write",
				Usage:     "write stdin to a file",
				ArgsUsage: "path",
				Action: func(c *cli.Context) error {
					path := c.Args().First()
					data, err := readAllStdin()
					if err != nil {
						return err
					}
					return withVolume(c, func(vol *fat.Volume) error {
						return vol.Write(path, data)
					})
				},
			},
			{
				Name:  "info",
				Usage: "print volume geometry and label",
				Action: func(c *cli.Context) error {
					return withVolume(c, func(vol *fat.Volume) error {
						stat, err := vol.FSStat()
						if err != nil {
							return err
						}
						fmt.Printf("type:    %s\n", stat.Variant)
						fmt.Printf("label:   %q\n", stat.Label)
						fmt.Printf("sector:  %d bytes\n", stat.BytesPerSector)
						fmt.Printf("cluster: %d sectors\n", stat.SectorsPerCluster)
						fmt.Printf("total:   %d clusters\n", stat.TotalClusters)
						return nil
					})
				},
			},
			{
				Name:      "run",
				Usage:     "load and run an ELF32/i386 program from the image",
				ArgsUsage: "path",
				Action:    runCommand,
			},
			{
				Name:  "geometries",
				Usage: "list predefined disk geometries",
				Action: func(c *cli.Context) error {
					for _, slug := range disks.Slugs() {
						geometry, err := disks.GetPredefinedDiskGeometry(slug)
						if err != nil {
							return err
						}
						fmt.Printf("%-18s %s (%s)\n", slug, geometry.Name, humanize.Bytes(uint64(geometry.TotalSizeBytes())))
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("nanofatctl: %s", err)
	}
}

func readAllStdin() ([]byte, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	_ = info
	return buf, nil
}
