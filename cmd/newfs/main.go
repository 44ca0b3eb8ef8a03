package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tchajed/goose/machine/disk"
	"github.com/urfave/cli/v2"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
	"github.com/mit-pdos/go-fsck/newfs"
)

func main() {
	def := newfs.DefaultParams()
	app := &cli.App{
		Name:      "newfs",
		Usage:     "write a fresh UFS1 filesystem to an image file",
		ArgsUsage: "IMAGE",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "fsize", Aliases: []string{"f"}, Value: int(def.Fsize), Usage: "fragment size"},
			&cli.IntFlag{Name: "bsize", Aliases: []string{"b"}, Value: int(def.Bsize), Usage: "block size"},
			&cli.IntFlag{Name: "nsect", Value: int(def.Nsect), Usage: "sectors per track"},
			&cli.IntFlag{Name: "ntrak", Value: int(def.Ntrak), Usage: "tracks per cylinder"},
			&cli.IntFlag{Name: "cpg", Aliases: []string{"c"}, Value: int(def.Cpg), Usage: "cylinders per group"},
			&cli.IntFlag{Name: "ncg", Value: int(def.Ncg), Usage: "cylinder groups"},
			&cli.IntFlag{Name: "ipg", Aliases: []string{"i"}, Value: int(def.Ipg), Usage: "inodes per group"},
			&cli.StringFlag{Name: "mount", Usage: "last mounted on"},
			&cli.BoolFlag{Name: "no-lost-found", Usage: "leave out lost+found"},
			&cli.BoolFlag{Name: "old-cg", Usage: "4.2BSD cylinder group format"},
			&cli.BoolFlag{Name: "old-inode", Usage: "4.2BSD inode and directory format"},
			&cli.StringSliceFlag{Name: "mkdir", Usage: "create a directory under the root"},
			&cli.StringSliceFlag{Name: "mkfile", Usage: "create NAME=SIZE, a file of SIZE bytes under the root"},
			&cli.Uint64Flag{Name: "debug", Aliases: []string{"d"}, Usage: "debug level (higher is more verbose)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("need exactly one image file", 2)
			}
			util.Debug = c.Uint64("debug")
			p := newfs.Params{
				Fsize:          int32(c.Int("fsize")),
				Bsize:          int32(c.Int("bsize")),
				Nsect:          int32(c.Int("nsect")),
				Ntrak:          int32(c.Int("ntrak")),
				Cpg:            int32(c.Int("cpg")),
				Ncg:            int32(c.Int("ncg")),
				Ipg:            int32(c.Int("ipg")),
				Time:           def.Time,
				Mount:          c.String("mount"),
				NoLostFound:    c.Bool("no-lost-found"),
				OldCgFormat:    c.Bool("old-cg"),
				OldInodeFormat: c.Bool("old-inode"),
			}
			if err := build(c.Args().First(), p, c.StringSlice("mkdir"), c.StringSlice("mkfile")); err != nil {
				return cli.Exit(err, 1)
			}
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "newfs: %v\n", err)
		os.Exit(2)
	}
}

func build(path string, p newfs.Params, dirs, files []string) error {
	nblk := (uint64(p.Bytes()) + disk.BlockSize - 1) / disk.BlockSize
	d, err := disk.NewFileDisk(path, nblk)
	if err != nil {
		return fmt.Errorf("could not create disk: %w", err)
	}
	dev := device.FromDisk(d)
	defer dev.Close()

	img, err := newfs.Format(dev, p)
	if err != nil {
		return err
	}
	sb := img.Sb
	fmt.Printf("%s: %d sectors in %d cylinders of %d tracks, %d sectors\n",
		path, p.Bytes()/fs.DEV_BSIZE, sb.Ncyl, sb.Ntrak, sb.Nsect)
	fmt.Printf("\t%.1fMB in %d cyl groups (%d c/g, %d i/g)\n",
		float64(p.Bytes())/(1024*1024), sb.Ncg, sb.Cpg, sb.Ipg)
	fmt.Printf("super-block backups at:")
	for c := int32(0); c < sb.Ncg; c++ {
		fmt.Printf(" %d", sb.FsbToDb(sb.CgSBlock(c)))
	}
	fmt.Printf("\n")

	for _, name := range dirs {
		if _, err := img.Mkdir(fs.ROOTINO, name); err != nil {
			return fmt.Errorf("mkdir %s: %w", name, err)
		}
	}
	for _, spec := range files {
		name, size, err := parseFileSpec(spec)
		if err != nil {
			return err
		}
		data := make([]byte, size)
		for i := range data {
			data[i] = byte('a' + i%26)
		}
		if _, err := img.Mkfile(fs.ROOTINO, name, data); err != nil {
			return fmt.Errorf("mkfile %s: %w", name, err)
		}
	}
	if len(dirs)+len(files) > 0 {
		if err := img.Sync(); err != nil {
			return err
		}
	}
	return dev.Sync()
}

func parseFileSpec(spec string) (string, int, error) {
	i := strings.LastIndexByte(spec, '=')
	if i <= 0 {
		return "", 0, fmt.Errorf("bad --mkfile %q: want NAME=SIZE", spec)
	}
	size, err := strconv.Atoi(spec[i+1:])
	if err != nil || size < 0 {
		return "", 0, fmt.Errorf("bad --mkfile size in %q", spec)
	}
	return spec[:i], size, nil
}
