package cache

import (
	"fmt"
	"strings"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
)

// Reporter is how the cache talks to the operator when the disk
// misbehaves.
type Reporter interface {
	Printf(format string, a ...interface{})
	Pfatal(format string, a ...interface{})
	Reply(question string) bool
	// Abort abandons the check of this filesystem; it does not return.
	Abort(format string, a ...interface{})
}

// IO does sector-addressed reads and writes against the device with
// per-sector retry. Block numbers are in DEV_BSIZE units.
type IO struct {
	dev        device.Device
	writable   bool
	secsize    int64
	rep        Reporter
	DiskReads  uint64
	DiskWrites uint64
	// Modified is set after the first successful write.
	Modified bool
	// Resolved is cleared when a sector could not be read or written.
	Resolved bool
}

func NewIO(dev device.Device, writable bool, secsize int64, rep Reporter) *IO {
	if secsize <= 0 {
		secsize = fs.DEV_BSIZE
	}
	return &IO{dev: dev, writable: writable, secsize: secsize, rep: rep, Resolved: true}
}

func (io *IO) Writable() bool {
	return io.writable
}

func (io *IO) Device() device.Device {
	return io.dev
}

func (io *IO) rwerror(op string, blk int64) {
	io.rep.Pfatal("CANNOT %s: BLK %d", op, blk)
	if !io.rep.Reply("CONTINUE") {
		io.rep.Abort("Program terminated")
	}
}

// ReadSectors fills buf from sector blk. On failure it retries one
// sector at a time, zero-fills the sectors that fail and returns how
// many failed.
func (io *IO) ReadSectors(buf []byte, blk int64) int {
	io.DiskReads++
	off := blk * fs.DEV_BSIZE
	_, err := io.dev.ReadAt(buf, off)
	if err == nil {
		return 0
	}
	util.DPrintf(1, "ReadSectors: blk %d size %d: %v\n", blk, len(buf), err)
	io.rwerror("READ", blk)
	for i := range buf {
		buf[i] = 0
	}
	var bad []string
	for i := int64(0); i < int64(len(buf)); i += io.secsize {
		end := i + io.secsize
		if end > int64(len(buf)) {
			end = int64(len(buf))
		}
		if _, err := io.dev.ReadAt(buf[i:end], off+i); err != nil {
			for j := i; j < end; j++ {
				buf[j] = 0
			}
			bad = append(bad, io.sectorName(blk, i))
		}
	}
	io.rep.Printf("THE FOLLOWING DISK SECTORS COULD NOT BE READ: %s\n",
		strings.Join(bad, ", "))
	if len(bad) > 0 {
		io.Resolved = false
	}
	return len(bad)
}

// WriteSectors writes buf at sector blk. A failed write is retried per
// sector and the sectors that could not be written are reported; it
// returns how many failed.
func (io *IO) WriteSectors(buf []byte, blk int64) int {
	if !io.writable {
		return 0
	}
	io.DiskWrites++
	off := blk * fs.DEV_BSIZE
	if _, err := io.dev.WriteAt(buf, off); err == nil {
		io.Modified = true
		return 0
	}
	io.Resolved = false
	io.rwerror("WRITE", blk)
	var bad []string
	for i := int64(0); i < int64(len(buf)); i += io.secsize {
		end := i + io.secsize
		if end > int64(len(buf)) {
			end = int64(len(buf))
		}
		if _, err := io.dev.WriteAt(buf[i:end], off+i); err != nil {
			bad = append(bad, io.sectorName(blk, i))
		}
	}
	io.rep.Printf("THE FOLLOWING SECTORS COULD NOT BE WRITTEN: %s\n",
		strings.Join(bad, ", "))
	return len(bad)
}

func (io *IO) sectorName(blk int64, i int64) string {
	if io.secsize != fs.DEV_BSIZE {
		return fmt.Sprintf("%d (%d)", (blk*fs.DEV_BSIZE+i)/io.secsize, blk+i/fs.DEV_BSIZE)
	}
	return fmt.Sprintf("%d", blk+i/fs.DEV_BSIZE)
}
