// Package device gives the checker byte-addressed access to the volume
// being checked, whether a raw disk partition, an image file or an
// in-memory disk.
package device

import (
	"errors"
	"fmt"
)

var (
	ErrRange   = errors.New("device: access beyond end of device")
	ErrNoLabel = errors.New("device: no disk label")
)

// Device is a random-access volume. Reads and writes are expected at
// sector granularity but implementations accept any offset.
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Size in bytes.
	Size() int64
	Sync() error
	Close() error
}

// Label is the disk geometry normally read from the partition label.
// It is what superblock recovery falls back on when the primary
// superblock is unusable.
type Label struct {
	SectorSize int32 // bytes per sector
	Nsectors   int32 // sectors per track
	Ntracks    int32 // tracks per cylinder
	Ncyl       int32 // cylinders in the partition
	Cpg        int32 // cylinders per group, from the partition entry
	Fsize      int32
	Frag       int32
	Rpm        int32
	Interleave int32
	Trackskew  int32
}

func (l *Label) String() string {
	return fmt.Sprintf("label: nsect %d ntrak %d ncyl %d cpg %d fsize %d frag %d",
		l.Nsectors, l.Ntracks, l.Ncyl, l.Cpg, l.Fsize, l.Frag)
}

// Labeled is implemented by devices that know their own geometry.
type Labeled interface {
	Label() (*Label, error)
}

func checkRange(d Device, n int, off int64) error {
	if off < 0 || off+int64(n) > d.Size() {
		return fmt.Errorf("%w: offset %d len %d size %d", ErrRange, off, n, d.Size())
	}
	return nil
}
