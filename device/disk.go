package device

import (
	"github.com/tchajed/goose/machine/disk"
)

// Disk adapts a block-addressed goose disk (MemDisk or FileDisk) to a
// byte-addressed Device, doing read-modify-write for partial blocks.
type Disk struct {
	d     disk.Disk
	label *Label
}

func FromDisk(d disk.Disk) *Disk {
	return &Disk{d: d}
}

// NewMem returns an in-memory device of at least size bytes.
func NewMem(size int64) *Disk {
	nblk := (uint64(size) + disk.BlockSize - 1) / disk.BlockSize
	return FromDisk(disk.NewMemDisk(nblk))
}

func (dd *Disk) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(dd, len(p), off); err != nil {
		return 0, err
	}
	n := 0
	for n < len(p) {
		pos := uint64(off) + uint64(n)
		bn := pos / disk.BlockSize
		boff := pos % disk.BlockSize
		blk := dd.d.Read(bn)
		n += copy(p[n:], blk[boff:])
	}
	return n, nil
}

func (dd *Disk) WriteAt(p []byte, off int64) (int, error) {
	if err := checkRange(dd, len(p), off); err != nil {
		return 0, err
	}
	n := 0
	for n < len(p) {
		pos := uint64(off) + uint64(n)
		bn := pos / disk.BlockSize
		boff := pos % disk.BlockSize
		var blk disk.Block
		if boff == 0 && uint64(len(p)-n) >= disk.BlockSize {
			blk = make(disk.Block, disk.BlockSize)
		} else {
			blk = dd.d.Read(bn)
		}
		n += copy(blk[boff:], p[n:])
		dd.d.Write(bn, blk)
	}
	return n, nil
}

func (dd *Disk) Size() int64 {
	return int64(dd.d.Size() * disk.BlockSize)
}

func (dd *Disk) Sync() error {
	dd.d.Barrier()
	return nil
}

func (dd *Disk) Close() error {
	dd.d.Close()
	return nil
}

func (dd *Disk) SetLabel(l *Label) {
	dd.label = l
}

func (dd *Disk) Label() (*Label, error) {
	if dd.label == nil {
		return nil, ErrNoLabel
	}
	return dd.label, nil
}

var _ Device = &Disk{}
var _ Labeled = &Disk{}
