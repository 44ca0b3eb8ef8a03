// Package newfs lays out a fresh UFS1 filesystem on a device.
package newfs

import (
	"fmt"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/bitmap"
	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
)

const (
	LOSTFOUNDINO fs.Ino = fs.ROOTINO + 1
)

type Params struct {
	Fsize int32
	Bsize int32
	Nsect int32 // sectors per track
	Ntrak int32 // tracks per cylinder
	Cpg   int32 // cylinders per group
	Ncg   int32
	Ipg   int32 // inodes per group, rounded up to a whole inode block
	Time  int32
	Mount string

	NoLostFound bool

	OldCgFormat    bool // 4.2BSD cylinder groups
	OldInodeFormat bool // 4.2BSD inodes and directory entries
}

// DefaultParams makes a 1 MB group with 1K fragments and 8K blocks.
func DefaultParams() Params {
	return Params{
		Fsize: 1024,
		Bsize: 8192,
		Nsect: 32,
		Ntrak: 16,
		Cpg:   4,
		Ncg:   1,
		Ipg:   256,
		Time:  1000000000,
	}
}

// Bytes is the device size the parameters need.
func (p Params) Bytes() int64 {
	spc := int64(p.Nsect) * int64(p.Ntrak)
	return int64(p.Ncg) * int64(p.Cpg) * spc * fs.DEV_BSIZE
}

// Label is the disk label that matches the parameters.
func (p Params) Label() *device.Label {
	return &device.Label{
		SectorSize: int32(fs.DEV_BSIZE),
		Nsectors:   p.Nsect,
		Ntracks:    p.Ntrak,
		Ncyl:       p.Ncg * p.Cpg,
		Cpg:        p.Cpg,
		Fsize:      p.Fsize,
		Frag:       p.Bsize / p.Fsize,
		Rpm:        3600,
		Interleave: 1,
	}
}

// Superblock derives a superblock from the parameters.
func (p Params) Superblock() (*fs.Superblock, error) {
	if !fs.IsPow2(p.Fsize) || !fs.IsPow2(p.Bsize) || p.Bsize < p.Fsize ||
		p.Bsize/p.Fsize > fs.MAXFRAG || int64(p.Fsize) < fs.DEV_BSIZE {
		return nil, fmt.Errorf("newfs: bad sizes fsize %d bsize %d", p.Fsize, p.Bsize)
	}
	if p.Ncg < 1 || p.Cpg < 1 {
		return nil, fmt.Errorf("newfs: need at least one group and cylinder")
	}
	if p.OldCgFormat && p.Cpg > fs.MAXCPG {
		return nil, fmt.Errorf("newfs: cpg %d too large for 4.2 cylinder groups", p.Cpg)
	}
	sb := new(fs.Superblock)
	sb.Magic = fs.FS_MAGIC
	sb.Fsize = p.Fsize
	sb.Bsize = p.Bsize
	sb.SetDerived()
	sb.Nsect = p.Nsect
	sb.Npsect = p.Nsect
	sb.Ntrak = p.Ntrak
	sb.Spc = p.Nsect * p.Ntrak
	sb.Interleave = 1
	sb.Rps = 60
	sb.Cpg = p.Cpg
	sb.Ncg = p.Ncg
	sb.Ncyl = p.Ncg * p.Cpg
	sb.Fpg = p.Cpg * sb.Spc / sb.Nspf
	if sb.Fpg%sb.Frag != 0 {
		return nil, fmt.Errorf("newfs: group of %d frags is not whole blocks", sb.Fpg)
	}
	sb.Ipg = int32(fs.Roundup(int64(p.Ipg), int64(sb.Inopb)))
	sb.Size = sb.Ncg * sb.Fpg
	sb.SetCgStagger()
	sb.Nrpos = fs.NRPOS
	sb.Cpc = 1
	sb.Minfree = fs.MINFREE
	sb.Optim = fs.FS_OPTTIME
	sb.Maxcontig = 1
	sb.Maxbpg = sb.Bsize / 4
	sb.Time = p.Time
	sb.Clean = fs.FS_CLEAN
	sb.Sbsize = int32(sb.FragRoundup(fs.SUPERSZ))
	sb.Csshift = sb.Fshift
	sb.Csmask = sb.Fmask
	if p.OldCgFormat {
		sb.Postblformat = fs.FS_42POSTBLFMT
	} else {
		sb.Postblformat = fs.FS_DYNAMICPOSTBLFMT
	}
	sb.Postbloff = fs.POSTBLOFF
	sb.Rotbloff = fs.ROTBLOFF
	if p.OldInodeFormat {
		sb.Inodefmt = fs.FS_42INODEFMT
		sb.Maxsymlinklen = 0
	} else {
		sb.Inodefmt = fs.FS_44INODEFMT
		sb.Maxsymlinklen = fs.MAXSYMLINK
	}
	copy(sb.Fsmnt[:], p.Mount)

	frag := int64(sb.Frag)
	fsize := int64(sb.Fsize)
	sb.Sblkno = int32(fs.Roundup(fs.Howmany(fs.BBSIZE+fs.SBSIZE, fsize), frag))
	sb.Cblkno = sb.Sblkno + int32(fs.Roundup(fs.Howmany(fs.SBSIZE, fsize), frag))
	sb.Cgsize = int32(sb.FragRoundup(sb.CgSizeFor(sb.Layout().Cg)))
	sb.Iblkno = sb.Cblkno + int32(fs.Roundup(fs.Howmany(int64(sb.Cgsize), fsize), frag))
	inopf := sb.Inopb / sb.Frag
	sb.Dblkno = sb.Iblkno + sb.Ipg/inopf
	for c := int32(0); c < sb.Ncg; c++ {
		if sb.CgDMin(c) >= sb.CgBase(c)+int64(sb.Fpg) {
			return nil, fmt.Errorf("newfs: no room for data in group %d of %d frags", c, sb.Fpg)
		}
	}
	sb.Csaddr = int32(sb.CgDMin(0))
	sb.Cssize = int32(sb.FragRoundup(int64(sb.Ncg) * fs.CSUMSZ))
	sb.Dsize = sb.Size - sb.Sblkno - sb.Ncg*(sb.Dblkno-sb.Sblkno) -
		int32(fs.Howmany(int64(sb.Cssize), fsize))
	for i := range sb.Opostbl {
		for j := range sb.Opostbl[i] {
			sb.Opostbl[i][j] = -1
		}
	}
	return sb, nil
}

// Format writes a new filesystem holding an empty root directory and,
// unless p.NoLostFound, a pre-expanded lost+found.
func Format(dev device.Device, p Params) (*Image, error) {
	sb, err := p.Superblock()
	if err != nil {
		return nil, err
	}
	if dev.Size() < int64(sb.Size)*int64(sb.Fsize) {
		return nil, fmt.Errorf("newfs: device holds %d bytes, need %d",
			dev.Size(), int64(sb.Size)*int64(sb.Fsize))
	}
	util.DPrintf(1, "newfs: ncg %d fpg %d ipg %d size %d layout %v\n",
		sb.Ncg, sb.Fpg, sb.Ipg, sb.Size, sb.Layout())

	img := &Image{Dev: dev, Sb: sb, used: bitmap.New(int64(sb.Size))}
	for c := int32(0); c < sb.Ncg; c++ {
		start, end := sb.MetadataRange(c)
		img.used.SetRange(start, end-start)
		zero := make([]byte, int64(sb.Ipg)*fs.DINODESZ)
		if err := img.WriteFrags(sb.CgIMin(c), zero); err != nil {
			return nil, err
		}
	}

	now := p.Time
	root := &fs.Dinode{Mode: fs.IFDIR | 0755, Nlink: 2, Size: uint64(fs.DIRBLKSIZ),
		Atime: now, Mtime: now, Ctime: now}
	limit := int64(sb.Size) + int64(sb.Frag)
	rootblk, ok := img.used.AllocRun(limit, int64(sb.Frag), 1)
	if !ok {
		return nil, fmt.Errorf("newfs: no space for root directory")
	}
	root.Db[0] = int32(rootblk)
	root.Blocks = int32(sb.FsbToDb(1))

	df := sb.Layout().DirFormat()
	rb := make([]byte, sb.Fsize)
	for off := int64(0); off < int64(sb.Fsize); off += fs.DIRBLKSIZ {
		fs.EmptyDirBlock(df, rb[off:])
	}
	fs.DirTemplate(df, rb, fs.ROOTINO, fs.ROOTINO)

	if !p.NoLostFound {
		lf := &fs.Dinode{Mode: fs.IFDIR | 0700, Nlink: 2, Size: uint64(sb.Bsize),
			Atime: now, Mtime: now, Ctime: now}
		lfblk, ok := img.used.AllocRun(limit, int64(sb.Frag), int64(sb.Frag))
		if !ok {
			return nil, fmt.Errorf("newfs: no space for lost+found")
		}
		lf.Db[0] = int32(lfblk)
		lf.Blocks = int32(sb.FsbToDb(int64(sb.Frag)))
		root.Nlink++
		if err := addEntry(df, rb[:fs.DIRBLKSIZ], fs.MkDirect(LOSTFOUNDINO, fs.DT_DIR, "lost+found")); err != nil {
			return nil, err
		}
		lb := make([]byte, sb.Bsize)
		for off := int64(0); off < int64(sb.Bsize); off += fs.DIRBLKSIZ {
			fs.EmptyDirBlock(df, lb[off:])
		}
		fs.DirTemplate(df, lb, LOSTFOUNDINO, fs.ROOTINO)
		if err := img.WriteFrags(lfblk, lb); err != nil {
			return nil, err
		}
		if err := img.PutInode(LOSTFOUNDINO, lf); err != nil {
			return nil, err
		}
	}
	if err := img.WriteFrags(rootblk, rb); err != nil {
		return nil, err
	}
	if err := img.PutInode(fs.ROOTINO, root); err != nil {
		return nil, err
	}
	if err := img.Sync(); err != nil {
		return nil, err
	}
	return img, nil
}
