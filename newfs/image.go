package newfs

import (
	"fmt"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/bitmap"
	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
)

// Image edits a filesystem directly on its device, without any of the
// checks the checker performs. It keeps its own record of used
// fragments; Sync rebuilds the cylinder groups and summaries from it.
type Image struct {
	Dev  device.Device
	Sb   *fs.Superblock
	used *bitmap.Bitmap
}

// Open loads an image that Format wrote, trusting its bitmaps.
func Open(dev device.Device) (*Image, error) {
	buf := make([]byte, fs.SUPERSZ)
	if _, err := dev.ReadAt(buf, fs.SBOFF); err != nil {
		return nil, err
	}
	sb, err := fs.DecodeSuperblock(buf)
	if err != nil {
		return nil, err
	}
	if sb.Magic != fs.FS_MAGIC {
		return nil, fmt.Errorf("newfs: bad magic %#x", sb.Magic)
	}
	img := &Image{Dev: dev, Sb: sb, used: bitmap.New(int64(sb.Size))}
	for c := int32(0); c < sb.Ncg; c++ {
		b, err := img.ReadFrags(sb.CgTod(c), sb.FragRoundup(int64(sb.Cgsize)))
		if err != nil {
			return nil, err
		}
		cg := fs.NewCg(sb, sb.Layout().Cg, b)
		free := cg.Blksfree()
		dbase, dmax := sb.GroupBounds(c)
		for d := dbase; d < dmax; d++ {
			if fs.Isclr(free, d-dbase) {
				img.used.Set(d)
			}
		}
	}
	return img, nil
}

func (img *Image) ReadFrags(fsba int64, size int64) ([]byte, error) {
	b := make([]byte, size)
	_, err := img.Dev.ReadAt(b, fsba*int64(img.Sb.Fsize))
	return b, err
}

func (img *Image) WriteFrags(fsba int64, b []byte) error {
	_, err := img.Dev.WriteAt(b, fsba*int64(img.Sb.Fsize))
	return err
}

func (img *Image) inodeOff(ino fs.Ino) int64 {
	sb := img.Sb
	return sb.InoToFsba(ino)*int64(sb.Fsize) + int64(sb.InoToFsbo(ino))*fs.DINODESZ
}

func (img *Image) Inode(ino fs.Ino) (*fs.Dinode, error) {
	b := make([]byte, fs.DINODESZ)
	if _, err := img.Dev.ReadAt(b, img.inodeOff(ino)); err != nil {
		return nil, err
	}
	return fs.DecodeDinode(b), nil
}

func (img *Image) PutInode(ino fs.Ino, dp *fs.Dinode) error {
	_, err := img.Dev.WriteAt(dp.Encode(), img.inodeOff(ino))
	return err
}

// Clri zeroes an inode but leaves its blocks marked in use.
func (img *Image) Clri(ino fs.Ino) error {
	return img.PutInode(ino, &fs.Dinode{})
}

// Used reports whether fragment d is allocated.
func (img *Image) Used(d int64) bool {
	return img.used.Test(d)
}

// Alloc takes the first run of frags free fragments inside one block.
func (img *Image) Alloc(frags int64) (int64, error) {
	sb := img.Sb
	d, ok := img.used.AllocRun(int64(sb.Size)+int64(sb.Frag), int64(sb.Frag), frags)
	if !ok {
		return 0, fmt.Errorf("newfs: out of space allocating %d frags", frags)
	}
	return d, nil
}

// MarkUsed records fragments as allocated without touching any inode.
func (img *Image) MarkUsed(d int64, frags int64) {
	img.used.SetRange(d, frags)
}

func (img *Image) free(d int64, frags int64) {
	for i := int64(0); i < frags; i++ {
		img.used.Clear(d + i)
	}
}

func (img *Image) allocIno() (fs.Ino, error) {
	for ino := fs.ROOTINO; ino < img.Sb.MaxIno(); ino++ {
		dp, err := img.Inode(ino)
		if err != nil {
			return 0, err
		}
		if dp.Mode == 0 {
			return ino, nil
		}
	}
	return 0, fmt.Errorf("newfs: out of inodes")
}

// Mkfile creates a regular file holding data under dir. Files larger
// than the direct blocks get a single indirect block.
func (img *Image) Mkfile(dir fs.Ino, name string, data []byte) (fs.Ino, error) {
	sb := img.Sb
	ino, err := img.allocIno()
	if err != nil {
		return 0, err
	}
	dp := &fs.Dinode{Mode: fs.IFREG | 0644, Nlink: 1, Size: uint64(len(data)),
		Atime: sb.Time, Mtime: sb.Time, Ctime: sb.Time, Gen: int32(ino)}
	size := int64(len(data))
	nblk := fs.Howmany(size, int64(sb.Bsize))
	if nblk > fs.NDADDR+int64(sb.Nindir) {
		return 0, fmt.Errorf("newfs: %s too large", name)
	}
	var ind []int32
	for lbn := int64(0); lbn < nblk; lbn++ {
		bsize := sb.Sblksize(size, lbn)
		blk, err := img.Alloc(sb.NumFrags(bsize))
		if err != nil {
			return 0, err
		}
		chunk := make([]byte, bsize)
		copy(chunk, data[lbn*int64(sb.Bsize):])
		if err := img.WriteFrags(blk, chunk); err != nil {
			return 0, err
		}
		dp.Blocks += int32(bsize / fs.DEV_BSIZE)
		if lbn < fs.NDADDR {
			dp.Db[lbn] = int32(blk)
		} else {
			ind = append(ind, int32(blk))
		}
	}
	if len(ind) > 0 {
		blk, err := img.Alloc(int64(sb.Frag))
		if err != nil {
			return 0, err
		}
		ptrs := make([]int32, sb.Nindir)
		copy(ptrs, ind)
		if err := img.WriteFrags(blk, fs.EncodeIndirect(ptrs, int64(sb.Bsize))); err != nil {
			return 0, err
		}
		dp.Ib[0] = int32(blk)
		dp.Blocks += int32(sb.Bsize / int32(fs.DEV_BSIZE))
	}
	if err := img.PutInode(ino, dp); err != nil {
		return 0, err
	}
	if err := img.AddEntry(dir, name, ino, fs.DT_REG); err != nil {
		return 0, err
	}
	util.DPrintf(5, "newfs: mkfile %s -> %d (%d bytes)\n", name, ino, size)
	return ino, nil
}

// Mkdir creates an empty directory under parent.
func (img *Image) Mkdir(parent fs.Ino, name string) (fs.Ino, error) {
	sb := img.Sb
	ino, err := img.allocIno()
	if err != nil {
		return 0, err
	}
	blk, err := img.Alloc(1)
	if err != nil {
		return 0, err
	}
	df := sb.Layout().DirFormat()
	b := make([]byte, sb.Fsize)
	for off := int64(0); off < int64(sb.Fsize); off += fs.DIRBLKSIZ {
		fs.EmptyDirBlock(df, b[off:])
	}
	fs.DirTemplate(df, b, ino, parent)
	if err := img.WriteFrags(blk, b); err != nil {
		return 0, err
	}
	dp := &fs.Dinode{Mode: fs.IFDIR | 0755, Nlink: 2, Size: uint64(fs.DIRBLKSIZ),
		Atime: sb.Time, Mtime: sb.Time, Ctime: sb.Time, Gen: int32(ino)}
	dp.Db[0] = int32(blk)
	dp.Blocks = int32(sb.FsbToDb(1))
	if err := img.PutInode(ino, dp); err != nil {
		return 0, err
	}
	pdp, err := img.Inode(parent)
	if err != nil {
		return 0, err
	}
	pdp.Nlink++
	if err := img.PutInode(parent, pdp); err != nil {
		return 0, err
	}
	if err := img.AddEntry(parent, name, ino, fs.DT_DIR); err != nil {
		return 0, err
	}
	return ino, nil
}

// dirChunks calls f on every DIRBLKSIZ chunk of directory dir. f
// reports whether it changed the chunk and whether to stop.
func (img *Image) dirChunks(dir fs.Ino, f func(b []byte) (bool, bool)) error {
	sb := img.Sb
	dp, err := img.Inode(dir)
	if err != nil {
		return err
	}
	size := int64(dp.Size)
	for lbn := int64(0); lbn < fs.NDADDR && lbn*int64(sb.Bsize) < size; lbn++ {
		bsize := sb.Sblksize(size, lbn)
		b, err := img.ReadFrags(int64(dp.Db[lbn]), bsize)
		if err != nil {
			return err
		}
		for off := int64(0); off < bsize && lbn*int64(sb.Bsize)+off < size; off += fs.DIRBLKSIZ {
			dirty, stop := f(b[off : off+fs.DIRBLKSIZ])
			if dirty {
				if err := img.WriteFrags(int64(dp.Db[lbn]), b); err != nil {
					return err
				}
			}
			if stop {
				return nil
			}
		}
	}
	return nil
}

// Entries lists the live entries of dir.
func (img *Image) Entries(dir fs.Ino) ([]fs.Direct, error) {
	df := img.Sb.Layout().DirFormat()
	var ents []fs.Direct
	err := img.dirChunks(dir, func(b []byte) (bool, bool) {
		for loc := 0; loc < len(b); {
			d := df.Decode(b[loc:])
			if d.Reclen == 0 {
				break
			}
			if d.Ino != 0 {
				ents = append(ents, d)
			}
			loc += int(d.Reclen)
		}
		return false, false
	})
	return ents, err
}

// Lookup finds name in dir.
func (img *Image) Lookup(dir fs.Ino, name string) (fs.Ino, bool, error) {
	ents, err := img.Entries(dir)
	if err != nil {
		return 0, false, err
	}
	for _, d := range ents {
		if d.Name == name {
			return d.Ino, true, nil
		}
	}
	return 0, false, nil
}

// AddEntry links ino into dir under name, growing dir when no chunk
// has room.
func (img *Image) AddEntry(dir fs.Ino, name string, ino fs.Ino, typ uint8) error {
	df := img.Sb.Layout().DirFormat()
	nd := fs.MkDirect(ino, typ, name)
	done := false
	err := img.dirChunks(dir, func(b []byte) (bool, bool) {
		if placeEntry(df, b, nd) {
			done = true
			return true, true
		}
		return false, false
	})
	if err != nil || done {
		return err
	}
	if err := img.growDir(dir); err != nil {
		return err
	}
	return img.AddEntry(dir, name, ino, typ)
}

func addEntry(df fs.DirFormat, b []byte, nd fs.Direct) error {
	if !placeEntry(df, b, nd) {
		return fmt.Errorf("newfs: no room for %s", nd.Name)
	}
	return nil
}

// placeEntry puts nd in the first entry of b with enough slack.
func placeEntry(df fs.DirFormat, b []byte, nd fs.Direct) bool {
	need := nd.Size()
	for loc := 0; loc < len(b); {
		d := df.DecodeHeader(b[loc:])
		if d.Reclen == 0 {
			return false
		}
		if d.Ino == 0 && int(d.Reclen) >= need {
			nd.Reclen = d.Reclen
			df.Encode(&nd, b[loc:])
			return true
		}
		used := d.Size()
		if d.Ino != 0 && int(d.Reclen)-used >= need {
			nd.Reclen = d.Reclen - uint16(used)
			d.Reclen = uint16(used)
			df.EncodeHeader(&d, b[loc:])
			df.Encode(&nd, b[loc+used:])
			return true
		}
		loc += int(d.Reclen)
	}
	return false
}

// growDir adds one DIRBLKSIZ chunk to dir, moving its last block to a
// larger fragment run when the chunk does not fit.
func (img *Image) growDir(dir fs.Ino) error {
	sb := img.Sb
	df := sb.Layout().DirFormat()
	dp, err := img.Inode(dir)
	if err != nil {
		return err
	}
	size := int64(dp.Size)
	lbn := sb.LblkNo(size)
	if lbn >= fs.NDADDR {
		return fmt.Errorf("newfs: directory %d too large", dir)
	}
	if sb.BlkOff(size) == 0 {
		blk, err := img.Alloc(1)
		if err != nil {
			return err
		}
		b := make([]byte, sb.Fsize)
		for off := int64(0); off < int64(sb.Fsize); off += fs.DIRBLKSIZ {
			fs.EmptyDirBlock(df, b[off:])
		}
		if err := img.WriteFrags(blk, b); err != nil {
			return err
		}
		dp.Db[lbn] = int32(blk)
		dp.Blocks += int32(sb.FsbToDb(1))
	} else {
		cur := sb.Sblksize(size, lbn)
		if sb.BlkOff(size)+fs.DIRBLKSIZ > cur {
			old := int64(dp.Db[lbn])
			b, err := img.ReadFrags(old, cur)
			if err != nil {
				return err
			}
			nfrags := sb.NumFrags(cur) + 1
			img.free(old, nfrags-1)
			blk, err := img.Alloc(nfrags)
			if err != nil {
				return err
			}
			nb := make([]byte, nfrags*int64(sb.Fsize))
			copy(nb, b)
			for off := cur; off < int64(len(nb)); off += fs.DIRBLKSIZ {
				fs.EmptyDirBlock(df, nb[off:])
			}
			if err := img.WriteFrags(blk, nb); err != nil {
				return err
			}
			dp.Db[lbn] = int32(blk)
			dp.Blocks += int32(sb.FsbToDb(1))
		}
	}
	dp.Size += uint64(fs.DIRBLKSIZ)
	return img.PutInode(dir, dp)
}

type imageSource struct {
	img   *Image
	modes map[fs.Ino]uint16
}

func (s *imageSource) FragUsed(d int64) bool {
	return s.img.used.Test(d)
}

func (s *imageSource) InodeUse(ino fs.Ino) fs.InodeUse {
	switch m := s.modes[ino]; {
	case m == 0:
		return fs.InodeFree
	case m&fs.IFMT == fs.IFDIR:
		return fs.InodeDir
	default:
		return fs.InodeFile
	}
}

// Sync rebuilds every cylinder group and the summary information from
// the used-fragment map and the inode table, then writes the primary
// and alternate superblocks.
func (img *Image) Sync() error {
	sb := img.Sb
	src := &imageSource{img: img, modes: make(map[fs.Ino]uint16)}
	for ino := fs.ROOTINO; ino < sb.MaxIno(); ino++ {
		dp, err := img.Inode(ino)
		if err != nil {
			return err
		}
		if dp.Mode != 0 {
			src.modes[ino] = dp.Mode
		}
	}
	csums := make([]fs.Csum, sb.Ncg)
	var total fs.Csum
	for c := int32(0); c < sb.Ncg; c++ {
		cg := sb.BuildCg(c, sb.Layout().Cg, src, nil)
		if err := img.WriteFrags(sb.CgTod(c), cg.Buf); err != nil {
			return err
		}
		csums[c] = cg.Cs()
		total.Add(csums[c])
	}
	sb.Cstotal = total
	if err := img.WriteFrags(int64(sb.Csaddr), fs.EncodeCsums(csums, int64(sb.Cssize))); err != nil {
		return err
	}
	for c := int32(0); c < sb.Ncg; c++ {
		if err := img.WriteFrags(sb.CgSBlock(c), img.sbBytes()); err != nil {
			return err
		}
	}
	return img.WriteSuperblock()
}

func (img *Image) sbBytes() []byte {
	b := make([]byte, img.Sb.Sbsize)
	copy(b, img.Sb.Encode())
	return b
}

// WriteSuperblock writes only the primary superblock.
func (img *Image) WriteSuperblock() error {
	_, err := img.Dev.WriteAt(img.sbBytes(), fs.SBOFF)
	return err
}
