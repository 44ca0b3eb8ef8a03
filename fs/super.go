package fs

import (
	"encoding/binary"
	"fmt"

	"github.com/tchajed/marshal"
)

// Csum is the per-group (and filesystem total) summary of free space.
type Csum struct {
	Ndir   int32 // number of directories
	Nbfree int32 // number of free blocks
	Nifree int32 // number of free inodes
	Nffree int32 // number of free frags
}

func (cs *Csum) Add(o Csum) {
	cs.Ndir += o.Ndir
	cs.Nbfree += o.Nbfree
	cs.Nifree += o.Nifree
	cs.Nffree += o.Nffree
}

func (cs Csum) encode(enc marshal.Enc) {
	enc.PutInt32(uint32(cs.Ndir))
	enc.PutInt32(uint32(cs.Nbfree))
	enc.PutInt32(uint32(cs.Nifree))
	enc.PutInt32(uint32(cs.Nffree))
}

func decodeCsum(dec marshal.Dec) Csum {
	var cs Csum
	cs.Ndir = int32(dec.GetInt32())
	cs.Nbfree = int32(dec.GetInt32())
	cs.Nifree = int32(dec.GetInt32())
	cs.Nffree = int32(dec.GetInt32())
	return cs
}

// EncodeCsums packs the summary-info array stored at fs_csaddr.
func EncodeCsums(cs []Csum, size int64) []byte {
	enc := marshal.NewEnc(uint64(size))
	for _, c := range cs {
		c.encode(enc)
	}
	return enc.Finish()
}

func DecodeCsums(b []byte, n int32) []Csum {
	dec := marshal.NewDec(b)
	cs := make([]Csum, n)
	for i := range cs {
		cs[i] = decodeCsum(dec)
	}
	return cs
}

// Superblock mirrors struct fs. Field order is the on-disk order.
type Superblock struct {
	Firstfield int32
	Unused1    int32
	Sblkno     int32 // offset of super-block in cylinder group
	Cblkno     int32 // offset of cylinder group block
	Iblkno     int32 // offset of inode blocks
	Dblkno     int32 // offset of first data after cg
	Cgoffset   int32
	Cgmask     int32
	Time       int32
	Size       int32 // frags in filesystem
	Dsize      int32 // data frags in filesystem
	Ncg        int32
	Bsize      int32
	Fsize      int32
	Frag       int32 // frags per block
	Minfree    int32
	Rotdelay   int32
	Rps        int32
	Bmask      int32
	Fmask      int32
	Bshift     int32
	Fshift     int32
	Maxcontig  int32
	Maxbpg     int32
	Fragshift  int32
	Fsbtodb    int32
	Sbsize     int32
	Csmask     int32
	Csshift    int32
	Nindir     int32
	Inopb      int32
	Nspf       int32
	Optim      int32
	Npsect     int32
	Interleave int32
	Trackskew  int32
	Headswitch int32
	Trkseek    int32
	Csaddr     int32
	Cssize     int32
	Cgsize     int32
	Ntrak      int32
	Nsect      int32
	Spc        int32
	Ncyl       int32
	Cpg        int32
	Ipg        int32
	Fpg        int32
	Cstotal    Csum
	Fmod       int8
	Clean      int8
	Ronly      int8
	Flags      int8
	Fsmnt      [MAXMNTLEN]byte
	Cgrotor    int32
	Csp        [MAXCSBUFS]uint32
	Cpc        int32
	Opostbl    [16][8]int16
	Sparecon   [50]int32

	Contigsumsize int32
	Maxsymlinklen int32
	Inodefmt      int32
	Maxfilesize   uint64
	Qbmask        int64
	Qfmask        int64
	State         int32
	Postblformat  int32
	Nrpos         int32
	Postbloff     int32
	Rotbloff      int32
	Magic         int32
}

func putInt32s(enc marshal.Enc, xs ...int32) {
	for _, x := range xs {
		enc.PutInt32(uint32(x))
	}
}

// Encode returns SUPERSZ bytes; callers pad to fs_sbsize.
func (sb *Superblock) Encode() []byte {
	enc := marshal.NewEnc(uint64(SUPERSZ))
	putInt32s(enc, sb.Firstfield, sb.Unused1, sb.Sblkno, sb.Cblkno,
		sb.Iblkno, sb.Dblkno, sb.Cgoffset, sb.Cgmask, sb.Time, sb.Size,
		sb.Dsize, sb.Ncg, sb.Bsize, sb.Fsize, sb.Frag, sb.Minfree,
		sb.Rotdelay, sb.Rps, sb.Bmask, sb.Fmask, sb.Bshift, sb.Fshift,
		sb.Maxcontig, sb.Maxbpg, sb.Fragshift, sb.Fsbtodb, sb.Sbsize,
		sb.Csmask, sb.Csshift, sb.Nindir, sb.Inopb, sb.Nspf, sb.Optim,
		sb.Npsect, sb.Interleave, sb.Trackskew, sb.Headswitch, sb.Trkseek,
		sb.Csaddr, sb.Cssize, sb.Cgsize, sb.Ntrak, sb.Nsect, sb.Spc,
		sb.Ncyl, sb.Cpg, sb.Ipg, sb.Fpg)
	sb.Cstotal.encode(enc)
	enc.PutBytes([]byte{byte(sb.Fmod), byte(sb.Clean), byte(sb.Ronly), byte(sb.Flags)})
	enc.PutBytes(sb.Fsmnt[:])
	putInt32s(enc, sb.Cgrotor)
	for _, p := range sb.Csp {
		enc.PutInt32(p)
	}
	putInt32s(enc, sb.Cpc)
	postbl := make([]byte, 16*8*2)
	for i := range sb.Opostbl {
		for j := range sb.Opostbl[i] {
			binary.LittleEndian.PutUint16(postbl[(i*8+j)*2:], uint16(sb.Opostbl[i][j]))
		}
	}
	enc.PutBytes(postbl)
	putInt32s(enc, sb.Sparecon[:]...)
	putInt32s(enc, sb.Contigsumsize, sb.Maxsymlinklen, sb.Inodefmt)
	enc.PutInt(sb.Maxfilesize)
	enc.PutInt(uint64(sb.Qbmask))
	enc.PutInt(uint64(sb.Qfmask))
	putInt32s(enc, sb.State, sb.Postblformat, sb.Nrpos, sb.Postbloff,
		sb.Rotbloff, sb.Magic)
	return enc.Finish()
}

func getInt32s(dec marshal.Dec, ps ...*int32) {
	for _, p := range ps {
		*p = int32(dec.GetInt32())
	}
}

// DecodeSuperblock parses the first SUPERSZ bytes of b.
func DecodeSuperblock(b []byte) (*Superblock, error) {
	if int64(len(b)) < SUPERSZ {
		return nil, fmt.Errorf("superblock: short buffer (%d bytes)", len(b))
	}
	sb := new(Superblock)
	dec := marshal.NewDec(b)
	getInt32s(dec, &sb.Firstfield, &sb.Unused1, &sb.Sblkno, &sb.Cblkno,
		&sb.Iblkno, &sb.Dblkno, &sb.Cgoffset, &sb.Cgmask, &sb.Time, &sb.Size,
		&sb.Dsize, &sb.Ncg, &sb.Bsize, &sb.Fsize, &sb.Frag, &sb.Minfree,
		&sb.Rotdelay, &sb.Rps, &sb.Bmask, &sb.Fmask, &sb.Bshift, &sb.Fshift,
		&sb.Maxcontig, &sb.Maxbpg, &sb.Fragshift, &sb.Fsbtodb, &sb.Sbsize,
		&sb.Csmask, &sb.Csshift, &sb.Nindir, &sb.Inopb, &sb.Nspf, &sb.Optim,
		&sb.Npsect, &sb.Interleave, &sb.Trackskew, &sb.Headswitch, &sb.Trkseek,
		&sb.Csaddr, &sb.Cssize, &sb.Cgsize, &sb.Ntrak, &sb.Nsect, &sb.Spc,
		&sb.Ncyl, &sb.Cpg, &sb.Ipg, &sb.Fpg)
	sb.Cstotal = decodeCsum(dec)
	flags := dec.GetBytes(4)
	sb.Fmod = int8(flags[0])
	sb.Clean = int8(flags[1])
	sb.Ronly = int8(flags[2])
	sb.Flags = int8(flags[3])
	copy(sb.Fsmnt[:], dec.GetBytes(MAXMNTLEN))
	getInt32s(dec, &sb.Cgrotor)
	for i := range sb.Csp {
		sb.Csp[i] = dec.GetInt32()
	}
	getInt32s(dec, &sb.Cpc)
	postbl := dec.GetBytes(16 * 8 * 2)
	for i := range sb.Opostbl {
		for j := range sb.Opostbl[i] {
			sb.Opostbl[i][j] = int16(binary.LittleEndian.Uint16(postbl[(i*8+j)*2:]))
		}
	}
	for i := range sb.Sparecon {
		sb.Sparecon[i] = int32(dec.GetInt32())
	}
	getInt32s(dec, &sb.Contigsumsize, &sb.Maxsymlinklen, &sb.Inodefmt)
	sb.Maxfilesize = dec.GetInt()
	sb.Qbmask = int64(dec.GetInt())
	sb.Qfmask = int64(dec.GetInt())
	getInt32s(dec, &sb.State, &sb.Postblformat, &sb.Nrpos, &sb.Postbloff,
		&sb.Rotbloff, &sb.Magic)
	return sb, nil
}

// Clone returns an independent copy.
func (sb *Superblock) Clone() *Superblock {
	c := *sb
	return &c
}

// MountPoint returns fs_fsmnt as a string.
func (sb *Superblock) MountPoint() string {
	for i, c := range sb.Fsmnt {
		if c == 0 {
			return string(sb.Fsmnt[:i])
		}
	}
	return string(sb.Fsmnt[:])
}

// Geometry.

func (sb *Superblock) CgBase(c int32) int64 {
	return int64(sb.Fpg) * int64(c)
}

func (sb *Superblock) CgStart(c int32) int64 {
	return sb.CgBase(c) + int64(sb.Cgoffset)*int64(c&^sb.Cgmask)
}

func (sb *Superblock) CgSBlock(c int32) int64 {
	return sb.CgStart(c) + int64(sb.Sblkno)
}

func (sb *Superblock) CgTod(c int32) int64 {
	return sb.CgStart(c) + int64(sb.Cblkno)
}

func (sb *Superblock) CgIMin(c int32) int64 {
	return sb.CgStart(c) + int64(sb.Iblkno)
}

func (sb *Superblock) CgDMin(c int32) int64 {
	return sb.CgStart(c) + int64(sb.Dblkno)
}

// FsbToDb converts a fragment address to a DEV_BSIZE sector address.
func (sb *Superblock) FsbToDb(b int64) int64 {
	return b << uint(sb.Fsbtodb)
}

func (sb *Superblock) DbToFsb(b int64) int64 {
	return b >> uint(sb.Fsbtodb)
}

func (sb *Superblock) InoToCg(ino Ino) int32 {
	return int32(ino / Ino(sb.Ipg))
}

// InoToFsba is the fragment address of the block holding ino.
func (sb *Superblock) InoToFsba(ino Ino) int64 {
	return sb.CgIMin(sb.InoToCg(ino)) +
		sb.BlksToFrags(int64((ino%Ino(sb.Ipg))/Ino(sb.Inopb)))
}

// InoToFsbo is the index of ino within its inode block.
func (sb *Superblock) InoToFsbo(ino Ino) int {
	return int(ino % Ino(sb.Inopb))
}

func (sb *Superblock) DtoG(d int64) int32 {
	return int32(d / int64(sb.Fpg))
}

func (sb *Superblock) DtoGd(d int64) int64 {
	return d % int64(sb.Fpg)
}

func (sb *Superblock) BlksToFrags(b int64) int64 {
	return b << uint(sb.Fragshift)
}

func (sb *Superblock) FragsToBlks(f int64) int64 {
	return f >> uint(sb.Fragshift)
}

func (sb *Superblock) NumFrags(loc int64) int64 {
	return loc >> uint(sb.Fshift)
}

func (sb *Superblock) LblkNo(loc int64) int64 {
	return loc >> uint(sb.Bshift)
}

func (sb *Superblock) BlkOff(loc int64) int64 {
	return loc & sb.Qbmask
}

func (sb *Superblock) FragRoundup(size int64) int64 {
	return (size + sb.Qfmask) &^ sb.Qfmask
}

func (sb *Superblock) BlkRoundup(size int64) int64 {
	return (size + sb.Qbmask) &^ sb.Qbmask
}

func (sb *Superblock) FragNum(b int64) int64 {
	return b & int64(sb.Frag-1)
}

func (sb *Superblock) BlkNum(b int64) int64 {
	return b &^ int64(sb.Frag-1)
}

// Sblksize is the allocated size of logical block lbn of a file of
// the given size.
func (sb *Superblock) Sblksize(size int64, lbn int64) int64 {
	if lbn >= NDADDR || size >= (lbn+1)<<uint(sb.Bshift) {
		return int64(sb.Bsize)
	}
	return sb.FragRoundup(sb.BlkOff(size))
}

func (sb *Superblock) CbToCylNo(bno int64) int32 {
	return int32(sb.FsbToDb(bno) / int64(sb.Spc))
}

func (sb *Superblock) CbToRpos(bno int64) int32 {
	secs := bno * int64(sb.Nspf)
	rpos := ((secs%int64(sb.Spc))/int64(sb.Nsect)*int64(sb.Trackskew) +
		secs%int64(sb.Spc)%int64(sb.Nsect)*int64(sb.Interleave)) %
		int64(sb.Nsect) * int64(sb.Nrpos) / int64(sb.Npsect)
	return int32(rpos)
}

// MaxIno is one past the largest inode number.
func (sb *Superblock) MaxIno() Ino {
	return Ino(sb.Ncg) * Ino(sb.Ipg)
}

// Maxfsblock is one past the largest fragment address.
func (sb *Superblock) Maxfsblock() int64 {
	return int64(sb.Size)
}

func (sb *Superblock) CsSize() int64 {
	return sb.FragRoundup(int64(sb.Ncg) * CSUMSZ)
}

// SetDerived recomputes the mask and shift fields from bsize, fsize
// and nindir, and the 4.4 quad masks and maximum file size.
func (sb *Superblock) SetDerived() {
	sb.Bmask = ^(sb.Bsize - 1)
	sb.Fmask = ^(sb.Fsize - 1)
	sb.Bshift = log2(sb.Bsize)
	sb.Fshift = log2(sb.Fsize)
	sb.Frag = sb.Bsize / sb.Fsize
	sb.Fragshift = log2(sb.Frag)
	sb.Fsbtodb = log2(sb.Fsize / int32(DEV_BSIZE))
	sb.Nspf = sb.Fsize / int32(DEV_BSIZE)
	sb.Nindir = sb.Bsize / 4
	sb.Inopb = sb.Bsize / int32(DINODESZ)
	sb.Qbmask = int64(sb.Bsize - 1)
	sb.Qfmask = int64(sb.Fsize - 1)
	sb.Maxfilesize = sb.ComputeMaxfilesize()
}

// SetCgStagger derives fs_cgoffset and fs_cgmask from the track
// geometry so that group metadata rotates across the platters.
func (sb *Superblock) SetCgStagger() {
	sb.Cgoffset = int32(Roundup(Howmany(int64(sb.Nsect), int64(sb.Nspf)), int64(sb.Frag)))
	sb.Cgmask = -1
	for i := sb.Ntrak; i > 1; i >>= 1 {
		sb.Cgmask <<= 1
	}
	if !IsPow2(sb.Ntrak) {
		sb.Cgmask <<= 1
	}
}

func (sb *Superblock) ComputeMaxfilesize() uint64 {
	size := uint64(sb.Bsize) - 1
	sizepb := uint64(sb.Bsize)
	for i := 0; i < NIADDR; i++ {
		sizepb *= uint64(sb.Nindir)
		size += sizepb
	}
	return size + uint64(NDADDR)*uint64(sb.Bsize)
}

func log2(x int32) int32 {
	var n int32
	for x > 1 {
		x >>= 1
		n++
	}
	return n
}

// IsPow2 reports whether x is a positive power of two.
func IsPow2(x int32) bool {
	return x > 0 && x&(x-1) == 0
}
