package fs

import (
	"encoding/binary"
)

// CgFormat selects between the original 4.2BSD cylinder group (struct
// ocg, fixed-size rotational tables) and the dynamic layout of struct cg.
type CgFormat int

const (
	CgFormat42 CgFormat = iota
	CgFormatDynamic
)

// InodeFormat selects between 4.2BSD inodes (16-bit ids, no directory
// entry types) and 4.4BSD inodes.
type InodeFormat int

const (
	InodeFormat42 InodeFormat = iota
	InodeFormat44
)

// Layout is chosen once from the superblock and drives every
// format-dependent encode and decode for the rest of a run.
type Layout struct {
	Cg    CgFormat
	Inode InodeFormat
}

func (sb *Superblock) Layout() Layout {
	var l Layout
	if sb.Postblformat == FS_42POSTBLFMT {
		l.Cg = CgFormat42
	} else {
		l.Cg = CgFormatDynamic
	}
	if sb.Inodefmt < FS_44INODEFMT {
		l.Inode = InodeFormat42
	} else {
		l.Inode = InodeFormat44
	}
	return l
}

func (l Layout) DirFormat() DirFormat {
	if l.Inode == InodeFormat42 {
		return DirFormatOld
	}
	return DirFormatNew
}

func (l Layout) String() string {
	cg, ino := "dynamic", "4.4"
	if l.Cg == CgFormat42 {
		cg = "4.2"
	}
	if l.Inode == InodeFormat42 {
		ino = "4.2"
	}
	return "cg=" + cg + " inode=" + ino
}

// Field offsets shared by both cylinder group formats.
const (
	cgMagicOff   = 4
	cgTimeOff    = 8
	cgCgxOff     = 12
	cgNcylOff    = 16
	cgNiblkOff   = 18
	cgNdblkOff   = 20
	cgCsOff      = 24
	cgRotorOff   = 40
	cgFrotorOff  = 44
	cgIrotorOff  = 48
	cgFrsumOff   = 52
	cgBtotoffOff = 84
	cgBoffOff    = 88
	cgIusedOff   = 92
	cgFreeoffOff = 96
	cgNextOff    = 100

	ocgBtotOff  = 84
	ocgBOff     = 212
	ocgIusedOff = 724
	ocgMagicOff = 980
	ocgFreeOff  = 984
)

// CgOffsets are the positions of the variable parts of a dynamic cg.
type CgOffsets struct {
	Btotoff     int32
	Boff        int32
	Iusedoff    int32
	Freeoff     int32
	Nextfreeoff int32
}

// DynamicCgOffsets computes the dynamic layout for this geometry.
func (sb *Superblock) DynamicCgOffsets() CgOffsets {
	var o CgOffsets
	o.Btotoff = int32(CGSZ)
	o.Boff = o.Btotoff + sb.Cpg*4
	o.Iusedoff = o.Boff + sb.Cpg*sb.Nrpos*2
	o.Freeoff = o.Iusedoff + int32(Howmany(int64(sb.Ipg), 8))
	o.Nextfreeoff = o.Freeoff + int32(Howmany(int64(sb.Fpg), 8))
	return o
}

// CgSizeFor returns the unrounded cylinder group size in the given format.
func (sb *Superblock) CgSizeFor(f CgFormat) int64 {
	if f == CgFormat42 {
		return OCGSZ + Howmany(int64(sb.Fpg), 8)
	}
	return int64(sb.DynamicCgOffsets().Nextfreeoff)
}

// Cg is a view over a cylinder group block.
type Cg struct {
	Buf []byte
	f   CgFormat
	cpg int32
	ipg int32
	fpg int32
	nrp int32
}

func NewCg(sb *Superblock, f CgFormat, buf []byte) *Cg {
	nrpos := sb.Nrpos
	if f == CgFormat42 {
		nrpos = NRPOS
	}
	return &Cg{Buf: buf, f: f, cpg: sb.Cpg, ipg: sb.Ipg, fpg: sb.Fpg, nrp: nrpos}
}

func (cg *Cg) Format() CgFormat {
	return cg.f
}

func (cg *Cg) get32(off int) int32 {
	return int32(binary.LittleEndian.Uint32(cg.Buf[off:]))
}

func (cg *Cg) put32(off int, v int32) {
	binary.LittleEndian.PutUint32(cg.Buf[off:], uint32(v))
}

func (cg *Cg) get16(off int) int16 {
	return int16(binary.LittleEndian.Uint16(cg.Buf[off:]))
}

func (cg *Cg) put16(off int, v int16) {
	binary.LittleEndian.PutUint16(cg.Buf[off:], uint16(v))
}

func (cg *Cg) Magic() int32 {
	if cg.f == CgFormat42 {
		return cg.get32(ocgMagicOff)
	}
	return cg.get32(cgMagicOff)
}

func (cg *Cg) SetMagic(v int32) {
	if cg.f == CgFormat42 {
		cg.put32(ocgMagicOff, v)
		return
	}
	cg.put32(cgMagicOff, v)
}

func (cg *Cg) Time() int32        { return cg.get32(cgTimeOff) }
func (cg *Cg) SetTime(v int32)    { cg.put32(cgTimeOff, v) }
func (cg *Cg) Cgx() int32         { return cg.get32(cgCgxOff) }
func (cg *Cg) SetCgx(v int32)     { cg.put32(cgCgxOff, v) }
func (cg *Cg) Ncyl() int16        { return cg.get16(cgNcylOff) }
func (cg *Cg) SetNcyl(v int16)    { cg.put16(cgNcylOff, v) }
func (cg *Cg) Niblk() int16       { return cg.get16(cgNiblkOff) }
func (cg *Cg) SetNiblk(v int16)   { cg.put16(cgNiblkOff, v) }
func (cg *Cg) Ndblk() int32       { return cg.get32(cgNdblkOff) }
func (cg *Cg) SetNdblk(v int32)   { cg.put32(cgNdblkOff, v) }
func (cg *Cg) Rotor() int32       { return cg.get32(cgRotorOff) }
func (cg *Cg) SetRotor(v int32)   { cg.put32(cgRotorOff, v) }
func (cg *Cg) Frotor() int32      { return cg.get32(cgFrotorOff) }
func (cg *Cg) SetFrotor(v int32)  { cg.put32(cgFrotorOff, v) }
func (cg *Cg) Irotor() int32      { return cg.get32(cgIrotorOff) }
func (cg *Cg) SetIrotor(v int32)  { cg.put32(cgIrotorOff, v) }
func (cg *Cg) Frsum(i int) int32  { return cg.get32(cgFrsumOff + 4*i) }
func (cg *Cg) SetFrsum(i int, v int32) {
	cg.put32(cgFrsumOff+4*i, v)
}

func (cg *Cg) Cs() Csum {
	return Csum{
		Ndir:   cg.get32(cgCsOff),
		Nbfree: cg.get32(cgCsOff + 4),
		Nifree: cg.get32(cgCsOff + 8),
		Nffree: cg.get32(cgCsOff + 12),
	}
}

func (cg *Cg) SetCs(cs Csum) {
	cg.put32(cgCsOff, cs.Ndir)
	cg.put32(cgCsOff+4, cs.Nbfree)
	cg.put32(cgCsOff+8, cs.Nifree)
	cg.put32(cgCsOff+12, cs.Nffree)
}

// Offsets returns where the variable-length maps live.
func (cg *Cg) Offsets() CgOffsets {
	if cg.f == CgFormat42 {
		return CgOffsets{
			Btotoff:     ocgBtotOff,
			Boff:        ocgBOff,
			Iusedoff:    ocgIusedOff,
			Freeoff:     ocgFreeOff,
			Nextfreeoff: ocgFreeOff + int32(Howmany(int64(cg.fpg), 8)),
		}
	}
	return CgOffsets{
		Btotoff:     cg.get32(cgBtotoffOff),
		Boff:        cg.get32(cgBoffOff),
		Iusedoff:    cg.get32(cgIusedOff),
		Freeoff:     cg.get32(cgFreeoffOff),
		Nextfreeoff: cg.get32(cgNextOff),
	}
}

// SetOffsets writes the header offsets of a dynamic cg.
func (cg *Cg) SetOffsets(o CgOffsets) {
	if cg.f == CgFormat42 {
		return
	}
	cg.put32(cgBtotoffOff, o.Btotoff)
	cg.put32(cgBoffOff, o.Boff)
	cg.put32(cgIusedOff, o.Iusedoff)
	cg.put32(cgFreeoffOff, o.Freeoff)
	cg.put32(cgNextOff, o.Nextfreeoff)
}

// OffsetsValid reports whether the header offsets fit in the buffer.
func (cg *Cg) OffsetsValid() bool {
	o := cg.Offsets()
	if o.Btotoff < 0 || o.Boff < o.Btotoff || o.Iusedoff < o.Boff ||
		o.Freeoff < o.Iusedoff || o.Nextfreeoff < o.Freeoff {
		return false
	}
	return int(o.Nextfreeoff) <= len(cg.Buf)
}

func (cg *Cg) Btot(cyl int32) int32 {
	return cg.get32(int(cg.Offsets().Btotoff + 4*cyl))
}

func (cg *Cg) SetBtot(cyl int32, v int32) {
	cg.put32(int(cg.Offsets().Btotoff+4*cyl), v)
}

func (cg *Cg) B(cyl int32, rpos int32) int16 {
	return cg.get16(int(cg.Offsets().Boff + 2*(cyl*cg.nrp+rpos)))
}

func (cg *Cg) SetB(cyl int32, rpos int32, v int16) {
	cg.put16(int(cg.Offsets().Boff+2*(cyl*cg.nrp+rpos)), v)
}

// Inosused is the inode-in-use map, aliasing Buf.
func (cg *Cg) Inosused() []byte {
	o := cg.Offsets()
	return cg.Buf[o.Iusedoff : int64(o.Iusedoff)+Howmany(int64(cg.ipg), 8)]
}

// Blksfree is the free fragment map, aliasing Buf.
func (cg *Cg) Blksfree() []byte {
	o := cg.Offsets()
	return cg.Buf[o.Freeoff : int64(o.Freeoff)+Howmany(int64(cg.fpg), 8)]
}

// RotTables returns the raw btot and b regions for whole-table comparison.
func (cg *Cg) RotTables() []byte {
	o := cg.Offsets()
	return cg.Buf[o.Btotoff:o.Iusedoff]
}

// IsBlock reports whether all fragments of block h are free in cp.
func IsBlock(frag int32, cp []byte, h int64) bool {
	switch frag {
	case 8:
		return cp[h] == 0xff
	case 4:
		mask := byte(0x0f) << uint((h&0x1)<<2)
		return cp[h>>1]&mask == mask
	case 2:
		mask := byte(0x03) << uint((h&0x3)<<1)
		return cp[h>>2]&mask == mask
	case 1:
		mask := byte(0x01) << uint(h&0x7)
		return cp[h>>3]&mask == mask
	}
	panic("IsBlock")
}

func SetBlock(frag int32, cp []byte, h int64) {
	switch frag {
	case 8:
		cp[h] = 0xff
	case 4:
		cp[h>>1] |= 0x0f << uint((h&0x1)<<2)
	case 2:
		cp[h>>2] |= 0x03 << uint((h&0x3)<<1)
	case 1:
		cp[h>>3] |= 0x01 << uint(h&0x7)
	default:
		panic("SetBlock")
	}
}

func ClrBlock(frag int32, cp []byte, h int64) {
	switch frag {
	case 8:
		cp[h] = 0
	case 4:
		cp[h>>1] &^= 0x0f << uint((h&0x1)<<2)
	case 2:
		cp[h>>2] &^= 0x03 << uint((h&0x3)<<1)
	case 1:
		cp[h>>3] &^= 0x01 << uint(h&0x7)
	default:
		panic("ClrBlock")
	}
}
