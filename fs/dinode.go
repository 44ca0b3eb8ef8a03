package fs

import (
	"fmt"

	"github.com/tchajed/marshal"
)

// Dinode is the 128-byte on-disk inode.
type Dinode struct {
	Mode      uint16
	Nlink     int16
	Inumber   uint32 // 4.2: two 16-bit ids (uid low, gid high); 4.4: unused
	Size      uint64
	Atime     int32
	Atimensec int32
	Mtime     int32
	Mtimensec int32
	Ctime     int32
	Ctimensec int32
	Db        [NDADDR]int32
	Ib        [NIADDR]int32
	Flags     uint32
	Blocks    int32 // DEV_BSIZE sectors actually held
	Gen       int32
	Uid       uint32
	Gid       uint32
	Spare     [2]int32
}

func (dp *Dinode) String() string {
	return fmt.Sprintf("mode %o nlink %d size %d blocks %d db %v ib %v",
		dp.Mode, dp.Nlink, dp.Size, dp.Blocks, dp.Db, dp.Ib)
}

func (dp *Dinode) Encode() []byte {
	enc := marshal.NewEnc(uint64(DINODESZ))
	enc.PutInt32(uint32(dp.Mode) | uint32(uint16(dp.Nlink))<<16)
	enc.PutInt32(dp.Inumber)
	enc.PutInt(dp.Size)
	putInt32s(enc, dp.Atime, dp.Atimensec, dp.Mtime, dp.Mtimensec,
		dp.Ctime, dp.Ctimensec)
	putInt32s(enc, dp.Db[:]...)
	putInt32s(enc, dp.Ib[:]...)
	enc.PutInt32(dp.Flags)
	putInt32s(enc, dp.Blocks, dp.Gen)
	enc.PutInt32(dp.Uid)
	enc.PutInt32(dp.Gid)
	putInt32s(enc, dp.Spare[:]...)
	return enc.Finish()
}

func DecodeDinode(b []byte) *Dinode {
	dp := new(Dinode)
	dec := marshal.NewDec(b[:DINODESZ])
	w := dec.GetInt32()
	dp.Mode = uint16(w)
	dp.Nlink = int16(uint16(w >> 16))
	dp.Inumber = dec.GetInt32()
	dp.Size = dec.GetInt()
	getInt32s(dec, &dp.Atime, &dp.Atimensec, &dp.Mtime, &dp.Mtimensec,
		&dp.Ctime, &dp.Ctimensec)
	for i := range dp.Db {
		dp.Db[i] = int32(dec.GetInt32())
	}
	for i := range dp.Ib {
		dp.Ib[i] = int32(dec.GetInt32())
	}
	dp.Flags = dec.GetInt32()
	getInt32s(dec, &dp.Blocks, &dp.Gen)
	dp.Uid = dec.GetInt32()
	dp.Gid = dec.GetInt32()
	for i := range dp.Spare {
		dp.Spare[i] = int32(dec.GetInt32())
	}
	return dp
}

// Owner returns the uid and gid in the given inode format.
func (dp *Dinode) Owner(f InodeFormat) (uint32, uint32) {
	if f == InodeFormat42 {
		return dp.Inumber & 0xffff, dp.Inumber >> 16
	}
	return dp.Uid, dp.Gid
}

// ConvertOwner moves 4.2 owner ids into the 4.4 fields.
func (dp *Dinode) ConvertOwner() {
	dp.Uid = dp.Inumber & 0xffff
	dp.Gid = dp.Inumber >> 16
	dp.Inumber = 0
}

func (dp *Dinode) Type() uint16 {
	return dp.Mode & IFMT
}

func (dp *Dinode) IsZero() bool {
	return *dp == (Dinode{})
}

// ClearBlocks zeroes every block pointer.
func (dp *Dinode) ClearBlocks() {
	dp.Db = [NDADDR]int32{}
	dp.Ib = [NIADDR]int32{}
}

// HasBlocks reports whether any block pointer is set.
func (dp *Dinode) HasBlocks() bool {
	for _, b := range dp.Db {
		if b != 0 {
			return true
		}
	}
	for _, b := range dp.Ib {
		if b != 0 {
			return true
		}
	}
	return false
}

const (
	shortlinkOff = 40 // di_db
	shortlinkLen = (NDADDR + NIADDR) * 4
)

// Shortlink returns the block pointer area, where a fast symlink keeps
// its target.
func (dp *Dinode) Shortlink() []byte {
	return dp.Encode()[shortlinkOff : shortlinkOff+shortlinkLen]
}

// SetShortlink stores target in the block pointer area.
func (dp *Dinode) SetShortlink(target []byte) {
	b := dp.Encode()
	area := b[shortlinkOff : shortlinkOff+shortlinkLen]
	for i := range area {
		area[i] = 0
	}
	copy(area, target)
	*dp = *DecodeDinode(b)
}

// DecodeIndirect parses a block of nindir 32-bit block numbers.
func DecodeIndirect(b []byte, nindir int32) []int32 {
	dec := marshal.NewDec(b)
	out := make([]int32, nindir)
	for i := range out {
		out[i] = int32(dec.GetInt32())
	}
	return out
}

func EncodeIndirect(ptrs []int32, size int64) []byte {
	enc := marshal.NewEnc(uint64(size))
	putInt32s(enc, ptrs...)
	return enc.Finish()
}
