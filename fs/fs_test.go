package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkSuper() *Superblock {
	sb := &Superblock{Magic: FS_MAGIC, Bsize: 8192, Fsize: 1024}
	sb.SetDerived()
	sb.Nsect = 32
	sb.Npsect = 32
	sb.Ntrak = 16
	sb.Spc = 512
	sb.Interleave = 1
	sb.Cpg = 4
	sb.Ncg = 2
	sb.Fpg = 1024
	sb.Ipg = 256
	sb.Size = 2048
	sb.Nrpos = NRPOS
	sb.Sblkno = 16
	sb.Cblkno = 24
	sb.Iblkno = 32
	sb.Dblkno = 64
	sb.Cssize = 1024
	sb.Postblformat = FS_DYNAMICPOSTBLFMT
	sb.Inodefmt = FS_44INODEFMT
	return sb
}

func TestSuperblockEncoding(t *testing.T) {
	sb := mkSuper()
	sb.Cstotal = Csum{Ndir: 2, Nbfree: 100, Nifree: 500, Nffree: 7}
	sb.Flags = FS_UNCLEAN
	copy(sb.Fsmnt[:], "/usr")
	sb.Opostbl[3][5] = -1

	b := sb.Encode()
	require.Len(t, b, int(SUPERSZ))
	// fs_magic is the last field
	assert.Equal(t, byte(0x54), b[1372])
	assert.Equal(t, byte(0x19), b[1373])
	assert.Equal(t, byte(0x01), b[1374])

	got, err := DecodeSuperblock(b)
	require.NoError(t, err)
	assert.Equal(t, sb, got)
	assert.Equal(t, "/usr", got.MountPoint())
}

func TestDerived(t *testing.T) {
	sb := mkSuper()
	assert.Equal(t, int32(8), sb.Frag)
	assert.Equal(t, int32(3), sb.Fragshift)
	assert.Equal(t, int32(1), sb.Fsbtodb)
	assert.Equal(t, int32(2048), sb.Nindir)
	assert.Equal(t, int32(64), sb.Inopb)
	assert.Equal(t, int32(^8191), sb.Bmask)
}

func TestGeometry(t *testing.T) {
	sb := mkSuper()
	assert.Equal(t, int64(1024+32), sb.CgIMin(1))
	assert.Equal(t, int32(1), sb.InoToCg(300))
	// inode 300 is the 44th of group 1, in its first inode block
	assert.Equal(t, int64(1024+32), sb.InoToFsba(300))
	assert.Equal(t, 300%64, sb.InoToFsbo(300))
	assert.Equal(t, int64(2048), sb.FragRoundup(1025))
	assert.Equal(t, int64(8192), sb.Sblksize(100000, 3))
	assert.Equal(t, int64(2048), sb.Sblksize(8192*3+1500, 3))
	assert.Equal(t, int64(8192), sb.Sblksize(1<<30, NDADDR))

	start, end := sb.MetadataRange(0)
	assert.Equal(t, int64(0), start)
	assert.Equal(t, int64(65), end)
	start, end = sb.MetadataRange(1)
	assert.Equal(t, int64(1024+16), start)
	assert.Equal(t, int64(1024+64), end)
}

func TestBlockMaps(t *testing.T) {
	m := make([]byte, 4)
	SetBlock(8, m, 1)
	assert.Equal(t, byte(0xff), m[1])
	assert.True(t, IsBlock(8, m, 1))
	ClrBlock(8, m, 1)
	assert.False(t, IsBlock(8, m, 1))

	SetBlock(4, m, 3)
	assert.Equal(t, byte(0xf0), m[1])
	assert.True(t, IsBlock(4, m, 3))
	assert.False(t, IsBlock(4, m, 2))

	SetBlock(2, m, 1)
	assert.Equal(t, byte(0x0c), m[0])
	Setbit(m, 31)
	assert.True(t, Isset(m, 31))
	Clrbit(m, 31)
	assert.True(t, Isclr(m, 31))
}

func TestDirentFormats(t *testing.T) {
	b := make([]byte, DIRBLKSIZ)
	DirTemplate(DirFormatNew, b, 5, ROOTINO)
	dot := DirFormatNew.Decode(b)
	assert.Equal(t, Ino(5), dot.Ino)
	assert.Equal(t, ".", dot.Name)
	assert.Equal(t, DT_DIR, dot.Type)
	assert.Equal(t, uint16(12), dot.Reclen)
	dotdot := DirFormatNew.Decode(b[12:])
	assert.Equal(t, ROOTINO, dotdot.Ino)
	assert.Equal(t, uint16(DIRBLKSIZ-12), dotdot.Reclen)
	assert.True(t, NameTerminated(b[12:], 2))

	// read as the old format, the type byte is the low half of namlen
	old := DirFormatOld.DecodeHeader(b)
	assert.Equal(t, 0x104, old.Namlen)

	DirTemplate(DirFormatOld, b, 5, ROOTINO)
	d := DirFormatOld.Decode(b[12:])
	assert.Equal(t, 2, d.Namlen)
	assert.Equal(t, "..", d.Name)
	assert.Equal(t, 12, DirSiz(1))
	assert.Equal(t, 24, DirSiz(13))
}

func TestDinodeEncoding(t *testing.T) {
	dp := &Dinode{Mode: IFDIR | 0755, Nlink: 3, Size: 512, Blocks: 2, Inumber: 7 | 9<<16}
	dp.Db[0] = 65
	b := dp.Encode()
	require.Len(t, b, int(DINODESZ))
	got := DecodeDinode(b)
	assert.Equal(t, dp, got)
	uid, gid := got.Owner(InodeFormat42)
	assert.Equal(t, uint32(7), uid)
	assert.Equal(t, uint32(9), gid)
	got.ConvertOwner()
	assert.Equal(t, uint32(7), got.Uid)
	assert.Zero(t, got.Inumber)
	assert.True(t, got.HasBlocks())
	assert.True(t, (&Dinode{}).IsZero())
}

func TestShortlink(t *testing.T) {
	dp := &Dinode{Mode: IFLNK | 0777, Size: 11}
	dp.SetShortlink([]byte("/usr/local2"))
	assert.NotZero(t, dp.Db[0])
	assert.Equal(t, "/usr/local2", string(dp.Shortlink()[:dp.Size]))
	assert.Equal(t, uint16(IFLNK|0777), dp.Mode)
}

func TestCgStagger(t *testing.T) {
	sb := mkSuper()
	sb.SetCgStagger()
	assert.Equal(t, int32(16), sb.Cgoffset)
	assert.Equal(t, int32(-16), sb.Cgmask)
	assert.Equal(t, int64(1024+16), sb.CgStart(1))
	assert.Equal(t, int64(0), sb.CgStart(16)-sb.CgBase(16))
}
