package newfs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
)

func mkImage(t *testing.T, p Params) *Image {
	dev := device.NewMem(p.Bytes())
	img, err := Format(dev, p)
	require.NoError(t, err)
	return img
}

func TestSuperblockLayout(t *testing.T) {
	sb, err := DefaultParams().Superblock()
	require.NoError(t, err)
	assert.Equal(t, int32(1024), sb.Fpg)
	assert.Equal(t, int32(16), sb.Sblkno)
	assert.Equal(t, int32(24), sb.Cblkno)
	assert.Equal(t, int32(32), sb.Iblkno)
	assert.Equal(t, int32(64), sb.Dblkno)
	assert.Equal(t, int32(64), sb.Csaddr)
	assert.Equal(t, fs.Layout{Cg: fs.CgFormatDynamic, Inode: fs.InodeFormat44}, sb.Layout())
}

func TestBadParams(t *testing.T) {
	p := DefaultParams()
	p.Fsize = 1000
	_, err := p.Superblock()
	assert.Error(t, err)

	p = DefaultParams()
	p.OldCgFormat = true
	p.Cpg = 64
	_, err = p.Superblock()
	assert.Error(t, err)
}

func TestFormatRoot(t *testing.T) {
	img := mkImage(t, DefaultParams())

	root, err := img.Inode(fs.ROOTINO)
	require.NoError(t, err)
	assert.Equal(t, fs.IFDIR, root.Type())
	assert.Equal(t, int16(3), root.Nlink)

	ino, ok, err := img.Lookup(fs.ROOTINO, "lost+found")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, LOSTFOUNDINO, ino)

	lf, err := img.Inode(LOSTFOUNDINO)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), lf.Size)
	ents, err := img.Entries(LOSTFOUNDINO)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, "..", ents[1].Name)
	assert.Equal(t, fs.ROOTINO, ents[1].Ino)
}

func TestFormatSummaries(t *testing.T) {
	p := DefaultParams()
	p.Ncg = 3
	img := mkImage(t, p)
	sb := img.Sb
	assert.Equal(t, int32(2), sb.Cstotal.Ndir)
	assert.Equal(t, int32(3*256-4), sb.Cstotal.Nifree)

	again, err := Open(img.Dev)
	require.NoError(t, err)
	for d := int64(0); d < int64(sb.Size); d++ {
		assert.Equal(t, img.Used(d), again.Used(d), "frag %d", d)
	}

	// alternate superblocks agree with the primary
	alt, err := img.ReadFrags(sb.CgSBlock(2), fs.SUPERSZ)
	require.NoError(t, err)
	asb, err := fs.DecodeSuperblock(alt)
	require.NoError(t, err)
	assert.Equal(t, sb.Ncg, asb.Ncg)
	assert.Equal(t, sb.Cstotal, asb.Cstotal)
}

func TestMkfileIndirect(t *testing.T) {
	img := mkImage(t, DefaultParams())
	data := bytes.Repeat([]byte("x"), 14*8192+100)
	ino, err := img.Mkfile(fs.ROOTINO, "big", data)
	require.NoError(t, err)

	dp, err := img.Inode(ino)
	require.NoError(t, err)
	assert.NotZero(t, dp.Ib[0])
	// blocks past the direct ones are never fragments
	assert.Equal(t, int32(16*8192/512), dp.Blocks)

	b, err := img.ReadFrags(int64(dp.Ib[0]), 8192)
	require.NoError(t, err)
	ptrs := fs.DecodeIndirect(b, img.Sb.Nindir)
	assert.NotZero(t, ptrs[2])
	assert.Zero(t, ptrs[3])
}

func TestAddEntryGrowsDirectory(t *testing.T) {
	img := mkImage(t, DefaultParams())
	dir, err := img.Mkdir(fs.ROOTINO, "d")
	require.NoError(t, err)
	for i := 0; i < 40; i++ {
		_, err := img.Mkfile(dir, "file-with-a-long-name-"+string(rune('a'+i%26))+string(rune('a'+i/26)), nil)
		require.NoError(t, err)
	}
	dp, err := img.Inode(dir)
	require.NoError(t, err)
	assert.Greater(t, dp.Size, uint64(fs.DIRBLKSIZ))
	ents, err := img.Entries(dir)
	require.NoError(t, err)
	assert.Len(t, ents, 42)

	root, err := img.Inode(fs.ROOTINO)
	require.NoError(t, err)
	assert.Equal(t, int16(4), root.Nlink)
}

func TestOldFormat(t *testing.T) {
	p := DefaultParams()
	p.OldCgFormat = true
	p.OldInodeFormat = true
	img := mkImage(t, p)
	assert.Equal(t, fs.Layout{Cg: fs.CgFormat42, Inode: fs.InodeFormat42}, img.Sb.Layout())
	ino, ok, err := img.Lookup(fs.ROOTINO, "lost+found")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, LOSTFOUNDINO, ino)
}
