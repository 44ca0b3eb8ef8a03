package checker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
	"github.com/mit-pdos/go-fsck/newfs"
)

func mkfs(t *testing.T, p newfs.Params) (*device.Disk, *newfs.Image) {
	dev := device.NewMem(p.Bytes())
	img, err := newfs.Format(dev, p)
	require.NoError(t, err)
	return dev, img
}

func check(t *testing.T, dev device.Device, opts Options) (*Checker, Result, string) {
	var out bytes.Buffer
	opts.Out = &out
	opts.In = strings.NewReader("")
	c := New(dev, "test", opts)
	res := c.Check(context.Background())
	t.Log(out.String())
	return c, res, out.String()
}

func reopen(t *testing.T, dev device.Device) *newfs.Image {
	img, err := newfs.Open(dev)
	require.NoError(t, err)
	return img
}

func TestCleanIsIdempotent(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	_, err := img.Mkfile(fs.ROOTINO, "a", []byte("hello"))
	require.NoError(t, err)
	d, err := img.Mkdir(fs.ROOTINO, "d")
	require.NoError(t, err)
	_, err = img.Mkfile(d, "b", make([]byte, 20000))
	require.NoError(t, err)
	require.NoError(t, img.Sync())

	for i := 0; i < 2; i++ {
		_, res, out := check(t, dev, Options{Force: true, Yes: true})
		assert.Equal(t, StatusOK, res.Status)
		assert.True(t, res.Resolved)
		assert.Equal(t, uint64(0), res.Stats.DiskWrites)
		assert.NotContains(t, out, "MODIFIED")
		assert.Equal(t, int64(5), res.Files)
	}
}

func TestPreenSkipsCleanFilesystem(t *testing.T) {
	dev, _ := mkfs(t, newfs.DefaultParams())
	_, res, out := check(t, dev, Options{Preen: true})
	assert.Equal(t, StatusSkipped, res.Status)
	assert.Contains(t, out, "FILESYSTEM CLEAN; SKIPPING CHECKS")
}

func danglingFile(t *testing.T, img *newfs.Image, ino fs.Ino) {
	blk, err := img.Alloc(1)
	require.NoError(t, err)
	require.NoError(t, img.WriteFrags(blk, make([]byte, img.Sb.Fsize)))
	dp := &fs.Dinode{Mode: fs.IFREG | 0644, Nlink: 1, Size: 100, Blocks: 2}
	dp.Db[0] = int32(blk)
	require.NoError(t, img.PutInode(ino, dp))
	require.NoError(t, img.Sync())
}

func TestUnreferencedFileGoesToNewLostFound(t *testing.T) {
	p := newfs.DefaultParams()
	p.NoLostFound = true
	dev, img := mkfs(t, p)
	danglingFile(t, img, 3)

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.True(t, res.Resolved)
	assert.Contains(t, out, "UNREF FILE")
	assert.Contains(t, out, "NO lost+found DIRECTORY")

	img = reopen(t, dev)
	lf, ok, err := img.Lookup(fs.ROOTINO, "lost+found")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fs.Ino(4), lf)
	ino, ok, err := img.Lookup(lf, "#003")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fs.Ino(3), ino)
	dp, err := img.Inode(3)
	require.NoError(t, err)
	assert.Equal(t, int16(1), dp.Nlink)
	dp, err = img.Inode(lf)
	require.NoError(t, err)
	assert.Equal(t, uint64(img.Sb.Bsize), dp.Size)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

func TestNoAnswersLeaveDiskAlone(t *testing.T) {
	p := newfs.DefaultParams()
	p.NoLostFound = true
	dev, img := mkfs(t, p)
	danglingFile(t, img, 3)

	_, res, out := check(t, dev, Options{No: true})
	assert.Equal(t, StatusOK, res.Status)
	assert.False(t, res.Resolved)
	assert.Equal(t, uint64(0), res.Stats.DiskWrites)
	assert.Contains(t, out, "(NO WRITE)")
	assert.Contains(t, out, "UNREF FILE")
}

func TestDuplicateFragment(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	var inos []fs.Ino
	for _, name := range []string{"x", "y", "z"} {
		ino, err := img.Mkfile(fs.ROOTINO, name, []byte("dup"))
		require.NoError(t, err)
		dp, err := img.Inode(ino)
		require.NoError(t, err)
		dp.Db[0] = 500
		require.NoError(t, img.PutInode(ino, dp))
		inos = append(inos, ino)
	}
	img.MarkUsed(500, 1)
	require.NoError(t, img.Sync())

	c, res, out := check(t, dev, Options{No: true})
	assert.Equal(t, []int64{500}, c.dups.once)
	assert.Equal(t, []int64{500}, c.dups.extra)
	assert.Contains(t, out, "500 DUP I=")
	assert.Contains(t, out, "Phase 1b")
	assert.False(t, res.Resolved)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	img = reopen(t, dev)
	for _, ino := range inos {
		dp, err := img.Inode(ino)
		require.NoError(t, err)
		assert.Equal(t, uint16(0), dp.Mode)
	}
	assert.False(t, img.Used(500))

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

func TestDuplicateFatalWhenPreening(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	for _, name := range []string{"x", "y"} {
		ino, err := img.Mkfile(fs.ROOTINO, name, []byte("dup"))
		require.NoError(t, err)
		dp, err := img.Inode(ino)
		require.NoError(t, err)
		dp.Db[0] = 500
		require.NoError(t, img.PutInode(ino, dp))
	}
	img.MarkUsed(500, 1)
	require.NoError(t, img.Sync())

	_, res, out := check(t, dev, Options{Preen: true, Force: true})
	assert.Equal(t, StatusFatal, res.Status)
	assert.ErrorIs(t, res.Err, ErrAbort)
	assert.Contains(t, out, "test: 500 DUP I=")
	assert.Contains(t, out, "UNEXPECTED INCONSISTENCY; RUN fsck MANUALLY.")
}

func TestCorruptedDotEntry(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	d, err := img.Mkdir(fs.ROOTINO, "d")
	require.NoError(t, err)
	f, err := img.Mkfile(d, "x", []byte("orphan"))
	require.NoError(t, err)
	require.NoError(t, img.Sync())

	dp, err := img.Inode(d)
	require.NoError(t, err)
	b, err := img.ReadFrags(int64(dp.Db[0]), int64(img.Sb.Fsize))
	require.NoError(t, err)
	df := img.Sb.Layout().DirFormat()
	dot := df.DecodeHeader(b)
	dot.Reclen = 3
	df.EncodeHeader(&dot, b)
	require.NoError(t, img.WriteFrags(int64(dp.Db[0]), b))

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out, "DIRECTORY CORRUPTED")
	assert.Contains(t, out, "MISSING '.'")

	img = reopen(t, dev)
	lf, ok, err := img.Lookup(fs.ROOTINO, "lost+found")
	require.NoError(t, err)
	require.True(t, ok)
	ino, ok, err := img.Lookup(lf, lfName(f))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f, ino)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

// lfName is the lost+found name of ino on a 256 inode filesystem.
func lfName(ino fs.Ino) string {
	c := &Checker{maxino: 256}
	return c.lftempname(ino)
}

func TestAlternateSuperblockRecovery(t *testing.T) {
	p := newfs.DefaultParams()
	p.Ncg = 5
	dev, img := mkfs(t, p)
	_, err := img.Mkfile(fs.ROOTINO, "a", []byte("data"))
	require.NoError(t, err)
	require.NoError(t, img.Sync())
	sb := img.Sb

	zeros := make([]byte, fs.SBSIZE)
	_, err = dev.WriteAt(zeros, fs.SBOFF)
	require.NoError(t, err)
	for cg := int32(0); cg < 4; cg++ {
		_, err = dev.WriteAt(zeros, sb.CgSBlock(cg)*int64(sb.Fsize))
		require.NoError(t, err)
	}

	alt := sb.FsbToDb(sb.CgSBlock(4))
	_, res, out := check(t, dev, Options{Yes: true, Label: p.Label()})
	assert.NotEqual(t, StatusFatal, res.Status)
	assert.Contains(t, out, "BAD SUPER BLOCK")
	assert.Contains(t, out, "LOOK FOR ALTERNATE SUPERBLOCKS")
	assert.Contains(t, out, fmt.Sprintf("USING ALTERNATE SUPERBLOCK AT %d", alt))
	assert.Contains(t, out, "UPDATE STANDARD SUPERBLOCK")

	_, res, _ = check(t, dev, Options{Yes: true, AltSuperblock: alt})
	assert.NotEqual(t, StatusFatal, res.Status)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.NotEqual(t, StatusFatal, res.Status)
}

func TestNoLabelNoRecovery(t *testing.T) {
	dev, _ := mkfs(t, newfs.DefaultParams())
	_, err := dev.WriteAt(make([]byte, fs.SBSIZE), fs.SBOFF)
	require.NoError(t, err)

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusFatal, res.Status)
	assert.ErrorIs(t, res.Err, ErrBadMagic)
	assert.Contains(t, out, "CANNOT FIGURE OUT FILE SYSTEM PARTITION")
}

func TestBitmapAndSummaryRepair(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	img.MarkUsed(600, 3)
	require.NoError(t, img.Sync())

	sb := img.Sb
	b, err := img.ReadFrags(sb.CgTod(0), sb.FragRoundup(int64(sb.Cgsize)))
	require.NoError(t, err)
	cg := fs.NewCg(sb, sb.Layout().Cg, b)
	cg.SetFrsum(1, cg.Frsum(1)+7)
	require.NoError(t, img.WriteFrags(sb.CgTod(0), b))

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out, "FREE BLK COUNT(S) WRONG IN SUPERBLK")
	assert.Contains(t, out, "BLK(S) MISSING IN BIT MAPS")
	assert.Contains(t, out, "SUMMARY INFORMATION BAD")
	assert.Contains(t, out, "SALVAGE")

	img = reopen(t, dev)
	for d := int64(600); d < 603; d++ {
		assert.False(t, img.Used(d), "frag %d", d)
	}

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

func TestConvertToNewFormats(t *testing.T) {
	p := newfs.DefaultParams()
	p.OldCgFormat = true
	p.OldInodeFormat = true
	dev, img := mkfs(t, p)
	d, err := img.Mkdir(fs.ROOTINO, "d")
	require.NoError(t, err)
	f, err := img.Mkfile(d, "f", []byte("contents"))
	require.NoError(t, err)
	require.NoError(t, img.Sync())

	_, res, out := check(t, dev, Options{Yes: true, Convert: 2})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out, "CONVERT TO NEW INODE FORMAT")
	assert.Contains(t, out, "CONVERT TO NEW CYLINDER GROUP FORMAT")

	img = reopen(t, dev)
	assert.Equal(t, fs.Layout{Cg: fs.CgFormatDynamic, Inode: fs.InodeFormat44}, img.Sb.Layout())
	ents, err := img.Entries(d)
	require.NoError(t, err)
	require.Len(t, ents, 3)
	assert.Equal(t, uint8(fs.DT_DIR), ents[0].Type)
	assert.Equal(t, "f", ents[2].Name)
	assert.Equal(t, uint8(fs.DT_REG), ents[2].Type)
	assert.Equal(t, f, ents[2].Ino)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

func TestInterrupted(t *testing.T) {
	dev, _ := mkfs(t, newfs.DefaultParams())
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(dev, "test", Options{Yes: true, Out: &out, In: strings.NewReader("")})
	res := c.Check(ctx)
	assert.Equal(t, StatusInterrupted, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NotContains(t, out.String(), "Phase 1")
}

func TestInteractiveAnswers(t *testing.T) {
	p := newfs.DefaultParams()
	p.NoLostFound = true
	dev, img := mkfs(t, p)
	danglingFile(t, img, 3)

	// answer no to the reconnect, which clears the inode instead
	var out bytes.Buffer
	c := New(dev, "test", Options{Out: &out, In: strings.NewReader("n\ny\ny\ny\ny\ny\ny\n")})
	res := c.Check(context.Background())
	t.Log(out.String())
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out.String(), "RECONNECT? [yn]")
	assert.Contains(t, out.String(), "CLEAR? [yn]")

	img = reopen(t, dev)
	dp, err := img.Inode(3)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), dp.Mode)
}

func TestPhaseTable(t *testing.T) {
	dev, _ := mkfs(t, newfs.DefaultParams())
	c, res, _ := check(t, dev, Options{Yes: true})
	require.Equal(t, StatusOK, res.Status)
	var out bytes.Buffer
	c.WritePhaseTable(&out)
	assert.Contains(t, out.String(), "pass1")
	assert.Contains(t, out.String(), "pass5")
	assert.NotContains(t, out.String(), "pass1b")
}

func orphan(t *testing.T, img *newfs.Image, ino fs.Ino, nlink int16) {
	danglingFile(t, img, ino)
	dp, err := img.Inode(ino)
	require.NoError(t, err)
	dp.Nlink = nlink
	require.NoError(t, img.PutInode(ino, dp))
	require.NoError(t, img.Sync())
}

func TestReconnectSetsLinkCount(t *testing.T) {
	for _, nlink := range []int16{0, 2} {
		t.Run(fmt.Sprintf("nlink=%d", nlink), func(t *testing.T) {
			dev, img := mkfs(t, newfs.DefaultParams())
			orphan(t, img, 10, nlink)

			c, res, out := check(t, dev, Options{Yes: true})
			assert.Equal(t, StatusModified, res.Status)
			assert.Contains(t, out, "UNREF FILE")
			assert.NotContains(t, out, "LINK COUNT")
			if nlink == 0 {
				assert.Equal(t, []fs.Ino{10}, c.zlnList)
			} else {
				assert.Empty(t, c.zlnList)
			}

			img = reopen(t, dev)
			ino, ok, err := img.Lookup(newfs.LOSTFOUNDINO, lfName(10))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, fs.Ino(10), ino)
			dp, err := img.Inode(10)
			require.NoError(t, err)
			assert.Equal(t, int16(1), dp.Nlink)

			_, res, out = check(t, dev, Options{Yes: true})
			assert.Equal(t, StatusOK, res.Status)
			assert.NotContains(t, out, "LINK COUNT")
		})
	}
}

func TestDuplicateBetweenTwoFiles(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	var inos []fs.Ino
	for _, name := range []string{"x", "y"} {
		ino, err := img.Mkfile(fs.ROOTINO, name, []byte("dup"))
		require.NoError(t, err)
		dp, err := img.Inode(ino)
		require.NoError(t, err)
		dp.Db[0] = 500
		require.NoError(t, img.PutInode(ino, dp))
		inos = append(inos, ino)
	}
	img.MarkUsed(500, 1)
	require.NoError(t, img.Sync())

	c, _, out := check(t, dev, Options{No: true})
	assert.Equal(t, []int64{500}, c.dups.once)
	assert.Empty(t, c.dups.extra)

	// the first claim is legitimate; phase 1 names the second
	i := strings.Index(out, "Phase 1b")
	require.True(t, i > 0)
	phase1 := out[:i]
	assert.Contains(t, phase1, fmt.Sprintf("500 DUP I=%d\n", inos[1]))
	assert.NotContains(t, phase1, fmt.Sprintf("500 DUP I=%d\n", inos[0]))
	assert.Contains(t, out[i:], fmt.Sprintf("500 DUP I=%d\n", inos[0]))
}

func TestCorruptedSecondEntry(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	d, err := img.Mkdir(fs.ROOTINO, "d")
	require.NoError(t, err)
	f, err := img.Mkfile(d, "x", []byte("orphan"))
	require.NoError(t, err)
	require.NoError(t, img.Sync())

	dp, err := img.Inode(d)
	require.NoError(t, err)
	b, err := img.ReadFrags(int64(dp.Db[0]), int64(img.Sb.Fsize))
	require.NoError(t, err)
	df := img.Sb.Layout().DirFormat()
	dot := df.DecodeHeader(b)
	dotdot := df.DecodeHeader(b[dot.Reclen:])
	require.Equal(t, fs.ROOTINO, dotdot.Ino)
	dotdot.Reclen = 3
	df.EncodeHeader(&dotdot, b[dot.Reclen:])
	require.NoError(t, img.WriteFrags(int64(dp.Db[0]), b))

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out, "DIRECTORY CORRUPTED")
	assert.Contains(t, out, "MISSING '..'")
	assert.NotContains(t, out, "MISSING '.'")

	img = reopen(t, dev)
	ents, err := img.Entries(d)
	require.NoError(t, err)
	require.Len(t, ents, 2)
	assert.Equal(t, "..", ents[1].Name)
	assert.Equal(t, fs.ROOTINO, ents[1].Ino)
	ino, ok, err := img.Lookup(newfs.LOSTFOUNDINO, lfName(f))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f, ino)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

func TestExtraneousDirectoryLink(t *testing.T) {
	dev, img := mkfs(t, newfs.DefaultParams())
	d, err := img.Mkdir(fs.ROOTINO, "d")
	require.NoError(t, err)
	require.NoError(t, img.AddEntry(fs.ROOTINO, "dlink", d, fs.DT_DIR))
	require.NoError(t, img.Sync())

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out, "EXTRANEOUS HARD LINK TO DIRECTORY")
	assert.Contains(t, out, "REMOVE? yes")

	img = reopen(t, dev)
	_, ok, err := img.Lookup(fs.ROOTINO, "dlink")
	require.NoError(t, err)
	assert.False(t, ok)
	ino, ok, err := img.Lookup(fs.ROOTINO, "d")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, d, ino)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

func TestFullRootIsExpanded(t *testing.T) {
	p := newfs.DefaultParams()
	p.NoLostFound = true
	dev, img := mkfs(t, p)
	// 19 byte names take 28 bytes each; 17 of them leave no room for
	// "lost+found" in the root's only chunk
	for i := 0; i < 17; i++ {
		_, err := img.Mkfile(fs.ROOTINO, fmt.Sprintf("file-with-long-n%03d", i), []byte("x"))
		require.NoError(t, err)
	}
	root, err := img.Inode(fs.ROOTINO)
	require.NoError(t, err)
	require.Equal(t, uint64(fs.DIRBLKSIZ), root.Size)
	danglingFile(t, img, 40)

	_, res, out := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out, "NO lost+found DIRECTORY")
	assert.Contains(t, out, "NO SPACE LEFT IN /")
	assert.Contains(t, out, "EXPAND? yes")

	img = reopen(t, dev)
	root, err = img.Inode(fs.ROOTINO)
	require.NoError(t, err)
	assert.Equal(t, uint64(fs.DIRBLKSIZ)+uint64(img.Sb.Bsize), root.Size)
	for i := 0; i < 17; i++ {
		_, ok, err := img.Lookup(fs.ROOTINO, fmt.Sprintf("file-with-long-n%03d", i))
		require.NoError(t, err)
		assert.True(t, ok, "entry %d", i)
	}
	lf, ok, err := img.Lookup(fs.ROOTINO, "lost+found")
	require.NoError(t, err)
	require.True(t, ok)
	ino, ok, err := img.Lookup(lf, lfName(40))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fs.Ino(40), ino)

	_, res, _ = check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusOK, res.Status)
}

// syncBuffer lets a test watch output while the check writes it.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestInterruptAtPrompt(t *testing.T) {
	p := newfs.DefaultParams()
	p.NoLostFound = true
	dev, img := mkfs(t, p)
	danglingFile(t, img, 3)

	in, answers := io.Pipe()
	defer answers.Close()
	out := &syncBuffer{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(dev, "test", Options{Out: out, In: in})
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "RECONNECT? [yn] ")
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case res := <-done:
		t.Log(out.String())
		assert.Equal(t, StatusInterrupted, res.Status)
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.NotContains(t, out.String(), "UPDATE STANDARD SUPERBLOCK")
	case <-time.After(5 * time.Second):
		t.Fatal("check kept waiting for an answer after the interrupt")
	}

	_, res, out2 := check(t, dev, Options{Yes: true})
	assert.Equal(t, StatusModified, res.Status)
	assert.Contains(t, out2, "UNREF FILE")
}

func TestChkrange(t *testing.T) {
	_, img := mkfs(t, newfs.DefaultParams())
	sb := img.Sb
	c := &Checker{sb: sb, maxfsblock: int64(sb.Size)}
	dmin := sb.CgDMin(0)
	assert.False(t, c.chkrange(dmin, 1))
	assert.False(t, c.chkrange(dmin, int64(sb.Frag)))
	assert.True(t, c.chkrange(0, 1))
	assert.True(t, c.chkrange(dmin, 0))
	assert.True(t, c.chkrange(int64(sb.Size), 1))
	assert.True(t, c.chkrange(int64(sb.Size)-1, 2))
	assert.True(t, c.chkrange(dmin, math.MaxInt64), "sum wraps negative")
	assert.True(t, c.chkrange(math.MaxInt64, math.MaxInt64))
	assert.True(t, c.chkrange(sb.CgIMin(0), 1), "inode blocks are metadata")
}
