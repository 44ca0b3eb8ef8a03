package checker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-fsck/fs"
)

func dirChunk(df fs.DirFormat, ents ...fs.Direct) []byte {
	b := make([]byte, fs.DIRBLKSIZ)
	loc := int64(0)
	for i := range ents {
		if i == len(ents)-1 {
			ents[i].Reclen = uint16(fs.DIRBLKSIZ - loc)
		}
		df.Encode(&ents[i], b[loc:])
		loc += int64(ents[i].Reclen)
	}
	return b
}

func TestMkentrySplitsSlack(t *testing.T) {
	c := &Checker{dirFmt: fs.DirFormatNew, maxino: 100}
	b := dirChunk(fs.DirFormatNew,
		fs.MkDirect(5, fs.DT_DIR, "."),
		fs.MkDirect(2, fs.DT_DIR, ".."))
	dotdot := b[12:]

	idesc := &inodesc{dirp: dotdot, name: "foo", parent: 7}
	assert.Equal(t, ScanOutcome{Action: Stop, Altered: true}, c.mkentry(idesc))

	d := fs.DirFormatNew.Decode(dotdot)
	assert.Equal(t, "..", d.Name)
	assert.Equal(t, uint16(12), d.Reclen)
	nd := fs.DirFormatNew.Decode(dotdot[12:])
	assert.Equal(t, fs.Ino(7), nd.Ino)
	assert.Equal(t, "foo", nd.Name)
	assert.Equal(t, uint16(fs.DIRBLKSIZ-24), nd.Reclen)
	assert.Equal(t, uint8(fs.DT_UNKNOWN), nd.Type)
}

func TestMkentryNoRoom(t *testing.T) {
	c := &Checker{dirFmt: fs.DirFormatOld, maxino: 100}
	d := fs.MkDirect(9, fs.DT_UNKNOWN, "x")
	b := make([]byte, fs.DIRBLKSIZ)
	fs.DirFormatOld.Encode(&d, b)

	idesc := &inodesc{dirp: b, name: "longer-name", parent: 7}
	assert.Equal(t, outcome(Keepon), c.mkentry(idesc))
	assert.Equal(t, d, fs.DirFormatOld.Decode(b))
}

func TestMkentryReusesEmptyEntry(t *testing.T) {
	c := &Checker{dirFmt: fs.DirFormatNew, maxino: 100}
	b := make([]byte, fs.DIRBLKSIZ)
	fs.EmptyDirBlock(fs.DirFormatNew, b)

	idesc := &inodesc{dirp: b, name: "#042", parent: 42}
	assert.Equal(t, ScanOutcome{Action: Stop, Altered: true}, c.mkentry(idesc))
	d := fs.DirFormatNew.Decode(b)
	assert.Equal(t, fs.Ino(42), d.Ino)
	assert.Equal(t, "#042", d.Name)
	assert.Equal(t, uint16(fs.DIRBLKSIZ), d.Reclen)
}

func TestChgino(t *testing.T) {
	c := &Checker{dirFmt: fs.DirFormatNew, maxino: 100}
	b := dirChunk(fs.DirFormatNew, fs.MkDirect(3, fs.DT_DIR, ".."))

	assert.Equal(t, outcome(Keepon), c.chgino(&inodesc{dirp: b, name: ".", parent: 9}))
	assert.Equal(t, ScanOutcome{Action: Stop, Altered: true}, c.chgino(&inodesc{dirp: b, name: "..", parent: 9}))
	d := fs.DirFormatNew.Decode(b)
	assert.Equal(t, fs.Ino(9), d.Ino)
	assert.Equal(t, uint16(fs.DIRBLKSIZ), d.Reclen)
}

func TestDircheck(t *testing.T) {
	c := &Checker{maxino: 100}
	df := fs.DirFormatNew
	tests := []struct {
		name string
		d    fs.Direct
		ok   bool
	}{
		{"entry", fs.Direct{Ino: 5, Reclen: 16, Type: fs.DT_REG, Namlen: 3, Name: "abc"}, true},
		{"empty", fs.Direct{Ino: 0, Reclen: 512}, true},
		{"zero reclen", fs.Direct{Ino: 5, Reclen: 0, Namlen: 1, Name: "a"}, false},
		{"unaligned reclen", fs.Direct{Ino: 5, Reclen: 3, Namlen: 1, Name: "a"}, false},
		{"past chunk", fs.Direct{Ino: 5, Reclen: 516, Namlen: 1, Name: "a"}, false},
		{"inode out of range", fs.Direct{Ino: 100, Reclen: 12, Namlen: 1, Name: "a"}, false},
		{"reclen below size", fs.Direct{Ino: 5, Reclen: 12, Namlen: 8, Name: "abcdefgh"}, false},
		{"bad type", fs.Direct{Ino: 5, Reclen: 12, Type: 16, Namlen: 1, Name: "a"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := make([]byte, fs.DIRBLKSIZ+8)
			df.Encode(&tt.d, b)
			idesc := &inodesc{filesize: fs.DIRBLKSIZ}
			assert.Equal(t, tt.ok, c.dircheck(idesc, df, b))
		})
	}
}

func TestDircheckUnterminatedName(t *testing.T) {
	c := &Checker{maxino: 100}
	df := fs.DirFormatNew
	d := fs.MkDirect(5, fs.DT_REG, "abc")
	b := make([]byte, fs.DIRBLKSIZ)
	df.Encode(&d, b)
	b[fs.DIRHDRSZ+3] = 'x'
	assert.False(t, c.dircheck(&inodesc{filesize: fs.DIRBLKSIZ}, df, b))
}

func TestDupList(t *testing.T) {
	d := newDupList()
	d.add(10)
	d.add(20)
	d.add(10)
	d.add(10)
	require.Equal(t, 2, d.len())
	assert.Equal(t, []int64{10, 10, 10, 20}, d.all())
	assert.True(t, d.isDup(10))

	assert.True(t, d.release(10))
	assert.True(t, d.release(10))
	assert.True(t, d.release(10))
	assert.False(t, d.isDup(10))
	assert.False(t, d.release(10))
	assert.Equal(t, []int64{20}, d.once)
}

func TestLftempname(t *testing.T) {
	assert.Equal(t, "#003", (&Checker{maxino: 256}).lftempname(3))
	assert.Equal(t, "#00042", (&Checker{maxino: 10240}).lftempname(42))
}
