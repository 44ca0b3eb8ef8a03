package device

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskUnalignedAccess(t *testing.T) {
	d := NewMem(3 * 4096)
	assert.Equal(t, int64(3*4096), d.Size())

	p := bytes.Repeat([]byte{0xab}, 5000)
	n, err := d.WriteAt(p, 4000)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)

	got := make([]byte, 5002)
	_, err = d.ReadAt(got, 3999)
	require.NoError(t, err)
	assert.Equal(t, byte(0), got[0])
	assert.Equal(t, p, got[1:5001])
	assert.Equal(t, byte(0), got[5001])
}

func TestDiskRange(t *testing.T) {
	d := NewMem(4096)
	_, err := d.ReadAt(make([]byte, 512), 4096-256)
	assert.ErrorIs(t, err, ErrRange)
	_, err = d.WriteAt(make([]byte, 1), -1)
	assert.ErrorIs(t, err, ErrRange)
}

func TestDiskLabel(t *testing.T) {
	d := NewMem(4096)
	_, err := d.Label()
	assert.ErrorIs(t, err, ErrNoLabel)
	d.SetLabel(&Label{SectorSize: 512, Nsectors: 32, Ntracks: 16})
	l, err := d.Label()
	require.NoError(t, err)
	assert.Equal(t, int32(32), l.Nsectors)
}

func TestFaulty(t *testing.T) {
	f := NewFaulty(NewMem(4096), 512)
	f.FailRead(2)
	f.FailWrite(5)

	_, err := f.ReadAt(make([]byte, 512), 512)
	assert.NoError(t, err)
	_, err = f.ReadAt(make([]byte, 1024), 512)
	assert.ErrorIs(t, err, ErrMedia)
	_, err = f.WriteAt(make([]byte, 512), 1024)
	assert.NoError(t, err, "only reads of sector 2 fail")
	_, err = f.WriteAt(make([]byte, 10), 5*512+100)
	assert.ErrorIs(t, err, ErrMedia)
}

func TestTimed(t *testing.T) {
	d := NewMem(4096)
	d.SetLabel(&Label{Nsectors: 8})
	td := NewTimed(d)
	_, err := td.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)
	_, err = td.WriteAt([]byte("world"), 20)
	require.NoError(t, err)
	require.NoError(t, td.Sync())
	assert.Equal(t, uint32(2), td.Writes())

	l, err := td.Label()
	require.NoError(t, err)
	assert.Equal(t, int32(8), l.Nsectors)

	var out bytes.Buffer
	td.WriteStats(&out)
	assert.Contains(t, out.String(), "dev.Write")
	assert.NotContains(t, out.String(), "dev.Read")
	td.ResetStats()
	assert.Equal(t, uint32(0), td.Writes())

	_, err = NewTimed(NewFaulty(d, 512)).Label()
	assert.ErrorIs(t, err, ErrNoLabel)
}

func TestRawImageFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "img")
	require.NoError(t, os.WriteFile(name, make([]byte, 8192), 0644))

	r, err := OpenRaw(name, true)
	require.NoError(t, err)
	assert.Equal(t, int64(8192), r.Size())
	_, err = r.WriteAt([]byte("ufs"), 4096)
	require.NoError(t, err)
	require.NoError(t, r.Sync())
	_, err = r.ReadAt(make([]byte, 10), 8190)
	assert.ErrorIs(t, err, ErrRange)
	_, err = r.Label()
	assert.ErrorIs(t, err, ErrNoLabel)
	require.NoError(t, r.Close())

	ro, err := OpenRaw(name, false)
	require.NoError(t, err)
	defer ro.Close()
	buf := make([]byte, 3)
	_, err = ro.ReadAt(buf, 4096)
	require.NoError(t, err)
	assert.Equal(t, "ufs", string(buf))
	_, err = ro.WriteAt(buf, 0)
	assert.Error(t, err)

	_, err = OpenRaw(filepath.Join(t.TempDir(), "missing"), false)
	assert.Error(t, err)
}
