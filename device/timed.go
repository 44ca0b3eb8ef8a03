package device

import (
	"io"
	"time"

	"github.com/mit-pdos/go-fsck/util/stats"
)

// Timed records per-operation latency of the device it wraps.
type Timed struct {
	d   Device
	ops [3]stats.Op
}

func NewTimed(d Device) *Timed {
	return &Timed{d: d}
}

const (
	readOp int = iota
	writeOp
	syncOp
)

var ops = []string{"dev.Read", "dev.Write", "dev.Sync"}

var _ Device = &Timed{}

func (t *Timed) ReadAt(p []byte, off int64) (int, error) {
	defer t.ops[readOp].Record(time.Now())
	return t.d.ReadAt(p, off)
}

func (t *Timed) WriteAt(p []byte, off int64) (int, error) {
	defer t.ops[writeOp].Record(time.Now())
	return t.d.WriteAt(p, off)
}

func (t *Timed) Sync() error {
	defer t.ops[syncOp].Record(time.Now())
	return t.d.Sync()
}

func (t *Timed) Size() int64 {
	return t.d.Size()
}

func (t *Timed) Close() error {
	return t.d.Close()
}

// Label forwards to the wrapped device when it has one.
func (t *Timed) Label() (*Label, error) {
	if l, ok := t.d.(Labeled); ok {
		return l.Label()
	}
	return nil, ErrNoLabel
}

// Writes is the number of completed write calls.
func (t *Timed) Writes() uint32 {
	return t.ops[writeOp].Count()
}

func (t *Timed) WriteStats(w io.Writer) {
	stats.WriteTable(ops, t.ops[:], w)
}

func (t *Timed) ResetStats() {
	for i := range t.ops {
		t.ops[i].Reset()
	}
}
