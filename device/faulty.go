package device

import (
	"errors"
	"sync"
)

var ErrMedia = errors.New("device: media error")

// Faulty wraps a device and fails any access touching a sector marked
// bad. It stands in for a disk with unreadable sectors.
type Faulty struct {
	Device
	sectorSize int64
	mu         sync.Mutex
	badRead    map[int64]bool
	badWrite   map[int64]bool
}

func NewFaulty(d Device, sectorSize int64) *Faulty {
	return &Faulty{
		Device:     d,
		sectorSize: sectorSize,
		badRead:    make(map[int64]bool),
		badWrite:   make(map[int64]bool),
	}
}

// FailRead makes reads of sector fail.
func (f *Faulty) FailRead(sector int64) {
	f.mu.Lock()
	f.badRead[sector] = true
	f.mu.Unlock()
}

// FailWrite makes writes of sector fail.
func (f *Faulty) FailWrite(sector int64) {
	f.mu.Lock()
	f.badWrite[sector] = true
	f.mu.Unlock()
}

func (f *Faulty) touches(bad map[int64]bool, n int, off int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := off / f.sectorSize; s*f.sectorSize < off+int64(n); s++ {
		if bad[s] {
			return true
		}
	}
	return false
}

func (f *Faulty) ReadAt(p []byte, off int64) (int, error) {
	if f.touches(f.badRead, len(p), off) {
		return 0, ErrMedia
	}
	return f.Device.ReadAt(p, off)
}

func (f *Faulty) WriteAt(p []byte, off int64) (int, error) {
	if f.touches(f.badWrite, len(p), off) {
		return 0, ErrMedia
	}
	return f.Device.WriteAt(p, off)
}
