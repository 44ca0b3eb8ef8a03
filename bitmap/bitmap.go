// Package bitmap is the checker's in-memory map of used fragments.
package bitmap

// Bitmap has one bit per fragment. Bit 0 of byte 0 is fragment 0.
type Bitmap struct {
	bits []byte
	n    int64
}

func New(n int64) *Bitmap {
	return &Bitmap{bits: make([]byte, (n+7)/8), n: n}
}

// Len is the number of fragments covered.
func (bm *Bitmap) Len() int64 {
	return bm.n
}

func (bm *Bitmap) Set(i int64) {
	bm.bits[i>>3] |= 1 << uint(i&7)
}

func (bm *Bitmap) Clear(i int64) {
	bm.bits[i>>3] &^= 1 << uint(i&7)
}

func (bm *Bitmap) Test(i int64) bool {
	return bm.bits[i>>3]&(1<<uint(i&7)) != 0
}

// SetRange marks [start, start+n) used.
func (bm *Bitmap) SetRange(start, n int64) {
	for i := start; i < start+n; i++ {
		bm.Set(i)
	}
}

// Count returns the number of set bits in [start, end).
func (bm *Bitmap) Count(start, end int64) int64 {
	var c int64
	for i := start; i < end; i++ {
		if bm.Test(i) {
			c++
		}
	}
	return c
}

// AllocRun finds the first run of frags free fragments that does not
// cross a block boundary (blocks are frag fragments long), marks it used
// and returns its address. Only blocks that end below limit are
// considered. It returns false when nothing fits.
func (bm *Bitmap) AllocRun(limit int64, frag int64, frags int64) (int64, bool) {
	if frags <= 0 || frags > frag {
		return 0, false
	}
	for i := int64(0); i < limit-frag; i += frag {
		for j := int64(0); j <= frag-frags; j++ {
			if bm.Test(i + j) {
				continue
			}
			k := int64(1)
			for ; k < frags; k++ {
				if bm.Test(i + j + k) {
					break
				}
			}
			if k < frags {
				j += k
				continue
			}
			bm.SetRange(i+j, frags)
			return i + j, true
		}
	}
	return 0, false
}

// Bytes exposes the underlying map.
func (bm *Bitmap) Bytes() []byte {
	return bm.bits
}
