package bitmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetClear(t *testing.T) {
	bm := New(100)
	assert.False(t, bm.Test(42))
	bm.Set(42)
	assert.True(t, bm.Test(42))
	assert.Equal(t, int64(1), bm.Count(0, 100))
	bm.Clear(42)
	assert.False(t, bm.Test(42))
}

func TestAllocRunFirstFit(t *testing.T) {
	bm := New(64)
	bm.SetRange(0, 8)
	bm.SetRange(8, 3)
	a, ok := bm.AllocRun(64, 8, 4)
	assert.True(t, ok)
	assert.Equal(t, int64(11), a)
	assert.Equal(t, int64(8+3+4), bm.Count(0, 64))
}

func TestAllocRunNoBlockCrossing(t *testing.T) {
	bm := New(32)
	// leave frags 6,7 and 8,9 free; a 4-frag run may not straddle 7/8
	bm.SetRange(0, 6)
	bm.SetRange(10, 6)
	a, ok := bm.AllocRun(32, 8, 4)
	assert.True(t, ok)
	assert.Equal(t, int64(16), a)
}

func TestAllocRunExhausted(t *testing.T) {
	bm := New(16)
	bm.SetRange(0, 16)
	_, ok := bm.AllocRun(16, 8, 1)
	assert.False(t, ok)
}
