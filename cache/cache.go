package cache

import (
	"errors"

	"github.com/mit-pdos/go-journal/util"
)

// A fixed-size cache of filesystem blocks. Slots live in an arena and
// are named by Handle; the LRU list is threaded through the slots by
// handle rather than by pointer. Get pins a slot until Release; only
// unpinned slots are evicted, least recently used first. Dirty slots
// are written back when evicted or flushed.

var ErrCacheDeadlock = errors.New("cache: no unpinned buffer to evict")

type Handle int32

const nilHandle Handle = -1

// Buf holds one block read from the device.
type Buf struct {
	h     Handle
	Blkno int64 // fragment address; -1 when empty
	Data  []byte
	dirty bool
	// Errs is the number of sectors zero-filled by the last read.
	Errs int
	pin  int

	prev Handle
	next Handle
}

// NewBuf returns a buffer not managed by any cache, for callers that
// want a dedicated slot (the superblock, the current cylinder group,
// the directory block being scanned).
func NewBuf(size int) *Buf {
	return &Buf{h: nilHandle, Blkno: -1, Data: make([]byte, 0, size), prev: nilHandle, next: nilHandle}
}

func (b *Buf) MarkDirty() {
	b.dirty = true
}

func (b *Buf) Dirty() bool {
	return b.dirty
}

func (b *Buf) Size() int {
	return len(b.Data)
}

type Cache struct {
	io      *IO
	fsbtodb uint
	slots   []Buf
	index   map[int64]Handle
	head    Handle // most recently used
	tail    Handle // least recently used
	maxsize int

	Lookups uint64
	Hits    uint64
}

// New creates a cache of nslots buffers of at most maxsize bytes.
// fsbtodb converts fragment addresses to sector addresses.
func New(io *IO, fsbtodb uint, nslots int, maxsize int) *Cache {
	c := &Cache{
		io:      io,
		fsbtodb: fsbtodb,
		slots:   make([]Buf, nslots),
		index:   make(map[int64]Handle, nslots),
		head:    nilHandle,
		tail:    nilHandle,
		maxsize: maxsize,
	}
	for i := range c.slots {
		b := &c.slots[i]
		b.h = Handle(i)
		b.Blkno = -1
		b.Data = make([]byte, 0, maxsize)
		b.prev = nilHandle
		b.next = nilHandle
		c.pushFront(b.h)
	}
	return c
}

// NSlots reports the number of buffers.
func (c *Cache) NSlots() int {
	return len(c.slots)
}

func (c *Cache) IO() *IO {
	return c.io
}

func (c *Cache) slot(h Handle) *Buf {
	return &c.slots[h]
}

func (c *Cache) unlink(h Handle) {
	b := c.slot(h)
	if b.prev != nilHandle {
		c.slot(b.prev).next = b.next
	} else {
		c.head = b.next
	}
	if b.next != nilHandle {
		c.slot(b.next).prev = b.prev
	} else {
		c.tail = b.prev
	}
	b.prev = nilHandle
	b.next = nilHandle
}

func (c *Cache) pushFront(h Handle) {
	b := c.slot(h)
	b.prev = nilHandle
	b.next = c.head
	if c.head != nilHandle {
		c.slot(c.head).prev = h
	}
	c.head = h
	if c.tail == nilHandle {
		c.tail = h
	}
}

func (c *Cache) promote(h Handle) {
	if c.head == h {
		return
	}
	c.unlink(h)
	c.pushFront(h)
}

// victim finds the least recently used unpinned slot.
func (c *Cache) victim() (Handle, bool) {
	for h := c.tail; h != nilHandle; h = c.slot(h).prev {
		if c.slot(h).pin == 0 {
			return h, true
		}
	}
	return nilHandle, false
}

// Get returns the block at fragment address blkno, size bytes long,
// pinned until Release.
func (c *Cache) Get(blkno int64, size int) (*Buf, error) {
	if size > c.maxsize {
		panic("cache.Get: size")
	}
	if blkno < 0 || util.SumOverflows(uint64(blkno)<<c.fsbtodb, uint64(size)) {
		panic("cache.Get: blkno")
	}
	c.Lookups++
	if h, ok := c.index[blkno]; ok {
		b := c.slot(h)
		if b.Size() == size {
			c.Hits++
			b.pin++
			c.promote(h)
			return b, nil
		}
		if b.pin > 0 {
			panic("cache.Get: resize of pinned buffer")
		}
		c.Flush(b)
		delete(c.index, blkno)
		b.Blkno = -1
	}
	h, ok := c.victim()
	if !ok {
		return nil, ErrCacheDeadlock
	}
	b := c.slot(h)
	if b.Blkno >= 0 {
		util.DPrintf(10, "cache: evict %d\n", b.Blkno)
		c.Flush(b)
		delete(c.index, b.Blkno)
	}
	c.fill(b, blkno, size)
	c.index[blkno] = h
	b.pin++
	c.promote(h)
	return b, nil
}

func (c *Cache) fill(b *Buf, blkno int64, size int) {
	b.Data = b.Data[:size]
	b.Blkno = blkno
	b.Errs = c.io.ReadSectors(b.Data, blkno<<c.fsbtodb)
}

// Load points a standalone buffer at blkno, writing back whatever it
// held before.
func (c *Cache) Load(b *Buf, blkno int64, size int) {
	if b.Blkno == blkno && b.Size() == size {
		return
	}
	c.Flush(b)
	if cap(b.Data) < size {
		b.Data = make([]byte, 0, size)
	}
	c.fill(b, blkno, size)
}

// Release unpins b.
func (c *Cache) Release(b *Buf) {
	if b.h == nilHandle {
		return
	}
	if b.pin <= 0 {
		panic("cache.Release")
	}
	b.pin--
}

// Flush writes b back if it is dirty.
func (c *Cache) Flush(b *Buf) {
	if !b.dirty {
		return
	}
	b.dirty = false
	if !c.io.Writable() {
		c.io.rep.Pfatal("WRITING IN READ_ONLY MODE.\n")
		return
	}
	if b.Errs != 0 {
		partially := "PARTIALLY "
		if b.Errs == b.Size()>>9 {
			partially = ""
		}
		c.io.rep.Pfatal("WRITING %sZERO'ED BLOCK %d TO DISK\n", partially, b.Blkno<<c.fsbtodb)
	}
	b.Errs = 0
	c.io.WriteSectors(b.Data, b.Blkno<<c.fsbtodb)
}

// FlushAll writes back every dirty slot and reports how many slots are
// still pinned.
func (c *Cache) FlushAll() int {
	pinned := 0
	for i := range c.slots {
		b := &c.slots[i]
		c.Flush(b)
		if b.pin > 0 {
			pinned++
		}
	}
	return pinned
}

// Invalidate forgets a cached copy of blkno without writing it.
func (c *Cache) Invalidate(blkno int64) {
	h, ok := c.index[blkno]
	if !ok {
		return
	}
	b := c.slot(h)
	b.dirty = false
	b.Blkno = -1
	delete(c.index, blkno)
}
