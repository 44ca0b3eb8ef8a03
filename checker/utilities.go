package checker

import (
	"fmt"
	"sort"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/cache"
	"github.com/mit-pdos/go-fsck/fs"
)

const maxPathLen = 1024

// dupList records blocks claimed more than once. once holds each
// duplicated block a single time; extra holds one entry for every
// further claim.
type dupList struct {
	once  []int64
	extra []int64
	seen  map[int64]bool
}

func newDupList() *dupList {
	return &dupList{seen: make(map[int64]bool)}
}

// add records another claim of blk, which is already marked in use.
func (d *dupList) add(blk int64) {
	if d.seen[blk] {
		d.extra = append(d.extra, blk)
		return
	}
	d.seen[blk] = true
	d.once = append(d.once, blk)
}

// release drops one claim of blk. It returns false when blk was not a
// duplicate, meaning the last claim is gone.
func (d *dupList) release(blk int64) bool {
	for i, b := range d.extra {
		if b == blk {
			d.extra = append(d.extra[:i], d.extra[i+1:]...)
			return true
		}
	}
	if !d.seen[blk] {
		return false
	}
	for i, b := range d.once {
		if b == blk {
			d.once = append(d.once[:i], d.once[i+1:]...)
			break
		}
	}
	delete(d.seen, blk)
	return true
}

func (d *dupList) isDup(blk int64) bool {
	return d.seen[blk]
}

func (d *dupList) len() int {
	return len(d.once)
}

func (d *dupList) all() []int64 {
	all := append(append([]int64(nil), d.once...), d.extra...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

// chkrange reports whether the cnt fragments at blk fall outside the
// data area of their group.
func (c *Checker) chkrange(blk int64, cnt int64) bool {
	sb := c.sb
	if cnt <= 0 || blk <= 0 || blk >= c.maxfsblock || cnt > c.maxfsblock-blk {
		return true
	}
	cg := sb.DtoG(blk)
	if blk < sb.CgDMin(cg) {
		if blk+cnt > sb.CgSBlock(cg) {
			util.DPrintf(2, "blk %d < cgdmin %d (cg %d)\n", blk, sb.CgDMin(cg), cg)
			return true
		}
	} else if blk+cnt > sb.CgBase(cg+1) {
		util.DPrintf(2, "blk %d > cgbase %d (cg %d)\n", blk+cnt, sb.CgBase(cg+1), cg)
		return true
	}
	return false
}

func (c *Checker) getdatablk(blkno int64, size int64) *cache.Buf {
	bp, err := c.cache.Get(blkno, int(size))
	if err != nil {
		c.abort("deadlocked buffer pool: %v", err)
	}
	return bp
}

// getdirblk keeps the directory block being scanned pinned across
// visitor calls.
func (c *Checker) getdirblk(blkno int64, size int64) *cache.Buf {
	if c.pdirbp != nil {
		if c.pdirbp.Blkno == blkno && c.pdirbp.Size() == int(size) {
			return c.pdirbp
		}
		c.cache.Release(c.pdirbp)
		c.pdirbp = nil
	}
	c.pdirbp = c.getdatablk(blkno, size)
	return c.pdirbp
}

// allocblk finds frags free fragments within one block and marks them
// used, returning 0 when the filesystem is full.
func (c *Checker) allocblk(frags int64) int64 {
	blk, ok := c.bmap.AllocRun(c.maxfsblock, int64(c.sb.Frag), frags)
	if !ok {
		return 0
	}
	c.nBlks += frags
	return blk
}

func (c *Checker) freeblk(blk int64, frags int64) {
	idesc := &inodesc{blkno: blk, numfrags: frags}
	c.pass4check(idesc)
}

// blkerror reports a bad or duplicate block and schedules the owning
// inode to be cleared.
func (c *Checker) blkerror(ino fs.Ino, kind string, blk int64) {
	c.pfatal("%d %s I=%d", blk, kind, ino)
	c.printf("\n")
	st := c.inoinfo(ino)
	switch st.state {
	case stateFile:
		st.state = stateFileClear
	case stateDir, stateDirFound:
		st.state = stateDirClear
	case stateFileClear, stateDirClear:
	default:
		c.abort("BAD STATE %d TO BLKERR", st.state)
	}
}

// getpathname returns the path of ino, found in directory curdir, by
// following ".." up to the root. Unknown components are "?".
func (c *Checker) getpathname(curdir, ino fs.Ino) string {
	if curdir == ino && ino == fs.ROOTINO {
		return "/"
	}
	if c.pathBusy || !c.isDirState(curdir) {
		return "?"
	}
	c.pathBusy = true
	defer func() { c.pathBusy = false }()

	path := ""
	idesc := &inodesc{typ: descData, fix: fixIgnore}
	lookup := curdir != ino
	if lookup {
		idesc.parent = curdir
	}
	for lookup || ino != fs.ROOTINO {
		if !lookup {
			if !c.isDirState(ino) {
				break
			}
			idesc.number = ino
			idesc.fn = c.findino
			idesc.name = ".."
			if !c.ckinode(c.ginode(ino), idesc).Found {
				break
			}
		}
		lookup = false
		idesc.number, idesc.parent = idesc.parent, ino
		if !c.isDirState(idesc.number) {
			break
		}
		idesc.fn = c.findname
		if !c.ckinode(c.ginode(idesc.number), idesc).Found {
			break
		}
		path = "/" + idesc.name + path
		if len(path) > maxPathLen {
			break
		}
		ino = idesc.number
	}
	if ino != fs.ROOTINO {
		path = "?" + path
	}
	return path
}

func (c *Checker) isDirState(ino fs.Ino) bool {
	if ino < fs.ROOTINO || ino >= c.maxino {
		return false
	}
	st := c.inoinfo(ino).state
	return st == stateDir || st == stateDirFound
}

// findino looks for the entry named idesc.name and leaves its inode in
// idesc.parent.
func (c *Checker) findino(idesc *inodesc) ScanOutcome {
	d := c.dirFmt.Decode(idesc.dirp)
	if d.Ino == 0 {
		return outcome(Keepon)
	}
	if d.Name == idesc.name && d.Ino >= fs.ROOTINO && d.Ino < c.maxino {
		idesc.parent = d.Ino
		return ScanOutcome{Action: Stop, Found: true}
	}
	return outcome(Keepon)
}

// findname looks for the entry for inode idesc.parent and leaves its
// name in idesc.name.
func (c *Checker) findname(idesc *inodesc) ScanOutcome {
	d := c.dirFmt.Decode(idesc.dirp)
	if d.Ino != idesc.parent {
		return outcome(Keepon)
	}
	idesc.name = d.Name
	return ScanOutcome{Action: Stop, Found: true}
}

func ftypeok(dp *fs.Dinode) bool {
	switch dp.Type() {
	case fs.IFDIR, fs.IFREG, fs.IFBLK, fs.IFCHR, fs.IFLNK, fs.IFSOCK, fs.IFIFO:
		return true
	}
	util.DPrintf(1, "bad file type 0%o\n", dp.Mode)
	return false
}

// lftempname names an orphan in lost+found after its inode number,
// zero-padded to the width of the largest inode number.
func (c *Checker) lftempname(ino fs.Ino) string {
	width := len(fmt.Sprint(c.maxino))
	return fmt.Sprintf("#%0*d", width, ino)
}
