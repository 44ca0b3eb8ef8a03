package checker

import (
	"os/user"
	"strconv"
	"time"

	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/fs"
)

// Action tells a scan how to go on once a visitor returns.
type Action uint8

const (
	Keepon Action = iota // on to the next block or entry
	Skip                 // do not descend into this block
	Stop                 // end the scan
)

// ScanOutcome is what an inode or directory visitor tells its caller.
type ScanOutcome struct {
	Action  Action
	Found   bool // a lookup matched
	Altered bool // the entry handed to the visitor was rewritten
}

func outcome(a Action) ScanOutcome {
	return ScanOutcome{Action: a}
}

type descType int

const (
	descAddr descType = iota // visit block addresses
	descData                 // visit directory entries
)

// inodesc carries a visitor and its state through ckinode.
type inodesc struct {
	typ      descType
	fn       func(*inodesc) ScanOutcome
	number   fs.Ino
	blkno    int64
	numfrags int64
	filesize int64
	loc      int64 // offset of the next entry in the block
	entryno  int64 // fragments seen, or entries seen
	dirp     []byte
	name     string
	parent   fs.Ino
	fix      fixState
	// truncCheck clears pointers past the end of the file in indirect
	// blocks.
	truncCheck bool
	// convert rewrites every directory block scanned in the new entry
	// format.
	convert bool
}

type inoState uint8

const (
	stateUnalloc inoState = iota
	stateFile
	stateDir
	stateDirFound // directory reached from the root
	stateDirClear
	stateFileClear
)

type inoStat struct {
	state   inoState
	typ     uint8 // DT_ type for directory entries
	linkcnt int32 // links not yet accounted for
}

// inoInfo is what pass 2 and 3 need about a directory.
type inoInfo struct {
	number fs.Ino
	parent fs.Ino // directory whose entry was found first
	dotdot fs.Ino // what ".." says
	isize  int64
	blks   []int32
}

// inoinfo returns the status of ino. Inodes beyond the table of their
// group are unallocated.
func (c *Checker) inoinfo(ino fs.Ino) *inoStat {
	ipg := fs.Ino(c.sb.Ipg)
	cg := ino / ipg
	if int(cg) >= len(c.inostat) {
		c.abort("inoinfo: inode %d out of range", ino)
	}
	seg := c.inostat[cg]
	off := ino % ipg
	if int(off) >= len(seg) {
		c.unalloc = inoStat{}
		return &c.unalloc
	}
	return &seg[off]
}

// ckinode calls idesc.fn for every block of dp, or for every directory
// entry when idesc.typ is descData.
func (c *Checker) ckinode(dp *fs.Dinode, idesc *inodesc) ScanOutcome {
	sb := c.sb
	if idesc.fix != fixIgnore {
		idesc.fix = fixDontKnow
	}
	idesc.entryno = 0
	idesc.filesize = int64(dp.Size)
	mode := dp.Type()
	if mode == fs.IFBLK || mode == fs.IFCHR || (mode == fs.IFLNK && c.fastSymlink(dp)) {
		return outcome(Keepon)
	}
	dino := *dp
	bsize := int64(sb.Bsize)
	frag := int64(sb.Frag)
	size := int64(dino.Size)
	ndb := fs.Howmany(size, bsize)
	for i := 0; i < fs.NDADDR; i++ {
		ndb--
		if ndb == 0 && sb.BlkOff(size) != 0 {
			idesc.numfrags = sb.NumFrags(sb.FragRoundup(sb.BlkOff(size)))
		} else {
			idesc.numfrags = frag
		}
		if dino.Db[i] == 0 {
			continue
		}
		idesc.blkno = int64(dino.Db[i])
		var ret ScanOutcome
		if idesc.typ == descAddr {
			ret = idesc.fn(idesc)
		} else {
			ret = c.dirscan(idesc)
		}
		if ret.Action == Stop {
			return ret
		}
	}
	idesc.numfrags = frag
	remsize := size - bsize*fs.NDADDR
	sizepb := bsize
	for i := 0; i < fs.NIADDR; i++ {
		if dino.Ib[i] != 0 {
			idesc.blkno = int64(dino.Ib[i])
			ret := c.iblock(idesc, i+1, remsize)
			if ret.Action == Stop {
				return ret
			}
		}
		sizepb *= int64(sb.Nindir)
		remsize -= sizepb
	}
	return outcome(Keepon)
}

func (c *Checker) iblock(idesc *inodesc, ilevel int, isize int64) ScanOutcome {
	sb := c.sb
	var fn func(*inodesc) ScanOutcome
	if idesc.typ == descAddr {
		fn = idesc.fn
		if n := fn(idesc); n.Action != Keepon {
			return n
		}
	} else {
		fn = c.dirscan
	}
	if c.chkrange(idesc.blkno, idesc.numfrags) {
		return outcome(Skip)
	}
	bp := c.getdatablk(idesc.blkno, int64(sb.Bsize))
	defer c.cache.Release(bp)
	ilevel--
	nindir := int64(sb.Nindir)
	sizepb := int64(sb.Bsize)
	for i := 0; i < ilevel; i++ {
		sizepb *= nindir
	}
	nif := fs.Howmany(isize, sizepb)
	if nif > nindir {
		nif = nindir
	}
	if nif < 0 {
		nif = 0
	}
	if idesc.truncCheck && nif < nindir {
		for i := nif; i < nindir; i++ {
			if machine.UInt32Get(bp.Data[4*i:]) == 0 {
				continue
			}
			if c.dofix(idesc, "PARTIALLY TRUNCATED INODE I="+strconv.Itoa(int(idesc.number))) {
				machine.UInt32Put(bp.Data[4*i:], 0)
				bp.MarkDirty()
			}
		}
		c.cache.Flush(bp)
	}
	for i := int64(0); i < nif; i++ {
		ptr := int32(machine.UInt32Get(bp.Data[4*i:]))
		if ptr == 0 {
			continue
		}
		idesc.blkno = int64(ptr)
		var n ScanOutcome
		if ilevel == 0 {
			n = fn(idesc)
		} else {
			n = c.iblock(idesc, ilevel, isize)
		}
		if n.Action == Stop {
			return n
		}
	}
	return outcome(Keepon)
}

func (c *Checker) fastSymlink(dp *fs.Dinode) bool {
	return int64(dp.Size) < int64(c.sb.Maxsymlinklen) ||
		(c.sb.Maxsymlinklen == 0 && dp.Blocks == 0)
}

// ginode returns a copy of inode ino. The block holding it stays pinned
// until a different block is needed.
func (c *Checker) ginode(ino fs.Ino) *fs.Dinode {
	sb := c.sb
	if ino < fs.ROOTINO || ino >= c.maxino {
		c.abort("bad inode number %d to ginode", ino)
	}
	blk := sb.InoToFsba(ino)
	if c.pbp == nil || c.pbp.Blkno != blk {
		if c.pbp != nil {
			c.cache.Release(c.pbp)
			c.pbp = nil
		}
		c.pbp = c.getdatablk(blk, int64(sb.Bsize))
	}
	off := int64(sb.InoToFsbo(ino)) * fs.DINODESZ
	return fs.DecodeDinode(c.pbp.Data[off:])
}

// inodirty stores dp as inode ino.
func (c *Checker) inodirty(ino fs.Ino, dp *fs.Dinode) {
	c.ginode(ino)
	off := int64(c.sb.InoToFsbo(ino)) * fs.DINODESZ
	copy(c.pbp.Data[off:off+fs.DINODESZ], dp.Encode())
	c.pbp.MarkDirty()
}

// inodeScan reads the inode table sequentially in large chunks,
// bypassing the cache.
type inodeScan struct {
	buf         []byte
	pos         int64
	nextino     fs.Ino
	lastinum    fs.Ino
	readcnt     int64
	readpercg   int64
	fullcnt     int64
	partialcnt  int64
	bufsize     int64
	partialsize int64
}

const inoBufSize = 56 * 1024

func (c *Checker) resetinodebuf() {
	sb := c.sb
	s := &c.scan
	*s = inodeScan{buf: s.buf}
	s.bufsize = sb.BlkRoundup(inoBufSize)
	s.fullcnt = s.bufsize / fs.DINODESZ
	s.readpercg = int64(sb.Ipg) / s.fullcnt
	s.partialcnt = int64(sb.Ipg) % s.fullcnt
	s.partialsize = s.partialcnt * fs.DINODESZ
	if s.partialcnt != 0 {
		s.readpercg++
	} else {
		s.partialcnt = s.fullcnt
		s.partialsize = s.bufsize
	}
	if int64(len(s.buf)) < s.bufsize {
		s.buf = make([]byte, s.bufsize)
	}
	for s.nextino < fs.ROOTINO {
		c.getnextinode(s.nextino)
	}
}

// getnextinode returns inode ino, which must be the one after the last
// inode returned.
func (c *Checker) getnextinode(ino fs.Ino) *fs.Dinode {
	sb := c.sb
	s := &c.scan
	if ino != s.nextino || ino >= c.maxino {
		c.abort("bad inode number %d to nextinode", ino)
	}
	s.nextino++
	if ino >= s.lastinum {
		s.readcnt++
		blk := sb.FsbToDb(sb.InoToFsba(s.lastinum))
		var size int64
		if s.readcnt%s.readpercg == 0 {
			size = s.partialsize
			s.lastinum += fs.Ino(s.partialcnt)
		} else {
			size = s.bufsize
			s.lastinum += fs.Ino(s.fullcnt)
		}
		c.io.ReadSectors(s.buf[:size], blk)
		s.pos = 0
	}
	dp := fs.DecodeDinode(s.buf[s.pos:])
	s.pos += fs.DINODESZ
	return dp
}

func (c *Checker) clearinode(ino fs.Ino) {
	c.inodirty(ino, &fs.Dinode{})
}

// clri clears an inode the operator agreed to remove.
func (c *Checker) clri(idesc *inodesc, kind string, flag int) {
	dp := c.ginode(idesc.number)
	if flag == 1 {
		what := "FILE"
		if dp.Type() == fs.IFDIR {
			what = "DIR"
		}
		c.pwarn("%s %s", kind, what)
		c.pinode(idesc.number)
	}
	if c.opts.Preen || c.reply("CLEAR") {
		if c.opts.Preen {
			c.printf(" (CLEARED)\n")
		}
		c.nFiles--
		c.ckinode(dp, &inodesc{typ: descAddr, fn: c.pass4check, number: idesc.number})
		c.clearinode(idesc.number)
		c.inoinfo(idesc.number).state = stateUnalloc
	}
}

// pinode prints what identifies an inode to the operator.
func (c *Checker) pinode(ino fs.Ino) {
	c.printf(" I=%d ", ino)
	if ino < fs.ROOTINO || ino >= c.maxino {
		return
	}
	dp := c.ginode(ino)
	uid, _ := dp.Owner(c.inoFmt)
	c.printf(" OWNER=%s ", ownerName(uid))
	c.printf("MODE=%o\n", dp.Mode)
	if c.opts.Preen {
		c.printf("%s: ", c.name)
	}
	c.printf("SIZE=%d ", dp.Size)
	mtime := time.Unix(int64(dp.Mtime), 0)
	c.printf("MTIME=%s ", mtime.Format("Jan _2 15:04 2006"))
}

func ownerName(uid uint32) string {
	id := strconv.FormatUint(uint64(uid), 10)
	if u, err := user.LookupId(id); err == nil {
		return u.Username
	}
	return id
}

// allocino allocates an inode of the given mode with one fragment of
// storage, searching from request. It returns 0 when none is free.
func (c *Checker) allocino(request fs.Ino, mode uint16) fs.Ino {
	sb := c.sb
	if request == 0 {
		request = fs.ROOTINO
	} else if c.inoinfo(request).state != stateUnalloc {
		return 0
	}
	ino := request
	for ; ino < c.maxino; ino++ {
		if c.inoinfo(ino).state == stateUnalloc {
			break
		}
	}
	if ino >= c.maxino {
		return 0
	}
	switch mode & fs.IFMT {
	case fs.IFDIR:
		c.inoinfo(ino).state = stateDir
	case fs.IFREG, fs.IFLNK:
		c.inoinfo(ino).state = stateFile
	default:
		return 0
	}
	blk := c.allocblk(1)
	if blk == 0 {
		c.inoinfo(ino).state = stateUnalloc
		return 0
	}
	now := int32(time.Now().Unix())
	dp := &fs.Dinode{
		Mode:   mode,
		Size:   uint64(sb.Fsize),
		Blocks: int32(sb.FsbToDb(1)),
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	dp.Db[0] = int32(blk)
	c.inodirty(ino, dp)
	if ino > c.lastino {
		c.lastino = ino
	}
	c.nFiles++
	st := c.inoinfo(ino)
	st.typ = fs.IFTODT(mode)
	util.DPrintf(1, "allocino: %d mode %o blk %d\n", ino, mode, blk)
	return ino
}

// freeino releases an inode and its blocks.
func (c *Checker) freeino(ino fs.Ino) {
	dp := c.ginode(ino)
	c.ckinode(dp, &inodesc{typ: descAddr, fn: c.pass4check, number: ino})
	c.clearinode(ino)
	c.inoinfo(ino).state = stateUnalloc
	c.nFiles--
}
