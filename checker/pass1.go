package checker

import (
	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/fs"
)

// pass1 walks every inode, checks its size and block pointers, builds
// the block map and the inode status table, and finds duplicate and
// out-of-range blocks.
func (c *Checker) pass1() {
	sb := c.sb
	for cg := int32(0); cg < sb.Ncg; cg++ {
		start, end := sb.MetadataRange(cg)
		c.bmap.SetRange(start, end-start)
	}

	idesc := &inodesc{typ: descAddr, fn: c.pass1check, truncCheck: true}
	c.nFiles = 0
	c.nBlks = 0
	c.resetinodebuf()
	ino := fs.Ino(0)
	for cg := int32(0); cg < sb.Ncg; cg++ {
		c.checkInterrupt()
		c.inostat[cg] = make([]inoStat, sb.Ipg)
		for i := int32(0); i < sb.Ipg; i, ino = i+1, ino+1 {
			if ino < fs.ROOTINO {
				continue
			}
			c.checkinode(ino, idesc)
		}
	}
	c.freeinodebuf()
}

func (c *Checker) freeinodebuf() {
	c.scan.buf = nil
}

func (c *Checker) checkinode(ino fs.Ino, idesc *inodesc) {
	sb := c.sb
	dp := c.getnextinode(ino)
	mode := dp.Type()
	if mode == 0 {
		if dp.HasBlocks() || dp.Mode != 0 || dp.Size != 0 {
			c.pfatal("PARTIALLY ALLOCATED INODE I=%d", ino)
			if c.reply("CLEAR") {
				c.clearinode(ino)
			}
		}
		return
	}
	c.lastino = ino
	maxsize := sb.Maxfilesize
	if !c.newinofmt {
		maxsize = sb.ComputeMaxfilesize()
	}
	if dp.Size+uint64(sb.Bsize)-1 < dp.Size || dp.Size > maxsize {
		util.DPrintf(1, "bad size %d:", dp.Size)
		c.unknownInode(ino)
		return
	}
	if !c.opts.Preen && mode == fs.IFMT && c.reply("HOLD BAD BLOCK") {
		dp = c.ginode(ino)
		dp.Size = uint64(sb.Fsize)
		dp.Mode = fs.IFREG | 0600
		c.inodirty(ino, dp)
		mode = dp.Type()
	}
	if c.doingLevel2 && mode == fs.IFLNK && dp.Size > 0 &&
		int64(dp.Size) < int64(fs.MAXSYMLINK) && dp.Blocks != 0 {
		c.shortenSymlink(ino)
		dp = c.ginode(ino)
	}
	if c.badPointers(dp) || !ftypeok(dp) {
		c.unknownInode(ino)
		return
	}

	c.nFiles++
	st := c.inoinfo(ino)
	st.linkcnt = int32(dp.Nlink)
	if dp.Nlink <= 0 {
		c.zlnList = append(c.zlnList, ino)
	}
	if mode == fs.IFDIR {
		if dp.Size == 0 {
			st.state = stateDirClear
		} else {
			st.state = stateDir
		}
		c.cacheino(dp, ino)
	} else {
		st.state = stateFile
	}
	st.typ = fs.IFTODT(dp.Mode)
	if c.doingLevel2 && dp.Inumber != 0 {
		dp = c.ginode(ino)
		dp.ConvertOwner()
		c.inodirty(ino, dp)
	}

	c.badblk = 0
	c.dupblk = 0
	idesc.number = ino
	c.ckinode(dp, idesc)
	idesc.entryno *= sb.FsbToDb(1)
	if int64(dp.Blocks) != idesc.entryno {
		c.pwarn("INCORRECT BLOCK COUNT I=%d (%d should be %d)", ino, dp.Blocks, idesc.entryno)
		if c.opts.Preen {
			c.printf(" (CORRECTED)\n")
		} else if !c.reply("CORRECT") {
			return
		}
		dp = c.ginode(ino)
		dp.Blocks = int32(idesc.entryno)
		c.inodirty(ino, dp)
	}
}

// badPointers reports block pointers set beyond what the size needs.
func (c *Checker) badPointers(dp *fs.Dinode) bool {
	sb := c.sb
	mode := dp.Type()
	ndb := fs.Howmany(int64(dp.Size), int64(sb.Bsize))
	if ndb < 0 {
		util.DPrintf(1, "bad size %d ndb %d:", dp.Size, ndb)
		return true
	}
	if mode == fs.IFBLK || mode == fs.IFCHR {
		ndb++
	}
	if mode == fs.IFLNK && c.fastSymlink(dp) {
		// the target is stored in the pointers; anything after it is
		// garbage
		ndb = fs.Howmany(int64(dp.Size), 4)
		if ndb > fs.NDADDR {
			j := ndb - fs.NDADDR
			for ndb = 1; j > 1; j-- {
				ndb *= int64(sb.Nindir)
			}
			ndb += fs.NDADDR
		}
	}
	for j := ndb; j < fs.NDADDR; j++ {
		if dp.Db[j] != 0 {
			util.DPrintf(1, "bad direct addr: %d\n", dp.Db[j])
			return true
		}
	}
	j := 0
	for ndb -= fs.NDADDR; ndb > 0; j++ {
		ndb /= int64(sb.Nindir)
	}
	for ; j < fs.NIADDR; j++ {
		if dp.Ib[j] != 0 {
			util.DPrintf(1, "bad indirect addr: %d\n", dp.Ib[j])
			return true
		}
	}
	return false
}

func (c *Checker) unknownInode(ino fs.Ino) {
	c.pfatal("UNKNOWN FILE TYPE I=%d", ino)
	st := c.inoinfo(ino)
	st.state = stateFileClear
	if c.reply("CLEAR") {
		st.state = stateUnalloc
		c.clearinode(ino)
	}
}

// shortenSymlink moves a short symlink target into the inode.
func (c *Checker) shortenSymlink(ino fs.Ino) {
	sb := c.sb
	dp := c.ginode(ino)
	size := int64(dp.Size)
	if c.chkrange(int64(dp.Db[0]), 1) {
		return
	}
	bp := c.getdatablk(int64(dp.Db[0]), sb.FragRoundup(size))
	target := append([]byte(nil), bp.Data[:size]...)
	c.cache.Release(bp)
	util.DPrintf(1, "converted symlink %d(%s) to fast symlink\n", ino, target)
	dp = c.ginode(ino)
	dp.SetShortlink(target)
	dp.Blocks = 0
	c.inodirty(ino, dp)
}

// cacheino remembers a directory's blocks for pass 2.
func (c *Checker) cacheino(dp *fs.Dinode, ino fs.Ino) {
	sb := c.sb
	blks := fs.Howmany(int64(dp.Size), int64(sb.Bsize))
	if blks > fs.NDADDR {
		blks = fs.NDADDR + fs.NIADDR
	}
	inp := &inoInfo{number: ino, isize: int64(dp.Size)}
	if ino == fs.ROOTINO {
		inp.parent = fs.ROOTINO
	}
	inp.blks = make([]int32, blks)
	for i := int64(0); i < blks; i++ {
		if i < fs.NDADDR {
			inp.blks[i] = dp.Db[i]
		} else {
			inp.blks[i] = dp.Ib[i-fs.NDADDR]
		}
	}
	c.inphead[ino] = inp
	c.inpsort = append(c.inpsort, inp)
}

func (c *Checker) getinoinfo(ino fs.Ino) *inoInfo {
	inp, ok := c.inphead[ino]
	if !ok {
		c.abort("cannot find inode %d", ino)
	}
	return inp
}

func (c *Checker) pass1check(idesc *inodesc) ScanOutcome {
	res := outcome(Keepon)
	blkno := idesc.blkno
	anyout := c.chkrange(blkno, idesc.numfrags)
	if anyout {
		c.blkerror(idesc.number, "BAD", blkno)
		c.badblk++
		if c.badblk >= MAXBAD {
			c.pwarn("EXCESSIVE BAD BLKS I=%d", idesc.number)
			if c.opts.Preen {
				c.printf(" (SKIPPING)\n")
			} else if !c.reply("CONTINUE") {
				c.abort("")
			}
			return outcome(Stop)
		}
	}
	for n := idesc.numfrags; n > 0; n, blkno = n-1, blkno+1 {
		if anyout && c.chkrange(blkno, 1) {
			res.Action = Skip
		} else if !c.bmap.Test(blkno) {
			c.nBlks++
			c.bmap.Set(blkno)
		} else {
			c.blkerror(idesc.number, "DUP", blkno)
			c.dupblk++
			if c.dupblk >= MAXDUP {
				c.pwarn("EXCESSIVE DUP BLKS I=%d", idesc.number)
				if c.opts.Preen {
					c.printf(" (SKIPPING)\n")
				} else if !c.reply("CONTINUE") {
					c.abort("")
				}
				return outcome(Stop)
			}
			c.dups.add(blkno)
		}
		// count the fragment even when it is skipped so the block
		// count check sees every claimed fragment
		idesc.entryno++
	}
	return res
}
