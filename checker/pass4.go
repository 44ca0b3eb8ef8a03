package checker

import (
	"github.com/mit-pdos/go-fsck/fs"
)

// pass4 settles link counts: unreferenced inodes are reconnected or
// cleared, and the counts of the rest are adjusted to what pass 2 saw.
func (c *Checker) pass4() {
	zln := make(map[fs.Ino]bool, len(c.zlnList))
	for _, ino := range c.zlnList {
		zln[ino] = true
	}
	idesc := &inodesc{typ: descAddr, fn: c.pass4check}
	for ino := fs.ROOTINO; ino <= c.lastino; ino++ {
		if ino%fs.Ino(c.sb.Ipg) == 0 {
			c.checkInterrupt()
		}
		idesc.number = ino
		st := c.inoinfo(ino)
		switch st.state {
		case stateFile, stateDirFound:
			if n := st.linkcnt; n != 0 {
				c.adjust(idesc, n)
				break
			}
			if zln[ino] {
				delete(zln, ino)
				c.unrefZeroLink(idesc)
			}
		case stateDir:
			c.clri(idesc, "UNREF", 1)
		case stateDirClear:
			if c.ginode(ino).Size == 0 {
				c.clri(idesc, "ZERO LENGTH", 1)
				break
			}
			c.clri(idesc, "BAD/DUP", 1)
		case stateFileClear:
			c.clri(idesc, "BAD/DUP", 1)
		case stateUnalloc:
		default:
			c.abort("BAD STATE %d FOR INODE I=%d", st.state, ino)
		}
	}
}

// unrefZeroLink handles an inode with no links and no entries: one with
// data is offered for reconnection, and cleared otherwise.
func (c *Checker) unrefZeroLink(idesc *inodesc) {
	ino := idesc.number
	if c.ginode(ino).Size == 0 {
		c.clri(idesc, "UNREF", 1)
		return
	}
	if !c.linkup(ino, 0) {
		c.clri(idesc, "UNREF", 0)
		return
	}
	c.settleLinks(ino)
}

// settleLinks sets the link count of a reconnected inode to the number
// of entries now naming it.
func (c *Checker) settleLinks(ino fs.Ino) {
	st := c.inoinfo(ino)
	if st.linkcnt == 0 {
		return
	}
	dp := c.ginode(ino)
	dp.Nlink -= int16(st.linkcnt)
	c.inodirty(ino, dp)
	st.linkcnt = 0
}

// adjust fixes the link count of idesc.number, which is off by lcnt.
func (c *Checker) adjust(idesc *inodesc, lcnt int32) {
	ino := idesc.number
	dp := c.ginode(ino)
	if int32(dp.Nlink) == lcnt {
		if !c.linkup(ino, 0) {
			c.clri(idesc, "UNREF", 0)
			return
		}
		c.settleLinks(ino)
		return
	}
	what := "FILE"
	if dp.Type() == fs.IFDIR {
		what = "DIR"
	}
	c.pwarn("LINK COUNT %s", what)
	c.pinode(ino)
	c.printf(" COUNT %d SHOULD BE %d", dp.Nlink, int32(dp.Nlink)-lcnt)
	if c.opts.Preen {
		if lcnt < 0 {
			c.printf("\n")
			c.pfatal("LINK COUNT INCREASING")
		}
		c.printf(" (ADJUSTED)\n")
	}
	if c.opts.Preen || c.reply("ADJUST") {
		dp = c.ginode(ino)
		dp.Nlink -= int16(lcnt)
		c.inodirty(ino, dp)
	}
}

// pass4check releases the blocks of an inode being cleared. A block
// still claimed by another inode stays allocated.
func (c *Checker) pass4check(idesc *inodesc) ScanOutcome {
	res := outcome(Keepon)
	blkno := idesc.blkno
	for n := idesc.numfrags; n > 0; n, blkno = n-1, blkno+1 {
		if c.chkrange(blkno, 1) {
			res.Action = Skip
		} else if c.bmap.Test(blkno) {
			if !c.dups.release(blkno) {
				c.bmap.Clear(blkno)
				c.nBlks--
			}
		}
	}
	return res
}
