package checker

import (
	"github.com/mit-pdos/go-fsck/fs"
)

// pass1b rescans the inodes for the first claimant of each duplicated
// block, which pass 1 could not know about when it saw the block first.
func (c *Checker) pass1b() {
	sb := c.sb
	pending := make(map[int64]bool, c.dups.len())
	for _, blk := range c.dups.once {
		pending[blk] = true
	}
	idesc := &inodesc{typ: descAddr, fn: func(idesc *inodesc) ScanOutcome {
		return c.pass1bcheck(idesc, pending)
	}}
	ino := fs.Ino(0)
	for cg := int32(0); cg < sb.Ncg; cg++ {
		c.checkInterrupt()
		for i := int32(0); i < sb.Ipg; i, ino = i+1, ino+1 {
			if ino < fs.ROOTINO {
				continue
			}
			idesc.number = ino
			if c.inoinfo(ino).state != stateUnalloc &&
				c.ckinode(c.ginode(ino), idesc).Action == Stop {
				return
			}
		}
	}
}

func (c *Checker) pass1bcheck(idesc *inodesc, pending map[int64]bool) ScanOutcome {
	res := outcome(Keepon)
	blkno := idesc.blkno
	for n := idesc.numfrags; n > 0; n, blkno = n-1, blkno+1 {
		if c.chkrange(blkno, 1) {
			res.Action = Skip
		}
		if !pending[blkno] {
			continue
		}
		c.blkerror(idesc.number, "DUP", blkno)
		delete(pending, blkno)
		if len(pending) == 0 {
			return outcome(Stop)
		}
	}
	return res
}
