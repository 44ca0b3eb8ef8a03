package checker

import (
	"github.com/goose-lang/std"
	"github.com/mit-pdos/go-journal/util"
	"github.com/rodaine/table"

	"github.com/mit-pdos/go-fsck/fs"
)

// pass5Source answers the cylinder group builder from what the earlier
// passes found.
type pass5Source struct {
	c *Checker
}

func (s pass5Source) FragUsed(d int64) bool {
	return s.c.bmap.Test(d)
}

func (s pass5Source) InodeUse(ino fs.Ino) fs.InodeUse {
	switch s.c.inoinfo(ino).state {
	case stateDir, stateDirFound, stateDirClear:
		return fs.InodeDir
	case stateFile, stateFileClear:
		return fs.InodeFile
	}
	return fs.InodeFree
}

// pass5 rebuilds every cylinder group from the block map and the inode
// states and repairs the groups and the summaries that disagree.
func (c *Checker) pass5() {
	sb := c.sb
	c.inoinfo(fs.WINO).state = stateUnalloc

	fixCounts := &inodesc{typ: descAddr}
	fixMaps := &inodesc{typ: descAddr}
	fixSummary := &inodesc{typ: descAddr}
	if c.doingLevel2 {
		fixCounts.fix = fixYes
		fixMaps.fix = fixYes
		fixSummary.fix = fixYes
	}

	// the tail of the last block is past the end of the filesystem
	for i, j := int64(sb.Size), sb.BlkNum(int64(sb.Size)+int64(sb.Frag)-1); i < j; i++ {
		c.bmap.Set(i)
	}

	var tbl table.Table
	if util.Debug >= 2 {
		tbl = table.New("cg", "dirs", "bfree", "ifree", "ffree", "repaired")
		tbl.WithWriter(c.opts.Out)
	}

	var cstotal fs.Csum
	size := int(c.cgReadSize())
	for cg := int32(0); cg < sb.Ncg; cg++ {
		c.checkInterrupt()
		c.cache.Load(c.cgblk, sb.CgTod(cg), size)
		old := fs.NewCg(sb, c.diskCgFmt, c.cgblk.Data)
		if old.Magic() != fs.CG_MAGIC {
			c.pfatal("CG %d: BAD MAGIC NUMBER\n", cg)
		}
		newcg := sb.BuildCg(cg, c.cgFmt, pass5Source{c}, old)
		cs := newcg.Cs()
		cstotal.Add(cs)
		repaired := false

		if cs != c.csums[cg] && c.dofix(fixCounts, "FREE BLK COUNT(S) WRONG IN SUPERBLK") {
			c.csums[cg] = cs
			c.sbdirty()
			repaired = true
		}
		if c.doingLevel1 {
			n := copy(c.cgblk.Data, newcg.Buf)
			zero(c.cgblk.Data[n:])
			c.cgblk.MarkDirty()
			c.addRow(tbl, cg, cs, true)
			continue
		}

		o := newcg.Offsets()
		newmaps := newcg.Buf[o.Iusedoff:o.Nextfreeoff]
		oldmaps := c.cgblk.Data[o.Iusedoff:o.Nextfreeoff]
		if !std.BytesEqual(newmaps, oldmaps) {
			if util.Debug > 0 {
				c.mapDiffs(cg, newcg, c.cgblk.Data)
			}
			if c.dofix(fixMaps, "BLK(S) MISSING IN BIT MAPS") {
				copy(oldmaps, newmaps)
				c.cgblk.MarkDirty()
				repaired = true
			}
		}

		regions := append(newcg.HeaderRegions(), [2]int{int(o.Btotoff), int(o.Iusedoff)})
		differs := false
		for _, r := range regions {
			if !std.BytesEqual(newcg.Buf[r[0]:r[1]], c.cgblk.Data[r[0]:r[1]]) {
				differs = true
			}
		}
		if differs && c.dofix(fixSummary, "SUMMARY INFORMATION BAD") {
			for _, r := range regions {
				copy(c.cgblk.Data[r[0]:r[1]], newcg.Buf[r[0]:r[1]])
			}
			c.cgblk.MarkDirty()
			repaired = true
		}
		if repaired {
			sb.Clean = 0
		}
		c.addRow(tbl, cg, cs, repaired)
	}
	if tbl != nil {
		tbl.Print()
	}

	if cstotal != sb.Cstotal && c.dofix(fixCounts, "FREE BLK COUNT(S) WRONG IN SUPERBLK") {
		sb.Cstotal = cstotal
		sb.Ronly = 0
		sb.Fmod = 0
		sb.Clean = 0
		c.sbdirty()
	}
}

func (c *Checker) addRow(tbl table.Table, cg int32, cs fs.Csum, repaired bool) {
	if tbl == nil {
		return
	}
	tbl.AddRow(cg, cs.Ndir, cs.Nbfree, cs.Nifree, cs.Nffree, repaired)
}

// mapDiffs lists the inodes and fragments whose bits are wrong in the
// on-disk group, read at the offsets of the rebuilt one.
func (c *Checker) mapDiffs(cg int32, want *fs.Cg, have []byte) {
	sb := c.sb
	o := want.Offsets()
	wi := want.Inosused()
	hi := have[o.Iusedoff : int(o.Iusedoff)+len(wi)]
	for i := int64(0); i < int64(sb.Ipg); i++ {
		ino := int64(cg)*int64(sb.Ipg) + i
		if fs.Isset(wi, i) && fs.Isclr(hi, i) {
			c.printf("ALLOCATED INODE %d MARKED FREE\n", ino)
		} else if fs.Isclr(wi, i) && fs.Isset(hi, i) {
			c.printf("UNALLOCATED INODE %d MARKED USED\n", ino)
		}
	}
	wf := want.Blksfree()
	hf := have[o.Freeoff : int(o.Freeoff)+len(wf)]
	dbase, dmax := sb.GroupBounds(cg)
	for i := int64(0); i < dmax-dbase; i++ {
		if fs.Isclr(wf, i) && fs.Isset(hf, i) {
			c.printf("ALLOCATED FRAG %d MARKED FREE\n", dbase+i)
		} else if fs.Isset(wf, i) && fs.Isclr(hf, i) {
			c.printf("UNALLOCATED FRAG %d MARKED USED\n", dbase+i)
		}
	}
}
