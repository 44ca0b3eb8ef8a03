package fs

// MetadataRange returns the fragments [start, end) of group c that hold
// filesystem metadata: boot block, superblock copy, cylinder group
// block and inode table, plus the summary-info blocks in group 0.
func (sb *Superblock) MetadataRange(c int32) (int64, int64) {
	end := sb.CgDMin(c)
	if c == 0 {
		end += Howmany(int64(sb.Cssize), int64(sb.Fsize))
		return sb.CgBase(c), end
	}
	return sb.CgSBlock(c), end
}

// GroupBounds returns the first and one-past-last fragment of group c.
func (sb *Superblock) GroupBounds(c int32) (int64, int64) {
	dbase := sb.CgBase(c)
	dmax := dbase + int64(sb.Fpg)
	if dmax > int64(sb.Size) {
		dmax = int64(sb.Size)
	}
	return dbase, dmax
}

// InodeUse classifies an inode for cylinder group accounting.
type InodeUse int

const (
	InodeFree InodeUse = iota
	InodeFile
	InodeDir
)

// CgSource supplies the facts a cylinder group is computed from.
type CgSource interface {
	FragUsed(d int64) bool
	InodeUse(ino Ino) InodeUse
}

// BuildCg computes the cylinder group c from src in format f. Fields
// that are not derivable (the time stamp and the allocation rotors) are
// carried over from old when it is non-nil and they are in range.
func (sb *Superblock) BuildCg(c int32, f CgFormat, src CgSource, old *Cg) *Cg {
	buf := make([]byte, sb.Cgsize)
	cg := NewCg(sb, f, buf)
	dbase, dmax := sb.GroupBounds(c)

	cg.SetMagic(CG_MAGIC)
	cg.SetCgx(c)
	cg.SetNiblk(int16(sb.Ipg))
	if c == sb.Ncg-1 {
		ncyl := sb.Ncyl % sb.Cpg
		if ncyl == 0 {
			ncyl = sb.Cpg
		}
		cg.SetNcyl(int16(ncyl))
	} else {
		cg.SetNcyl(int16(sb.Cpg))
	}
	cg.SetNdblk(int32(dmax - dbase))
	if f == CgFormatDynamic {
		cg.SetOffsets(sb.DynamicCgOffsets())
	}
	if old != nil {
		cg.SetTime(old.Time())
		if old.Rotor() >= 0 && old.Rotor() < cg.Ndblk() {
			cg.SetRotor(old.Rotor())
		}
		if old.Frotor() >= 0 && old.Frotor() < cg.Ndblk() {
			cg.SetFrotor(old.Frotor())
		}
		if old.Irotor() >= 0 && old.Irotor() < sb.Ipg {
			cg.SetIrotor(old.Irotor())
		}
	} else {
		cg.SetTime(sb.Time)
	}

	var cs Csum
	inosused := cg.Inosused()
	for j := int32(0); j < sb.Ipg; j++ {
		ino := Ino(c)*Ino(sb.Ipg) + Ino(j)
		if ino < ROOTINO {
			Setbit(inosused, int64(j))
			continue
		}
		switch src.InodeUse(ino) {
		case InodeDir:
			cs.Ndir++
			Setbit(inosused, int64(j))
		case InodeFile:
			Setbit(inosused, int64(j))
		default:
			cs.Nifree++
		}
	}

	blksfree := cg.Blksfree()
	frag := int64(sb.Frag)
	for i, d := int64(0), dbase; d < dmax; d, i = d+frag, i+frag {
		var frags int64
		for j := int64(0); j < frag && d+j < dmax; j++ {
			if src.FragUsed(d + j) {
				continue
			}
			Setbit(blksfree, i+j)
			frags++
		}
		if frags == frag {
			cs.Nbfree++
			cyl := sb.CbToCylNo(i)
			cg.SetBtot(cyl, cg.Btot(cyl)+1)
			rpos := sb.CbToRpos(i)
			cg.SetB(cyl, rpos, cg.B(cyl, rpos)+1)
		} else if frags > 0 {
			cs.Nffree += int32(frags)
			fragAcct(cg, blksfree, i, frag)
		}
	}
	cg.SetCs(cs)
	return cg
}

// fragAcct counts the runs of free fragments inside the block at i.
func fragAcct(cg *Cg, freemap []byte, i int64, frag int64) {
	run := 0
	for j := int64(0); j < frag; j++ {
		if Isset(freemap, i+j) {
			run++
			continue
		}
		if run > 0 {
			cg.SetFrsum(run, cg.Frsum(run)+1)
		}
		run = 0
	}
	if run > 0 && int64(run) < frag {
		cg.SetFrsum(run, cg.Frsum(run)+1)
	}
}

// HeaderRegions returns the byte ranges of a cg that hold the
// fixed summary fields.
func (cg *Cg) HeaderRegions() [][2]int {
	if cg.f == CgFormat42 {
		return [][2]int{{0, ocgBtotOff}, {ocgMagicOff, ocgMagicOff + 4}}
	}
	return [][2]int{{0, int(CGSZ)}}
}
