package checker

import (
	"errors"
	"fmt"

	"github.com/goose-lang/std"
	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/bitmap"
	"github.com/mit-pdos/go-fsck/cache"
	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
)

var (
	errClean    = errors.New("filesystem clean")
	errDeclined = errors.New("conversion declined")
)

func (c *Checker) label() *device.Label {
	if c.opts.Label != nil {
		return c.opts.Label
	}
	if ld, ok := c.dev.(device.Labeled); ok {
		if l, err := ld.Label(); err == nil {
			return l
		}
	}
	return nil
}

// setup loads and validates the superblock, recovering from an
// alternate when the primary is unusable, and sizes the run's tables.
func (c *Checker) setup() error {
	var secsize int64
	if l := c.label(); l != nil {
		secsize = int64(l.SectorSize)
	}
	c.io = cache.NewIO(c.dev, !c.opts.No, secsize, ioReporter{c})
	if !c.opts.Preen {
		c.printf("** %s", c.name)
		if c.opts.No {
			c.printf(" (NO WRITE)")
		}
		c.printf("\n")
	}
	c.sbRaw = make([]byte, fs.SBSIZE)
	if err := c.readsb(true); err != nil {
		if c.altsb != 0 || c.opts.Preen {
			return err
		}
		proto := c.calcsb()
		if proto == nil {
			return err
		}
		if !c.reply("LOOK FOR ALTERNATE SUPERBLOCKS") {
			return err
		}
		found := false
		for cg := int32(0); cg < proto.Ncg; cg++ {
			c.altsb = proto.FsbToDb(proto.CgSBlock(cg))
			if c.readsb(false) == nil {
				found = true
				break
			}
		}
		if !found {
			c.altsb = 0
			c.printf("SEARCH FOR ALTERNATE SUPER-BLOCK FAILED. YOU MUST USE THE\n")
			c.printf("-b OPTION TO FSCK TO SPECIFY THE LOCATION OF AN ALTERNATE\n")
			c.printf("SUPER-BLOCK TO SUPPLY NEEDED INFORMATION; SEE fsck(8).\n")
			return err
		}
		c.pwarn("USING ALTERNATE SUPERBLOCK AT %d\n", c.altsb)
	}
	sb := c.sb
	util.DPrintf(1, "checker %s: superblock at %d: %v\n", c.runID, c.sbSector, sb.Layout())

	if c.opts.Preen && !c.opts.Force && sb.Clean != 0 && sb.Flags&fs.FS_UNCLEAN == 0 {
		c.pwarn("FILESYSTEM CLEAN; SKIPPING CHECKS\n")
		return errClean
	}

	c.maxfsblock = int64(sb.Size)
	c.maxino = sb.MaxIno()
	c.sanityFixes()
	if err := c.chooseFormats(); err != nil {
		return err
	}
	if c.altDirty && c.altsb == 0 && c.io.Writable() {
		c.flushAlternate(sb.Ncg - 1)
		c.altDirty = false
	}
	if err := c.readCsums(); err != nil {
		return err
	}

	c.bmap = bitmap.New(c.maxfsblock + int64(sb.Frag))
	c.inostat = make([][]inoStat, sb.Ncg)
	c.inphead = make(map[fs.Ino]*inoInfo)
	c.dups = newDupList()
	nslots := int(c.opts.BufferBudget / int64(sb.Bsize))
	if nslots < c.opts.MinBuffers {
		nslots = c.opts.MinBuffers
	}
	c.cache = cache.New(c.io, uint(sb.Fsbtodb), nslots, int(sb.Bsize))
	c.cgblk = cache.NewBuf(int(c.cgReadSize()))
	return nil
}

// readsb reads the superblock at the primary location, or at altsb, and
// checks it. With listerr each problem is reported.
func (c *Checker) readsb(listerr bool) error {
	super := fs.SBLOCK
	if c.altsb != 0 {
		super = c.altsb
	}
	if super*fs.DEV_BSIZE+fs.SBSIZE > c.dev.Size() {
		return fmt.Errorf("%w: sector %d beyond end of device", ErrNoSuperblock, super)
	}
	if c.io.ReadSectors(c.sbRaw, super) != 0 {
		return fmt.Errorf("%w: cannot read sector %d", ErrNoSuperblock, super)
	}
	sb, err := fs.DecodeSuperblock(c.sbRaw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoSuperblock, err)
	}
	bad := func(base error, msg string) error {
		if listerr {
			c.pfatal("BAD SUPER BLOCK: %s\n", msg)
		}
		return fmt.Errorf("%w: %s", base, msg)
	}
	if sb.Magic != fs.FS_MAGIC {
		return bad(ErrBadMagic, "MAGIC NUMBER WRONG")
	}
	if sb.Ncg < 1 {
		return bad(ErrNoSuperblock, "NCG OUT OF RANGE")
	}
	if sb.Cpg < 1 {
		return bad(ErrNoSuperblock, "CPG OUT OF RANGE")
	}
	if int64(sb.Ncg)*int64(sb.Cpg) < int64(sb.Ncyl) ||
		int64(sb.Ncg-1)*int64(sb.Cpg) >= int64(sb.Ncyl) {
		return bad(ErrNoSuperblock, "NCYL LESS THAN NCG*CPG")
	}
	if int64(sb.Sbsize) > fs.SBSIZE || int64(sb.Sbsize) < fs.SUPERSZ {
		return bad(ErrNoSuperblock, "SIZE PREPOSTEROUSLY LARGE")
	}
	if !fs.IsPow2(sb.Fsize) || !fs.IsPow2(sb.Bsize) || int64(sb.Fsize) < fs.DEV_BSIZE ||
		sb.Bsize < sb.Fsize || sb.Bsize > fs.MAXBSIZE || sb.Bsize/sb.Fsize > fs.MAXFRAG ||
		sb.Frag != sb.Bsize/sb.Fsize {
		return bad(ErrNoSuperblock, "BLOCK SIZES INCONSISTENT")
	}
	derived := &fs.Superblock{Bsize: sb.Bsize, Fsize: sb.Fsize}
	derived.SetDerived()
	if sb.Fsbtodb != derived.Fsbtodb || sb.Fshift != derived.Fshift ||
		sb.Bshift != derived.Bshift || sb.Fragshift != derived.Fragshift ||
		sb.Nindir != derived.Nindir || sb.Inopb != derived.Inopb {
		return bad(ErrNoSuperblock, "DERIVED SIZES INCONSISTENT")
	}
	if sb.Ipg < sb.Inopb || sb.Ipg%sb.Inopb != 0 || sb.Fpg < sb.Frag || sb.Fpg%sb.Frag != 0 {
		return bad(ErrNoSuperblock, "GROUP SIZES INCONSISTENT")
	}
	if sb.Size <= 0 || int64(sb.Size) > int64(sb.Ncg)*int64(sb.Fpg) ||
		int64(sb.Size)*int64(sb.Fsize) > c.dev.Size() {
		return bad(ErrNoSuperblock, "SIZE OUT OF RANGE")
	}
	if sb.Sblkno <= 0 || sb.Cblkno <= sb.Sblkno || sb.Iblkno <= sb.Cblkno ||
		sb.Dblkno <= sb.Iblkno || sb.Dblkno > sb.Fpg {
		return bad(ErrNoSuperblock, "GROUP LAYOUT INCONSISTENT")
	}
	if sb.Nrpos <= 0 && sb.Postblformat != fs.FS_42POSTBLFMT {
		return bad(ErrNoSuperblock, "NRPOS OUT OF RANGE")
	}
	cgsz := sb.CgSizeFor(sb.Layout().Cg)
	if int64(sb.Cgsize) < cgsz || int64(sb.Cgsize) > int64(sb.Iblkno-sb.Cblkno)*int64(sb.Fsize) {
		return bad(ErrNoSuperblock, "CGSIZE OUT OF RANGE")
	}
	if int64(sb.Cssize) < int64(sb.Ncg)*fs.CSUMSZ || sb.Csaddr <= 0 ||
		int64(sb.Csaddr)+fs.Howmany(int64(sb.Cssize), int64(sb.Fsize)) > int64(sb.Size) {
		return bad(ErrNoSuperblock, "SUMMARY AREA OUT OF RANGE")
	}
	// fields used by the geometry helpers before the 4.4 checks run
	if sb.Inodefmt < fs.FS_44INODEFMT {
		sb.Qbmask = int64(^sb.Bmask)
		sb.Qfmask = int64(^sb.Fmask)
	}
	if sb.Bmask != derived.Bmask || sb.Fmask != derived.Fmask {
		return bad(ErrNoSuperblock, "MASKS INCONSISTENT")
	}

	c.sb = sb
	c.sbSector = super
	if c.altsb != 0 {
		return nil
	}

	// compare with the copy in the last group, which the kernel never
	// updates
	last := sb.Ncg - 1
	asec := sb.FsbToDb(sb.CgSBlock(last))
	if asec*fs.DEV_BSIZE+int64(sb.Sbsize) > c.dev.Size() {
		c.sb = nil
		return bad(ErrAlternateMismatch, "ALTERNATE SUPERBLOCK BEYOND END OF DEVICE")
	}
	abuf := make([]byte, sb.Sbsize)
	c.io.ReadSectors(abuf, asec)
	asb, err := fs.DecodeSuperblock(abuf)
	if err != nil || !cmpsb(sb, asb) {
		c.sb = nil
		return bad(ErrAlternateMismatch,
			"VALUES IN SUPER BLOCK DISAGREE WITH THOSE IN FIRST ALTERNATE")
	}
	return nil
}

// cmpsb compares the parts of a superblock that only newfs writes.
func cmpsb(sb, alt *fs.Superblock) bool {
	a := *alt
	a.Firstfield = sb.Firstfield
	a.Unused1 = sb.Unused1
	a.Time = sb.Time
	a.Minfree = sb.Minfree
	a.Optim = sb.Optim
	a.Interleave = sb.Interleave
	a.Npsect = sb.Npsect
	a.Fsbtodb = sb.Fsbtodb
	a.Cstotal = sb.Cstotal
	a.Fmod = sb.Fmod
	a.Clean = sb.Clean
	a.Ronly = sb.Ronly
	a.Flags = sb.Flags
	a.Fsmnt = sb.Fsmnt
	a.Cgrotor = sb.Cgrotor
	a.Csp = sb.Csp
	a.Maxcontig = sb.Maxcontig
	a.Cpc = sb.Cpc
	a.Opostbl = sb.Opostbl
	a.Maxbpg = sb.Maxbpg
	a.Rotdelay = sb.Rotdelay
	a.Contigsumsize = sb.Contigsumsize
	a.Sparecon = sb.Sparecon
	a.State = sb.State
	a.Maxfilesize = sb.Maxfilesize
	a.Qbmask = sb.Qbmask
	a.Qfmask = sb.Qfmask
	a.Maxsymlinklen = sb.Maxsymlinklen
	a.Inodefmt = sb.Inodefmt
	a.Postblformat = sb.Postblformat
	a.Nrpos = sb.Nrpos
	a.Postbloff = sb.Postbloff
	a.Rotbloff = sb.Rotbloff
	a.Magic = sb.Magic
	return std.BytesEqual(sb.Encode(), a.Encode())
}

// calcsb builds enough of a superblock from the disk label to locate
// the alternate copies.
func (c *Checker) calcsb() *fs.Superblock {
	l := c.label()
	if l == nil {
		c.pfatal("%s: CANNOT FIGURE OUT FILE SYSTEM PARTITION\n", c.name)
		return nil
	}
	if l.Fsize <= 0 || l.Frag <= 0 || l.Cpg <= 0 || l.Nsectors <= 0 || l.Ntracks <= 0 ||
		!fs.IsPow2(l.Fsize) || !fs.IsPow2(l.Frag) || int64(l.Fsize) < fs.DEV_BSIZE {
		c.pfatal("%s: LABEL DOES NOT CONTAIN BLOCK AND FRAGMENT SIZES\n", c.name)
		return nil
	}
	sb := &fs.Superblock{Fsize: l.Fsize, Bsize: l.Fsize * l.Frag}
	sb.SetDerived()
	sb.Cpg = l.Cpg
	sb.Nsect = l.Nsectors
	sb.Ntrak = l.Ntracks
	sb.Spc = l.Nsectors * l.Ntracks
	sb.Sblkno = int32(fs.Roundup(fs.Howmany(fs.BBSIZE+fs.SBSIZE, int64(sb.Fsize)), int64(sb.Frag)))
	sb.SetCgStagger()
	sb.Fpg = sb.Cpg * sb.Spc / sb.Nspf
	ncyl := int64(l.Ncyl)
	if ncyl <= 0 {
		ncyl = c.dev.Size() / (int64(sb.Spc) * fs.DEV_BSIZE)
	}
	sb.Ncg = int32(fs.Howmany(ncyl, int64(sb.Cpg)))
	util.DPrintf(1, "calcsb: %v: ncg %d fpg %d\n", l, sb.Ncg, sb.Fpg)
	return sb
}

// sanityFixes repairs superblock tunables that are out of range.
func (c *Checker) sanityFixes() {
	sb := c.sb
	if sb.Optim != fs.FS_OPTTIME && sb.Optim != fs.FS_OPTSPACE {
		c.pfatal("UNDEFINED OPTIMIZATION IN SUPERBLOCK")
		if c.reply("SET TO DEFAULT") {
			sb.Optim = fs.FS_OPTTIME
			c.sbdirty()
		}
	}
	if sb.Minfree < 0 || sb.Minfree > 99 {
		c.pfatal("IMPOSSIBLE MINFREE=%d IN SUPERBLOCK", sb.Minfree)
		if c.reply("SET TO DEFAULT") {
			sb.Minfree = fs.MINFREE
			c.sbdirty()
		}
	}
	if sb.Interleave < 1 {
		c.pwarn("IMPOSSIBLE INTERLEAVE=%d IN SUPERBLOCK", sb.Interleave)
		sb.Interleave = 1
		if c.opts.Preen {
			c.printf(" (FIXED)\n")
		}
		if c.opts.Preen || c.reply("SET TO DEFAULT") {
			c.sbdirty()
			c.altDirty = true
		}
	}
	if sb.Npsect < sb.Nsect {
		c.pwarn("IMPOSSIBLE NPSECT=%d IN SUPERBLOCK", sb.Npsect)
		sb.Npsect = sb.Nsect
		if c.opts.Preen {
			c.printf(" (FIXED)\n")
		}
		if c.opts.Preen || c.reply("SET TO DEFAULT") {
			c.sbdirty()
			c.altDirty = true
		}
	}
	if sb.Inodefmt < fs.FS_44INODEFMT {
		return
	}
	c.newinofmt = true
	if want := sb.ComputeMaxfilesize(); sb.Maxfilesize != want {
		c.pwarn("INCORRECT MAXFILESIZE=%d IN SUPERBLOCK", sb.Maxfilesize)
		sb.Maxfilesize = want
		c.fixed4_4()
	}
	if want := int64(^sb.Bmask); sb.Qbmask != want {
		c.pwarn("INCORRECT QBMASK=%x IN SUPERBLOCK", sb.Qbmask)
		sb.Qbmask = want
		c.fixed4_4()
	}
	if want := int64(^sb.Fmask); sb.Qfmask != want {
		c.pwarn("INCORRECT QFMASK=%x IN SUPERBLOCK", sb.Qfmask)
		sb.Qfmask = want
		c.fixed4_4()
	}
}

func (c *Checker) fixed4_4() {
	if c.opts.Preen {
		c.printf(" (FIXED)\n")
	}
	if c.opts.Preen || c.reply("FIX") {
		c.sbdirty()
		c.altDirty = true
	}
}

// chooseFormats settles the on-disk and target layouts, asking about
// conversion when requested.
func (c *Checker) chooseFormats() error {
	sb := c.sb
	layout := sb.Layout()
	c.diskCgFmt = layout.Cg
	c.cgFmt = layout.Cg
	c.inoFmt = layout.Inode
	c.dirFmt = layout.DirFormat()

	if c.opts.Convert >= 2 && layout.Inode == fs.InodeFormat42 {
		if c.opts.Preen {
			c.pwarn("CONVERTING TO NEW INODE FORMAT\n")
		} else if !c.reply("CONVERT TO NEW INODE FORMAT") {
			return errDeclined
		}
		c.doingLevel2 = true
		c.dirFmt = fs.DirFormatNew
		c.converted = make(map[fs.Ino]bool)
		sb.Inodefmt = fs.FS_44INODEFMT
		sb.Maxfilesize = sb.ComputeMaxfilesize()
		sb.Maxsymlinklen = fs.MAXSYMLINK
		sb.Qbmask = int64(^sb.Bmask)
		sb.Qfmask = int64(^sb.Fmask)
		c.sbdirty()
		c.altDirty = true
	}
	if c.opts.Convert >= 1 && layout.Cg == fs.CgFormat42 {
		next := *sb
		next.Nrpos = fs.NRPOS
		newsize := next.CgSizeFor(fs.CgFormatDynamic)
		if newsize > int64(sb.Iblkno-sb.Cblkno)*int64(sb.Fsize) {
			c.pfatal("CANNOT CONVERT: NO ROOM FOR NEW CYLINDER GROUP FORMAT\n")
			return errDeclined
		}
		if c.opts.Preen {
			c.pwarn("CONVERTING TO NEW CYLINDER GROUP FORMAT\n")
		} else if !c.reply("CONVERT TO NEW CYLINDER GROUP FORMAT") {
			return errDeclined
		}
		c.doingLevel1 = true
		sb.Postblformat = fs.FS_DYNAMICPOSTBLFMT
		sb.Nrpos = fs.NRPOS
		sb.Postbloff = fs.POSTBLOFF
		sb.Rotbloff = fs.ROTBLOFF
		sb.Cgsize = int32(sb.FragRoundup(newsize))
		c.cgFmt = fs.CgFormatDynamic
		c.sbdirty()
		c.altDirty = true
	}
	return nil
}

func (c *Checker) readCsums() error {
	sb := c.sb
	cssize := int64(sb.Cssize)
	bsize := int64(sb.Bsize)
	raw := make([]byte, sb.FragRoundup(cssize))
	for i, j := int64(0), int64(0); i < cssize; i, j = i+bsize, j+1 {
		size := bsize
		if cssize-i < size {
			size = cssize - i
		}
		blk := int64(sb.Csaddr) + sb.BlksToFrags(j)
		if c.io.ReadSectors(raw[i:i+sb.FragRoundup(size)], sb.FsbToDb(blk)) != 0 {
			c.pfatal("BAD SUMMARY INFORMATION\n")
			if !c.reply("CONTINUE") {
				return fmt.Errorf("%w: unreadable summary information", ErrNoSuperblock)
			}
		}
	}
	c.csums = fs.DecodeCsums(raw, sb.Ncg)
	return nil
}

// cgReadSize covers the largest cylinder group this run reads or writes.
func (c *Checker) cgReadSize() int64 {
	size := c.sb.CgSizeFor(c.diskCgFmt)
	if n := c.sb.CgSizeFor(c.cgFmt); n > size {
		size = n
	}
	if int64(c.sb.Cgsize) > size {
		size = int64(c.sb.Cgsize)
	}
	return c.sb.FragRoundup(size)
}

func (c *Checker) sbdirty() {
	c.sbDirty = true
}

// flushSb writes the superblock where it was read from, and the summary
// information.
func (c *Checker) flushSb() {
	if !c.sbDirty || !c.io.Writable() {
		return
	}
	c.sbDirty = false
	sb := c.sb
	copy(c.sbRaw, sb.Encode())
	c.io.WriteSectors(c.sbRaw[:sb.Sbsize], c.sbSector)
	if c.altDirty && c.sbSector == fs.SBLOCK {
		c.flushAlternate(sb.Ncg - 1)
		c.altDirty = false
	}
	cssize := int64(sb.Cssize)
	bsize := int64(sb.Bsize)
	raw := fs.EncodeCsums(c.csums, sb.FragRoundup(cssize))
	for i, j := int64(0), int64(0); i < cssize; i, j = i+bsize, j+1 {
		size := bsize
		if cssize-i < size {
			size = cssize - i
		}
		blk := int64(sb.Csaddr) + sb.BlksToFrags(j)
		c.io.WriteSectors(raw[i:i+sb.FragRoundup(size)], sb.FsbToDb(blk))
	}
}

// flushAlternate writes the in-memory superblock to group cg's copy.
func (c *Checker) flushAlternate(cg int32) {
	sb := c.sb
	b := make([]byte, sb.Sbsize)
	copy(b, sb.Encode())
	c.io.WriteSectors(b, sb.FsbToDb(sb.CgSBlock(cg)))
}

// writeAlternates updates every copy after a format conversion.
func (c *Checker) writeAlternates() {
	if !c.io.Writable() {
		return
	}
	for cg := int32(0); cg < c.sb.Ncg; cg++ {
		c.flushAlternate(cg)
	}
	c.altDirty = false
}
