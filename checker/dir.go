package checker

import (
	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/fs"
)

const lfname = "lost+found"

// diskDirFmt is the entry format of directory ino as it is on disk.
func (c *Checker) diskDirFmt(ino fs.Ino) fs.DirFormat {
	if c.doingLevel2 && !c.dirsConverted && !c.converted[ino] {
		return fs.DirFormatOld
	}
	return c.dirFmt
}

// dirscan calls idesc.fn on a copy of every entry in the directory block
// at idesc.blkno and writes back the entries it altered.
func (c *Checker) dirscan(idesc *inodesc) ScanOutcome {
	if idesc.typ != descData {
		c.abort("wrong type to dirscan %d", idesc.typ)
	}
	if idesc.entryno == 0 && idesc.filesize&(fs.DIRBLKSIZ-1) != 0 {
		idesc.filesize = fs.Roundup(idesc.filesize, fs.DIRBLKSIZ)
	}
	blksiz := idesc.numfrags * int64(c.sb.Fsize)
	if c.chkrange(idesc.blkno, idesc.numfrags) {
		idesc.filesize -= blksiz
		return outcome(Skip)
	}
	diskFmt := c.diskDirFmt(idesc.number)
	converting := diskFmt != c.dirFmt
	idesc.loc = 0
	dbuf := make([]byte, fs.DIRBLKSIZ)
	for {
		ent, ok := c.fsckReaddir(idesc, diskFmt)
		if !ok {
			break
		}
		dsize := len(ent)
		copy(dbuf, ent)
		if converting {
			d := diskFmt.DecodeHeader(dbuf)
			c.dirFmt.EncodeHeader(&d, dbuf)
		}
		idesc.dirp = dbuf[:dsize]
		n := idesc.fn(idesc)
		if n.Altered || (converting && idesc.convert) {
			if converting && !idesc.convert {
				reencode(dbuf[:dsize], c.dirFmt, diskFmt)
			}
			bp := c.getdirblk(idesc.blkno, blksiz)
			copy(bp.Data[idesc.loc-int64(dsize):], dbuf[:dsize])
			bp.MarkDirty()
			c.sbdirty()
		}
		if n.Action == Stop {
			return n
		}
	}
	if idesc.filesize > 0 {
		return outcome(Keepon)
	}
	return outcome(Stop)
}

// reencode rewrites the headers of every entry in b from one format to
// the other.
func reencode(b []byte, from, to fs.DirFormat) {
	for off := 0; off+fs.DIRHDRSZ <= len(b); {
		d := from.DecodeHeader(b[off:])
		to.EncodeHeader(&d, b[off:])
		if d.Reclen == 0 {
			return
		}
		off += int(d.Reclen)
	}
}

// fsckReaddir returns the next entry of the block being scanned,
// salvaging chunks whose entries do not check out.
func (c *Checker) fsckReaddir(idesc *inodesc, df fs.DirFormat) ([]byte, bool) {
	blksiz := idesc.numfrags * int64(c.sb.Fsize)
	bp := c.getdirblk(idesc.blkno, blksiz)
	if idesc.loc%fs.DIRBLKSIZ == 0 && idesc.filesize > 0 && idesc.loc < blksiz {
		if !c.dircheck(idesc, df, bp.Data[idesc.loc:]) {
			if idesc.fix == fixIgnore {
				return nil, false
			}
			fix := c.dofix(idesc, "DIRECTORY CORRUPTED")
			bp = c.getdirblk(idesc.blkno, blksiz)
			ent := make([]byte, fs.DIRBLKSIZ)
			d := fs.Direct{Reclen: uint16(fs.DIRBLKSIZ)}
			df.EncodeHeader(&d, ent)
			if fix {
				copy(bp.Data[idesc.loc:], ent[:fs.DIRHDRSZ+4])
				bp.MarkDirty()
			}
			idesc.loc += fs.DIRBLKSIZ
			idesc.filesize -= fs.DIRBLKSIZ
			return ent, true
		}
	}
	if idesc.filesize <= 0 || idesc.loc >= blksiz {
		return nil, false
	}
	dploc := idesc.loc
	d := df.DecodeHeader(bp.Data[dploc:])
	idesc.loc += int64(d.Reclen)
	idesc.filesize -= int64(d.Reclen)
	if idesc.loc%fs.DIRBLKSIZ == 0 {
		return bp.Data[dploc:idesc.loc], true
	}
	if idesc.loc < blksiz && idesc.filesize > 0 &&
		!c.dircheck(idesc, df, bp.Data[idesc.loc:]) {
		size := fs.DIRBLKSIZ - idesc.loc%fs.DIRBLKSIZ
		idesc.loc += size
		idesc.filesize -= size
		if idesc.fix == fixIgnore {
			return nil, false
		}
		fix := c.dofix(idesc, "DIRECTORY CORRUPTED")
		bp = c.getdirblk(idesc.blkno, blksiz)
		ent := append([]byte(nil), bp.Data[dploc:idesc.loc]...)
		d.Reclen += uint16(size)
		df.EncodeHeader(&d, ent)
		if fix {
			copy(bp.Data[dploc:], ent[:fs.DIRHDRSZ])
			bp.MarkDirty()
		}
		return ent, true
	}
	return bp.Data[dploc:idesc.loc], true
}

// dircheck reports whether the entry at b, at idesc.loc, is sane.
func (c *Checker) dircheck(idesc *inodesc, df fs.DirFormat, b []byte) bool {
	spaceleft := fs.DIRBLKSIZ - idesc.loc%fs.DIRBLKSIZ
	d := df.DecodeHeader(b)
	if d.Ino >= c.maxino || d.Reclen == 0 || int64(d.Reclen) > spaceleft || d.Reclen&3 != 0 {
		return false
	}
	if d.Ino == 0 {
		return true
	}
	size := d.Size()
	if int(d.Reclen) < size || idesc.filesize < int64(size) ||
		d.Namlen > fs.MAXNAMLEN || d.Type > 15 {
		return false
	}
	return fs.NameTerminated(b[:d.Reclen], d.Namlen)
}

// mkentry adds idesc.name for inode idesc.parent in the slack of the
// current entry, if it fits.
func (c *Checker) mkentry(idesc *inodesc) ScanOutcome {
	df := c.dirFmt
	dirp := idesc.dirp
	d := df.Decode(dirp)
	newent := fs.MkDirect(idesc.parent, c.entryType(idesc.parent), idesc.name)
	newlen := newent.Size()
	oldlen := 0
	if d.Ino != 0 {
		oldlen = d.Size()
	}
	if int(d.Reclen)-oldlen < newlen {
		return outcome(Keepon)
	}
	newent.Reclen = d.Reclen - uint16(oldlen)
	d.Reclen = uint16(oldlen)
	df.EncodeHeader(&d, dirp)
	df.Encode(&newent, dirp[oldlen:])
	return ScanOutcome{Action: Stop, Altered: true}
}

// chgino points the entry named idesc.name at inode idesc.parent.
func (c *Checker) chgino(idesc *inodesc) ScanOutcome {
	d := c.dirFmt.Decode(idesc.dirp)
	if d.Ino == 0 || d.Name != idesc.name {
		return outcome(Keepon)
	}
	d.Ino = idesc.parent
	d.Type = c.entryType(idesc.parent)
	c.dirFmt.EncodeHeader(&d, idesc.dirp)
	return ScanOutcome{Action: Stop, Altered: true}
}

func (c *Checker) entryType(ino fs.Ino) uint8 {
	if !c.newinofmt {
		return fs.DT_UNKNOWN
	}
	return c.inoinfo(ino).typ
}

func (c *Checker) changeino(dir fs.Ino, name string, newnum fs.Ino) ScanOutcome {
	idesc := &inodesc{
		typ:    descData,
		fn:     c.chgino,
		number: dir,
		fix:    fixDontKnow,
		name:   name,
		parent: newnum,
	}
	return c.ckinode(c.ginode(dir), idesc)
}

// makeentry adds name for ino to directory parent, expanding the
// directory when it is full.
func (c *Checker) makeentry(parent, ino fs.Ino, name string) bool {
	if parent < fs.ROOTINO || parent >= c.maxino || ino < fs.ROOTINO || ino >= c.maxino {
		return false
	}
	idesc := &inodesc{
		typ:    descData,
		fn:     c.mkentry,
		number: parent,
		parent: ino,
		fix:    fixDontKnow,
		name:   name,
	}
	dp := c.ginode(parent)
	if int64(dp.Size)%fs.DIRBLKSIZ != 0 {
		dp.Size = uint64(fs.Roundup(int64(dp.Size), fs.DIRBLKSIZ))
		c.inodirty(parent, dp)
	}
	if c.ckinode(dp, idesc).Altered {
		return true
	}
	path := c.getpathname(parent, parent)
	if !c.expanddir(parent, path) {
		return false
	}
	return c.ckinode(c.ginode(parent), idesc).Altered
}

// expanddir gives directory ino one more block of empty entries. A
// partial last block is replaced by the new block, and its first chunk
// moves there.
func (c *Checker) expanddir(ino fs.Ino, name string) bool {
	sb := c.sb
	dp := c.ginode(ino)
	size := int64(dp.Size)
	bsize := int64(sb.Bsize)
	lastbn := sb.LblkNo(size)
	partial := sb.BlkOff(size) != 0
	if size == 0 || lastbn >= fs.NDADDR || (partial && (lastbn >= fs.NDADDR-1 || dp.Db[lastbn] == 0)) {
		return false
	}
	newblk := c.allocblk(int64(sb.Frag))
	if newblk == 0 {
		return false
	}
	content := make([]byte, bsize)
	for off := int64(0); off < bsize; off += fs.DIRBLKSIZ {
		fs.EmptyDirBlock(c.dirFmt, content[off:])
	}
	next := *dp
	oldsize := sb.FragRoundup(sb.BlkOff(size))
	if partial {
		ob := c.getdirblk(int64(dp.Db[lastbn]), oldsize)
		if ob.Errs != 0 {
			c.freeblk(newblk, int64(sb.Frag))
			return false
		}
		copy(content, ob.Data[:fs.DIRBLKSIZ])
		next.Db[lastbn+1] = dp.Db[lastbn]
	}
	next.Db[lastbn] = int32(newblk)
	next.Size += uint64(bsize)
	next.Blocks += int32(sb.FsbToDb(int64(sb.Frag)))
	c.pwarn("NO SPACE LEFT IN %s", name)
	if c.opts.Preen {
		c.printf(" (EXPANDED)\n")
	} else if !c.reply("EXPAND") {
		c.freeblk(newblk, int64(sb.Frag))
		return false
	}
	nb := c.getdirblk(newblk, bsize)
	copy(nb.Data, content)
	nb.MarkDirty()
	if partial {
		ob := c.getdirblk(int64(next.Db[lastbn+1]), oldsize)
		fs.EmptyDirBlock(c.dirFmt, ob.Data)
		ob.MarkDirty()
	}
	c.inodirty(ino, &next)
	return true
}

// allocdir makes a directory holding "." and ".." under parent.
func (c *Checker) allocdir(parent, request fs.Ino, mode uint16) fs.Ino {
	sb := c.sb
	ino := c.allocino(request, fs.IFDIR|mode)
	if ino == 0 {
		return 0
	}
	dp := c.ginode(ino)
	bp := c.getdirblk(int64(dp.Db[0]), int64(sb.Fsize))
	if bp.Errs != 0 {
		c.freeino(ino)
		return 0
	}
	fs.DirTemplate(c.dirFmt, bp.Data, ino, parent)
	for off := fs.DIRBLKSIZ; off < int64(sb.Fsize); off += fs.DIRBLKSIZ {
		fs.EmptyDirBlock(c.dirFmt, bp.Data[off:])
	}
	bp.MarkDirty()
	dp = c.ginode(ino)
	dp.Nlink = 2
	c.inodirty(ino, dp)
	if c.converted != nil {
		c.converted[ino] = true
	}
	if ino == fs.ROOTINO {
		c.inoinfo(ino).linkcnt = int32(dp.Nlink)
		c.cacheino(dp, ino)
		return ino
	}
	pst := c.inoinfo(parent).state
	if pst != stateDir && pst != stateDirFound {
		c.freeino(ino)
		return 0
	}
	c.cacheino(dp, ino)
	st := c.inoinfo(ino)
	st.state = pst
	if st.state == stateDir {
		st.linkcnt = int32(dp.Nlink)
		c.inoinfo(parent).linkcnt++
	}
	pdp := c.ginode(parent)
	pdp.Nlink++
	c.inodirty(parent, pdp)
	return ino
}

// freedir undoes allocdir.
func (c *Checker) freedir(ino, parent fs.Ino) {
	if ino != parent {
		dp := c.ginode(parent)
		dp.Nlink--
		c.inodirty(parent, dp)
	}
	c.freeino(ino)
}

// growLostFound replaces the single fragment of a new lost+found with a
// full block so reconnecting has room without prompting to expand.
func (c *Checker) growLostFound(ino fs.Ino) {
	sb := c.sb
	bsize := int64(sb.Bsize)
	newblk := c.allocblk(int64(sb.Frag))
	if newblk == 0 {
		return
	}
	dp := c.ginode(ino)
	old := int64(dp.Db[0])
	ob := c.getdirblk(old, int64(sb.Fsize))
	first := append([]byte(nil), ob.Data[:sb.Fsize]...)
	nb := c.getdirblk(newblk, bsize)
	copy(nb.Data, first)
	for off := int64(sb.Fsize); off < bsize; off += fs.DIRBLKSIZ {
		fs.EmptyDirBlock(c.dirFmt, nb.Data[off:])
	}
	nb.MarkDirty()
	c.cache.Invalidate(old)
	c.freeblk(old, 1)
	dp = c.ginode(ino)
	dp.Db[0] = int32(newblk)
	dp.Size = uint64(bsize)
	dp.Blocks = int32(sb.FsbToDb(int64(sb.Frag)))
	c.inodirty(ino, dp)
	if inp, ok := c.inphead[ino]; ok {
		inp.isize = bsize
		inp.blks = []int32{int32(newblk)}
	}
	util.DPrintf(1, "lost+found %d grown to block %d\n", ino, newblk)
}

// lostFound finds or creates lost+found, returning 0 when there is
// none to use.
func (c *Checker) lostFound() fs.Ino {
	if c.lfdir != 0 {
		return c.lfdir
	}
	idesc := &inodesc{typ: descData, fn: c.findino, number: fs.ROOTINO, name: lfname}
	if c.ckinode(c.ginode(fs.ROOTINO), idesc).Found {
		c.lfdir = idesc.parent
		return c.lfdir
	}
	c.pwarn("NO lost+found DIRECTORY")
	if c.opts.Preen || c.reply("CREATE") {
		c.lfdir = c.allocdir(fs.ROOTINO, 0, c.lfmode)
		if c.lfdir != 0 {
			if c.makeentry(fs.ROOTINO, c.lfdir, lfname) {
				c.growLostFound(c.lfdir)
				if c.opts.Preen {
					c.printf(" (CREATED)\n")
				}
			} else {
				c.freedir(c.lfdir, fs.ROOTINO)
				c.lfdir = 0
				if c.opts.Preen {
					c.printf("\n")
				}
			}
		}
	}
	return c.lfdir
}

// linkup reconnects orphan into lost+found. parentdir is the directory
// the orphan used to be in, dotdotUnfixable when its ".." is unusable,
// or 0 when unknown.
func (c *Checker) linkup(orphan, parentdir fs.Ino) bool {
	dp := c.ginode(orphan)
	lostdir := dp.Type() == fs.IFDIR
	what := "FILE"
	if lostdir {
		what = "DIR"
	}
	c.pwarn("UNREF %s ", what)
	c.pinode(orphan)
	if c.opts.Preen && dp.Size == 0 {
		return false
	}
	if c.opts.Preen {
		c.printf(" (RECONNECTED)\n")
	} else if !c.reply("RECONNECT") {
		return false
	}
	if c.lostFound() == 0 {
		c.pfatal("SORRY. CANNOT CREATE lost+found DIRECTORY")
		c.printf("\n\n")
		return false
	}
	if c.ginode(c.lfdir).Type() != fs.IFDIR {
		c.pfatal("lost+found IS NOT A DIRECTORY")
		if !c.reply("REALLOCATE") {
			return false
		}
		oldlfdir := c.lfdir
		c.lfdir = c.allocdir(fs.ROOTINO, 0, c.lfmode)
		if c.lfdir == 0 {
			c.pfatal("SORRY. CANNOT CREATE lost+found DIRECTORY\n\n")
			return false
		}
		if !c.changeino(fs.ROOTINO, lfname, c.lfdir).Altered {
			c.pfatal("SORRY. CANNOT CREATE lost+found DIRECTORY\n\n")
			return false
		}
		c.growLostFound(c.lfdir)
		idesc := &inodesc{typ: descAddr, fn: c.pass4check, number: oldlfdir}
		c.adjust(idesc, c.inoinfo(oldlfdir).linkcnt+1)
		c.inoinfo(oldlfdir).linkcnt = 0
	}
	if c.inoinfo(c.lfdir).state != stateDirFound {
		c.pfatal("SORRY. NO lost+found DIRECTORY\n\n")
		return false
	}
	if !c.makeentry(c.lfdir, orphan, c.lftempname(orphan)) {
		c.pfatal("SORRY. NO SPACE IN lost+found DIRECTORY")
		c.printf("\n\n")
		return false
	}
	c.inoinfo(orphan).linkcnt--
	if lostdir {
		if !c.changeino(orphan, "..", c.lfdir).Altered && parentdir != dotdotUnfixable {
			c.makeentry(orphan, c.lfdir, "..")
		}
		ldp := c.ginode(c.lfdir)
		ldp.Nlink++
		c.inodirty(c.lfdir, ldp)
		c.inoinfo(c.lfdir).linkcnt++
		c.pwarn("DIR I=%d CONNECTED. ", orphan)
		if parentdir != dotdotUnfixable {
			c.printf("PARENT WAS I=%d\n", parentdir)
			// the old parent lost the child's ".." reference
			if parentdir >= fs.ROOTINO && parentdir < c.maxino {
				c.inoinfo(parentdir).linkcnt++
			}
		}
		if !c.opts.Preen {
			c.printf("\n")
		}
	}
	return true
}
