package checker

import (
	"sort"

	"github.com/mit-pdos/go-fsck/fs"
)

const minDirSize = 24 // "." and ".."

// pass2 checks every directory entry: that it names an allocated inode,
// that "." and ".." are right, and counts the links it finds.
func (c *Checker) pass2() {
	c.checkRoot()
	c.inoinfo(fs.ROOTINO).state = stateDirFound
	if c.newinofmt {
		st := c.inoinfo(fs.WINO)
		st.state = stateFile
		st.typ = fs.DT_WHT
	}

	sort.SliceStable(c.inpsort, func(i, j int) bool {
		return firstBlk(c.inpsort[i]) < firstBlk(c.inpsort[j])
	})

	curino := &inodesc{typ: descData, fn: c.pass2check, convert: c.doingLevel2}
	for _, inp := range c.inpsort {
		c.checkInterrupt()
		if inp.isize == 0 {
			continue
		}
		if inp.isize < minDirSize {
			c.direrror(inp.number, "DIRECTORY TOO SHORT")
			inp.isize = fs.Roundup(minDirSize, fs.DIRBLKSIZ)
			if c.reply("FIX") {
				dp := c.ginode(inp.number)
				dp.Size = uint64(inp.isize)
				c.inodirty(inp.number, dp)
			}
		} else if inp.isize&(fs.DIRBLKSIZ-1) != 0 {
			path := c.getpathname(inp.number, inp.number)
			c.pwarn("DIRECTORY %s: LENGTH %d NOT MULTIPLE OF %d", path, inp.isize, fs.DIRBLKSIZ)
			if c.opts.Preen {
				c.printf(" (ADJUSTED)\n")
			}
			inp.isize = fs.Roundup(inp.isize, fs.DIRBLKSIZ)
			if c.opts.Preen || c.reply("ADJUST") {
				dp := c.ginode(inp.number)
				dp.Size = uint64(inp.isize)
				c.inodirty(inp.number, dp)
			}
		}
		dino := inp.dinode()
		curino.number = inp.number
		curino.parent = inp.parent
		c.ckinode(dino, curino)
		if c.doingLevel2 {
			c.converted[inp.number] = true
		}
	}
	if c.doingLevel2 {
		c.dirsConverted = true
		c.newinofmt = true
		c.inoFmt = fs.InodeFormat44
	}

	// now that every parent is known, check ".."
	for _, inp := range c.inpsort {
		if inp.parent == 0 || inp.isize == 0 {
			continue
		}
		if c.inoinfo(inp.parent).state == stateDirFound &&
			c.inoinfo(inp.number).state == stateDir {
			c.inoinfo(inp.number).state = stateDirFound
		}
		if inp.dotdot == inp.parent || inp.dotdot == dotdotUnfixable {
			continue
		}
		if inp.dotdot == 0 {
			inp.dotdot = inp.parent
			c.fileerror(inp.parent, inp.number, "MISSING '..'")
			if !c.reply("FIX") {
				continue
			}
			c.makeentry(inp.number, inp.parent, "..")
			c.inoinfo(inp.parent).linkcnt--
			continue
		}
		c.fileerror(inp.parent, inp.number, "BAD INODE NUMBER FOR '..'")
		if !c.reply("FIX") {
			continue
		}
		c.inoinfo(inp.dotdot).linkcnt++
		c.inoinfo(inp.parent).linkcnt--
		inp.dotdot = inp.parent
		c.changeino(inp.number, "..", inp.parent)
	}
	c.propagate()
}

// dotdotUnfixable marks a directory whose ".." could not be rebuilt.
const dotdotUnfixable = ^fs.Ino(0)

func firstBlk(inp *inoInfo) int32 {
	if len(inp.blks) == 0 {
		return 0
	}
	return inp.blks[0]
}

// dinode rebuilds enough of a directory inode to scan it from what
// pass 1 saw.
func (inp *inoInfo) dinode() *fs.Dinode {
	dp := &fs.Dinode{Mode: fs.IFDIR, Size: uint64(inp.isize)}
	for i, b := range inp.blks {
		if i < fs.NDADDR {
			dp.Db[i] = b
		} else {
			dp.Ib[i-fs.NDADDR] = b
		}
	}
	return dp
}

func (c *Checker) checkRoot() {
	st := c.inoinfo(fs.ROOTINO)
	switch st.state {
	case stateUnalloc:
		c.pfatal("ROOT INODE UNALLOCATED")
		if !c.reply("ALLOCATE") {
			c.abort("")
		}
		if c.allocdir(fs.ROOTINO, fs.ROOTINO, 0755) != fs.ROOTINO {
			c.abort("CANNOT ALLOCATE ROOT INODE")
		}
	case stateDirClear:
		c.pfatal("DUPS/BAD IN ROOT INODE")
		if c.reply("REALLOCATE") {
			c.freeino(fs.ROOTINO)
			if c.allocdir(fs.ROOTINO, fs.ROOTINO, 0755) != fs.ROOTINO {
				c.abort("CANNOT ALLOCATE ROOT INODE")
			}
			break
		}
		if !c.reply("CONTINUE") {
			c.abort("")
		}
	case stateFile, stateFileClear:
		c.pfatal("ROOT INODE NOT DIRECTORY")
		if c.reply("REALLOCATE") {
			c.freeino(fs.ROOTINO)
			if c.allocdir(fs.ROOTINO, fs.ROOTINO, 0755) != fs.ROOTINO {
				c.abort("CANNOT ALLOCATE ROOT INODE")
			}
			break
		}
		if !c.reply("FIX") {
			c.abort("")
		}
		dp := c.ginode(fs.ROOTINO)
		dp.Mode = dp.Mode&^fs.IFMT | fs.IFDIR
		c.inodirty(fs.ROOTINO, dp)
	case stateDir:
	default:
		c.abort("BAD STATE %d FOR ROOT INODE", st.state)
	}
}

func (c *Checker) pass2check(idesc *inodesc) ScanOutcome {
	df := c.dirFmt
	dirp := idesc.dirp
	var ret ScanOutcome
	d := df.Decode(dirp)

	if c.doingLevel2 && d.Ino > 0 && d.Ino < c.maxino {
		d.Type = c.inoinfo(d.Ino).typ
		df.EncodeHeader(&d, dirp)
		ret.Altered = true
	}
	fix := func() {
		if c.reply("FIX") {
			ret.Altered = true
		}
	}

	if idesc.entryno == 0 {
		if d.Ino != 0 && d.Name == "." {
			if d.Ino != idesc.number {
				c.direrror(idesc.number, "BAD INODE NUMBER FOR '.'")
				d.Ino = idesc.number
				df.EncodeHeader(&d, dirp)
				fix()
			}
			if c.newinofmt && d.Type != fs.DT_DIR {
				c.direrror(idesc.number, "BAD TYPE VALUE FOR '.'")
				d.Type = fs.DT_DIR
				df.EncodeHeader(&d, dirp)
				fix()
			}
		} else {
			c.direrror(idesc.number, "MISSING '.'")
			proto := fs.MkDirect(idesc.number, c.dirType(fs.DT_DIR), ".")
			entrysize := proto.Size()
			switch {
			case d.Ino != 0 && d.Name != "..":
				c.pfatal("CANNOT FIX, FIRST ENTRY IN DIRECTORY CONTAINS %s\n", d.Name)
			case int(d.Reclen) < entrysize:
				c.pfatal("CANNOT FIX, INSUFFICIENT SPACE TO ADD '.'\n")
			case int(d.Reclen) < 2*entrysize:
				proto.Reclen = d.Reclen
				df.Encode(&proto, dirp)
				fix()
			default:
				n := int(d.Reclen) - entrysize
				proto.Reclen = uint16(entrysize)
				df.Encode(&proto, dirp)
				idesc.entryno++
				c.inoinfo(proto.Ino).linkcnt--
				dirp = dirp[entrysize:]
				zero(dirp[:n])
				d = fs.Direct{Reclen: uint16(n)}
				df.EncodeHeader(&d, dirp)
				fix()
			}
			d = df.Decode(dirp)
		}
	}

	if idesc.entryno <= 1 {
		inp := c.getinoinfo(idesc.number)
		proto := fs.MkDirect(inp.parent, c.dirType(fs.DT_DIR), "..")
		entrysize := proto.Size()
		if idesc.entryno == 0 {
			n := d.Size()
			if int(d.Reclen) >= n+entrysize {
				proto.Reclen = d.Reclen - uint16(n)
				d.Reclen = uint16(n)
				df.EncodeHeader(&d, dirp)
				idesc.entryno++
				c.inoinfo(d.Ino).linkcnt--
				dirp = dirp[n:]
				zero(dirp[:proto.Reclen])
				d = fs.Direct{Reclen: proto.Reclen}
				df.EncodeHeader(&d, dirp)
			}
		}
		if idesc.entryno == 1 {
			c.checkDotdot(idesc, inp, dirp, proto, fix)
			return ret
		}
	}

	if d.Ino == 0 {
		return ret
	}
	if idesc.entryno >= 2 && (d.Name == "." || d.Name == "..") {
		if d.Name == "." {
			c.direrror(idesc.number, "EXTRA '.' ENTRY")
		} else {
			c.direrror(idesc.number, "EXTRA '..' ENTRY")
		}
		d.Ino = 0
		df.EncodeHeader(&d, dirp)
		fix()
		return ret
	}
	idesc.entryno++
	remove := false
	if d.Ino >= c.maxino {
		c.fileerror(idesc.number, d.Ino, "I OUT OF RANGE")
		remove = c.reply("REMOVE")
	} else {
		remove = c.checkEntryTarget(idesc, &d, dirp, &ret)
	}
	if !remove {
		return ret
	}
	d.Ino = 0
	df.EncodeHeader(&d, dirp)
	ret.Altered = true
	return ret
}

// checkDotdot handles the second entry of a directory, which must be
// "..".
func (c *Checker) checkDotdot(idesc *inodesc, inp *inoInfo, dirp []byte,
	proto fs.Direct, fix func()) {
	df := c.dirFmt
	d := df.Decode(dirp)
	entrysize := proto.Size()
	if d.Ino != 0 && d.Name == ".." {
		inp.dotdot = d.Ino
		if c.newinofmt && d.Type != fs.DT_DIR {
			c.direrror(idesc.number, "BAD TYPE VALUE FOR '..'")
			d.Type = fs.DT_DIR
			df.EncodeHeader(&d, dirp)
			fix()
		}
		idesc.entryno++
		c.inoinfo(d.Ino).linkcnt--
		return
	}
	switch {
	case d.Ino != 0 && d.Name != ".":
		c.fileerror(inp.parent, idesc.number, "MISSING '..'")
		c.pfatal("CANNOT FIX, SECOND ENTRY IN DIRECTORY CONTAINS %s\n", d.Name)
		inp.dotdot = dotdotUnfixable
	case int(d.Reclen) < entrysize:
		c.fileerror(inp.parent, idesc.number, "MISSING '..'")
		c.pfatal("CANNOT FIX, INSUFFICIENT SPACE TO ADD '..'\n")
		inp.dotdot = dotdotUnfixable
	case inp.parent != 0:
		inp.dotdot = inp.parent
		c.fileerror(inp.parent, idesc.number, "MISSING '..'")
		proto.Reclen = d.Reclen
		df.Encode(&proto, dirp)
		fix()
		d = df.Decode(dirp)
	}
	idesc.entryno++
	if d.Ino != 0 {
		c.inoinfo(d.Ino).linkcnt--
	}
}

// checkEntryTarget checks the inode an ordinary entry names and reports
// whether the entry should be removed.
func (c *Checker) checkEntryTarget(idesc *inodesc, d *fs.Direct, dirp []byte, ret *ScanOutcome) bool {
	for {
		st := c.inoinfo(d.Ino)
		switch st.state {
		case stateUnalloc:
			if idesc.entryno <= 2 {
				return false
			}
			c.fileerror(idesc.number, d.Ino, "UNALLOCATED")
			return c.reply("REMOVE")

		case stateDirClear, stateFileClear:
			if idesc.entryno <= 2 {
				return false
			}
			var msg string
			if st.state == stateFileClear {
				msg = "DUP/BAD"
			} else if !c.opts.Preen {
				msg = "ZERO LENGTH DIRECTORY"
			} else {
				return true
			}
			c.fileerror(idesc.number, d.Ino, msg)
			if c.reply("REMOVE") {
				return true
			}
			dp := c.ginode(d.Ino)
			if dp.Type() == fs.IFDIR {
				st.state = stateDir
			} else {
				st.state = stateFile
			}
			st.linkcnt = int32(dp.Nlink)
			continue

		case stateDir, stateDirFound:
			if st.state == stateDir && c.inoinfo(idesc.number).state == stateDirFound {
				st.state = stateDirFound
			}
			inp := c.getinoinfo(d.Ino)
			if inp.parent != 0 && idesc.entryno > 2 {
				path := c.getpathname(idesc.number, idesc.number)
				name := c.getpathname(d.Ino, d.Ino)
				c.pwarn("%s IS AN EXTRANEOUS HARD LINK TO DIRECTORY %s\n", path, name)
				if c.opts.Preen {
					c.printf(" (IGNORED)\n")
				} else if c.reply("REMOVE") {
					return true
				}
			}
			if idesc.entryno > 2 {
				inp.parent = idesc.number
			}
			c.checkEntryType(idesc, d, dirp, ret)
			return false

		case stateFile:
			c.checkEntryType(idesc, d, dirp, ret)
			return false

		default:
			c.abort("BAD STATE %d FOR INODE I=%d", st.state, d.Ino)
		}
	}
}

func (c *Checker) checkEntryType(idesc *inodesc, d *fs.Direct, dirp []byte, ret *ScanOutcome) {
	st := c.inoinfo(d.Ino)
	if c.newinofmt && d.Type != st.typ {
		c.fileerror(idesc.number, d.Ino, "BAD TYPE VALUE")
		d.Type = st.typ
		c.dirFmt.EncodeHeader(d, dirp)
		if c.reply("FIX") {
			ret.Altered = true
		}
	}
	st.linkcnt--
}

// dirType is t when entries carry a type.
func (c *Checker) dirType(t uint8) uint8 {
	if c.dirFmt == fs.DirFormatNew {
		return t
	}
	return fs.DT_UNKNOWN
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
