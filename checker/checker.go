// Package checker verifies and repairs a UFS1 filesystem. A Checker is
// one session against one device: it loads the superblock, runs the
// five passes and writes back what it fixed.
package checker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mit-pdos/go-journal/util"

	"github.com/mit-pdos/go-fsck/bitmap"
	"github.com/mit-pdos/go-fsck/cache"
	"github.com/mit-pdos/go-fsck/device"
	"github.com/mit-pdos/go-fsck/fs"
	"github.com/mit-pdos/go-fsck/util/stats"
)

type Status int

const (
	StatusOK Status = iota
	StatusModified
	StatusSkipped // clean and not forced
	StatusFatal   // needs a manual run
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusModified:
		return "modified"
	case StatusSkipped:
		return "skipped"
	case StatusFatal:
		return "fatal"
	case StatusInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Pass1bPolicy decides whether the duplicate rescan runs.
type Pass1bPolicy int

const (
	Pass1bAuto Pass1bPolicy = iota // run whenever duplicates were found
	Pass1bAlways
	Pass1bNever
)

const (
	defaultMinBuffers    = 16
	defaultBufferBudget  = 128 * 1024
	defaultLostFoundMode = 0700

	MAXBAD = 10 // bad blocks tolerated per inode
	MAXDUP = 10 // duplicate blocks tolerated per inode
)

type Options struct {
	Preen bool
	Yes   bool
	// No answers every question no and never writes.
	No    bool
	Force bool
	// Hotroot marks the filesystem as the mounted root.
	Hotroot bool
	// AltSuperblock is the sector of the superblock copy to use instead
	// of the primary; 0 means the primary.
	AltSuperblock int64
	// Convert is 1 to convert to the dynamic cylinder group format and
	// 2 to also convert to the 4.4 inode format.
	Convert       int
	LostFoundMode uint16
	Pass1b        Pass1bPolicy
	MinBuffers    int
	BufferBudget  int64
	// Label overrides the device's own geometry for superblock recovery.
	Label *device.Label

	Out io.Writer
	In  io.Reader
}

type Stats struct {
	DiskReads    uint64
	DiskWrites   uint64
	CacheLookups uint64
	CacheHits    uint64
}

type Result struct {
	Status   Status
	RunID    string
	Modified bool
	// Resolved is false when some inconsistency was left in place.
	Resolved bool
	Reboot   bool
	Err      error

	Files  int64
	Used   int64
	Totals fs.Csum
	Stats  Stats
}

// Checker holds everything one check of one filesystem needs.
type Checker struct {
	dev   device.Device
	name  string
	opts  Options
	runID uuid.UUID
	ctx   context.Context
	in    *bufio.Reader

	pending  chan inputLine // operator input being read, if any
	stopping bool           // writing back after an interrupt

	io    *cache.IO
	cache *cache.Cache

	sb       *fs.Superblock
	sbRaw    []byte
	sbSector int64 // where sb was read from
	altsb    int64 // alternate chosen by the operator or by recovery
	sbDirty  bool
	altDirty bool // also write the last group's copy
	csums    []fs.Csum

	cgblk     *cache.Buf
	diskCgFmt fs.CgFormat
	cgFmt     fs.CgFormat
	inoFmt    fs.InodeFormat
	// dirFmt is what directory visitors see. While converting the inode
	// format, directories not yet in converted are still old on disk.
	dirFmt        fs.DirFormat
	converted     map[fs.Ino]bool
	dirsConverted bool

	doingLevel1 bool
	doingLevel2 bool
	newinofmt   bool

	maxfsblock int64
	maxino     fs.Ino
	lastino    fs.Ino
	bmap       *bitmap.Bitmap
	inostat    [][]inoStat
	unalloc    inoStat
	inphead    map[fs.Ino]*inoInfo
	inpsort    []*inoInfo
	dups       *dupList
	zlnList    []fs.Ino
	badblk     int
	dupblk     int

	lfdir  fs.Ino
	lfmode uint16

	pbp      *cache.Buf // inode block
	pdirbp   *cache.Buf // directory block being scanned
	scan     inodeScan
	pathBusy bool

	nFiles int64
	nBlks  int64

	phases [nphases]stats.Op

	resolved bool
}

// New prepares a session; nothing is read until Check.
func New(dev device.Device, name string, opts Options) *Checker {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.LostFoundMode == 0 {
		opts.LostFoundMode = defaultLostFoundMode
	}
	if opts.MinBuffers <= 0 {
		opts.MinBuffers = defaultMinBuffers
	}
	if opts.BufferBudget <= 0 {
		opts.BufferBudget = defaultBufferBudget
	}
	return &Checker{
		dev:      dev,
		name:     name,
		opts:     opts,
		runID:    uuid.New(),
		in:       bufio.NewReader(opts.In),
		altsb:    opts.AltSuperblock,
		lfmode:   opts.LostFoundMode & 07777,
		resolved: true,
	}
}

const (
	phaseSetup = iota
	phasePass1
	phasePass1b
	phasePass2
	phasePass3
	phasePass4
	phasePass5
	nphases
)

var phaseNames = []string{"setup", "pass1", "pass1b", "pass2", "pass3", "pass4", "pass5"}

func (c *Checker) timed(phase int, pass func()) {
	start := time.Now()
	pass()
	c.phases[phase].Record(start)
}

// WritePhaseTable writes how long each phase of the last Check took.
func (c *Checker) WritePhaseTable(w io.Writer) {
	stats.WriteTable(phaseNames, c.phases[:], w)
}

// RunID identifies this session in logs.
func (c *Checker) RunID() string {
	return c.runID.String()
}

type interrupted struct{}

// checkInterrupt stops the run between units of work once ctx is done.
func (c *Checker) checkInterrupt() {
	if c.ctx != nil && c.ctx.Err() != nil {
		panic(interrupted{})
	}
}

// Check runs the whole check. Fatal inconsistencies and interrupts are
// reported through the Result, never as a panic.
func (c *Checker) Check(ctx context.Context) (res Result) {
	c.ctx = ctx
	res.RunID = c.runID.String()
	start := time.Now()
	util.DPrintf(1, "checker %s: open %s\n", c.runID, c.name)
	defer func() {
		util.DPrintf(1, "checker %s: close %s: %v after %v\n",
			c.runID, c.name, res.Status, time.Since(start))
	}()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch e := r.(type) {
		case *FatalError:
			res.Status = StatusFatal
			res.Err = e
		case interrupted:
			c.finishInterrupted()
			res.Status = StatusInterrupted
			res.Err = ctx.Err()
		default:
			panic(r)
		}
		c.fillResult(&res)
	}()

	setupStart := time.Now()
	err := c.setup()
	c.phases[phaseSetup].Record(setupStart)
	if err != nil {
		if err == errClean {
			res.Status = StatusSkipped
			res.Resolved = true
			return
		}
		if !c.opts.Preen {
			c.printf("\n%s: CANNOT CHECK: %v\n", c.name, err)
		}
		res.Status = StatusFatal
		res.Err = err
		return
	}
	c.checkInterrupt()

	if !c.opts.Preen {
		c.printf("** Last Mounted on %s\n", c.sb.MountPoint())
		if c.opts.Hotroot {
			c.printf("** Root file system\n")
		}
		c.printf("** Phase 1 - Check Blocks and Sizes\n")
	}
	c.timed(phasePass1, c.pass1)
	c.checkInterrupt()

	if c.dups.len() > 0 && c.wantPass1b() {
		if !c.opts.Preen {
			c.printf("** Phase 1b - Rescan For More DUPS\n")
		}
		c.timed(phasePass1b, c.pass1b)
		c.checkInterrupt()
	}

	if !c.opts.Preen {
		c.printf("** Phase 2 - Check Pathnames\n")
	}
	c.timed(phasePass2, c.pass2)
	c.checkInterrupt()

	if !c.opts.Preen {
		c.printf("** Phase 3 - Check Connectivity\n")
	}
	c.timed(phasePass3, c.pass3)
	c.checkInterrupt()

	if !c.opts.Preen {
		c.printf("** Phase 4 - Check Reference Counts\n")
	}
	c.timed(phasePass4, c.pass4)
	c.checkInterrupt()

	if !c.opts.Preen {
		c.printf("** Phase 5 - Check Cyl groups\n")
	}
	c.timed(phasePass5, c.pass5)

	c.summary()
	if (c.doingLevel1 || c.doingLevel2) && c.sbDirty {
		c.writeAlternates()
	}
	c.ckfini(c.resolved && c.io.Resolved)

	c.fillResult(&res)
	if res.Modified {
		res.Status = StatusModified
		if !c.opts.Preen {
			c.printf("\n***** FILE SYSTEM WAS MODIFIED *****\n")
		}
		if c.opts.Hotroot {
			c.printf("\n***** REBOOT NOW *****\n")
			res.Reboot = true
		}
	}
	return
}

func (c *Checker) wantPass1b() bool {
	switch c.opts.Pass1b {
	case Pass1bAlways:
		return true
	case Pass1bNever:
		return false
	}
	return !c.opts.Preen
}

func (c *Checker) fillResult(res *Result) {
	res.Resolved = c.resolved
	res.Files = c.nFiles
	res.Used = c.nBlks
	if c.io != nil {
		res.Modified = c.io.Modified
		res.Resolved = res.Resolved && c.io.Resolved
		res.Stats.DiskReads = c.io.DiskReads
		res.Stats.DiskWrites = c.io.DiskWrites
	}
	if c.cache != nil {
		res.Stats.CacheLookups = c.cache.Lookups
		res.Stats.CacheHits = c.cache.Hits
	}
	if c.sb != nil {
		res.Totals = c.sb.Cstotal
	}
}

// finishInterrupted writes back what is already repaired without
// marking the filesystem clean.
func (c *Checker) finishInterrupted() {
	defer func() {
		if r := recover(); r != nil {
			switch r.(type) {
			case *FatalError, interrupted:
			default:
				panic(r)
			}
		}
	}()
	c.stopping = true
	c.releaseAll()
	c.ckfini(false)
}

func (c *Checker) summary() {
	sb := c.sb
	nffree := int64(sb.Cstotal.Nffree)
	nbfree := int64(sb.Cstotal.Nbfree)
	dsize := int64(sb.Dsize)
	if dsize <= 0 {
		dsize = 1
	}
	c.pwarn("%d files, %d used, %d free ", c.nFiles, c.nBlks,
		nffree+int64(sb.Frag)*nbfree)
	c.printf("(%d frags, %d blocks, %d.%d%% fragmentation)\n",
		nffree, nbfree, nffree*100/dsize, ((nffree*1000+dsize/2)/dsize)%10)
	if util.Debug > 0 {
		files := int64(c.maxino) - int64(fs.ROOTINO) - int64(sb.Cstotal.Nifree) - c.nFiles
		blks := int64(sb.Size) - c.nBlks - nffree - int64(sb.Frag)*nbfree
		blks -= int64(sb.Ncg)*(sb.CgDMin(0)-sb.CgSBlock(0)) + sb.CgSBlock(0)
		blks -= fs.Howmany(int64(sb.Cssize), int64(sb.Fsize))
		if files != 0 || blks != 0 {
			c.printf("%d files missing, %d blocks missing\n", files, blks)
		}
		if c.dups.len() > 0 {
			c.printf("The following duplicate blocks remain:%v\n", c.dups.all())
		}
		if len(c.zlnList) > 0 {
			c.printf("The following zero link count inodes remain:%v\n", c.zlnList)
		}
	}
}

// releaseAll unpins the buffers held across calls.
func (c *Checker) releaseAll() {
	if c.cache == nil {
		return
	}
	if c.pbp != nil {
		c.cache.Release(c.pbp)
		c.pbp = nil
	}
	if c.pdirbp != nil {
		c.cache.Release(c.pdirbp)
		c.pdirbp = nil
	}
}

func (c *Checker) ckfini(markclean bool) {
	if c.cache == nil {
		return
	}
	c.releaseAll()
	if !c.io.Writable() {
		return
	}
	c.flushSb()
	if c.sbSector != fs.SBLOCK && !c.opts.Preen && !c.stopping &&
		c.reply("UPDATE STANDARD SUPERBLOCK") {
		c.sbSector = fs.SBLOCK
		c.sbDirty = true
		c.flushSb()
	}
	c.cache.Flush(c.cgblk)
	if pinned := c.cache.FlushAll(); pinned != 0 {
		c.abort("Panic: lost %d buffers", pinned)
	}
	if markclean && (c.sb.Clean == 0 || c.sb.Flags&fs.FS_UNCLEAN != 0) {
		c.sb.Clean = fs.FS_CLEAN
		c.sb.Flags &^= fs.FS_UNCLEAN
		c.sbDirty = true
		modified := c.io.Modified
		c.flushSb()
		c.io.Modified = modified
		if !c.opts.Preen {
			c.printf("\n***** FILE SYSTEM MARKED CLEAN *****\n")
		}
	}
	util.DPrintf(1, "cache missed %d of %d (%d%%)\n",
		c.cache.Lookups-c.cache.Hits, c.cache.Lookups,
		pct(c.cache.Lookups-c.cache.Hits, c.cache.Lookups))
	if err := c.dev.Sync(); err != nil {
		c.printf("%s: sync: %v\n", c.name, err)
	}
}

func pct(n, d uint64) uint64 {
	if d == 0 {
		return 0
	}
	return n * 100 / d
}
