// Package fs describes the on-disk format of a 4.4BSD fast file system
// (UFS1): the superblock, cylinder groups, inodes and directory entries,
// plus the geometry arithmetic that maps between them.
package fs

const (
	DEV_BSIZE  int64 = 512  // sector size used for device addressing
	DEV_BSHIFT uint  = 9    // log2(DEV_BSIZE)
	BBSIZE     int64 = 8192 // boot block
	SBOFF      int64 = BBSIZE
	SBSIZE     int64 = 8192 // reserved for the superblock
	SBLOCK     int64 = SBOFF / DEV_BSIZE

	FS_MAGIC int32 = 0x011954
	CG_MAGIC int32 = 0x090255

	MAXFRAG   int32 = 8
	MAXCSBUFS       = 32
	MAXMNTLEN       = 512
	NRPOS     int32 = 8  // rotational positions in the static table
	MAXCPG    int32 = 32 // cylinders per group for the 4.2 cg format
	MINBSIZE  int32 = 4096
	MAXBSIZE  int32 = 65536

	NDADDR = 12 // direct block pointers per inode
	NIADDR = 3  // indirect block pointers per inode

	DINODESZ   int64 = 128  // on-disk inode size
	CSUMSZ     int64 = 16   // struct csum
	SUPERSZ    int64 = 1376 // encoded struct fs
	OCGSZ      int64 = 984  // struct ocg up to cg_free
	CGSZ       int64 = 168  // struct cg up to cg_space
	POSTBLOFF  int32 = 860  // offset of fs_opostbl
	ROTBLOFF   int32 = 1376 // offset of fs_space
	MAXSYMLINK int32 = (NDADDR + NIADDR) * 4

	FS_OPTTIME  int32 = 0
	FS_OPTSPACE int32 = 1
	MINFREE     int32 = 10

	FS_42INODEFMT       int32 = -1
	FS_44INODEFMT       int32 = 2
	FS_42POSTBLFMT      int32 = -1
	FS_DYNAMICPOSTBLFMT int32 = 1

	FS_UNCLEAN    int8 = 0x01 // fs_flags: unclean, checker must run
	FS_DOSOFTDEP  int8 = 0x02 // fs_flags: soft dependencies in use
	FS_NEEDSFSCK  int8 = 0x04
	FS_CLEAN      int8 = 1 // fs_clean
	FS_CLEANUNSET int8 = 0
)

// Inode numbers.
type Ino = uint32

const (
	NULLINO Ino = 0
	WINO    Ino = 1 // whiteout, never allocated
	ROOTINO Ino = 2
)

// File mode bits.
const (
	IFMT   uint16 = 0170000
	IFIFO  uint16 = 0010000
	IFCHR  uint16 = 0020000
	IFDIR  uint16 = 0040000
	IFBLK  uint16 = 0060000
	IFREG  uint16 = 0100000
	IFLNK  uint16 = 0120000
	IFSOCK uint16 = 0140000
	IFWHT  uint16 = 0160000
)

// Directory entry file types.
const (
	DT_UNKNOWN uint8 = 0
	DT_FIFO    uint8 = 1
	DT_CHR     uint8 = 2
	DT_DIR     uint8 = 4
	DT_BLK     uint8 = 6
	DT_REG     uint8 = 8
	DT_LNK     uint8 = 10
	DT_SOCK    uint8 = 12
	DT_WHT     uint8 = 14
)

func IFTODT(mode uint16) uint8 {
	return uint8((mode & IFMT) >> 12)
}

func DTTOIF(t uint8) uint16 {
	return uint16(t) << 12
}

func Howmany(x, y int64) int64 {
	return (x + y - 1) / y
}

func Roundup(x, y int64) int64 {
	return Howmany(x, y) * y
}

// Bit helpers over byte maps, low bit first as in the kernel's setbit().

func Setbit(m []byte, i int64) {
	m[i>>3] |= 1 << uint(i&7)
}

func Clrbit(m []byte, i int64) {
	m[i>>3] &^= 1 << uint(i&7)
}

func Isset(m []byte, i int64) bool {
	return m[i>>3]&(1<<uint(i&7)) != 0
}

func Isclr(m []byte, i int64) bool {
	return !Isset(m, i)
}
