package fs

import (
	"encoding/binary"

	"github.com/tchajed/goose/machine"
)

const (
	DIRBLKSIZ int64 = 512
	MAXNAMLEN       = 255
	DIRHDRSZ        = 8 // d_ino + d_reclen + type/namlen
)

// DirFormat picks the encoding of the two bytes after d_reclen.
type DirFormat int

const (
	DirFormatOld DirFormat = iota // 16-bit d_namlen
	DirFormatNew                  // 8-bit d_type, 8-bit d_namlen
)

// Direct is a decoded directory entry header plus its name.
type Direct struct {
	Ino    Ino
	Reclen uint16
	Type   uint8
	Namlen int
	Name   string
}

// DirSiz is the minimum record length for a name of n bytes.
func DirSiz(n int) int {
	return (DIRHDRSZ + n + 1 + 3) &^ 3
}

func (d *Direct) Size() int {
	return DirSiz(d.Namlen)
}

// DecodeHeader reads only the fixed part of the entry at b.
func (f DirFormat) DecodeHeader(b []byte) Direct {
	var d Direct
	d.Ino = machine.UInt32Get(b[0:4])
	d.Reclen = binary.LittleEndian.Uint16(b[4:6])
	if f == DirFormatOld {
		d.Namlen = int(binary.LittleEndian.Uint16(b[6:8]))
		d.Type = DT_UNKNOWN
	} else {
		d.Type = b[6]
		d.Namlen = int(b[7])
	}
	return d
}

// Decode reads the header and, when it fits in b, the name.
func (f DirFormat) Decode(b []byte) Direct {
	d := f.DecodeHeader(b)
	if DIRHDRSZ+d.Namlen <= len(b) {
		d.Name = string(b[DIRHDRSZ : DIRHDRSZ+d.Namlen])
	}
	return d
}

// EncodeHeader writes the fixed part of d at b.
func (f DirFormat) EncodeHeader(d *Direct, b []byte) {
	machine.UInt32Put(b[0:4], d.Ino)
	binary.LittleEndian.PutUint16(b[4:6], d.Reclen)
	if f == DirFormatOld {
		binary.LittleEndian.PutUint16(b[6:8], uint16(d.Namlen))
	} else {
		b[6] = d.Type
		b[7] = uint8(d.Namlen)
	}
}

// Encode writes the header and the NUL-padded name of d at b.
func (f DirFormat) Encode(d *Direct, b []byte) {
	f.EncodeHeader(d, b)
	n := d.Size()
	for i := DIRHDRSZ; i < n && i < len(b); i++ {
		b[i] = 0
	}
	copy(b[DIRHDRSZ:], d.Name)
}

// NameTerminated reports whether the name at b is NUL terminated with no
// embedded slash or NUL before namlen.
func NameTerminated(b []byte, namlen int) bool {
	if DIRHDRSZ+namlen >= len(b) {
		return false
	}
	for i := 0; i < namlen; i++ {
		c := b[DIRHDRSZ+i]
		if c == 0 || c == '/' {
			return false
		}
	}
	return b[DIRHDRSZ+namlen] == 0
}

// MkDirect builds an entry with its minimal record length.
func MkDirect(ino Ino, typ uint8, name string) Direct {
	d := Direct{Ino: ino, Type: typ, Namlen: len(name), Name: name}
	d.Reclen = uint16(d.Size())
	return d
}

// EmptyDirBlock fills a DIRBLKSIZ chunk with one unused entry.
func EmptyDirBlock(f DirFormat, b []byte) {
	for i := range b[:DIRBLKSIZ] {
		b[i] = 0
	}
	d := Direct{Reclen: uint16(DIRBLKSIZ)}
	f.EncodeHeader(&d, b)
}

// DirTemplate writes "." and ".." for a new directory into the first
// DIRBLKSIZ bytes of b.
func DirTemplate(f DirFormat, b []byte, ino Ino, parent Ino) {
	EmptyDirBlock(f, b)
	dot := MkDirect(ino, DT_DIR, ".")
	f.Encode(&dot, b)
	dotdot := MkDirect(parent, DT_DIR, "..")
	dotdot.Reclen = uint16(DIRBLKSIZ) - dot.Reclen
	f.Encode(&dotdot, b[dot.Reclen:])
}
