package device

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-journal/util"
)

// Raw is a character or block special file, or a regular image file,
// accessed with pread/pwrite.
type Raw struct {
	Name     string
	fd       int
	size     int64
	writable bool
	label    *Label
}

// OpenRaw opens name read-only, or read-write when writable is set.
func OpenRaw(name string, writable bool) (*Raw, error) {
	flags := unix.O_RDONLY
	if writable {
		flags = unix.O_RDWR
	}
	fd, err := unix.Open(name, flags|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("fstat %s: %w", name, err)
	}
	size := st.Size
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		end, err := unix.Seek(fd, 0, io.SeekEnd)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("size of %s: %w", name, err)
		}
		size = end
	}
	util.DPrintf(1, "OpenRaw: %s size %d writable %v\n", name, size, writable)
	return &Raw{Name: name, fd: fd, size: size, writable: writable}, nil
}

func (r *Raw) ReadAt(p []byte, off int64) (int, error) {
	if err := checkRange(r, len(p), off); err != nil {
		return 0, err
	}
	n, err := unix.Pread(r.fd, p, off)
	if err == nil && n < len(p) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

func (r *Raw) WriteAt(p []byte, off int64) (int, error) {
	if !r.writable {
		return 0, unix.EBADF
	}
	if err := checkRange(r, len(p), off); err != nil {
		return 0, err
	}
	n, err := unix.Pwrite(r.fd, p, off)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

func (r *Raw) Size() int64 {
	return r.size
}

func (r *Raw) Sync() error {
	if !r.writable {
		return nil
	}
	return unix.Fsync(r.fd)
}

func (r *Raw) Close() error {
	return unix.Close(r.fd)
}

// SetLabel attaches geometry supplied by the caller.
func (r *Raw) SetLabel(l *Label) {
	r.label = l
}

func (r *Raw) Label() (*Label, error) {
	if r.label == nil {
		return nil, fmt.Errorf("%s: %w", r.Name, ErrNoLabel)
	}
	return r.label, nil
}

var _ Device = &Raw{}
var _ Labeled = &Raw{}
