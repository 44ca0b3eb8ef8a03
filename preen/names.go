package preen

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"

	"golang.org/x/sys/unix"
)

var ErrBadDisk = errors.New("preen: bad disk name")

// RawName is the character device for a block device: an r in front of
// the last path component.
func RawName(name string) string {
	dir, file := filepath.Split(name)
	return dir + "r" + file
}

// BlockCheck turns a device name from the mount table into what the
// checker should open. Block devices map to their raw twin when there
// is one; character devices and image files are used as they are.
func BlockCheck(name string) (string, error) {
	var st unix.Stat_t
	if err := unix.Stat(name, &st); err != nil {
		return "", fmt.Errorf("%w: can't stat %s: %v", ErrBadDisk, name, err)
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFCHR, unix.S_IFREG:
		return name, nil
	case unix.S_IFBLK:
		raw := RawName(name)
		var rst unix.Stat_t
		if err := unix.Stat(raw, &rst); err == nil && rst.Mode&unix.S_IFMT == unix.S_IFCHR {
			return raw, nil
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: %s is not a character device", ErrBadDisk, name)
}

var (
	partLetter  = regexp.MustCompile(`^(.*[0-9])[a-h]$`)
	sliceSuffix = regexp.MustCompile(`^(.*[0-9])[sp][0-9]+$`)
	linuxPart   = regexp.MustCompile(`^(.*/)?((?:[shv]|xv)d[a-z]+)[0-9]+$`)
)

// DiskName names the physical disk a partition lives on, so partitions
// of one disk are never checked at the same time. "/dev/rsd0a",
// "/dev/ada0s1a", "/dev/ada0p2", "/dev/sda1" and "/dev/nvme0n1p2" map
// to "/dev/rsd0", "/dev/ada0", "/dev/ada0", "/dev/sda" and
// "/dev/nvme0n1".
func DiskName(name string) string {
	if m := partLetter.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	if m := sliceSuffix.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if m := linuxPart.FindStringSubmatch(name); m != nil {
		return m[1] + m[2]
	}
	return name
}
