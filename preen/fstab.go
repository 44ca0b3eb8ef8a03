// Package preen checks every filesystem named in the mount table,
// running one check at a time per physical disk and several disks in
// parallel.
package preen

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Entry is one line of an fstab(5) file.
type Entry struct {
	Spec    string // block device
	File    string // mount point
	Vfstype string
	Options string
	Freq    int
	Passno  int
}

// ParseFstab reads BSD or Linux fstab lines. Comments and blank lines
// are skipped; the dump frequency and pass number may be omitted.
func ParseFstab(r io.Reader) ([]Entry, error) {
	var ents []Entry
	s := bufio.NewScanner(r)
	for lineno := 1; s.Scan(); lineno++ {
		line := s.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if len(f) < 4 {
			return nil, fmt.Errorf("fstab line %d: want at least 4 fields, got %d", lineno, len(f))
		}
		e := Entry{Spec: f[0], File: f[1], Vfstype: f[2], Options: f[3]}
		var err error
		if len(f) > 4 {
			if e.Freq, err = strconv.Atoi(f[4]); err != nil {
				return nil, fmt.Errorf("fstab line %d: dump frequency: %w", lineno, err)
			}
		}
		if len(f) > 5 {
			if e.Passno, err = strconv.Atoi(f[5]); err != nil {
				return nil, fmt.Errorf("fstab line %d: pass number: %w", lineno, err)
			}
		}
		ents = append(ents, e)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("reading fstab: %w", err)
	}
	return ents, nil
}

// HasOption reports whether opt is in the comma-separated options.
func (e Entry) HasOption(opt string) bool {
	for _, o := range strings.Split(e.Options, ",") {
		if o == opt {
			return true
		}
	}
	return false
}

// Checkable reports whether preen should look at the entry: a UFS
// filesystem with a nonzero pass number that is not swap or ignored.
func (e Entry) Checkable() bool {
	switch e.Vfstype {
	case "ufs", "ffs", "4.2":
	default:
		return false
	}
	if e.Passno <= 0 {
		return false
	}
	return !e.HasOption("sw") && !e.HasOption("xx") && !e.HasOption("noauto")
}

// Find returns the entry whose mount point or device, block or raw, is
// name.
func Find(ents []Entry, name string) (Entry, bool) {
	for _, e := range ents {
		if e.File == name || e.Spec == name || RawName(e.Spec) == name {
			return e, true
		}
	}
	return Entry{}, false
}
