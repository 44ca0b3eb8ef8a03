package checker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mit-pdos/go-fsck/fs"
)

var (
	ErrAbort             = errors.New("checker: check abandoned")
	ErrNoSuperblock      = errors.New("checker: no usable superblock")
	ErrBadMagic          = errors.New("checker: bad magic number")
	ErrAlternateMismatch = errors.New("checker: superblock disagrees with alternate")
)

// FatalError ends the check of one filesystem. It unwraps to ErrAbort.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	if e.Msg == "" {
		return ErrAbort.Error()
	}
	return ErrAbort.Error() + ": " + e.Msg
}

func (e *FatalError) Unwrap() error {
	return ErrAbort
}

func (c *Checker) printf(format string, a ...interface{}) {
	fmt.Fprintf(c.opts.Out, format, a...)
}

// pwarn is printf, naming the device first when preening.
func (c *Checker) pwarn(format string, a ...interface{}) {
	if c.opts.Preen {
		c.printf("%s: ", c.name)
	}
	c.printf(format, a...)
}

// pfatal reports an inconsistency. Interactively it is only a message;
// when preening it ends the check.
func (c *Checker) pfatal(format string, a ...interface{}) {
	if !c.opts.Preen {
		c.printf(format, a...)
		return
	}
	c.printf("%s: ", c.name)
	c.printf(format, a...)
	c.printf("\n%s: UNEXPECTED INCONSISTENCY; RUN fsck MANUALLY.\n", c.name)
	panic(&FatalError{Msg: strings.TrimSpace(fmt.Sprintf(format, a...))})
}

func (c *Checker) abort(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	if msg != "" {
		c.printf("%s\n", msg)
	}
	panic(&FatalError{Msg: msg})
}

func (c *Checker) writable() bool {
	return !c.opts.No && (c.io == nil || c.io.Writable())
}

// reply asks the operator a yes/no question. A "no" to anything but
// CONTINUE leaves the filesystem unresolved.
func (c *Checker) reply(question string) bool {
	if c.opts.Preen {
		c.pfatal("INTERNAL ERROR: GOT TO reply()")
	}
	persevere := question == "CONTINUE"
	c.printf("\n")
	if !persevere && !c.writable() {
		c.printf("%s? no\n\n", question)
		c.resolved = false
		return false
	}
	if c.opts.Yes || (persevere && c.opts.No) {
		c.printf("%s? yes\n\n", question)
		return true
	}
	for {
		c.printf("%s? [yn] ", question)
		line, err := c.readLine()
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil {
				c.printf("\n")
				c.resolved = false
				return false
			}
			continue
		}
		switch line[0] {
		case 'y', 'Y':
			c.printf("\n")
			return true
		case 'n', 'N':
			c.printf("\n")
			c.resolved = false
			return false
		}
	}
}

type inputLine struct {
	text string
	err  error
}

// readLine waits for the operator's next line. An interrupt while
// waiting ends the check; a read left pending is picked up by the next
// prompt.
func (c *Checker) readLine() (string, error) {
	if c.pending == nil {
		ch := make(chan inputLine, 1)
		go func() {
			text, err := c.in.ReadString('\n')
			ch <- inputLine{text, err}
		}()
		c.pending = ch
	}
	var done <-chan struct{}
	if c.ctx != nil {
		done = c.ctx.Done()
	}
	select {
	case l := <-c.pending:
		c.pending = nil
		return l.text, l.err
	case <-done:
		c.printf("\n")
		panic(interrupted{})
	}
}

type fixState int

const (
	fixDontKnow fixState = iota
	fixNo
	fixYes
	fixIgnore
)

// dofix asks once per inode whether to repair the problem msg describes
// and remembers the answer in idesc.
func (c *Checker) dofix(idesc *inodesc, msg string) bool {
	switch idesc.fix {
	case fixDontKnow:
		if idesc.typ == descData {
			c.direrror(idesc.number, msg)
		} else {
			c.pwarn("%s", msg)
		}
		if c.opts.Preen {
			c.printf(" (SALVAGED)\n")
			idesc.fix = fixYes
			return true
		}
		if c.reply("SALVAGE") {
			idesc.fix = fixYes
			return true
		}
		idesc.fix = fixNo
		return false
	case fixYes:
		return true
	case fixNo:
		return false
	case fixIgnore:
		return false
	}
	c.abort("UNKNOWN INODESC FIX MODE %d", idesc.fix)
	return false
}

// fileerror names the inode at ino, reached from cwd, as the culprit.
func (c *Checker) fileerror(cwd, ino fs.Ino, msg string) {
	c.pwarn("%s ", msg)
	c.pinode(ino)
	c.printf("\n")
	path := c.getpathname(cwd, ino)
	if ino < fs.ROOTINO || ino >= c.maxino {
		c.pfatal("NAME=%s\n", path)
		return
	}
	dp := c.ginode(ino)
	switch {
	case !ftypeok(dp):
		c.pfatal("NAME=%s\n", path)
	case dp.Type() == fs.IFDIR:
		c.pfatal("DIR=%s\n", path)
	default:
		c.pfatal("FILE=%s\n", path)
	}
}

func (c *Checker) direrror(ino fs.Ino, msg string) {
	c.fileerror(ino, ino, msg)
}

// ioReporter lets the cache prompt through this session.
type ioReporter struct {
	c *Checker
}

func (r ioReporter) Printf(format string, a ...interface{}) {
	r.c.printf(format, a...)
}

func (r ioReporter) Pfatal(format string, a ...interface{}) {
	r.c.pfatal(format, a...)
}

func (r ioReporter) Reply(question string) bool {
	return r.c.reply(question)
}

func (r ioReporter) Abort(format string, a ...interface{}) {
	r.c.abort(format, a...)
}
