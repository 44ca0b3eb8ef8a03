package checker

import (
	"github.com/mit-pdos/go-fsck/fs"
)

// pass3 reconnects directories that cannot be reached from the root,
// starting from the top of each disconnected subtree.
func (c *Checker) pass3() {
	for i := len(c.inpsort) - 1; i >= 0; i-- {
		inp := c.inpsort[i]
		if inp.number == fs.ROOTINO {
			continue
		}
		state := c.inoinfo(inp.number).state
		if inp.parent != 0 && state != stateDir {
			continue
		}
		if state == stateDirClear {
			continue
		}
		var orphan fs.Ino
		for loopcnt := 0; ; loopcnt++ {
			orphan = inp.number
			if inp.parent == 0 || c.inoinfo(inp.parent).state != stateDir ||
				loopcnt > len(c.inpsort) {
				break
			}
			inp = c.getinoinfo(inp.parent)
		}
		if c.linkup(orphan, inp.dotdot) {
			inp.parent = c.lfdir
			inp.dotdot = c.lfdir
			c.inoinfo(c.lfdir).linkcnt--
		}
		c.inoinfo(orphan).state = stateDirFound
		c.propagate()
	}
}

// propagate marks every directory whose parent is reachable as
// reachable, until nothing changes.
func (c *Checker) propagate() {
	for change := true; change; {
		change = false
		for _, inp := range c.inpsort {
			if inp.parent == 0 {
				continue
			}
			if c.inoinfo(inp.parent).state == stateDirFound &&
				c.inoinfo(inp.number).state == stateDir {
				c.inoinfo(inp.number).state = stateDirFound
				change = true
			}
		}
	}
}
