package syscall6

import (
	"fmt"

	"defs"
	"proc"
	"stats"
)

// sysnames maps each syscall number to its name, mirroring the
// dispatch order of defs' SYS_* block. The kernel proper only needs
// the numbers; the names exist for the stats-gated trace below and
// for anything else (a debugger, a test failure message) that wants
// to print a syscall without a reverse lookup by hand.
var sysnames = map[defs.Tid_t]string{
	defs.SYS_FORK:   "fork",
	defs.SYS_EXIT:   "exit",
	defs.SYS_WAIT:   "wait",
	defs.SYS_PIPE:   "pipe",
	defs.SYS_READ:   "read",
	defs.SYS_KILL:   "kill",
	defs.SYS_EXEC:   "exec",
	defs.SYS_FSTAT:  "fstat",
	defs.SYS_CHDIR:  "chdir",
	defs.SYS_DUP:    "dup",
	defs.SYS_GETPID: "getpid",
	defs.SYS_SBRK:   "sbrk",
	defs.SYS_SLEEP:  "sleep",
	defs.SYS_UPTIME: "uptime",
	defs.SYS_OPEN:   "open",
	defs.SYS_WRITE:  "write",
	defs.SYS_MKNOD:  "mknod",
	defs.SYS_UNLINK: "unlink",
	defs.SYS_LINK:   "link",
	defs.SYS_MKDIR:  "mkdir",
	defs.SYS_CLOSE:  "close",
}

// Sysname returns the name of syscall n, or its number if unknown.
func Sysname(n defs.Tid_t) string {
	if name, ok := sysnames[n]; ok {
		return name
	}
	return fmt.Sprintf("sys#%d", int(n))
}

// trace prints one line per syscall entry when stats collection is
// compiled in; free otherwise, since Stats is a const the compiler
// folds away.
func trace(p *proc.Proc_t, n defs.Tid_t) {
	if stats.Stats {
		if p != nil {
			fmt.Printf("%d %s: %s\n", p.Pid(), p.Name(), Sysname(n))
		} else {
			fmt.Printf("?: %s\n", Sysname(n))
		}
	}
}
