// Package fdops defines the contracts a file descriptor's backing
// object (an fs inode, a pipe, the console, a raw device) must satisfy
// to be installed in a process's descriptor table, and the Userio_i
// abstraction every read/write syscall copies bytes through; the
// shapes follow how fd.Fd_t and circbuf.Circbuf_t
// actually use Fdops_i and Userio_i.
package fdops

import (
	"defs"
	"lock"
	"stat"
)

// Caller_i is the per-process context a blocking Fdops_i method needs:
// which hart's kernel thread is calling, and whether that process has
// since been marked killed — marking a process killed also wakes it
// out of any sleep so it can observe the flag. proc.Proc_t satisfies
// this.
type Caller_i interface {
	lock.HartLocal
	Killed() bool
}

// Rebind_i is implemented by Fdops_i whose blocking calls were bound
// to the opening process at open time (pipes, fs files, the console).
// Fork rebinds the child's copied descriptors to the child, since a
// bound view that still names the parent would park the wrong process
// when the child blocks on it.
type Rebind_i interface {
	Rebind(c Caller_i) Fdops_i
}

// Userio_i is either end of a byte-copying operation: a user virtual
// address range (vm.Userbuf_t), a plain kernel byte slice
// (Kerneliobuf_t), or a circular buffer (circbuf.Circbuf_t). Read and
// write syscalls never know or care which.
type Userio_i interface {
	// Uioread copies from the underlying source into dst, returning
	// the number of bytes copied.
	Uioread(dst []uint8) (int, defs.Err_t)
	// Uiowrite copies src into the underlying destination, returning
	// the number of bytes copied.
	Uiowrite(src []uint8) (int, defs.Err_t)
	// Remain reports how many bytes are left to transfer.
	Remain() int
	// Totalsz reports the operation's original size.
	Totalsz() int
}

// Fdops_i is implemented by whatever a file descriptor's Fd_t.Fops
// points at: an fs-backed regular file or directory, a pipe end, the
// console, or a device. Every path-taking or fd-taking syscall that
// reads, writes, seeks, stats, closes or duplicates a descriptor goes
// through this interface so syscall.go never branches on the kind of
// thing a descriptor is.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st *stat.Stat_t) defs.Err_t
	Lseek(off int, whence int) (int, defs.Err_t)
	Read(dst Userio_i) (int, defs.Err_t)
	Write(src Userio_i) (int, defs.Err_t)
	// Reopen bumps whatever reference count backs this descriptor,
	// called when a descriptor is duplicated (dup, fork) so Close
	// only releases the backing object once every duplicate is gone.
	Reopen() defs.Err_t
}

// Pollmsg_t describes a pending readiness wait: a waiter (identified
// by the channel it will be woken on) registers interest in a
// descriptor becoming readable or writable. The console line
// discipline uses this to block a reader until a full line has been
// typed; this is the contract, not the discipline itself.
type Pollmsg_t struct {
	Events   int
	ChanID   uintptr
	Resolved bool
}

// Poll readiness bits.
const (
	POLLIN  = 0x1
	POLLOUT = 0x2
)
