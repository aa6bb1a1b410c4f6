// Package syscall6 implements the syscall dispatch table. The
// handlers are called as ordinary Go methods
// from a process's body closure rather than decoded out of a
// trapframe: this hosted kernel has no register file for argint/argstr
// to read, so a body plays the role real user code's libc wrapper
// would, calling straight into Kernel_t.
package syscall6

import (
	"cpu"
	"defs"
	"fd"
	"fdops"
	"fs"
	"limits"
	"proc"

	"circbuf"
	"stat"
	"ustr"
)

// pathUstr converts a NUL-terminated byte slice (the shape a user
// buffer copy of a path string produces) to a Ustr.
func pathUstr(b []byte) ustr.Ustr { return ustr.MkUstrSlice(b) }

// Kernel_t bundles the subsystems a syscall handler needs: the process
// table and the mounted filesystem. One instance is built at boot and
// shared by every hart; both are process-wide singletons.
type Kernel_t struct {
	Table *proc.Table_t
	Fs    *fs.Fs_t
}

// allocFd reserves a slot against p's FdBudget before scanning for the
// lowest free descriptor, so the two stay in lockstep: the array scan
// alone already enforces len(p.Fds) as a hard cap, but FdBudget gives
// that cap a name ("proc.nofile") a diagnostic can report without a
// debugger attached.
func allocFd(p *proc.Proc_t) int {
	if !p.FdBudget.Resadd_noblock(1) {
		return -1
	}
	for i := 0; i < len(p.Fds); i++ {
		if p.Fds[i] == nil {
			return i
		}
	}
	p.FdBudget.Resdel(1)
	return -1
}

// fdAt is proc.Proc_t's descriptor accessor: Fds is a fixed array with
// no exported indexer, so syscall handlers reach into it directly
// (same package family, just a different file) via this tiny helper
// kept here rather than widening Proc_t's exported surface.
func fdAt(p *proc.Proc_t, fdno int) *fd.Fd_t {
	if fdno < 0 || fdno >= len(p.Fds) {
		return nil
	}
	return p.Fds[fdno]
}

// Fork clones the caller into a new process, returning the child's pid
// to the parent and 0 to the child (observed via the child's own A0
// after its body resumes from the top, see proc.Table_t.Fork's doc
// comment).
func (k *Kernel_t) Fork(c *cpu.Cpu_t, p *proc.Proc_t) int {
	trace(p, defs.SYS_FORK)
	pid, err := k.Table.Fork(c, p)
	if err != 0 {
		return err.Int()
	}
	return int(pid)
}

// Exit tears the caller down; never returns.
func (k *Kernel_t) Exit(p *proc.Proc_t, status int) {
	trace(p, defs.SYS_EXIT)
	k.Table.Exit(p, status)
}

// Wait reaps one zombie child, blocking until one exists. The exit
// status is written to *status when non-nil, matching
// wait(int *status)'s calling convention.
func (k *Kernel_t) Wait(p *proc.Proc_t, status *int) int {
	trace(p, defs.SYS_WAIT)
	pid, xstate, err := k.Table.Wait(p)
	if err != 0 {
		return err.Int()
	}
	if status != nil {
		*status = xstate
	}
	return int(pid)
}

// Kill marks pid for death.
func (k *Kernel_t) Kill(c *cpu.Cpu_t, pid defs.Pid_t) int {
	trace(nil, defs.SYS_KILL)
	return k.Table.Kill(c, pid).Int()
}

// Getpid returns the caller's pid.
func (k *Kernel_t) Getpid(p *proc.Proc_t) int {
	trace(p, defs.SYS_GETPID)
	return int(p.Pid())
}

// Sbrk grows or shrinks the caller's heap by n bytes, returning the
// previous break.
func (k *Kernel_t) Sbrk(p *proc.Proc_t, n int) int {
	trace(p, defs.SYS_SBRK)
	old, err := k.Table.Grow(p, n)
	if err != 0 {
		return err.Int()
	}
	return old
}

// Getrusage copies the caller's accumulated hart-time accounting out
// as a serialized rusage buffer, exposed the way a real getrusage(2)
// would.
func (k *Kernel_t) Getrusage(p *proc.Proc_t, dst []byte) int {
	ru := p.Accnt.Fetch()
	n := copy(dst, ru)
	return n
}

// Pipe installs a connected read/write descriptor pair in the caller's
// table, of limits.PIPESIZE capacity.
func (k *Kernel_t) Pipe(p *proc.Proc_t) (rfd, wfd int, errno int) {
	trace(p, defs.SYS_PIPE)
	ri := allocFd(p)
	if ri < 0 {
		return 0, 0, defs.EMFILE.Int()
	}
	rd, wr := circbuf.MkPipe(limits.PIPESIZE)
	p.Fds[ri] = &fd.Fd_t{Fops: rd.Bind(p), Perms: fd.FD_READ}

	wi := allocFd(p)
	if wi < 0 {
		fd.Close_panic(p.Fds[ri])
		p.Fds[ri] = nil
		p.FdBudget.Resdel(1)
		return 0, 0, defs.EMFILE.Int()
	}
	p.Fds[wi] = &fd.Fd_t{Fops: wr.Bind(p), Perms: fd.FD_WRITE}
	return ri, wi, 0
}

// Dup installs a new descriptor, lowest free number, sharing the same
// backing object as oldfd.
func (k *Kernel_t) Dup(p *proc.Proc_t, oldfd int) int {
	trace(p, defs.SYS_DUP)
	of := fdAt(p, oldfd)
	if of == nil {
		return defs.EBADF.Int()
	}
	ni := allocFd(p)
	if ni < 0 {
		return defs.EMFILE.Int()
	}
	nf, err := fd.Copyfd(of)
	if err != 0 {
		p.FdBudget.Resdel(1)
		return err.Int()
	}
	p.Fds[ni] = nf
	return ni
}

// Close releases a descriptor, returning its reserved FdBudget slot.
func (k *Kernel_t) Close(p *proc.Proc_t, fdno int) int {
	trace(p, defs.SYS_CLOSE)
	f := fdAt(p, fdno)
	if f == nil {
		return defs.EBADF.Int()
	}
	p.Fds[fdno] = nil
	p.FdBudget.Resdel(1)
	if f.Fops.Close() != 0 {
		return defs.EINVAL.Int()
	}
	return 0
}

// Read reads from an open descriptor.
func (k *Kernel_t) Read(p *proc.Proc_t, fdno int, dst fdops.Userio_i) int {
	trace(p, defs.SYS_READ)
	f := fdAt(p, fdno)
	if f == nil || f.Perms&fd.FD_READ == 0 {
		return defs.EBADF.Int()
	}
	n, err := f.Fops.Read(dst)
	if err != 0 {
		return err.Int()
	}
	return n
}

// Write writes to an open descriptor.
func (k *Kernel_t) Write(p *proc.Proc_t, fdno int, src fdops.Userio_i) int {
	trace(p, defs.SYS_WRITE)
	f := fdAt(p, fdno)
	if f == nil || f.Perms&fd.FD_WRITE == 0 {
		return defs.EBADF.Int()
	}
	n, err := f.Fops.Write(src)
	if err != 0 {
		return err.Int()
	}
	return n
}

// Fstat stats an open descriptor.
func (k *Kernel_t) Fstat(p *proc.Proc_t, fdno int, st *stat.Stat_t) int {
	trace(p, defs.SYS_FSTAT)
	f := fdAt(p, fdno)
	if f == nil {
		return defs.EBADF.Int()
	}
	if err := f.Fops.Fstat(st); err != 0 {
		return err.Int()
	}
	return 0
}

// Open resolves path (relative to cwd unless absolute), optionally
// creating a plain file, and installs an fs-backed descriptor. Opening
// the console device major dispatches to console.Get instead of the
// filesystem.
func (k *Kernel_t) Open(p *proc.Proc_t, path []byte, flags int) int {
	trace(p, defs.SYS_OPEN)
	fi := allocFd(p)
	if fi < 0 {
		return defs.EMFILE.Int()
	}
	full := p.Cwd.Canonicalpath(pathUstr(path))

	var ip *fs.Inode_t
	k.Fs.BeginOp(p)
	if flags&defs.O_CREAT != 0 {
		i, err := k.Fs.Create(p, full, defs.I_FILE, 0, 0)
		if err != 0 {
			k.Fs.EndOp(p)
			p.FdBudget.Resdel(1)
			return err.Int()
		}
		ip = i
	} else {
		i, err := k.Fs.Namei(p, full)
		if err != 0 {
			k.Fs.EndOp(p)
			p.FdBudget.Resdel(1)
			return err.Int()
		}
		ip = i
	}
	if ip.Type() == defs.I_DIR && flags != defs.O_RDONLY {
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		k.Fs.EndOp(p)
		p.FdBudget.Resdel(1)
		return defs.EISDIR.Int()
	}

	var ops fdops.Fdops_i
	if ip.Type() == defs.I_DEVICE {
		dops, ok := fs.OpenDevice(p, ip.Major(), ip.Minor())
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		if !ok {
			k.Fs.EndOp(p)
			p.FdBudget.Resdel(1)
			return defs.ENXIO.Int()
		}
		ops = dops
	} else {
		ip.Unlock(p)
		ops = k.Fs.OpenFile(p, ip, flags&defs.O_APPEND != 0)
	}
	k.Fs.EndOp(p)

	perms := fd.FD_READ
	if flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0 {
		perms |= fd.FD_WRITE
	}
	p.Fds[fi] = &fd.Fd_t{Fops: ops, Perms: perms}
	return fi
}

// Mknod creates a device-type directory entry with the given
// major/minor, no filesystem content.
func (k *Kernel_t) Mknod(p *proc.Proc_t, path []byte, major, minor int) int {
	trace(p, defs.SYS_MKNOD)
	full := p.Cwd.Canonicalpath(pathUstr(path))
	k.Fs.BeginOp(p)
	ip, err := k.Fs.Create(p, full, defs.I_DEVICE, major, minor)
	if err != 0 {
		k.Fs.EndOp(p)
		return err.Int()
	}
	ip.Unlock(p)
	k.Fs.Put(p, ip)
	k.Fs.EndOp(p)
	return 0
}

// Mkdir creates a directory.
func (k *Kernel_t) Mkdir(p *proc.Proc_t, path []byte) int {
	trace(p, defs.SYS_MKDIR)
	full := p.Cwd.Canonicalpath(pathUstr(path))
	k.Fs.BeginOp(p)
	ip, err := k.Fs.Create(p, full, defs.I_DIR, 0, 0)
	if err != 0 {
		k.Fs.EndOp(p)
		return err.Int()
	}
	ip.Unlock(p)
	k.Fs.Put(p, ip)
	k.Fs.EndOp(p)
	return 0
}

// Chdir changes the caller's working directory.
func (k *Kernel_t) Chdir(p *proc.Proc_t, path []byte) int {
	trace(p, defs.SYS_CHDIR)
	full := p.Cwd.Canonicalpath(pathUstr(path))
	ip, err := k.Fs.Namei(p, full)
	if err != 0 {
		return err.Int()
	}
	if ip.Type() != defs.I_DIR {
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		return defs.ENOTDIR.Int()
	}
	ip.Unlock(p)

	p.Cwd.Lock()
	old := p.Cwd.Fd
	p.Cwd.Fd = &fd.Fd_t{Fops: k.Fs.OpenFile(p, ip, false), Perms: fd.FD_READ}
	p.Cwd.Path = full
	p.Cwd.Unlock()
	if old != nil {
		fd.Close_panic(old)
	}
	return 0
}

// Link adds a second directory entry naming an existing inode,
// bumping its link count.
func (k *Kernel_t) Link(p *proc.Proc_t, oldpath, newpath []byte) int {
	trace(p, defs.SYS_LINK)
	k.Fs.BeginOp(p)
	defer k.Fs.EndOp(p)

	oldfull := p.Cwd.Canonicalpath(pathUstr(oldpath))
	ip, err := k.Fs.Namei(p, oldfull)
	if err != 0 {
		return err.Int()
	}
	if ip.Type() == defs.I_DIR {
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		return defs.EISDIR.Int()
	}

	newfull := p.Cwd.Canonicalpath(pathUstr(newpath))
	dp, name, perr := k.Fs.Nameiparent(p, newfull)
	if perr != 0 {
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		return perr.Int()
	}
	if linkErr := k.Fs.Dirlink(p, dp, name, ip.Inum()); linkErr != 0 {
		dp.Unlock(p)
		k.Fs.Put(p, dp)
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		return linkErr.Int()
	}
	ip.AddLink(p)
	dp.Unlock(p)
	k.Fs.Put(p, dp)
	ip.Unlock(p)
	k.Fs.Put(p, ip)
	return 0
}

// Unlink removes a directory entry and drops the target's link count,
// freeing it once both its link count and reference count reach zero
// (handled by fs.Fs_t.Put).
func (k *Kernel_t) Unlink(p *proc.Proc_t, path []byte) int {
	trace(p, defs.SYS_UNLINK)
	k.Fs.BeginOp(p)
	defer k.Fs.EndOp(p)

	full := p.Cwd.Canonicalpath(pathUstr(path))
	dp, name, err := k.Fs.Nameiparent(p, full)
	if err != 0 {
		return err.Int()
	}
	ierr := k.Fs.Unlink(p, dp, name)
	dp.Unlock(p)
	k.Fs.Put(p, dp)
	if ierr != 0 {
		return ierr.Int()
	}
	return 0
}

// Sleep blocks the caller for at least n timer ticks. A kill arriving
// mid-sleep wakes it early; the dispatcher convention for that is the
// process exits with -1 rather than seeing an error, so the EINTR is
// collapsed at this boundary like any other error.
func (k *Kernel_t) Sleep(p *proc.Proc_t, n int) int {
	trace(p, defs.SYS_SLEEP)
	return k.Table.SleepTicks(p, n).Int()
}

// Uptime returns the number of timer ticks since boot.
func (k *Kernel_t) Uptime(p *proc.Proc_t) int {
	trace(p, defs.SYS_UPTIME)
	return k.Table.Uptime(p)
}
