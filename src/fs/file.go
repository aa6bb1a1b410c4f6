package fs

import (
	"circbuf"
	"defs"
	"fdops"
	"lock"
	"stat"
)

// fsfile_t is the shared state behind an open regular file or
// directory: the inode it names and whether writes are forced to the
// current end of file (O_APPEND). Mirrors circbuf.Pipe_t's split
// between shared state and a per-opener bound view.
type fsfile_t struct {
	fs     *Fs_t
	ip     *Inode_t
	append bool

	mu  lock.Spinlock_t
	off int
}

// OpenFile wraps ip as a descriptor's backing object, matching
// circbuf.pipeEnd.Bind's shape: the calling process c is captured at
// open time, so every later Read/Write/Close on the returned handle
// runs under c's context without threading it through Fdops_i.
func (fs *Fs_t) OpenFile(c circbuf.Caller_i, ip *Inode_t, appendMode bool) fdops.Fdops_i {
	return &boundFsfile{f: &fsfile_t{fs: fs, ip: ip, append: appendMode}, c: c}
}

type boundFsfile struct {
	f *fsfile_t
	c circbuf.Caller_i
}

// Rebind returns a view of the same open file bound to c, for fork's
// descriptor duplication.
func (b *boundFsfile) Rebind(c fdops.Caller_i) fdops.Fdops_i {
	return &boundFsfile{f: b.f, c: c}
}

func (b *boundFsfile) Close() defs.Err_t {
	f := b.f
	f.fs.log.BeginOp(b.c)
	f.fs.Put(b.c, f.ip)
	f.fs.log.EndOp(b.c)
	return 0
}

func (b *boundFsfile) Reopen() defs.Err_t {
	f := b.f
	f.fs.Dup(b.c, f.ip)
	return 0
}

func (b *boundFsfile) Fstat(st *stat.Stat_t) defs.Err_t {
	f := b.f
	f.ip.Lock(b.c)
	st.Wino(uint(f.ip.Inum()))
	st.Wsize(uint(f.ip.Size()))
	st.Wmode(uint(f.ip.Type()))
	if f.ip.Type() == defs.I_DEVICE {
		st.Wrdev(uint(defs.Mkdev(f.ip.Major(), f.ip.Minor())))
	}
	f.ip.Unlock(b.c)
	return 0
}

func (b *boundFsfile) Lseek(off int, whence int) (int, defs.Err_t) {
	f := b.f
	f.mu.Acquire(b.c)
	defer f.mu.Release(b.c)
	switch whence {
	case 0: // SEEK_SET
		f.off = off
	case 1: // SEEK_CUR
		f.off += off
	default:
		return 0, defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, defs.EINVAL
	}
	return f.off, 0
}

func (b *boundFsfile) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	f := b.f
	f.mu.Acquire(b.c)
	off := f.off
	f.mu.Release(b.c)

	f.ip.Lock(b.c)
	n, err := f.ip.Read(b.c, dst, off, dst.Remain())
	f.ip.Unlock(b.c)
	if err != 0 {
		return n, err
	}

	f.mu.Acquire(b.c)
	f.off += n
	f.mu.Release(b.c)
	return n, 0
}

func (b *boundFsfile) Write(src fdops.Userio_i) (int, defs.Err_t) {
	f := b.f
	f.fs.log.BeginOp(b.c)
	defer f.fs.log.EndOp(b.c)

	f.mu.Acquire(b.c)
	if f.append {
		f.ip.Lock(b.c)
		f.off = f.ip.Size()
		f.ip.Unlock(b.c)
	}
	off := f.off
	f.mu.Release(b.c)

	f.ip.Lock(b.c)
	n, err := f.ip.Write(b.c, src, off, src.Remain())
	f.ip.Unlock(b.c)
	if err != 0 {
		return n, err
	}

	f.mu.Acquire(b.c)
	f.off += n
	f.mu.Release(b.c)
	return n, 0
}

var _ fdops.Fdops_i = (*boundFsfile)(nil)
