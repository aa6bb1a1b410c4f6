package fs

import (
	"defs"
	"fdops"
	"lock"
	"ustr"
)

// BeginOp/EndOp expose the underlying log's transaction brackets to
// callers outside this package, since every multi-block filesystem
// mutation a syscall performs (create, unlink, link, write) must run
// inside exactly one.
func (fs *Fs_t) BeginOp(h lock.HartLocal) { fs.log.BeginOp(h) }
func (fs *Fs_t) EndOp(h lock.HartLocal)   { fs.log.EndOp(h) }

// AddLink bumps ip's on-disk link count by one; the caller must hold
// ip's payload lock and be inside a log transaction.
func (ip *Inode_t) AddLink(h lock.HartLocal) {
	ip.data.Nlink++
	ip.Update(h)
}

// dirempty reports whether dp (locked, a directory) has no entries
// besides "." and "..".
func (fs *Fs_t) dirempty(h lock.HartLocal, dp *Inode_t) bool {
	buf := make([]byte, direntWireSize)
	for o := 2 * direntWireSize; o+direntWireSize <= dp.Size(); o += direntWireSize {
		kbuf := fdops.MkKerneliobuf(buf)
		n, err := dp.Read(h, kbuf, o, direntWireSize)
		if err != 0 || n != direntWireSize {
			return false
		}
		inum, _ := direntDecode(buf)
		if inum != 0 {
			return false
		}
	}
	return true
}

// Unlink removes name from dp, refusing "." and ".." and a non-empty
// directory target; dp must be locked and the caller must be inside a
// log transaction. The removed
// inode's link count is decremented and, if it reaches zero, Put frees
// it once every reference is also gone.
func (fs *Fs_t) Unlink(h lock.HartLocal, dp *Inode_t, name ustr.Ustr) defs.Err_t {
	if name.Isdot() || name.Isdotdot() {
		return defs.EINVAL
	}

	ip, off, ok := fs.Dirlookup(h, dp, name)
	if !ok {
		return defs.ENOENT
	}
	ip.Lock(h)

	if ip.data.Nlink < 1 {
		panic("fs: unlink: inode with zero link count")
	}
	if ip.data.Itype == defs.I_DIR && !fs.dirempty(h, ip) {
		ip.Unlock(h)
		fs.Put(h, ip)
		return defs.ENOTEMPTY
	}

	buf := make([]byte, direntWireSize)
	direntEncode(buf, 0, ustr.MkUstr())
	kbuf := fdops.MkKerneliobuf(buf)
	if _, err := dp.Write(h, kbuf, off, direntWireSize); err != 0 {
		ip.Unlock(h)
		fs.Put(h, ip)
		return err
	}

	if ip.data.Itype == defs.I_DIR {
		dp.data.Nlink--
		dp.Update(h)
	}

	ip.data.Nlink--
	ip.Update(h)
	ip.Unlock(h)
	fs.Put(h, ip)
	return 0
}
