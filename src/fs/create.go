package fs

import (
	"defs"
	"lock"
	"ustr"
)

// ialloc scans the inode region for a free (I_NONE) dinode, marks it
// with itype, and returns it gotten and locked; the caller must be
// inside a log transaction. Grounded on real xv6's ialloc, which scans
// dinodes directly rather than keeping a free list.
func (fs *Fs_t) ialloc(h lock.HartLocal, itype defs.Itype_t) *Inode_t {
	for inum := uint32(1); inum < fs.super.Ninodes; inum++ {
		b := fs.cache.Read(h, fs.dev, fs.super.Iblock(inum))
		off := dinodeOffset(inum)
		d := decodeDinode(b.Data[off : off+dinodeWireSize])
		if d.Itype == defs.I_NONE {
			d = dinode_t{Itype: itype, Nlink: 1}
			d.encode(b.Data[off : off+dinodeWireSize])
			fs.log.Write(h, b)
			fs.cache.Release(h, b)

			ip := fs.Get(h, fs.dev, inum)
			ip.Lock(h)
			return ip
		}
		fs.cache.Release(h, b)
	}
	panic("fs: inode region exhausted")
}

// Create resolves path's parent, and either returns the existing
// inode if it already names a plain file or device of the requested
// type (the O_CREATE-without-O_EXCL case), or allocates, initializes
// and links a fresh one. For a directory it
// also creates "." and ".." and bumps the parent's link count. The
// returned inode is locked; the caller must be inside a log
// transaction and must Unlock+Put it.
func (fs *Fs_t) Create(h lock.HartLocal, path ustr.Ustr, itype defs.Itype_t, major, minor int) (*Inode_t, defs.Err_t) {
	dp, name, err := fs.Nameiparent(h, path)
	if err != 0 {
		return nil, err
	}

	if existing, _, ok := fs.Dirlookup(h, dp, name); ok {
		dp.Unlock(h)
		fs.Put(h, dp)
		existing.Lock(h)
		if itype == defs.I_FILE && (existing.data.Itype == defs.I_FILE || existing.data.Itype == defs.I_DEVICE) {
			return existing, 0
		}
		existing.Unlock(h)
		fs.Put(h, existing)
		return nil, defs.EEXIST
	}

	ip := fs.ialloc(h, itype)
	ip.data.Major = uint16(major)
	ip.data.Minor = uint16(minor)
	ip.data.Nlink = 1
	ip.Update(h)

	if itype == defs.I_DIR {
		dp.data.Nlink++
		dp.Update(h)

		if err := fs.Dirlink(h, ip, ustr.MkUstrDot(), ip.inum); err != 0 {
			panic("fs: create: dirlink . failed")
		}
		if err := fs.Dirlink(h, ip, ustr.DotDot, dp.inum); err != 0 {
			panic("fs: create: dirlink .. failed")
		}
	}

	if err := fs.Dirlink(h, dp, name, ip.inum); err != 0 {
		panic("fs: create: dirlink failed")
	}

	dp.Unlock(h)
	fs.Put(h, dp)
	return ip, 0
}
