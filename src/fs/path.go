package fs

import (
	"bpath"
	"defs"
	"limits"
	"lock"
	"ustr"
)

// Namei resolves an absolute, canonical path to a locked inode,
// walking one component at a time starting at the root: each
// intermediate component must be a directory, and a symlink is never
// followed since this kernel has none. The returned inode is locked;
// the caller must Unlock and Put it.
func (fs *Fs_t) Namei(h lock.HartLocal, path ustr.Ustr) (*Inode_t, defs.Err_t) {
	ip := fs.Get(h, fs.dev, limits.ROOTINO)
	ip.Lock(h)

	for _, comp := range bpath.Components(path) {
		if ip.data.Itype != defs.I_DIR {
			ip.Unlock(h)
			fs.Put(h, ip)
			return nil, defs.ENOTDIR
		}
		next, _, ok := fs.Dirlookup(h, ip, comp)
		ip.Unlock(h)
		if !ok {
			fs.Put(h, ip)
			return nil, defs.ENOENT
		}
		fs.Put(h, ip)
		ip = next
		ip.Lock(h)
	}
	return ip, 0
}

// Nameiparent resolves path's parent directory, returning it locked
// along with path's final component; the special cases "/" and "" have
// no parent and return ENOENT.
func (fs *Fs_t) Nameiparent(h lock.HartLocal, path ustr.Ustr) (*Inode_t, ustr.Ustr, defs.Err_t) {
	dir, name := bpath.Split(path)
	if len(name) == 0 {
		return nil, nil, defs.ENOENT
	}
	dp, err := fs.Namei(h, dir)
	if err != 0 {
		return nil, nil, err
	}
	if dp.data.Itype != defs.I_DIR {
		dp.Unlock(h)
		fs.Put(h, dp)
		return nil, nil, defs.ENOTDIR
	}
	return dp, name, 0
}
