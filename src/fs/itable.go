package fs

import (
	"bio"
	"bounds"
	"defs"
	"fslog"
	"limits"
	"lock"
)

// Fs_t is the filesystem's top-level handle: the buffer cache, log,
// superblock and inode table for one mounted device. These are
// process-wide singletons, built once at mount time.
type Fs_t struct {
	dev    int
	cache  *bio.Cache_t
	log    *fslog.Log_t
	super  *Superblock_t
	itable itable_t
}

// MkFs mounts dev: reads its superblock, runs log recovery (already
// done inside fslog.MkLog), and returns a ready filesystem handle.
func MkFs(h lock.HartLocal, cache *bio.Cache_t, dev int) (*Fs_t, bool) {
	sb, ok := ReadSuper(h, cache, dev)
	if !ok {
		return nil, false
	}
	lg := fslog.MkLog(h, cache, dev, int(sb.Logstart), int(sb.Nlog))
	fs := &Fs_t{dev: dev, cache: cache, log: lg, super: sb}
	fs.itable.init()
	return fs, true
}

// Inode_t is one in-memory inode-table slot: identity and refcount
// guarded by the table's lock, payload guarded by its own sleep lock
// and populated from disk lazily on first Lock.
type Inode_t struct {
	fs     *Fs_t
	dev    int
	inum   uint32
	refcnt int // checked-out count; 1 means only the table holds it

	payload lock.Sleeplock_t
	valid   bool
	data    dinode_t
}

// Type returns the inode's type; only meaningful while locked.
func (ip *Inode_t) Type() defs.Itype_t { return ip.data.Itype }

// Size returns the inode's byte size; only meaningful while locked.
func (ip *Inode_t) Size() int { return int(ip.data.Size) }

// Inum returns the inode number.
func (ip *Inode_t) Inum() uint32 { return ip.inum }

// Major/Minor return the device numbers for an I_DEVICE inode.
func (ip *Inode_t) Major() int { return int(ip.data.Major) }
func (ip *Inode_t) Minor() int { return int(ip.data.Minor) }

type itable_t struct {
	table *bounds.Table_t[Inode_t]
}

func (t *itable_t) init() {
	t.table = bounds.MkTable[Inode_t](limits.NINODE)
	t.table.Each(func(i int, slot *Inode_t) {
		slot.refcnt = 1
	})
}

// Get returns a handle to the in-memory slot for (dev, inum),
// allocating a free one if none is already resident: no disk I/O
// happens here. The existing-slot scan and the fall-back allocation
// run under the same bounds.Table_t critical section, so a concurrent
// Get for the same (dev, inum) can never allocate a second slot for
// it.
func (fs *Fs_t) Get(h lock.HartLocal, dev int, inum uint32) *Inode_t {
	t := &fs.itable
	var found *Inode_t
	t.table.With(func() {
		for i := range t.table.Slots {
			ip := &t.table.Slots[i]
			if ip.refcnt > 1 && ip.dev == dev && ip.inum == inum {
				ip.refcnt++
				found = ip
				return
			}
		}
		idx, ok := t.table.AllocLocked(
			func(ip *Inode_t) bool { return ip.refcnt == 1 },
			func(ip *Inode_t) {
				ip.fs = fs
				ip.dev = dev
				ip.inum = inum
				ip.valid = false
				ip.refcnt = 2
			},
		)
		if !ok {
			panic("fs: inode table exhausted")
		}
		found = &t.table.Slots[idx]
	})
	return found
}

// Lock sleep-locks ip's payload, populating it from disk on the first
// lock after Get.
func (ip *Inode_t) Lock(h lock.HartLocal) {
	ip.payload.Lock(h, int(ip.inum))
	if !ip.valid {
		b := ip.fs.cache.Read(h, ip.dev, ip.fs.super.Iblock(ip.inum))
		ip.data = decodeDinode(b.Data[dinodeOffset(ip.inum) : dinodeOffset(ip.inum)+dinodeWireSize])
		ip.fs.cache.Release(h, b)
		ip.valid = true
		if ip.data.Itype == defs.I_NONE {
			panic("fs: locked an inode with no type")
		}
	}
}

// Unlock releases ip's payload lock.
func (ip *Inode_t) Unlock(h lock.HartLocal) {
	ip.payload.Unlock(h)
}

// Update writes ip's in-memory payload back to disk; must run inside
// a log transaction (every caller that mutates a locked inode calls
// this before releasing it).
func (ip *Inode_t) Update(h lock.HartLocal) {
	b := ip.fs.cache.Read(h, ip.dev, ip.fs.super.Iblock(ip.inum))
	off := dinodeOffset(ip.inum)
	ip.data.encode(b.Data[off : off+dinodeWireSize])
	ip.fs.log.Write(h, b)
	ip.fs.cache.Release(h, b)
}

// Dup bumps ip's reference count, for a second handle to the same
// inode (e.g. a directory entry and an open file both referencing
// it).
func (fs *Fs_t) Dup(h lock.HartLocal, ip *Inode_t) *Inode_t {
	fs.itable.table.With(func() { ip.refcnt++ })
	return ip
}

// Put drops a reference to ip: if this was the last outside
// reference, lock the payload (guaranteed not to block, since the
// table lock excludes every other dropper) and, if the inode has no
// links left, truncate its contents, mark it free on disk, and
// invalidate the cached payload. Must run inside a log transaction,
// since truncation writes blocks.
func (fs *Fs_t) Put(h lock.HartLocal, ip *Inode_t) {
	truncate := false
	fs.itable.table.With(func() {
		// refcnt stays at 2 (still "in use") for the duration of the
		// truncate below, so a concurrent Get for a different
		// (dev, inum) never mistakes this slot for free mid-truncate.
		truncate = ip.refcnt == 2 && ip.valid && ip.data.Nlink == 0
	})
	if truncate {
		ip.Lock(h)
		ip.truncate(h)
		ip.data.Itype = defs.I_NONE
		ip.Update(h)
		ip.valid = false
		ip.Unlock(h)
	}
	fs.itable.table.With(func() { ip.refcnt-- })
}

// truncate frees every data block ip owns and zeroes its size; the
// caller must hold ip's payload lock.
func (ip *Inode_t) truncate(h lock.HartLocal) {
	for i := 0; i < limits.NDIRECT; i++ {
		if ip.data.Addrs[i] != 0 {
			bfree(h, ip.fs.cache, ip.fs.log, ip.fs.super, ip.dev, ip.data.Addrs[i])
			ip.data.Addrs[i] = 0
		}
	}
	ip.freeIndirect(h)
	ip.data.Size = 0
}
