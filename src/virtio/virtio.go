// Package virtio stands in for a VirtIO-MMIO block driver. This hosted
// kernel has no MMIO bus to drive, so the only implementation is a
// file-backed test disk satisfying bio.Disk_i, advisory-locked with
// golang.org/x/sys/unix.Flock the way a real driver would claim
// exclusive access to its device.
package virtio

import (
	"os"

	"golang.org/x/sys/unix"

	"bio"
	"limits"
	"lock"
)

// FileDisk_t is a bio.Disk_i backed by a plain host file, one
// limits.BSIZE-byte block per blockno. Rw is synchronous, exactly as
// the contract requires, since there is no interrupt to wait for: a
// real driver's Rw blocks the caller on the buffer's address until its
// completion interrupt wakes it, which a pread/pwrite already does
// from the caller's point of view.
type FileDisk_t struct {
	f *os.File
}

// Open opens (creating if necessary) path as a block device image and
// takes an exclusive advisory lock on it, so two kernel instances never
// share one backing file unnoticed.
func Open(path string) (*FileDisk_t, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDisk_t{f: f}, nil
}

// Close releases the backing file's lock and descriptor.
func (d *FileDisk_t) Close() error {
	unix.Flock(int(d.f.Fd()), unix.LOCK_UN)
	return d.f.Close()
}

// Rw implements bio.Disk_i: write copies b.Data to blockno's offset,
// read fills it from there, growing the file with zeros if blockno is
// beyond its current end (mkfs writes blocks out of order while laying
// out the bitmap and inode regions).
func (d *FileDisk_t) Rw(h lock.HartLocal, b *bio.Buf_t, write bool) {
	off := int64(b.Blockno) * limits.BSIZE
	if write {
		if _, err := d.f.WriteAt(b.Data[:], off); err != nil {
			panic("virtio: write failed: " + err.Error())
		}
		return
	}
	n, err := d.f.ReadAt(b.Data[:], off)
	if n < limits.BSIZE {
		for i := n; i < limits.BSIZE; i++ {
			b.Data[i] = 0
		}
	}
	if err != nil && n == 0 {
		// Reading a block past EOF on a freshly created image is the
		// "block is all zeros" case, not a real I/O error.
		return
	}
}

var _ bio.Disk_i = (*FileDisk_t)(nil)
