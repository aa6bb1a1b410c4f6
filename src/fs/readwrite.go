package fs

import (
	"defs"
	"fdops"
	"limits"
	"lock"
)

// Read copies up to n bytes starting at off into dst, via the buffer
// cache a block at a time: off is first bounded by the file's size.
// The caller must hold ip's payload lock.
func (ip *Inode_t) Read(h lock.HartLocal, dst fdops.Userio_i, off, n int) (int, defs.Err_t) {
	if off > int(ip.data.Size) {
		return 0, 0
	}
	if off+n > int(ip.data.Size) {
		n = int(ip.data.Size) - off
	}
	total := 0
	for total < n {
		bn, ok := ip.bmap(h, off/limits.BSIZE)
		if !ok {
			break
		}
		b := ip.fs.cache.Read(h, ip.dev, int(bn))
		boff := off % limits.BSIZE
		m := limits.BSIZE - boff
		if m > n-total {
			m = n - total
		}
		wrote, err := dst.Uiowrite(b.Data[boff : boff+m])
		ip.fs.cache.Release(h, b)
		if err != 0 {
			return total, err
		}
		total += wrote
		off += wrote
		if wrote < m {
			break
		}
	}
	return total, 0
}

// Write copies up to n bytes from src to off, allocating blocks via
// bmap as needed, logging every touched data block, growing the
// inode's size, and always writing the inode back, even when size
// doesn't change, since bmap may have allocated a fresh indirect
// block. The caller must hold ip's payload lock and be inside a log
// transaction.
func (ip *Inode_t) Write(h lock.HartLocal, src fdops.Userio_i, off, n int) (int, defs.Err_t) {
	if off < 0 {
		return 0, defs.EINVAL
	}
	if off+n > limits.MAXFILE*limits.BSIZE {
		return 0, defs.E2BIG
	}
	total := 0
	for total < n {
		bn, ok := ip.bmap(h, off/limits.BSIZE)
		if !ok {
			break
		}
		b := ip.fs.cache.Read(h, ip.dev, int(bn))
		boff := off % limits.BSIZE
		m := limits.BSIZE - boff
		if m > n-total {
			m = n - total
		}
		read, err := src.Uioread(b.Data[boff : boff+m])
		if err != 0 {
			ip.fs.cache.Release(h, b)
			return total, err
		}
		ip.fs.log.Write(h, b)
		ip.fs.cache.Release(h, b)
		total += read
		off += read
		if read < m {
			break
		}
	}
	if off > int(ip.data.Size) {
		ip.data.Size = uint32(off)
	}
	ip.Update(h)
	return total, 0
}
