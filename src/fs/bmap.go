package fs

import (
	"limits"
	"lock"

	"bio"
	"fslog"
)

// balloc scans the free bitmap for a clear bit, sets it, logs the
// bitmap block, and returns the allocated block's number. Panics if
// the disk is full — mkfs sizes the bitmap to cover exactly
// sb.Nblocks data blocks, so running out reflects a full filesystem,
// which callers turn into ENOSPC one level up (fs.Write does).
func balloc(h lock.HartLocal, cache *bio.Cache_t, lg *fslog.Log_t, sb *Superblock_t, dev int) (uint32, bool) {
	for bn := uint32(0); bn < sb.Nblocks; bn += limits.BSIZE * 8 {
		b := cache.Read(h, dev, sb.BmapBlock(bn))
		for bi := uint32(0); bi < limits.BSIZE*8 && bn+bi < sb.Nblocks; bi++ {
			m := byte(1 << (bi % 8))
			byteIdx := bi / 8
			if b.Data[byteIdx]&m == 0 {
				b.Data[byteIdx] |= m
				lg.Write(h, b)
				cache.Release(h, b)
				return bn + bi, true
			}
		}
		cache.Release(h, b)
	}
	return 0, false
}

// bfree clears bn's bit in the free bitmap.
func bfree(h lock.HartLocal, cache *bio.Cache_t, lg *fslog.Log_t, sb *Superblock_t, dev int, bn uint32) {
	b := cache.Read(h, dev, sb.BmapBlock(bn))
	bi := bn % (limits.BSIZE * 8)
	m := byte(1 << (bi % 8))
	byteIdx := bi / 8
	if b.Data[byteIdx]&m == 0 {
		panic("fs: freeing already-free block")
	}
	b.Data[byteIdx] &^= m
	lg.Write(h, b)
	cache.Release(h, b)
}

// bmap returns the disk block number for the bn-th data block of ip,
// allocating a direct or indirect slot as needed: bn < NDIRECT indexes
// the direct array, otherwise bn-NDIRECT indexes through the single
// indirect block.
func (ip *Inode_t) bmap(h lock.HartLocal, bn int) (uint32, bool) {
	if bn < limits.NDIRECT {
		addr := ip.data.Addrs[bn]
		if addr == 0 {
			a, ok := balloc(h, ip.fs.cache, ip.fs.log, ip.fs.super, ip.dev)
			if !ok {
				return 0, false
			}
			addr = a
			ip.data.Addrs[bn] = addr
		}
		return addr, true
	}
	bn -= limits.NDIRECT
	if bn >= limits.NINDIRECT {
		panic("fs: file offset beyond MAXFILE")
	}

	indAddr := ip.data.Addrs[limits.NDIRECT]
	if indAddr == 0 {
		a, ok := balloc(h, ip.fs.cache, ip.fs.log, ip.fs.super, ip.dev)
		if !ok {
			return 0, false
		}
		indAddr = a
		ip.data.Addrs[limits.NDIRECT] = indAddr
	}

	ib := ip.fs.cache.Read(h, ip.dev, int(indAddr))
	off := bn * 4
	addr := leUint32(ib.Data[off : off+4])
	if addr == 0 {
		a, ok := balloc(h, ip.fs.cache, ip.fs.log, ip.fs.super, ip.dev)
		if !ok {
			ip.fs.cache.Release(h, ib)
			return 0, false
		}
		addr = a
		leWrite32(ib.Data[off:off+4], addr)
		ip.fs.log.Write(h, ib)
	}
	ip.fs.cache.Release(h, ib)
	return addr, true
}

// freeIndirect frees every block addressed by ip's indirect block
// (and the indirect block itself), part of truncation.
func (ip *Inode_t) freeIndirect(h lock.HartLocal) {
	indAddr := ip.data.Addrs[limits.NDIRECT]
	if indAddr == 0 {
		return
	}
	ib := ip.fs.cache.Read(h, ip.dev, int(indAddr))
	for i := 0; i < limits.NINDIRECT; i++ {
		off := i * 4
		a := leUint32(ib.Data[off : off+4])
		if a != 0 {
			bfree(h, ip.fs.cache, ip.fs.log, ip.fs.super, ip.dev, a)
		}
	}
	ip.fs.cache.Release(h, ib)
	bfree(h, ip.fs.cache, ip.fs.log, ip.fs.super, ip.dev, indAddr)
	ip.data.Addrs[limits.NDIRECT] = 0
}
