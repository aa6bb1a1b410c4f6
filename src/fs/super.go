// Package fs implements the inode table and filesystem proper, on top
// of bio's buffer cache and log's write-ahead log. Biscuit's fs
// package carries a superblock (super.go) and block-cache (blk.go)
// shaped for its own on-disk format and an unbounded,
// container/list-based cache; this on-disk layout specifies a
// different superblock and dinode layout entirely
// (magic/size/nblocks/ninodes/nlog/logstart/inodestart/bmapstart, and
// a 13-word dinode), and the buffer cache is now bio's fixed-NBUF
// array, so this package is written fresh rather than adapted from
// those mismatched files.
package fs

import (
	"encoding/binary"

	"bio"
	"limits"
	"lock"
)

const superBlockno = 1

// Superblock_t mirrors the on-disk superblock, block 1, little-endian
// u32 fields in order. It is read once at FS init and essentially
// never written again, so it is guarded by an RWSleeplock_t rather
// than the plain Sleeplock_t every other on-disk structure uses.
type Superblock_t struct {
	mu lock.RWSleeplock_t

	Magic      uint32
	Size       uint32 // total blocks on disk, including boot+super+log+inodes+bitmap
	Nblocks    uint32 // data blocks
	Ninodes    uint32
	Nlog       uint32
	Logstart   uint32
	Inodestart uint32
	Bmapstart  uint32
}

const superMagic = 0x10203040

const superblockWireSize = 8 * 4

// ReadSuper loads the superblock from dev via cache and validates its
// magic number.
func ReadSuper(h lock.HartLocal, cache *bio.Cache_t, dev int) (*Superblock_t, bool) {
	b := cache.Read(h, dev, superBlockno)
	defer cache.Release(h, b)

	sb := &Superblock_t{}
	sb.decode(b.Data[:superblockWireSize])
	return sb, sb.Magic == superMagic
}

func (sb *Superblock_t) decode(buf []byte) {
	sb.Magic = binary.LittleEndian.Uint32(buf[0:4])
	sb.Size = binary.LittleEndian.Uint32(buf[4:8])
	sb.Nblocks = binary.LittleEndian.Uint32(buf[8:12])
	sb.Ninodes = binary.LittleEndian.Uint32(buf[12:16])
	sb.Nlog = binary.LittleEndian.Uint32(buf[16:20])
	sb.Logstart = binary.LittleEndian.Uint32(buf[20:24])
	sb.Inodestart = binary.LittleEndian.Uint32(buf[24:28])
	sb.Bmapstart = binary.LittleEndian.Uint32(buf[28:32])
}

func (sb *Superblock_t) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:4], sb.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], sb.Size)
	binary.LittleEndian.PutUint32(buf[8:12], sb.Nblocks)
	binary.LittleEndian.PutUint32(buf[12:16], sb.Ninodes)
	binary.LittleEndian.PutUint32(buf[16:20], sb.Nlog)
	binary.LittleEndian.PutUint32(buf[20:24], sb.Logstart)
	binary.LittleEndian.PutUint32(buf[24:28], sb.Inodestart)
	binary.LittleEndian.PutUint32(buf[28:32], sb.Bmapstart)
}

// WriteSuper persists sb to block 1; used only by mkfs.
func WriteSuper(h lock.HartLocal, cache *bio.Cache_t, dev int, sb *Superblock_t) {
	b := cache.Get(h, dev, superBlockno)
	sb.encode(b.Data[:superblockWireSize])
	cache.Write(h, b)
	cache.Release(h, b)
}

// IPB is the number of on-disk dinodes per block.
const IPB = limits.BSIZE / dinodeWireSize

// Iblock returns the block number holding inode inum.
func (sb *Superblock_t) Iblock(inum uint32) int {
	return int(sb.Inodestart) + int(inum)/IPB
}

// BmapBlock returns the bitmap block number covering data block bn.
func (sb *Superblock_t) BmapBlock(bn uint32) int {
	return int(sb.Bmapstart) + int(bn)/(limits.BSIZE*8)
}
