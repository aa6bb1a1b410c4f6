// Package bio implements the block buffer cache. It is a fixed array
// of limits.NBUF buffers addressed by (dev, blockno), recycled
// least-recently-used, each buffer's contents guarded by its own sleep
// lock and its control record (dev, blockno, validity, pin count)
// guarded by the cache's single spin lock.
//
// A cycle-collector-free LRU needs an array of NBUF buffers plus
// head/tail indices and per-buffer prev/next indices rather than a
// pointer-linked list; that is what this package does, in contrast to
// biscuit's fs/blk.go, which reaches for container/list and an
// unbounded, hash-addressed cache with refcounted eviction and no fixed
// NBUF, even though biscuit's Bdev_block_t naming and Disk_i
// contract shape this package's Buf_t and Disk_i.
package bio

import (
	"limits"
	"lock"
)

// Disk_i is the VirtIO block driver's contract toward the buffer
// cache: the driver itself is an external collaborator, only its
// rw/intr contract is specified here. Rw is synchronous from the
// cache's point of view: it blocks the calling kernel thread (via
// sleep on the buffer's own address) until the driver's interrupt
// handler wakes it.
type Disk_i interface {
	Rw(h lock.HartLocal, b *Buf_t, write bool)
}

// Buf_t is one cache slot. Data is guarded by Lock (a long-term sleep
// lock: at most one sleeper holds it at a time); Dev/Blockno/Valid/
// pinned are guarded by the cache's spin lock bc.mu, not by Lock, so
// the LRU scan in Get never has to wait on a buffer's contents.
type Buf_t struct {
	Lock    lock.Sleeplock_t
	Data    [limits.BSIZE]byte
	Dev     int
	Blockno int
	Valid   bool
	refcnt  int // checked-out count; 1 means only the cache holds it
	idx     int // this buffer's fixed slot index, for O(1) LRU splicing
	prev    int
	next    int
}

// Cache_t is the buffer cache: a fixed NBUF-element array plus an
// intrusive doubly-linked LRU list threaded through prev/next indices,
// most-recently-used at head.
type Cache_t struct {
	mu   lock.Spinlock_t
	bufs [limits.NBUF]Buf_t
	head int
	tail int
	disk Disk_i
}

const nilIdx = -1

// MkCache builds an empty cache backed by disk. Every slot starts
// unreferenced (refcnt==1, matching "the table's own reference" the
// way fs's inode table counts its slot) and threaded into the LRU list
// in array order, tail being the first eviction candidate.
func MkCache(disk Disk_i) *Cache_t {
	c := &Cache_t{disk: disk}
	for i := range c.bufs {
		c.bufs[i].refcnt = 1
		c.bufs[i].idx = i
		c.bufs[i].prev = i - 1
		c.bufs[i].next = i + 1
	}
	c.bufs[0].prev = nilIdx
	c.bufs[limits.NBUF-1].next = nilIdx
	c.head = 0
	c.tail = limits.NBUF - 1
	return c
}

// moveToHead splices buffer idx out of its current LRU position and
// reinserts it at the head (most-recently-used), under c.mu.
func (c *Cache_t) moveToHead(idx int) {
	if c.head == idx {
		return
	}
	b := &c.bufs[idx]
	if b.prev != nilIdx {
		c.bufs[b.prev].next = b.next
	} else {
		c.head = b.next
	}
	if b.next != nilIdx {
		c.bufs[b.next].prev = b.prev
	} else {
		c.tail = b.prev
	}
	b.prev = nilIdx
	b.next = c.head
	if c.head != nilIdx {
		c.bufs[c.head].prev = idx
	}
	c.head = idx
	if c.tail == nilIdx {
		c.tail = idx
	}
}

// Get returns the sleep-locked buffer for (dev, blockno): first scan
// for an already-in-use buffer with a matching identity (bump its
// refcount), else recycle the least-recently-used unused buffer
// (refcnt==1), walking from the LRU tail. Panics if every buffer is
// checked out; the cache is sized so this indicates a leak.
func (c *Cache_t) Get(h lock.HartLocal, dev, blockno int) *Buf_t {
	c.mu.Acquire(h)
	for i := range c.bufs {
		b := &c.bufs[i]
		if b.refcnt > 1 && b.Dev == dev && b.Blockno == blockno {
			b.refcnt++
			c.mu.Release(h)
			b.Lock.Lock(h, int(h.ID()))
			return b
		}
	}
	for idx := c.tail; idx != nilIdx; idx = c.bufs[idx].prev {
		b := &c.bufs[idx]
		if b.refcnt == 1 {
			b.Dev = dev
			b.Blockno = blockno
			b.Valid = false
			b.refcnt = 2
			c.mu.Release(h)
			b.Lock.Lock(h, int(h.ID()))
			return b
		}
	}
	panic("bio: no unused buffers")
}

// Read returns the sleep-locked, valid buffer for (dev, blockno),
// reading it from disk first if it was not already cached.
func (c *Cache_t) Read(h lock.HartLocal, dev, blockno int) *Buf_t {
	b := c.Get(h, dev, blockno)
	if !b.Valid {
		c.disk.Rw(h, b, false)
		b.Valid = true
	}
	return b
}

// Write synchronously writes b's contents to disk without going
// through the log; callers that need crash-safe, multi-block
// transactions use log.Write instead.
func (c *Cache_t) Write(h lock.HartLocal, b *Buf_t) {
	if !b.Lock.Holding(h, int(h.ID())) {
		panic("bio: write of unlocked buffer")
	}
	c.disk.Rw(h, b, true)
}

// Release (drop) unlocks b's contents and, if this was the last
// checked-out reference, moves it to the head of the LRU list where
// the next Get's tail-to-head scan will find it last.
func (c *Cache_t) Release(h lock.HartLocal, b *Buf_t) {
	if !b.Lock.Holding(h, int(h.ID())) {
		panic("bio: release of unlocked buffer")
	}
	b.Lock.Unlock(h)
	c.mu.Acquire(h)
	b.refcnt--
	if b.refcnt == 1 {
		c.moveToHead(b.idx)
	}
	c.mu.Release(h)
}

// Pin raises b's reference count without taking its sleep lock, so the
// LRU scan in Get never recycles it; the log pins a buffer between
// log_write and commit.
func (c *Cache_t) Pin(h lock.HartLocal, b *Buf_t) {
	c.mu.Acquire(h)
	b.refcnt++
	c.mu.Release(h)
}

// Unpin reverses Pin.
func (c *Cache_t) Unpin(h lock.HartLocal, b *Buf_t) {
	c.mu.Acquire(h)
	if b.refcnt <= 1 {
		panic("bio: unpin of unpinned buffer")
	}
	b.refcnt--
	c.mu.Release(h)
}

// RefcountProbe reports b's current checked-out count, for tests that
// verify LRU recycling: a block still resident in the cache has
// refcnt==1 (held only by the cache itself) but remains findable by
// Get; an evicted block's old identity is simply gone from the bufs
// array.
func (c *Cache_t) RefcountProbe(h lock.HartLocal, dev, blockno int) (found bool, refcnt int) {
	c.mu.Acquire(h)
	defer c.mu.Release(h)
	for i := range c.bufs {
		if c.bufs[i].Dev == dev && c.bufs[i].Blockno == blockno {
			return true, c.bufs[i].refcnt
		}
	}
	return false, 0
}
