// Package log implements layer L5: the write-ahead log that makes
// multi-block filesystem transactions crash-safe. All log state is
// guarded by one spin lock, which is always a leaf: the log never
// acquires any other lock while holding its own, except transiently to
// wake waiters.
package fslog

import (
	"encoding/binary"

	"bio"
	"limits"
	"lock"
	"res"
)

// header_t mirrors the on-disk log header: the number of committed
// blocks and their destination block numbers.
type header_t struct {
	n     int
	block [limits.LOGSIZE]int
}

// Log_t is the write-ahead log for one device. Dev is the log's
// device; Start is the block number of the header (logstart from the
// superblock); every data block of the log follows immediately after.
type Log_t struct {
	mu          lock.Spinlock_t
	commitCond  lock.Condvar_t
	dev         int
	start       int
	size        int
	outstanding int
	committing  bool
	hdr         header_t
	cache       *bio.Cache_t
	budget      *res.Limit_t
}

// MkLog constructs a log over [start, start+size) on dev, backed by
// cache, and runs recovery.
func MkLog(h lock.HartLocal, cache *bio.Cache_t, dev, start, size int) *Log_t {
	l := &Log_t{dev: dev, start: start, size: size, cache: cache}
	l.budget = res.MkLimit("log.outstanding", limits.LOGSIZE)
	l.recover(h)
	return l
}

func (l *Log_t) headerBlockno() int { return l.start }
func (l *Log_t) dataBlockno(i int) int { return l.start + 1 + i }

// readHead loads the on-disk header into l.hdr. The header's wire
// format is a little-endian uint32 count followed by LOGSIZE
// little-endian uint32 block numbers.
func (l *Log_t) readHead(h lock.HartLocal) {
	b := l.cache.Read(h, l.dev, l.headerBlockno())
	n := binary.LittleEndian.Uint32(b.Data[0:4])
	l.hdr.n = int(n)
	for i := 0; i < int(n); i++ {
		off := 4 + 4*i
		l.hdr.block[i] = int(binary.LittleEndian.Uint32(b.Data[off : off+4]))
	}
	l.cache.Release(h, b)
}

// writeHead persists l.hdr; this single block write is the commit
// point.
func (l *Log_t) writeHead(h lock.HartLocal) {
	b := l.cache.Get(h, l.dev, l.headerBlockno())
	binary.LittleEndian.PutUint32(b.Data[0:4], uint32(l.hdr.n))
	for i := 0; i < l.hdr.n; i++ {
		off := 4 + 4*i
		binary.LittleEndian.PutUint32(b.Data[off:off+4], uint32(l.hdr.block[i]))
	}
	l.cache.Write(h, b)
	l.cache.Release(h, b)
}

// recover replays any committed-but-not-yet-installed transaction
// found at mount time, then clears the header.
func (l *Log_t) recover(h lock.HartLocal) {
	l.readHead(h)
	if l.hdr.n > 0 {
		l.installFromLog(h)
	}
	l.hdr.n = 0
	l.writeHead(h)
}

func (l *Log_t) installFromLog(h lock.HartLocal) {
	for i := 0; i < l.hdr.n; i++ {
		lb := l.cache.Read(h, l.dev, l.dataBlockno(i))
		db := l.cache.Get(h, l.dev, l.hdr.block[i])
		db.Data = lb.Data
		l.cache.Write(h, db)
		l.cache.Release(h, db)
		l.cache.Release(h, lb)
	}
}

// BeginOp brackets the start of one filesystem system call's
// transaction. It blocks while a commit is in progress or while
// admitting this call's worst-case block budget (limits.MAXOPBLOCKS)
// would risk overflowing the log: a full log makes the syscall wait,
// not fail. The budget is tracked through l.budget rather than
// recomputed from l.outstanding directly, so the same ENOHEAP
// accounting res.Limit_t gives every other bounded resource (a
// process's open-file count, for instance) also covers the log.
func (l *Log_t) BeginOp(h lock.HartLocal) {
	l.mu.Acquire(h)
	for {
		if l.committing {
			l.commitCond.Wait(h, l.mu.AsLocker(h))
			continue
		}
		if !l.budget.Resadd_noblock(limits.MAXOPBLOCKS) {
			l.commitCond.Wait(h, l.mu.AsLocker(h))
			continue
		}
		if l.hdr.n+l.budget.Used() > limits.LOGSIZE {
			l.budget.Resdel(limits.MAXOPBLOCKS)
			l.commitCond.Wait(h, l.mu.AsLocker(h))
			continue
		}
		l.outstanding++
		l.mu.Release(h)
		return
	}
}

// Write records that b must be committed as part of the current
// transaction: must run inside a BeginOp/EndOp bracket. If b's block
// number is already pending commit, this absorbs the write (nothing
// more to do beyond the pin already held); otherwise it is appended
// and pinned so the cache cannot recycle it before commit.
func (l *Log_t) Write(h lock.HartLocal, b *bio.Buf_t) {
	l.mu.Acquire(h)
	defer l.mu.Release(h)
	if l.outstanding == 0 {
		panic("log: Write outside a transaction")
	}
	for i := 0; i < l.hdr.n; i++ {
		if l.hdr.block[i] == b.Blockno {
			return
		}
	}
	if l.hdr.n >= limits.LOGSIZE {
		panic("log: transaction budget exceeded")
	}
	l.cache.Pin(h, b)
	l.hdr.block[l.hdr.n] = b.Blockno
	l.hdr.n++
}

// EndOp closes out one transaction. The last outstanding caller
// performs the commit sequence without holding the log lock; everyone
// else just wakes waiters so a blocked BeginOp can recheck its budget.
func (l *Log_t) EndOp(h lock.HartLocal) {
	l.mu.Acquire(h)
	l.outstanding--
	l.budget.Resdel(limits.MAXOPBLOCKS)
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		l.commitCond.NotifyAll(h)
	}
	l.mu.Release(h)

	if doCommit {
		l.commit(h)
		l.mu.Acquire(h)
		l.committing = false
		l.mu.Release(h)
		l.commitCond.NotifyAll(h)
	}
}

// commit runs the four-step commit sequence: write logged blocks to
// the log area, write the header with n>0 (the crash commit point),
// install each block at its home location and unpin it, then clear
// the header. A crash before the header write with n>0 discards the
// transaction on recovery; a crash after it is redone.
func (l *Log_t) commit(h lock.HartLocal) {
	if l.hdr.n == 0 {
		return
	}
	for i := 0; i < l.hdr.n; i++ {
		from := l.cache.Read(h, l.dev, l.hdr.block[i])
		to := l.cache.Get(h, l.dev, l.dataBlockno(i))
		to.Data = from.Data
		l.cache.Write(h, to)
		l.cache.Release(h, to)
		l.cache.Release(h, from)
	}
	l.writeHead(h) // commit point
	for i := 0; i < l.hdr.n; i++ {
		dst := l.cache.Get(h, l.dev, l.hdr.block[i])
		src := l.cache.Read(h, l.dev, l.dataBlockno(i))
		dst.Data = src.Data
		l.cache.Write(h, dst)
		l.cache.Release(h, src)
		l.cache.Unpin(h, dst)
		l.cache.Release(h, dst)
	}
	l.hdr.n = 0
	l.writeHead(h)
}

// Outstanding reports the number of in-flight FS syscalls, for tests
// asserting begin_op/end_op stay balanced per kernel thread.
func (l *Log_t) Outstanding(h lock.HartLocal) int {
	l.mu.Acquire(h)
	defer l.mu.Release(h)
	return l.outstanding
}

// HeaderLen reports the number of blocks currently pending commit, for
// tests asserting the log never admits more than LOGSIZE blocks.
func (l *Log_t) HeaderLen(h lock.HartLocal) int {
	l.mu.Acquire(h)
	defer l.mu.Release(h)
	return l.hdr.n
}
