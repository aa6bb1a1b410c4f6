// Package circbuf implements the circular byte buffer backing pipes,
// including the backpressure a full or empty pipe applies to its
// writer or reader. Biscuit's circbuf.go backs its buffer with a
// zero-copy physical page shared with user mappings (mem.Page_i,
// mem.Pa_t) because biscuit maps pipe pages directly into the
// consuming process's address space; this kernel's Fdops_i/Userio_i
// boundary always copies through Copyin/Copyout, so a pipe's backing
// store never needs to be a mappable physical frame — a plain
// heap-allocated byte slice serves the same head/tail wraparound
// algorithm without the page-table plumbing. The wraparound
// Copyin/Copyout/Rawwrite/Rawread logic below is adapted line-for-line
// from that algorithm, just against []uint8 instead of a physical
// page.
package circbuf

import (
	"defs"
	"fdops"
)

// Circbuf_t is a single-reader, single-writer ring buffer. Not safe
// for concurrent use by more than one reader and one writer at a time;
// the pipe syscalls (see syscall6) serialize access with their own
// sleep lock.
type Circbuf_t struct {
	buf   []uint8
	bufsz int
	head  int // write position, monotonically increasing
	tail  int // read position, monotonically increasing
}

// MkCircbuf allocates a ring buffer of the given capacity.
func MkCircbuf(sz int) *Circbuf_t {
	if sz <= 0 {
		panic("bad circbuf size")
	}
	return &Circbuf_t{buf: make([]uint8, sz), bufsz: sz}
}

// Bufsz returns the buffer's capacity.
func (cb *Circbuf_t) Bufsz() int { return cb.bufsz }

// Full reports whether the buffer has no room for more data.
func (cb *Circbuf_t) Full() bool { return cb.head-cb.tail == cb.bufsz }

// Empty reports whether the buffer holds no unread data.
func (cb *Circbuf_t) Empty() bool { return cb.head == cb.tail }

// Left returns the remaining write capacity in bytes.
func (cb *Circbuf_t) Left() int { return cb.bufsz - (cb.head - cb.tail) }

// Used returns the number of unread bytes.
func (cb *Circbuf_t) Used() int { return cb.head - cb.tail }

// Copyin reads as much of src as fits without blocking into the ring
// buffer, wrapping around the backing slice as needed, and advances
// head. Returns 0 bytes (not an error) if the buffer is currently
// full; the caller (pipe write) is the one that decides whether to
// sleep and retry.
func (cb *Circbuf_t) Copyin(src fdops.Userio_i) (int, defs.Err_t) {
	if cb.Full() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if ti <= hi {
		dst := cb.buf[hi:]
		wrote, err := src.Uioread(dst)
		if err != 0 {
			return 0, err
		}
		if wrote != len(dst) {
			cb.head += wrote
			return wrote, 0
		}
		c += wrote
		hi = (cb.head + wrote) % cb.bufsz
	}
	if hi > ti {
		panic("circbuf: corrupt head/tail after wraparound")
	}
	dst := cb.buf[hi:ti]
	wrote, err := src.Uioread(dst)
	c += wrote
	if err != 0 {
		return c, err
	}
	cb.head += c
	return c, 0
}

// Copyout writes the buffer's entire unread contents to dst.
func (cb *Circbuf_t) Copyout(dst fdops.Userio_i) (int, defs.Err_t) {
	return cb.Copyout_n(dst, 0)
}

// Copyout_n writes up to max bytes (0 means unbounded) of the buffer's
// unread contents to dst and advances tail by however much was
// consumed.
func (cb *Circbuf_t) Copyout_n(dst fdops.Userio_i, max int) (int, defs.Err_t) {
	if cb.Empty() {
		return 0, 0
	}
	hi := cb.head % cb.bufsz
	ti := cb.tail % cb.bufsz
	c := 0
	if hi <= ti {
		src := cb.buf[ti:]
		if max != 0 && max < len(src) {
			src = src[:max]
		}
		wrote, err := dst.Uiowrite(src)
		if err != 0 {
			return 0, err
		}
		if wrote != len(src) || wrote == max {
			cb.tail += wrote
			return wrote, 0
		}
		c += wrote
		if max != 0 {
			max -= c
		}
		ti = (cb.tail + wrote) % cb.bufsz
	}
	if ti > hi {
		panic("circbuf: corrupt head/tail after wraparound")
	}
	src := cb.buf[ti:hi]
	if max != 0 && max < len(src) {
		src = src[:max]
	}
	wrote, err := dst.Uiowrite(src)
	if err != 0 {
		return 0, err
	}
	c += wrote
	cb.tail += c
	return c, 0
}
