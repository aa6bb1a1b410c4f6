package vm

import (
	"defs"
	"fdops"
	"lock"
)

// Userbuf_t is a Userio_i view of a contiguous user virtual-address
// range, the shape every read/write syscall argument takes before it
// reaches an Fdops_i implementation. It is the vm package's concrete
// answer to the "Userbuf_t" contract the rest of the kernel is written
// against.
type Userbuf_t struct {
	h      lock.HartLocal
	pt     Pagetable_t
	userva int
	len    int
	off    int
}

var _ fdops.Userio_i = (*Userbuf_t)(nil)

// MkUserbuf returns a Userio_i over [userva, userva+len) in pt.
func MkUserbuf(h lock.HartLocal, pt Pagetable_t, userva, length int) *Userbuf_t {
	return &Userbuf_t{h: h, pt: pt, userva: userva, len: length}
}

// Uioread copies from the user range into dst.
func (u *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := len(dst)
	if rem := u.len - u.off; n > rem {
		n = rem
	}
	if n <= 0 {
		return 0, 0
	}
	if err := Copyin(u.h, u.pt, dst[:n], u.userva+u.off); err != 0 {
		return 0, err
	}
	u.off += n
	return n, 0
}

// Uiowrite copies src into the user range.
func (u *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := len(src)
	if rem := u.len - u.off; n > rem {
		n = rem
	}
	if n <= 0 {
		return 0, 0
	}
	if err := Copyout(u.h, u.pt, u.userva+u.off, src[:n]); err != 0 {
		return 0, err
	}
	u.off += n
	return n, 0
}

// Remain reports the number of bytes not yet transferred.
func (u *Userbuf_t) Remain() int { return u.len - u.off }

// Totalsz reports the range's original length.
func (u *Userbuf_t) Totalsz() int { return u.len }
