package fdops

import "defs"

// Kerneliobuf_t adapts a plain kernel byte slice to Userio_i, for
// syscall paths that copy between two kernel-owned buffers rather than
// a user address space — e.g. mkfs's manifest loader, log recovery
// replay, and tests that exercise fs.Inode_t.Read/Write without a
// process attached.
type Kerneliobuf_t struct {
	Buf []uint8
	off int
}

// MkKerneliobuf returns a Userio_i view of buf, read/written from its
// start.
func MkKerneliobuf(buf []uint8) *Kerneliobuf_t {
	return &Kerneliobuf_t{Buf: buf}
}

// Uioread copies from k's remaining bytes into dst.
func (k *Kerneliobuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.Buf[k.off:])
	k.off += n
	return n, 0
}

// Uiowrite copies src into k's remaining space.
func (k *Kerneliobuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.Buf[k.off:], src)
	k.off += n
	return n, 0
}

// Remain reports the number of unconsumed bytes.
func (k *Kerneliobuf_t) Remain() int { return len(k.Buf) - k.off }

// Totalsz reports the buffer's full length.
func (k *Kerneliobuf_t) Totalsz() int { return len(k.Buf) }
