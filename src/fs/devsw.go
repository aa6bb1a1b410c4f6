package fs

import (
	"circbuf"
	"defs"
	"fdops"
	"hashtable"
	"stat"

	"console"
)

// devOpener builds the Fdops_i for an I_DEVICE inode's (major, minor)
// once opened, dispatching away from the filesystem entirely: an
// I_DEVICE inode never has its own data blocks read.
type devOpener func(c circbuf.Caller_i, minor int) fdops.Fdops_i

// devsw is the device switch table, keyed by major number exactly as
// real xv6's devsw array is, but backed by hashtable.Hashtable_t (the
// lock-striped hash table, otherwise unused elsewhere in
// this kernel) rather than a fixed small array, since the
// device set is open-ended beyond console/null.
var devsw = hashtable.MkHash(8)

func init() {
	devsw.Set(defs.D_CONSOLE, devOpener(func(c circbuf.Caller_i, minor int) fdops.Fdops_i {
		return console.Get().Open(c)
	}))
	devsw.Set(defs.D_NULL, devOpener(func(c circbuf.Caller_i, minor int) fdops.Fdops_i {
		return &nullDev{}
	}))
}

// OpenDevice dispatches to the registered opener for major, or
// ok=false if no driver is registered for it (an unknown device major
// is ENXIO-shaped to the caller).
func OpenDevice(c circbuf.Caller_i, major, minor int) (fdops.Fdops_i, bool) {
	v, ok := devsw.Get(major)
	if !ok {
		return nil, false
	}
	return v.(devOpener)(c, minor), true
}

// nullDev is device major defs.D_NULL: reads return EOF, writes
// silently discard.
type nullDev struct{}

func (n *nullDev) Close() defs.Err_t  { return 0 }
func (n *nullDev) Reopen() defs.Err_t { return 0 }
func (n *nullDev) Lseek(int, int) (int, defs.Err_t) {
	return 0, defs.ESPIPE
}
func (n *nullDev) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(uint(defs.I_DEVICE))
	return 0
}
func (n *nullDev) Read(dst fdops.Userio_i) (int, defs.Err_t)  { return 0, 0 }
func (n *nullDev) Write(src fdops.Userio_i) (int, defs.Err_t) { return src.Totalsz(), 0 }

var _ fdops.Fdops_i = (*nullDev)(nil)
