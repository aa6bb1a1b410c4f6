// Package res implements the per-call-site bounded resource
// reservation behind ENOHEAP: a bounded per-call-site resource budget
// hit. Every subsystem that must refuse work rather than block or
// grow without limit (the log's MAXOPBLOCKS-per-syscall budget, a
// process's open-file count against limits.NOFILE) takes a
// reservation here before committing the resource, so the accounting
// is decoupled from the resource itself the way limits.Sysatomic_t
// decouples a raw counter from its owner.
package res

import "sync/atomic"

// Limit_t is a named, bounded resource pool: at most Max units may be
// reserved at once. Named call sites (bounds.go's table identifiers,
// by convention a short string like "log.outstanding" or
// "proc.nofile") make an exhausted-budget panic or error message
// self-explanatory without a debugger.
type Limit_t struct {
	Name string
	Max  int64
	used int64
}

// MkLimit returns a budget of the given capacity.
func MkLimit(name string, max int) *Limit_t {
	return &Limit_t{Name: name, Max: int64(max)}
}

// Resadd_noblock reserves n units without waiting, returning false
// (and leaving the budget unchanged) if that would exceed Max. This is
// the "log full: syscall waits, not fails" case's building block —
// begin_op (see the log package) loops calling this under its own
// sleep/retry rather than treating a false return as an error.
func (l *Limit_t) Resadd_noblock(n int) bool {
	if atomic.AddInt64(&l.used, int64(n)) > l.Max {
		atomic.AddInt64(&l.used, -int64(n))
		return false
	}
	return true
}

// Resdel returns n reserved units to the pool.
func (l *Limit_t) Resdel(n int) {
	if atomic.AddInt64(&l.used, -int64(n)) < 0 {
		panic("res: " + l.Name + ": released more than reserved")
	}
}

// Used reports the currently reserved amount, for diagnostics and
// tests (e.g. asserting the log's outstanding-transaction budget never
// exceeds its configured capacity).
func (l *Limit_t) Used() int { return int(atomic.LoadInt64(&l.used)) }
