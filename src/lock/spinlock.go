// Package lock implements the spin lock, sleep lock, condition
// variable, semaphore and bounded channel that every other subsystem
// is built out of. It follows the surrounding convention of embedding
// primitives as exported struct fields (accnt.Accnt_t embeds
// sync.Mutex; tinfo.Tnote_t embeds sync.Mutex) but needs the actual
// xv6 push-off interrupt-disable discipline, which bare sync.Mutex
// does not give us, so this package is written fresh rather than
// adapted line-for-line from biscuit.
package lock

import (
	"runtime"
	"sync"
	"sync/atomic"

	"caller"
)

// Spinlock_t is a short-term mutual-exclusion lock. Acquiring it
// disables the calling goroutine's notion of "interrupts" (tracked per
// Cpu-equivalent caller via Pushcli/Popcli, which live in the cpu
// package one layer up) before spinning; this package only provides
// the flag-plus-owner mechanics and the push/pop counters themselves,
// since cpu.Cpu_t is what actually disables/enables interrupts and
// this package must not import cpu (cpu depends on lock, not the
// reverse).
type Spinlock_t struct {
	held  atomic.Bool
	owner atomic.Int64 // hart id of the holder, valid only while held
	Name  string
}

// HartLocal is the minimal contract a per-hart descriptor must satisfy
// for the push-off interrupt-disable discipline. cpu.Cpu_t implements
// it.
type HartLocal interface {
	ID() int64
	PushCli()
	PopCli()
}

var distinct = &caller.Distinct_caller_t{Enabled: false}

// Acquire disables interrupts on h (via PushCli) and spins until the
// lock transitions from clear to set. Recursive acquisition of the
// same lock by the same hart is forbidden and panics (deadlock), while
// acquiring a *different* spin lock while one is already held by the
// same hart is allowed.
func (l *Spinlock_t) Acquire(h HartLocal) {
	h.PushCli()
	if l.held.Load() && l.owner.Load() == h.ID() {
		if ok, trace := distinct.Distinct(); ok {
			panic("recursive spinlock acquire:\n" + trace)
		}
		panic("recursive spinlock acquire: " + l.Name)
	}
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
	l.owner.Store(h.ID())
}

// Release clears the lock and reenables interrupts on h if this was
// the outermost Acquire/Release pair for h.
func (l *Spinlock_t) Release(h HartLocal) {
	if !l.Holding(h) {
		panic("release of unheld spinlock: " + l.Name)
	}
	l.owner.Store(-1)
	l.held.Store(false)
	h.PopCli()
}

// Holding reports whether h currently holds l.
func (l *Spinlock_t) Holding(h HartLocal) bool {
	return l.held.Load() && l.owner.Load() == h.ID()
}

// locker adapts a (Spinlock_t, HartLocal) pair to sync.Locker so it can
// be handed to Condvar_t.Wait, which only needs Lock/Unlock.
type locker struct {
	l *Spinlock_t
	h HartLocal
}

// AsLocker returns a sync.Locker view of l for hart h.
func (l *Spinlock_t) AsLocker(h HartLocal) sync.Locker {
	return &locker{l, h}
}

func (lk *locker) Lock()   { lk.l.Acquire(lk.h) }
func (lk *locker) Unlock() { lk.l.Release(lk.h) }
