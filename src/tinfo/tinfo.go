// Package tinfo tracks per-kernel-thread cancellation state. Biscuit
// looked up "the current thread's note" through a patched-runtime TLS
// slot (runtime.Gptr/Setgptr); this kernel has no such hook; instead
// proc.Proc_t holds its own *Tnote_t directly and passes it around
// like every other piece of per-process state, the same
// explicit-context discipline lock.HartLocal already uses.
package tinfo

import (
	"sync"

	"defs"
)

// Tnote_t stores one kernel thread's liveness and kill state.
type Tnote_t struct {
	State    interface{}
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// MkTnote returns a freshly initialized, live note.
func MkTnote() *Tnote_t {
	t := &Tnote_t{Alive: true}
	t.Killnaps.Killch = make(chan bool, 1)
	t.Killnaps.Cond = sync.NewCond(&t.Mutex)
	return t
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

// SetKilled marks the thread killed, records the wakeup error, and
// wakes anyone blocked on Killnaps.Cond, so a sleeping process notices
// the flag as soon as it's set.
func (t *Tnote_t) SetKilled(err defs.Err_t) {
	t.Lock()
	t.Killed = true
	t.Killnaps.Kerr = err
	t.Killnaps.Cond.Broadcast()
	t.Unlock()
}

// IsKilled reports whether the thread has been killed.
func (t *Tnote_t) IsKilled() bool {
	t.Lock()
	defer t.Unlock()
	return t.Killed
}

// Threadinfo_t tracks all thread notes in the system, keyed by tid,
// for the kill/reap bookkeeping proc.Proc_t's table does not itself
// need to duplicate.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

// Put registers note under tid.
func (t *Threadinfo_t) Put(tid defs.Tid_t, note *Tnote_t) {
	t.Lock()
	t.Notes[tid] = note
	t.Unlock()
}

// Get looks up the note for tid.
func (t *Threadinfo_t) Get(tid defs.Tid_t) (*Tnote_t, bool) {
	t.Lock()
	defer t.Unlock()
	n, ok := t.Notes[tid]
	return n, ok
}

// Del removes tid's note.
func (t *Threadinfo_t) Del(tid defs.Tid_t) {
	t.Lock()
	delete(t.Notes, tid)
	t.Unlock()
}
