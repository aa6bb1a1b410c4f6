// Package bounds provides the fixed-capacity slot table shared by
// every layer that keeps a fixed-size table of N slots (the process
// table, the in-memory inode table): linear allocation and freeing
// over a backing array, generic over the slot payload. This
// generalizes the repeated linear-scan allocate/reclaim loop proc's
// process table and fs's inode table both need, the same way
// util.Min/Round generalize the scalar helpers they replaced.
package bounds

import "sync"

// Table_t is a fixed array of N slots of T, allocated by linear scan
// under a single mutex. Callers supply free(t *T) bool to identify a
// reclaimable slot (a process slot is free iff state==UNUSED; an
// inode slot is free iff its reference count==1).
type Table_t[T any] struct {
	mu    sync.Mutex
	Slots []T
}

// MkTable allocates n zero-valued slots.
func MkTable[T any](n int) *Table_t[T] {
	return &Table_t[T]{Slots: make([]T, n)}
}

// Alloc scans for the first slot for which free returns true, runs
// init on it while still holding the table lock (so no other caller
// can observe or race the half-initialized slot), and returns its
// index. ok is false if every slot is taken.
func (t *Table_t[T]) Alloc(free func(*T) bool, init func(*T)) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.AllocLocked(free, init)
}

// AllocLocked is Alloc's scan, usable by a caller that already holds
// the table lock via With — e.g. to combine a lookup-by-key scan and
// a fall-back allocation in one critical section.
func (t *Table_t[T]) AllocLocked(free func(*T) bool, init func(*T)) (int, bool) {
	for i := range t.Slots {
		if free(&t.Slots[i]) {
			init(&t.Slots[i])
			return i, true
		}
	}
	return 0, false
}

// With runs f while holding the table lock, for critical sections that
// need more than one Alloc/Each call to stay atomic against concurrent
// allocation (a lookup-or-allocate Get, a refcount bump in Dup).
func (t *Table_t[T]) With(f func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f()
}

// Each calls f for every slot in index order while holding the table
// lock, for scans that must see a consistent snapshot (wakeup's scan
// for sleepers, for instance, still takes each slot's own lock inside
// f — Each only serializes against concurrent Alloc).
func (t *Table_t[T]) Each(f func(i int, slot *T)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.Slots {
		f(i, &t.Slots[i])
	}
}

// Len returns the table's fixed capacity.
func (t *Table_t[T]) Len() int { return len(t.Slots) }
