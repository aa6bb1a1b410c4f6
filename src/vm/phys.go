package vm

import (
	"lock"
	"oommsg"
)

// physmem is the frame table: every allocated Page_t is registered
// here under a stable pfn so a Pte_t (which only has room for a frame
// number) can be turned back into the *Page_t it addresses. Grounded
// on biscuit's mem.go Physmem_t, but without its refcounting: every
// leaf PTE's frame is uniquely owned here (fork copies pages, it does
// not share them), so a plain free list is enough, and SMP scalability
// beyond a handful of cores is out of scope, so the per-CPU free lists
// mem.go uses to avoid lock contention aren't worth carrying over.
type physmem_t struct {
	mu      lock.Spinlock_t
	frames  []*Page_t
	reverse map[*Page_t]Pa_t
	free    []Pa_t
}

var physmem = &physmem_t{}

// Init seeds the allocator with n frames of physical memory.
func Init(h lock.HartLocal, n int) {
	physmem.mu.Acquire(h)
	defer physmem.mu.Release(h)
	physmem.frames = make([]*Page_t, 0, n)
	physmem.reverse = make(map[*Page_t]Pa_t, n)
	physmem.free = make([]Pa_t, 0, n)
	for i := 0; i < n; i++ {
		pg := &Page_t{}
		pa := Pa_t(uintptr(i) << PGSHIFT)
		physmem.frames = append(physmem.frames, pg)
		physmem.reverse[pg] = pa
		physmem.free = append(physmem.free, pa)
	}
}

// PaOf returns the physical address of the frame backing a page table
// previously handed out by newPagetable, for Freewalk to free it by.
func paOf(pg *Page_t) Pa_t {
	pa, ok := physmem.reverse[pg]
	if !ok {
		panic("vm: page not in frame table")
	}
	return pa
}

// Kalloc returns a zeroed frame and its physical address, or ok=false
// if physical memory is exhausted.
func Kalloc(h lock.HartLocal) (pa Pa_t, ok bool) {
	pa, ok = kallocOnce(h)
	if ok {
		return pa, true
	}
	// One reclaim round-trip: offer a listener (a test harness, or a
	// future reclaim daemon) the chance to free frames before this
	// allocation fails outright, per oommsg.Oommsg_t's documented
	// contract. No reclaimer means no one is listening on OomCh, so
	// the non-blocking send is skipped and allocation fails as before.
	msg := oommsg.Oommsg_t{Need: 1, Resume: make(chan bool, 1)}
	select {
	case oommsg.OomCh <- msg:
		<-msg.Resume
		return kallocOnce(h)
	default:
		return 0, false
	}
}

func kallocOnce(h lock.HartLocal) (pa Pa_t, ok bool) {
	physmem.mu.Acquire(h)
	defer physmem.mu.Release(h)
	if len(physmem.free) == 0 {
		return 0, false
	}
	n := len(physmem.free) - 1
	pa = physmem.free[n]
	physmem.free = physmem.free[:n]
	pg := physmem.dmapLocked(pa)
	for i := range pg {
		pg[i] = 0
	}
	return pa, true
}

// Kfree returns a frame to the free list.
func Kfree(h lock.HartLocal, pa Pa_t) {
	physmem.mu.Acquire(h)
	defer physmem.mu.Release(h)
	physmem.free = append(physmem.free, pa)
}

// Dmap returns the frame's byte contents for direct kernel access,
// exactly as biscuit's mem.go Physmem_t.Dmap does for its software
// direct map. The frame table itself (physmem.frames) is fixed by
// Init and never resized afterward, so this needs no lock; only the
// free list does.
func Dmap(pa Pa_t) []byte {
	return physmem.dmapLocked(pa)
}

func (p *physmem_t) dmapLocked(pa Pa_t) []byte {
	idx := uintptr(pa) >> PGSHIFT
	if int(idx) >= len(p.frames) {
		panic("vm: physical address out of range")
	}
	return pg2bytes(p.frames[idx])
}
