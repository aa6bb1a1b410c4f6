package vm

import (
	"lock"
	"unsafe"
)

// Pagetable_t is one page-table page: 512 Sv39 PTEs. It is the same
// Page_t frame reinterpreted, exactly as biscuit's mem.go reinterprets
// a Pg_t as a Pmap_t via unsafe.Pointer — a page table and a data page
// are both just a physical frame viewed differently.
type Pagetable_t *[512]Pte_t

func pg2pagetable(pg *Page_t) Pagetable_t {
	return (Pagetable_t)(unsafe.Pointer(pg))
}

func newPagetable(h lock.HartLocal) (Pagetable_t, Pa_t, bool) {
	pa, ok := Kalloc(h)
	if !ok {
		return nil, 0, false
	}
	return pa2table(pa), pa, true
}

func pa2table(pa Pa_t) Pagetable_t {
	idx := uintptr(pa) >> PGSHIFT
	if int(idx) >= len(physmem.frames) {
		panic("vm: physical address out of range")
	}
	return pg2pagetable(physmem.frames[idx])
}

// Walk returns a pointer to the level-0 PTE for va within pt,
// allocating interior page-table pages along the way when alloc is
// true. Returns ok=false if a missing interior page was needed but
// alloc is false, or allocation failed.
func Walk(h lock.HartLocal, pt Pagetable_t, va int, alloc bool) (*Pte_t, bool) {
	if va < 0 {
		panic("vm: walk of negative va")
	}
	cur := pt
	for level := 2; level > 0; level-- {
		idx := (uintptr(va) >> pxshift(level)) & PXMASK
		pte := &cur[idx]
		if *pte&PTE_V != 0 {
			cur = pa2table(pte2pa(*pte))
			continue
		}
		if !alloc {
			return nil, false
		}
		next, npa, ok := newPagetable(h)
		if !ok {
			return nil, false
		}
		*pte = pa2pte(npa) | PTE_V
		cur = next
	}
	idx := (uintptr(va) >> pxshift(0)) & PXMASK
	return &cur[idx], true
}

// Mappages installs leaf PTEs mapping the page-aligned range
// [va, va+size) to physical addresses starting at pa, with perms,
// failing if any target PTE is already valid (remap is a bug) or an
// interior page can't be allocated.
func Mappages(h lock.HartLocal, pt Pagetable_t, va int, pa Pa_t, size int, perms Pte_t) bool {
	if size <= 0 {
		panic("vm: mappages of empty range")
	}
	first := pgRounddown(va)
	last := pgRounddown(va + size - 1)
	for a := first; ; a += PGSIZE {
		pte, ok := Walk(h, pt, a, true)
		if !ok {
			return false
		}
		if *pte&PTE_V != 0 {
			panic("vm: mappages: remap")
		}
		*pte = pa2pte(pa) | perms | PTE_V
		if a == last {
			break
		}
		pa += PGSIZE
	}
	return true
}

// Unmappages clears leaf PTEs over [va, va+npages*PGSIZE), optionally
// freeing their backing frames.
func Unmappages(h lock.HartLocal, pt Pagetable_t, va int, npages int, freeFrames bool) {
	if va%PGSIZE != 0 {
		panic("vm: unmappages: unaligned va")
	}
	for i := 0; i < npages; i++ {
		a := va + i*PGSIZE
		pte, ok := Walk(h, pt, a, false)
		if !ok || *pte&PTE_V == 0 {
			panic("vm: unmappages: pte not present")
		}
		if !isLeaf(*pte) {
			panic("vm: unmappages: not a leaf")
		}
		if freeFrames {
			Kfree(h, pte2pa(*pte))
		}
		*pte = 0
	}
}

func isLeaf(pte Pte_t) bool {
	return pte&(PTE_R|PTE_W|PTE_X) != 0
}

// Freewalk recursively frees every interior page-table page reachable
// from pt, requiring all leaf PTEs to have already been cleared.
func Freewalk(h lock.HartLocal, pt Pagetable_t) {
	for i := 0; i < 512; i++ {
		pte := pt[i]
		if pte&PTE_V == 0 {
			continue
		}
		if isLeaf(pte) {
			panic("vm: freewalk: leaf still mapped")
		}
		Freewalk(h, pa2table(pte2pa(pte)))
	}
	frame := (*Page_t)(unsafe.Pointer(pt))
	Kfree(h, paOf(frame))
}
