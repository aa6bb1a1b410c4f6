package vm

import (
	"defs"
	"limits"
	"lock"
)

// Sv39 VA layout: the trampoline sits at the very top of every address
// space, kernel and user alike, so that
// uservec's page-table switch never invalidates the instruction
// stream it is currently executing from; the trapframe sits one page
// below it, owned by its process.
const (
	maxVA      = 1 << 38
	Trampoline = maxVA - PGSIZE
	Trapframe  = Trampoline - PGSIZE
)

// kernelPagetable is the single global kernel address space, built
// once from hart 0's boot path. UART, VIRTIO0 and PLIC are out of
// scope, so the only mapping this hosted kernel actually installs is
// the trampoline and each
// process's guarded kernel stack; the rest of the kernel runs as
// ordinary Go code sharing the host's address space.
var kernelPagetable Pagetable_t

// KvmInit builds the kernel page table and maps the trampoline page.
// trampolinePa is the frame holding the trampoline's code; it is
// owned by the kernel for the life of the system.
func KvmInit(h lock.HartLocal, trampolinePa Pa_t) {
	pt, _, ok := newPagetable(h)
	if !ok {
		panic("vm: out of memory initializing kernel page table")
	}
	if !Mappages(h, pt, Trampoline, trampolinePa, PGSIZE, PTE_R|PTE_X) {
		panic("vm: mapping trampoline into kernel page table")
	}
	kernelPagetable = pt
}

// KernelPagetable returns the global kernel address space.
func KernelPagetable() Pagetable_t { return kernelPagetable }

// kstackVA returns the kernel-virtual address of process slot idx's
// kernel stack, leaving a guard page below each one.
func kstackVA(idx int) int {
	return Trapframe - (idx+1)*2*PGSIZE
}

// MapKstack allocates and maps a guarded kernel stack for process slot
// idx, returning its top-of-stack virtual address.
func MapKstack(h lock.HartLocal, idx int) (int, bool) {
	if idx < 0 || idx >= limits.NPROC {
		panic("vm: kstack index out of range")
	}
	pa, ok := Kalloc(h)
	if !ok {
		return 0, false
	}
	va := kstackVA(idx)
	if !Mappages(h, kernelPagetable, va, pa, PGSIZE, PTE_R|PTE_W) {
		Kfree(h, pa)
		return 0, false
	}
	return va + PGSIZE, true
}

// Vm_t is one process's user address space: a root page table plus
// its current size in bytes. TrapframePa is the frame backing the
// trapframe mapping at the top of the space; it is owned by this
// address space's process and freed by whoever reaps the process, not
// by UvmFree (the trampoline frame, by contrast, is shared and never
// freed here).
type Vm_t struct {
	Pagetable   Pagetable_t
	Sz          int
	TrapframePa Pa_t
}

// UvmCreate returns a fresh, empty user address space with the
// trampoline and this process's trapframe mapped.
func UvmCreate(h lock.HartLocal, trampolinePa, trapframePa Pa_t) (*Vm_t, bool) {
	pt, _, ok := newPagetable(h)
	if !ok {
		return nil, false
	}
	if !Mappages(h, pt, Trampoline, trampolinePa, PGSIZE, PTE_R|PTE_X) {
		Freewalk(h, pt)
		return nil, false
	}
	if !Mappages(h, pt, Trapframe, trapframePa, PGSIZE, PTE_R|PTE_W) {
		Unmappages(h, pt, Trampoline, 1, false)
		Freewalk(h, pt)
		return nil, false
	}
	return &Vm_t{Pagetable: pt, TrapframePa: trapframePa}, true
}

// UvmFree unmaps and frees everything in as except the trampoline and
// trapframe frames (owned elsewhere).
func UvmFree(h lock.HartLocal, as *Vm_t) {
	Unmappages(h, as.Pagetable, Trampoline, 1, false)
	Unmappages(h, as.Pagetable, Trapframe, 1, false)
	if as.Sz > 0 {
		Unmappages(h, as.Pagetable, 0, pgRoundup(as.Sz)/PGSIZE, true)
	}
	Freewalk(h, as.Pagetable)
}

// UvmGrow enlarges as by n bytes (n may be negative to shrink),
// returning the old size. Allocation failures during growth abort
// atomically: any frames allocated so far are freed and the address
// space is left unchanged.
func UvmGrow(h lock.HartLocal, as *Vm_t, n int) (int, defs.Err_t) {
	old := as.Sz
	if n == 0 {
		return old, 0
	}
	newsz := old + n
	if newsz < 0 {
		return old, defs.EINVAL
	}
	if n > 0 {
		if !uvmAlloc(h, as, old, newsz) {
			return old, defs.ENOMEM
		}
	} else {
		uvmDealloc(h, as, old, newsz)
	}
	as.Sz = newsz
	return old, 0
}

func uvmAlloc(h lock.HartLocal, as *Vm_t, oldsz, newsz int) bool {
	oldsz = pgRoundup(oldsz)
	for a := oldsz; a < newsz; a += PGSIZE {
		pa, ok := Kalloc(h)
		if !ok {
			uvmDealloc(h, as, a, oldsz)
			return false
		}
		if !Mappages(h, as.Pagetable, a, pa, PGSIZE, PTE_R|PTE_W|PTE_U) {
			Kfree(h, pa)
			uvmDealloc(h, as, a, oldsz)
			return false
		}
	}
	return true
}

func uvmDealloc(h lock.HartLocal, as *Vm_t, oldsz, newsz int) {
	if newsz >= oldsz {
		return
	}
	lo := pgRoundup(newsz)
	if lo < oldsz {
		npages := (pgRoundup(oldsz) - lo) / PGSIZE
		Unmappages(h, as.Pagetable, lo, npages, true)
	}
}

// UvmCopy duplicates every mapped user page of parent into a fresh
// frame in child, preserving flags, for fork — pages are cloned by
// fork via copy, not shared.
func UvmCopy(h lock.HartLocal, parent, child *Vm_t) bool {
	for a := 0; a < parent.Sz; a += PGSIZE {
		pte, ok := Walk(h, parent.Pagetable, a, false)
		if !ok || *pte&PTE_V == 0 {
			continue
		}
		pa := pte2pa(*pte)
		flags := *pte & (PTE_R | PTE_W | PTE_X | PTE_U | PTE_A | PTE_D)
		npa, ok := Kalloc(h)
		if !ok {
			uvmCopyUndo(h, child, a)
			return false
		}
		copy(Dmap(npa), Dmap(pa))
		if !Mappages(h, child.Pagetable, a, npa, PGSIZE, flags) {
			Kfree(h, npa)
			uvmCopyUndo(h, child, a)
			return false
		}
	}
	child.Sz = parent.Sz
	return true
}

func uvmCopyUndo(h lock.HartLocal, child *Vm_t, upto int) {
	if upto > 0 {
		Unmappages(h, child.Pagetable, 0, upto/PGSIZE, true)
	}
}

// UvmClear strips the U permission from the page mapped at va, turning
// it into a guard page a user-mode access faults on; used below the
// exec-built stack.
func UvmClear(h lock.HartLocal, as *Vm_t, va int) {
	pte, ok := Walk(h, as.Pagetable, va, false)
	if !ok || *pte&PTE_V == 0 {
		panic("vm: UvmClear of an unmapped page")
	}
	*pte &^= PTE_U
}
