package vm

import (
	"defs"
	"lock"
)

// walkaddr returns the physical address of the page containing user
// virtual address va, or ok=false if it is unmapped or lacks
// U-permission.
func walkaddr(h lock.HartLocal, pt Pagetable_t, va int) (Pa_t, bool) {
	pte, ok := Walk(h, pt, va, false)
	if !ok || *pte&PTE_V == 0 || *pte&PTE_U == 0 {
		return 0, false
	}
	return pte2pa(*pte), true
}

// Copyout copies src into the user address space pt starting at
// dstva, page by page via the physical mapping.
func Copyout(h lock.HartLocal, pt Pagetable_t, dstva int, src []byte) defs.Err_t {
	for len(src) > 0 {
		va0 := pgRounddown(dstva)
		pa0, ok := walkaddr(h, pt, va0)
		if !ok {
			return defs.EFAULT
		}
		off := dstva - va0
		n := PGSIZE - off
		if n > len(src) {
			n = len(src)
		}
		copy(Dmap(pa0)[off:off+n], src[:n])
		src = src[n:]
		dstva = va0 + PGSIZE
	}
	return 0
}

// Copyin copies from the user address space pt starting at srcva into
// dst, page by page.
func Copyin(h lock.HartLocal, pt Pagetable_t, dst []byte, srcva int) defs.Err_t {
	for len(dst) > 0 {
		va0 := pgRounddown(srcva)
		pa0, ok := walkaddr(h, pt, va0)
		if !ok {
			return defs.EFAULT
		}
		off := srcva - va0
		n := PGSIZE - off
		if n > len(dst) {
			n = len(dst)
		}
		copy(dst[:n], Dmap(pa0)[off:off+n])
		dst = dst[n:]
		srcva = va0 + PGSIZE
	}
	return 0
}

// Copyinstr copies a NUL-terminated string from user address srcva,
// stopping at the first NUL within max bytes; returns ENAMETOOLONG if
// none is found.
func Copyinstr(h lock.HartLocal, pt Pagetable_t, srcva int, max int) ([]byte, defs.Err_t) {
	var out []byte
	for len(out) < max {
		va0 := pgRounddown(srcva)
		pa0, ok := walkaddr(h, pt, va0)
		if !ok {
			return nil, defs.EFAULT
		}
		off := srcva - va0
		page := Dmap(pa0)[off:]
		for _, c := range page {
			if len(out) >= max {
				break
			}
			if c == 0 {
				return out, 0
			}
			out = append(out, c)
		}
		srcva = va0 + PGSIZE
	}
	return nil, defs.ENAMETOOLONG
}
