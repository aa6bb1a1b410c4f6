package syscall6

import (
	"encoding/binary"

	"defs"
	"fdops"
	"limits"
	"proc"
	"vm"
)

// Exec argument limits, matching the dispatch table's fixed argument
// registers: at most execMaxArgs strings, and the whole marshaled
// stack (strings plus the pair array) must fit in the one stack page.
const execMaxArgs = 32

// Exec replaces p's user image with the program at path. The image
// file's bytes are loaded at VA 0; above them sit a guard page (U bit
// stripped, so a stack overflow faults instead of corrupting the
// image) and one stack page. Argument strings are copied onto the new
// stack top-down, each NUL-terminated and 16-byte aligned, followed by
// an array of (ptr, len) pairs terminated by (0, 0); a1 points at the
// array and a0 carries argc, so the new image starts exactly as the
// trap ABI promises. Descriptors and cwd survive. On any failure the
// old image is untouched and the error is reported to it.
func (k *Kernel_t) Exec(p *proc.Proc_t, path []byte, argv [][]byte) int {
	trace(p, defs.SYS_EXEC)
	if len(argv) > execMaxArgs {
		return defs.E2BIG.Int()
	}
	full := p.Cwd.Canonicalpath(pathUstr(path))

	k.Fs.BeginOp(p)
	ip, err := k.Fs.Namei(p, full)
	if err != 0 {
		k.Fs.EndOp(p)
		return err.Int()
	}
	if ip.Type() != defs.I_FILE {
		ip.Unlock(p)
		k.Fs.Put(p, ip)
		k.Fs.EndOp(p)
		return defs.EACCES.Int()
	}
	img := make([]byte, ip.Size())
	n, rerr := ip.Read(p, fdops.MkKerneliobuf(img), 0, len(img))
	ip.Unlock(p)
	k.Fs.Put(p, ip)
	k.Fs.EndOp(p)
	if rerr != 0 {
		return rerr.Int()
	}
	if n != len(img) || n == 0 {
		return defs.ENOEXEC.Int()
	}
	if n > limits.MAXFILE*limits.BSIZE {
		return defs.ENOEXEC.Int()
	}

	nvm, err := k.Table.MkUserVm(p)
	if err != 0 {
		return err.Int()
	}
	imgsz := roundupPg(len(img))
	// image, then a guard page, then the stack page.
	if _, gerr := vm.UvmGrow(p, nvm, imgsz+2*vm.PGSIZE); gerr != 0 {
		vm.UvmFree(p, nvm)
		vm.Kfree(p, nvm.TrapframePa)
		return gerr.Int()
	}
	vm.UvmClear(p, nvm, imgsz)

	bad := func(e defs.Err_t) int {
		vm.UvmFree(p, nvm)
		vm.Kfree(p, nvm.TrapframePa)
		return e.Int()
	}
	if cerr := vm.Copyout(p, nvm.Pagetable, 0, img); cerr != 0 {
		return bad(cerr)
	}

	argp, serr := execStack(p, nvm, argv)
	if serr != 0 {
		return bad(serr)
	}

	k.Table.ReplaceImage(p, nvm, basename(full))
	p.SetA1(argp)
	return len(argv)
}

// execStack marshals argv onto the top of nvm's stack page: the
// strings first, top-down, then the (ptr, len) pair array. Returns the
// user VA of the pair array, which is also the new stack pointer.
func execStack(p *proc.Proc_t, nvm *vm.Vm_t, argv [][]byte) (int, defs.Err_t) {
	sp := nvm.Sz
	stackbase := sp - vm.PGSIZE
	ptrs := make([]int, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		sp -= len(argv[i]) + 1
		sp &^= 0xf
		if sp < stackbase {
			return 0, defs.E2BIG
		}
		withNul := append(append([]byte{}, argv[i]...), 0)
		if err := vm.Copyout(p, nvm.Pagetable, sp, withNul); err != 0 {
			return 0, err
		}
		ptrs[i] = sp
	}

	pairs := make([]byte, (len(argv)+1)*16)
	for i, va := range ptrs {
		binary.LittleEndian.PutUint64(pairs[i*16:], uint64(va))
		binary.LittleEndian.PutUint64(pairs[i*16+8:], uint64(len(argv[i])))
	}
	sp -= len(pairs)
	sp &^= 0xf
	if sp < stackbase {
		return 0, defs.E2BIG
	}
	if err := vm.Copyout(p, nvm.Pagetable, sp, pairs); err != 0 {
		return 0, err
	}
	return sp, 0
}

func roundupPg(n int) int {
	return (n + vm.PGSIZE - 1) &^ (vm.PGSIZE - 1)
}

// basename returns the final component of an already-canonical path,
// for the process-name slot.
func basename(path []byte) string {
	last := 0
	for i, b := range path {
		if b == '/' {
			last = i + 1
		}
	}
	if last >= len(path) {
		return "/"
	}
	return string(path[last:])
}
