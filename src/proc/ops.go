package proc

import (
	"runtime"

	"accnt"
	"cpu"
	"defs"
	"fd"
	"fdops"
	"lock"
	"vm"
)

// MkUserVm allocates a trapframe frame and a fresh, empty user
// address space mapping the shared trampoline plus that trapframe:
// the common head of Fork, Spawn, and Exec. On failure nothing is
// left allocated.
func (t *Table_t) MkUserVm(h lock.HartLocal) (*vm.Vm_t, defs.Err_t) {
	trapframePa, ok := vm.Kalloc(h)
	if !ok {
		return nil, defs.ENOMEM
	}
	nvm, ok := vm.UvmCreate(h, t.trampolinePa, trapframePa)
	if !ok {
		vm.Kfree(h, trapframePa)
		return nil, defs.ENOMEM
	}
	return nvm, 0
}

// freeUserVm tears down an address space made by MkUserVm, trapframe
// frame included.
func freeUserVm(h lock.HartLocal, as *vm.Vm_t) {
	tfpa := as.TrapframePa
	vm.UvmFree(h, as)
	vm.Kfree(h, tfpa)
}

// Fork allocates a child slot, copies the parent's user address
// space, duplicates open files and cwd by reference, zeroes the
// child's syscall-return register so it observes fork()==0, links it
// under the parent, and marks it RUNNABLE.
func (t *Table_t) Fork(c *cpu.Cpu_t, parent *Proc_t) (defs.Pid_t, defs.Err_t) {
	child := t.allocSlot(c)
	if child == nil {
		return 0, defs.EAGAIN
	}

	cvm, err := t.MkUserVm(c)
	if err != 0 {
		t.freeSlot(c, child)
		return 0, err
	}
	if !vm.UvmCopy(c, parent.Vm, cvm) {
		freeUserVm(c, cvm)
		t.freeSlot(c, child)
		return 0, defs.ENOMEM
	}
	child.Vm = cvm
	child.a0 = 0 // fork() returns 0 in the child
	child.name = parent.name
	// The child resumes from the fork call site, same as the parent;
	// with no trapframe-based PC to resume from in this hosted model,
	// it replays the parent's body closure from the top instead, which
	// test bodies branch on via a0 (0 in the child, child pid in the
	// parent) exactly like real `if (fork() == 0)` user code would.
	child.body = parent.body

	for i, f := range parent.Fds {
		if f == nil {
			continue
		}
		nfd, err := fd.Copyfd(f)
		if err != 0 {
			continue
		}
		// A copied descriptor's blocking calls were bound to the
		// parent at open time; rebind so the child blocking on it
		// parks itself, not the parent.
		if rb, ok := nfd.Fops.(fdops.Rebind_i); ok {
			nfd.Fops = rb.Rebind(child)
		}
		child.Fds[i] = nfd
	}
	child.Cwd = parent.Cwd

	t.mu.Acquire(c)
	child.parent = parent
	t.mu.Release(c)

	child.mu.Acquire(c)
	child.state = RUNNABLE
	child.mu.Release(c)

	return child.pid, 0
}

// freeSlot returns a not-yet-published slot to UNUSED; used only on
// Fork's failure paths, before any other hart could have observed it.
func (t *Table_t) freeSlot(c *cpu.Cpu_t, p *Proc_t) {
	p.state = UNUSED
	p.Vm = nil
}

// Exit closes every open file, releases cwd, reparents children to
// init, wakes the parent, and parks the caller as a ZOMBIE forever.
// Never returns.
func (t *Table_t) Exit(p *Proc_t, xstate int) {
	for i, f := range p.Fds {
		if f != nil {
			fd.Close_panic(f)
			p.Fds[i] = nil
		}
	}
	p.Cwd = nil

	// The wait-lock is held from reparenting through the ZOMBIE
	// transition: the parent's Wait can only rescan once it reacquires
	// t.mu, so it is guaranteed to observe ZOMBIE rather than racing
	// past a still-RUNNING child and sleeping forever.
	t.mu.Acquire(p)
	for i := range t.slots {
		s := &t.slots[i]
		if s.parent == p {
			s.parent = t.init
		}
	}
	if p.parent != nil {
		t.Wakeup(p, chanAddr(p.parent))
	}

	p.mu.Acquire(p.cpu)
	p.xstate = xstate
	p.state = ZOMBIE
	t.mu.Release(p)
	// The final park: hand the hart back and end this kernel thread
	// outright, so a later reuse of the slot never finds a stale
	// goroutine still waiting on the resume channel.
	p.parked <- struct{}{}
	runtime.Goexit()
}

// Wait scans for a ZOMBIE child, reaps the first one found (freeing
// its slot and returning its pid and exit status), or sleeps on the
// caller's own address and retries if none have exited yet, or
// reports ECHILD if there are no children at all.
func (t *Table_t) Wait(p *Proc_t) (defs.Pid_t, int, defs.Err_t) {
	t.mu.Acquire(p)
	for {
		haveChildren := false
		for i := range t.slots {
			s := &t.slots[i]
			if s.parent != p {
				continue
			}
			haveChildren = true
			if s.state == ZOMBIE {
				pid := s.pid
				xstate := s.xstate
				p.Accnt.Add(&s.Accnt)
				t.reap(p, s)
				t.mu.Release(p)
				return pid, xstate, 0
			}
		}
		if !haveChildren {
			t.mu.Release(p)
			return 0, 0, defs.ECHILD
		}
		lock.Sleep(p, chanAddr(p), t.mu.AsLocker(p))
	}
}

// reap frees a ZOMBIE slot's resources, leaving it UNUSED for reuse by
// a future Fork. h is the reaping process's own hart identity: the
// zombie's recorded cpu belongs to whatever that hart is running now,
// so it must not be borrowed for the frees here.
func (t *Table_t) reap(h lock.HartLocal, s *Proc_t) {
	if s.Vm != nil {
		freeUserVm(h, s.Vm)
	}
	s.Vm = nil
	s.parent = nil
	s.cpu = nil
	s.state = UNUSED
	s.Accnt = accnt.Accnt_t{}
}

// Grow enlarges or shrinks p's user address space: a thin wrapper
// since the heavy lifting, atomic abort on allocation failure, lives
// in vm.UvmGrow.
func (t *Table_t) Grow(p *Proc_t, n int) (int, defs.Err_t) {
	return vm.UvmGrow(p, p.Vm, n)
}

// Kill marks the process with pid as killed and wakes it if it is
// currently sleeping, so it can observe the flag at its next
// opportunity. Reports ESRCH if no such process exists.
func (t *Table_t) Kill(c *cpu.Cpu_t, pid defs.Pid_t) defs.Err_t {
	target := t.ByPid(c, pid)
	if target == nil {
		return defs.ESRCH
	}
	target.note.SetKilled(defs.EINTR)

	target.mu.Acquire(c)
	ch := target.chanid
	sleeping := target.state == SLEEPING
	target.mu.Release(c)
	if sleeping {
		t.Wakeup(c, ch)
	}
	return 0
}

// Spawn creates a process with no parent and a fresh, empty address
// space, running body in place of the user-mode program an exec would
// normally install (this hosted kernel has no ELF loader, so tests and
// the init bring-up path supply a body closure directly rather
// than booting real binaries). Used once at boot for pid 1 (init) and
// by tests that need a runnable process without first forking one.
func (t *Table_t) Spawn(c *cpu.Cpu_t, name string, body func(p *Proc_t)) (*Proc_t, defs.Err_t) {
	p := t.allocSlot(c)
	if p == nil {
		return nil, defs.EAGAIN
	}
	pvm, err := t.MkUserVm(c)
	if err != 0 {
		t.freeSlot(c, p)
		return nil, err
	}
	p.Vm = pvm
	p.name = name
	p.body = body

	if t.init == nil {
		t.init = p
	}

	p.mu.Acquire(c)
	p.state = RUNNABLE
	p.mu.Release(c)
	return p, 0
}

// ReplaceImage swaps p's user address space for a freshly built one
// (exec's final, no-going-back step: every failure must be detected
// before calling this) and renames the process. The old space and its
// trapframe frame are freed; open descriptors and cwd survive, as
// exec leaves them alone.
func (t *Table_t) ReplaceImage(p *Proc_t, nvm *vm.Vm_t, name string) {
	old := p.Vm
	p.Vm = nvm
	p.name = name
	if old != nil {
		freeUserVm(p, old)
	}
}
