// Package proc implements the process table and scheduler, in the
// idiom cpu.Cpu_t and the lock package already
// establish: explicit HartLocal threading instead of goroutine-local
// lookup, and a hosted "context switch" built from goroutines blocking
// on their own channels rather than literal register save/restore
// (cpu.Cpu_t's package doc explains why: this kernel has no bare-metal
// registers to save).
//
// A context switch here is: the scheduler goroutine for a hart parks
// itself on the chosen process's resume channel and wakes it; the
// process goroutine runs until it calls into Sleep, Yield, or Exit,
// at which point it parks itself on the scheduler's behalf by sending
// to its own parked channel and blocking on resume again. This gives
// every invariant a real context switch must hold (exactly one spin
// lock held, interrupts disabled, intena preserved across switches) a
// concrete, testable Go realization without pretending to manage a
// real call stack.
package proc

import (
	"unsafe"

	"accnt"
	"bio"
	"cpu"
	"defs"
	"fd"
	"limits"
	"lock"
	"res"
	"tinfo"
	"vm"
)

// State_t is a process slot's lifecycle state.
type State_t int

const (
	UNUSED State_t = iota
	USED
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

// Proc_t is one process-table slot. Fields the hosted model cannot
// give literal meaning to (saved callee-saved registers, kernel stack
// VA) are represented by their closest Go equivalent or dropped with
// a comment explaining why.
type Proc_t struct {
	mu       lock.Spinlock_t // the process-slot lock
	state    State_t
	pid      defs.Pid_t
	name     string
	chanid   lock.ChanID
	xstate   int
	parent   *Proc_t
	Vm       *vm.Vm_t
	Fds      [limits.NOFILE]*fd.Fd_t
	FdBudget *res.Limit_t // named "proc.nofile" budget mirroring len(Fds)
	Cwd      *fd.Cwd_t
	Accnt    accnt.Accnt_t // cumulative hart-time, updated by the scheduler loop
	note     *tinfo.Tnote_t
	cpu      *cpu.Cpu_t // non-nil only while RUNNING
	a0       int        // trapframe's syscall-return register; Fork zeroes the child's copy
	a1       int        // trapframe's second argument register; Exec points it at argv
	resume   chan struct{}
	parked   chan struct{}
	body     func(p *Proc_t)
	started  bool
	table    *Table_t
}

// Pid returns the process's pid.
func (p *Proc_t) Pid() defs.Pid_t { return p.pid }

// Name returns the process's name.
func (p *Proc_t) Name() string { return p.name }

// A0 returns the syscall-return/fork-branch register: 0 in a freshly
// forked child, unset (0) otherwise unless a syscall handler sets it.
func (p *Proc_t) A0() int { return p.a0 }

// SetA0 records a value for a subsequent body replay to observe via
// A0 (used by the syscall dispatcher to hand back results the way a
// real trapframe's a0 field would).
func (p *Proc_t) SetA0(v int) { p.a0 = v }

// A1 returns the second-argument register; after a successful Exec it
// holds the user virtual address of the argv array.
func (p *Proc_t) A1() int { return p.a1 }

// SetA1 records a value for A1, the way usertrap_ret would reload a
// real trapframe's a1 slot.
func (p *Proc_t) SetA1(v int) { p.a1 = v }

// State returns the process's current lifecycle state.
func (p *Proc_t) State() State_t {
	return p.state
}

// Note returns the process's cancellation/liveness note.
func (p *Proc_t) Note() *tinfo.Tnote_t { return p.note }

// Killed reports whether this process has been marked for death,
// satisfying circbuf.Caller_i (and any other Fdops_i-adjacent
// contract that needs to notice cancellation mid-blocking-call).
func (p *Proc_t) Killed() bool { return p.note.IsKilled() }

// ID satisfies lock.HartLocal by delegating to the hart this process
// is currently running on; only valid while RUNNING, which is the
// only time a process calls anything requiring HartLocal.
func (p *Proc_t) ID() int64 { return p.cpu.ID() }

// PushCli/PopCli satisfy lock.HartLocal the same way.
func (p *Proc_t) PushCli() { p.cpu.PushCli() }
func (p *Proc_t) PopCli()  { p.cpu.PopCli() }

// Cpu returns the hart this process is currently running on, for
// syscall handlers (fork, kill) that need a *cpu.Cpu_t rather than the
// lock.HartLocal view a body closure otherwise only needs p itself
// for.
func (p *Proc_t) Cpu() *cpu.Cpu_t { return p.cpu }

// chanAddr returns a stable channel identity for v, identified by
// address: proc mints these directly instead of going through lock's
// unexported helper, since sleeping processes
// wait on addresses of Proc_t values the lock package knows nothing
// about.
func chanAddr(v any) lock.ChanID {
	switch x := v.(type) {
	case *Proc_t:
		return lock.ChanID(uintptr(unsafe.Pointer(x)))
	default:
		panic("proc: unsupported channel identity")
	}
}

// Table_t is the fixed NPROC-slot process table plus per-hart
// "current process" tracking, allocated exactly once from hart 0's
// boot path.
type Table_t struct {
	mu    lock.Spinlock_t
	slots [limits.NPROC]Proc_t

	tickmu lock.Spinlock_t
	ticks  uint64

	nextpid      defs.Pid_t
	current      []*Proc_t // indexed by hart id
	disk         bio.Disk_i
	init         *Proc_t
	trampolinePa vm.Pa_t // the one shared trampoline frame every address space maps
}

// SetTrampoline records the physical frame holding the trampoline
// code, set once from hart 0's boot path, so every subsequent Fork
// maps the same frame rather than
// allocating a fresh copy per process.
func (t *Table_t) SetTrampoline(pa vm.Pa_t) {
	t.trampolinePa = pa
}

// MkTable allocates an empty process table for an ncpu-hart machine.
func MkTable(ncpu int) *Table_t {
	t := &Table_t{current: make([]*Proc_t, ncpu), nextpid: 1}
	for i := range t.slots {
		t.slots[i].resume = make(chan struct{}, 1)
		t.slots[i].parked = make(chan struct{}, 1)
		t.slots[i].table = t
	}
	lock.SetScheduler(t)
	return t
}

// setCurrent/clearCurrent/Current implement "install as current on
// this CPU", keyed by hart id rather than a TLS lookup (see tinfo's
// package doc for why: no patched runtime here).
func (t *Table_t) setCurrent(c *cpu.Cpu_t, p *Proc_t) {
	t.current[c.ID()] = p
}
func (t *Table_t) clearCurrent(c *cpu.Cpu_t) {
	t.current[c.ID()] = nil
}

// Current returns the process running on hart c, or nil if its
// scheduler loop is idling.
func (t *Table_t) Current(c *cpu.Cpu_t) *Proc_t {
	return t.current[c.ID()]
}

// allocSlot finds an UNUSED slot, marks it USED, assigns it a fresh
// pid, and returns it locked for the caller to finish initializing.
func (t *Table_t) allocSlot(c *cpu.Cpu_t) *Proc_t {
	t.mu.Acquire(c)
	var slot *Proc_t
	for i := range t.slots {
		if t.slots[i].state == UNUSED {
			slot = &t.slots[i]
			break
		}
	}
	if slot == nil {
		t.mu.Release(c)
		return nil
	}
	pid := t.nextpid
	t.nextpid++
	t.mu.Release(c)

	slot.state = USED
	slot.pid = pid
	slot.note = tinfo.MkTnote()
	slot.parent = nil
	slot.xstate = 0
	slot.started = false
	slot.a0 = 0
	slot.a1 = 0
	slot.chanid = 0
	slot.FdBudget = res.MkLimit("proc.nofile", limits.NOFILE)
	return slot
}

// ByPid scans the table for a process with the given pid in a state
// other than UNUSED.
func (t *Table_t) ByPid(c *cpu.Cpu_t, pid defs.Pid_t) *Proc_t {
	t.mu.Acquire(c)
	defer t.mu.Release(c)
	for i := range t.slots {
		if t.slots[i].state != UNUSED && t.slots[i].pid == pid {
			return &t.slots[i]
		}
	}
	return nil
}
