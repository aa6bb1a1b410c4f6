// Package cpu implements layer L1: the per-hart descriptor and the
// push/pop interrupt-disable discipline spin locks rely on.
//
// This kernel runs hosted, as a set of goroutines rather than on bare
// RISC-V hardware, so there is no real interrupt-enable bit to flip.
// What "interrupts disabled" actually needs to mean here is a
// depth-counted, per-hart flag that spin lock acquisition can check
// and release can restore — exactly the shape of a counting push/pop
// guard, so that is what Cpu_t provides. The one piece of *real* host
// behavior it drives is runtime.Gosched cooperation in
// lock.Spinlock_t.Acquire: a goroutine that has "disabled interrupts"
// must not be preempted into sleeping on a spin lock it already holds
// for unboundedly long, which the depth counter also lets callers
// assert against.
package cpu

import "caller"

// Cpu_t is one hart's descriptor (current process lives in
// proc.Proc_t, referenced by id rather than embedded here to avoid an
// import cycle between cpu and proc).
type Cpu_t struct {
	id       int64
	noff     int  // nested interrupt-disable depth
	intenaOK bool // "interrupts were enabled" snapshot from the first disable
	Dc       caller.Distinct_caller_t
}

// New returns a Cpu_t for hart id.
func New(id int64) *Cpu_t {
	return &Cpu_t{id: id}
}

// ID returns the hart id, satisfying lock.HartLocal.
func (c *Cpu_t) ID() int64 { return c.id }

// PushCli increments the disable-interrupts nesting depth. The first
// call in a nested sequence records the pre-disable state; it is
// always "enabled" in this hosted model since there is no hardware
// interrupt-enable bit to query, which is also why Popcli's restore is
// a no-op beyond bookkeeping — the invariant this still protects is
// "noff == 0 outside of any lock", checked by AssertNoLocks.
func (c *Cpu_t) PushCli() {
	if c.noff == 0 {
		c.intenaOK = true
	}
	c.noff++
}

// PopCli decrements the nesting depth; panics if called without a
// matching PushCli.
func (c *Cpu_t) PopCli() {
	if c.noff == 0 {
		panic("cpu: PopCli without PushCli")
	}
	c.noff--
}

// NOff returns the current disable-interrupt nesting depth.
func (c *Cpu_t) NOff() int { return c.noff }

// AssertNoLocks panics if this hart currently holds any spin lock,
// used by sleep to enforce that sleep is legal only when the caller
// holds exactly one lock: callers must drop to depth 1 (just the
// mutex sleep itself manages) before calling Sleep.
func (c *Cpu_t) AssertNoLocks() {
	if c.noff > 1 {
		panic("cpu: sleep while holding more than one spin lock")
	}
}

// Table is the fixed set of hart descriptors, sized by limits.NCPU,
// allocated once at boot.
type Table struct {
	Cpus []*Cpu_t
}

// MkTable allocates n hart descriptors.
func MkTable(n int) *Table {
	t := &Table{Cpus: make([]*Cpu_t, n)}
	for i := range t.Cpus {
		t.Cpus[i] = New(int64(i))
	}
	return t
}
