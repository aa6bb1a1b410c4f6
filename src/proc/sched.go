package proc

import (
	"runtime"
	"sync"
	"time"

	"cpu"
	"lock"
)

// SchedulerLoop is one per hart and never returns: scan for a
// RUNNABLE slot, hand it the hart, block until it parks itself
// (by sleeping, yielding, or exiting), then repeat. A hart with
// nothing runnable spins via runtime.Gosched through Spinlock_t's own
// retry loop rather than anything special here.
func (t *Table_t) SchedulerLoop(c *cpu.Cpu_t) {
	for {
		next := t.pickRunnable(c)
		if next == nil {
			runtime.Gosched() // real xv6 executes wfi here; this hart has nothing runnable
			continue
		}

		// The slot lock is passed across the context switch, exactly
		// as the real protocol requires: held here while switching
		// in, released by the resumed process (goroutine's first act
		// on first run, the tail of Sleep/Yield otherwise), then
		// re-acquired by the process before it parks and released
		// here once the switch back completes. Wakeup and Kill can
		// therefore always make progress against a parked process.
		next.mu.Acquire(c)
		if next.state != RUNNABLE {
			next.mu.Release(c)
			continue
		}
		next.state = RUNNING
		next.cpu = c
		t.setCurrent(c, next)

		if !next.started {
			next.started = true
			go next.goroutine()
		}
		start := time.Now()
		next.resume <- struct{}{}
		<-next.parked
		next.Accnt.Utadd(int(time.Since(start)))

		t.clearCurrent(c)
		next.mu.Release(c)
	}
}

func (t *Table_t) pickRunnable(c *cpu.Cpu_t) *Proc_t {
	t.mu.Acquire(c)
	defer t.mu.Release(c)
	for i := range t.slots {
		if t.slots[i].state == RUNNABLE {
			return &t.slots[i]
		}
	}
	return nil
}

// goroutine is a process's kernel thread: it waits to be resumed the
// first time, releases the slot lock the scheduler passed across the
// switch (the forkret step), then runs its body exactly once. Exit —
// called from within body, or synthesized if body returns — parks it
// for the final time with state ZOMBIE, so the scheduler loop above
// never resumes it again.
func (p *Proc_t) goroutine() {
	<-p.resume
	p.mu.Release(p.cpu)
	if p.body != nil {
		p.body(p)
	}
	p.table.Exit(p, 0)
}

// park hands the hart back to the scheduler loop that resumed p: must
// be called with p.mu held and p's new state already set to something
// other than RUNNING, and interrupts disabled, exactly like the real
// kernel's single context-switch call site requires. The scheduler
// releases p.mu once the switch back completes; when park returns the
// scheduler has re-acquired it on p's behalf, so the caller must
// release it (against p.cpu, which may be a different hart than the
// one it parked on).
func (p *Proc_t) park() {
	p.parked <- struct{}{}
	<-p.resume
}

// Yield voluntarily gives up the hart without sleeping on any
// channel, used by the timer-tick case of kernel trap handling: a
// timer interrupt while a process is RUNNING causes a voluntary
// yield.
func (p *Proc_t) Yield(c *cpu.Cpu_t) {
	p.mu.Acquire(c)
	p.state = RUNNABLE
	p.park()
	p.mu.Release(p.cpu)
}

// Sleep implements lock.Scheduler: acquire the process-slot lock,
// release guard, mark SLEEPING on ch, context-switch away; on wake,
// clear chan, release the slot lock, and reacquire guard.
func (t *Table_t) Sleep(h lock.HartLocal, ch lock.ChanID, guard sync.Locker) {
	p, ok := h.(*Proc_t)
	if !ok {
		panic("proc: Sleep called with a non-process HartLocal")
	}
	p.mu.Acquire(p.cpu)
	guard.Unlock()
	p.chanid = ch
	p.state = SLEEPING
	p.park()
	p.chanid = 0
	p.mu.Release(p.cpu)
	guard.Lock()
}

// Wakeup implements lock.Scheduler: every slot sleeping on ch (other
// than the caller, which by construction can't be sleeping on
// anything while it calls Wakeup) becomes RUNNABLE. Only the per-slot
// locks are taken, never t.mu, so Exit can call this while holding
// the wait-lock.
func (t *Table_t) Wakeup(h lock.HartLocal, ch lock.ChanID) {
	caller, _ := h.(*Proc_t)
	for i := range t.slots {
		s := &t.slots[i]
		if s == caller {
			continue
		}
		s.mu.Acquire(h)
		if s.state == SLEEPING && s.chanid == ch {
			s.state = RUNNABLE
		}
		s.mu.Release(h)
	}
}
