package proc

import (
	"unsafe"

	"defs"
	"lock"
)

// The tick counter is the kernel's clock: a timer interrupt on hart 0
// bumps it and wakes every sleeper parked on its address, the same
// channel-is-an-address convention sleep/wakeup use everywhere else.
// Hosted, the "interrupt" is whatever calls TimerTick — the kernel
// package's timer goroutine, or a test driving time by hand.

func (t *Table_t) tickChan() lock.ChanID {
	return lock.ChanID(uintptr(unsafe.Pointer(&t.ticks)))
}

// TimerTick advances the clock by one tick and wakes everything
// sleeping on it. h is whichever hart (or pseudo-hart) took the timer
// interrupt.
func (t *Table_t) TimerTick(h lock.HartLocal) {
	t.tickmu.Acquire(h)
	t.ticks++
	t.tickmu.Release(h)
	t.Wakeup(h, t.tickChan())
}

// Uptime returns the number of ticks since boot.
func (t *Table_t) Uptime(h lock.HartLocal) int {
	t.tickmu.Acquire(h)
	n := t.ticks
	t.tickmu.Release(h)
	return int(n)
}

// SleepTicks blocks p for at least n ticks: a voluntary loop over the
// tick counter, woken once per TimerTick, re-checking the elapsed
// count under the tick lock each time. A kill observed at any wakeup
// abandons the wait with EINTR so the syscall layer can exit the
// process.
func (t *Table_t) SleepTicks(p *Proc_t, n int) defs.Err_t {
	if n <= 0 {
		return 0
	}
	t.tickmu.Acquire(p)
	t0 := t.ticks
	for t.ticks-t0 < uint64(n) {
		if p.Killed() {
			t.tickmu.Release(p)
			return defs.EINTR
		}
		lock.Sleep(p, t.tickChan(), t.tickmu.AsLocker(p))
	}
	t.tickmu.Release(p)
	return 0
}
