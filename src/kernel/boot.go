// Package kernel wires the boot-time subsystems together into one
// running system: every package-level singleton is brought up exactly
// once from hart 0's boot path, before any other hart is started,
// in the same "hart 0 brings every singleton up, then every hart
// starts its scheduler loop" shape the rest of the tree follows.
package kernel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bio"
	"console"
	"cpu"
	"fs"
	"proc"
	"syscall6"
	"virtio"
	"vm"
)

// Kernel_t bundles every booted subsystem a running system needs.
type Kernel_t struct {
	Table    *proc.Table_t
	Fs       *fs.Fs_t
	Syscalls *syscall6.Kernel_t
	Disk     *virtio.FileDisk_t
	NCpu     int

	harts []*cpu.Cpu_t
}

// bootHart is hart 0's lock.HartLocal identity while no process yet
// exists to serve as one; only used during Boot, before proc.Table_t's
// own per-hart bookkeeping takes over.
type bootHart struct {
	id   int64
	noff int
}

func (h *bootHart) ID() int64    { return h.id }
func (h *bootHart) PushCli()     { h.noff++ }
func (h *bootHart) PopCli()      { h.noff-- }
func (h *bootHart) Killed() bool { return false }

const defaultNFrames = 4096

var bootOnce sync.Once

// Boot brings up physical memory, the kernel page table, the disk and
// mounted filesystem, the process table, and the syscall dispatcher,
// in that order, and returns a ready Kernel_t. Independent subsystem
// bring-up (physical memory + kernel page table on one side, opening
// the backing disk image on the other) runs concurrently via
// errgroup.Group, collapsing either failure into one boot error.
//
// Boot may only be called once per process: a second call panics,
// since re-running it would re-seed vm's package-level physical-memory
// singleton out from under whatever already holds references into it.
func Boot(imagePath string, ncpu int) (*Kernel_t, error) {
	var k *Kernel_t
	var bootErr error
	bootOnce.Do(func() {
		k, bootErr = boot(imagePath, ncpu)
	})
	if k == nil && bootErr == nil {
		panic("kernel: Boot called more than once")
	}
	return k, bootErr
}

func boot(imagePath string, ncpu int) (*Kernel_t, error) {
	var trampolinePa vm.Pa_t
	var disk *virtio.FileDisk_t

	var g errgroup.Group
	g.Go(func() error {
		h := &bootHart{}
		vm.Init(h, defaultNFrames)
		pa, ok := vm.Kalloc(h)
		if !ok {
			return errors.New("kernel: out of memory allocating the trampoline frame")
		}
		vm.KvmInit(h, pa)
		trampolinePa = pa
		return nil
	})
	g.Go(func() error {
		d, err := virtio.Open(imagePath)
		if err != nil {
			return err
		}
		disk = d
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	h := &bootHart{}
	cache := bio.MkCache(disk)
	fsys, ok := fs.MkFs(h, cache, 0)
	if !ok {
		disk.Close()
		return nil, errors.New("kernel: superblock magic mismatch, run mkfs first")
	}

	table := proc.MkTable(ncpu)
	table.SetTrampoline(trampolinePa)

	if err := console.Get().SetRawMode(true); err != nil {
		// Not fatal: mkfs-built test images and CI runs have no
		// attached tty, and the console falls back to line-buffered
		// reads either way.
		_ = err
	}

	harts := make([]*cpu.Cpu_t, ncpu)
	for i := range harts {
		harts[i] = cpu.New(int64(i))
	}

	k := &Kernel_t{
		Table:    table,
		Fs:       fsys,
		Syscalls: &syscall6.Kernel_t{Table: table, Fs: fsys},
		Disk:     disk,
		NCpu:     ncpu,
		harts:    harts,
	}
	return k, nil
}

// tickPeriod is the hosted stand-in for the machine timer's interrupt
// interval.
const tickPeriod = 10 * time.Millisecond

// StartHarts launches every hart's scheduler loop as its own
// goroutine, plus the timer that stands in for hart 0's machine timer
// interrupt, and returns immediately; SchedulerLoop never returns, so
// there is nothing further to join on besides the processes it
// eventually runs to completion.
func (k *Kernel_t) StartHarts() {
	for _, c := range k.harts {
		go k.Table.SchedulerLoop(c)
	}
	// The timer runs as its own pseudo-hart (id NCpu, past every real
	// one) so its lock acquisitions never impersonate a hart that is
	// concurrently inside the scheduler.
	timer := &bootHart{id: int64(k.NCpu)}
	go func() {
		for range time.Tick(tickPeriod) {
			k.Table.TimerTick(timer)
		}
	}()
}

// Hart returns the i'th hart record created at Boot, for callers (init
// process bring-up, tests) that need to Spawn onto a specific one.
func (k *Kernel_t) Hart(i int) *cpu.Cpu_t { return k.harts[i] }

var spawnSerial int64

// SpawnInit creates the first process (pid 1) running body, the
// hosted stand-in for the real kernel's "load /init off the root
// filesystem" step; the ELF loader itself is out of scope here.
func (k *Kernel_t) SpawnInit(body func(p *proc.Proc_t)) (*proc.Proc_t, error) {
	if atomic.AddInt64(&spawnSerial, 1) != 1 {
		panic("kernel: SpawnInit called more than once")
	}
	p, err := k.Table.Spawn(k.harts[0], "init", body)
	if err != 0 {
		return nil, errors.New("kernel: spawning init failed: out of process slots")
	}
	return p, nil
}
