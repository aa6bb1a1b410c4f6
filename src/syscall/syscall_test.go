package syscall6

import (
	"encoding/binary"
	"sync/atomic"
	"testing"
	"time"

	"bio"
	"cpu"
	"defs"
	"fd"
	"fdops"
	"fs"
	"limits"
	"lock"
	"proc"
	"stat"
	"ustr"
	"vm"
)

type testHart struct{ id int64 }

func (h *testHart) ID() int64    { return h.id }
func (h *testHart) PushCli()     {}
func (h *testHart) PopCli()      {}
func (h *testHart) Killed() bool { return false }

type memDisk struct{ blocks map[int][limits.BSIZE]byte }

func (d *memDisk) Rw(h lock.HartLocal, b *bio.Buf_t, write bool) {
	if write {
		d.blocks[b.Blockno] = b.Data
		return
	}
	if blk, ok := d.blocks[b.Blockno]; ok {
		b.Data = blk
	}
}

// mkTestKernel builds a minimal booted Kernel_t and process table over
// an in-memory disk, small enough for one test's worth of file
// operations; mirrors mkfs's own layout math.
func mkTestKernel(t *testing.T) (*Kernel_t, *proc.Table_t, []*cpu.Cpu_t) {
	t.Helper()
	h := &testHart{}

	vm.Init(h, 4096)
	trampolinePa, ok := vm.Kalloc(h)
	if !ok {
		t.Fatalf("allocating trampoline frame")
	}
	vm.KvmInit(h, trampolinePa)

	disk := &memDisk{blocks: map[int][limits.BSIZE]byte{}}
	cache := bio.MkCache(disk)

	const (
		ninodes  = 50
		ndatablk = 200
		nlog     = 10
	)
	ipb := uint32(limits.BSIZE / 64)
	inodeblks := (uint32(ninodes) + ipb - 1) / ipb
	bmapblks := (uint32(ndatablk) + limits.BSIZE*8 - 1) / (limits.BSIZE * 8)
	logstart := uint32(2)
	inodestart := logstart + nlog
	bmapstart := inodestart + inodeblks
	datastart := bmapstart + bmapblks
	size := datastart + ndatablk

	sb := &fs.Superblock_t{
		Magic:      0x10203040,
		Size:       size,
		Nblocks:    ndatablk,
		Ninodes:    ninodes,
		Nlog:       nlog,
		Logstart:   logstart,
		Inodestart: inodestart,
		Bmapstart:  bmapstart,
	}
	fs.WriteSuper(h, cache, 0, sb)

	zero := make([]byte, limits.BSIZE)
	for bn := logstart; bn < size; bn++ {
		b := cache.Get(h, 0, int(bn))
		copy(b.Data[:], zero)
		cache.Write(h, b)
		cache.Release(h, b)
	}

	fsys, ok := fs.MkFs(h, cache, 0)
	if !ok {
		t.Fatalf("MkFs: superblock failed to read back")
	}

	fsys.BeginOp(h)
	root, err := fsys.Create(h, ustr.MkUstrRoot(), defs.I_DIR, 0, 0)
	if err != 0 {
		t.Fatalf("creating root: %v", err)
	}
	root.Unlock(h)
	fsys.EndOp(h)

	table := proc.MkTable(1)
	table.SetTrampoline(trampolinePa)
	harts := []*cpu.Cpu_t{cpu.New(0)}
	go table.SchedulerLoop(harts[0])

	k := &Kernel_t{Table: table, Fs: fsys}

	// Spawn needs to install each process's cwd itself, so the root
	// directory is reopened per-process inside the spawned body rather
	// than here (OpenFile needs a circbuf.Caller_i, which only a live
	// *proc.Proc_t satisfies).
	_ = root
	return k, table, harts
}

// TestOpenCreateWriteReadFstat exercises the open/write/read/fstat/
// close path end to end against a freshly mounted filesystem, from
// inside a single spawned process's body.
func TestOpenCreateWriteReadFstat(t *testing.T) {
	k, table, harts := mkTestKernel(t)
	done := make(chan error, 1)

	body := func(p *proc.Proc_t) {
		rootIp, err := k.Fs.Namei(p, ustr.MkUstrRoot())
		if err != 0 {
			done <- err
			table.Exit(p, 1)
			return
		}
		rootIp.Unlock(p)
		p.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: k.Fs.OpenFile(p, rootIp, false), Perms: fd.FD_READ})

		fi := k.Open(p, []byte("/greeting"), defs.O_CREAT|defs.O_RDWR)
		if fi < 0 {
			done <- errBadResult("open", fi)
			table.Exit(p, 1)
			return
		}

		payload := []byte("hi from a syscall")
		buf := fdops.MkKerneliobuf(payload)
		if n := k.Write(p, fi, buf); n != len(payload) {
			done <- errBadResult("write", n)
			table.Exit(p, 1)
			return
		}
		if n := k.Close(p, fi); n != 0 {
			done <- errBadResult("close", n)
			table.Exit(p, 1)
			return
		}

		// Reopen to read from offset 0, exercising the read-only path
		// and fstat's size field together.
		rfi := k.Open(p, []byte("/greeting"), defs.O_RDONLY)
		if rfi < 0 {
			done <- errBadResult("reopen", rfi)
			table.Exit(p, 1)
			return
		}

		var st stat.Stat_t
		if n := k.Fstat(p, rfi, &st); n != 0 {
			done <- errBadResult("fstat", n)
			table.Exit(p, 1)
			return
		}

		out := make([]byte, len(payload))
		rbuf := fdops.MkKerneliobuf(out)
		if n := k.Read(p, rfi, rbuf); n != len(payload) {
			done <- errBadResult("read", n)
			table.Exit(p, 1)
			return
		}
		if string(out) != string(payload) {
			done <- errBadResult("content-mismatch", -1)
			table.Exit(p, 1)
			return
		}

		k.Close(p, rfi)
		done <- nil
		table.Exit(p, 0)
	}

	if _, serr := table.Spawn(harts[0], "test", body); serr != 0 {
		t.Fatalf("spawn: %v", serr)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("syscall sequence failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

// TestPipeReadWrite exercises pipe/read/write/close, independent of
// the filesystem entirely.
func TestPipeReadWrite(t *testing.T) {
	k, table, harts := mkTestKernel(t)
	done := make(chan error, 1)

	body := func(p *proc.Proc_t) {
		rfd, wfd, errno := k.Pipe(p)
		if errno != 0 {
			done <- errBadResult("pipe", errno)
			table.Exit(p, 1)
			return
		}

		msg := []byte("ping")
		wbuf := fdops.MkKerneliobuf(msg)
		if n := k.Write(p, wfd, wbuf); n != len(msg) {
			done <- errBadResult("write", n)
			table.Exit(p, 1)
			return
		}

		out := make([]byte, len(msg))
		rbuf := fdops.MkKerneliobuf(out)
		if n := k.Read(p, rfd, rbuf); n != len(msg) {
			done <- errBadResult("read", n)
			table.Exit(p, 1)
			return
		}
		if string(out) != string(msg) {
			done <- errBadResult("content-mismatch", -1)
			table.Exit(p, 1)
			return
		}

		k.Close(p, rfd)
		k.Close(p, wfd)
		done <- nil
		table.Exit(p, 0)
	}

	if _, serr := table.Spawn(harts[0], "pipetest", body); serr != 0 {
		t.Fatalf("spawn: %v", serr)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pipe sequence failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

type resultErr struct {
	op string
	n  int
}

func (e resultErr) Error() string { return e.op }

func errBadResult(op string, n int) error { return resultErr{op: op, n: n} }

// setRootCwd gives a test-body process a cwd of the root directory,
// the same bring-up the other bodies here do inline.
func setRootCwd(k *Kernel_t, p *proc.Proc_t) defs.Err_t {
	rootIp, err := k.Fs.Namei(p, ustr.MkUstrRoot())
	if err != 0 {
		return err
	}
	rootIp.Unlock(p)
	p.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: k.Fs.OpenFile(p, rootIp, false), Perms: fd.FD_READ})
	return 0
}

// TestExecArgvLayout writes a program image to the filesystem, execs
// it with two arguments, and then reads the rebuilt address space
// back: the image bytes at VA 0, the 16-byte-aligned argument strings
// at the stack top, and the (ptr, len) pair array terminated by
// (0, 0) that a1 points at.
func TestExecArgvLayout(t *testing.T) {
	k, table, harts := mkTestKernel(t)
	done := make(chan error, 1)

	image := make([]byte, 300)
	for i := range image {
		image[i] = byte(i)
	}
	argv := [][]byte{[]byte("prog"), []byte("hello world")}

	body := func(p *proc.Proc_t) {
		if err := setRootCwd(k, p); err != 0 {
			done <- err
			table.Exit(p, 1)
			return
		}
		fi := k.Open(p, []byte("/prog"), defs.O_CREAT|defs.O_RDWR)
		if fi < 0 {
			done <- errBadResult("open", fi)
			table.Exit(p, 1)
			return
		}
		if n := k.Write(p, fi, fdops.MkKerneliobuf(image)); n != len(image) {
			done <- errBadResult("write", n)
			table.Exit(p, 1)
			return
		}
		k.Close(p, fi)

		argc := k.Exec(p, []byte("/prog"), argv)
		if argc != len(argv) {
			done <- errBadResult("exec", argc)
			table.Exit(p, 1)
			return
		}
		if p.Name() != "prog" {
			done <- errBadResult("name", -1)
			table.Exit(p, 1)
			return
		}

		// Image loaded at VA 0.
		got := make([]byte, len(image))
		if err := vm.Copyin(p, p.Vm.Pagetable, got, 0); err != 0 {
			done <- err
			table.Exit(p, 1)
			return
		}
		if string(got) != string(image) {
			done <- errBadResult("image-mismatch", -1)
			table.Exit(p, 1)
			return
		}

		// Pair array at a1: (ptr, len) per argument, then (0, 0).
		argp := p.A1()
		if argp%16 != 0 {
			done <- errBadResult("argp-align", argp)
			table.Exit(p, 1)
			return
		}
		pairs := make([]byte, (len(argv)+1)*16)
		if err := vm.Copyin(p, p.Vm.Pagetable, pairs, argp); err != 0 {
			done <- err
			table.Exit(p, 1)
			return
		}
		for i, want := range argv {
			ptr := int(binary.LittleEndian.Uint64(pairs[i*16:]))
			slen := int(binary.LittleEndian.Uint64(pairs[i*16+8:]))
			if ptr%16 != 0 || slen != len(want) {
				done <- errBadResult("pair", i)
				table.Exit(p, 1)
				return
			}
			s := make([]byte, slen+1)
			if err := vm.Copyin(p, p.Vm.Pagetable, s, ptr); err != 0 {
				done <- err
				table.Exit(p, 1)
				return
			}
			if string(s[:slen]) != string(want) || s[slen] != 0 {
				done <- errBadResult("argstr", i)
				table.Exit(p, 1)
				return
			}
		}
		if binary.LittleEndian.Uint64(pairs[len(argv)*16:]) != 0 ||
			binary.LittleEndian.Uint64(pairs[len(argv)*16+8:]) != 0 {
			done <- errBadResult("terminator", -1)
			table.Exit(p, 1)
			return
		}
		done <- nil
		table.Exit(p, 0)
	}

	if _, serr := table.Spawn(harts[0], "test", body); serr != 0 {
		t.Fatalf("spawn: %v", serr)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("exec layout check failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}

// TestForkSleepWait is the fork/sleep/wait lifecycle in one piece: the
// child sleeps 10 ticks and exits with code 7; the parent waits and
// must observe the child's pid, exit status 7, and an elapsed tick
// count of at least 10.
func TestForkSleepWait(t *testing.T) {
	k, table, harts := mkTestKernel(t)
	done := make(chan error, 1)

	var forked int32
	body := func(p *proc.Proc_t) {
		if atomic.CompareAndSwapInt32(&forked, 0, 1) {
			t0 := k.Uptime(p)
			childPid := k.Fork(p.Cpu(), p)
			if childPid <= 0 {
				done <- errBadResult("fork", childPid)
				table.Exit(p, 1)
				return
			}
			var xstate int
			gotPid := k.Wait(p, &xstate)
			if gotPid != childPid {
				done <- errBadResult("wait-pid", gotPid)
				table.Exit(p, 1)
				return
			}
			if xstate != 7 {
				done <- errBadResult("xstate", xstate)
				table.Exit(p, 1)
				return
			}
			if elapsed := k.Uptime(p) - t0; elapsed < 10 {
				done <- errBadResult("elapsed", elapsed)
				table.Exit(p, 1)
				return
			}
			done <- nil
			table.Exit(p, 0)
			return
		}
		k.Sleep(p, 10)
		k.Exit(p, 7)
	}

	if _, serr := table.Spawn(harts[0], "root", body); serr != 0 {
		t.Fatalf("spawn: %v", serr)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		timer := &testHart{id: 99}
		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
				table.TimerTick(timer)
			}
		}
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("fork/sleep/wait failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")
	}
}

// TestPipeBackpressure runs the classic full-pipe handoff across a
// fork: the child writes 600 bytes into a 512-byte pipe (blocking once
// it fills), the parent drains it in chunks, and all 600 bytes must
// arrive intact and in order.
func TestPipeBackpressure(t *testing.T) {
	k, table, harts := mkTestKernel(t)
	done := make(chan error, 1)

	payload := make([]byte, 600)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	var forked int32
	var rfd, wfd int
	body := func(p *proc.Proc_t) {
		if atomic.CompareAndSwapInt32(&forked, 0, 1) {
			var errno int
			rfd, wfd, errno = k.Pipe(p)
			if errno != 0 {
				done <- errBadResult("pipe", errno)
				table.Exit(p, 1)
				return
			}
			if pid := k.Fork(p.Cpu(), p); pid <= 0 {
				done <- errBadResult("fork", pid)
				table.Exit(p, 1)
				return
			}
			// The writer cannot finish until this side drains: read
			// in 100-byte chunks so the child observes a full pipe at
			// least once.
			got := make([]byte, 0, len(payload))
			for len(got) < len(payload) {
				chunk := make([]byte, 100)
				n := k.Read(p, rfd, fdops.MkKerneliobuf(chunk))
				if n <= 0 {
					done <- errBadResult("read", n)
					table.Exit(p, 1)
					return
				}
				got = append(got, chunk[:n]...)
			}
			if string(got) != string(payload) {
				done <- errBadResult("payload-mismatch", len(got))
				table.Exit(p, 1)
				return
			}
			var xstate int
			if pid := k.Wait(p, &xstate); pid <= 0 || xstate != 0 {
				done <- errBadResult("wait", xstate)
				table.Exit(p, 1)
				return
			}
			done <- nil
			table.Exit(p, 0)
			return
		}
		// Child: write all 600 bytes, blocking as needed, then exit.
		if n := k.Write(p, wfd, fdops.MkKerneliobuf(payload)); n != len(payload) {
			k.Exit(p, 1)
		}
		k.Exit(p, 0)
	}

	if _, serr := table.Spawn(harts[0], "piper", body); serr != 0 {
		t.Fatalf("spawn: %v", serr)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("pipe backpressure failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out")
	}
}

// TestMkdirChdirOpenRelative checks relative path resolution: after
// mkdir("/a"), mkdir("/a/b") and chdir("/a"), opening "b" read-only
// succeeds and fstat reports a directory.
func TestMkdirChdirOpenRelative(t *testing.T) {
	k, table, harts := mkTestKernel(t)
	done := make(chan error, 1)

	body := func(p *proc.Proc_t) {
		if err := setRootCwd(k, p); err != 0 {
			done <- err
			table.Exit(p, 1)
			return
		}
		if n := k.Mkdir(p, []byte("/a")); n != 0 {
			done <- errBadResult("mkdir /a", n)
			table.Exit(p, 1)
			return
		}
		if n := k.Mkdir(p, []byte("/a/b")); n != 0 {
			done <- errBadResult("mkdir /a/b", n)
			table.Exit(p, 1)
			return
		}
		if n := k.Chdir(p, []byte("/a")); n != 0 {
			done <- errBadResult("chdir", n)
			table.Exit(p, 1)
			return
		}
		fi := k.Open(p, []byte("b"), defs.O_RDONLY)
		if fi < 0 {
			done <- errBadResult("open b", fi)
			table.Exit(p, 1)
			return
		}
		var st stat.Stat_t
		if n := k.Fstat(p, fi, &st); n != 0 {
			done <- errBadResult("fstat", n)
			table.Exit(p, 1)
			return
		}
		if defs.Itype_t(st.Mode()) != defs.I_DIR {
			done <- errBadResult("not-a-dir", int(st.Mode()))
			table.Exit(p, 1)
			return
		}
		k.Close(p, fi)
		done <- nil
		table.Exit(p, 0)
	}

	if _, serr := table.Spawn(harts[0], "walker", body); serr != 0 {
		t.Fatalf("spawn: %v", serr)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("relative open failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out")
	}
}
