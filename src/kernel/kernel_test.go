package kernel

import (
	"path/filepath"
	"testing"
	"time"

	"bio"
	"defs"
	"fd"
	"fdops"
	"fs"
	"limits"
	"proc"
	"ustr"
	"virtio"
)

// formatImage lays out an empty but valid filesystem at path,
// mirroring mkfs's own layout math and syscall_test's mkTestKernel
// helper, so Boot's fs.MkFs magic check succeeds.
func formatImage(t *testing.T, path string) {
	t.Helper()
	disk, err := virtio.Open(path)
	if err != nil {
		t.Fatalf("formatting image: %v", err)
	}
	defer disk.Close()

	h := &bootHart{}
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
		t.Fatalf("formatImage: MkFs failed to read back the superblock it just wrote")
	}
	fsys.BeginOp(h)
	root, rerr := fsys.Create(h, ustr.MkUstrRoot(), defs.I_DIR, 0, 0)
	if rerr != 0 {
		t.Fatalf("formatImage: creating root: %v", rerr)
	}
	root.Unlock(h)
	fsys.EndOp(h)
}

// TestBootSpawnInitRunsASyscall exercises the boot sequence end to
// end: format an image, Boot over it, spawn an init process,
// and drive one open/write/read/close sequence through the syscall
// dispatcher it wires up. Boot installs package-level singletons
// (vm's physical memory pool, the sync.Once boot guard) exactly once
// per process, so every Boot-dependent assertion in this package lives
// in this one test function.
func TestBootSpawnInitRunsASyscall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	formatImage(t, path)

	k, err := Boot(path, 1)
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Disk.Close()
	if k.Fs == nil || k.Table == nil || k.Syscalls == nil {
		t.Fatalf("Boot returned an incompletely wired Kernel_t: %+v", k)
	}
	if k.Hart(0) == nil {
		t.Fatalf("expected hart 0 to be available after Boot")
	}

	k.StartHarts()

	done := make(chan error, 1)
	body := func(p *proc.Proc_t) {
		rootIp, rerr := k.Fs.Namei(p, ustr.MkUstrRoot())
		if rerr != 0 {
			done <- rerr
			k.Table.Exit(p, 1)
			return
		}
		rootIp.Unlock(p)
		p.Cwd = fd.MkRootCwd(&fd.Fd_t{Fops: k.Fs.OpenFile(p, rootIp, false), Perms: fd.FD_READ})

		fi := k.Syscalls.Open(p, []byte("/greeting"), defs.O_CREAT|defs.O_RDWR)
		if fi < 0 {
			done <- errBoot("open")
			k.Table.Exit(p, 1)
			return
		}
		payload := []byte("booted\n")
		if n := k.Syscalls.Write(p, fi, fdops.MkKerneliobuf(payload)); n != len(payload) {
			done <- errBoot("write")
			k.Table.Exit(p, 1)
			return
		}
		k.Syscalls.Close(p, fi)
		done <- nil
		k.Table.Exit(p, 0)
	}

	if _, serr := k.SpawnInit(body); serr != nil {
		t.Fatalf("SpawnInit: %v", serr)
	}

	select {
	case rerr := <-done:
		if rerr != nil {
			t.Fatalf("post-boot syscall sequence failed: %v", rerr)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the init process to finish")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected a second SpawnInit to panic, since pid 1 must be unique")
			}
		}()
		k.SpawnInit(func(*proc.Proc_t) {})
	}()
}

type bootErr string

func (e bootErr) Error() string { return string(e) }

func errBoot(op string) error { return bootErr(op) }
