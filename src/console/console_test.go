package console

import (
	"io"
	"os"
	"testing"
	"time"

	"cpu"
	"fdops"
	"lock"
	"proc"
	"vm"
)

type testHart struct{ id int64 }

func (h *testHart) ID() int64 { return h.id }
func (h *testHart) PushCli()  {}
func (h *testHart) PopCli()   {}

// mkTestTable boots just enough of proc/vm to install the scheduler
// lock.Condvar_t needs to block a real kernel thread, mirroring the
// syscall package's own mkTestKernel helper.
func mkTestTable(t *testing.T) (*proc.Table_t, *cpu.Cpu_t) {
	t.Helper()
	h := &testHart{}
	vm.Init(h, 4096)
	trampolinePa, ok := vm.Kalloc(h)
	if !ok {
		t.Fatalf("allocating trampoline frame")
	}
	vm.KvmInit(h, trampolinePa)

	table := proc.MkTable(1)
	table.SetTrampoline(trampolinePa)
	hart := cpu.New(0)
	go table.SchedulerLoop(hart)
	return table, hart
}

func TestReadBlocksUntilFeed(t *testing.T) {
	table, hart := mkTestTable(t)
	c := MkConsole()

	done := make(chan int, 1)
	body := func(p *proc.Proc_t) {
		fd := c.Open(p.Cpu())
		var buf [32]byte
		n, err := fd.Read(fdops.MkKerneliobuf(buf[:]))
		if err != 0 {
			done <- -1
			table.Exit(p, 1)
			return
		}
		if string(buf[:n]) != "hello\n" {
			done <- -1
			table.Exit(p, 1)
			return
		}
		done <- n
		table.Exit(p, 0)
	}
	if _, err := table.Spawn(hart, "reader", body); err != 0 {
		t.Fatalf("spawn: %v", err)
	}

	c.Feed(&testHart{}, []byte("hello\n"))

	select {
	case n := <-done:
		if n != len("hello\n") {
			t.Fatalf("expected 6 bytes read, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Feed to wake the blocked reader")
	}
}

func TestReadDrainsQueueInOrder(t *testing.T) {
	h := &testHart{}
	c := MkConsole()
	c.Feed(h, []byte("one\n"))
	c.Feed(h, []byte("two\n"))
	fd := c.Open(h)

	var buf [32]byte
	n, _ := fd.Read(fdops.MkKerneliobuf(buf[:]))
	if string(buf[:n]) != "one\n" {
		t.Fatalf("expected first queued line first, got %q", buf[:n])
	}
	n, _ = fd.Read(fdops.MkKerneliobuf(buf[:]))
	if string(buf[:n]) != "two\n" {
		t.Fatalf("expected second queued line second, got %q", buf[:n])
	}
}

func TestWriteGoesToStdout(t *testing.T) {
	h := &testHart{}
	c := MkConsole()
	fd := c.Open(h)

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	saved := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = saved }()

	n, errt := fd.Write(fdops.MkKerneliobuf([]byte("ok\n")))
	w.Close()
	if errt != 0 {
		t.Fatalf("unexpected write error: %v", errt)
	}
	if n != 3 {
		t.Fatalf("expected 3 bytes written, got %d", n)
	}

	got, _ := io.ReadAll(r)
	if string(got) != "ok\n" {
		t.Fatalf("expected console write to reach stdout as %q, got %q", "ok\n", got)
	}
}

func TestLseekIsNotSeekable(t *testing.T) {
	h := &testHart{}
	c := MkConsole()
	fd := c.Open(h)
	if _, err := fd.Lseek(0, 0); err == 0 {
		t.Fatalf("expected the console device to reject seeks")
	}
}

var _ lock.HartLocal = (*testHart)(nil)
