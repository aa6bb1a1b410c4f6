package vm

import (
	"testing"

	"lock"
)

type testHart struct{ id int64 }

func (h *testHart) ID() int64 { return h.id }
func (h *testHart) PushCli()  {}
func (h *testHart) PopCli()   {}

// TestKallocKfreeRoundtrip exercises the frame allocator: a freed
// frame must be reusable, and a fresh allocation always comes back
// zeroed even after being scribbled on by a previous owner.
func TestKallocKfreeRoundtrip(t *testing.T) {
	h := &testHart{}
	Init(h, 4)

	pa, ok := Kalloc(h)
	if !ok {
		t.Fatalf("expected a free frame")
	}
	page := Dmap(pa)
	for i := range page {
		page[i] = 0xff
	}
	Kfree(h, pa)

	pa2, ok := Kalloc(h)
	if !ok {
		t.Fatalf("expected the freed frame to be reusable")
	}
	page2 := Dmap(pa2)
	for i, b := range page2 {
		if b != 0 {
			t.Fatalf("expected reallocated frame to be zeroed, byte %d was %#x", i, b)
		}
	}
}

// TestKallocExhaustion confirms allocation fails once every seeded
// frame is handed out and none are returned, with no reclaimer
// listening on oommsg.OomCh in this test.
func TestKallocExhaustion(t *testing.T) {
	h := &testHart{}
	Init(h, 2)

	if _, ok := Kalloc(h); !ok {
		t.Fatalf("expected first allocation to succeed")
	}
	if _, ok := Kalloc(h); !ok {
		t.Fatalf("expected second allocation to succeed")
	}
	if _, ok := Kalloc(h); ok {
		t.Fatalf("expected third allocation to fail with no frames left")
	}
}

func mkTestAs(t *testing.T, h lock.HartLocal) *Vm_t {
	t.Helper()
	trampolinePa, ok := Kalloc(h)
	if !ok {
		t.Fatalf("allocating trampoline frame")
	}
	trapframePa, ok := Kalloc(h)
	if !ok {
		t.Fatalf("allocating trapframe frame")
	}
	as, ok := UvmCreate(h, trampolinePa, trapframePa)
	if !ok {
		t.Fatalf("UvmCreate failed")
	}
	return as
}

// TestUvmGrowAndCopy exercises the Grow/Copy/Free triple: a grown
// address space's pages survive a fork-style copy into a second
// address space with independent backing frames.
func TestUvmGrowAndCopy(t *testing.T) {
	h := &testHart{}
	Init(h, 64)
	trampolinePa, ok := Kalloc(h)
	if !ok {
		t.Fatalf("allocating kernel trampoline frame")
	}
	KvmInit(h, trampolinePa)

	parent := mkTestAs(t, h)
	old, err := UvmGrow(h, parent, 2*PGSIZE)
	if err != 0 {
		t.Fatalf("Grow: %v", err)
	}
	if old != 0 {
		t.Fatalf("expected old size 0, got %d", old)
	}

	Dmap(pteFramePa(t, h, parent, 0))[0] = 0x42

	childTrampolinePa, ok := Kalloc(h)
	if !ok {
		t.Fatalf("allocating child trampoline frame")
	}
	childTrapframePa, ok := Kalloc(h)
	if !ok {
		t.Fatalf("allocating child trapframe frame")
	}
	child, ok := UvmCreate(h, childTrampolinePa, childTrapframePa)
	if !ok {
		t.Fatalf("UvmCreate for child failed")
	}
	if !UvmCopy(h, parent, child) {
		t.Fatalf("UvmCopy failed")
	}
	if child.Sz != parent.Sz {
		t.Fatalf("expected child size %d to match parent, got %d", parent.Sz, child.Sz)
	}

	childByte := Dmap(pteFramePa(t, h, child, 0))[0]
	if childByte != 0x42 {
		t.Fatalf("expected copied page to carry parent's byte, got %#x", childByte)
	}

	// Mutating the parent's page must not be visible through the
	// child: Copy clones frames, it does not share them.
	Dmap(pteFramePa(t, h, parent, 0))[0] = 0x99
	if Dmap(pteFramePa(t, h, child, 0))[0] != 0x42 {
		t.Fatalf("child's copied page must be independent of the parent's")
	}

	UvmFree(h, child)
	UvmFree(h, parent)
}

func pteFramePa(t *testing.T, h lock.HartLocal, as *Vm_t, va int) Pa_t {
	t.Helper()
	pte, ok := Walk(h, as.Pagetable, va, false)
	if !ok || *pte&PTE_V == 0 {
		t.Fatalf("expected a valid mapping at va %d", va)
	}
	return pte2pa(*pte)
}
