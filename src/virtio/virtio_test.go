package virtio

import (
	"path/filepath"
	"testing"

	"bio"
)

type testHart struct{ id int64 }

func (h *testHart) ID() int64 { return h.id }
func (h *testHart) PushCli()  {}
func (h *testHart) PopCli()   {}

func TestWriteThenReadRoundTrips(t *testing.T) {
	h := &testHart{}
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	b := &bio.Buf_t{Dev: 0, Blockno: 3}
	b.Data[0] = 0xAB
	d.Rw(h, b, true)

	readBack := &bio.Buf_t{Dev: 0, Blockno: 3}
	d.Rw(h, readBack, false)
	if readBack.Data[0] != 0xAB {
		t.Fatalf("expected written byte to round-trip, got %#x", readBack.Data[0])
	}
}

func TestReadPastEOFReturnsZeros(t *testing.T) {
	h := &testHart{}
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	b := &bio.Buf_t{Dev: 0, Blockno: 100}
	b.Data[0] = 0xFF // poison, to prove Rw actually zeroes it
	d.Rw(h, b, false)
	for i, by := range b.Data {
		if by != 0 {
			t.Fatalf("expected a read past EOF to zero-fill, byte %d was %#x", i, by)
		}
	}
}

func TestOpenTakesExclusiveLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	d1, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	defer d1.Close()

	if _, err := Open(path); err == nil {
		t.Fatalf("expected a second Open of the same image to fail on the advisory lock")
	}
}
