package mm

import (
	"errors"
	"math/rand"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(DefaultLayout())
	if err != nil {
		t.Fatalf("New() err = %v", err)
	}
	return m
}

func TestNewRejectsBadLayout(t *testing.T) {
	l := DefaultLayout()
	l.HeapTop = l.HeapBase
	if _, err := New(l); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("New() err = %v, want ErrInvalidLayout", err)
	}
	l = DefaultLayout()
	l.HeapTop += 3
	if _, err := New(l); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("New() err = %v, want ErrInvalidLayout", err)
	}
}

func TestAllocateRoundsToBlocks(t *testing.T) {
	m := newTestManager(t)
	var mask Mask

	addr, err := m.Allocate(1500, 7, &mask)
	if err != nil {
		t.Fatalf("Allocate() err = %v", err)
	}
	if addr != m.layout.HeapBase {
		t.Fatalf("Allocate() addr = %#x, want %#x", addr, m.layout.HeapBase)
	}
	if got := m.Owned(7); got != 2 {
		t.Fatalf("Owned() = %d, want 2", got)
	}
	runs := m.Runs()
	if len(runs) != 1 || runs[0].Blocks != 2 {
		t.Fatalf("Runs() = %+v, want one run of 2 blocks", runs)
	}
	// Heap starts 4 sub-regions above SRAM base.
	if mask != Mask(0b11<<4) {
		t.Fatalf("mask = %#x, want %#x", uint64(mask), uint64(0b11<<4))
	}
}

func TestAllocateBestFit(t *testing.T) {
	m := newTestManager(t)
	var a, b Mask

	// Build holes of 3 blocks and 1 block.
	x, _ := m.Allocate(3*1024, 1, &a)
	_, _ = m.Allocate(1024, 2, &b)
	y, _ := m.Allocate(1024, 1, &a)
	_, _ = m.Allocate(1024, 2, &b)
	m.Free(x, 1, &a)
	m.Free(y, 1, &a)

	got, err := m.Allocate(512, 3, new(Mask))
	if err != nil {
		t.Fatalf("Allocate() err = %v", err)
	}
	if got != y {
		t.Fatalf("Allocate() = %#x, want the 1-block hole at %#x", got, y)
	}

	got, err = m.Allocate(2048, 3, new(Mask))
	if err != nil {
		t.Fatalf("Allocate() err = %v", err)
	}
	if got != x {
		t.Fatalf("Allocate() = %#x, want the 3-block hole at %#x", got, x)
	}
}

func TestAllocateNeverPicksShortRun(t *testing.T) {
	m := newTestManager(t)
	var mask Mask
	for i := 0; i < m.Blocks(); i++ {
		if _, err := m.Allocate(1, Owner(i+1), &mask); err != nil {
			t.Fatalf("Allocate(%d) err = %v", i, err)
		}
	}
	// Free every other block: lots of 1-block holes, none of 2.
	for i := 0; i < m.Blocks(); i += 2 {
		m.Free(m.address(i), Owner(i+1), &mask)
	}
	if _, err := m.Allocate(2000, 99, &mask); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Allocate() err = %v, want ErrOutOfMemory", err)
	}
}

func TestAllocateOutOfMemory(t *testing.T) {
	m := newTestManager(t)
	var mask Mask
	if _, err := m.Allocate(uint32(m.Blocks()+1)*1024, 1, &mask); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Allocate() err = %v, want ErrOutOfMemory", err)
	}
	if _, err := m.Allocate(0, 1, &mask); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("Allocate(0) err = %v, want ErrInvalidSize", err)
	}
	if mask != NoAccess {
		t.Fatalf("mask = %#x after failed allocations, want 0", uint64(mask))
	}
}

func TestFreeRequiresOwner(t *testing.T) {
	m := newTestManager(t)
	var mask Mask
	addr, _ := m.Allocate(2048, 5, &mask)

	if m.Free(addr, 6, &mask) {
		t.Fatal("Free() by non-owner released memory")
	}
	if m.Free(addr+4, 5, &mask) {
		t.Fatal("Free() inside the head block released memory")
	}
	if m.Free(addr+1024, 5, &mask) {
		t.Fatal("Free() of a mid-run address released memory")
	}
	if m.OwnerOf(addr) != 5 {
		t.Fatalf("OwnerOf() = %d, want 5", m.OwnerOf(addr))
	}
	if !m.Free(addr, 5, &mask) {
		t.Fatal("Free() by owner = false")
	}
	if mask != NoAccess {
		t.Fatalf("mask = %#x after free, want 0", uint64(mask))
	}
	if m.InUse() != 0 {
		t.Fatalf("InUse() = %d, want 0", m.InUse())
	}
}

func TestFreeThenAllocateReturnsSameAddress(t *testing.T) {
	m := newTestManager(t)
	var mask Mask
	addr, _ := m.Allocate(4096, 1, &mask)
	m.Free(addr, 1, &mask)
	for _, size := range []uint32{4096, 3000, 1} {
		got, err := m.Allocate(size, 1, &mask)
		if err != nil {
			t.Fatalf("Allocate(%d) err = %v", size, err)
		}
		if got != addr {
			t.Fatalf("Allocate(%d) = %#x, want %#x", size, got, addr)
		}
		m.Free(got, 1, &mask)
	}
}

func TestReclaimAll(t *testing.T) {
	m := newTestManager(t)
	var a, b Mask
	for i := 0; i < 3; i++ {
		_, _ = m.Allocate(1024, 1, &a)
		_, _ = m.Allocate(2048, 2, &b)
	}
	if n := m.ReclaimAll(1, &a); n != 3 {
		t.Fatalf("ReclaimAll() = %d, want 3", n)
	}
	if m.Owned(1) != 0 {
		t.Fatalf("Owned(1) = %d, want 0", m.Owned(1))
	}
	if a != NoAccess {
		t.Fatalf("mask = %#x, want 0", uint64(a))
	}
	if m.Owned(2) != 6 {
		t.Fatalf("Owned(2) = %d, want 6", m.Owned(2))
	}
}

func TestOwnerOfOutsidePool(t *testing.T) {
	m := newTestManager(t)
	l := m.Layout()
	for _, addr := range []uint32{0, l.SRAMBase, l.HeapBase - 1, l.HeapTop, 0xFFFFFFFF} {
		if got := m.OwnerOf(addr); got != NoOwner {
			t.Fatalf("OwnerOf(%#x) = %d, want NoOwner", addr, got)
		}
	}
}

func TestRandomSequencesKeepTableConsistent(t *testing.T) {
	m := newTestManager(t)
	rng := rand.New(rand.NewSource(1))
	masks := map[Owner]*Mask{}
	live := map[uint32]Owner{}

	for step := 0; step < 2000; step++ {
		owner := Owner(rng.Intn(4) + 1)
		if masks[owner] == nil {
			masks[owner] = new(Mask)
		}
		if rng.Intn(2) == 0 || len(live) == 0 {
			addr, err := m.Allocate(uint32(rng.Intn(3000)+1), owner, masks[owner])
			if err == nil {
				live[addr] = owner
			}
			continue
		}
		for addr, o := range live {
			m.Free(addr, o, masks[o])
			delete(live, addr)
			break
		}

		// In-use blocks equal the union of outstanding runs.
		want := 0
		for _, r := range m.Runs() {
			if live[r.Addr] != r.Owner {
				t.Fatalf("step %d: run %+v not outstanding", step, r)
			}
			want += r.Blocks
		}
		if got := m.InUse(); got != want {
			t.Fatalf("step %d: InUse() = %d, want %d", step, got, want)
		}
		if len(m.Runs()) != len(live) {
			t.Fatalf("step %d: %d runs, %d outstanding", step, len(m.Runs()), len(live))
		}
	}
}
