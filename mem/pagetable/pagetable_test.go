package pagetable

import (
	"testing"

	"rvos/addr"
	"rvos/mem/pmm"
)

func newTestAllocator() *pmm.Allocator {
	return pmm.NewAllocator(0, 64)
}

func TestMapTranslateUnmap(t *testing.T) {
	a := newTestAllocator()
	tbl := New(a)

	vpn := addr.VirtPageNum(0x2_0001)
	frame, ok := a.Alloc()
	if !ok {
		t.Fatal("expected frame alloc to succeed")
	}
	tbl.Map(vpn, frame.PPN(), R|W|U)

	pte, ok := tbl.Translate(vpn)
	if !ok {
		t.Fatal("expected translate to find the leaf")
	}
	if !pte.Valid() || !pte.Readable() || !pte.Writable() || pte.Executable() {
		t.Fatalf("unexpected flags: %#x", pte.Flags())
	}
	if pte.PPN() != frame.PPN() {
		t.Fatalf("PPN mismatch: got %#x want %#x", pte.PPN(), frame.PPN())
	}

	tbl.Unmap(vpn)
	pte, ok = tbl.Translate(vpn)
	if !ok {
		t.Fatal("expected translate to still find the (now invalid) leaf")
	}
	if pte.Valid() {
		t.Fatal("expected leaf to be invalid after unmap")
	}
}

func TestTranslateUnmappedIntermediateMissing(t *testing.T) {
	a := newTestAllocator()
	tbl := New(a)
	_, ok := tbl.Translate(addr.VirtPageNum(0x1_0000))
	if ok {
		t.Fatal("expected translate to fail when intermediate tables were never created")
	}
}

func TestMapAlreadyMappedPanics(t *testing.T) {
	a := newTestAllocator()
	tbl := New(a)
	vpn := addr.VirtPageNum(5)
	frame, _ := a.Alloc()
	tbl.Map(vpn, frame.PPN(), R)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic remapping an already-valid leaf")
		}
	}()
	other, _ := a.Alloc()
	tbl.Map(vpn, other.PPN(), R)
}

func TestUnmapNeverMappedPanics(t *testing.T) {
	a := newTestAllocator()
	tbl := New(a)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic unmapping a vpn with no intermediate tables")
		}
	}()
	tbl.Unmap(addr.VirtPageNum(0x3_0000))
}

func TestTokenRoundTripViaFromToken(t *testing.T) {
	a := newTestAllocator()
	tbl := New(a)
	vpn := addr.VirtPageNum(7)
	frame, _ := a.Alloc()
	tbl.Map(vpn, frame.PPN(), R|X)

	view := FromToken(a, tbl.Token())
	pte, ok := view.Translate(vpn)
	if !ok {
		t.Fatal("expected view to translate the same mapping")
	}
	if pte.PPN() != frame.PPN() || !pte.Readable() || !pte.Executable() {
		t.Fatal("view translated to the wrong PTE")
	}
}

func TestFromTokenViewCannotAllocate(t *testing.T) {
	a := newTestAllocator()
	view := FromToken(a, satpModeSv39|uint64(0))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when a read-only view needs to allocate an intermediate table")
		}
	}()
	view.FindOrCreate(addr.VirtPageNum(0x1_0000))
}

func TestDestroyFreesOwnedFrames(t *testing.T) {
	a := newTestAllocator()
	tbl := New(a)
	// Force allocation of intermediate tables for two distinct L1 entries
	// (both VPNs share L2 index 0).
	frame1, _ := a.Alloc()
	tbl.Map(addr.VirtPageNum(0x1_0000), frame1.PPN(), R)
	frame2, _ := a.Alloc()
	tbl.Map(addr.VirtPageNum(0x2_0000), frame2.PPN(), R)

	before := a.RAM() // sanity that allocator still usable
	_ = before
	tbl.Destroy()

	// All of the table's own frames (root + intermediates) should now be
	// back in the recycled pool and reusable.
	reused := map[addr.PhysPageNum]bool{}
	for i := 0; i < 6; i++ {
		f, ok := a.Alloc()
		if !ok {
			break
		}
		reused[f.PPN()] = true
	}
	if len(reused) == 0 {
		t.Fatal("expected destroyed table's frames to be recycled")
	}
}

func TestDestroyReadOnlyViewPanics(t *testing.T) {
	a := newTestAllocator()
	view := FromToken(a, satpModeSv39)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic destroying a read-only view")
		}
	}()
	view.Destroy()
}
