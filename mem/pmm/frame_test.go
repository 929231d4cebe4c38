package pmm

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"
)

func TestAllocReusesRecycledFrameAndZeroes(t *testing.T) {
	a := NewAllocator(100, 104)
	f1, ok := a.Alloc()
	if !ok {
		t.Fatal("expected alloc to succeed")
	}
	page := a.RAM().Page(f1.PPN())
	page[0] = 0xff // dirty the page
	f1.Free()

	f2, ok := a.Alloc()
	if !ok {
		t.Fatal("expected second alloc to succeed")
	}
	if f2.PPN() != f1.PPN() {
		t.Fatalf("expected recycled frame to be reused, got %#x want %#x", f2.PPN(), f1.PPN())
	}
	if a.RAM().Page(f2.PPN())[0] != 0 {
		t.Fatal("recycled frame was not re-zeroed on alloc")
	}
}

func TestAllocExhaustion(t *testing.T) {
	a := NewAllocator(0, 2)
	if _, ok := a.Alloc(); !ok {
		t.Fatal("expected first alloc to succeed")
	}
	if _, ok := a.Alloc(); !ok {
		t.Fatal("expected second alloc to succeed")
	}
	if _, ok := a.Alloc(); ok {
		t.Fatal("expected exhaustion on third alloc")
	}
}

func TestDoubleFreeDetected(t *testing.T) {
	a := NewAllocator(0, 4)
	f, _ := a.Alloc()
	f.Free()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double free")
		}
	}()
	f.Free()
}

func TestDeallocOfNeverAllocatedPanics(t *testing.T) {
	a := NewAllocator(0, 4)
	_, _ = a.Alloc()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic deallocating an unallocated ppn")
		}
	}()
	a.dealloc(3)
}

func TestAllocProfileRoundTripsThroughPprof(t *testing.T) {
	a := NewAllocator(0, 4)
	f1, _ := a.Alloc()
	f1.Free()
	_, _ = a.Alloc()

	var buf bytes.Buffer
	if err := a.Alloc_profile(&buf); err != nil {
		t.Fatalf("Alloc_profile: %v", err)
	}

	p, err := profile.Parse(&buf)
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(p.Sample) != 3 {
		t.Fatalf("expected 3 samples (alloc, free, alloc), got %d", len(p.Sample))
	}
	if got := p.Sample[0].Label["kind"][0]; got != "alloc" {
		t.Fatalf("expected first sample kind alloc, got %q", got)
	}
	if got := p.Sample[1].Label["kind"][0]; got != "free" {
		t.Fatalf("expected second sample kind free, got %q", got)
	}
}
