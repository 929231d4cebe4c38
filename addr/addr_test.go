package addr

import "testing"

func TestPhysAddrPPNRoundTrip(t *testing.T) {
	pa := NewPhysAddr(0x1234000)
	ppn := pa.PPN()
	if ppn.Addr() != pa {
		t.Fatalf("PPN->Addr round trip: got %#x want %#x", ppn.Addr(), pa)
	}
}

func TestPhysAddrLowBitsIdentity(t *testing.T) {
	raw := uint64(0x00ab_cdef_1234_5678)
	pa := NewPhysAddr(raw)
	if pa.Uint64() != raw&physMask {
		t.Fatalf("usize->PhysAddr->usize not identity on low 56 bits: got %#x want %#x", pa.Uint64(), raw&physMask)
	}
}

func TestPPNUnaligned(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unaligned physical address")
		}
	}()
	NewPhysAddr(0x1001).PPN()
}

func TestVirtAddrFloorCeil(t *testing.T) {
	va := VirtAddr(0x1000 + 5)
	if va.Floor() != 1 {
		t.Fatalf("Floor: got %d want 1", va.Floor())
	}
	if va.Ceil() != 2 {
		t.Fatalf("Ceil: got %d want 2", va.Ceil())
	}
	aligned := VirtAddr(0x2000)
	if aligned.Ceil() != aligned.Floor() {
		t.Fatalf("Ceil of aligned address should equal Floor")
	}
}

func TestVPNIndexes(t *testing.T) {
	// vpn with L2=1, L1=2, L0=3
	vpn := VirtPageNum((1 << 18) | (2 << 9) | 3)
	idx := vpn.Indexes()
	if idx != [3]uint{1, 2, 3} {
		t.Fatalf("Indexes: got %v want [1 2 3]", idx)
	}
}

func TestRangeAll(t *testing.T) {
	r := NewRange(10, 13)
	var seen []VirtPageNum
	r.All(func(v VirtPageNum) { seen = append(seen, v) })
	want := []VirtPageNum{10, 11, 12}
	if len(seen) != len(want) {
		t.Fatalf("All: got %v want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("All[%d]: got %v want %v", i, seen[i], want[i])
		}
	}
	if !r.Contains(11) || r.Contains(13) {
		t.Fatalf("Contains behaves incorrectly")
	}
}
