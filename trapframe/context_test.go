package trapframe

import "testing"

func TestAppInitContextSetsSPAndSstatus(t *testing.T) {
	c := AppInitContext(0x1000, 0x2000, 0x8000000000000042, 0x3000, 0x4000)
	if c.Sepc != 0x1000 {
		t.Fatalf("sepc: got %#x", c.Sepc)
	}
	if c.SP() != 0x2000 {
		t.Fatalf("sp: got %#x", c.SP())
	}
	if c.Sstatus&(1<<sstatusSPPShift) != 0 {
		t.Fatal("expected SPP clear (return to U-mode)")
	}
	if c.Sstatus&(1<<sstatusSPIEShift) == 0 {
		t.Fatal("expected SPIE set")
	}
	if c.KernelSatp != 0x8000000000000042 || c.KernelSp != 0x3000 || c.TrapHandler != 0x4000 {
		t.Fatal("kernel-side fields not preserved")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := AppInitContext(0x1234, 0x5678, 0xaaaa, 0xbbbb, 0xcccc)
	c.X[10] = 99
	buf := make([]byte, Size)
	c.Encode(buf)
	got := Decode(buf)
	if *got != *c {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, c)
	}
}

func TestSetSPUpdatesX2(t *testing.T) {
	c := &Context{}
	c.SetSP(0xdead)
	if c.X[2] != 0xdead {
		t.Fatal("SetSP did not update x[2]")
	}
}
