package accnt

import "testing"

func TestAddMergesCounters(t *testing.T) {
	a := &Accnt{UserNs: 10, SysNs: 20}
	b := &Accnt{UserNs: 1, SysNs: 2}
	a.Add(b)
	if a.UserNs != 11 || a.SysNs != 22 {
		t.Fatalf("got userns=%d sysns=%d", a.UserNs, a.SysNs)
	}
}

func TestToRusageEncodesSecondsAndMicros(t *testing.T) {
	a := &Accnt{UserNs: 2_500_000_000, SysNs: 1_000_000}
	buf := a.Fetch()
	if len(buf) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(buf))
	}
	// user: 2.5s -> sec=2, usec=500000
	if got := le64(buf[0:8]); got != 2 {
		t.Fatalf("user sec got %d", got)
	}
	if got := le64(buf[8:16]); got != 500000 {
		t.Fatalf("user usec got %d", got)
	}
	// sys: 1ms -> sec=0, usec=1000
	if got := le64(buf[16:24]); got != 0 {
		t.Fatalf("sys sec got %d", got)
	}
	if got := le64(buf[24:32]); got != 1000 {
		t.Fatalf("sys usec got %d", got)
	}
}

func TestChargeUserTimeAddsElapsedSinceMarkReturn(t *testing.T) {
	a := &Accnt{}
	a.MarkReturn(1_000_000_000)
	a.ChargeUserTime(1_250_000_000)
	if a.UserNs != 250_000_000 {
		t.Fatalf("expected 250ms of user time, got %dns", a.UserNs)
	}
}

func TestChargeUserTimeNoopBeforeFirstMarkReturn(t *testing.T) {
	a := &Accnt{}
	a.ChargeUserTime(1_000_000_000)
	if a.UserNs != 0 {
		t.Fatalf("expected no user time charged before any MarkReturn, got %dns", a.UserNs)
	}
}

func le64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
