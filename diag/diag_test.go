package diag

import (
	"strings"
	"testing"

	"rvos/sbi"
)

func TestCallerdumpIncludesThisFile(t *testing.T) {
	dump := Callerdump(0)
	if !strings.Contains(dump, "diag_test.go") {
		t.Fatalf("expected dump to mention this test file, got %q", dump)
	}
}

func TestRecoverShutsDownOnPanic(t *testing.T) {
	sim := sbi.NewSim()
	old := sbi.Active
	sbi.Active = sim
	defer func() { sbi.Active = old }()

	func() {
		defer func() {
			// sim.Shutdown itself panics to model "never returns";
			// Recover's job ends at invoking it, so swallow that here.
			recover()
		}()
		func() {
			defer Recover()
			panic("boom")
		}()
	}()

	shutdowns := sim.Shutdowns()
	if len(shutdowns) != 1 || shutdowns[0] != sbi.SRSTReasonSystemFailure {
		t.Fatalf("expected one system-failure shutdown, got %v", shutdowns)
	}
}

func TestDisassembleIllegalReportsUndecodable(t *testing.T) {
	got := DisassembleIllegal([]byte{0, 0, 0, 0})
	if !strings.Contains(got, "undecodable") {
		t.Fatalf("expected undecodable marker, got %q", got)
	}
}

func TestDemangleSymbolPassesThroughUnmangled(t *testing.T) {
	if got := DemangleSymbol("rvos.main"); got != "rvos.main" {
		t.Fatalf("expected unchanged symbol, got %q", got)
	}
}
