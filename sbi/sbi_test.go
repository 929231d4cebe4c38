package sbi

import "testing"

func TestConsoleRoundTrip(t *testing.T) {
	old := Active
	defer func() { Active = old }()

	sim := NewSim()
	Active = sim
	sim.Feed([]byte("hi"))

	c, ok := ConsoleGetChar()
	if !ok || c != 'h' {
		t.Fatalf("got %q, %v", c, ok)
	}
	c, ok = ConsoleGetChar()
	if !ok || c != 'i' {
		t.Fatalf("got %q, %v", c, ok)
	}
	if _, ok = ConsoleGetChar(); ok {
		t.Fatal("expected no character available once input is drained")
	}

	for _, b := range []byte("out") {
		ConsolePutChar(b)
	}
	if sim.Output() != "out" {
		t.Fatalf("got %q", sim.Output())
	}
}

func TestSetTimerRecordsDeadlines(t *testing.T) {
	old := Active
	defer func() { Active = old }()
	sim := NewSim()
	Active = sim

	SetTimer(100)
	SetTimer(200)
	got := sim.TimerDeadlines()
	if len(got) != 2 || got[0] != 100 || got[1] != 200 {
		t.Fatalf("got %v", got)
	}
}

func TestShutdownNeverReturns(t *testing.T) {
	old := Active
	defer func() { Active = old }()
	sim := NewSim()
	Active = sim

	defer func() {
		if recover() == nil {
			t.Fatal("expected Shutdown to panic (models SRST never returning)")
		}
		if got := sim.Shutdowns(); len(got) != 1 || got[0] != SRSTReasonSystemFailure {
			t.Fatalf("shutdown reason not recorded: %v", got)
		}
	}()
	Shutdown(SRSTReasonSystemFailure)
}
