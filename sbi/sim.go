package sbi

import (
	"bytes"
	"fmt"
	"sync"
)

// Sim is an in-memory Backend for host tests and for any build that
// isn't riscv64: a byte-queue console, and recorded timer/shutdown
// calls instead of touching real firmware.
type Sim struct {
	mu             sync.Mutex
	out            bytes.Buffer
	in             []byte
	inPos          int
	timerDeadlines []uint64
	shutdowns      []int
}

// NewSim returns an empty simulated firmware backend.
func NewSim() *Sim { return &Sim{} }

// ConsolePutChar appends c to the simulated console's output.
func (s *Sim) ConsolePutChar(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out.WriteByte(c)
}

// ConsoleGetChar pops one character fed via Feed, or ok=false if the
// input queue is empty (models the real firmware's "nothing typed
// yet" response).
func (s *Sim) ConsoleGetChar() (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inPos >= len(s.in) {
		return 0, false
	}
	c := s.in[s.inPos]
	s.inPos++
	return c, true
}

// Feed appends bytes to the simulated console's input queue, as if a
// user had typed them.
func (s *Sim) Feed(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = append(s.in, b...)
}

// Output returns everything written to the simulated console so far.
func (s *Sim) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.String()
}

// SetTimer records the requested deadline.
func (s *Sim) SetTimer(stimeValue uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerDeadlines = append(s.timerDeadlines, stimeValue)
}

// TimerDeadlines returns every deadline requested via SetTimer, in
// order.
func (s *Sim) TimerDeadlines() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, len(s.timerDeadlines))
	copy(out, s.timerDeadlines)
	return out
}

// Shutdown records the reset reason, then panics: real SRST
// system_reset never returns, and this is the closest a host process
// gets to that behavior.
func (s *Sim) Shutdown(reason int) {
	s.mu.Lock()
	s.shutdowns = append(s.shutdowns, reason)
	s.mu.Unlock()
	panic(fmt.Sprintf("sbi: system_reset(shutdown, reason=%d)", reason))
}

// Shutdowns returns every reset reason passed to Shutdown, in order
// (useful for a test that recovers the panic and asserts on it).
func (s *Sim) Shutdowns() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.shutdowns))
	copy(out, s.shutdowns)
	return out
}
