//go:build riscv64

package timer

func init() { readCycles = readTimeCSR }

// readTimeCSR is implemented in timer_riscv64.s: rdtime reads the
// mtime-mirroring time CSR directly, no SBI call required.
func readTimeCSR() uint64
