// Package timer reads the time CSR and arms the next supervisor timer
// interrupt. Grounded on original_source/os/src/timer.rs
// (get_time/get_time_ms/set_next_trigger) and sbi/timer.rs for the
// TIME extension call itself, which lives in package sbi.
package timer

import (
	"rvos/config"
	"rvos/sbi"
)

// TimebaseFrequency is the platform's mtime tick rate (QEMU virt's
// default, matching the original_source config constant).
const TimebaseFrequency uint64 = 0x989680

// readCycles is overridden on riscv64 builds to read the time CSR; the
// portable build uses a monotonically increasing counter so host tests
// can exercise NowMs/SetNextTrigger without real hardware.
var readCycles = func() uint64 {
	portableCycles++
	return portableCycles
}

var portableCycles uint64

// NowMs returns the number of milliseconds elapsed since boot.
func NowMs() uint64 {
	return readCycles() / (TimebaseFrequency / uint64(config.MsecPerSec))
}

// SetNextTrigger arms the timer for one tick from now, bounding
// scheduling latency to 1/TickPerSec of a second.
func SetNextTrigger() {
	sbi.SetTimer(readCycles() + TimebaseFrequency/uint64(config.EffectiveBoot.EffectiveTickPerSec()))
}
