// Package sbi models the Supervisor Binary Interface calls this kernel
// issues to firmware: legacy console putchar/getchar, the SRST
// extension's system_reset, and the TIME extension's set_timer.
// Grounded on original_source/os/src/sbi.rs and
// original_source/os/src/sbi/{legacy,srst,timer}.rs for the exact EID/
// FID values and calling convention (a7=EID, a6=FID, a0..a5=args).
package sbi

// Legacy and modern SBI extension IDs used by this kernel.
const (
	EIDLegacyConsolePutChar = 0x01
	EIDLegacyConsoleGetChar = 0x02
	EIDSRST                 = 0x53525354
	EIDTime                 = 0x54494D45
)

// SRST reset types and reasons (only shutdown is used by this kernel).
const (
	SRSTTypeShutdown        = 0x0
	SRSTReasonNone          = 0x0
	SRSTReasonSystemFailure = 0x1
)

// Backend is the firmware surface the kernel talks to. The riscv64
// build wires Active to a real ecall-issuing implementation; every
// other build (including this package's own tests) wires it to a Sim.
type Backend interface {
	ConsolePutChar(c byte)
	ConsoleGetChar() (c byte, ok bool)
	SetTimer(stimeValue uint64)
	Shutdown(reason int)
}

// Active is the firmware backend in effect. Exported so a kernel
// entrypoint or test can install a specific Sim before boot.
var Active Backend = NewSim()

// ConsolePutChar writes one character via the legacy console extension.
func ConsolePutChar(c byte) { Active.ConsolePutChar(c) }

// ConsoleGetChar polls for one character via the legacy console
// extension. ok is false if none is available.
func ConsoleGetChar() (byte, bool) { return Active.ConsoleGetChar() }

// SetTimer schedules the next timer interrupt at the given mtime value.
func SetTimer(stimeValue uint64) { Active.SetTimer(stimeValue) }

// Shutdown invokes SRST system_reset with type=shutdown. It never
// returns on real hardware; the Sim backend models that by panicking.
func Shutdown(reason int) { Active.Shutdown(reason) }
