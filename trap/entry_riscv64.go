//go:build riscv64

package trap

import "unsafe"

// trapHandlerEntry is the raw asm-to-Go shim __alltraps jumps into:
// by the time it runs, sp = kernel_sp and the kernel AS is already
// active (both installed by __alltraps itself), so it is safe to run
// as an ordinary Go function. It reads the CSRs __alltraps didn't
// already capture into the trap context, decodes the faulting
// instruction's bytes when relevant, and dispatches through
// HandleTrap before falling through to TrapReturn.
func trapHandlerEntry() {
	scause := readScause()
	stval := readStval()
	cause := DecodeScause(scause)

	var instrBytes [4]byte
	if cause == CauseIllegalInstruction {
		sepc := readSepcOnEntry()
		*(*uint32)(unsafe.Pointer(&instrBytes[0])) = *(*uint32)(unsafe.Pointer(uintptr(sepc)))
	}

	HandleTrap(cause, stval, instrBytes[:])
	TrapReturn()
}

func readScause() uint64
func readStval() uint64
func readSepcOnEntry() uint64
