//go:build riscv64

package sbi

// sbiCall issues an ecall with a7=eid, a6=fid, a0..a2=args, and returns
// the firmware's a0. Implemented in asm_riscv64.s.
func sbiCall(eid, fid, arg0, arg1, arg2 uint64) uint64

// hardware is the real firmware backend, installed as Active on
// riscv64 builds only; every other build keeps the Sim default so the
// rest of this module stays host-testable.
type hardware struct{}

func init() { Active = hardware{} }

func (hardware) ConsolePutChar(c byte) {
	sbiCall(EIDLegacyConsolePutChar, 0, uint64(c), 0, 0)
}

func (hardware) ConsoleGetChar() (byte, bool) {
	r := sbiCall(EIDLegacyConsoleGetChar, 0, 0, 0, 0)
	// The legacy console extension returns -1 (all bits set) when no
	// character is available.
	if int64(r) < 0 {
		return 0, false
	}
	return byte(r), true
}

func (hardware) SetTimer(stimeValue uint64) {
	sbiCall(EIDTime, 0, stimeValue, 0, 0)
}

func (hardware) Shutdown(reason int) {
	sbiCall(EIDSRST, SRSTTypeShutdown, uint64(reason), 0, 0)
	panic("sbi: system_reset returned, which firmware must never do")
}
