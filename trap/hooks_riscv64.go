//go:build riscv64

package trap

import "reflect"

func init() {
	installUserStvec = writeStvecDirect
	trampolineOffset = computeTrampolineOffset
	jumpToRestore = jumpToRestoreAsm
	trapHandlerEntryAddr = func() uint64 {
		return uint64(reflect.ValueOf(trapHandlerEntry).Pointer())
	}
	enableTimerInterrupt = setSieTimer
}

// writeStvecDirect, computeTrampolineOffset's two symbol-address
// helpers, jumpToRestoreAsm, and setSieTimer are implemented in
// hooks_riscv64.s.
func writeStvecDirect(trampolineVA uint64)
func alltrapsAddr() uint64
func restoreAddr() uint64
func jumpToRestoreAsm(restoreVA, trapCtxVA, userSatp uint64)
func setSieTimer()

func computeTrampolineOffset() uint64 {
	return restoreAddr() - alltrapsAddr()
}
