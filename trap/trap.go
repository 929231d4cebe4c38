// Package trap implements the user/kernel trap pipeline: the scause
// dispatch table, trap_return, and the hooks a riscv64 build wires to
// the trampoline (a single page of assembly mapped at the same VA in
// every address space — see trampoline_riscv64.s). Grounded on
// original_source/os/src/trap/mod.rs for the match-on-scause dispatch
// shape, and spec.md §4.8 for the kernel_satp/kernel_sp/trap_handler
// trap-context fields this earlier tutorial chapter's TrapContext
// doesn't yet carry (those came from spec.md directly).
package trap

import (
	"fmt"
	"os"
	"reflect"

	"rvos/config"
	"rvos/console"
	"rvos/diag"
	"rvos/loader"
	"rvos/sched"
	"rvos/syscall"
	"rvos/task"
	"rvos/timer"
)

// Cause classifies a trap for HandleTrap's dispatch table.
type Cause int

const (
	CauseTimerInterrupt Cause = iota
	CauseEcallU
	CauseIllegalInstruction
	CauseLoadPageFault
	CauseStorePageFault
	CauseStoreFault
	CauseOther
)

func (c Cause) String() string {
	switch c {
	case CauseTimerInterrupt:
		return "timer interrupt"
	case CauseEcallU:
		return "ecall from U"
	case CauseIllegalInstruction:
		return "illegal instruction"
	case CauseLoadPageFault:
		return "load page fault"
	case CauseStorePageFault:
		return "store page fault"
	case CauseStoreFault:
		return "store fault"
	default:
		return "other"
	}
}

// scause bit layout: the MSB marks an interrupt (vs. exception); the
// remaining bits are the cause code. Values match the riscv crate's
// scause::{Interrupt, Exception} enums used by original_source's
// trap/mod.rs.
const (
	scauseInterruptBit     = uint64(1) << 63
	scauseSupervisorTimer  = 5
	exceptionIllegalInstr  = 2
	exceptionStoreFault    = 7
	exceptionEcallU        = 8
	exceptionLoadPageFault = 13
	exceptionStorePageFault = 15
)

// DecodeScause maps a raw scause CSR value onto a Cause.
func DecodeScause(scause uint64) Cause {
	if scause&scauseInterruptBit != 0 {
		if scause&^scauseInterruptBit == scauseSupervisorTimer {
			return CauseTimerInterrupt
		}
		return CauseOther
	}
	switch scause {
	case exceptionEcallU:
		return CauseEcallU
	case exceptionIllegalInstr:
		return CauseIllegalInstruction
	case exceptionLoadPageFault:
		return CauseLoadPageFault
	case exceptionStorePageFault:
		return CauseStorePageFault
	case exceptionStoreFault:
		return CauseStoreFault
	default:
		return CauseOther
	}
}

// Apps is the bundled application registry exec() and the initial
// task load from; installed once at boot by Init.
var Apps *loader.Registry

// env is the allocator/kernel-memory-set bundle HandleTrap needs to
// read and write trap contexts; installed once at boot by Init.
var env *task.Env

// con is the console driving Stdin's ring buffer; HandleTrap polls it
// on every timer tick to drain firmware RX the way a UART RX interrupt
// would on real hardware. Nil in tests that exercise HandleTrap without
// a full boot sequence.
var con *console.Console

// installUserStvec is overridden on riscv64 builds to write stvec in
// direct mode, pointing at the trampoline VA (shared by every address
// space). The portable build leaves it a no-op.
var installUserStvec = func(trampolineVA uint64) {}

// trampolineOffset is overridden on riscv64 builds to report the byte
// distance from __alltraps to __restore within the trampoline page.
var trampolineOffset = func() uint64 { return 0 }

// jumpToRestore is overridden on riscv64 builds: fence.i, then an
// unconditional jump into __restore at restoreVA with a0=trapCtxVA,
// a1=userSatp (see trampoline_riscv64.s's __restore).
var jumpToRestore = func(restoreVA, trapCtxVA, userSatp uint64) {}

// trapHandlerEntryAddr is overridden on riscv64 builds to report the
// address of trapHandlerEntry (entry_riscv64.go), the raw asm-to-Go
// shim __alltraps jumps into. The portable build has no such shim, so
// it reports 0 — task.SetTrapHandlerAddr still records it, it's just
// never dereferenced outside a real trap.
var trapHandlerEntryAddr = func() uint64 { return 0 }

// enableTimerInterrupt is overridden on riscv64 builds to set the
// sie.STIE bit (bit 5), unmasking supervisor timer interrupts. Not in
// the earlier tutorial chapter trap/mod.rs is grounded on (that
// chapter predates timer support); the bit position is architectural,
// per the RISC-V privileged spec's sie CSR layout.
var enableTimerInterrupt = func() {}

// Init wires task's trap_return/trap_handler address hooks (see
// task.SetTrapReturnAddr/SetTrapHandlerAddr) and points stvec at the
// trampoline. Call once during kernel bring-up, after the kernel
// memory set has mapped the trampoline page. c is polled once per
// timer tick; pass nil to skip console polling (e.g. in tests that
// never route a real timer interrupt through HandleTrap).
func Init(e *task.Env, apps *loader.Registry, c *console.Console) {
	env = e
	Apps = apps
	con = c
	task.SetTrapReturnAddr(uint64(reflect.ValueOf(TrapReturn).Pointer()))
	task.SetTrapHandlerAddr(trapHandlerEntryAddr())
	installUserStvec(config.TRAMPOLINE)
}

// EnableTimerInterrupt unmasks supervisor timer interrupts. Called once
// during boot, after Init and before the first SetNextTrigger.
func EnableTimerInterrupt() {
	enableTimerInterrupt()
}

// HandleTrap runs with the kernel address space active. It dispatches
// on cause: a syscall result is written back into the current task's
// trap context and HandleTrap returns (the caller, trapHandlerEntry,
// falls through into TrapReturn); every other path suspends or kills
// the current task and calls Schedule, which does not return here.
func HandleTrap(cause Cause, stval uint64, instrBytes []byte) {
	cur := sched.CurrentTask()
	if cur == nil {
		panic("trap: HandleTrap called with no current task")
	}

	entry := cur.Accnt().Now()
	cur.Accnt().ChargeUserTime(entry)

	switch cause {
	case CauseTimerInterrupt:
		timer.SetNextTrigger()
		if con != nil {
			con.Poll()
		}
		cur.Accnt().Finish(entry)
		sched.MarkCurrentSuspend()
		sched.Schedule()

	case CauseEcallU:
		tc := cur.ReadTrapContext(env)
		tc.Sepc += 4
		// Store the advanced sepc before dispatching, so a fork copies it
		// into the child, and read the context again afterwards, since
		// exec replaces it.
		cur.WriteTrapContext(env, tc)
		result := syscall.Dispatch(cur, env, Apps, tc.X[17], tc.X[10], tc.X[11], tc.X[12])
		tc = cur.ReadTrapContext(env)
		tc.X[10] = uint64(result)
		cur.WriteTrapContext(env, tc)
		cur.Accnt().Finish(entry)

	case CauseIllegalInstruction:
		fmt.Fprintf(os.Stderr, "[kernel] illegal instruction, pid=%d: %s\n", cur.Pid(), diag.DisassembleIllegal(instrBytes))
		sched.MarkCurrentExit(-1)
		sched.Schedule()

	case CauseLoadPageFault, CauseStorePageFault, CauseStoreFault:
		fmt.Fprintf(os.Stderr, "[kernel] %s, pid=%d, stval=%#x\n", cause, cur.Pid(), stval)
		sched.MarkCurrentExit(-1)
		sched.Schedule()

	default:
		fmt.Fprintf(os.Stderr, "[kernel] unsupported trap %s, pid=%d, stval=%#x\n", cause, cur.Pid(), stval)
		sched.MarkCurrentExit(-1)
		sched.Schedule()
	}
}

// TrapReturn is the kernel-side exit path for every trap: it is
// task.GotoTrapReturn's ra, so the first schedule into a freshly
// created task lands here directly, and it is also what
// trapHandlerEntry falls through into after a handled syscall. It
// reinstalls the user stvec, computes the restore VA inside the
// trampoline page, and jumps into __restore with the current task's
// trap-context VA and user token.
func TrapReturn() {
	cur := sched.CurrentTask()
	if cur == nil {
		panic("trap: TrapReturn called with no current task")
	}
	cur.Accnt().MarkReturn(cur.Accnt().Now())
	installUserStvec(config.TRAMPOLINE)
	restoreVA := config.TRAMPOLINE + trampolineOffset()
	jumpToRestore(restoreVA, config.TrapContextAddr, cur.UserToken())
}
