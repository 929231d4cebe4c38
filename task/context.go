package task

// Context is the callee-saved snapshot the switch routine saves and
// restores: return address, stack pointer, and s0..s11. Grounded on
// original_source/os/src/task/context.rs's TaskContext.
//
// Field order matters: sched's riscv64 assembly switch stub indexes into
// this struct by byte offset (ra at 0, sp at 8, s0..s11 at 16..112).
type Context struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// trapReturnAddr is installed by the trap package at boot (trap imports
// task; task must not import trap, so this is a plain hook instead of a
// direct call — the same pattern fs.Yield and vmm's satpWrite hook use to
// avoid their own import cycles).
var trapReturnAddr uint64

// SetTrapReturnAddr records the kernel VA of trap_return so freshly built
// task contexts know where the first switch into them lands.
func SetTrapReturnAddr(addr uint64) { trapReturnAddr = addr }

// trapHandlerAddr is installed the same way as trapReturnAddr: every
// trap context's trap_handler field must hold the kernel VA the
// trampoline's __alltraps path jumps to after saving registers.
var trapHandlerAddr uint64

// SetTrapHandlerAddr records the kernel VA of trap_handler.
func SetTrapHandlerAddr(addr uint64) { trapHandlerAddr = addr }

// GotoTrapReturn builds the task context for a freshly constructed task:
// ra = trap_return, sp = top of the task's kernel stack. The first
// schedule into this task returns from __switch straight into
// trap_return on the new kernel stack.
func GotoTrapReturn(kstackTop uint64) Context {
	return Context{RA: trapReturnAddr, SP: kstackTop}
}
