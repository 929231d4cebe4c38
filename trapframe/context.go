// Package trapframe defines the per-task trap context: the page-resident
// register save area a user trap writes into and trap_return restores
// from. Kept separate from package trap so that task can build one
// without importing the scheduler/syscall machinery trap depends on.
// Grounded on original_source/os/src/trap/context.rs's TrapContext,
// extended with the kernel_satp/kernel_sp/trap_handler fields spec.md's
// component design adds for the isolated-address-space design.
package trapframe

import "encoding/binary"

// sstatus bit positions this kernel cares about.
const (
	sstatusSPIEShift = 5
	sstatusSPPShift  = 8
)

// Context is the trap context written at TRAP_CONTEXT. x[2] is the stack
// pointer by RISC-V convention (aliased here as SP for readability at call
// sites that only touch the stack slot).
type Context struct {
	X            [32]uint64
	Sstatus      uint64
	Sepc         uint64
	KernelSatp   uint64
	KernelSp     uint64
	TrapHandler  uint64
}

// Size is the on-disk byte size of a Context (32 general registers plus
// five more 64-bit fields).
const Size = (32 + 5) * 8

// SP returns the saved user stack pointer (x2).
func (c *Context) SP() uint64 { return c.X[2] }

// SetSP sets the user stack pointer (x2).
func (c *Context) SetSP(sp uint64) { c.X[2] = sp }

// AppInitContext builds the trap context a freshly constructed task sees
// on its first trap_return: entry as sepc, the user stack pointer, SPP
// cleared (return to U-mode), SPIE set (interrupts enabled on return),
// and the kernel-side fields the trampoline's __alltraps path needs to
// find on the way back in.
func AppInitContext(entry, userSP, kernelSatp, kernelSp, trapHandler uint64) *Context {
	c := &Context{
		Sepc:        entry,
		KernelSatp:  kernelSatp,
		KernelSp:    kernelSp,
		TrapHandler: trapHandler,
		Sstatus:     uint64(1) << sstatusSPIEShift, // SPP bit left clear: return to U-mode
	}
	c.SetSP(userSP)
	return c
}

// Encode writes c into dst in the layout the trampoline assembly expects:
// x[0..32], sstatus, sepc, kernel_satp, kernel_sp, trap_handler, each a
// little-endian uint64.
func (c *Context) Encode(dst []byte) {
	if len(dst) < Size {
		panic("trapframe: destination buffer smaller than Context")
	}
	off := 0
	for _, v := range c.X {
		binary.LittleEndian.PutUint64(dst[off:], v)
		off += 8
	}
	for _, v := range []uint64{c.Sstatus, c.Sepc, c.KernelSatp, c.KernelSp, c.TrapHandler} {
		binary.LittleEndian.PutUint64(dst[off:], v)
		off += 8
	}
}

// Decode reads a Context back out of src.
func Decode(src []byte) *Context {
	if len(src) < Size {
		panic("trapframe: source buffer smaller than Context")
	}
	c := &Context{}
	off := 0
	for i := range c.X {
		c.X[i] = binary.LittleEndian.Uint64(src[off:])
		off += 8
	}
	c.Sstatus = binary.LittleEndian.Uint64(src[off:])
	off += 8
	c.Sepc = binary.LittleEndian.Uint64(src[off:])
	off += 8
	c.KernelSatp = binary.LittleEndian.Uint64(src[off:])
	off += 8
	c.KernelSp = binary.LittleEndian.Uint64(src[off:])
	off += 8
	c.TrapHandler = binary.LittleEndian.Uint64(src[off:])
	return c
}
