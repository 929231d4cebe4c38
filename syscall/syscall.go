// Package syscall is the flat ecall dispatch table: Linux-compatible
// numbering (per spec.md §4.9), three argument registers, a signed
// result. Grounded on original_source/os/src/syscall.rs for the
// dispatch shape (an early, enum-keyed version of the same idea;
// fork/exec/waitpid aren't implemented there, so their contracts come
// from spec.md §4.6/§4.9/§7 directly) and on process/task.rs's fork
// for the "zero the child's a0 before queuing it" ordering.
package syscall

import (
	"rvos/addr"
	"rvos/defs"
	"rvos/loader"
	"rvos/mem/pagetable"
	"rvos/mem/vmm"
	"rvos/sched"
	"rvos/task"
	"rvos/timer"
)

// Syscall numbers, per spec.md §4.9 (Linux asm-generic/unistd.h).
const (
	SysRead      = 63
	SysWrite     = 64
	SysExit      = 93
	SysYield     = 124
	SysGetTimeMs = 169
	SysGetPid    = 172
	SysFork      = 220
	SysExec      = 221
	SysWaitpid   = 260
	SysMmap      = 270
	SysMunmap    = 271

	// SysWait4 is this kernel's own addition (not part of spec.md's
	// locked numbering table): waitpid plus an rusage output pointer,
	// per SPEC_FULL.md's CPU-accounting extension.
	SysWait4 = 261
)

// Dispatch runs one syscall on behalf of cur and returns the value to
// write into its trap context's a0. apps resolves exec's path argument
// to an ELF image; env carries the frame allocator and kernel memory
// set every translation and memory-set operation needs.
func Dispatch(cur *task.TCB, env *task.Env, apps *loader.Registry, num, a0, a1, a2 uint64) int64 {
	switch num {
	case SysRead:
		return sysRead(cur, env, int(a0), addr.VirtAddr(a1), int(a2))
	case SysWrite:
		return sysWrite(cur, env, int(a0), addr.VirtAddr(a1), int(a2))
	case SysExit:
		sched.MarkCurrentExit(int(int64(a0)))
		sched.Schedule()
		return 0
	case SysYield:
		sched.MarkCurrentSuspend()
		sched.Schedule()
		return 0
	case SysGetTimeMs:
		return int64(timer.NowMs())
	case SysGetPid:
		return int64(cur.Pid())
	case SysFork:
		return sysFork(cur, env)
	case SysExec:
		return sysExec(cur, env, apps, addr.VirtAddr(a0))
	case SysWaitpid:
		return sysWaitpid(cur, env, defs.Pid_t(int64(a0)), addr.VirtAddr(a1))
	case SysWait4:
		return sysWait4(cur, env, defs.Pid_t(int64(a0)), addr.VirtAddr(a1), addr.VirtAddr(a2))
	case SysMmap:
		return sysMmap(cur, a0, a1, a2)
	case SysMunmap:
		return sysMunmap(cur, a0, a1)
	default:
		return -1
	}
}

func sysWrite(cur *task.TCB, env *task.Env, fd int, bufPtr addr.VirtAddr, length int) int64 {
	f, ok := cur.Fds().Get(fd)
	if !ok || !f.Writable() {
		return -1
	}
	bufs := vmm.TranslatedByteBufferFromToken(env.Alloc, cur.UserToken(), bufPtr, length)
	n, err := f.Write(bufs)
	if err != nil {
		return -1
	}
	return int64(n)
}

// sysRead mirrors sysWrite; Stdin.Read always writes exactly one byte
// regardless of the requested length, per spec.md §4.9.
func sysRead(cur *task.TCB, env *task.Env, fd int, bufPtr addr.VirtAddr, length int) int64 {
	f, ok := cur.Fds().Get(fd)
	if !ok || !f.Readable() {
		return -1
	}
	bufs := vmm.TranslatedByteBufferFromToken(env.Alloc, cur.UserToken(), bufPtr, length)
	n, err := f.Read(bufs)
	if err != nil {
		return -1
	}
	return int64(n)
}

// sysFork duplicates cur, zeroes the child's trap-context a0 (so its
// first trap_return observes a 0 return value from fork), and queues
// it before returning the child's PID to the parent — task.Fork itself
// stays pure and leaves this orchestration to the caller, since only
// this package can import both task and sched without a cycle.
func sysFork(cur *task.TCB, env *task.Env) int64 {
	child := cur.Fork(env)
	tc := child.ReadTrapContext(env)
	tc.X[10] = 0
	child.WriteTrapContext(env, tc)
	sched.AddTask(child)
	return int64(child.Pid())
}

func sysExec(cur *task.TCB, env *task.Env, apps *loader.Registry, pathPtr addr.VirtAddr) int64 {
	path, ok := vmm.TranslatedStrFromToken(env.Alloc, cur.UserToken(), pathPtr)
	if !ok {
		return -1
	}
	img, ok := apps.ByName(path)
	if !ok {
		return -1
	}
	if errc := cur.Exec(env, img.Bytes); errc != 0 {
		return int64(errc)
	}
	return 0
}

// sysWaitpid delegates to the TCB waitpid contract (spec.md §4.6),
// then writes the reaped exit code to the caller's status pointer
// (skipped if reaping failed or statusPtr is 0/null).
func sysWaitpid(cur *task.TCB, env *task.Env, pid defs.Pid_t, statusPtr addr.VirtAddr) int64 {
	reaped, exitCode, _, errc := cur.Waitpid(env, pid)
	if errc != 0 {
		return int64(errc)
	}
	if statusPtr != 0 {
		bufs := vmm.TranslatedByteBufferFromToken(env.Alloc, cur.UserToken(), statusPtr, 4)
		writeLE32(bufs, uint32(int32(exitCode)))
	}
	return int64(reaped)
}

// sysWait4 is SysWaitpid plus a 32-byte rusage output (see
// accnt.Accnt.Fetch): {ru_utime, ru_stime} timeval pairs for the reaped
// child, taken before its accounting is folded into the caller's own.
func sysWait4(cur *task.TCB, env *task.Env, pid defs.Pid_t, statusPtr, rusagePtr addr.VirtAddr) int64 {
	reaped, exitCode, rusage, errc := cur.Waitpid(env, pid)
	if errc != 0 {
		return int64(errc)
	}
	if statusPtr != 0 {
		bufs := vmm.TranslatedByteBufferFromToken(env.Alloc, cur.UserToken(), statusPtr, 4)
		writeLE32(bufs, uint32(int32(exitCode)))
	}
	if rusagePtr != 0 {
		bufs := vmm.TranslatedByteBufferFromToken(env.Alloc, cur.UserToken(), rusagePtr, len(rusage))
		writeBytes(bufs, rusage)
	}
	return int64(reaped)
}

// writeBytes scatters src across bufs in order, matching the page-boundary
// split vmm.TranslatedByteBufferFromToken returns for a possibly-unaligned
// userspace pointer.
func writeBytes(bufs [][]byte, src []byte) {
	i := 0
	for _, b := range bufs {
		for j := range b {
			if i >= len(src) {
				return
			}
			b[j] = src[i]
			i++
		}
	}
}

func writeLE32(bufs [][]byte, v uint32) {
	var tmp [4]byte
	tmp[0] = byte(v)
	tmp[1] = byte(v >> 8)
	tmp[2] = byte(v >> 16)
	tmp[3] = byte(v >> 24)
	i := 0
	for _, b := range bufs {
		for j := range b {
			if i >= 4 {
				return
			}
			b[j] = tmp[i]
			i++
		}
	}
}

// mmapPermR/W/X derive map permissions from the low 3 bits of
// port (R=bit0, W=bit1, X=bit2), per spec.md §7's recommended
// open-question resolution for mmap/munmap (the design leaves the
// exact contract to the implementer).
const (
	mmapPermR = 1 << 0
	mmapPermW = 1 << 1
	mmapPermX = 1 << 2
)

func sysMmap(cur *task.TCB, start, length, port uint64) int64 {
	permBits := port & uint64(mmapPermR|mmapPermW|mmapPermX)
	if port&^uint64(mmapPermR|mmapPermW|mmapPermX) != 0 || permBits == 0 {
		return -1
	}
	ms := cur.MemorySet()
	startVA := addr.VirtAddr(start)
	endVA := addr.VirtAddr(start + length)
	for vpn := startVA.Floor(); vpn < endVA.Ceil(); vpn = vpn.StepByOne() {
		if pte, ok := ms.Translate(vpn); ok && pte.Valid() {
			return -1
		}
	}
	var flags pagetable.Flags = pagetable.U
	if permBits&mmapPermR != 0 {
		flags |= pagetable.R
	}
	if permBits&mmapPermW != 0 {
		flags |= pagetable.W
	}
	if permBits&mmapPermX != 0 {
		flags |= pagetable.X
	}
	ms.InsertFramedArea(startVA, endVA, flags)
	return 0
}

func sysMunmap(cur *task.TCB, start, _ uint64) int64 {
	ms := cur.MemorySet()
	ms.RemoveAreaWithStartVPN(addr.VirtAddr(start).Floor())
	return 0
}
