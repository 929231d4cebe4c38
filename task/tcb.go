// Package task implements the task control block: PID allocation, the
// from_elf/fork/exec/waitpid lifecycle, and the parent/child tree.
// Grounded on original_source/os/src/process/task.rs and
// os/src/process/mod.rs's mark_current_exit re-parenting, translated
// from Rust's Arc<Mutex<..>>/Weak ownership into a plain *TCB parent
// pointer — Go's garbage collector reclaims the parent<->children cycle
// without the weak-reference dance the Rust original needs, so there is
// no analogous "weak parent" type here.
package task

import (
	"sync"

	"rvos/accnt"
	"rvos/addr"
	"rvos/config"
	"rvos/defs"
	"rvos/fs"
	"rvos/mem/pmm"
	"rvos/mem/vmm"
	"rvos/trapframe"
)

// State is a task's scheduling state.
type State int

const (
	Runnable State = iota
	Running
	Zombie
)

func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// Env bundles the construction-time dependencies every TCB lifecycle
// operation needs: the frame allocator, the trampoline's physical page,
// and the one kernel memory set kernel stacks live in. Passed explicitly
// rather than held as package globals, matching vmm's style of taking an
// *pmm.Allocator parameter instead of reaching for a singleton.
type Env struct {
	Alloc         *pmm.Allocator
	TrampolinePPN addr.PhysPageNum
	KernelMS      *vmm.MemorySet
}

// Yield is called by Waitpid's busy-wait loop when no matching zombie
// child exists yet. It must perform mark_current_suspend (re-add self to
// the ready queue as Runnable) followed by schedule(). task cannot import
// sched directly (sched already imports task), so sched installs the
// real implementation from its package init — the same hook pattern
// fs.Yield and vmm's satpWrite use for their own cycle avoidance.
var Yield func() = func() {}

// TCB is a task control block. Pid is immutable after construction;
// every other field is guarded by mu.
type TCB struct {
	pid *PidHandle

	mu         sync.Mutex
	state      State
	ctx        Context
	ms         *vmm.MemorySet
	trapCtxPPN addr.PhysPageNum
	baseSize   uint64
	parent     *TCB
	children   []*TCB
	exitCode   int
	fds        *fs.Table
	acc        *accnt.Accnt
	kernelMS   *vmm.MemorySet
}

// Pid returns the task's process ID.
func (t *TCB) Pid() defs.Pid_t { return t.pid.Pid() }

// State returns the task's current scheduling state.
func (t *TCB) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState sets the task's scheduling state. Exported for the scheduler,
// which owns all state transitions other than exit.
func (t *TCB) SetState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// ContextPtr returns a pointer to the task's switch-routine context.
// Callers (the scheduler) must not retain it past the task's destruction.
func (t *TCB) ContextPtr() *Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &t.ctx
}

// UserToken returns this task's address space's satp token.
func (t *TCB) UserToken() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ms.Token()
}

// MemorySet returns the task's address space, for syscalls (mmap,
// munmap) that need to insert or remove map areas directly.
func (t *TCB) MemorySet() *vmm.MemorySet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ms
}

// Fds returns the task's file descriptor table.
func (t *TCB) Fds() *fs.Table { return t.fds }

// Accnt returns the task's CPU accounting counters.
func (t *TCB) Accnt() *accnt.Accnt { return t.acc }

// ExitCode returns the exit code recorded by mark_current_exit.
func (t *TCB) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Parent returns the task's current parent, or nil for the init process.
func (t *TCB) Parent() *TCB {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.parent
}

// Children returns a snapshot of the task's live children.
func (t *TCB) Children() []*TCB {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*TCB, len(t.children))
	copy(out, t.children)
	return out
}

// ReadTrapContext decodes the task's trap context out of its
// TRAP_CONTEXT physical page.
func (t *TCB) ReadTrapContext(env *Env) *trapframe.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return trapframe.Decode(env.Alloc.RAM().Page(t.trapCtxPPN))
}

// WriteTrapContext encodes tc back into the task's TRAP_CONTEXT physical
// page.
func (t *TCB) WriteTrapContext(env *Env, tc *trapframe.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tc.Encode(env.Alloc.RAM().Page(t.trapCtxPPN))
}

func kstackIdx(pid defs.Pid_t) int { return int(pid) }

func trapContextPPN(ms *vmm.MemorySet) addr.PhysPageNum {
	pte, ok := ms.Translate(addr.VirtAddr(config.TrapContextAddr).VPN())
	if !ok {
		panic("task: memory set has no mapped TRAP_CONTEXT page")
	}
	return pte.PPN()
}

// FromELF builds the init task (or, via the app loader, any top-level
// app) from an ELF image: fresh PID, fresh kernel stack, a memory set
// parsed from the image, and a seeded trap context pointing at entry
// with sstatus configured to return to U-mode.
func FromELF(env *Env, elfBytes []byte, stdin, stdout fs.File) (*TCB, error) {
	pid := AllocPid()
	idx := kstackIdx(pid.Pid())
	kstackTop := env.KernelMS.KstackAlloc(idx)

	ms, userSP, entry, err := vmm.FromELF(env.Alloc, env.TrampolinePPN, elfBytes)
	if err != nil {
		env.KernelMS.KstackDealloc(idx)
		pid.Release()
		return nil, err
	}
	ppn := trapContextPPN(ms)

	tc := trapframe.AppInitContext(entry, uint64(userSP), env.KernelMS.Token(), kstackTop, trapHandlerAddr)
	tc.Encode(env.Alloc.RAM().Page(ppn))

	fdt := fs.NewTable()
	fdt.AllocFd(stdin)
	fdt.AllocFd(stdout)
	fdt.AllocFd(stdout)

	return &TCB{
		pid:        pid,
		state:      Runnable,
		ctx:        GotoTrapReturn(kstackTop),
		ms:         ms,
		trapCtxPPN: ppn,
		baseSize:   uint64(userSP),
		fds:        fdt,
		acc:        &accnt.Accnt{},
		kernelMS:   env.KernelMS,
	}, nil
}

// Fork duplicates t: a new PID and kernel stack, a deep-copied memory
// set with independent physical frames, and a cloned fd table sharing
// File references. The returned child's trap context is a byte-for-byte
// copy of the parent's (so it resumes from the same ecall), except for
// kernel_sp, which is rewritten to the child's own kernel stack top.
// Callers must still zero the child's trap-context a0 and add it to the
// ready queue — see spec.md's fork syscall contract.
func (t *TCB) Fork(env *Env) *TCB {
	t.mu.Lock()
	parentMS := t.ms
	parentTrapCtxPPN := t.trapCtxPPN
	baseSize := t.baseSize
	clonedFds := t.fds.Clone()
	t.mu.Unlock()

	pid := AllocPid()
	idx := kstackIdx(pid.Pid())
	kstackTop := env.KernelMS.KstackAlloc(idx)

	ms := vmm.FromOtherProc(env.Alloc, env.TrampolinePPN, parentMS)
	childPPN := trapContextPPN(ms)

	ram := env.Alloc.RAM()
	copy(ram.Page(childPPN), ram.Page(parentTrapCtxPPN))
	childTC := trapframe.Decode(ram.Page(childPPN))
	childTC.KernelSp = kstackTop
	childTC.Encode(ram.Page(childPPN))

	child := &TCB{
		pid:        pid,
		state:      Runnable,
		ctx:        GotoTrapReturn(kstackTop),
		ms:         ms,
		trapCtxPPN: childPPN,
		baseSize:   baseSize,
		parent:     t,
		fds:        clonedFds,
		acc:        &accnt.Accnt{},
		kernelMS:   env.KernelMS,
	}

	t.mu.Lock()
	t.children = append(t.children, child)
	t.mu.Unlock()

	return child
}

// Exec replaces t's memory set in place with a freshly parsed ELF image,
// preserving PID and fd table, and reseeds the trap context as for a
// fresh task. The previous memory set's frames and page table are
// destroyed before the new one is installed — spec.md requires every
// exit/replace path to release its frames explicitly, since panic-unwind
// is not used as a cleanup mechanism here.
func (t *TCB) Exec(env *Env, elfBytes []byte) defs.Err_t {
	ms, userSP, entry, err := vmm.FromELF(env.Alloc, env.TrampolinePPN, elfBytes)
	if err != nil {
		return defs.ENOENT
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	oldMS := t.ms
	oldMS.RecycleDataPages()
	oldMS.DestroyPageTable()

	t.ms = ms
	t.trapCtxPPN = trapContextPPN(ms)
	t.baseSize = uint64(userSP)

	_, kstackTop := vmm.KernelStackRange(kstackIdx(t.pid.Pid()))
	tc := trapframe.AppInitContext(entry, uint64(userSP), env.KernelMS.Token(), uint64(kstackTop), trapHandlerAddr)
	tc.Encode(env.Alloc.RAM().Page(t.trapCtxPPN))

	return 0
}

// Waitpid implements the TCB-level semantics: −2 if t has no children at
// all; −1 if pid names no child of t (live or zombie); otherwise loops,
// yielding between polls, until a matching zombie child appears, reaps
// it, and returns its PID, exit code, and rusage snapshot (the reaped
// child's own accounting, taken before it is merged into t's and the
// child is destroyed — matching wait4(2)'s per-child rusage contract).
func (t *TCB) Waitpid(env *Env, pid defs.Pid_t) (defs.Pid_t, int, []byte, defs.Err_t) {
	for {
		t.mu.Lock()
		if len(t.children) == 0 {
			t.mu.Unlock()
			return 0, 0, nil, defs.Err_t(-2)
		}

		matched := false
		zombieIdx := -1
		for i, c := range t.children {
			if pid != -1 && c.Pid() != pid {
				continue
			}
			matched = true
			if c.State() == Zombie {
				zombieIdx = i
				break
			}
		}
		if !matched {
			t.mu.Unlock()
			return 0, 0, nil, defs.Err_t(-1)
		}
		if zombieIdx < 0 {
			t.mu.Unlock()
			since := t.Accnt().Now()
			Yield()
			t.Accnt().IoTime(since)
			continue
		}

		child := t.children[zombieIdx]
		t.children = append(t.children[:zombieIdx], t.children[zombieIdx+1:]...)
		t.mu.Unlock()

		reapedPid := child.Pid()
		code := child.ExitCode()
		rusage := child.Accnt().Fetch()
		t.Accnt().Add(child.Accnt())
		child.destroy(env)
		return reapedPid, code, rusage, 0
	}
}

// destroy releases a zombie child's resources once its parent has reaped
// it: the kernel-stack mapping is removed, the memory set's area frames
// and page table are freed, and the PID is recycled.
func (t *TCB) destroy(env *Env) {
	env.KernelMS.KstackDealloc(kstackIdx(t.pid.Pid()))
	t.ms.RecycleDataPages()
	t.ms.DestroyPageTable()
	t.pid.Release()
}

// Reparent adopts every one of t's children, used when t exits and its
// live children must be handed to the init process.
func (t *TCB) Reparent(newParent *TCB) {
	t.mu.Lock()
	kids := t.children
	t.children = nil
	t.mu.Unlock()

	newParent.mu.Lock()
	for _, c := range kids {
		c.mu.Lock()
		c.parent = newParent
		c.mu.Unlock()
	}
	newParent.children = append(newParent.children, kids...)
	newParent.mu.Unlock()
}

// MarkExit transitions t to Zombie with the given exit code. It does not
// perform re-parenting or shutdown — that is the scheduler's
// mark_current_exit, which knows about the init task and the ready
// queue.
func (t *TCB) MarkExit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Zombie
	t.exitCode = code
}
