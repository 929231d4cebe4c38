package task

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"rvos/addr"
	"rvos/config"
	"rvos/fs"
	"rvos/mem/pmm"
	"rvos/mem/vmm"
)

func newTestEnv(t *testing.T) (*Env, []byte) {
	t.Helper()
	alloc := pmm.NewAllocator(0, 4096)
	trampoline, ok := alloc.Alloc()
	if !ok {
		t.Fatal("failed to allocate trampoline frame")
	}
	kernelMS := vmm.NewKernel(alloc, trampoline.PPN(), vmm.KernelLayout{
		PhysRest: vmm.KernelSegment{Start: addr.VirtAddr(0x1000), End: addr.VirtAddr(0x2000)},
	})
	SetTrapReturnAddr(0x1111)
	SetTrapHandlerAddr(0x2222)
	return &Env{Alloc: alloc, TrampolinePPN: trampoline.PPN(), KernelMS: kernelMS}, buildMinimalELF(t, 0x10000, []byte("hi"))
}

// buildMinimalELF hand-builds a minimal valid ELF64 riscv64 image with one
// PT_LOAD segment, mirroring mem/vmm's own test helper.
func buildMinimalELF(t *testing.T, vaddr uint64, payload []byte) []byte {
	t.Helper()
	const ehdrSize = 64
	const phdrSize = 56
	phOff := uint64(ehdrSize)
	dataOff := phOff + phdrSize

	hdr := elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   1,
		Entry:     vaddr,
		Phoff:     phOff,
		Shoff:     0,
		Flags:     0,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
		Shentsize: 0,
		Shnum:     0,
		Shstrndx:  0,
	}
	phdr := elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Off:    dataOff,
		Vaddr:  vaddr,
		Paddr:  vaddr,
		Filesz: uint64(len(payload)),
		Memsz:  uint64(len(payload)),
		Align:  uint64(config.PageSize),
	}

	buf := make([]byte, 0, dataOff+uint64(len(payload)))
	w := &byteWriter{}
	binary.Write(w, binary.LittleEndian, hdr)
	binary.Write(w, binary.LittleEndian, phdr)
	w.buf = append(w.buf, payload...)
	buf = w.buf
	return buf
}

type byteWriter struct{ buf []byte }

func (w *byteWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func TestFromELFSeedsRunnableTaskWithStdio(t *testing.T) {
	env, elfBytes := newTestEnv(t)
	tcb, err := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	if tcb.State() != Runnable {
		t.Fatalf("expected Runnable, got %v", tcb.State())
	}
	if _, ok := tcb.Fds().Get(0); !ok {
		t.Fatal("expected fd 0 seeded")
	}
	if _, ok := tcb.Fds().Get(2); !ok {
		t.Fatal("expected fd 2 seeded")
	}
	tc := tcb.ReadTrapContext(env)
	if tc.KernelSatp != env.KernelMS.Token() {
		t.Fatal("expected trap context kernel_satp to match kernel token")
	}
}

func TestForkDeepCopiesAddressSpaceAndSharesFds(t *testing.T) {
	env, elfBytes := newTestEnv(t)
	parent, err := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	if err != nil {
		t.Fatalf("FromELF: %v", err)
	}
	child := parent.Fork(env)
	if child.Pid() == parent.Pid() {
		t.Fatal("expected distinct pid")
	}
	if len(parent.Children()) != 1 || parent.Children()[0].Pid() != child.Pid() {
		t.Fatal("expected parent to record the child")
	}
	if child.Parent().Pid() != parent.Pid() {
		t.Fatal("expected child's parent to be set")
	}

	parentTC := parent.ReadTrapContext(env)
	childTC := child.ReadTrapContext(env)
	if childTC.Sepc != parentTC.Sepc {
		t.Fatal("expected child's trap context to be a byte copy of the parent's")
	}
	if childTC.KernelSp == parentTC.KernelSp {
		t.Fatal("expected child's kernel_sp to be rewritten to its own kernel stack")
	}
}

func TestWaitpidNoChildrenReturnsDashTwo(t *testing.T) {
	env, elfBytes := newTestEnv(t)
	parent, _ := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	_, _, _, e := parent.Waitpid(env, -1)
	if e != -2 {
		t.Fatalf("expected -2, got %d", e)
	}
}

func TestWaitpidNoMatchReturnsDashOne(t *testing.T) {
	env, elfBytes := newTestEnv(t)
	parent, _ := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	child := parent.Fork(env)
	_, _, _, e := parent.Waitpid(env, child.Pid()+99)
	if e != -1 {
		t.Fatalf("expected -1, got %d", e)
	}
}

func TestWaitpidReapsZombieChild(t *testing.T) {
	env, elfBytes := newTestEnv(t)
	parent, _ := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	child := parent.Fork(env)
	child.Accnt().UserAdd(1_000_000)
	child.Accnt().SysAdd(2_000_000)
	child.MarkExit(42)

	pid, code, rusage, e := parent.Waitpid(env, -1)
	if e != 0 {
		t.Fatalf("expected success, got err %d", e)
	}
	if pid != child.Pid() || code != 42 {
		t.Fatalf("got pid=%d code=%d", pid, code)
	}
	if len(rusage) != 32 {
		t.Fatalf("expected a 32-byte rusage snapshot, got %d bytes", len(rusage))
	}
	if len(parent.Children()) != 0 {
		t.Fatal("expected child removed from parent's children")
	}
	if parent.Accnt().UserNs != 1_000_000 || parent.Accnt().SysNs != 2_000_000 {
		t.Fatalf("expected child accounting merged into parent, got userns=%d sysns=%d",
			parent.Accnt().UserNs, parent.Accnt().SysNs)
	}
}

func TestReparentMovesChildrenAndUpdatesParentPointer(t *testing.T) {
	env, elfBytes := newTestEnv(t)
	init, _ := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	mid, _ := FromELF(env, elfBytes, fs.Stdin{}, fs.Stdout{})
	child := mid.Fork(env)

	mid.Reparent(init)

	if len(mid.Children()) != 0 {
		t.Fatal("expected mid to have no children after reparent")
	}
	found := false
	for _, c := range init.Children() {
		if c.Pid() == child.Pid() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected init to adopt mid's child")
	}
	if child.Parent().Pid() != init.Pid() {
		t.Fatal("expected child's parent pointer updated to init")
	}
}
