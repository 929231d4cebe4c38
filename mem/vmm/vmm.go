// Package vmm implements the virtual memory manager: map areas and
// memory sets, grounded on original_source/os/src/mm/memory_set.rs and
// written in the Go idiom of biscuit's vm package (vm/as.go,
// vm/userbuf.go) — terse `///` doc comments, panic on invariant
// violation, no hidden error swallowing.
package vmm

import (
	"bytes"
	"debug/elf"
	"io"

	"rvos/addr"
	"rvos/config"
	"rvos/mem/pagetable"
	"rvos/mem/pmm"
)

// MapType selects how a MapArea's virtual pages back physical frames.
type MapType int

const (
	// Identical maps vpn directly to the physical page number of the
	// same numeric value (used for the kernel's own identity-mapped
	// regions).
	Identical MapType = iota
	// Framed allocates a fresh physical frame per virtual page.
	Framed
)

// MapArea is a contiguous run of virtual pages sharing one map type and
// one permission set.
type MapArea struct {
	Range   addr.Range
	mapType MapType
	perm    pagetable.Flags
	frames  map[addr.VirtPageNum]*pmm.FrameTracker
}

// NewMapArea describes the area covering [startVA, endVA), rounded
// outward to whole pages.
func NewMapArea(startVA, endVA addr.VirtAddr, mapType MapType, perm pagetable.Flags) *MapArea {
	return &MapArea{
		Range:   addr.NewRange(startVA.Floor(), endVA.Ceil()),
		mapType: mapType,
		perm:    perm,
		frames:  make(map[addr.VirtPageNum]*pmm.FrameTracker),
	}
}

// cloneEmpty returns a sibling area with the same range/type/perm but
// no frames of its own, for from_other_proc-style deep copies.
func cloneEmpty(other *MapArea) *MapArea {
	return &MapArea{
		Range:   other.Range,
		mapType: other.mapType,
		perm:    other.perm,
		frames:  make(map[addr.VirtPageNum]*pmm.FrameTracker),
	}
}

func (a *MapArea) mapOne(pt *pagetable.Table, alloc *pmm.Allocator, vpn addr.VirtPageNum) {
	var ppn addr.PhysPageNum
	switch a.mapType {
	case Identical:
		ppn = addr.PhysPageNum(vpn)
	case Framed:
		frame, ok := alloc.Alloc()
		if !ok {
			panic("vmm: out of physical frames mapping area")
		}
		ppn = frame.PPN()
		a.frames[vpn] = frame
	}
	pt.Map(vpn, ppn, a.perm)
}

func (a *MapArea) unmapOne(pt *pagetable.Table, vpn addr.VirtPageNum) {
	if a.mapType == Framed {
		if f, ok := a.frames[vpn]; ok {
			f.Free()
			delete(a.frames, vpn)
		}
	}
	pt.Unmap(vpn)
}

func (a *MapArea) mapAll(pt *pagetable.Table, alloc *pmm.Allocator) {
	a.Range.All(func(vpn addr.VirtPageNum) { a.mapOne(pt, alloc, vpn) })
}

func (a *MapArea) unmapAll(pt *pagetable.Table) {
	a.Range.All(func(vpn addr.VirtPageNum) { a.unmapOne(pt, vpn) })
}

// copyData copies data into the area's physical frames, one page at a
// time starting at the area's first page. The area must be Framed; the
// remainder of the last frame is left zero (frames are zeroed on
// alloc).
func (a *MapArea) copyData(pt *pagetable.Table, ram *pmm.RAM, data []byte) {
	if a.mapType != Framed {
		panic("vmm: cannot copy data into an Identical area")
	}
	vpn := a.Range.Start
	for start := 0; start < len(data); {
		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("vmm: copyData found an unmapped vpn")
		}
		n := len(data) - start
		if n > config.PageSize {
			n = config.PageSize
		}
		copy(ram.Page(pte.PPN())[:n], data[start:start+n])
		start += n
		vpn = vpn.StepByOne()
	}
}

// MemorySet is a page table together with the ordered list of areas
// that contributed its mappings.
type MemorySet struct {
	pt    *pagetable.Table
	areas []*MapArea
	alloc *pmm.Allocator
	ram   *pmm.RAM
}

// NewBare creates an empty memory set with a fresh root page table.
func NewBare(alloc *pmm.Allocator) *MemorySet {
	return &MemorySet{pt: pagetable.New(alloc), alloc: alloc, ram: alloc.RAM()}
}

// Token returns the satp value for this memory set's page table.
func (ms *MemorySet) Token() uint64 { return ms.pt.Token() }

// Translate looks up the leaf PTE for vpn in this memory set.
func (ms *MemorySet) Translate(vpn addr.VirtPageNum) (pagetable.PTE, bool) { return ms.pt.Translate(vpn) }

// MapTrampoline installs the single shared trampoline mapping, R|X, no
// U. It is not tracked as an area: it survives RecycleDataPages and is
// identical in every address space.
func (ms *MemorySet) MapTrampoline(trampolinePPN addr.PhysPageNum) {
	ms.pt.Map(addr.VirtAddr(config.TRAMPOLINE).VPN(), trampolinePPN, pagetable.R|pagetable.X)
}

// Push maps every VPN of area into the page table, optionally copies
// data into it, then records it.
func (ms *MemorySet) Push(area *MapArea, data []byte) {
	area.mapAll(ms.pt, ms.alloc)
	if data != nil {
		area.copyData(ms.pt, ms.ram, data)
	}
	ms.areas = append(ms.areas, area)
}

// InsertFramedArea pushes a fresh Framed area over [startVA, endVA),
// assuming no conflicts with existing areas.
func (ms *MemorySet) InsertFramedArea(startVA, endVA addr.VirtAddr, perm pagetable.Flags) {
	ms.Push(NewMapArea(startVA, endVA, Framed, perm), nil)
}

// RemoveAreaWithStartVPN unmaps and drops the area whose range begins
// at startVPN, if one exists.
func (ms *MemorySet) RemoveAreaWithStartVPN(startVPN addr.VirtPageNum) {
	for i, area := range ms.areas {
		if area.Range.Start == startVPN {
			area.unmapAll(ms.pt)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return
		}
	}
}

// satpWrite is overridden on riscv64 builds to perform the real CSR
// write; the portable build leaves it a no-op so Activate is safe to
// call from host tests.
var satpWrite = func(token uint64) {}

// Activate writes this memory set's token to satp and fences the TLB.
func (ms *MemorySet) Activate() {
	satpWrite(ms.Token())
}

// RecycleDataPages frees every frame owned by every area (but leaves
// the page table's own mappings and root frame intact — those belong to
// the page table itself and are freed separately via DestroyPageTable).
func (ms *MemorySet) RecycleDataPages() {
	for _, area := range ms.areas {
		for vpn, f := range area.frames {
			f.Free()
			delete(area.frames, vpn)
		}
	}
	ms.areas = nil
}

// DestroyPageTable frees the root frame and every intermediate table
// frame this memory set's page table owns. Call after
// RecycleDataPages.
func (ms *MemorySet) DestroyPageTable() {
	ms.pt.Destroy()
}

// KernelSegment names one identity-mapped kernel region.
type KernelSegment struct {
	Start addr.VirtAddr
	End   addr.VirtAddr
	Perm  pagetable.Flags
}

// KernelLayout describes the boundaries the kernel entrypoint measured
// for its own image and the platform's MMIO windows. On real hardware
// these come from linker symbols (stext/etext/.../ekernel); this
// simulated kernel instead takes them as an explicit, host-supplied
// table.
type KernelLayout struct {
	Text, Rodata, Data, Bss KernelSegment
	PhysRest                KernelSegment // [ekernel, MEMORY_END), R|W
	MMIO                    []KernelSegment
}

// NewKernel constructs the kernel address space: trampoline, then
// identity maps for .text/.rodata/.data/.bss, remaining physical RAM,
// and every MMIO window.
func NewKernel(alloc *pmm.Allocator, trampolinePPN addr.PhysPageNum, layout KernelLayout) *MemorySet {
	ms := NewBare(alloc)
	ms.MapTrampoline(trampolinePPN)
	ms.Push(NewMapArea(layout.Text.Start, layout.Text.End, Identical, pagetable.R|pagetable.X), nil)
	ms.Push(NewMapArea(layout.Rodata.Start, layout.Rodata.End, Identical, pagetable.R), nil)
	ms.Push(NewMapArea(layout.Data.Start, layout.Data.End, Identical, pagetable.R|pagetable.W), nil)
	ms.Push(NewMapArea(layout.Bss.Start, layout.Bss.End, Identical, pagetable.R|pagetable.W), nil)
	ms.Push(NewMapArea(layout.PhysRest.Start, layout.PhysRest.End, Identical, pagetable.R|pagetable.W), nil)
	for _, m := range layout.MMIO {
		ms.Push(NewMapArea(m.Start, m.End, Identical, pagetable.R|pagetable.W), nil)
	}
	return ms
}

// FromELF builds a user memory set from an ELF64 image: one Framed area
// per PT_LOAD segment (permissions from p_flags, always U), a guard
// page, a Framed R|W|U user stack, and a Framed R|W TRAP_CONTEXT page.
// It returns the memory set, the initial user stack pointer, and the
// entry point.
func FromELF(alloc *pmm.Allocator, trampolinePPN addr.PhysPageNum, elfBytes []byte) (*MemorySet, addr.VirtAddr, uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, 0, 0, err
	}
	ms := NewBare(alloc)
	ms.MapTrampoline(trampolinePPN)

	var maxEndVPN addr.VirtPageNum
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		startVA := addr.VirtAddr(prog.Vaddr)
		endVA := addr.VirtAddr(prog.Vaddr + prog.Memsz)
		perm := pagetable.U
		if prog.Flags&elf.PF_R != 0 {
			perm |= pagetable.R
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= pagetable.W
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= pagetable.X
		}
		area := NewMapArea(startVA, endVA, Framed, perm)
		if area.Range.End > maxEndVPN {
			maxEndVPN = area.Range.End
		}
		data := make([]byte, prog.Filesz)
		if _, err := io.ReadFull(prog.Open(), data); err != nil {
			return nil, 0, 0, err
		}
		ms.Push(area, data)
	}

	userStackBottom := addr.VirtAddr(uint64(maxEndVPN.Addr()) + uint64(config.PageSize)) // one guard page
	userStackTop := addr.VirtAddr(uint64(userStackBottom) + uint64(config.UserStackSize))
	ms.Push(NewMapArea(userStackBottom, userStackTop, Framed, pagetable.R|pagetable.W|pagetable.U), nil)

	ms.Push(NewMapArea(addr.VirtAddr(config.TrapContextAddr), addr.VirtAddr(config.TRAMPOLINE), Framed, pagetable.R|pagetable.W), nil)

	return ms, userStackTop, f.Entry, nil
}

// FromOtherProc deep-copies another memory set: identical virtual
// layout and byte contents, fully independent physical frames.
func FromOtherProc(alloc *pmm.Allocator, trampolinePPN addr.PhysPageNum, other *MemorySet) *MemorySet {
	ms := NewBare(alloc)
	ms.MapTrampoline(trampolinePPN)
	for _, oarea := range other.areas {
		area := cloneEmpty(oarea)
		ms.Push(area, nil)
		oarea.Range.All(func(vpn addr.VirtPageNum) {
			srcPTE, ok := other.pt.Translate(vpn)
			if !ok {
				panic("vmm: source vpn missing during deep copy")
			}
			dstPTE, ok := ms.pt.Translate(vpn)
			if !ok {
				panic("vmm: dest vpn missing during deep copy")
			}
			copy(ms.ram.Page(dstPTE.PPN()), other.ram.Page(srcPTE.PPN()))
		})
	}
	return ms
}

// translateBytes walks [va, va+length) through pt and returns the
// per-frame slices covering it, in order.
func translateBytes(ram *pmm.RAM, pt *pagetable.Table, va addr.VirtAddr, length int) [][]byte {
	var out [][]byte
	start := uint64(va)
	end := start + uint64(length)
	for start < end {
		vpn := addr.VirtAddr(start).Floor()
		pte, ok := pt.Translate(vpn)
		if !ok || !pte.Valid() {
			panic("vmm: user buffer spans an unmapped page")
		}
		page := ram.Page(pte.PPN())
		pageEnd := (uint64(vpn) + 1) << config.PGSHIFT
		sliceEnd := end
		if pageEnd < sliceEnd {
			sliceEnd = pageEnd
		}
		off := start - uint64(vpn)<<config.PGSHIFT
		out = append(out, page[off:off+(sliceEnd-start)])
		start = sliceEnd
	}
	return out
}

// TranslatedByteBuffer returns the per-frame slice list covering
// [va, va+length) in this memory set.
func (ms *MemorySet) TranslatedByteBuffer(va addr.VirtAddr, length int) [][]byte {
	return translateBytes(ms.ram, ms.pt, va, length)
}

// TranslatedByteBufferFromToken is the same translation performed
// against a read-only view of another address space, identified only by
// its satp token (used by syscall handlers that only have
// current_user_token()).
func TranslatedByteBufferFromToken(alloc *pmm.Allocator, token uint64, va addr.VirtAddr, length int) [][]byte {
	view := pagetable.FromToken(alloc, token)
	return translateBytes(alloc.RAM(), view, va, length)
}

// TranslatedStr reads a NUL-terminated string from user memory at va.
// Documented limitation: the string must lie entirely within a single
// page; ok is false if no NUL byte is found before the page ends.
func (ms *MemorySet) TranslatedStr(va addr.VirtAddr) (string, bool) {
	vpn := va.Floor()
	pte, ok := ms.pt.Translate(vpn)
	if !ok || !pte.Valid() {
		return "", false
	}
	page := ms.ram.Page(pte.PPN())
	off := va.PageOffset()
	for i := off; i < uint64(len(page)); i++ {
		if page[i] == 0 {
			return string(page[off:i]), true
		}
	}
	return "", false
}

// TranslatedStrFromToken is TranslatedStr performed against a
// read-only view of another address space, identified only by its
// satp token (used by the exec syscall handler, which only has
// current_user_token()).
func TranslatedStrFromToken(alloc *pmm.Allocator, token uint64, va addr.VirtAddr) (string, bool) {
	view := pagetable.FromToken(alloc, token)
	vpn := va.Floor()
	pte, ok := view.Translate(vpn)
	if !ok || !pte.Valid() {
		return "", false
	}
	page := alloc.RAM().Page(pte.PPN())
	off := va.PageOffset()
	for i := off; i < uint64(len(page)); i++ {
		if page[i] == 0 {
			return string(page[off:i]), true
		}
	}
	return "", false
}

// KernelStackRange computes the [bottom, top) VA range for kernel stack
// slot idx: slot 0 ends directly at TRAMPOLINE, and one guard page sits
// between each pair of adjacent stacks.
func KernelStackRange(idx int) (bottom, top addr.VirtAddr) {
	top = addr.VirtAddr(config.TRAMPOLINE - uint64(idx)*uint64(config.KernelStackSize+config.PageSize))
	bottom = addr.VirtAddr(uint64(top) - uint64(config.KernelStackSize))
	return bottom, top
}

// KstackAlloc inserts the Framed R|W area for kernel stack slot idx and
// returns its top (the initial sp for that task).
func (ms *MemorySet) KstackAlloc(idx int) addr.VirtAddr {
	bottom, top := KernelStackRange(idx)
	ms.InsertFramedArea(bottom, top, pagetable.R|pagetable.W)
	return top
}

// KstackDealloc removes the kernel stack area for slot idx.
func (ms *MemorySet) KstackDealloc(idx int) {
	bottom, _ := KernelStackRange(idx)
	ms.RemoveAreaWithStartVPN(bottom.Floor())
}
