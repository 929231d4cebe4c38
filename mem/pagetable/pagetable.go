// Package pagetable implements the Sv39 three-level page table: PTE
// encoding and the walk/map/unmap/translate operations described in
// spec.md §4.2. It is grounded on biscuit's PTE_* flag constants
// (vm/as.go, mem/mem.go) and the walk logic of
// original_source/os/src/mm/page_table.rs.
package pagetable

import (
	"encoding/binary"
	"fmt"

	"rvos/addr"
	"rvos/config"
	"rvos/mem/pmm"
)

// Flags are the low 8 bits of a PTE.
type Flags uint64

// PTE permission/attribute bits.
const (
	V Flags = 1 << 0 // valid
	R Flags = 1 << 1 // readable
	W Flags = 1 << 2 // writable
	X Flags = 1 << 3 // executable
	U Flags = 1 << 4 // user-accessible
	G Flags = 1 << 5 // global
	A Flags = 1 << 6 // accessed
	D Flags = 1 << 7 // dirty
)

const ppnShift = 10
const ppnMask = (uint64(1) << config.PPNBits) - 1
const flagsMask = uint64(0xff)
const satpModeSv39 = uint64(8) << 60
const entriesPerPage = config.PageSize / 8 // 512 PTEs per table page

// PTE is a 64-bit Sv39 page table entry.
type PTE uint64

// NewPTE encodes ppn and flags into a PTE.
func NewPTE(ppn addr.PhysPageNum, flags Flags) PTE {
	return PTE(ppn.Uint64()<<ppnShift | uint64(flags)&flagsMask)
}

// PPN extracts the physical page number from the PTE.
func (p PTE) PPN() addr.PhysPageNum { return addr.PhysPageNum((uint64(p) >> ppnShift) & ppnMask) }

// Flags extracts the flag bits from the PTE.
func (p PTE) Flags() Flags { return Flags(uint64(p) & flagsMask) }

// Valid reports whether the V bit is set.
func (p PTE) Valid() bool { return p.Flags()&V != 0 }

// Readable reports whether the R bit is set.
func (p PTE) Readable() bool { return p.Flags()&R != 0 }

// Writable reports whether the W bit is set.
func (p PTE) Writable() bool { return p.Flags()&W != 0 }

// Executable reports whether the X bit is set.
func (p PTE) Executable() bool { return p.Flags()&X != 0 }

// IsLeaf reports whether this PTE is a leaf mapping (any of R/W/X set).
func (p PTE) IsLeaf() bool { return p.Flags()&(R|W|X) != 0 }

// Table is an Sv39 page table. It owns its root frame plus every
// intermediate table frame it allocated while walking, unless it is a
// read-only view constructed FromToken, which owns nothing and must
// never allocate.
type Table struct {
	alloc    *pmm.Allocator
	rootPPN  addr.PhysPageNum
	frames   []*pmm.FrameTracker // frames[0] is the root; later entries are intermediate tables
	readOnly bool
}

// New allocates a fresh, empty page table with its own root frame.
func New(alloc *pmm.Allocator) *Table {
	root, ok := alloc.Alloc()
	if !ok {
		panic("pagetable: no physical frame available for root")
	}
	return &Table{alloc: alloc, rootPPN: root.PPN(), frames: []*pmm.FrameTracker{root}}
}

// FromToken constructs a read-only view of the page table identified by
// an satp token, for translating pointers that live in another address
// space. The view owns no frames and must not allocate.
func FromToken(alloc *pmm.Allocator, token uint64) *Table {
	return &Table{alloc: alloc, rootPPN: addr.PhysPageNum(token & ppnMask), readOnly: true}
}

// Token returns the satp value for this table: mode Sv39 in the top 4
// bits, root PPN in the low 44 bits.
func (t *Table) Token() uint64 {
	return satpModeSv39 | t.rootPPN.Uint64()
}

func (t *Table) readPTE(ppn addr.PhysPageNum, idx uint) PTE {
	page := t.alloc.RAM().Page(ppn)
	off := idx * 8
	return PTE(binary.LittleEndian.Uint64(page[off : off+8]))
}

func (t *Table) writePTE(ppn addr.PhysPageNum, idx uint, pte PTE) {
	page := t.alloc.RAM().Page(ppn)
	off := idx * 8
	binary.LittleEndian.PutUint64(page[off:off+8], uint64(pte))
}

// walk descends from the root to the L0 slot for vpn. When create is
// true, invalid intermediate PTEs are replaced with freshly allocated,
// zero-initialized non-leaf tables (V=1, R=W=X=0). It returns the
// physical page holding the leaf slot and the index within that page;
// ok is false if create is false and an intermediate PTE was invalid.
func (t *Table) walk(vpn addr.VirtPageNum, create bool) (leafPage addr.PhysPageNum, idx uint, ok bool) {
	cur := t.rootPPN
	idxs := vpn.Indexes()
	for level := 0; level < config.VPNLevels; level++ {
		i := idxs[level]
		if level == config.VPNLevels-1 {
			return cur, i, true
		}
		pte := t.readPTE(cur, i)
		if !pte.Valid() {
			if !create {
				return 0, 0, false
			}
			if t.readOnly {
				panic("pagetable: read-only view must not allocate frames")
			}
			frame, ok := t.alloc.Alloc()
			if !ok {
				panic("pagetable: out of physical frames while walking page table")
			}
			t.frames = append(t.frames, frame)
			pte = NewPTE(frame.PPN(), V)
			t.writePTE(cur, i, pte)
		}
		cur = pte.PPN()
	}
	panic("pagetable: unreachable")
}

// FindOrCreate walks to the L0 slot for vpn, creating intermediate
// tables as needed, and returns its location.
func (t *Table) FindOrCreate(vpn addr.VirtPageNum) (page addr.PhysPageNum, idx uint) {
	page, idx, _ = t.walk(vpn, true)
	return
}

// Map installs vpn -> ppn with the given flags. flags.V must be 0 (it
// is implicitly OR-ed in); the existing leaf must be invalid.
func (t *Table) Map(vpn addr.VirtPageNum, ppn addr.PhysPageNum, flags Flags) {
	if flags&V != 0 {
		panic("pagetable: caller must not set V explicitly")
	}
	page, idx := t.FindOrCreate(vpn)
	if t.readPTE(page, idx).Valid() {
		panic(fmt.Sprintf("pagetable: vpn %#x is already mapped", uint64(vpn)))
	}
	t.writePTE(page, idx, NewPTE(ppn, flags|V))
}

// Unmap clears the mapping for vpn, which must currently be valid.
func (t *Table) Unmap(vpn addr.VirtPageNum) {
	page, idx, ok := t.walk(vpn, false)
	if !ok {
		panic(fmt.Sprintf("pagetable: vpn %#x was never mapped", uint64(vpn)))
	}
	if !t.readPTE(page, idx).Valid() {
		panic(fmt.Sprintf("pagetable: vpn %#x is not currently mapped", uint64(vpn)))
	}
	t.writePTE(page, idx, 0)
}

// Translate returns the leaf PTE for vpn, if one exists. A leaf "exists"
// once all intermediate tables down to L0 are present, regardless of
// whether the leaf's own V bit is set.
func (t *Table) Translate(vpn addr.VirtPageNum) (PTE, bool) {
	page, idx, ok := t.walk(vpn, false)
	if !ok {
		return 0, false
	}
	return t.readPTE(page, idx), true
}

// Destroy frees every frame this table owns: intermediate tables first,
// then the root frame last. A read-only view owns nothing and cannot be
// destroyed.
func (t *Table) Destroy() {
	if t.readOnly {
		panic("pagetable: cannot destroy a read-only view")
	}
	for i := len(t.frames) - 1; i >= 0; i-- {
		t.frames[i].Free()
	}
	t.frames = nil
}
