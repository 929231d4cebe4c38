// Package addr defines the four addressing primitives used throughout the
// kernel: physical/virtual addresses and physical/virtual page numbers.
// It is grounded on biscuit's mem.Pa_t plus the Sv39 address splitting in
// the original rCore-style page_table.rs (VPN -> [L2, L1, L0] indexes).
package addr

import (
	"fmt"

	"rvos/config"
)

// physMask keeps physical addresses within the spec's 56 significant bits.
const physMask = (uint64(1) << 56) - 1

// ppnMask keeps page numbers within Sv39's 44 bits.
const ppnMask = (uint64(1) << config.PPNBits) - 1

// PhysAddr is a 56-bit physical address.
type PhysAddr uint64

// VirtAddr is a 64-bit virtual address (only the low 39 bits are
// architecturally significant on Sv39, but callers may carry the high
// canonical bits of TRAMPOLINE/TRAP_CONTEXT, which sit at the very top of
// the uint64 range).
type VirtAddr uint64

// PhysPageNum is a physical page number (address >> PGSHIFT).
type PhysPageNum uint64

// VirtPageNum is a virtual page number (address >> PGSHIFT).
type VirtPageNum uint64

// NewPhysAddr masks pa to the architecturally significant bits.
func NewPhysAddr(pa uint64) PhysAddr { return PhysAddr(pa & physMask) }

// Uint64 returns the raw address value.
func (pa PhysAddr) Uint64() uint64 { return uint64(pa) }

// PageOffset returns the in-page offset of pa.
func (pa PhysAddr) PageOffset() uint64 { return uint64(pa) & config.PageOffsetMask }

// Floor returns the page number containing pa, rounding down.
func (pa PhysAddr) Floor() PhysPageNum { return PhysPageNum(uint64(pa) >> config.PGSHIFT) }

// Ceil returns the page number one past pa if pa is not page-aligned,
// otherwise the page number of pa itself.
func (pa PhysAddr) Ceil() PhysPageNum {
	if pa == 0 {
		return 0
	}
	return PhysPageNum((uint64(pa) + uint64(config.PageSize) - 1) >> config.PGSHIFT)
}

// PPN converts pa to a page number, panicking if pa is not page-aligned.
// This mirrors the spec's requirement that address->page-number
// conversion enforces alignment.
func (pa PhysAddr) PPN() PhysPageNum {
	if pa.PageOffset() != 0 {
		panic(fmt.Sprintf("addr: physical address %#x is not page aligned", uint64(pa)))
	}
	return pa.Floor()
}

// Addr returns the physical address at the start of this page.
func (ppn PhysPageNum) Addr() PhysAddr {
	return PhysAddr(uint64(ppn) << config.PGSHIFT)
}

// Uint64 returns the raw page-number value, masked to 44 bits.
func (ppn PhysPageNum) Uint64() uint64 { return uint64(ppn) & ppnMask }

// Uint64 returns the raw address value.
func (va VirtAddr) Uint64() uint64 { return uint64(va) }

// PageOffset returns the in-page offset of va.
func (va VirtAddr) PageOffset() uint64 { return uint64(va) & config.PageOffsetMask }

// Floor returns the page number containing va, rounding down.
func (va VirtAddr) Floor() VirtPageNum { return VirtPageNum(uint64(va) >> config.PGSHIFT) }

// Ceil returns the page number one past va if va is not page-aligned,
// otherwise the page number of va itself.
func (va VirtAddr) Ceil() VirtPageNum {
	if va == 0 {
		return 0
	}
	return VirtPageNum((uint64(va) + uint64(config.PageSize) - 1) >> config.PGSHIFT)
}

// VPN converts va to a page number, panicking if va is not page-aligned.
func (va VirtAddr) VPN() VirtPageNum {
	if va.PageOffset() != 0 {
		panic(fmt.Sprintf("addr: virtual address %#x is not page aligned", uint64(va)))
	}
	return va.Floor()
}

// Addr returns the virtual address at the start of this page.
func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(uint64(vpn) << config.PGSHIFT)
}

// Indexes splits vpn into the three 9-bit Sv39 walk indices, ordered
// [L2, L1, L0] as required for a root-to-leaf page table walk.
func (vpn VirtPageNum) Indexes() [config.VPNLevels]uint {
	var idx [config.VPNLevels]uint
	v := uint64(vpn)
	const mask = (uint64(1) << config.VPNBits) - 1
	for i := config.VPNLevels - 1; i >= 0; i-- {
		idx[i] = uint(v & mask)
		v >>= config.VPNBits
	}
	return idx
}

// StepByOne advances vpn to the next page number, mirroring the
// StepByOne trait used to iterate a VPNRange.
func (vpn VirtPageNum) StepByOne() VirtPageNum { return vpn + 1 }

// Range is a half-open [Start, End) range of virtual page numbers.
type Range struct {
	Start VirtPageNum
	End   VirtPageNum
}

// NewRange builds a Range covering [start, end).
func NewRange(start, end VirtPageNum) Range { return Range{Start: start, End: end} }

// Len returns the number of pages covered by the range.
func (r Range) Len() int { return int(r.End - r.Start) }

// Contains reports whether vpn lies in [Start, End).
func (r Range) Contains(vpn VirtPageNum) bool { return vpn >= r.Start && vpn < r.End }

// All calls f for every VPN in the range, in ascending order.
func (r Range) All(f func(VirtPageNum)) {
	for v := r.Start; v < r.End; v++ {
		f(v)
	}
}
