// Package pmm implements the physical frame allocator: a stack allocator
// over a half-open PPN range with a LIFO recycled list, grounded in
// biscuit's mem.Physmem_t (mem/mem.go) but simplified to a single hart,
// since SMP is out of scope for this kernel.
package pmm

import (
	"fmt"
	"io"
	"sync"

	"github.com/google/pprof/profile"

	"rvos/addr"
	"rvos/config"
)

// RAM is the byte-addressable backing store for the managed physical page
// range, standing in for the direct-mapped view biscuit exposes via
// Physmem_t.Dmap. On real hardware this isn't necessary (the kernel just
// dereferences physical addresses through its identity map); in this
// simulated kernel it gives frame contents somewhere to live so page
// tables and memory sets can be read back in tests.
type RAM struct {
	start addr.PhysPageNum
	bytes []byte
}

// NewRAM allocates backing storage for the page range [start, end).
func NewRAM(start, end addr.PhysPageNum) *RAM {
	if end < start {
		panic("pmm: RAM range end before start")
	}
	n := int(end - start)
	return &RAM{start: start, bytes: make([]byte, n*config.PageSize)}
}

// Page returns the PageSize-byte slice backing ppn.
func (r *RAM) Page(ppn addr.PhysPageNum) []byte {
	if ppn < r.start || int(ppn-r.start)*config.PageSize >= len(r.bytes) {
		panic(fmt.Sprintf("pmm: ppn %#x out of managed RAM range", ppn.Uint64()))
	}
	off := int(ppn-r.start) * config.PageSize
	return r.bytes[off : off+config.PageSize]
}

// Allocator is a stack allocator over [start, end): alloc pops the
// recycled LIFO first, otherwise bumps a cursor; dealloc rejects any PPN
// at or beyond the cursor, or already recycled, as a fatal double-free.
type Allocator struct {
	mu       sync.Mutex
	ram      *RAM
	start    addr.PhysPageNum
	end      addr.PhysPageNum
	current  addr.PhysPageNum
	recycled []addr.PhysPageNum
	events   []allocEvent
}

// allocEvent is one alloc or free, recorded for Alloc_profile. kind is
// "alloc" or "free"; seq is the event's position in allocation order,
// which is the only thing that makes a frame's lifetime visible in the
// resulting profile (pprof has no native concept of "this sample
// matches that one").
type allocEvent struct {
	ppn  addr.PhysPageNum
	kind string
	seq  int64
}

// NewAllocator creates an allocator managing the half-open PPN range
// [start, end), backed by a freshly allocated RAM.
func NewAllocator(start, end addr.PhysPageNum) *Allocator {
	return &Allocator{
		ram:     NewRAM(start, end),
		start:   start,
		end:     end,
		current: start,
	}
}

// RAM returns the backing store, for callers that need to read/write
// frame contents directly (page tables, memory set copies).
func (a *Allocator) RAM() *RAM { return a.ram }

// Alloc returns a zero-initialized frame, or ok=false at exhaustion.
func (a *Allocator) Alloc() (*FrameTracker, bool) {
	a.mu.Lock()
	var ppn addr.PhysPageNum
	if n := len(a.recycled); n > 0 {
		ppn = a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
	} else {
		if a.current >= a.end {
			a.mu.Unlock()
			return nil, false
		}
		ppn = a.current
		a.current++
	}
	a.mu.Unlock()

	page := a.ram.Page(ppn)
	for i := range page {
		page[i] = 0
	}

	a.mu.Lock()
	a.events = append(a.events, allocEvent{ppn: ppn, kind: "alloc", seq: int64(len(a.events))})
	a.mu.Unlock()

	return &FrameTracker{ppn: ppn, a: a}, true
}

func (a *Allocator) dealloc(ppn addr.PhysPageNum) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if ppn >= a.current {
		panic(fmt.Sprintf("pmm: dealloc of frame %#x that was never allocated", ppn.Uint64()))
	}
	for _, r := range a.recycled {
		if r == ppn {
			panic(fmt.Sprintf("pmm: double free of frame %#x", ppn.Uint64()))
		}
	}
	a.recycled = append(a.recycled, ppn)
	a.events = append(a.events, allocEvent{ppn: ppn, kind: "free", seq: int64(len(a.events))})
}

// Alloc_profile writes a pprof-format profile of every alloc/free event
// recorded so far to w, one sample per event with a "ppn" and "kind"
// label. Mirrors the role biscuit's own pprof dependency plays: a
// profile consumable by `go tool pprof` rather than a bespoke log
// format, at the cost of needing a location/function per sample (both
// stand-ins here, since frame events have no call stack of their own).
func (a *Allocator) Alloc_profile(w io.Writer) error {
	a.mu.Lock()
	events := make([]allocEvent, len(a.events))
	copy(events, a.events)
	a.mu.Unlock()

	fn := &profile.Function{ID: 1, Name: "pmm.Alloc", SystemName: "pmm.Alloc", Filename: "frame.go"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "frames", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "event", Unit: "count"},
		Period:     1,
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
	}
	for _, ev := range events {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{1},
			Label: map[string][]string{
				"kind": {ev.kind},
				"ppn":  {fmt.Sprintf("%#x", ev.ppn.Uint64())},
			},
			NumLabel: map[string][]int64{"seq": {ev.seq}},
		})
	}
	return p.Write(w)
}

// FrameTracker uniquely owns one physical frame. Free returns it to the
// allocator exactly once; calling Free twice is a fatal double-free,
// mirroring the spec's requirement that double-free be detectable.
type FrameTracker struct {
	ppn   addr.PhysPageNum
	a     *Allocator
	freed bool
}

// PPN returns the physical page number this tracker owns.
func (f *FrameTracker) PPN() addr.PhysPageNum { return f.ppn }

// Free releases the frame back to its allocator.
func (f *FrameTracker) Free() {
	if f.freed {
		panic(fmt.Sprintf("pmm: FrameTracker for %#x freed twice", f.ppn.Uint64()))
	}
	f.freed = true
	f.a.dealloc(f.ppn)
}
