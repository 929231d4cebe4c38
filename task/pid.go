package task

import (
	"sync"

	"rvos/defs"
)

// pidAllocator is a monotonic counter with a LIFO recycled list,
// grounded on original_source/os/src/process/pid.rs's PidAllocator.
type pidAllocator struct {
	mu       sync.Mutex
	current  defs.Pid_t
	recycled []defs.Pid_t
}

var pids = &pidAllocator{}

// PidHandle owns one allocated PID; Release recycles it exactly once.
type PidHandle struct {
	pid      defs.Pid_t
	released bool
}

// Pid returns the underlying PID value.
func (h *PidHandle) Pid() defs.Pid_t { return h.pid }

// Release returns the PID to the allocator. Calling it twice panics,
// mirroring the fatal double-free discipline used throughout this
// kernel's resource trackers (frame allocator, page table frames).
func (h *PidHandle) Release() {
	if h.released {
		panic("task: PidHandle released twice")
	}
	h.released = true
	pids.dealloc(h.pid)
}

func (a *pidAllocator) alloc() *PidHandle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.recycled); n > 0 {
		pid := a.recycled[n-1]
		a.recycled = a.recycled[:n-1]
		return &PidHandle{pid: pid}
	}
	pid := a.current
	a.current++
	return &PidHandle{pid: pid}
}

func (a *pidAllocator) dealloc(pid defs.Pid_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recycled = append(a.recycled, pid)
}

// AllocPid allocates a PID handle, reusing the most recently released
// PID first. The first call returns PID 0 (defs.InitPid), which the
// kernel gives to its init process.
func AllocPid() *PidHandle { return pids.alloc() }
