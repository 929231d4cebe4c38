// Package fs implements the file-descriptor capability layer: the
// File interface, the Stdin/Stdout console-backed variants, and the
// sparse per-task fd table. Grounded on biscuit's fd.Fd_t (an
// interface-valued Fops field plus permission bits) and spec.md §4.9's
// read/write syscall contracts.
package fs

import "sync"

// File is a capability object reachable through a file descriptor.
// Read and Write operate on the per-frame slice lists vmm produces
// when it translates a user buffer.
type File interface {
	Readable() bool
	Writable() bool
	Read(bufs [][]byte) (int, error)
	Write(bufs [][]byte) (int, error)
}

// Yield is called by Stdin.Read while no byte is available. It must
// invoke the scheduler's mark_current_suspend+schedule and return once
// this task is rescheduled. cmd/rvos installs the real scheduler hook
// at boot; this package cannot import sched directly without a cycle
// (sched's task package holds an fs.Table per task).
var Yield func() = func() {}

// ByteSource is the minimal console surface Stdin needs.
type ByteSource interface {
	ReadByte() (byte, bool)
}

// ByteSink is the minimal console surface Stdout needs.
type ByteSink interface {
	WriteByte(b byte)
}

// Stdin reads one character at a time from the console, yielding while
// none is available.
type Stdin struct {
	Console ByteSource
}

func (Stdin) Readable() bool                   { return true }
func (Stdin) Writable() bool                   { return false }
func (Stdin) Write(bufs [][]byte) (int, error) { panic("fs: stdin is not writable") }

// Read blocks (yielding) until one byte is available, then writes it
// as the first byte of bufs and returns 1. This mirrors the spec's
// "exactly one byte is written" contract regardless of the requested
// length.
func (s Stdin) Read(bufs [][]byte) (int, error) {
	for {
		if b, ok := s.Console.ReadByte(); ok {
			if len(bufs) == 0 || len(bufs[0]) == 0 {
				return 0, nil
			}
			bufs[0][0] = b
			return 1, nil
		}
		Yield()
	}
}

// Stdout writes every byte of every buffer to the console, in order.
type Stdout struct {
	Console ByteSink
}

func (Stdout) Readable() bool                  { return false }
func (Stdout) Writable() bool                  { return true }
func (Stdout) Read(bufs [][]byte) (int, error) { panic("fs: stdout is not readable") }

func (s Stdout) Write(bufs [][]byte) (int, error) {
	n := 0
	for _, b := range bufs {
		for _, c := range b {
			s.Console.WriteByte(c)
		}
		n += len(b)
	}
	return n, nil
}

// Table is a sparse fd table. AllocFd returns the lowest free slot,
// extending the table only when every existing slot is occupied.
type Table struct {
	mu  sync.Mutex
	fds []File
}

// NewTable returns an empty fd table.
func NewTable() *Table { return &Table{} }

// AllocFd installs f at the lowest free slot and returns that fd.
func (t *Table) AllocFd(f File) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.fds {
		if cur == nil {
			t.fds[i] = f
			return i
		}
	}
	t.fds = append(t.fds, f)
	return len(t.fds) - 1
}

// Get returns the File at fd, or ok=false if the slot is free or out
// of range.
func (t *Table) Get(fd int) (File, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == nil {
		return nil, false
	}
	return t.fds[fd], true
}

// Close frees fd's slot, returning false if it was already free.
func (t *Table) Close(fd int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fd < 0 || fd >= len(t.fds) || t.fds[fd] == nil {
		return false
	}
	t.fds[fd] = nil
	return true
}

// Clone returns a new table of the same length holding the same File
// references (fork shares the underlying File objects, not copies).
func (t *Table) Clone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := &Table{fds: make([]File, len(t.fds))}
	copy(nt.fds, t.fds)
	return nt
}
