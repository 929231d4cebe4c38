// Package accnt tracks per-task CPU accounting and renders it as an
// rusage-shaped byte buffer for the wait4 syscall's rusage pointer.
// Grounded on biscuit's accnt.Accnt_t.
package accnt

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"
)

// Accnt accumulates a task's user and system time in nanoseconds. The
// embedded mutex lets callers take a consistent snapshot when
// exporting usage.
type Accnt struct {
	sync.Mutex
	UserNs int64
	SysNs  int64

	// returnedAt is the wall-clock timestamp this task last returned to
	// user mode. HandleTrap reads it back on the next trap to charge the
	// elapsed wall time as user time before accounting the trap itself
	// as system time.
	returnedAt int64
}

// UserAdd adds delta nanoseconds to the user-time counter.
func (a *Accnt) UserAdd(delta int64) { atomic.AddInt64(&a.UserNs, delta) }

// SysAdd adds delta nanoseconds to the system-time counter.
func (a *Accnt) SysAdd(delta int64) { atomic.AddInt64(&a.SysNs, delta) }

// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt) Now() int64 { return time.Now().UnixNano() }

// IoTime removes time spent waiting for I/O from system time.
func (a *Accnt) IoTime(since int64) { a.SysAdd(since - a.Now()) }

// SleepTime removes time spent sleeping from system time.
func (a *Accnt) SleepTime(since int64) { a.SysAdd(since - a.Now()) }

// Finish adds the time elapsed since inttime to system time.
func (a *Accnt) Finish(inttime int64) { a.SysAdd(a.Now() - inttime) }

// MarkReturn records now as the moment this task returned to user mode.
func (a *Accnt) MarkReturn(now int64) { atomic.StoreInt64(&a.returnedAt, now) }

// ChargeUserTime adds the time elapsed since the last MarkReturn to user
// time. Called at the top of trap handling, before the trap itself is
// accounted as system time via Finish.
func (a *Accnt) ChargeUserTime(now int64) {
	since := atomic.LoadInt64(&a.returnedAt)
	if since == 0 {
		return
	}
	a.UserAdd(now - since)
}

// Add merges n's counters into a.
func (a *Accnt) Add(n *Accnt) {
	a.Lock()
	defer a.Unlock()
	a.UserNs += n.UserNs
	a.SysNs += n.SysNs
}

// Fetch takes a locked snapshot and renders it as rusage bytes.
func (a *Accnt) Fetch() []byte {
	a.Lock()
	defer a.Unlock()
	return a.toRusage()
}

// toRusage packs {ru_utime, ru_stime} (each a {sec, usec} timeval pair)
// into 32 bytes, matching the struct rusage layout the wait4 syscall
// writes through its rusage pointer.
func (a *Accnt) toRusage() []byte {
	ret := make([]byte, 4*8)
	totv := func(nanos int64) (int64, int64) {
		return nanos / 1e9, (nanos % 1e9) / 1000
	}
	off := 0
	for _, ns := range []int64{a.UserNs, a.SysNs} {
		secs, usecs := totv(ns)
		binary.LittleEndian.PutUint64(ret[off:], uint64(secs))
		off += 8
		binary.LittleEndian.PutUint64(ret[off:], uint64(usecs))
		off += 8
	}
	return ret
}
