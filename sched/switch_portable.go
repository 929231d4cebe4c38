//go:build !riscv64

package sched

import "rvos/task"

// Switch is unavailable outside riscv64 builds: a literal context switch
// needs control over the callee-saved register set and stack pointer,
// which only the assembly stub built for riscv64 can provide (see
// switch_riscv64.s) — spec.md notes this explicitly ("switch routine
// cannot be expressed portably"). This stub exists purely so the package
// compiles for host tests exercising Schedule's bookkeeping (ready-queue
// order, processor current-task slot, state transitions); it performs no
// control transfer.
func Switch(outgoing, incoming *task.Context) {}
