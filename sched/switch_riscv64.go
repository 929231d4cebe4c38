//go:build riscv64

package sched

import "rvos/task"

// Switch is implemented in switch_riscv64.s: it stores the outgoing
// context's ra, sp, and s0..s11, loads the incoming context's, and
// returns — landing in whatever the incoming context's ra points at
// (trap_return, for a task's first schedule).
func Switch(outgoing, incoming *task.Context)
