// Package sched implements the ready queue, the single processor's
// current-task slot, and schedule()/mark_current_suspend/mark_current_exit.
// Grounded on original_source/os/src/process/manager.rs (FIFO queue),
// processor.rs (schedule's five-step algorithm), and mod.rs's
// mark_current_exit re-parenting and idle-pid shutdown.
package sched

import (
	"sync"

	"rvos/defs"
	"rvos/sbi"
	"rvos/task"
)

func init() {
	// task cannot import sched (sched already imports task), so sched
	// wires task.Yield itself at package init — unlike fs.Yield or
	// vmm's satpWrite hook, this crossing has no cycle to avoid; cmd/rvos
	// doesn't need to do anything for this one.
	task.Yield = func() {
		MarkCurrentSuspend()
		Schedule()
	}
}

type readyQueue struct {
	mu    sync.Mutex
	tasks []*task.TCB
}

var ready = &readyQueue{}

// AddTask pushes t to the back of the ready queue.
func AddTask(t *task.TCB) {
	ready.mu.Lock()
	defer ready.mu.Unlock()
	ready.tasks = append(ready.tasks, t)
}

// FetchTask pops the front of the ready queue.
func FetchTask() (*task.TCB, bool) {
	ready.mu.Lock()
	defer ready.mu.Unlock()
	if len(ready.tasks) == 0 {
		return nil, false
	}
	t := ready.tasks[0]
	ready.tasks = ready.tasks[1:]
	return t, true
}

type processor struct {
	mu      sync.Mutex
	current *task.TCB
}

var proc = &processor{}

// CurrentTask returns the task occupying the processor slot, or nil if
// none (only true transiently, between mark_current_suspend/exit and the
// next schedule()).
func CurrentTask() *task.TCB {
	proc.mu.Lock()
	defer proc.mu.Unlock()
	return proc.current
}

// initTask is the process re-parenting target: PID 0, installed once at
// boot via SetInitTask.
var initTask *task.TCB

// SetInitTask records the init process, used by MarkCurrentExit to
// re-parent a dying task's live children.
func SetInitTask(t *task.TCB) { initTask = t }

// Schedule is the single entry point used on every suspension or exit:
// fetch the next runnable task (busy-waiting if the queue is
// momentarily empty — PID 0 is always runnable until shutdown, so this
// terminates), install it as current, and switch to its context. The
// outgoing context is a scratch value if there was no previous task or
// it was Zombie (a Runnable previous task was already re-queued by
// MarkCurrentSuspend before this call).
func Schedule() {
	var next *task.TCB
	for {
		if t, ok := FetchTask(); ok {
			next = t
			break
		}
	}

	proc.mu.Lock()
	prev := proc.current
	proc.current = next
	proc.mu.Unlock()

	next.SetState(task.Running)
	nextCtx := next.ContextPtr()

	var outCtx *task.Context
	if prev == nil || prev.State() == task.Zombie {
		outCtx = &task.Context{}
	} else {
		outCtx = prev.ContextPtr()
	}

	Switch(outCtx, nextCtx)
}

// MarkCurrentSuspend takes the processor's current task, marks it
// Runnable, and re-queues it. Used by the timer tick, the yield
// syscall, and waitpid's poll loop.
func MarkCurrentSuspend() {
	proc.mu.Lock()
	cur := proc.current
	proc.current = nil
	proc.mu.Unlock()
	if cur == nil {
		return
	}
	cur.SetState(task.Runnable)
	AddTask(cur)
}

// MarkCurrentExit takes the processor's current task, marks it Zombie
// with the given exit code, and either shuts the machine down (the init
// process: the task installed by SetInitTask, or any task with PID 0) or
// re-parents its live children to init. The caller
// invokes Schedule() next.
func MarkCurrentExit(code int) {
	proc.mu.Lock()
	cur := proc.current
	proc.current = nil
	proc.mu.Unlock()
	if cur == nil {
		return
	}

	if cur == initTask || cur.Pid() == defs.InitPid {
		if code == 0 {
			sbi.Shutdown(sbi.SRSTReasonNone)
		} else {
			sbi.Shutdown(sbi.SRSTReasonSystemFailure)
		}
		return
	}

	cur.MarkExit(code)
	if initTask != nil {
		cur.Reparent(initTask)
	}
}
