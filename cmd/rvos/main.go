// Command rvos is the kernel entrypoint: OpenSBI hands off here in
// supervisor mode with a single hart running. Grounded on
// original_source/os/src/main.rs's boot sequence
// (clear_bss/logger::init/mm::init/trap::init/set_next_trigger/
// loader::init/add_init_proc/run_first_task), adapted to this kernel's
// package layout. There is no clear_bss step: the Go runtime's own
// startup already zeroes package-level state before main runs.
package main

import (
	_ "embed"
	"os"

	"rvos/addr"
	"rvos/config"
	"rvos/console"
	"rvos/diag"
	"rvos/fs"
	"rvos/klog"
	"rvos/loader"
	"rvos/mem/pagetable"
	"rvos/mem/pmm"
	"rvos/mem/vmm"
	"rvos/sched"
	"rvos/task"
	"rvos/timer"
	"rvos/trap"
)

// appsImg is the bundled kernel image: app count, offsets, concatenated
// ELF bytes, and a trailing name table (see rvos/loader). Produced by
// cmd/rvos-buildimg; the checked-in apps.img is the empty image (no
// bundled apps), replaced by a real build's output.
//
//go:embed apps.img
var appsImg []byte

func main() {
	defer diag.Recover()

	con := console.NewConsole()
	klog.Infof("booting")

	alloc := pmm.NewAllocator(
		addr.PhysAddr(config.KernelBase+config.KernelImageSize).Ceil(),
		addr.PhysAddr(config.EffectiveBoot.EffectiveMemoryEnd()).Floor(),
	)

	trampoline, ok := alloc.Alloc()
	if !ok {
		klog.Errorf("out of memory allocating the trampoline frame")
		os.Exit(1)
	}

	kernelMS := vmm.NewKernel(alloc, trampoline.PPN(), kernelLayout())
	kernelMS.Activate()
	klog.Infof("kernel address space active")

	env := &task.Env{Alloc: alloc, TrampolinePPN: trampoline.PPN(), KernelMS: kernelMS}

	// fs.Stdin.Read and task.Waitpid's poll loop both suspend rather
	// than spin; sched owns mark_current_suspend+schedule, so it (not
	// task or fs) must supply the hook, same crossing fs.Yield/
	// task.Yield already document.
	fs.Yield = func() {
		sched.MarkCurrentSuspend()
		sched.Schedule()
	}

	apps := mustParseApps()
	trap.Init(env, apps, con)
	trap.EnableTimerInterrupt()
	timer.SetNextTrigger()
	klog.Infof("trap pipeline and timer armed")

	initImg, ok := apps.ByIndex(0)
	if !ok {
		klog.Errorf("no bundled application to start as the init process")
		os.Exit(1)
	}

	initTask, err := task.FromELF(env, initImg.Bytes, fs.Stdin{Console: con}, fs.Stdout{Console: con})
	if err != nil {
		klog.Errorf("loading init process %q: %v", initImg.Name, err)
		os.Exit(1)
	}

	sched.SetInitTask(initTask)
	sched.AddTask(initTask)
	klog.Infof("starting init process pid=%d", initTask.Pid())

	sched.Schedule()
}

func mustParseApps() *loader.Registry {
	apps, err := loader.Parse(appsImg)
	if err != nil {
		klog.Errorf("parsing bundled application image: %v", err)
		os.Exit(1)
	}
	return apps
}

// kernelLayout describes the regions this binary's own image and the
// platform's MMIO windows occupy. On real hardware these come from
// linker symbols; this simulated kernel instead derives them from the
// config package's QEMU-virt constants.
func kernelLayout() vmm.KernelLayout {
	base := config.KernelBase
	textEnd := base + config.KernelImageSize/2
	rodataEnd := textEnd + config.KernelImageSize/4
	dataEnd := rodataEnd + config.KernelImageSize/8
	bssEnd := base + config.KernelImageSize
	memEnd := config.EffectiveBoot.EffectiveMemoryEnd()

	return vmm.KernelLayout{
		Text:   seg(base, textEnd, roX()),
		Rodata: seg(textEnd, rodataEnd, roR()),
		Data:   seg(rodataEnd, dataEnd, rw()),
		Bss:    seg(dataEnd, bssEnd, rw()),
		PhysRest: seg(bssEnd, memEnd, rw()),
		MMIO: []vmm.KernelSegment{
			seg(config.CLINTBase, config.CLINTBase+config.CLINTSize, rw()),
		},
	}
}

func seg(start, end uint64, perm pagetable.Flags) vmm.KernelSegment {
	return vmm.KernelSegment{Start: addr.VirtAddr(start), End: addr.VirtAddr(end), Perm: perm}
}

func roX() pagetable.Flags { return pagetable.R | pagetable.X }
func roR() pagetable.Flags { return pagetable.R }
func rw() pagetable.Flags  { return pagetable.R | pagetable.W }
