package task

import (
	"rvkernel/defs"
	"rvkernel/vm"
)

// KernelSpace is the kernel's own address space, installed once by boot.
// Kernel stacks are mapped into it, per spec.md §3 ("per-task kernel
// stack mapped into kernel space").
var KernelSpace *vm.MemorySet

// KernelStack is the mapped [bottom, top) kernel-stack region for one
// PID's slot, with a one-page unmapped guard below it (spec.md §3
// "PID / KStack allocators").
type KernelStack struct {
	Pid      defs.Pid_t
	Bottom   vm.VirtAddr
	Top      vm.VirtAddr
	released bool
}

// slotBounds computes the kernel-stack slot for PID k: occupies
// [TRAMPOLINE - k*(KSTACK+GUARD) - KSTACK, TRAMPOLINE - k*(KSTACK+GUARD)),
// per spec.md §3.
func slotBounds(pid defs.Pid_t) (bottom, top vm.VirtAddr) {
	stride := uint64(defs.KernelStackSize + defs.KernelStackGuard)
	top = vm.VirtAddr(defs.Trampoline) - vm.VirtAddr(uint64(pid)*stride)
	bottom = top - defs.KernelStackSize
	return
}

// AllocKernelStack maps pid's kernel-stack slot into KernelSpace.
func AllocKernelStack(pid defs.Pid_t) *KernelStack {
	bottom, top := slotBounds(pid)
	KernelSpace.InsertFramedArea(bottom, top, defs.PermR|defs.PermW)
	return &KernelStack{Pid: pid, Bottom: bottom, Top: top}
}

// Release unmaps the kernel-stack slot. A second Release is a kernel
// invariant breach (panic), mirroring the PID allocator's double-free
// check.
func (ks *KernelStack) Release() {
	if ks.released {
		panic("task: double-release of kernel stack")
	}
	ks.released = true
	if !KernelSpace.RemoveAreaStartingAt(ks.Bottom.Floor()) {
		panic("task: kernel stack slot was never mapped")
	}
}
