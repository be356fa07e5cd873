// Package task implements the task control block, the PID and kernel
// stack recycle allocators, and the fork/exec/spawn/wait/exit lifecycle,
// per spec.md §3 "Task Control Block" and §4.5. Grounded on biscuit's
// fd.Cwd_t (biscuit/src/fd/fd.go) for the per-task-state/mutex shape and
// mem.Physmem_t's bump+freelist discipline (biscuit/src/mem/mem.go),
// reused here for PID and kernel-stack slot recycling.
package task

import (
	"sync"

	"rvkernel/defs"
)

// pidAllocator is the identical recycle-allocator design (bump counter +
// free list) spec.md §3 names for both PID and kernel-stack allocation.
type pidAllocator struct {
	sync.Mutex
	current int
	free    []int
}

var PidAllocator = &pidAllocator{current: 1} // pid 0 is reserved for the init process's eventual parent slot

// PidHandle owns one allocated PID; Release returns it to the allocator
// exactly once (a second Release is a kernel invariant breach).
type PidHandle struct {
	Pid     defs.Pid_t
	released bool
}

func AllocPid() *PidHandle {
	PidAllocator.Lock()
	defer PidAllocator.Unlock()
	if n := len(PidAllocator.free); n > 0 {
		pid := PidAllocator.free[n-1]
		PidAllocator.free = PidAllocator.free[:n-1]
		return &PidHandle{Pid: defs.Pid_t(pid)}
	}
	pid := PidAllocator.current
	PidAllocator.current++
	return &PidHandle{Pid: defs.Pid_t(pid)}
}

func (h *PidHandle) Release() {
	if h.released {
		panic("task: double-release of pid")
	}
	h.released = true
	PidAllocator.Lock()
	PidAllocator.free = append(PidAllocator.free, int(h.Pid))
	PidAllocator.Unlock()
}
