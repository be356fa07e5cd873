package task

import (
	"sync"

	"rvkernel/accnt"
	"rvkernel/defs"
	"rvkernel/vm"
)

// TaskContext is the saved callee-saved register set a __switch would
// restore: ra, sp, plus the callee-saved s-registers. Its *opcodes* are
// out of scope (spec.md §1); only the shape is, so the hosted trap
// package can reason about "this task's saved continuation" without
// reproducing assembly.
type TaskContext struct {
	Ra uint64
	Sp uint64
	S  [12]uint64
}

// NewTaskContext builds the context a freshly created task resumes into:
// ra pointed at the trampoline's __restore, sp at the top of the kernel
// stack, per spec.md §4.5.
func NewTaskContext(restoreVA, kstackTop uint64) TaskContext {
	return TaskContext{Ra: restoreVA, Sp: kstackTop}
}

// Inner is the TCB's interior-mutable state. Every accessor goes through
// TaskControlBlock.WithInner, which releases the lock before returning so
// callers cannot hold it across a scheduler call (sched.AddTask or
// sched.Processor's methods) — the discipline
// spec.md §9 calls out ("must drop before calling schedule()"), enforced
// here by API shape rather than a panicking borrow checker (SPEC_FULL.md
// §5).
type Inner struct {
	Status TaskStatusHolder

	TaskCx    TaskContext
	TrapCxPpn vm.PhysPageNum

	MemorySet *vm.MemorySet

	BaseSize   uint64
	HeapBottom uint64
	ProgramBrk uint64

	Stride   uint8
	Priority uint8

	Parent   *TaskControlBlock
	Children []*TaskControlBlock
	ExitCode int

	SyscallTimes [defs.MaxSyscallNum]uint32
	Accnt        accnt.Accnt_t
	StartNanos   int64

	Fdtable []*FileHandle
}

// TaskStatusHolder exists only so zero-value Inner starts at TaskReady
// without an explicit initialiser at every call site.
type TaskStatusHolder = defs.TaskStatus

// TaskControlBlock owns a PidHandle, a KernelStack, and an Inner guarded
// by its own mutex, per spec.md §3.
type TaskControlBlock struct {
	Pid    *PidHandle
	Kstack *KernelStack

	mu    sync.Mutex
	inner Inner
}

// WithInner runs fn with the TCB's inner state locked, then unlocks
// before returning. fn must not call into the scheduler (sched.AddTask
// or sched.Processor's methods).
func (t *TaskControlBlock) WithInner(fn func(*Inner)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.inner)
}

// TaskSnapshot carries out the fields a caller needs after unlocking.
// Inner embeds accnt.Accnt_t, which owns a mutex, so Snapshot cannot copy
// Inner by value (go vet's copylocks); it copies only these fields
// instead, the "pass the inner in, return it out" pattern SPEC_FULL.md §5
// specifies.
type TaskSnapshot struct {
	MemorySet    *vm.MemorySet
	Status       defs.TaskStatus
	SyscallTimes [defs.MaxSyscallNum]uint32
	TimeUs       uint64
}

func (t *TaskControlBlock) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TaskSnapshot{
		MemorySet:    t.inner.MemorySet,
		Status:       t.inner.Status,
		SyscallTimes: t.inner.SyscallTimes,
		TimeUs:       t.inner.Accnt.TotalMicros(),
	}
}

func (t *TaskControlBlock) TrapCxUserToken() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inner.MemorySet.Token()
}
