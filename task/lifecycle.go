package task

import (
	"fmt"
	"unsafe"

	"rvkernel/defs"
	"rvkernel/mem"
	"rvkernel/vm"
)

// rawCast reinterprets a physical page as the TrapContext it backs. The
// trap-context page is reserved exclusively for this layout (spec.md
// §4.4), so the cast is safe as long as no other code writes to the
// frame at trapPpn.
func rawCast(pg *mem.Bytepg_t) unsafe.Pointer {
	return unsafe.Pointer(pg)
}

// TrampolinePpn is the single physical frame holding the trampoline code,
// installed once by boot and identity-mapped at defs.Trampoline in every
// address space (spec.md §3 invariant (b)). Kept as a package var rather
// than threaded through every constructor because it is, by definition,
// the one piece of kernel state every address space shares.
var TrampolinePpn vm.PhysPageNum

// InitProc is the ancestor every orphaned child is reparented to on its
// parent's exit (spec.md §4.5 "Exit"). boot installs it once the first
// process has been loaded.
var InitProc *TaskControlBlock

func trapCxFrame() (*mem.FrameTracker, vm.PhysPageNum) {
	fr, ok := mem.Alloc()
	if !ok {
		panic("task: out of frames allocating trap context")
	}
	return fr, fr.Ppn
}

// restoreVA and trapHandlerVA stand in for the trampoline's __restore
// entry point and trap_handler's address: on real hardware these are
// computed offsets into the trampoline page (spec.md §4.4), but the
// hosted Switcher (package trap) never actually jumps through them, so
// their only remaining job is to round-trip through TrapContext the way
// the real kernel's would.
const restoreVA = uint64(defs.Trampoline)
const trapHandlerVA = uint64(defs.Trampoline)

// FromElf builds a brand new process from an ELF image: address space,
// PID, kernel stack, and initial trap context, per spec.md §4.5.
func FromElf(elfData []uint8) (*TaskControlBlock, error) {
	trapFr, trapPpn := trapCxFrame()
	img, err := vm.FromElf(elfData, TrampolinePpn, trapPpn)
	if err != nil {
		trapFr.Drop()
		return nil, fmt.Errorf("task: %w", err)
	}

	pid := AllocPid()
	kstack := AllocKernelStack(pid.Pid)

	t := &TaskControlBlock{Pid: pid, Kstack: kstack}
	t.WithInner(func(in *Inner) {
		in.Status = defs.TaskReady
		in.MemorySet = img.MemorySet
		in.TrapCxPpn = trapPpn
		in.BaseSize = img.BaseSize
		in.HeapBottom = img.BaseSize
		in.ProgramBrk = img.BaseSize
		in.Priority = 16
		in.TaskCx = NewTaskContext(restoreVA, uint64(kstack.Top))
		tc := defs.NewTrapContext(uint64(img.Entry), uint64(img.UserSp),
			KernelSpace.Token(), uint64(kstack.Top), trapHandlerVA)
		writeTrapContext(trapPpn, tc)
	})
	return t, nil
}

// writeTrapContext installs tc into the frame backing the trap-context
// page.
func writeTrapContext(ppn vm.PhysPageNum, tc defs.TrapContext) {
	pg := mem.FramePage(ppn)
	*(*defs.TrapContext)(rawCast(pg)) = tc
}

// ReadTrapContext returns the live trap context for t, the view the trap
// gateway mutates on every entry/exit.
func ReadTrapContext(t *TaskControlBlock) *defs.TrapContext {
	var ppn vm.PhysPageNum
	t.WithInner(func(in *Inner) { ppn = in.TrapCxPpn })
	pg := mem.FramePage(ppn)
	return (*defs.TrapContext)(rawCast(pg))
}

// Fork deep-copies the address space, allocates a new PID/kstack, and
// copies base_size/program_brk/heap_bottom; the child's trap context is
// inherited except a0 := 0 (the parent's a0 becomes the child PID, set
// by the caller of Fork — the fork syscall adapter), per spec.md §4.5.
func Fork(parent *TaskControlBlock) *TaskControlBlock {
	trapFr, trapPpn := trapCxFrame()

	var parentMs *vm.MemorySet
	var baseSize, heapBottom, programBrk uint64
	var priority uint8
	var parentTrapCx defs.TrapContext
	parent.WithInner(func(in *Inner) {
		parentMs = in.MemorySet
		baseSize, heapBottom, programBrk = in.BaseSize, in.HeapBottom, in.ProgramBrk
		priority = in.Priority
	})
	parentTrapCx = *ReadTrapContext(parent)

	childMs := vm.FromExistedUser(parentMs, TrampolinePpn, trapPpn)
	pid := AllocPid()
	kstack := AllocKernelStack(pid.Pid)

	child := &TaskControlBlock{Pid: pid, Kstack: kstack}
	child.WithInner(func(in *Inner) {
		in.Status = defs.TaskReady
		in.MemorySet = childMs
		in.TrapCxPpn = trapPpn
		in.BaseSize = baseSize
		in.HeapBottom = heapBottom
		in.ProgramBrk = programBrk
		in.Priority = priority
		in.Parent = parent
		in.TaskCx = NewTaskContext(restoreVA, uint64(kstack.Top))
	})

	parentTrapCx.KernelSp = uint64(kstack.Top)
	parentTrapCx.SetA0(0) // child sees fork() return 0
	writeTrapContext(trapPpn, parentTrapCx)
	_ = trapFr

	parent.WithInner(func(in *Inner) {
		in.Children = append(in.Children, child)
	})
	return child
}

// Exec replaces the current MemorySet with one built fresh from elfData
// and reinitialises the trap context, keeping PID and kernel stack, per
// spec.md §4.5.
func Exec(t *TaskControlBlock, elfData []uint8) error {
	var oldTrapPpn vm.PhysPageNum
	t.WithInner(func(in *Inner) { oldTrapPpn = in.TrapCxPpn })

	img, err := vm.FromElf(elfData, TrampolinePpn, oldTrapPpn)
	if err != nil {
		return fmt.Errorf("task: exec: %w", err)
	}

	t.WithInner(func(in *Inner) {
		in.MemorySet = img.MemorySet
		in.BaseSize = img.BaseSize
		in.HeapBottom = img.BaseSize
		in.ProgramBrk = img.BaseSize
		tc := defs.NewTrapContext(uint64(img.Entry), uint64(img.UserSp),
			KernelSpace.Token(), uint64(t.Kstack.Top), trapHandlerVA)
		writeTrapContext(oldTrapPpn, tc)
	})
	return nil
}

// Spawn is fork+exec with no transient copy of the parent's address
// space: it builds the child directly from elfData, per spec.md §4.5.
func Spawn(parent *TaskControlBlock, elfData []uint8) (*TaskControlBlock, error) {
	child, err := FromElf(elfData)
	if err != nil {
		return nil, err
	}
	child.WithInner(func(in *Inner) { in.Parent = parent })
	parent.WithInner(func(in *Inner) {
		in.Children = append(in.Children, child)
	})
	return child, nil
}

// Exit marks status Zombie, reparents children to InitProc, records
// exitCode, and releases every physical frame the address space owned
// (both its MapAreas and the trap-context page kept outside them). Only
// the TaskControlBlock itself survives until Wait reaps it, per
// spec.md §4.5.
func Exit(t *TaskControlBlock, exitCode int) {
	var children []*TaskControlBlock
	t.WithInner(func(in *Inner) {
		in.Status = defs.TaskZombie
		in.ExitCode = exitCode
		children = in.Children
		in.Children = nil
		in.MemorySet.Recycle()
		mem.ReleasePpn(in.TrapCxPpn)
	})
	for _, c := range children {
		c.WithInner(func(in *Inner) { in.Parent = InitProc })
		InitProc.WithInner(func(in *Inner) { in.Children = append(in.Children, c) })
	}
}

// Wait implements waitpid(pid): pid == -1 matches any child. Returns
// -1 if no matching child exists, -2 if a match exists but none is
// zombie, else removes the zombie and returns its PID and exit code, per
// spec.md §4.5 and the testable property in §8.8.
func Wait(parent *TaskControlBlock, pid int) (foundPid int, exitCode int, status defs.Err_t) {
	var anyMatch bool
	var zombieIdx = -1
	var childPid int
	var childExit int
	var reaped *TaskControlBlock

	parent.WithInner(func(in *Inner) {
		for i, c := range in.Children {
			cPid := int(c.Pid.Pid)
			if pid != -1 && cPid != pid {
				continue
			}
			anyMatch = true
			var st defs.TaskStatus
			var ec int
			c.WithInner(func(cin *Inner) {
				st = cin.Status
				ec = cin.ExitCode
			})
			if st == defs.TaskZombie {
				zombieIdx = i
				childPid = cPid
				childExit = ec
				reaped = c
				break
			}
		}
		if zombieIdx >= 0 {
			in.Children = append(in.Children[:zombieIdx], in.Children[zombieIdx+1:]...)
		}
	})

	if !anyMatch {
		return -1, 0, defs.EOK
	}
	if zombieIdx < 0 {
		return int(defs.ENOCHILD), 0, defs.EOK
	}

	releaseReaped(reaped)
	return childPid, childExit, defs.EOK
}

// releaseReaped returns the zombie's PID and kernel stack once nothing
// else references it; with Go's tracing GC there is no Arc-refcount to
// watch, so release happens
// here, at the single point where the last Go reference to the child TCB
// is dropped by its caller.
func releaseReaped(child *TaskControlBlock) {
	child.Pid.Release()
	child.Kstack.Release()
}
