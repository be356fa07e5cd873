package task

import (
	"testing"

	"rvkernel/defs"
	"rvkernel/mem"
	"rvkernel/vm"
)

func newTestProc(t *testing.T) *TaskControlBlock {
	t.Helper()
	fr, ok := mem.Alloc()
	if !ok {
		t.Fatal("out of frames")
	}
	tcb := &TaskControlBlock{Pid: AllocPid(), Kstack: &KernelStack{}}
	tcb.WithInner(func(in *Inner) {
		in.Status = defs.TaskReady
		in.MemorySet = &vm.MemorySet{}
		in.TrapCxPpn = fr.Ppn
	})
	return tcb
}

func TestExitReparentsChildrenToInitProc(t *testing.T) {
	mem.Init(0, 32)
	parent := newTestProc(t)
	child := newTestProc(t)
	initProc := newTestProc(t)
	InitProc = initProc

	parent.WithInner(func(in *Inner) { in.Children = []*TaskControlBlock{child} })
	child.WithInner(func(in *Inner) { in.Parent = parent })

	Exit(parent, 7)

	parent.WithInner(func(in *Inner) {
		if in.Status != defs.TaskZombie {
			t.Fatal("exited task should be Zombie")
		}
		if in.ExitCode != 7 {
			t.Fatalf("ExitCode = %d, want 7", in.ExitCode)
		}
		if len(in.Children) != 0 {
			t.Fatal("exited task should have no children left")
		}
	})

	var childParent *TaskControlBlock
	child.WithInner(func(in *Inner) { childParent = in.Parent })
	if childParent != initProc {
		t.Fatal("orphaned child should be reparented to InitProc")
	}

	var found bool
	initProc.WithInner(func(in *Inner) {
		for _, c := range in.Children {
			if c == child {
				found = true
			}
		}
	})
	if !found {
		t.Fatal("InitProc should have inherited the orphaned child")
	}
}

func TestWaitNoMatchingChild(t *testing.T) {
	mem.Init(0, 32)
	parent := newTestProc(t)
	pid, _, errv := Wait(parent, 999)
	if pid != -1 || errv != defs.EOK {
		t.Fatalf("Wait with no matching child = (%d, %v), want (-1, EOK)", pid, errv)
	}
}

func TestWaitMatchButNotZombie(t *testing.T) {
	mem.Init(0, 32)
	parent := newTestProc(t)
	child := newTestProc(t)
	parent.WithInner(func(in *Inner) { in.Children = []*TaskControlBlock{child} })

	var childPid int
	child.WithInner(func(in *Inner) {})
	childPid = int(child.Pid.Pid)

	pid, _, errv := Wait(parent, childPid)
	if pid != -2 {
		t.Fatalf("Wait on a live child = %d, want -2", pid)
	}
	if errv != defs.EOK {
		t.Fatalf("Wait error = %v, want EOK", errv)
	}
}

func TestWaitReapsZombieAndRemovesChild(t *testing.T) {
	mem.Init(0, 32)
	// Wait releases the reaped child's kernel stack, so the child needs a
	// real slot mapped in a kernel space.
	KernelSpace = &vm.MemorySet{PageTable: vm.NewPageTable()}
	parent := newTestProc(t)
	child := newTestProc(t)
	child.Kstack = AllocKernelStack(child.Pid.Pid)
	childPid := int(child.Pid.Pid)
	child.WithInner(func(in *Inner) {
		in.Status = defs.TaskZombie
		in.ExitCode = 42
	})
	parent.WithInner(func(in *Inner) { in.Children = []*TaskControlBlock{child} })

	pid, exitCode, errv := Wait(parent, -1)
	if errv != defs.EOK {
		t.Fatalf("Wait error = %v, want EOK", errv)
	}
	if pid != childPid {
		t.Fatalf("Wait returned pid %d, want %d", pid, childPid)
	}
	if exitCode != 42 {
		t.Fatalf("Wait returned exit code %d, want 42", exitCode)
	}

	parent.WithInner(func(in *Inner) {
		if len(in.Children) != 0 {
			t.Fatal("reaped child should be removed from the parent's child list")
		}
	})
}
