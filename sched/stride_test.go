package sched

import (
	"testing"

	"rvkernel/task"
)

func newTask(stride, priority uint8) *task.TaskControlBlock {
	t := &task.TaskControlBlock{}
	t.WithInner(func(in *task.Inner) {
		in.Stride = stride
		in.Priority = priority
	})
	return t
}

func resetReady() {
	ready.Lock()
	ready.tasks = nil
	ready.Unlock()
}

func TestFetchTaskPicksSmallestStride(t *testing.T) {
	resetReady()
	a := newTask(10, 16)
	b := newTask(5, 16)
	c := newTask(20, 16)
	AddTask(a)
	AddTask(b)
	AddTask(c)

	got := FetchTask()
	if got != b {
		t.Fatal("expected the task with the smallest stride to be fetched first")
	}
	if Len() != 2 {
		t.Fatalf("Len() = %d, want 2", Len())
	}
}

func TestFetchTaskTiesBreakOnQueueOrder(t *testing.T) {
	resetReady()
	first := newTask(7, 16)
	second := newTask(7, 16)
	AddTask(first)
	AddTask(second)

	if got := FetchTask(); got != first {
		t.Fatal("equal-stride tie should favor the earlier-queued task")
	}
}

func TestFetchTaskWrapsPast255(t *testing.T) {
	resetReady()
	// wrapped's raw stride (2) is numerically smaller than high's (250),
	// but it got there by advancing 8 past a uint8 wraparound — in
	// circular order it is *ahead* of high, not behind it. strideGap's
	// signed-8-bit comparison must still prefer high, the task that
	// hasn't wrapped yet, per spec.md §4.5.
	high := newTask(250, 16)
	wrapped := newTask(2, 16)
	AddTask(high)
	AddTask(wrapped)

	if got := FetchTask(); got != high {
		t.Fatal("wrap-safe comparison should reject the numerically smaller but circularly-later stride")
	}
}

func TestFetchTaskEmptyQueue(t *testing.T) {
	resetReady()
	if FetchTask() != nil {
		t.Fatal("fetch from an empty ready queue should return nil")
	}
}

func TestAdvanceStrideUsesPriority(t *testing.T) {
	in := &task.Inner{Priority: 32, Stride: 0}
	advanceStride(in)
	if in.Stride == 0 {
		t.Fatal("advanceStride should increment stride")
	}
}

func TestAdvanceStrideDefaultsPriority(t *testing.T) {
	in := &task.Inner{Priority: 0, Stride: 0}
	advanceStride(in)
	if in.Stride == 0 {
		t.Fatal("advanceStride with priority 0 should still advance using the default priority")
	}
}
