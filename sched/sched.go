// Package sched implements the stride scheduler: an unsorted ready queue
// scanned for the smallest stride, and a single-hart processor that fetches the next task and
// performs the context switch, per spec.md §4.5's "Scheduler policy —
// stride" and §3's Scheduler + processor component.
//
// The fetch algorithm is grounded directly on
// original_source/os/src/task/manager.rs's TaskManager::fetch: a linear
// scan comparing (a.stride - b.stride) as a signed 8-bit value, which is
// what keeps the ordering valid once strides wrap past 255. The ready
// queue shape (mutex-guarded slice, FIFO tie-break) follows biscuit's own
// small collections (e.g. mem.Physmem_t's free list) rather than a
// container/list, since the queue is scanned in full on every fetch
// anyway.
package sched

import (
	"sync"

	"rvkernel/defs"
	"rvkernel/task"
)

type readyQueue struct {
	sync.Mutex
	tasks []*task.TaskControlBlock
}

var ready = &readyQueue{}

// AddTask appends t to the back of the ready queue, marking it Ready.
func AddTask(t *task.TaskControlBlock) {
	t.WithInner(func(in *task.Inner) { in.Status = defs.TaskReady })
	ready.Lock()
	ready.tasks = append(ready.tasks, t)
	ready.Unlock()
}

// strideGap returns (a - b) as a signed 8-bit difference, the wrap-safe
// comparison spec.md §4.5 calls out.
func strideGap(a, b uint8) int8 {
	return int8(a - b)
}

// FetchTask removes and returns the ready task with the smallest stride,
// ties broken by queue position (manager.rs's behavior: the scan only
// replaces the champion on a strictly negative gap, so an earlier-queued
// task with equal stride wins). Returns nil if the queue is empty.
func FetchTask() *task.TaskControlBlock {
	ready.Lock()
	defer ready.Unlock()
	if len(ready.tasks) == 0 {
		return nil
	}
	var minStride uint8
	ready.tasks[0].WithInner(func(in *task.Inner) { minStride = in.Stride })
	index := 0
	for i, t := range ready.tasks {
		var s uint8
		t.WithInner(func(in *task.Inner) { s = in.Stride })
		if strideGap(s, minStride) < 0 {
			minStride = s
			index = i
		}
	}
	t := ready.tasks[index]
	ready.tasks = append(ready.tasks[:index], ready.tasks[index+1:]...)
	return t
}

// Len reports the number of ready (not running, not zombie) tasks; its
// only callers are the stride tests.
func Len() int {
	ready.Lock()
	defer ready.Unlock()
	return len(ready.tasks)
}

// advanceStride increments a task's stride by BIG_STRIDE/priority (mod
// 256) the moment it is dispatched, per spec.md §4.5. The set_priority
// syscall rejects priorities below 2; a zero priority here (task never
// had SetPriority called) defaults to 16, matching FromElf's default.
func advanceStride(in *task.Inner) {
	p := in.Priority
	if p == 0 {
		p = 16
	}
	in.Stride += defs.BigStride / p
}
