package sched

import (
	"rvkernel/defs"
	"rvkernel/metrics"
	"rvkernel/task"
	"rvkernel/trap"
)

// Processor is the per-hart scheduler state spec.md §2/§5 describes: an
// idle loop that fetches the next ready task, marks it Running, and
// performs __switch into it. Grounded on original_source/os/src/task/manager.rs's
// TaskManager plus the split-out Processor shape spec.md §4.5 calls for;
// this kernel only ever has one hart, so Processor is a singleton rather
// than one value per hart.
type Processor struct {
	Switcher Switcher
	idleCx   task.TaskContext
	current  *task.TaskControlBlock
}

// Switcher is an alias of trap.Switcher, the one-method interface the
// processor calls on every dispatch.
type Switcher = trap.Switcher

// NewProcessor returns a Processor driven by sw, the hosted
// trap.HostedSwitcher in production, a recording fake in tests.
func NewProcessor(sw Switcher) *Processor {
	return &Processor{Switcher: sw}
}

// Current returns the task presently marked Running, or nil if the
// processor is idle.
func (p *Processor) Current() *task.TaskControlBlock {
	return p.current
}

// Dispatch fetches the next ready task, advances its stride, marks it
// Running, and switches into it (bookkeeping only, per HostedSwitcher),
// returning it so the caller (boot's scheduler loop, or a test driving
// scripted traps) can run its trap sequence. Returns nil if the ready
// queue is empty.
func (p *Processor) Dispatch() *task.TaskControlBlock {
	next := FetchTask()
	if next == nil {
		return nil
	}
	var nextCx task.TaskContext
	next.WithInner(func(in *task.Inner) {
		in.Status = defs.TaskRunning
		advanceStride(in)
		nextCx = in.TaskCx
	})
	p.Switcher.Switch(&p.idleCx, &nextCx)
	p.current = next
	metrics.SchedDispatches.Inc()
	return next
}

// Suspend moves the currently running task back to Ready and re-enqueues
// it (timer preemption, voluntary yield), per spec.md §4.5 "Preemption".
func (p *Processor) Suspend() {
	t := p.current
	if t == nil {
		return
	}
	p.current = nil
	AddTask(t)
}

// Retire finalises the currently running task's exit: marks it done via
// task.Exit and drops the processor's reference. The TCB itself is
// reaped later by the parent's Wait call.
func (p *Processor) Retire(exitCode int) {
	t := p.current
	if t == nil {
		return
	}
	p.current = nil
	task.Exit(t, exitCode)
}
