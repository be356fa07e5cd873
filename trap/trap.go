// Package trap implements the trap/syscall gateway: the dispatch policy
// trap_handler would run after the trampoline has saved the user
// register file, per spec.md §4.4. Grounded directly on
// original_source/os/src/trap/mod.rs's trap_handler match arms; the
// trampoline/__alltraps/__restore assembly itself is out of scope
// (spec.md §1), so Switcher states that contract instead of
// implementing it in opcodes.
package trap

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/arch/riscv64/riscv64asm"

	"rvkernel/accnt"
	"rvkernel/defs"
	"rvkernel/prof"
	"rvkernel/res"
	"rvkernel/sbi"
	"rvkernel/syscall"
	"rvkernel/task"
)

// tickInterval is the hosted stand-in for CLOCK_FREQ/100 cycles: the
// timer re-arm interval the SupervisorTimer handler installs, per
// spec.md §4.5's "timer fires every CLOCK_FREQ/100 ticks".
func tickInterval() time.Duration {
	return time.Second / defs.TicksPerSec
}

// Switcher states the __switch/trampoline contract: save the currently
// running task's callee-saved registers into from, restore to's into the
// live register set. The hosted backend performs this with a plain Go
// method call, made with no lock held, rather than a second
// goroutine standing in for a hart, so preemption points stay exactly
// where spec.md says they are (syscall, timer tick, fault, yield).
type Switcher interface {
	Switch(from, to *task.TaskContext)
}

// HostedSwitcher is the only Switcher this kernel needs: there is no
// live register file to save in a hosted process, so Switch does
// nothing; sched.Processor records which task is current itself.
type HostedSwitcher struct{}

func (HostedSwitcher) Switch(from, to *task.TaskContext) {
	_ = from
	_ = to
}

// Event is a single trap the gateway dispatches, carrying exactly the
// fields trap_handler reads: scause's cause, stval (bad address), and
// for UserEnvCall the syscall id/args a real ecall would leave in
// a7/a0-a2. FromTrapContext builds the UserEnvCall form from the task's
// live defs.TrapContext; nothing in this repository calls it, and the
// only EventSource here (NullEventSource) produces no Events at all.
type Event struct {
	Cause     defs.TrapCause
	StVal     uint64
	SyscallId uint64
	A0, A1, A2 uint64
	BadInstr  uint32
}

// FromTrapContext reads a UserEnvCall event's syscall id/args out of t's
// live trap context, mirroring trap_handler's `cx.x[17]`/`cx.x[10..12]`
// reads.
func FromTrapContext(t *task.TaskControlBlock) Event {
	tc := task.ReadTrapContext(t)
	return Event{
		Cause:     defs.CauseUserEnvCall,
		SyscallId: tc.A7(),
		A0:        tc.A0(),
		A1:        tc.A1(),
		A2:        tc.A2(),
	}
}

// EventSource supplies the next trap a running task raises. On real
// silicon this would be "whatever ecall/fault the hart just took"; there
// is no such hart here (spec.md §1 puts "individual user programs" out
// of scope as external collaborators), so a deployment's EventSource is
// whatever interprets or emulates the loaded ELF. This repository ships
// no such source and no scripted-Event tests; NullEventSource is the only
// implementation.
type EventSource interface {
	// Next returns the task's next trap. ok=false means the task has
	// nothing further to run this dispatch (the source is exhausted,
	// not that the task exited — exiting is itself a Event/Outcome).
	Next(t *task.TaskControlBlock) (Event, bool)
}

// NullEventSource never produces a trap. boot.Kernel.Run suspends and
// re-queues a task whose source is exhausted, so under this source every
// dispatched task goes straight back onto the ready queue and Run's loop
// does not end while any task exists. It is cmd/kernel's default in the
// absence of a real hart or emulator.
type NullEventSource struct{}

func (NullEventSource) Next(t *task.TaskControlBlock) (Event, bool) { return Event{}, false }

// Outcome tells the scheduler what to do once Handle returns: nothing
// special, reap the task (exit/fatal fault), or requeue it (yield/timer
// preemption).
type Outcome struct {
	Exit     bool
	ExitCode int
	Requeue  bool
}

// Handle runs one trap to completion: advances sepc past the ecall
// instruction, dispatches to package syscall, writes the result into a0,
// or applies the fault/timer policy spec.md §4.4's table specifies.
// Accounting brackets every call the way user_time_end/user_time_start
// bracket trap_handler in the original.
func Handle(t *task.TaskControlBlock, ev Event) Outcome {
	var acct *accntRef
	t.WithInner(func(in *task.Inner) { acct = &accntRef{&in.Accnt} })
	kernelEnter := acct.a.Now()

	out := dispatch(t, ev)

	acct.a.Systadd(acct.a.Now() - kernelEnter)
	return out
}

type accntRef struct{ a *accnt.Accnt_t }

func dispatch(t *task.TaskControlBlock, ev Event) Outcome {
	switch ev.Cause {
	case defs.CauseUserEnvCall:
		tc := task.ReadTrapContext(t)
		tc.Sepc += 4
		res.Reset()
		res := syscall.Dispatch(t, ev.SyscallId, ev.A0, ev.A1, ev.A2)
		if res.Exit {
			return Outcome{Exit: true, ExitCode: res.ExitCode}
		}
		tc.SetA0(uint64(res.Value))
		if res.Yield {
			return Outcome{Requeue: true}
		}
		return Outcome{}

	case defs.CauseStoreFault, defs.CauseStorePageFault,
		defs.CauseLoadFault, defs.CauseLoadPageFault:
		tc := task.ReadTrapContext(t)
		logFault(t, ev.StVal, tc.Sepc)
		prof.RecordFault(ev.Cause)
		return Outcome{Exit: true, ExitCode: -2}

	case defs.CauseIllegalInstruction:
		logIllegal(t, ev.BadInstr)
		prof.RecordIllegal()
		return Outcome{Exit: true, ExitCode: -3}

	case defs.CauseSupervisorTimer:
		if sbi.Active != nil {
			sbi.Active.SetTimer(tickInterval())
		}
		return Outcome{Requeue: true}

	default:
		panic(fmt.Sprintf("trap: unsupported cause %v, stval=%#x", ev.Cause, ev.StVal))
	}
}

func logFault(t *task.TaskControlBlock, badAddr, badPC uint64) {
	fmt.Fprintf(os.Stderr, "[kernel] PageFault in application (pid %d), bad addr = %#x, bad instruction = %#x, kernel killed it.\n",
		t.Pid.Pid, badAddr, badPC)
}

// logIllegal decodes instr with riscv64asm purely for the crash log's
// benefit; a decode failure still kills the task with -3, it just logs
// less.
func logIllegal(t *task.TaskControlBlock, instr uint32) {
	buf := []byte{byte(instr), byte(instr >> 8), byte(instr >> 16), byte(instr >> 24)}
	inst, err := riscv64asm.Decode(buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[kernel] IllegalInstruction in application (pid %d), raw=%#08x, kernel killed it.\n",
			t.Pid.Pid, instr)
		return
	}
	fmt.Fprintf(os.Stderr, "[kernel] IllegalInstruction in application (pid %d): %s, kernel killed it.\n",
		t.Pid.Pid, inst.String())
}
