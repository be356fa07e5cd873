// Package boot wires every subsystem together in the order spec.md §2
// describes: clear BSS → init heap/frame allocator → build kernel
// MemorySet → activate paging → install kernel trap vector → load the
// initial process → enable the timer → enter the scheduler loop. There
// is no real BSS/paging-activation step in a hosted process (the Go
// runtime already did the equivalent), so Boot has no code for those
// stages; the others run in the order listed.
package boot

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"rvkernel/accnt"
	"rvkernel/blockdev"
	"rvkernel/defs"
	"rvkernel/fs"
	"rvkernel/mem"
	"rvkernel/sbi"
	"rvkernel/sched"
	"rvkernel/syscall"
	"rvkernel/task"
	"rvkernel/trap"
	"rvkernel/vm"
)

// Config names the host resources boot needs: the disk image backing
// EFS, the path of the initial process inside it, and debug flags,
// following the kingpin-parsed flag struct idiom cmd/kernel builds.
type Config struct {
	DiskPath    string
	InitPath    string
	MemoryEnd   uint64
	KernelEkern uint64
	Debug       bool
}

// Kernel holds every singleton boot installs, returned so cmd/kernel can
// drive the scheduler loop and expose metrics/prof without reaching back
// into package-level globals directly.
type Kernel struct {
	Firmware  sbi.Firmware
	Processor *sched.Processor
	Config    Config
}

// Boot performs the sequence spec.md §2 describes and returns a Kernel
// ready to run. Any failure here is a kernel invariant breach (bad disk
// image, unreadable init binary) and is wrapped with github.com/pkg/errors
// the way biscuit's own init path favors rich causal chains over bare
// error strings.
func Boot(cfg Config) (*Kernel, error) {
	accnt.BootInstant = time.Now().UnixNano()

	if cfg.MemoryEnd == 0 {
		cfg.MemoryEnd = defs.MemoryEnd
	}
	if cfg.KernelEkern == 0 {
		cfg.KernelEkern = defs.DefaultEkernel
	}

	ekernelPpn := mem.PaToPpn(mem.Pa_t(cfg.KernelEkern))
	endPpn := mem.PaToPpn(mem.Pa_t(cfg.MemoryEnd))
	mem.Init(ekernelPpn, endPpn)

	trampolineFr, ok := mem.Alloc()
	if !ok {
		return nil, errors.New("boot: out of frames allocating the trampoline page")
	}

	sections := []vm.KernelSection{
		{Start: vm.VirtAddr(defs.KernelBase), End: vm.VirtAddr(cfg.KernelEkern), Perm: defs.PermR | defs.PermX},
	}
	kernelSpace := vm.NewKernelSpace(sections, mem.Pa_t(cfg.KernelEkern), trampolineFr.Ppn)

	task.KernelSpace = kernelSpace
	task.TrampolinePpn = trampolineFr.Ppn

	host := sbi.NewHost()
	sbi.Active = host
	syscall.SetConsole(host)

	disk, err := blockdev.OpenFileDisk(cfg.DiskPath)
	if err != nil {
		return nil, errors.Wrap(err, "boot: opening disk image")
	}
	rootfs, err := fs.Open(disk)
	if err != nil {
		return nil, errors.Wrap(err, "boot: mounting EFS")
	}
	fs.Root = rootfs

	initIno, errv := fs.Root.Open(cfg.InitPath, defs.ORdonly)
	if errv != defs.EOK {
		return nil, errors.Errorf("boot: init process %q not found on disk", cfg.InitPath)
	}
	elfData := make([]byte, initIno.Size())
	initIno.ReadAt(0, elfData)

	initProc, err := task.FromElf(elfData)
	if err != nil {
		return nil, errors.Wrap(err, "boot: loading init process")
	}
	task.InitProc = initProc

	proc := sched.NewProcessor(trap.HostedSwitcher{})
	syscall.SetEnqueue(sched.AddTask)
	sched.AddTask(initProc)

	host.SetTimer(time.Second / defs.TicksPerSec)

	if cfg.Debug {
		fmt.Printf("boot: kernel space token=%#x, init pid=%d\n", kernelSpace.Token(), initProc.Pid.Pid)
	}

	return &Kernel{Firmware: host, Processor: proc, Config: cfg}, nil
}

// Run drives the scheduler's idle loop: dispatch the lowest-stride ready
// task, replay its traps via source until it blocks/exits/yields, repeat
// until the ready queue is empty, then shut the firmware down cleanly —
// the hosted substitute for "all applications completed! shutdown(false)"
// (original_source/os/src/task/mod.rs's run_next_task "else" arm).
func (k *Kernel) Run(source trap.EventSource) {
	for {
		t := k.Processor.Dispatch()
		if t == nil {
			break
		}
		k.runOne(t, source)
	}
	k.Firmware.Shutdown(false)
}

func (k *Kernel) runOne(t *task.TaskControlBlock, source trap.EventSource) {
	for {
		ev, ok := source.Next(t)
		if !ok {
			k.Processor.Suspend()
			return
		}
		out := trap.Handle(t, ev)
		switch {
		case out.Exit:
			k.Processor.Retire(out.ExitCode)
			return
		case out.Requeue:
			k.Processor.Suspend()
			return
		}
	}
}
