// Package sbi states the Supervisor Binary Interface contract — console
// I/O, timer, and shutdown — that real firmware would provide below the
// kernel (spec.md §1 lists SBI firmware as a deliberately out-of-scope
// external collaborator). Firmware is the contract; Host is the hosted
// backend that talks to the process's own stdout/stdin instead of real
// silicon, grounded on biscuit's ufs.console_t stub (biscuit/src/ufs
// driver.go) for the shape of a minimal console backend.
package sbi

import (
	"bufio"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
)

// Firmware is the SBI surface the trap gateway and boot sequence depend
// on. A bare-metal implementation would trap into firmware via ecall;
// Host below satisfies the same interface with plain Go.
type Firmware interface {
	PutChar(c byte)
	GetChar() (byte, bool)
	SetTimer(d time.Duration)
	Shutdown(failure bool)
}

// Active is the firmware instance the console syscalls (read/write on
// fds 0-2) talk to, installed once by boot, in the same singleton style
// as mem.Allocator and task.KernelSpace.
var Active Firmware

// Host is the hosted SBI backend used by cmd/kernel. Console output goes
// to the process's stdout; console input is served by a reader goroutine
// so GetChar never blocks the caller past what's already buffered.
type Host struct {
	in      chan byte
	timerCh chan struct{}
}

// NewHost starts the input-reader goroutine and returns a ready Host.
func NewHost() *Host {
	h := &Host{in: make(chan byte, 256), timerCh: make(chan struct{}, 1)}
	go h.readStdin()
	return h
}

func (h *Host) readStdin() {
	r := bufio.NewReader(os.Stdin)
	for {
		b, err := r.ReadByte()
		if err != nil {
			close(h.in)
			return
		}
		h.in <- b
	}
}

func (h *Host) PutChar(c byte) {
	fmt.Fprintf(os.Stdout, "%c", c)
}

func (h *Host) GetChar() (byte, bool) {
	select {
	case b, ok := <-h.in:
		return b, ok
	default:
		return 0, false
	}
}

// SetTimer arms a one-shot channel signal after d, the hosted substitute
// for writing the SBI timer extension's mtimecmp register.
func (h *Host) SetTimer(d time.Duration) {
	go func() {
		time.Sleep(d)
		select {
		case h.timerCh <- struct{}{}:
		default:
		}
	}()
}

// TimerFired reports (and clears) whether the most recently armed timer
// has gone off. Nothing in this repository polls it, so an expired timer
// raises no SupervisorTimer trap by itself.
func (h *Host) TimerFired() bool {
	select {
	case <-h.timerCh:
		return true
	default:
		return false
	}
}

// Shutdown matches spec.md §7's "panic with stack trace ... and SBI
// shutdown(failure)" policy: failure=true logs a wrapped error and exits
// 1; failure=false exits 0. This is the only place os.Exit may appear
// outside cmd/, per SPEC_FULL.md §4.8.
func (h *Host) Shutdown(failure bool) {
	if failure {
		err := errors.New("sbi: shutdown requested after kernel fault")
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
