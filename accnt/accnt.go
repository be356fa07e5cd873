// Package accnt accumulates per-task kernel/user time, feeding the
// get_time and task_info syscalls. Adapted from biscuit's accnt.Accnt_t,
// which serializes to a POSIX rusage; this kernel's ABI wants a TimeVal
// and a TaskInfo.time_us instead, so To_rusage is replaced with
// ToTimeVal/TotalMicros.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"rvkernel/defs"
)

// Accnt_t accumulates user and system time in nanoseconds. The embedded
// mutex lets callers take a consistent snapshot when exporting TaskInfo.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current wall-clock time in nanoseconds since the Unix
// epoch; callers only ever subtract two readings.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// BootInstant is wall-clock time at the moment boot installed the kernel
// space, the zero point get_time/task_info report elapsed time against.
// Set once by boot; zero value makes SinceBoot degrade to UnixNano until
// then, which only matters before boot has run (i.e. never, in a booted
// kernel).
var BootInstant int64

// SinceBoot returns nanoseconds elapsed since BootInstant.
func SinceBoot() int64 {
	return time.Now().UnixNano() - BootInstant
}

// Finish adds the time elapsed since inttime to system time. Nothing in
// this repository calls it; trap.Handle does the same bracketing with
// Now and Systadd directly.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// Add merges another accounting record into this one, used to fold a
// reaped child's usage into its parent (not required by spec.md but kept
// because the teacher's lifecycle assumes it; harmless if unused).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	defer a.Unlock()
	n.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	n.Unlock()
}

// TotalMicros returns the combined user+system time in microseconds,
// the value task_info's TaskInfo.TimeUs reports.
func (a *Accnt_t) TotalMicros() uint64 {
	a.Lock()
	defer a.Unlock()
	return uint64((a.Userns + a.Sysns) / 1000)
}

// ToTimeVal converts nanoseconds since boot into the get_time syscall's
// wire format.
func ToTimeVal(bootNanos int64) defs.TimeVal {
	sec := bootNanos / 1e9
	usec := (bootNanos % 1e9) / 1000
	return defs.TimeVal{Sec: uint64(sec), Usec: uint64(usec)}
}
