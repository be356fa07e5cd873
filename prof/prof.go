// Package prof builds the payload the D_PROF virtual device returns
// (SPEC_FULL.md §4.9): a pprof-format sample count profile of trap
// causes and syscall ids, the hosted stand-in for a real CPU profiler's
// sampled stacks. There is no call stack to sample without a real hart,
// so each distinct event name stands in for a single-frame location,
// the closest honest mapping from "count of kernel events" onto
// google/pprof/profile's Profile shape.
package prof

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/pprof/profile"

	"rvkernel/defs"
)

var (
	mu     sync.Mutex
	counts = map[string]int64{}
)

func bump(name string) {
	mu.Lock()
	counts[name]++
	mu.Unlock()
}

// RecordFault tallies a fatal memory fault by its trap cause, called
// from trap.dispatch's fault arm.
func RecordFault(cause defs.TrapCause) {
	bump(faultName(cause))
}

// RecordIllegal tallies an illegal-instruction kill.
func RecordIllegal() {
	bump("illegal_instruction")
}

// RecordSyscall tallies a dispatched syscall by id, called alongside
// metrics.SyscallsTotal so /dev/prof and /dev/stat agree on volume.
func RecordSyscall(id uint64) {
	bump(fmt.Sprintf("syscall_%d", id))
}

func faultName(cause defs.TrapCause) string {
	switch cause {
	case defs.CauseStoreFault:
		return "store_fault"
	case defs.CauseStorePageFault:
		return "store_page_fault"
	case defs.CauseLoadFault:
		return "load_fault"
	case defs.CauseLoadPageFault:
		return "load_page_fault"
	default:
		return "fault_other"
	}
}

// Snapshot renders the current event counts as a gzipped pprof profile,
// the payload D_PROF's read() returns. One sample per distinct event
// name, value is its running count; there is no duration/CPU axis since
// nothing here is wall-clock sampled.
func Snapshot() []byte {
	mu.Lock()
	names := make([]string, 0, len(counts))
	values := make(map[string]int64, len(counts))
	for k, v := range counts {
		names = append(names, k)
		values[k] = v
	}
	mu.Unlock()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "events", Unit: "count"}},
	}
	for i, name := range names {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: name, SystemName: name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{values[name]},
		})
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil
	}
	return buf.Bytes()
}
