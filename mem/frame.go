// Package mem implements the physical frame allocator: hand out and
// reclaim 4 KiB physical frames from a contiguous region, exactly the
// role biscuit's mem.Physmem_t plays for x86 physical memory. This
// kernel is single-hart, so the per-CPU free-list pools in
// biscuit/src/mem/mem.go (Physmem_t.percpu) are not reproduced — a single
// bump watermark plus one LIFO free list, guarded by one mutex, is all a
// uniprocessor allocator needs, per spec.md §4.1.
package mem

import (
	"fmt"
	"sync"

	"rvkernel/defs"
	"rvkernel/metrics"
)

// Pa_t is a physical address, named the way biscuit's mem.Pa_t is.
type Pa_t uint64

// Ppn_t is a physical page number (Pa_t >> PageShift).
type Ppn_t uint64

func (p Ppn_t) Addr() Pa_t { return Pa_t(p) << defs.PageShift }

func PaToPpn(pa Pa_t) Ppn_t { return Ppn_t(pa >> defs.PageShift) }

// Bytepg_t is a byte-addressed page, mirroring biscuit's mem.Bytepg_t.
type Bytepg_t [defs.PageSize]uint8

// FrameTracker is the exclusive owner of one physical frame: it zero-fills
// the frame on acquisition and returns it to the allocator exactly once,
// via Drop. Double-return is a kernel invariant breach (panic), per
// spec.md §4.1 and the testable property in §8.1.
type FrameTracker struct {
	Ppn     Ppn_t
	dropped bool
}

// Bytes exposes the frame's backing storage. Callers must not retain the
// slice past the tracker's lifetime.
func (ft *FrameTracker) Bytes() *Bytepg_t {
	return physBacking(ft.Ppn)
}

// Drop returns the frame to the global allocator. Calling Drop twice is a
// double-free and panics, matching spec.md §4.1 ("dealloc ... fails
// (panic) if ppn >= current or already free").
func (ft *FrameTracker) Drop() {
	if ft.dropped {
		panic("mem: double-free of frame tracker")
	}
	ft.dropped = true
	Allocator.dealloc(ft.Ppn)
}

// frameAllocator is the global physical-frame allocator: a watermark plus
// a LIFO recycle list, guarded by a mutex as an "exclusive-access cell"
// (spec.md §4.1, §9 "Global mutable kernel state").
type frameAllocator struct {
	sync.Mutex
	start   Ppn_t
	current Ppn_t
	end     Ppn_t
	free    []Ppn_t

	// backing is the host-process simulation of physical RAM: real frames
	// don't exist without silicon, so each Ppn_t maps to a Go-heap page.
	// This is the hosted substitute for bare-metal physical memory, not a
	// spec feature. Pages are created on first access by physBacking;
	// Init (called from boot.Boot) sets which PPNs the allocator hands out.
	backing map[Ppn_t]*Bytepg_t
}

// Allocator is the process-wide frame allocator singleton.
var Allocator = &frameAllocator{backing: make(map[Ppn_t]*Bytepg_t)}

// Init establishes the half-open PPN range [start, end) the allocator may
// hand out, called once from boot with start = ceil(ekernel) and
// end = floor(MEMORY_END) per spec.md §4.1.
func Init(start, end Ppn_t) {
	Allocator.Lock()
	defer Allocator.Unlock()
	Allocator.start = start
	Allocator.current = start
	Allocator.end = end
	Allocator.free = Allocator.free[:0]
	metrics.FrameWatermark.Set(0)
	metrics.FramesLive.Set(0)
}

// Alloc returns a zero-filled frame wrapped in a tracker, or ok=false if
// the region is exhausted.
func Alloc() (*FrameTracker, bool) {
	Allocator.Lock()
	ppn, ok := Allocator.allocLocked()
	Allocator.Unlock()
	if !ok {
		return nil, false
	}
	pg := physBacking(ppn)
	for i := range pg {
		pg[i] = 0
	}
	return &FrameTracker{Ppn: ppn}, true
}

func (a *frameAllocator) allocLocked() (Ppn_t, bool) {
	if n := len(a.free); n > 0 {
		ppn := a.free[n-1]
		a.free = a.free[:n-1]
		metrics.FramesLive.Set(float64(int(a.current-a.start) - len(a.free)))
		return ppn, true
	}
	if a.current >= a.end {
		return 0, false
	}
	ppn := a.current
	a.current++
	metrics.FrameWatermark.Set(float64(a.current - a.start))
	metrics.FramesLive.Set(float64(int(a.current-a.start) - len(a.free)))
	return ppn, true
}

func (a *frameAllocator) dealloc(ppn Ppn_t) {
	a.Lock()
	defer a.Unlock()
	if ppn >= a.current {
		panic(fmt.Sprintf("mem: dealloc of never-allocated frame %#x", ppn))
	}
	for _, f := range a.free {
		if f == ppn {
			panic(fmt.Sprintf("mem: double-free of frame %#x", ppn))
		}
	}
	a.free = append(a.free, ppn)
	metrics.FramesLive.Set(float64(int(a.current-a.start) - len(a.free)))
}

// ReleasePpn returns ppn directly to the allocator without going through
// a FrameTracker, for the one case a frame's tracker was intentionally
// not retained: the trap-context page, whose lifetime is tracked by its
// owning TaskControlBlock instead (see task.Exit).
func ReleasePpn(ppn Ppn_t) {
	Allocator.dealloc(ppn)
}

// Live returns the number of currently allocated (not-yet-freed) frames,
// used by the frame-allocator-conservation property test (spec.md §8.1).
func Live() int {
	Allocator.Lock()
	defer Allocator.Unlock()
	return int(Allocator.current-Allocator.start) - len(Allocator.free)
}

// FramePage exposes the hosted backing store for ppn to other kernel
// packages (vm's page-table walker, the block cache's DMA buffers). It is
// the hosted substitute for "physical memory is identity-mapped" on real
// hardware: any package holding a Ppn_t can reach its bytes directly.
func FramePage(ppn Ppn_t) *Bytepg_t {
	return physBacking(ppn)
}

func physBacking(ppn Ppn_t) *Bytepg_t {
	Allocator.Lock()
	defer Allocator.Unlock()
	pg, ok := Allocator.backing[ppn]
	if !ok {
		pg = &Bytepg_t{}
		Allocator.backing[ppn] = pg
	}
	return pg
}
