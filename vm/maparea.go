package vm

import (
	"rvkernel/defs"
	"rvkernel/mem"
)

// MapType distinguishes an identity mapping (kernel sections, physical
// memory, MMIO) from a framed one (anything backed by freshly allocated
// frames: user segments, stacks, heaps, mmap regions, trap context,
// kernel stacks), per spec.md §3 MapArea.
type MapType int

const (
	MapIdentical MapType = iota
	MapFramed
)

// MapArea is a half-open VPN range with one map type and permission set.
// For Framed areas, data holds the owning FrameTracker per VPN so frames
// are released exactly once when the area is unmapped.
type MapArea struct {
	StartVpn VirtPageNum
	EndVpn   VirtPageNum
	Typ      MapType
	Perm     defs.MapPermission
	data     map[VirtPageNum]*mem.FrameTracker
}

func NewMapArea(start, end VirtPageNum, typ MapType, perm defs.MapPermission) *MapArea {
	ma := &MapArea{StartVpn: start, EndVpn: end, Typ: typ, Perm: perm}
	if typ == MapFramed {
		ma.data = make(map[VirtPageNum]*mem.FrameTracker)
	}
	return ma
}

func (ma *MapArea) contains(vpn VirtPageNum) bool {
	return vpn >= ma.StartVpn && vpn < ma.EndVpn
}

// mapOne installs one VPN's PTE according to the area's type: identity
// areas point straight at the frame numbered the same as the VPN; framed
// areas draw a fresh zero-filled frame from the allocator.
func (ma *MapArea) mapOne(pt *PageTable, vpn VirtPageNum) {
	var ppn PhysPageNum
	switch ma.Typ {
	case MapIdentical:
		ppn = PhysPageNum(vpn)
	case MapFramed:
		fr, ok := mem.Alloc()
		if !ok {
			panic("vm: out of frames mapping framed area")
		}
		ma.data[vpn] = fr
		ppn = fr.Ppn
	}
	pt.Map(vpn, ppn, ma.Perm.PteFlags())
}

func (ma *MapArea) unmapOne(pt *PageTable, vpn VirtPageNum) {
	if ma.Typ == MapFramed {
		fr, ok := ma.data[vpn]
		if !ok {
			panic("vm: unmap of vpn the area never mapped")
		}
		delete(ma.data, vpn)
		fr.Drop()
	}
	pt.Unmap(vpn)
}

// MapAll installs every VPN in the area's range.
func (ma *MapArea) MapAll(pt *PageTable) {
	for vpn := ma.StartVpn; vpn < ma.EndVpn; vpn++ {
		ma.mapOne(pt, vpn)
	}
}

// UnmapAll releases every VPN in the area's range, dropping owned frames.
func (ma *MapArea) UnmapAll(pt *PageTable) {
	for vpn := ma.StartVpn; vpn < ma.EndVpn; vpn++ {
		ma.unmapOne(pt, vpn)
	}
}

// CopyData copies data page by page into the area starting at StartVpn,
// used by from_elf to load PT_LOAD segment bytes (spec.md §4.2). Only
// valid for Framed areas.
func (ma *MapArea) CopyData(pt *PageTable, data []uint8) {
	vpn := ma.StartVpn
	off := 0
	for off < len(data) {
		fr := ma.data[vpn]
		src := data[off:]
		if len(src) > defs.PageSize {
			src = src[:defs.PageSize]
		}
		copy(fr.Bytes()[:], src)
		off += len(src)
		vpn++
	}
}

// growTail maps framed pages from the area's tail up to newEnd, used by
// sbrk growth (AppendTo). newEnd must not be below the current EndVpn.
func (ma *MapArea) growTail(pt *PageTable, newEnd VirtPageNum) {
	for vpn := ma.EndVpn; vpn < newEnd; vpn++ {
		ma.mapOne(pt, vpn)
	}
	ma.EndVpn = newEnd
}

// shrinkTail removes pages from the area's tail down to newEnd, unmapping
// from the new end toward the old one (spec.md §9 Open Question). While
// the loop runs, [StartVpn, EndVpn) has a hole below the pages not yet
// unmapped; EndVpn moves to newEnd once every page past it is gone.
func (ma *MapArea) shrinkTail(pt *PageTable, newEnd VirtPageNum) {
	for vpn := newEnd; vpn < ma.EndVpn; vpn++ {
		ma.unmapOne(pt, vpn)
	}
	ma.EndVpn = newEnd
}
