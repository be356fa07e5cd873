package vm

import (
	"rvkernel/defs"
	"rvkernel/mem"
)

// ptEntriesPerPage is the number of PageTableEntry slots in one 4 KiB
// page-table page: 4096 / 8.
const ptEntriesPerPage = defs.PageSize / 8

// pageTablePage views a physical frame as an array of PTEs, the Sv39
// equivalent of biscuit's mem.Pmap_t.
type pageTablePage [ptEntriesPerPage]PageTableEntry

func ptePage(ppn PhysPageNum) *pageTablePage {
	// The frame's bytes are zero-filled on allocation (mem.Alloc); reading
	// it as a PTE array is safe because Go zero-value uint64 is 0, same
	// as an all-zero byte page.
	bp := framePage(ppn)
	return (*pageTablePage)(asPteArray(bp))
}

// PageTable is a 3-level Sv39 page table rooted at one frame. Intermediate
// frames are owned by the table's own frame list (frames field), not by
// any MapArea, mirroring biscuit's Pmap frame-list retention.
type PageTable struct {
	rootPpn PhysPageNum
	frames  []*mem.FrameTracker
}

// NewPageTable allocates the root frame and returns an empty table.
func NewPageTable() *PageTable {
	fr, ok := mem.Alloc()
	if !ok {
		panic("vm: out of frames allocating page table root")
	}
	return &PageTable{rootPpn: fr.Ppn, frames: []*mem.FrameTracker{fr}}
}

// FromToken builds a PageTable handle over an already-constructed root,
// for a caller that has only the satp token, not the owning MemorySet, in
// hand. Nothing in this repository calls it.
func FromToken(satp uint64) *PageTable {
	return &PageTable{rootPpn: PhysPageNum(satp & ((1 << 44) - 1))}
}

// Token returns the root PPN OR-ed with the Sv39 mode bits, the value
// written to satp, per spec.md §4.2.
func (pt *PageTable) Token() uint64 {
	return defs.SatpModeSv39 | uint64(pt.rootPpn)
}

// findPteCreate walks the three levels, allocating intermediate frames on
// the fly as valid non-leaf PTEs (no R/W/X bits, per spec.md §4.2).
func (pt *PageTable) findPteCreate(vpn VirtPageNum) *PageTableEntry {
	idx := vpn.Indexes()
	ppn := pt.rootPpn
	for level := 0; level < 3; level++ {
		page := ptePage(ppn)
		pte := &page[idx[level]]
		if level == 2 {
			return pte
		}
		if !pte.IsValid() {
			fr, ok := mem.Alloc()
			if !ok {
				panic("vm: out of frames walking page table")
			}
			pt.frames = append(pt.frames, fr)
			*pte = MkPte(fr.Ppn, defs.PteV)
		}
		ppn = pte.Ppn()
	}
	panic("unreachable")
}

// findPte walks without creating; returns nil if any intermediate level is
// absent.
func (pt *PageTable) findPte(vpn VirtPageNum) *PageTableEntry {
	idx := vpn.Indexes()
	ppn := pt.rootPpn
	for level := 0; level < 3; level++ {
		page := ptePage(ppn)
		pte := &page[idx[level]]
		if level == 2 {
			return pte
		}
		if !pte.IsValid() {
			return nil
		}
		ppn = pte.Ppn()
	}
	panic("unreachable")
}

// Map installs vpn -> ppn with the given permission flags (V is OR'd in
// automatically), per spec.md §4.2. Mapping an already-valid VPN is a
// kernel invariant breach.
func (pt *PageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags uint64) {
	pte := pt.findPteCreate(vpn)
	if pte.IsValid() {
		panic("vm: remap of already-mapped vpn")
	}
	*pte = MkPte(ppn, flags|defs.PteV)
}

// Unmap requires a currently valid leaf and zeroes it, per spec.md §4.2.
func (pt *PageTable) Unmap(vpn VirtPageNum) {
	pte := pt.findPte(vpn)
	if pte == nil || !pte.IsValid() {
		panic("vm: unmap of unmapped vpn")
	}
	*pte = 0
}

// Translate returns the leaf PTE if valid, else ok=false.
func (pt *PageTable) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	pte := pt.findPte(vpn)
	if pte == nil || !pte.IsValid() {
		return 0, false
	}
	return *pte, true
}

// TranslateVA returns the physical address the containing page maps to,
// or ok=false if that page is unmapped.
func (pt *PageTable) TranslateVA(va VirtAddr) (PhysAddr, bool) {
	pte, ok := pt.Translate(va.Floor())
	if !ok {
		return 0, false
	}
	return PhysAddr(uint64(pte.Ppn())<<defs.PageShift + va.PageOffset()), true
}
