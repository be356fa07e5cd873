// Package vm implements the Sv39 page table, the MemorySet/MapArea
// address-space abstraction, and user-pointer translation — grounded on
// biscuit's vm.Vm_t (vm/as.go) and vm.Userbuf_t (vm/userbuf.go) for the
// locking discipline and scatter-gather shape, with the actual Sv39
// bit layout and walk taken from spec.md §3-§4.2 (this kernel has no
// copy-on-write, so Vm_t's page-fault-driven COW machinery is not
// reproduced: every MapArea is either Identical or eagerly Framed).
package vm

import (
	"rvkernel/defs"
	"rvkernel/mem"
)

// VirtAddr is a 39-bit virtual address.
type VirtAddr uint64

// VirtPageNum is the 27-bit VPN of a VirtAddr.
type VirtPageNum uint64

// PhysAddr and PhysPageNum reuse mem's physical address types: physical
// memory is identity-mapped in the kernel space, so there is only ever
// one namespace for it.
type PhysAddr = mem.Pa_t
type PhysPageNum = mem.Ppn_t

func (va VirtAddr) Floor() VirtPageNum  { return VirtPageNum(va >> defs.PageShift) }
func (va VirtAddr) PageOffset() uint64  { return uint64(va) & (defs.PageSize - 1) }
func (va VirtAddr) Ceil() VirtPageNum {
	if va == 0 {
		return 0
	}
	return VirtPageNum((uint64(va) + defs.PageSize - 1) >> defs.PageShift)
}

func (vpn VirtPageNum) Addr() VirtAddr { return VirtAddr(uint64(vpn) << defs.PageShift) }

// Indexes splits the VPN into the three 9-bit Sv39 walk indices, highest
// level first (vpn[2], vpn[1], vpn[0]).
func (vpn VirtPageNum) Indexes() [3]uint64 {
	v := uint64(vpn)
	var idx [3]uint64
	for i := 2; i >= 0; i-- {
		idx[i] = v & defs.VpnMask
		v >>= defs.VpnPerLevel
	}
	return idx
}

func PaOf(ppn PhysPageNum) PhysAddr { return ppn.Addr() }

// PageTableEntry is the 8-byte Sv39 leaf/branch entry: ppn(44) << 10 |
// flags(8), per spec.md §3.
type PageTableEntry uint64

func MkPte(ppn PhysPageNum, flags uint64) PageTableEntry {
	return PageTableEntry(uint64(ppn)<<10 | flags)
}

func (pte PageTableEntry) Ppn() PhysPageNum  { return PhysPageNum(uint64(pte) >> 10) }
func (pte PageTableEntry) Flags() uint64     { return uint64(pte) & 0xff }
func (pte PageTableEntry) IsValid() bool     { return uint64(pte)&defs.PteV != 0 }
func (pte PageTableEntry) Readable() bool    { return uint64(pte)&defs.PteR != 0 }
func (pte PageTableEntry) Writable() bool    { return uint64(pte)&defs.PteW != 0 }
func (pte PageTableEntry) Executable() bool  { return uint64(pte)&defs.PteX != 0 }
func (pte PageTableEntry) UserAccessible() bool { return uint64(pte)&defs.PteU != 0 }
