package vm

import (
	"bytes"
	"debug/elf"
	"fmt"

	"rvkernel/defs"
)

// KernelSection values are supplied by boot from the linker-script-equivalent
// layout this hosted kernel uses; spec.md treats .text/.rodata/.data/.bss
// as given externally ("trivial plumbing... out of scope"), so boot
// supplies the addresses rather than vm inventing a linker.
type KernelSection struct {
	Start, End VirtAddr
	Perm       defs.MapPermission
}

// MemorySet is one page table plus an ordered sequence of MapAreas, per
// spec.md §3. Areas never overlap (enforced by Mmap/pushArea).
type MemorySet struct {
	PageTable *PageTable
	areas     []*MapArea
}

func newMemorySet() *MemorySet {
	return &MemorySet{PageTable: NewPageTable()}
}

func (ms *MemorySet) Token() uint64 { return ms.PageTable.Token() }

// Recycle releases every owned frame across all of ms's areas, the
// moment task.Exit calls to reclaim a zombie's address space before it
// is reaped (spec.md §4.5 "Exit" — only the TaskControlBlock itself,
// not its memory, survives until Wait). Recycle empties the area list,
// so a second call finds nothing to release; Exit calls it exactly once.
func (ms *MemorySet) Recycle() {
	for _, a := range ms.areas {
		a.UnmapAll(ms.PageTable)
	}
	ms.areas = nil
}

// mapTrampoline identity-maps the single physical trampoline frame at the
// top of every address space's VA range with R|X and no U, per spec.md §3
// invariant (b). trampolinePpn is supplied by boot, which owns the one
// physical frame holding the trampoline code.
func (ms *MemorySet) mapTrampoline(trampolinePpn PhysPageNum) {
	vpn := VirtAddr(defs.Trampoline).Floor()
	ms.PageTable.Map(vpn, trampolinePpn, defs.PteR|defs.PteX)
}

// pushArea inserts area into the ordered list and maps it, panicking if it
// overlaps an existing one — overlap is a programming error in every
// caller (from_elf, new_kernel), never a user-triggerable condition.
func (ms *MemorySet) pushArea(area *MapArea, data []uint8) {
	for _, a := range ms.areas {
		if overlaps(a.StartVpn, a.EndVpn, area.StartVpn, area.EndVpn) {
			panic("vm: overlapping MapArea pushed")
		}
	}
	area.MapAll(ms.PageTable)
	if data != nil {
		area.CopyData(ms.PageTable, data)
	}
	ms.areas = append(ms.areas, area)
}

func overlaps(s1, e1, s2, e2 VirtPageNum) bool {
	return s1 < e2 && s2 < e1
}

// InsertFramedArea is the public entry point mmap-like callers (the mmap
// syscall, trap-context/user-stack construction) use to add a new framed
// region with explicit permissions.
func (ms *MemorySet) InsertFramedArea(start, end VirtAddr, perm defs.MapPermission) {
	ms.pushArea(NewMapArea(start.Floor(), end.Ceil(), MapFramed, perm), nil)
}

// RemoveAreaStartingAt deletes the framed area beginning exactly at vpn,
// unmapping its pages. Returns false if no such area exists.
func (ms *MemorySet) RemoveAreaStartingAt(vpn VirtPageNum) bool {
	for i, a := range ms.areas {
		if a.StartVpn == vpn {
			a.UnmapAll(ms.PageTable)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return true
		}
	}
	return false
}

// NewKernelSpace builds the kernel's own address space: identity-maps the
// kernel sections boot supplies, the physical-memory tail
// [ekernel, MEMORY_END), the MMIO windows (supplemented feature, §10 of
// SPEC_FULL), and the trampoline, per spec.md §4.2.
func NewKernelSpace(sections []KernelSection, ekernel PhysAddr, trampolinePpn PhysPageNum) *MemorySet {
	ms := newMemorySet()
	for _, s := range sections {
		ms.pushArea(NewMapArea(s.Start.Floor(), s.End.Ceil(), MapIdentical, s.Perm), nil)
	}
	physStart := VirtAddr(ekernel).Floor()
	physEnd := VirtAddr(defs.MemoryEnd).Ceil()
	ms.pushArea(NewMapArea(physStart, physEnd, MapIdentical, defs.PermR|defs.PermW), nil)
	for _, region := range defs.MMIORegions {
		s := VirtAddr(region.Base).Floor()
		e := VirtAddr(region.Base + region.Len).Ceil()
		ms.pushArea(NewMapArea(s, e, MapIdentical, defs.PermR|defs.PermW), nil)
	}
	ms.mapTrampoline(trampolinePpn)
	return ms
}

// ElfImage is the result of FromElf: the built address space plus the
// values the TCB needs to seed the initial trap context.
type ElfImage struct {
	MemorySet *MemorySet
	UserSp    VirtAddr
	Entry     VirtAddr
	BaseSize  uint64
}

// FromElf parses an ELF image, maps each PT_LOAD segment as a framed area
// with permissions derived from the segment flags plus U, places a guard
// page, a user stack, and the trap-context page, per spec.md §4.2.
// trapContextPpn is the already-allocated frame for TRAP_CONTEXT: callers
// (task.FromElf) own that frame's lifetime alongside the TCB, mirroring
// biscuit's trap_cx_ppn field living on the TCB, not inside MemorySet.
func FromElf(data []uint8, trampolinePpn, trapContextPpn PhysPageNum) (*ElfImage, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("vm: bad elf magic: %w", err)
	}
	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("vm: not a riscv elf: %v", f.Machine)
	}

	ms := newMemorySet()
	var maxEnd VirtAddr
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		start := VirtAddr(prog.Vaddr)
		end := start + VirtAddr(prog.Filesz)
		perm := defs.PermU
		if prog.Flags&elf.PF_R != 0 {
			perm |= defs.PermR
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= defs.PermW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= defs.PermX
		}
		segData := make([]uint8, prog.Filesz)
		if _, err := prog.ReadAt(segData, 0); err != nil {
			return nil, fmt.Errorf("vm: reading PT_LOAD segment: %w", err)
		}
		area := NewMapArea(start.Floor(), end.Ceil(), MapFramed, perm)
		ms.pushArea(area, segData)
		if segEnd := end.Ceil().Addr(); segEnd > maxEnd {
			maxEnd = segEnd
		}
	}

	// One unmapped guard page, then the user stack, per spec.md §4.2.
	guardBottom := maxEnd
	stackBottom := guardBottom + defs.PageSize
	stackTop := stackBottom + defs.UserStackSize
	ms.InsertFramedArea(stackBottom, stackTop, defs.PermR|defs.PermW|defs.PermU)

	ms.mapTrampoline(trampolinePpn)
	ms.PageTable.Map(VirtAddr(defs.TrapContextVA).Floor(), trapContextPpn, defs.PteR|defs.PteW)

	return &ElfImage{
		MemorySet: ms,
		UserSp:    stackTop,
		Entry:     VirtAddr(f.Entry),
		BaseSize:  uint64(stackTop),
	}, nil
}

// FromExistedUser performs a full deep copy for fork: every framed area is
// duplicated with fresh frames and source bytes are copied frame by frame;
// identity areas (kernel-only) are not re-copied. No CoW, per spec.md
// §4.2 and the Non-goals in §1.
func FromExistedUser(parent *MemorySet, trampolinePpn, trapContextPpn PhysPageNum) *MemorySet {
	ms := newMemorySet()
	for _, a := range parent.areas {
		if a.Typ == MapIdentical {
			continue
		}
		newArea := NewMapArea(a.StartVpn, a.EndVpn, a.Typ, a.Perm)
		ms.areas = append(ms.areas, newArea)
		newArea.MapAll(ms.PageTable)
		for vpn := a.StartVpn; vpn < a.EndVpn; vpn++ {
			srcFr := a.data[vpn]
			dstFr := newArea.data[vpn]
			copy(dstFr.Bytes()[:], srcFr.Bytes()[:])
		}
	}
	ms.mapTrampoline(trampolinePpn)
	ms.PageTable.Map(VirtAddr(defs.TrapContextVA).Floor(), trapContextPpn, defs.PteR|defs.PteW)
	return ms
}

// Mmap implements the mmap syscall contract from spec.md §4.2: start must
// be page-aligned, 0 < len <= 1GiB, port occupies only the low 3 bits and
// must be non-zero, and the resulting range must not overlap any existing
// area. Permission is port|U. Returns false without side effects on
// any violation.
func (ms *MemorySet) Mmap(start VirtAddr, length uint64, port uint64) bool {
	if uint64(start)%defs.PageSize != 0 {
		return false
	}
	if length == 0 || length > defs.MmapMaxLen {
		return false
	}
	if port == 0 || port & ^uint64(0b111) != 0 {
		return false
	}
	startVpn := start.Floor()
	endVpn := (start + VirtAddr(length)).Ceil()
	for _, a := range ms.areas {
		if overlaps(a.StartVpn, a.EndVpn, startVpn, endVpn) {
			return false
		}
	}
	perm := defs.MapPermission(port) | defs.PermU
	ms.pushArea(NewMapArea(startVpn, endVpn, MapFramed, perm), nil)
	return true
}

// Munmap requires the range to exactly tile a prefix-contiguous sequence
// of existing framed areas starting at start, per spec.md §4.2. This
// kernel always creates one MapArea per mmap call and never merges or
// splits them, so "exactly tile" reduces to "there is exactly one area
// whose bounds match [start, start+length)".
func (ms *MemorySet) Munmap(start VirtAddr, length uint64) bool {
	startVpn := start.Floor()
	endVpn := (start + VirtAddr(length)).Ceil()
	for i, a := range ms.areas {
		if a.StartVpn == startVpn && a.EndVpn == endVpn {
			a.UnmapAll(ms.PageTable)
			ms.areas = append(ms.areas[:i], ms.areas[i+1:]...)
			return true
		}
	}
	return false
}

// findAreaByStart locates the framed area beginning at vpn, used by
// sbrk's ShrinkTo/AppendTo to find the heap area.
func (ms *MemorySet) findAreaByStart(vpn VirtPageNum) *MapArea {
	for _, a := range ms.areas {
		if a.StartVpn == vpn {
			return a
		}
	}
	return nil
}

// AppendTo grows the heap area starting at heapBase out to newEnd,
// per spec.md §4.2's shrink_to/append_to contract for sbrk. Returns false
// if no such area exists.
func (ms *MemorySet) AppendTo(heapBase VirtAddr, newEnd VirtAddr) bool {
	area := ms.findAreaByStart(heapBase.Floor())
	if area == nil {
		return false
	}
	area.growTail(ms.PageTable, newEnd.Ceil())
	return true
}

// ShrinkTo shrinks the heap area starting at heapBase down to newEnd.
func (ms *MemorySet) ShrinkTo(heapBase VirtAddr, newEnd VirtAddr) bool {
	area := ms.findAreaByStart(heapBase.Floor())
	if area == nil {
		return false
	}
	area.shrinkTail(ms.PageTable, newEnd.Ceil())
	return true
}

// Translate exposes the underlying page table's lookup for vpn.
func (ms *MemorySet) Translate(vpn VirtPageNum) (PageTableEntry, bool) {
	return ms.PageTable.Translate(vpn)
}
