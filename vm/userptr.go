// User-pointer translation: walk a page table to copy bytes/strings/typed
// values across the user/kernel boundary, and produce scatter-gather
// views of buffers that straddle pages. Grounded on biscuit's
// vm.Vm_t.Userdmap8_inner/K2user/User2k (vm/as.go) and vm.Userbuf_t
// (vm/userbuf.go); res.TryReserve replaces the bounds.Bounds/
// res.Resadd_noblock budget check at each loop iteration (see the res
// package doc comment for why).
package vm

import (
	"rvkernel/defs"
	"rvkernel/res"
)

// pageBytes returns the kernel-addressable slice backing the page
// containing va, or ok=false if that page is unmapped — any unmapped
// intermediate page is a fault; callers treat it as an invalid syscall
// argument, per spec.md §4.3.
func pageBytes(pt *PageTable, va VirtAddr) ([]uint8, bool) {
	pte, ok := pt.Translate(va.Floor())
	if !ok {
		return nil, false
	}
	pg := framePage(pte.Ppn())
	return pg[:], true
}

// TranslatedBytes produces a scatter-gather list of kernel slices, one per
// page crossed by the range [ptr, ptr+length).
func TranslatedBytes(pt *PageTable, ptr VirtAddr, length uint64) ([][]uint8, defs.Err_t) {
	var out [][]uint8
	remaining := length
	cur := ptr
	for remaining > 0 {
		if !res.TryReserve(res.SiteUserbufTx) {
			return nil, defs.ENOMEM
		}
		page, ok := pageBytes(pt, cur)
		if !ok {
			return nil, defs.EFAULT
		}
		off := cur.PageOffset()
		avail := uint64(defs.PageSize) - off
		n := avail
		if n > remaining {
			n = remaining
		}
		out = append(out, page[off:off+n])
		cur += VirtAddr(n)
		remaining -= n
	}
	return out, defs.EOK
}

// TranslatedStr walks byte-by-byte using TranslateVA and returns the
// NUL-terminated string at ptr, per spec.md §4.3.
func TranslatedStr(pt *PageTable, ptr VirtAddr) (string, defs.Err_t) {
	var buf []byte
	cur := ptr
	for {
		if !res.TryReserve(res.SiteUserbufTx) {
			return "", defs.ENOMEM
		}
		pa, ok := pt.TranslateVA(cur)
		if !ok {
			return "", defs.EFAULT
		}
		b := *framePageByte(pa)
		if b == 0 {
			break
		}
		buf = append(buf, b)
		cur++
	}
	return string(buf), defs.EOK
}

func framePageByte(pa PhysAddr) *uint8 {
	ppn := PhysPageNum(uint64(pa) >> defs.PageShift)
	off := uint64(pa) & (defs.PageSize - 1)
	pg := framePage(ppn)
	return &pg[off]
}

// CopyOut copies src into the user address space starting at uva,
// replacing biscuit's K2user. The whole range is translated first: if
// any page of it is unmapped, CopyOut returns EFAULT and copies nothing.
func CopyOut(pt *PageTable, uva VirtAddr, src []uint8) defs.Err_t {
	chunks, err := TranslatedBytes(pt, uva, uint64(len(src)))
	if err != defs.EOK {
		return err
	}
	off := 0
	for _, c := range chunks {
		n := copy(c, src[off:])
		off += n
	}
	return defs.EOK
}

// CopyIn copies len(dst) bytes from the user virtual address uva into
// dst, replacing biscuit's User2k.
func CopyIn(pt *PageTable, uva VirtAddr, dst []uint8) defs.Err_t {
	chunks, err := TranslatedBytes(pt, uva, uint64(len(dst)))
	if err != defs.EOK {
		return err
	}
	off := 0
	for _, c := range chunks {
		n := copy(dst[off:], c)
		off += n
	}
	return defs.EOK
}

// TranslatedRef translates the first byte's VA to a PA and exposes a
// kernel byte-slice view of sizeof(T) bytes at that address, the typed
// pointer case from spec.md §4.3. Its caller is sysWrite, which reads the
// user buffer through it; the TimeVal/TaskInfo results go out through
// CopyOut instead.
func TranslatedRef(pt *PageTable, ptr VirtAddr, size int) ([]uint8, defs.Err_t) {
	chunks, err := TranslatedBytes(pt, ptr, uint64(size))
	if err != defs.EOK {
		return nil, err
	}
	if len(chunks) == 1 {
		return chunks[0], defs.EOK
	}
	// A typed value that straddles a page boundary still needs one
	// contiguous view for the caller to reinterpret; stitch it together.
	buf := make([]uint8, 0, size)
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return buf, defs.EOK
}
