package vm

import (
	"testing"

	"rvkernel/defs"
	"rvkernel/mem"
)

func withFrames(t *testing.T, n int) {
	t.Helper()
	mem.Init(0, mem.Ppn_t(n))
}

func TestPageTableMapTranslateRoundTrip(t *testing.T) {
	withFrames(t, 64)
	pt := NewPageTable()

	vpn := VirtAddr(0x1000).Floor()
	data, ok := mem.Alloc()
	if !ok {
		t.Fatal("out of frames")
	}
	pt.Map(vpn, data.Ppn, defs.PteR|defs.PteW|defs.PteU)

	pte, ok := pt.Translate(vpn)
	if !ok {
		t.Fatal("translate of mapped vpn failed")
	}
	if pte.Ppn() != data.Ppn {
		t.Fatalf("ppn mismatch: got %#x want %#x", pte.Ppn(), data.Ppn)
	}
	if !pte.Readable() || !pte.Writable() || !pte.UserAccessible() {
		t.Fatal("permission bits lost across map/translate")
	}
	if pte.Executable() {
		t.Fatal("unexpected X bit")
	}
}

func TestPageTableTranslateUnmapped(t *testing.T) {
	withFrames(t, 64)
	pt := NewPageTable()
	if _, ok := pt.Translate(VirtAddr(0x2000).Floor()); ok {
		t.Fatal("translate of never-mapped vpn should fail")
	}
}

func TestPageTableRemapPanics(t *testing.T) {
	withFrames(t, 64)
	pt := NewPageTable()
	vpn := VirtAddr(0x3000).Floor()
	fr, _ := mem.Alloc()
	pt.Map(vpn, fr.Ppn, defs.PteR)

	defer func() {
		if recover() == nil {
			t.Fatal("remapping an already-valid vpn should panic")
		}
	}()
	pt.Map(vpn, fr.Ppn, defs.PteR)
}

func TestPageTableUnmapThenTranslateFails(t *testing.T) {
	withFrames(t, 64)
	pt := NewPageTable()
	vpn := VirtAddr(0x4000).Floor()
	fr, _ := mem.Alloc()
	pt.Map(vpn, fr.Ppn, defs.PteR|defs.PteW)
	pt.Unmap(vpn)
	if _, ok := pt.Translate(vpn); ok {
		t.Fatal("translate should fail after unmap")
	}
}

func TestVirtAddrFloorCeil(t *testing.T) {
	if VirtAddr(0x1001).Floor() != VirtAddr(0x1000).Floor() {
		t.Fatal("floor should truncate within the same page")
	}
	if VirtAddr(0x1000).Ceil() != VirtAddr(0x1000).Floor() {
		t.Fatal("ceil of a page-aligned address should equal its floor")
	}
	if VirtAddr(0x1001).Ceil() == VirtAddr(0x1000).Floor() {
		t.Fatal("ceil of an unaligned address should round up to the next page")
	}
}
