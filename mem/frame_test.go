package mem

import "testing"

func TestAllocDeallocConservation(t *testing.T) {
	Init(0, 4)

	var trackers []*FrameTracker
	for i := 0; i < 4; i++ {
		fr, ok := Alloc()
		if !ok {
			t.Fatalf("alloc %d: region should not be exhausted yet", i)
		}
		trackers = append(trackers, fr)
	}
	if Live() != 4 {
		t.Fatalf("Live() = %d, want 4", Live())
	}
	if _, ok := Alloc(); ok {
		t.Fatal("alloc beyond the region should fail")
	}

	trackers[1].Drop()
	if Live() != 3 {
		t.Fatalf("Live() after one drop = %d, want 3", Live())
	}

	reused, ok := Alloc()
	if !ok {
		t.Fatal("a freed frame should be reusable")
	}
	if reused.Ppn != trackers[1].Ppn {
		t.Fatalf("expected the freed ppn %#x to be recycled, got %#x", trackers[1].Ppn, reused.Ppn)
	}
	if Live() != 4 {
		t.Fatalf("Live() after recycle = %d, want 4", Live())
	}
}

func TestDoubleFreePanics(t *testing.T) {
	Init(0, 4)
	fr, ok := Alloc()
	if !ok {
		t.Fatal("alloc should succeed")
	}
	fr.Drop()

	defer func() {
		if recover() == nil {
			t.Fatal("double-free of a frame tracker should panic")
		}
	}()
	fr.Drop()
}

func TestDeallocNeverAllocatedPanics(t *testing.T) {
	Init(0, 4)
	defer func() {
		if recover() == nil {
			t.Fatal("dealloc of a never-allocated ppn should panic")
		}
	}()
	ReleasePpn(3)
}

func TestAllocZeroFills(t *testing.T) {
	Init(0, 2)
	fr, ok := Alloc()
	if !ok {
		t.Fatal("alloc should succeed")
	}
	pg := fr.Bytes()
	pg[0] = 0xff
	fr.Drop()

	reused, ok := Alloc()
	if !ok {
		t.Fatal("alloc should succeed after free")
	}
	if reused.Ppn != fr.Ppn {
		t.Fatal("expected the same ppn to be recycled")
	}
	if reused.Bytes()[0] != 0 {
		t.Fatal("a reallocated frame must be zero-filled")
	}
}
