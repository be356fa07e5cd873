package fs

import (
	"bytes"
	"testing"

	"rvkernel/blockdev"
	"rvkernel/defs"
)

// memDisk is a host-memory stand-in for blockdev.FileDisk, so tests don't
// need a scratch file on disk.
type memDisk struct {
	blocks map[int]*[blockdev.BlockSize]byte
}

func newMemDisk() *memDisk {
	return &memDisk{blocks: make(map[int]*[blockdev.BlockSize]byte)}
}

func (d *memDisk) ReadBlock(id int, buf *[blockdev.BlockSize]byte) error {
	if b, ok := d.blocks[id]; ok {
		*buf = *b
	} else {
		*buf = [blockdev.BlockSize]byte{}
	}
	return nil
}

func (d *memDisk) WriteBlock(id int, buf *[blockdev.BlockSize]byte) error {
	cp := *buf
	d.blocks[id] = &cp
	return nil
}

func (d *memDisk) Flush() error { return nil }

const testTotalBlocks = 4096

func mustCreate(t *testing.T) (*memDisk, *EasyFileSystem) {
	t.Helper()
	disk := newMemDisk()
	efs, err := Create(disk, testTotalBlocks, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return disk, efs
}

func TestCreateFormatsRootDirectory(t *testing.T) {
	_, efs := mustCreate(t)
	root := efs.RootInode()
	if root.InodeId != 0 {
		t.Fatalf("root inode id = %d, want 0", root.InodeId)
	}
	if len(root.Ls()) != 0 {
		t.Fatal("a freshly formatted image should have an empty root directory")
	}
}

func TestCreateFindWriteReadRoundTrip(t *testing.T) {
	_, efs := mustCreate(t)
	root := efs.RootInode()

	f, errv := root.Create("hello")
	if errv != defs.EOK {
		t.Fatalf("Create: %v", errv)
	}

	payload := bytes.Repeat([]byte("the quick brown fox "), 64) // spans multiple blocks
	if n := f.WriteAt(0, payload); n != len(payload) {
		t.Fatalf("WriteAt returned %d, want %d", n, len(payload))
	}
	if f.Size() != uint32(len(payload)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(payload))
	}

	got := make([]byte, len(payload))
	if n := f.ReadAt(0, got); n != len(payload) {
		t.Fatalf("ReadAt returned %d, want %d", n, len(payload))
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("read-back bytes did not match what was written")
	}

	found, errv := root.Find("hello")
	if errv != defs.EOK {
		t.Fatalf("Find: %v", errv)
	}
	if found.InodeId != f.InodeId {
		t.Fatalf("Find returned inode %d, want %d", found.InodeId, f.InodeId)
	}
}

func TestCreateDuplicateNameFails(t *testing.T) {
	_, efs := mustCreate(t)
	root := efs.RootInode()
	if _, errv := root.Create("dup"); errv != defs.EOK {
		t.Fatalf("first Create: %v", errv)
	}
	if _, errv := root.Create("dup"); errv != defs.EEXIST {
		t.Fatalf("duplicate Create = %v, want EEXIST", errv)
	}
}

func TestFindMissingNameFails(t *testing.T) {
	_, efs := mustCreate(t)
	root := efs.RootInode()
	if _, errv := root.Find("nope"); errv != defs.ENOENT {
		t.Fatalf("Find of missing name = %v, want ENOENT", errv)
	}
}

func TestClearReleasesDataBlocksForReuse(t *testing.T) {
	_, efs := mustCreate(t)
	root := efs.RootInode()
	f, _ := root.Create("big")

	payload := bytes.Repeat([]byte{0xAB}, 8*BlockSize)
	f.WriteAt(0, payload)

	// Exhaust the data bitmap, confirming the blocks f holds are genuinely
	// unavailable to anyone else until f.Clear() frees them.
	var allocated []uint32
	for {
		id, ok := efs.AllocData()
		if !ok {
			break
		}
		allocated = append(allocated, id)
	}
	if len(allocated) == 0 {
		t.Fatal("expected some data blocks to still be allocatable before Clear")
	}

	f.Clear()
	if f.Size() != 0 {
		t.Fatalf("Size() after Clear = %d, want 0", f.Size())
	}

	// Now f's own 8 blocks should be reusable too.
	reclaimed := 0
	for i := 0; i < 8; i++ {
		if _, ok := efs.AllocData(); ok {
			reclaimed++
		}
	}
	if reclaimed != 8 {
		t.Fatalf("reclaimed %d blocks after Clear, want 8", reclaimed)
	}

	for _, id := range allocated {
		if err := efs.DeallocData(id); err != nil {
			t.Fatalf("DeallocData: %v", err)
		}
	}
}

// AllocData draws from the data bitmap, not the inode bitmap: after one
// data allocation on a fresh image the next inode id is still 1 (the root
// holds 0).
func TestAllocDataUsesDataBitmap(t *testing.T) {
	_, efs := mustCreate(t)
	blk, ok := efs.AllocData()
	if !ok || blk != efs.DataAreaStartBlock {
		t.Fatalf("AllocData = (%d, %v), want (%d, true)", blk, ok, efs.DataAreaStartBlock)
	}
	ino, ok := efs.AllocInode()
	if !ok || ino != 1 {
		t.Fatalf("AllocInode after AllocData = (%d, %v), want (1, true)", ino, ok)
	}
}

func TestOpenCreateTruncatesExisting(t *testing.T) {
	_, efs := mustCreate(t)
	f, errv := efs.Open("afile", defs.OCreate)
	if errv != defs.EOK {
		t.Fatalf("Open create: %v", errv)
	}
	f.WriteAt(0, []byte("stale contents"))

	reopened, errv := efs.Open("afile", defs.OCreate)
	if errv != defs.EOK {
		t.Fatalf("Open create (existing): %v", errv)
	}
	if reopened.Size() != 0 {
		t.Fatalf("reopening with OCreate should truncate, got size %d", reopened.Size())
	}
}

func TestOpenReopenFromDiskPreservesContents(t *testing.T) {
	disk, efs := mustCreate(t)
	root := efs.RootInode()
	f, _ := root.Create("persisted")
	f.WriteAt(0, []byte("durable"))
	efs.Cache.SyncAll()

	reopened, err := Open(disk)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	found, errv := reopened.RootInode().Find("persisted")
	if errv != defs.EOK {
		t.Fatalf("Find after reopen: %v", errv)
	}
	buf := make([]byte, len("durable"))
	found.ReadAt(0, buf)
	if string(buf) != "durable" {
		t.Fatalf("contents after reopen = %q, want %q", buf, "durable")
	}
}

func TestBitmapAllocDeallocConservation(t *testing.T) {
	cache := NewBlockCache(newMemDisk())
	bm := NewBitmap(0, 1)

	first, ok := bm.Alloc(cache)
	if !ok {
		t.Fatal("first alloc should succeed")
	}
	second, ok := bm.Alloc(cache)
	if !ok {
		t.Fatal("second alloc should succeed")
	}
	if first == second {
		t.Fatal("two live allocations should never share a bit")
	}

	if err := bm.Dealloc(cache, first); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}
	reused, ok := bm.Alloc(cache)
	if !ok || reused != first {
		t.Fatalf("freed bit should be reused; got %d, want %d", reused, first)
	}
}

func TestBitmapDoubleDeallocPanics(t *testing.T) {
	cache := NewBlockCache(newMemDisk())
	bm := NewBitmap(0, 1)
	bit, _ := bm.Alloc(cache)
	bm.Dealloc(cache, bit)

	defer func() {
		if recover() == nil {
			t.Fatal("double-dealloc of a bitmap bit should panic")
		}
	}()
	bm.Dealloc(cache, bit)
}

func TestBlockCacheEvictsLeastRecentlyUsed(t *testing.T) {
	disk := newMemDisk()
	cache := NewBlockCache(disk)
	for i := 0; i < maxCachedBlocks+1; i++ {
		if err := cache.WithBlock(i, true, func(blk *CacheBlock) {
			blk.Data[0] = byte(i + 1)
		}); err != nil {
			t.Fatalf("WithBlock(%d): %v", i, err)
		}
	}
	// Block 0 was the least recently touched and should have been evicted
	// (and written back) once the cache hit maxCachedBlocks+1 entries.
	if b, ok := disk.blocks[0]; !ok || b[0] != 1 {
		t.Fatal("block 0 should have been written back to disk when it was evicted")
	}
	if err := cache.WithBlock(0, false, func(blk *CacheBlock) {
		if blk.Data[0] != 1 {
			t.Fatalf("evicted block 0's byte = %d, want 1 (written back before eviction)", blk.Data[0])
		}
	}); err != nil {
		t.Fatalf("WithBlock(0) after eviction: %v", err)
	}
}
