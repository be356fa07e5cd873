package fs

import (
	"fmt"
	"sync"

	"rvkernel/blockdev"
)

// Root is the mounted file system the open/read/write/spawn syscalls
// resolve paths against, installed once by boot. A single flat root is
// all spec.md's EFS supports (Non-goals: nested directories), so one
// global mount point is sufficient, in the same vein as the other
// process-wide singletons (mem.Allocator, task.KernelSpace).
var Root *EasyFileSystem

// EasyFileSystem owns the on-disk layout: [super | inode_bitmap |
// inode_area | data_bitmap | data_area], per spec.md §3/§6. The mutex is
// the FS-wide lock spec.md §5 calls coarse-grained, held across any
// operation that allocates or frees on-disk blocks.
type EasyFileSystem struct {
	sync.Mutex
	Cache *BlockCache

	InodeBitmap *Bitmap
	DataBitmap  *Bitmap

	InodeAreaStartBlock uint32
	DataAreaStartBlock  uint32
}

// Create formats a fresh image of totalBlocks blocks with inodeBitmapBlocks
// bitmap blocks for the inode region, the sizing arithmetic taken from
// original_source/easy-fs/src/efs.rs's create().
func Create(disk blockdev.Disk, totalBlocks, inodeBitmapBlocks uint32) (*EasyFileSystem, error) {
	cache := NewBlockCache(disk)

	inodeBitmap := NewBitmap(1, int(inodeBitmapBlocks))
	inodeNum := uint32(inodeBitmap.MaxAllocatable())
	inodeAreaBlocks := (inodeNum*DiskInodeSize + BlockSize - 1) / BlockSize
	inodeTotalBlocks := inodeBitmapBlocks + inodeAreaBlocks
	if totalBlocks < 1+inodeTotalBlocks {
		return nil, fmt.Errorf("fs: disk too small for %d inode blocks", inodeTotalBlocks)
	}
	dataTotalBlocks := totalBlocks - 1 - inodeTotalBlocks
	dataBitmapBlocks := (dataTotalBlocks + 4096) / 4097
	dataAreaBlocks := dataTotalBlocks - dataBitmapBlocks

	inodeAreaStart := 1 + inodeBitmapBlocks
	dataBitmapStart := inodeAreaStart + inodeAreaBlocks
	dataAreaStart := dataBitmapStart + dataBitmapBlocks

	efs := &EasyFileSystem{
		Cache:               cache,
		InodeBitmap:         inodeBitmap,
		DataBitmap:          NewBitmap(int(dataBitmapStart), int(dataBitmapBlocks)),
		InodeAreaStartBlock: inodeAreaStart,
		DataAreaStartBlock:  dataAreaStart,
	}

	// zero every managed block so stale host-file bytes never look valid
	for i := uint32(0); i < totalBlocks; i++ {
		if err := cache.WithBlock(int(i), true, func(blk *CacheBlock) {
			for j := range blk.Data {
				blk.Data[j] = 0
			}
		}); err != nil {
			return nil, err
		}
	}

	if err := cache.WithBlock(0, true, func(blk *CacheBlock) {
		sb := superblockAt(blk.Data[:])
		sb.Magic = EFSMagic
		sb.TotalBlocks = totalBlocks
		sb.InodeBitmapBlocks = inodeBitmapBlocks
		sb.InodeAreaBlocks = inodeAreaBlocks
		sb.DataBitmapBlocks = dataBitmapBlocks
		sb.DataAreaBlocks = dataAreaBlocks
	}); err != nil {
		return nil, err
	}

	// root inode: allocate inode 0, initialise as a directory.
	rootId, ok := efs.InodeBitmap.Alloc(cache)
	if !ok || rootId != 0 {
		return nil, fmt.Errorf("fs: root inode allocation returned %d", rootId)
	}
	block, offset := efs.diskInodePos(uint32(rootId))
	if err := cache.WithBlock(int(block), true, func(blk *CacheBlock) {
		di := diskInodeAt(blk.Data[offset:])
		*di = DiskInode{Type: TypeDirectory}
	}); err != nil {
		return nil, err
	}

	if err := cache.SyncAll(); err != nil {
		return nil, err
	}
	return efs, nil
}

// Open reads an existing image's superblock and validates its magic.
func Open(disk blockdev.Disk) (*EasyFileSystem, error) {
	cache := NewBlockCache(disk)
	var sb Superblock
	if err := cache.WithBlock(0, false, func(blk *CacheBlock) {
		sb = *superblockAt(blk.Data[:])
	}); err != nil {
		return nil, err
	}
	if !sb.IsValid() {
		return nil, fmt.Errorf("fs: bad superblock magic %#x", sb.Magic)
	}
	inodeAreaStart := 1 + sb.InodeBitmapBlocks
	dataBitmapStart := inodeAreaStart + sb.InodeAreaBlocks
	dataAreaStart := dataBitmapStart + sb.DataBitmapBlocks
	return &EasyFileSystem{
		Cache:               cache,
		InodeBitmap:         NewBitmap(1, int(sb.InodeBitmapBlocks)),
		DataBitmap:          NewBitmap(int(dataBitmapStart), int(sb.DataBitmapBlocks)),
		InodeAreaStartBlock: inodeAreaStart,
		DataAreaStartBlock:  dataAreaStart,
	}, nil
}

func (fs *EasyFileSystem) diskInodePos(inodeId uint32) (uint32, uint32) {
	block := inodeId/InodesPerBlock + fs.InodeAreaStartBlock
	offset := (inodeId % InodesPerBlock) * DiskInodeSize
	return block, offset
}

func (fs *EasyFileSystem) dataBlockId(dataBlockId uint32) uint32 {
	return fs.DataAreaStartBlock + dataBlockId
}

// AllocInode allocates a fresh inode id from the inode bitmap.
func (fs *EasyFileSystem) AllocInode() (uint32, bool) {
	id, ok := fs.InodeBitmap.Alloc(fs.Cache)
	return uint32(id), ok
}

// AllocData allocates from the data bitmap and adds the data-area base,
// per spec.md §9's canonical-behaviour note: one upstream revision of
// original_source/easy-fs/src/efs.rs allocates from the inode bitmap
// here instead, which this kernel does not reproduce (see
// fs/efs_test.go's regression test and DESIGN.md).
func (fs *EasyFileSystem) AllocData() (uint32, bool) {
	id, ok := fs.DataBitmap.Alloc(fs.Cache)
	if !ok {
		return 0, false
	}
	return fs.dataBlockId(uint32(id)), true
}

// DeallocData clears the data block's bytes and frees its bitmap bit.
func (fs *EasyFileSystem) DeallocData(blockId uint32) error {
	if err := fs.Cache.WithBlock(int(blockId), true, func(blk *CacheBlock) {
		for i := range blk.Data {
			blk.Data[i] = 0
		}
	}); err != nil {
		return err
	}
	return fs.DataBitmap.Dealloc(fs.Cache, int(blockId-fs.DataAreaStartBlock))
}

// WithDiskInode pins inodeId's block in cache and invokes fn over the
// DiskInode window, per spec.md §4.6's modify_disk_inode idiom.
func (fs *EasyFileSystem) WithDiskInode(inodeId uint32, markDirty bool, fn func(*DiskInode)) error {
	block, offset := fs.diskInodePos(inodeId)
	return fs.Cache.WithBlock(int(block), markDirty, func(blk *CacheBlock) {
		fn(diskInodeAt(blk.Data[offset:]))
	})
}

// RootInode returns the VFS handle for inode 0, the single root directory.
func (fs *EasyFileSystem) RootInode() *Inode {
	return &Inode{InodeId: 0, fs: fs}
}
