package fs

import (
	"fmt"

	"rvkernel/defs"
)

// Inode is an in-memory handle over a DiskInode: find/create/ls/read/
// write/clear within the single root directory, per spec.md §4.6. Linear
// directory scans are acceptable because the file system has exactly one
// flat directory (spec.md §1 Non-goals: no nested directories).
type Inode struct {
	InodeId uint32
	fs      *EasyFileSystem
}

func (ino *Inode) withDiskInode(markDirty bool, fn func(*DiskInode)) error {
	return ino.fs.WithDiskInode(ino.InodeId, markDirty, fn)
}

func (ino *Inode) direntCount(di *DiskInode) uint32 {
	return di.Size / DirEntrySize
}

// findInodeId scans the directory's entries sequentially and returns the
// inode id bound to name, or ok=false.
func (ino *Inode) findInodeId(name string) (uint32, bool, error) {
	var found uint32
	var ok bool
	err := ino.withDiskInode(false, func(di *DiskInode) {
		if !di.IsDir() {
			return
		}
		count := ino.direntCount(di)
		var buf [DirEntrySize]byte
		for i := uint32(0); i < count; i++ {
			if _, rerr := di.ReadAt(ino.fs.Cache, i*DirEntrySize, buf[:]); rerr != nil {
				return
			}
			de := direntAt(buf[:])
			if de.NameStr() == name {
				found = de.InodeNumber
				ok = true
				return
			}
		}
	})
	return found, ok, err
}

// Find looks up name within the directory and returns its VFS handle.
func (ino *Inode) Find(name string) (*Inode, defs.Err_t) {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	id, ok, err := ino.findInodeId(name)
	if err != nil || !ok {
		return nil, defs.ENOENT
	}
	return &Inode{InodeId: id, fs: ino.fs}, defs.EOK
}

// increaseSize grows di to newSize, pre-allocating the needed data blocks
// through the block cache before delegating to DiskInode.IncreaseSize,
// per spec.md §4.6.
func (ino *Inode) increaseSize(di *DiskInode, newSize uint32) error {
	if newSize <= di.Size {
		return nil
	}
	needed := BlockNumNeeded(di.Size, newSize)
	blocks := make([]uint32, 0, needed)
	for i := uint32(0); i < needed; i++ {
		id, ok := ino.fs.AllocData()
		if !ok {
			return fmt.Errorf("fs: out of data blocks growing inode %d", ino.InodeId)
		}
		blocks = append(blocks, id)
	}
	return di.IncreaseSize(ino.fs.Cache, newSize, blocks)
}

// appendDirEntry grows the directory by one entry and writes de at the
// new tail slot.
func (ino *Inode) appendDirEntry(di *DiskInode, de DirEntry) error {
	count := ino.direntCount(di)
	newSize := (count + 1) * DirEntrySize
	if err := ino.increaseSize(di, newSize); err != nil {
		return err
	}
	var buf [DirEntrySize]byte
	*direntAt(buf[:]) = de
	_, err := di.WriteAt(ino.fs.Cache, count*DirEntrySize, buf[:])
	return err
}

// Create rejects duplicates, allocates a fresh inode, appends a directory
// entry, and initialises the new disk inode as a File, per spec.md §4.6.
func (ino *Inode) Create(name string) (*Inode, defs.Err_t) {
	ino.fs.Lock()
	defer ino.fs.Unlock()

	if _, ok, _ := ino.findInodeId(name); ok {
		return nil, defs.EEXIST
	}

	newId, ok := ino.fs.AllocInode()
	if !ok {
		return nil, defs.ENOMEM
	}
	if err := ino.fs.WithDiskInode(newId, true, func(di *DiskInode) {
		*di = DiskInode{Type: TypeFile}
	}); err != nil {
		return nil, defs.ENOMEM
	}

	var outerErr error
	if err := ino.withDiskInode(true, func(di *DiskInode) {
		outerErr = ino.appendDirEntry(di, MkDirEntry(name, newId))
	}); err != nil || outerErr != nil {
		return nil, defs.ENOMEM
	}

	if err := ino.fs.Cache.SyncAll(); err != nil {
		return nil, defs.ENOMEM
	}
	return &Inode{InodeId: newId, fs: ino.fs}, defs.EOK
}

// Ls collects every directory entry's name.
func (ino *Inode) Ls() []string {
	var names []string
	ino.withDiskInode(false, func(di *DiskInode) {
		count := ino.direntCount(di)
		var buf [DirEntrySize]byte
		for i := uint32(0); i < count; i++ {
			if _, err := di.ReadAt(ino.fs.Cache, i*DirEntrySize, buf[:]); err != nil {
				return
			}
			names = append(names, direntAt(buf[:]).NameStr())
		}
	})
	return names
}

// ReadAt delegates through withDiskInode, taking the FS-wide mutex, per
// spec.md §4.6.
func (ino *Inode) ReadAt(offset uint32, buf []byte) int {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var n int
	ino.withDiskInode(false, func(di *DiskInode) {
		n, _ = di.ReadAt(ino.fs.Cache, offset, buf)
	})
	return n
}

// WriteAt grows the inode first if needed, then writes, per spec.md §4.6
// ("write_at requires size >= offset+buf.len(); the VFS grows the inode
// first").
func (ino *Inode) WriteAt(offset uint32, buf []byte) int {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var n int
	ino.withDiskInode(true, func(di *DiskInode) {
		end := offset + uint32(len(buf))
		if err := ino.increaseSize(di, end); err != nil {
			return
		}
		n, _ = di.WriteAt(ino.fs.Cache, offset, buf)
	})
	ino.fs.Cache.SyncAll()
	return n
}

// Size returns the inode's current byte size.
func (ino *Inode) Size() uint32 {
	var n uint32
	ino.withDiskInode(false, func(di *DiskInode) { n = di.Size })
	return n
}

// Clear truncates the inode to zero and deallocates every block it owned.
func (ino *Inode) Clear() {
	ino.fs.Lock()
	defer ino.fs.Unlock()
	var freed []uint32
	ino.withDiskInode(true, func(di *DiskInode) {
		freed, _ = di.ClearSize(ino.fs.Cache)
	})
	for _, b := range freed {
		ino.fs.DeallocData(b)
	}
	ino.fs.Cache.SyncAll()
}

// Open implements the open(name, flags) contract from spec.md §4.6:
// with CREATE, truncate an existing file or create a new one; without,
// find the existing file, optionally truncating it.
func (fs *EasyFileSystem) Open(name string, flags int) (*Inode, defs.Err_t) {
	root := fs.RootInode()
	if flags&defs.OCreate != 0 {
		if existing, err := root.Find(name); err == defs.EOK {
			existing.Clear()
			return existing, defs.EOK
		}
		return root.Create(name)
	}
	ino, err := root.Find(name)
	if err != defs.EOK {
		return nil, err
	}
	if flags&defs.OTrunc != 0 {
		ino.Clear()
	}
	return ino, defs.EOK
}
