// Package fs implements the on-disk EFS file system: block cache,
// superblock, bitmap-indexed inode/data regions, the DiskInode index
// chain, and the VFS inode-level operations. Grounded on biscuit's
// fs.Bdev_block_t/BlkList_t (fs/blk.go) for the cache shape and
// fs.Superblock_t (fs/super.go) for the field-accessor style; the actual
// on-disk layout and addressing arithmetic come from
// original_source/easy-fs/src/{layout,efs,vfs}.rs, which is what
// spec.md §3/§4.6 was distilled from.
package fs

import (
	"unsafe"

	"rvkernel/blockdev"
)

const (
	BlockSize = blockdev.BlockSize

	EFSMagic = 0x3b800001

	InodeDirectCount    = 28
	DirectBound         = InodeDirectCount
	InodeIndirect1Count = BlockSize / 4
	Indirect1Bound      = DirectBound + InodeIndirect1Count
	InodeIndirect2Count = InodeIndirect1Count * InodeIndirect1Count
	Indirect2Bound      = Indirect1Bound + InodeIndirect2Count

	DiskInodeSize = 128
	InodesPerBlock = BlockSize / DiskInodeSize

	DirEntrySize = 32
	NameLen      = 28
)

// DiskInodeType distinguishes a regular file from a directory.
type DiskInodeType uint32

const (
	TypeFile      DiskInodeType = 0
	TypeDirectory DiskInodeType = 1
)

// DiskInode is the 128-byte on-disk inode, laid out exactly as spec.md §3
// describes so that unsafe-casting a cache block's byte window onto it
// round-trips: size(4) + direct[28](112) + indirect1(4) + indirect2(4) +
// type(4) = 128, every field 4-byte aligned so Go inserts no padding.
type DiskInode struct {
	Size      uint32
	Direct    [InodeDirectCount]uint32
	Indirect1 uint32
	Indirect2 uint32
	Type      DiskInodeType
}

// diskInodeAt reinterprets a 128-byte window of a cache block as a
// DiskInode, the Go-unsafe analogue of biscuit's Pg2bytes/Bytepg2pg casts
// used throughout mem.go and stat.go.
func diskInodeAt(window []byte) *DiskInode {
	if len(window) < DiskInodeSize {
		panic("fs: disk inode window too small")
	}
	return (*DiskInode)(unsafe.Pointer(&window[0]))
}

func (d *DiskInode) IsDir() bool  { return d.Type == TypeDirectory }
func (d *DiskInode) IsFile() bool { return d.Type == TypeFile }

// DataBlocks returns how many data blocks the inode's current size needs.
func (d *DiskInode) DataBlocks() uint32 {
	return dataBlocksForSize(d.Size)
}

func dataBlocksForSize(size uint32) uint32 {
	return (size + BlockSize - 1) / BlockSize
}

// TotalBlocks returns DataBlocks() plus the indirect index blocks needed
// to address that many data blocks, mirroring easy-fs's total_blocks.
func TotalBlocks(size uint32) uint32 {
	n := dataBlocksForSize(size)
	total := n
	if n > DirectBound {
		total++ // indirect1 block
	}
	if n > Indirect1Bound {
		total++ // indirect2 block
		// one indirect1 child per 128 data blocks beyond indirect1Bound
		extra := n - Indirect1Bound
		total += (extra + InodeIndirect1Count - 1) / InodeIndirect1Count
	}
	return total
}

// BlockNumNeeded returns how many additional blocks growing from oldSize
// to newSize requires (data blocks plus any newly-needed index blocks).
func BlockNumNeeded(oldSize, newSize uint32) uint32 {
	return TotalBlocks(newSize) - TotalBlocks(oldSize)
}

// DirEntry is the 32-byte directory entry: a 28-byte NUL-terminated name
// plus a 4-byte inode number.
type DirEntry struct {
	Name      [NameLen]byte
	InodeNumber uint32
}

func direntAt(window []byte) *DirEntry {
	if len(window) < DirEntrySize {
		panic("fs: dirent window too small")
	}
	return (*DirEntry)(unsafe.Pointer(&window[0]))
}

func MkDirEntry(name string, inodeNumber uint32) DirEntry {
	var de DirEntry
	copy(de.Name[:], name)
	de.InodeNumber = inodeNumber
	return de
}

func (de *DirEntry) NameStr() string {
	n := 0
	for n < NameLen && de.Name[n] != 0 {
		n++
	}
	return string(de.Name[:n])
}

// Superblock is the 512-byte block-0 header: magic plus the five region
// sizes, per spec.md §3. Field accessors mirror biscuit's
// fs.Superblock_t style (fs/super.go) even though the struct itself is
// plain (no fieldr/fieldw helpers are needed once it is backed by a
// native Go struct rather than a raw byte page).
type Superblock struct {
	Magic             uint32
	TotalBlocks       uint32
	InodeBitmapBlocks uint32
	InodeAreaBlocks   uint32
	DataBitmapBlocks  uint32
	DataAreaBlocks    uint32
}

func superblockAt(window []byte) *Superblock {
	return (*Superblock)(unsafe.Pointer(&window[0]))
}

func (sb *Superblock) IsValid() bool {
	return sb.Magic == EFSMagic
}
