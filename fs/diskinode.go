package fs

import "unsafe"

// indirectBlock views a whole cache block as an array of block-id
// entries, the layout the indirect1/indirect2 index blocks use.
type indirectBlock [InodeIndirect1Count]uint32

func indirectAt(blk *CacheBlock) *indirectBlock {
	return (*indirectBlock)(unsafe.Pointer(&blk.Data[0]))
}

// GetBlockId resolves inner block id i to an absolute data-block id,
// following the direct/indirect1/indirect2 chain exactly as spec.md §3
// describes.
func (d *DiskInode) GetBlockId(cache *BlockCache, i uint32) (uint32, error) {
	switch {
	case i < DirectBound:
		return d.Direct[i], nil
	case i < Indirect1Bound:
		var id uint32
		err := cache.WithBlock(int(d.Indirect1), false, func(blk *CacheBlock) {
			id = indirectAt(blk)[i-DirectBound]
		})
		return id, err
	default:
		j := i - Indirect1Bound
		var ind1 uint32
		err := cache.WithBlock(int(d.Indirect2), false, func(blk *CacheBlock) {
			ind1 = indirectAt(blk)[j/InodeIndirect1Count]
		})
		if err != nil {
			return 0, err
		}
		var id uint32
		err = cache.WithBlock(int(ind1), false, func(blk *CacheBlock) {
			id = indirectAt(blk)[j%InodeIndirect1Count]
		})
		return id, err
	}
}

// IncreaseSize consumes the pre-allocated newBlocks in order, filling
// direct slots, then indirect1 (allocated on first use), then indirect2
// and its indirect1 children in lock-step, per spec.md §4.6.
func (d *DiskInode) IncreaseSize(cache *BlockCache, newSize uint32, newBlocks []uint32) error {
	curBlocks := d.DataBlocks()
	d.Size = newSize
	totalBlocks := d.DataBlocks()
	var idx int

	// direct
	for curBlocks < totalBlocks && curBlocks < DirectBound {
		d.Direct[curBlocks] = newBlocks[idx]
		idx++
		curBlocks++
	}
	if totalBlocks <= DirectBound {
		return nil
	}

	// indirect1
	if curBlocks == DirectBound {
		d.Indirect1 = newBlocks[idx]
		idx++
	}
	curBlocks -= DirectBound
	totalBlocks1 := totalBlocks - DirectBound
	if err := cache.WithBlock(int(d.Indirect1), true, func(blk *CacheBlock) {
		ind := indirectAt(blk)
		for curBlocks < totalBlocks1 && curBlocks < InodeIndirect1Count {
			ind[curBlocks] = newBlocks[idx]
			idx++
			curBlocks++
		}
	}); err != nil {
		return err
	}
	if totalBlocks1 <= InodeIndirect1Count {
		return nil
	}

	// indirect2
	curBlocks -= InodeIndirect1Count
	totalBlocks2 := totalBlocks1 - InodeIndirect1Count
	a0, b0 := curBlocks/InodeIndirect1Count, curBlocks%InodeIndirect1Count
	a1, b1 := totalBlocks2/InodeIndirect1Count, totalBlocks2%InodeIndirect1Count
	if b0 == 0 && a0 == 0 {
		d.Indirect2 = newBlocks[idx]
		idx++
	}
	for a0 < a1 || (a0 == a1 && b0 < b1) {
		var ind1Id uint32
		needAlloc := b0 == 0
		if err := cache.WithBlock(int(d.Indirect2), true, func(blk *CacheBlock) {
			ind2 := indirectAt(blk)
			if needAlloc {
				ind2[a0] = newBlocks[idx]
				idx++
			}
			ind1Id = ind2[a0]
		}); err != nil {
			return err
		}
		limit := InodeIndirect1Count
		if a0 == a1 {
			limit = b1
		}
		if err := cache.WithBlock(int(ind1Id), true, func(blk *CacheBlock) {
			ind1 := indirectAt(blk)
			for b0 < limit {
				ind1[b0] = newBlocks[idx]
				idx++
				b0++
			}
		}); err != nil {
			return err
		}
		if b0 >= InodeIndirect1Count {
			b0 = 0
			a0++
		}
	}
	return nil
}

// ClearSize traverses the index structure, collects every data-block id
// (including the indirect meta-blocks) for the caller to dealloc, and
// zeroes size/indirect1/indirect2, per spec.md §4.6.
func (d *DiskInode) ClearSize(cache *BlockCache) ([]uint32, error) {
	var freed []uint32
	dataBlocks := d.DataBlocks()
	d.Size = 0

	n := dataBlocks
	// direct
	directTaken := uint32(0)
	for directTaken < n && directTaken < DirectBound {
		freed = append(freed, d.Direct[directTaken])
		directTaken++
	}
	if n <= DirectBound {
		return freed, nil
	}

	// indirect1
	rem1 := n - DirectBound
	if err := cache.WithBlock(int(d.Indirect1), false, func(blk *CacheBlock) {
		ind := indirectAt(blk)
		limit := rem1
		if limit > InodeIndirect1Count {
			limit = InodeIndirect1Count
		}
		for i := uint32(0); i < limit; i++ {
			freed = append(freed, ind[i])
		}
	}); err != nil {
		return nil, err
	}
	freed = append(freed, d.Indirect1)
	d.Indirect1 = 0
	if n <= Indirect1Bound {
		return freed, nil
	}

	// indirect2
	rem2 := n - Indirect1Bound
	fullGroups := rem2 / InodeIndirect1Count
	lastGroup := rem2 % InodeIndirect1Count
	groups := fullGroups
	if lastGroup > 0 {
		groups++
	}
	for g := uint32(0); g < groups; g++ {
		var ind1Id uint32
		if err := cache.WithBlock(int(d.Indirect2), false, func(blk *CacheBlock) {
			ind1Id = indirectAt(blk)[g]
		}); err != nil {
			return nil, err
		}
		limit := uint32(InodeIndirect1Count)
		if g == groups-1 && lastGroup > 0 {
			limit = lastGroup
		}
		if err := cache.WithBlock(int(ind1Id), false, func(blk *CacheBlock) {
			ind := indirectAt(blk)
			for i := uint32(0); i < limit; i++ {
				freed = append(freed, ind[i])
			}
		}); err != nil {
			return nil, err
		}
		freed = append(freed, ind1Id)
	}
	freed = append(freed, d.Indirect2)
	d.Indirect2 = 0
	return freed, nil
}

// ReadAt clips [offset, offset+len(buf)) to [0, size) and copies block by
// block through the index chain, per spec.md §4.6.
func (d *DiskInode) ReadAt(cache *BlockCache, offset uint32, buf []byte) (int, error) {
	end := offset + uint32(len(buf))
	if end > d.Size {
		end = d.Size
	}
	if offset >= end {
		return 0, nil
	}
	var total int
	cur := offset
	for cur < end {
		blockId := cur / BlockSize
		blockOff := cur % BlockSize
		n := BlockSize - blockOff
		if remain := end - cur; n > remain {
			n = remain
		}
		absId, err := d.GetBlockId(cache, blockId)
		if err != nil {
			return total, err
		}
		if err := cache.WithBlock(int(absId), false, func(blk *CacheBlock) {
			copy(buf[total:total+int(n)], blk.Data[blockOff:blockOff+n])
		}); err != nil {
			return total, err
		}
		total += int(n)
		cur += n
	}
	return total, nil
}

// WriteAt requires size >= offset+len(buf) (the VFS grows the inode
// first via IncreaseSize), per spec.md §4.6.
func (d *DiskInode) WriteAt(cache *BlockCache, offset uint32, buf []byte) (int, error) {
	end := offset + uint32(len(buf))
	if end > d.Size {
		panic("fs: write_at requires the inode already be grown to fit")
	}
	var total int
	cur := offset
	for cur < end {
		blockId := cur / BlockSize
		blockOff := cur % BlockSize
		n := BlockSize - blockOff
		if remain := end - cur; n > remain {
			n = remain
		}
		absId, err := d.GetBlockId(cache, blockId)
		if err != nil {
			return total, err
		}
		if err := cache.WithBlock(int(absId), true, func(blk *CacheBlock) {
			copy(blk.Data[blockOff:blockOff+n], buf[total:total+int(n)])
		}); err != nil {
			return total, err
		}
		total += int(n)
		cur += n
	}
	return total, nil
}
