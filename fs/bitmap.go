package fs

// BitsPerBlock is how many allocation units one bitmap block tracks.
const BitsPerBlock = BlockSize * 8

// Bitmap is an allocator over a contiguous run of bitmap blocks starting
// at startBlock, per spec.md §4.6. alloc scans for the first clear bit,
// sets it, and returns its index (relative to the bitmap's own region,
// the caller adds the appropriate area base); dealloc clears it.
type Bitmap struct {
	startBlock int
	numBlocks  int
}

func NewBitmap(startBlock, numBlocks int) *Bitmap {
	return &Bitmap{startBlock: startBlock, numBlocks: numBlocks}
}

// Alloc finds the first clear bit across the bitmap's blocks, sets it via
// the block cache (so the flip is paired with a cached write-back, per
// spec.md §4.6), and returns its global bit index or ok=false if the
// region is full.
func (bm *Bitmap) Alloc(cache *BlockCache) (int, bool) {
	for blockOff := 0; blockOff < bm.numBlocks; blockOff++ {
		found := -1
		err := cache.WithBlock(bm.startBlock+blockOff, true, func(blk *CacheBlock) {
			for bytei := 0; bytei < BlockSize; bytei++ {
				b := blk.Data[bytei]
				if b == 0xff {
					continue
				}
				for bit := 0; bit < 8; bit++ {
					if b&(1<<uint(bit)) == 0 {
						blk.Data[bytei] = b | (1 << uint(bit))
						found = bytei*8 + bit
						return
					}
				}
			}
		})
		if err != nil {
			return 0, false
		}
		if found >= 0 {
			return blockOff*BitsPerBlock + found, true
		}
	}
	return 0, false
}

// Dealloc clears bit via the block cache.
func (bm *Bitmap) Dealloc(cache *BlockCache, bit int) error {
	blockOff := bit / BitsPerBlock
	within := bit % BitsPerBlock
	bytei := within / 8
	bitIdx := uint(within % 8)
	return cache.WithBlock(bm.startBlock+blockOff, true, func(blk *CacheBlock) {
		if blk.Data[bytei]&(1<<bitIdx) == 0 {
			panic("fs: double-free of bitmap bit")
		}
		blk.Data[bytei] &^= 1 << bitIdx
	})
}

// MaxAllocatable is how many bits this bitmap's blocks can hold.
func (bm *Bitmap) MaxAllocatable() int {
	return bm.numBlocks * BitsPerBlock
}
