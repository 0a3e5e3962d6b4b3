package ffs

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// bitsPerBitmapBlock returns the number of blocks one bitmap block covers
func bitsPerBitmapBlock(blockSize int) uint32 { return uint32(bitmapWords(blockSize)) * 32 }

// bitmapBlockCount returns the number of bitmap blocks needed to cover
// a partition of total blocks.
func bitmapBlockCount(total, reserved uint32, blockSize int) int {
	per := bitsPerBitmapBlock(blockSize)
	return int((total - reserved + per - 1) / per)
}

// bitmapExtCount returns the number of bitmap extension blocks needed
// for nbm bitmap blocks.
func bitmapExtCount(nbm, blockSize int) int {
	if nbm <= MaxBitmapPages {
		return 0
	}
	per := blockSize/4 - 1
	return (nbm - MaxBitmapPages + per - 1) / per
}

func (v *Volume) readBitmap() error {
	nbm := bitmapBlockCount(v.lastBlock+1, v.reserved, v.blockSize)

	var sectors []uint32
	for _, p := range v.root.BitmapPages {
		if len(sectors) == nbm || p == 0 {
			break
		}
		sectors = append(sectors, p)
	}
	seen := map[uint32]bool{}
	for ext := v.root.BitmapExt; ext != 0 && len(sectors) < nbm; {
		if seen[ext] {
			return &BlockError{Op: "read bitmap ext", Sector: ext, Err: fmt.Errorf("%w: loop in extension chain", ErrIO)}
		}
		seen[ext] = true
		buf, err := v.readBlock(ext)
		if err != nil {
			return err
		}
		b := ParseBitmapExtBlock(buf)
		for _, p := range b.Pages {
			if len(sectors) == nbm || p == 0 {
				break
			}
			sectors = append(sectors, p)
		}
		ext = b.Next
	}
	if len(sectors) < nbm {
		return fmt.Errorf("%w: %d of %d bitmap blocks referenced", ErrIO, len(sectors), nbm)
	}

	v.bitmap = make([]*BitmapBlock, nbm)
	v.bitmapSectors = sectors
	v.bitmapDirty = make([]bool, nbm)
	v.free = bitset.New(uint(v.lastBlock + 1 - v.reserved))
	per := uint(bitsPerBitmapBlock(v.blockSize))
	for i, s := range sectors {
		buf, err := v.readBlock(s)
		if err != nil {
			return err
		}
		b, err := ParseBitmapBlock(buf)
		if err != nil {
			return &BlockError{Op: "parse bitmap", Sector: s, Err: err}
		}
		v.bitmap[i] = b
		for bit := uint(0); bit < per; bit++ {
			idx := uint(i)*per + bit
			if idx >= v.free.Len() {
				break
			}
			if b.Map[bit/32]&(1<<(bit%32)) != 0 {
				v.free.Set(idx)
			}
		}
	}
	return nil
}

// bitIndex returns the position of sector in the free set
func (v *Volume) bitIndex(sector uint32) (uint, bool) {
	if sector < v.reserved || sector > v.lastBlock {
		return 0, false
	}
	return uint(sector - v.reserved), true
}

// IsBlockFree reports whether sector is marked free. Reserved and out of
// range sectors are never free.
func (v *Volume) IsBlockFree(sector uint32) bool {
	idx, ok := v.bitIndex(sector)
	return ok && v.free.Test(idx)
}

// SetBlockFree marks sector free in memory
func (v *Volume) SetBlockFree(sector uint32) {
	if idx, ok := v.bitIndex(sector); ok {
		v.free.Set(idx)
		v.bitmapDirty[idx/uint(bitsPerBitmapBlock(v.blockSize))] = true
	}
}

// SetBlockUsed marks sector used in memory
func (v *Volume) SetBlockUsed(sector uint32) {
	if idx, ok := v.bitIndex(sector); ok {
		v.free.Clear(idx)
		v.bitmapDirty[idx/uint(bitsPerBitmapBlock(v.blockSize))] = true
	}
}

// GetFreeBlocks allocates n distinct free blocks. The scan starts just
// after the root block, wraps to the first non-reserved block and stops
// when it gets back around. Nothing is marked used unless all n are found.
func (v *Volume) GetFreeBlocks(n int) ([]uint32, error) {
	if err := v.checkWritable(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	start := v.rootSector + 1
	if start > v.lastBlock {
		start = v.reserved
	}
	found := make([]uint32, 0, n)
	collect := func(from, to uint) {
		for i, ok := v.free.NextSet(from); ok && i < to && len(found) < n; i, ok = v.free.NextSet(i + 1) {
			found = append(found, v.reserved+uint32(i))
		}
	}
	first := uint(start - v.reserved)
	collect(first, v.free.Len())
	collect(0, first)
	if len(found) < n {
		return nil, ErrDiskFull
	}
	for _, b := range found {
		v.SetBlockUsed(b)
	}
	return found, nil
}

// GetFreeBlock allocates a single block
func (v *Volume) GetFreeBlock() (uint32, error) {
	b, err := v.GetFreeBlocks(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// FreeBlockCount returns the number of free blocks
func (v *Volume) FreeBlockCount() int { return int(v.free.Count()) }

// FreeRanges returns maximal runs of free blocks as [start, end) pairs
func (v *Volume) FreeRanges() [][2]uint32 {
	var r [][2]uint32
	total := v.free.Len()
	for i, ok := v.free.NextSet(0); ok && i < total; {
		end, found := v.free.NextClear(i)
		if !found {
			end = total
		}
		r = append(r, [2]uint32{v.reserved + uint32(i), v.reserved + uint32(end)})
		i, ok = v.free.NextSet(end)
	}
	return r
}

// syncBitmapBlock copies the free set into the map of bitmap block i
func (v *Volume) syncBitmapBlock(i int) *BitmapBlock {
	b := v.bitmap[i]
	per := uint(bitsPerBitmapBlock(v.blockSize))
	for bit := uint(0); bit < per; bit++ {
		idx := uint(i)*per + bit
		if idx >= v.free.Len() {
			break
		}
		if v.free.Test(idx) {
			b.Map[bit/32] |= 1 << (bit % 32)
		} else {
			b.Map[bit/32] &^= 1 << (bit % 32)
		}
	}
	return b
}

// UpdateBitmap writes the dirty bitmap blocks. The root block is flagged
// invalid while they are written so an interrupted update is detectable.
func (v *Volume) UpdateBitmap() error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	v.root.BitmapFlag = BitmapInvalid
	if err := v.writeRoot(); err != nil {
		return err
	}
	for i, dirty := range v.bitmapDirty {
		if !dirty {
			continue
		}
		if err := v.writeBlock(v.bitmapSectors[i], v.syncBitmapBlock(i).Build(v.blockSize)); err != nil {
			return err
		}
		v.bitmapDirty[i] = false
	}
	v.root.BitmapFlag = BitmapValid
	v.root.DiskAltered = ToAmigaDate(v.now())
	return v.writeRoot()
}

// ConvertBlockFreeMapToUInt32 packs 32 free flags into a bitmap long.
// Element i maps to bit i.
func ConvertBlockFreeMapToUInt32(free []bool) uint32 {
	var w uint32
	for i := 0; i < 32 && i < len(free); i++ {
		if free[i] {
			w |= 1 << i
		}
	}
	return w
}

// ConvertUInt32ToBlockFreeMap unpacks a bitmap long into 32 free flags
func ConvertUInt32ToBlockFreeMap(w uint32) []bool {
	free := make([]bool, 32)
	for i := range free {
		free[i] = w&(1<<i) != 0
	}
	return free
}

// createBitmapBlocks returns bitmap blocks with every allocatable block
// of a total block partition marked free.
func createBitmapBlocks(total, reserved uint32, blockSize int) []*BitmapBlock {
	nbm := bitmapBlockCount(total, reserved, blockSize)
	per := bitsPerBitmapBlock(blockSize)
	blocks := make([]*BitmapBlock, nbm)
	for i := range blocks {
		b := &BitmapBlock{Map: make([]uint32, bitmapWords(blockSize))}
		for bit := uint32(0); bit < per; bit++ {
			if reserved+uint32(i)*per+bit >= total {
				break
			}
			b.Map[bit/32] |= 1 << (bit % 32)
		}
		blocks[i] = b
	}
	return blocks
}

// createBitmapExtBlocks distributes the bitmap block pointers that do
// not fit in the root over extension blocks at the given sectors.
func createBitmapExtBlocks(pages []uint32, sectors []uint32, blockSize int) []*BitmapExtBlock {
	if len(pages) <= MaxBitmapPages {
		return nil
	}
	rest := pages[MaxBitmapPages:]
	per := blockSize/4 - 1
	exts := make([]*BitmapExtBlock, len(sectors))
	for i := range exts {
		n := min(per, len(rest))
		exts[i] = &BitmapExtBlock{Pages: rest[:n]}
		rest = rest[n:]
		if i+1 < len(sectors) {
			exts[i].Next = sectors[i+1]
		}
	}
	return exts
}
