package ffs

import (
	"bytes"
	"fmt"
)

// Root block tail offsets, counted back from the end of the block
const (
	tailBitmapFlag  = 0xc8
	tailBitmapPages = 0xc4
	tailBitmapExt   = 0x60
	tailRootAltered = 0x5c
	tailDiskName    = 0x50
	tailDiskAltered = 0x28
	tailCreated     = 0x1c
)

// RootBlock is the anchor of the volume: root directory hash table,
// bitmap pointers, volume name and dates.
type RootBlock struct {
	Raw []byte

	HashTableSize uint32
	HashTable     []uint32
	BitmapFlag    int32
	BitmapPages   [MaxBitmapPages]uint32
	BitmapExt     uint32
	RootAltered   Date // last change to the root directory
	Name          string
	DiskAltered   Date // last change anywhere on the volume
	Created       Date // filesystem creation
	Extension     uint32
}

// ParseRootBlock decodes and validates a root block
func ParseRootBlock(buf []byte) (*RootBlock, error) {
	bs := len(buf)
	if t := getInt32(buf, offType); t != TypeHeader {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockType, t)
	}
	if st := getInt32(buf, bs-tailSecType); st != STRoot {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSecondaryType, st)
	}
	if err := verifyChecksum(buf, offChecksum); err != nil {
		return nil, err
	}

	r := &RootBlock{
		Raw:           bytes.Clone(buf),
		HashTableSize: be.Uint32(buf[offTableSize:]),
		HashTable:     readTable(buf),
		BitmapFlag:    getInt32(buf, bs-tailBitmapFlag),
		BitmapExt:     be.Uint32(buf[bs-tailBitmapExt:]),
		RootAltered:   readDate(buf, bs-tailRootAltered),
		Name:          readBSTR(buf, bs-tailDiskName, MaxNameLen),
		DiskAltered:   readDate(buf, bs-tailDiskAltered),
		Created:       readDate(buf, bs-tailCreated),
		Extension:     be.Uint32(buf[bs-tailExtension:]),
	}
	for i := range r.BitmapPages {
		r.BitmapPages[i] = be.Uint32(buf[bs-tailBitmapPages+i*4:])
	}
	return r, nil
}

// Build encodes the root block
func (r *RootBlock) Build(blockSize int) []byte {
	buf := make([]byte, blockSize)
	if len(r.Raw) == blockSize {
		copy(buf, r.Raw)
	}
	bs := blockSize

	putInt32(buf, offType, TypeHeader)
	be.PutUint32(buf[offHeaderKey:], 0)
	be.PutUint32(buf[offHighSeq:], 0)
	be.PutUint32(buf[offTableSize:], r.HashTableSize)
	be.PutUint32(buf[offFirstData:], 0)
	writeTable(buf, r.HashTable)
	putInt32(buf, bs-tailBitmapFlag, r.BitmapFlag)
	for i, p := range r.BitmapPages {
		be.PutUint32(buf[bs-tailBitmapPages+i*4:], p)
	}
	be.PutUint32(buf[bs-tailBitmapExt:], r.BitmapExt)
	writeDate(buf, bs-tailRootAltered, r.RootAltered)
	writeBSTR(buf, bs-tailDiskName, MaxNameLen, r.Name)
	writeDate(buf, bs-tailDiskAltered, r.DiskAltered)
	writeDate(buf, bs-tailCreated, r.Created)
	be.PutUint32(buf[bs-tailNextSameHash:], 0)
	be.PutUint32(buf[bs-tailParent:], 0)
	be.PutUint32(buf[bs-tailExtension:], r.Extension)
	putInt32(buf, bs-tailSecType, STRoot)
	putChecksum(buf, offChecksum)
	return buf
}

// newRootBlock returns an empty root block for the given block size
func newRootBlock(blockSize int, name string, now Date) *RootBlock {
	n := TableSize(blockSize)
	return &RootBlock{
		HashTableSize: uint32(n),
		HashTable:     make([]uint32, n),
		BitmapFlag:    BitmapValid,
		RootAltered:   now,
		Name:          name,
		DiskAltered:   now,
		Created:       now,
	}
}

// BitmapBlock holds one block worth of free/used bits (1 = free)
type BitmapBlock struct {
	Map []uint32
}

// bitmapWords returns the number of map longs in a bitmap block
func bitmapWords(blockSize int) int { return blockSize/4 - 1 }

// ParseBitmapBlock decodes a bitmap block. The checksum is the first long.
func ParseBitmapBlock(buf []byte) (*BitmapBlock, error) {
	if err := verifyChecksum(buf, 0); err != nil {
		return nil, err
	}
	b := &BitmapBlock{Map: make([]uint32, bitmapWords(len(buf)))}
	for i := range b.Map {
		b.Map[i] = be.Uint32(buf[4+i*4:])
	}
	return b, nil
}

// Build encodes the bitmap block
func (b *BitmapBlock) Build(blockSize int) []byte {
	buf := make([]byte, blockSize)
	for i := 0; i < bitmapWords(blockSize) && i < len(b.Map); i++ {
		be.PutUint32(buf[4+i*4:], b.Map[i])
	}
	putChecksum(buf, 0)
	return buf
}

// BitmapExtBlock holds further bitmap block pointers. It carries no
// checksum; the last long points to the next extension block.
type BitmapExtBlock struct {
	Pages []uint32
	Next  uint32
}

// ParseBitmapExtBlock decodes a bitmap extension block
func ParseBitmapExtBlock(buf []byte) *BitmapExtBlock {
	n := len(buf)/4 - 1
	b := &BitmapExtBlock{Pages: make([]uint32, n), Next: be.Uint32(buf[len(buf)-4:])}
	for i := range b.Pages {
		b.Pages[i] = be.Uint32(buf[i*4:])
	}
	return b
}

// Build encodes the bitmap extension block
func (b *BitmapExtBlock) Build(blockSize int) []byte {
	buf := make([]byte, blockSize)
	for i := 0; i < blockSize/4-1 && i < len(b.Pages); i++ {
		be.PutUint32(buf[i*4:], b.Pages[i])
	}
	be.PutUint32(buf[blockSize-4:], b.Next)
	return buf
}
