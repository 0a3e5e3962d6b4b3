package ffs

import (
	"fmt"
	"io"
	"time"

	"github.com/lvdlvd/affs/fsys/part"
)

// FormatOptions controls Format
type FormatOptions struct {
	// RootBlock overrides the computed root block position when non-zero
	RootBlock uint32
	Now       func() time.Time
}

// Format writes an empty filesystem: boot block, root block, bitmap and
// bitmap extension blocks and, on dir cache volumes, the root cache
// block. The last block of the partition is written too so image files
// come out at full size.
func Format(dev io.WriterAt, g Geometry, dosType DosType, name string, opts FormatOptions) error {
	if err := g.validate(); err != nil {
		return err
	}
	if !dosType.IsDOS() {
		return fmt.Errorf("%w: %s", ErrNotDOS, dosType)
	}
	if err := validateName(name, MaxNameLen); err != nil {
		return err
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	bs := g.fsBlockSize()
	total := g.TotalBlocks()
	root := g.RootBlock()
	if opts.RootBlock != 0 {
		root = opts.RootBlock
	}
	if root <= g.Reserved || root >= total {
		return fmt.Errorf("%w: root block %d", ErrSectorOutOfRange, root)
	}

	nbm := bitmapBlockCount(total, g.Reserved, bs)
	next := root + 1
	take := func(n int) ([]uint32, error) {
		s := make([]uint32, n)
		for i := range s {
			if next >= total {
				return nil, ErrDiskFull
			}
			s[i] = next
			next++
		}
		return s, nil
	}
	bmSectors, err := take(nbm)
	if err != nil {
		return err
	}
	extSectors, err := take(bitmapExtCount(nbm, bs))
	if err != nil {
		return err
	}
	var cacheSector uint32
	if dosType.IsDirCache() {
		s, err := take(1)
		if err != nil {
			return err
		}
		cacheSector = s[0]
	}

	bitmap := createBitmapBlocks(total, g.Reserved, bs)
	used := func(s uint32) {
		i := s - g.Reserved
		per := bitsPerBitmapBlock(bs)
		bitmap[i/per].Map[(i%per)/32] &^= 1 << (i % 32)
	}
	used(root)
	for s := root + 1; s < next; s++ {
		used(s)
	}

	rb := newRootBlock(bs, name, ToAmigaDate(now()))
	copy(rb.BitmapPages[:], bmSectors)
	if len(extSectors) > 0 {
		rb.BitmapExt = extSectors[0]
	}
	rb.Extension = cacheSector

	w := &blockWriter{w: dev, off: g.PartitionOffset(), bs: bs}
	boot := &BootBlock{DosType: dosType, RootBlock: root}
	if err := writeFull(dev, boot.Build(), g.PartitionOffset()); err != nil {
		return fmt.Errorf("writing boot block: %w", err)
	}
	if last := total - 1; last != root && last >= next {
		w.write(last, make([]byte, bs))
	}
	w.write(root, rb.Build(bs))
	for i, b := range bitmap {
		w.write(bmSectors[i], b.Build(bs))
	}
	for i, e := range createBitmapExtBlocks(bmSectors, extSectors, bs) {
		w.write(extSectors[i], e.Build(bs))
	}
	if cacheSector != 0 {
		c := &DirCacheBlock{HeaderKey: cacheSector, Parent: root}
		w.write(cacheSector, c.Build(bs))
	}
	return w.err
}

// FormatPartition formats an RDB partition using its DOS type. dev is the whole disk.
func FormatPartition(dev io.WriterAt, p *part.Partition, name string, opts FormatOptions) error {
	return Format(dev, GeometryFromPartition(p), DosType(p.DosType), name, opts)
}

// InstallBootCode writes code after the boot block header and stores
// the boot checksum, making the volume bootable.
func InstallBootCode(dev interface {
	io.ReaderAt
	io.WriterAt
}, g Geometry, code []byte) error {
	if len(code) > bootBlockSize-12 {
		return fmt.Errorf("boot code is %d bytes, at most %d fit", len(code), bootBlockSize-12)
	}
	buf := make([]byte, bootBlockSize)
	if _, err := dev.ReadAt(buf, g.PartitionOffset()); err != nil {
		return fmt.Errorf("reading boot block: %w", err)
	}
	bb, err := ParseBootBlock(buf)
	if err != nil {
		return err
	}
	bb.Code = make([]byte, bootBlockSize-12)
	copy(bb.Code, code)
	if err := writeFull(dev, bb.Build(), g.PartitionOffset()); err != nil {
		return fmt.Errorf("writing boot block: %w", err)
	}
	return nil
}

// blockWriter keeps the first error of a sequence of block writes
type blockWriter struct {
	w   io.WriterAt
	off int64
	bs  int
	err error
}

func (b *blockWriter) write(sector uint32, buf []byte) {
	if b.err != nil {
		return
	}
	if err := writeFull(b.w, buf, b.off+int64(sector)*int64(b.bs)); err != nil {
		b.err = &BlockError{Op: "write", Sector: sector, Err: err}
	}
}

func writeFull(w io.WriterAt, buf []byte, off int64) error {
	n, err := w.WriteAt(buf, off)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	return err
}
