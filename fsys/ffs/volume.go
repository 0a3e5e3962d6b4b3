// Package ffs implements read/write access to Amiga OFS/FFS volumes
// (DOS\0 to DOS\7) on floppy images and hard disk partitions.
//
// A Volume is owned by one caller at a time. Nothing in this package
// locks; callers that share a Volume between goroutines must serialise
// every call themselves.
package ffs

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/lvdlvd/affs/fsys/part"
)

// Geometry describes where a filesystem lives and how it is blocked.
type Geometry struct {
	LowCyl         uint32
	HighCyl        uint32
	Surfaces       uint32
	BlocksPerTrack uint32
	Reserved       uint32 // filesystem blocks before the first allocatable one
	BlockSize      uint32 // device sector size
	FSBlockSize    uint32 // filesystem block size, 0 means BlockSize
}

// Standard floppy geometries
var (
	FloppyDD = Geometry{LowCyl: 0, HighCyl: 79, Surfaces: 2, BlocksPerTrack: 11, Reserved: 2, BlockSize: 512}
	FloppyHD = Geometry{LowCyl: 0, HighCyl: 79, Surfaces: 2, BlocksPerTrack: 22, Reserved: 2, BlockSize: 512}
)

// GeometryFromPartition converts an RDB partition descriptor
func GeometryFromPartition(p *part.Partition) Geometry {
	return Geometry{
		LowCyl:         p.LowCyl,
		HighCyl:        p.HighCyl,
		Surfaces:       p.Surfaces,
		BlocksPerTrack: p.BlocksPerTrack,
		Reserved:       p.Reserved,
		BlockSize:      p.BlockSize,
		FSBlockSize:    p.BlockSize * p.SectorsPerBlock,
	}
}

func (g Geometry) fsBlockSize() int {
	if g.FSBlockSize == 0 {
		return int(g.BlockSize)
	}
	return int(g.FSBlockSize)
}

// PartitionOffset returns the byte offset of the partition in the device
func (g Geometry) PartitionOffset() int64 {
	return int64(g.LowCyl) * int64(g.Surfaces) * int64(g.BlocksPerTrack) * int64(g.BlockSize)
}

// Size returns the partition size in bytes
func (g Geometry) Size() int64 {
	return int64(g.HighCyl-g.LowCyl+1) * int64(g.Surfaces) * int64(g.BlocksPerTrack) * int64(g.BlockSize)
}

// TotalBlocks returns the number of filesystem blocks in the partition
func (g Geometry) TotalBlocks() uint32 {
	return uint32(g.Size() / int64(g.fsBlockSize()))
}

// RootBlock returns the conventional root block position in filesystem blocks
func (g Geometry) RootBlock() uint32 {
	spb := uint32(g.fsBlockSize()) / g.BlockSize
	return CalculateRootBlockOffset(g.LowCyl, g.HighCyl, g.Reserved*spb, g.Surfaces, g.BlocksPerTrack) / spb
}

func (g Geometry) validate() error {
	switch {
	case g.BlockSize == 0 || g.BlockSize%512 != 0:
		return fmt.Errorf("invalid block size %d", g.BlockSize)
	case g.fsBlockSize()%int(g.BlockSize) != 0:
		return fmt.Errorf("filesystem block size %d is not a multiple of %d", g.fsBlockSize(), g.BlockSize)
	case g.HighCyl < g.LowCyl || g.Surfaces == 0 || g.BlocksPerTrack == 0:
		return fmt.Errorf("invalid geometry %d-%d/%d/%d", g.LowCyl, g.HighCyl, g.Surfaces, g.BlocksPerTrack)
	case g.Reserved < 1 || g.Reserved >= g.TotalBlocks()/2:
		return fmt.Errorf("invalid reserved block count %d", g.Reserved)
	}
	return nil
}

// CalculateRootBlockOffset returns the middle block of the partition,
// where AmigaDOS keeps the root block.
func CalculateRootBlockOffset(lowCyl, highCyl, reserved, heads, sectors uint32) uint32 {
	cylinders := highCyl - lowCyl + 1
	highKey := cylinders*heads*sectors - reserved
	return (highKey + reserved) / 2
}

// Options controls how a volume is mounted
type Options struct {
	ReadOnly bool

	// IgnoreErrors skips unreadable entries during traversal and records
	// them in Logs instead of failing. Meant for salvaging damaged disks.
	IgnoreErrors bool

	// RootBlock overrides the computed root block position when non-zero
	RootBlock uint32

	// ExtentCacheSize bounds the number of remembered file extension
	// block positions. 0 selects a default.
	ExtentCacheSize int

	Logger *log.Logger
	Now    func() time.Time
}

// Volume is a mounted filesystem
type Volume struct {
	dev io.ReaderAt
	w   io.WriterAt

	geo        Geometry
	blockSize  int
	offset     int64
	firstBlock uint32
	lastBlock  uint32
	reserved   uint32
	dosType    DosType
	rootSector uint32

	root          *RootBlock
	bitmap        []*BitmapBlock
	bitmapSectors []uint32
	bitmapDirty   []bool
	free          *bitset.BitSet // indexed from the first non-reserved block

	curDir uint32

	ignoreErrors bool
	logger       *log.Logger
	logs         []string
	now          func() time.Time
	extents      *extentCache
}

// Mount reads the boot block, root block and bitmap of the filesystem
// described by g. dev is opened for writing when it implements
// io.WriterAt and opts.ReadOnly is not set.
func Mount(dev io.ReaderAt, g Geometry, opts Options) (*Volume, error) {
	v, err := newVolume(dev, g, opts)
	if err != nil {
		return nil, err
	}

	boot := make([]byte, bootBlockSize)
	if _, err := io.ReadFull(io.NewSectionReader(dev, v.offset, bootBlockSize), boot); err != nil {
		return nil, fmt.Errorf("reading boot block: %w", err)
	}
	bb, err := ParseBootBlock(boot)
	if err != nil {
		return nil, err
	}
	v.dosType = bb.DosType

	if opts.RootBlock != 0 {
		v.rootSector = opts.RootBlock
	}
	buf, err := v.readBlock(v.rootSector)
	if err != nil {
		return nil, fmt.Errorf("reading root block: %w", err)
	}
	root, err := ParseRootBlock(buf)
	if err != nil {
		return nil, &BlockError{Op: "parse root", Sector: v.rootSector, Err: err}
	}
	if int(root.HashTableSize) != TableSize(v.blockSize) {
		return nil, &BlockError{Op: "parse root", Sector: v.rootSector,
			Err: fmt.Errorf("%w: %d, expected %d", ErrInvalidHashTableSize, root.HashTableSize, TableSize(v.blockSize))}
	}
	v.root = root
	v.curDir = v.rootSector

	if err := v.readBitmap(); err != nil {
		return nil, err
	}

	v.logger.Printf("mounted %q (%s) root=%d blocks=%d free=%d", root.Name, v.dosType, v.rootSector,
		v.lastBlock+1, v.FreeBlockCount())
	if root.BitmapFlag != BitmapValid {
		v.logf("bitmap of %q is flagged invalid", root.Name)
	}
	return v, nil
}

// MountPartition mounts the filesystem of an RDB partition. dev is the
// whole disk.
func MountPartition(dev io.ReaderAt, p *part.Partition, opts Options) (*Volume, error) {
	return Mount(dev, GeometryFromPartition(p), opts)
}

func newVolume(dev io.ReaderAt, g Geometry, opts Options) (*Volume, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	cache, err := newExtentCache(opts.ExtentCacheSize)
	if err != nil {
		return nil, err
	}
	v := &Volume{
		dev:          dev,
		geo:          g,
		blockSize:    g.fsBlockSize(),
		offset:       g.PartitionOffset(),
		firstBlock:   0,
		lastBlock:    g.TotalBlocks() - 1,
		reserved:     g.Reserved,
		rootSector:   g.RootBlock(),
		ignoreErrors: opts.IgnoreErrors,
		logger:       opts.Logger,
		now:          opts.Now,
		extents:      cache,
	}
	if w, ok := dev.(io.WriterAt); ok && !opts.ReadOnly {
		v.w = w
	}
	if v.logger == nil {
		v.logger = log.New(io.Discard, "", 0)
	}
	if v.now == nil {
		v.now = time.Now
	}
	return v, nil
}

// Name returns the volume name
func (v *Volume) Name() string { return v.root.Name }

// DosType returns the DOS type read from the boot block
func (v *Volume) DosType() DosType { return v.dosType }

// BlockSize returns the filesystem block size
func (v *Volume) BlockSize() int { return v.blockSize }

// TotalBlocks returns the number of blocks in the partition
func (v *Volume) TotalBlocks() uint32 { return v.lastBlock - v.firstBlock + 1 }

// RootSector returns the root block position
func (v *Volume) RootSector() uint32 { return v.rootSector }

// Geometry returns the geometry the volume was mounted with
func (v *Volume) Geometry() Geometry { return v.geo }

// ReadOnly reports whether writes are refused
func (v *Volume) ReadOnly() bool { return v.w == nil }

// Created returns the filesystem creation date
func (v *Volume) Created() time.Time { return v.root.Created.Time() }

// Altered returns the last modification date of the volume
func (v *Volume) Altered() time.Time { return v.root.DiskAltered.Time() }

// BitmapValid reports whether the bitmap was flagged consistent on disk
func (v *Volume) BitmapValid() bool { return v.root.BitmapFlag == BitmapValid }

// Logs returns the problems recorded while IgnoreErrors was set
func (v *Volume) Logs() []string { return v.logs }

func (v *Volume) logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	v.logs = append(v.logs, msg)
	v.logger.Print(msg)
}

func (v *Volume) longNames() bool { return v.dosType.IsLongName() }

func (v *Volume) intl() bool { return v.dosType.IsIntl() }

func (v *Volume) usesDirCache() bool { return v.dosType.IsDirCache() }

// dataCapacity returns the payload bytes per data block
func (v *Volume) dataCapacity() int {
	if v.dosType.IsFFS() {
		return v.blockSize
	}
	return v.blockSize - ofsHeaderSize
}

// maxDataBlocks returns the number of data block pointers per header or extension block
func (v *Volume) maxDataBlocks() int { return TableSize(v.blockSize) }

// Close writes back any pending bitmap changes
func (v *Volume) Close() error {
	for _, dirty := range v.bitmapDirty {
		if dirty {
			return v.UpdateBitmap()
		}
	}
	return nil
}

func (v *Volume) checkSector(op string, sector uint32) error {
	if sector < v.firstBlock || sector > v.lastBlock {
		return &BlockError{Op: op, Sector: sector, Err: ErrSectorOutOfRange}
	}
	return nil
}

func (v *Volume) checkWritable() error {
	if v.w == nil {
		return ErrReadOnly
	}
	return nil
}

func (v *Volume) readBlock(sector uint32) ([]byte, error) {
	if err := v.checkSector("read", sector); err != nil {
		return nil, err
	}
	buf := make([]byte, v.blockSize)
	n, err := v.dev.ReadAt(buf, v.offset+int64(sector+v.firstBlock)*int64(v.blockSize))
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, &BlockError{Op: "read", Sector: sector, Err: err}
}

func (v *Volume) writeBlock(sector uint32, buf []byte) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.checkSector("write", sector); err != nil {
		return err
	}
	n, err := v.w.WriteAt(buf, v.offset+int64(sector+v.firstBlock)*int64(v.blockSize))
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return &BlockError{Op: "write", Sector: sector, Err: err}
	}
	return nil
}

func (v *Volume) writeRoot() error {
	return v.writeBlock(v.rootSector, v.root.Build(v.blockSize))
}

// readEntry reads and decodes a header block. On long name volumes an
// external comment is loaded as well.
func (v *Volume) readEntry(sector uint32) (*EntryBlock, error) {
	if sector == v.rootSector {
		return v.rootEntry(), nil
	}
	buf, err := v.readBlock(sector)
	if err != nil {
		return nil, err
	}
	e, err := ParseEntryBlock(buf, v.longNames())
	if err != nil {
		return nil, &BlockError{Op: "parse entry", Sector: sector, Err: err}
	}
	if e.HeaderKey != sector {
		return nil, &BlockError{Op: "parse entry", Sector: sector,
			Err: fmt.Errorf("%w: header key %d", ErrIO, e.HeaderKey)}
	}
	if e.CommentBlock != 0 && v.longNames() {
		buf, err := v.readBlock(e.CommentBlock)
		if err != nil {
			return nil, err
		}
		c, err := ParseCommentBlock(buf)
		if err != nil {
			return nil, &BlockError{Op: "parse comment", Sector: e.CommentBlock, Err: err}
		}
		e.Comment = c.Comment
	}
	return e, nil
}

// rootEntry presents the root block as a directory entry. Its Index
// shares storage with the root hash table.
func (v *Volume) rootEntry() *EntryBlock {
	return &EntryBlock{
		Type:      TypeHeader,
		HeaderKey: v.rootSector,
		Index:     v.root.HashTable,
		Date:      v.root.RootAltered,
		Name:      v.root.Name,
		Extension: v.root.Extension,
		SecType:   STRoot,
	}
}

func (v *Volume) writeEntry(e *EntryBlock) error {
	if e.SecType == STRoot {
		v.root.HashTable = e.Index
		v.root.RootAltered = e.Date
		v.root.Extension = e.Extension
		return v.writeRoot()
	}
	return v.writeBlock(e.HeaderKey, e.Build(v.blockSize, v.longNames()))
}

// readDir reads a directory (or the root) by sector
func (v *Volume) readDir(sector uint32) (*EntryBlock, error) {
	e, err := v.readEntry(sector)
	if err != nil {
		return nil, err
	}
	if e.SecType != STDir && e.SecType != STRoot {
		return nil, &BlockError{Op: "read dir", Sector: sector, Err: ErrNotDirectory}
	}
	return e, nil
}

func (v *Volume) readFileExt(sector uint32) (*EntryBlock, error) {
	buf, err := v.readBlock(sector)
	if err != nil {
		return nil, err
	}
	e, err := ParseFileExtBlock(buf)
	if err != nil {
		return nil, &BlockError{Op: "parse extension", Sector: sector, Err: err}
	}
	return e, nil
}

func (v *Volume) readDirCache(sector uint32) (*DirCacheBlock, error) {
	buf, err := v.readBlock(sector)
	if err != nil {
		return nil, err
	}
	d, err := ParseDirCacheBlock(buf)
	if err != nil {
		return nil, &BlockError{Op: "parse dircache", Sector: sector, Err: err}
	}
	return d, nil
}

// SetVolumeName renames the volume
func (v *Volume) SetVolumeName(name string) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := validateName(name, MaxNameLen); err != nil {
		return err
	}
	v.root.Name = name
	v.root.RootAltered = ToAmigaDate(v.now())
	return v.UpdateBitmap()
}
