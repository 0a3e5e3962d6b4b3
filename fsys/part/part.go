// Package part parses Amiga Rigid Disk Block partition tables.
// It treats the table as a filesystem where partitions appear as files
// named after their drive names (DH0, DH1, ...).
package part

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/lvdlvd/affs/fsys"
)

const (
	rdbSearchBlocks = 16
	blockSize       = 512
	summedLongs     = 64
	endOfList       = 0xffffffff

	// RDSK offsets
	rdbBlockBytes    = 16
	rdbFlags         = 20
	rdbPartitionList = 28
	rdbCylinders     = 64
	rdbSectors       = 68
	rdbHeads         = 72

	// PART offsets
	partNext      = 16
	partFlags     = 20
	partDriveName = 36
	partEnv       = 128

	// DosEnvec offsets relative to partEnv
	envTableSize       = 0
	envSizeBlock       = 4
	envSurfaces        = 12
	envSectorsPerBlock = 16
	envBlocksPerTrack  = 20
	envReserved        = 24
	envLowCyl          = 36
	envHighCyl         = 40
	envNumBuffers      = 44
	envMaxTransfer     = 52
	envMask            = 56
	envBootPri         = 60
	envDosType         = 64
)

// PART flags
const (
	FlagBootable = 1 << 0
	FlagNoMount  = 1 << 1
)

var (
	ErrNoRDB    = errors.New("no rigid disk block found")
	ErrChecksum = errors.New("RDB checksum mismatch")
)

// Partition is one PART block of the RDB
type Partition struct {
	Index           int
	Name            string // drive name, e.g. "DH0"
	Block           uint32 // sector of the PART block
	Flags           uint32
	BlockSize       uint32 // bytes, from SizeBlock
	SectorsPerBlock uint32
	Surfaces        uint32
	BlocksPerTrack  uint32
	Reserved        uint32
	LowCyl          uint32
	HighCyl         uint32
	BootPri         int32
	DosType         uint32
}

// Bootable reports whether the partition is marked bootable
func (p *Partition) Bootable() bool { return p.Flags&FlagBootable != 0 }

// StartOffset returns the starting byte offset
func (p *Partition) StartOffset() int64 {
	return int64(p.LowCyl) * p.cylinderBytes()
}

// SizeBytes returns the partition size in bytes
func (p *Partition) SizeBytes() int64 {
	return int64(p.HighCyl-p.LowCyl+1) * p.cylinderBytes()
}

func (p *Partition) cylinderBytes() int64 {
	return int64(p.Surfaces) * int64(p.BlocksPerTrack) * int64(p.BlockSize)
}

// DosTypeString formats the DOS type as "DOS\3" or as hex if not printable
func (p *Partition) DosTypeString() string {
	b := []byte{byte(p.DosType >> 24), byte(p.DosType >> 16), byte(p.DosType >> 8)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", p.DosType)
		}
	}
	return fmt.Sprintf("%s\\%d", b, byte(p.DosType))
}

// Disk holds the drive geometry from the RDSK block
type Disk struct {
	Block     uint32 // sector of the RDSK block
	Cylinders uint32
	Heads     uint32
	Sectors   uint32
}

// FS implements fsys.FS for an RDB partition table
type FS struct {
	r          io.ReaderAt
	size       int64
	disk       Disk
	partitions []*Partition
}

var (
	_ fsys.FS           = (*FS)(nil)
	_ fsys.FreeBlocker  = (*FS)(nil)
	_ fsys.ExtentMapper = (*FS)(nil)
)

// Open locates the RDSK block in the first 16 sectors and reads the partition list
func Open(r io.ReaderAt, size int64) (*FS, error) {
	pfs := &FS{r: r, size: size}

	buf := make([]byte, blockSize)
	found := false
	for blk := uint32(0); blk < rdbSearchBlocks; blk++ {
		if _, err := r.ReadAt(buf, int64(blk)*blockSize); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading block %d: %w", blk, err)
		}
		if string(buf[0:4]) == "RDSK" && checksumOK(buf) {
			pfs.disk = Disk{
				Block:     blk,
				Cylinders: binary.BigEndian.Uint32(buf[rdbCylinders:]),
				Sectors:   binary.BigEndian.Uint32(buf[rdbSectors:]),
				Heads:     binary.BigEndian.Uint32(buf[rdbHeads:]),
			}
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNoRDB
	}
	if err := pfs.parsePartitions(binary.BigEndian.Uint32(buf[rdbPartitionList:])); err != nil {
		return nil, err
	}
	return pfs, nil
}

func (pfs *FS) parsePartitions(next uint32) error {
	buf := make([]byte, blockSize)
	seen := map[uint32]bool{}
	for next != endOfList && next != 0 {
		if seen[next] {
			return fmt.Errorf("loop in partition list at block %d", next)
		}
		seen[next] = true
		if _, err := pfs.r.ReadAt(buf, int64(next)*blockSize); err != nil {
			return fmt.Errorf("reading PART block %d: %w", next, err)
		}
		if string(buf[0:4]) != "PART" {
			return fmt.Errorf("block %d is not a PART block", next)
		}
		if !checksumOK(buf) {
			return fmt.Errorf("PART block %d: %w", next, ErrChecksum)
		}
		pfs.partitions = append(pfs.partitions, parsePART(buf, next, len(pfs.partitions)))
		next = binary.BigEndian.Uint32(buf[partNext:])
	}
	return nil
}

func parsePART(buf []byte, blk uint32, index int) *Partition {
	u := func(off int) uint32 { return binary.BigEndian.Uint32(buf[off:]) }
	env := func(off int) uint32 { return u(partEnv + off) }

	n := int(buf[partDriveName])
	if n > 31 {
		n = 31
	}
	p := &Partition{
		Index:           index,
		Name:            string(buf[partDriveName+1 : partDriveName+1+n]),
		Block:           blk,
		Flags:           u(partFlags),
		BlockSize:       env(envSizeBlock) * 4,
		SectorsPerBlock: env(envSectorsPerBlock),
		Surfaces:        env(envSurfaces),
		BlocksPerTrack:  env(envBlocksPerTrack),
		Reserved:        env(envReserved),
		LowCyl:          env(envLowCyl),
		HighCyl:         env(envHighCyl),
		BootPri:         int32(env(envBootPri)),
		DosType:         env(envDosType),
	}
	if p.SectorsPerBlock == 0 {
		p.SectorsPerBlock = 1
	}
	if p.Name == "" {
		p.Name = fmt.Sprintf("p%d", index)
	}
	return p
}

// checksumOK verifies the summed longs checksum of an RDB block
func checksumOK(buf []byte) bool {
	n := int(binary.BigEndian.Uint32(buf[4:]))
	if n <= 0 || n*4 > len(buf) {
		return false
	}
	var sum uint32
	for i := 0; i < n; i++ {
		sum += binary.BigEndian.Uint32(buf[i*4:])
	}
	return sum == 0
}

func putChecksum(buf []byte) {
	binary.BigEndian.PutUint32(buf[8:], 0)
	var sum uint32
	for i := 0; i < summedLongs; i++ {
		sum += binary.BigEndian.Uint32(buf[i*4:])
	}
	binary.BigEndian.PutUint32(buf[8:], -sum)
}

// Write creates an RDSK block at sector 0 and one PART block per
// partition starting at sector 1. Partition Index and Block are assigned.
func Write(w io.WriterAt, disk Disk, parts []*Partition) error {
	if len(parts) >= rdbSearchBlocks {
		return fmt.Errorf("too many partitions: %d", len(parts))
	}
	be := binary.BigEndian

	rdsk := make([]byte, blockSize)
	copy(rdsk, "RDSK")
	be.PutUint32(rdsk[4:], summedLongs)
	be.PutUint32(rdsk[rdbBlockBytes:], blockSize)
	be.PutUint32(rdsk[rdbPartitionList:], endOfList)
	for _, off := range []int{24, 32, 36} {
		be.PutUint32(rdsk[off:], endOfList)
	}
	if len(parts) > 0 {
		be.PutUint32(rdsk[rdbPartitionList:], 1)
	}
	be.PutUint32(rdsk[rdbCylinders:], disk.Cylinders)
	be.PutUint32(rdsk[rdbSectors:], disk.Sectors)
	be.PutUint32(rdsk[rdbHeads:], disk.Heads)
	putChecksum(rdsk)
	if _, err := w.WriteAt(rdsk, 0); err != nil {
		return fmt.Errorf("writing RDSK: %w", err)
	}

	for i, p := range parts {
		p.Index, p.Block = i, uint32(i+1)
		buf := make([]byte, blockSize)
		copy(buf, "PART")
		be.PutUint32(buf[4:], summedLongs)
		next := uint32(endOfList)
		if i+1 < len(parts) {
			next = uint32(i + 2)
		}
		be.PutUint32(buf[partNext:], next)
		be.PutUint32(buf[partFlags:], p.Flags)
		name := p.Name
		if len(name) > 31 {
			name = name[:31]
		}
		buf[partDriveName] = byte(len(name))
		copy(buf[partDriveName+1:], name)

		env := func(off int, v uint32) { be.PutUint32(buf[partEnv+off:], v) }
		env(envTableSize, 16)
		env(envSizeBlock, p.BlockSize/4)
		env(envSurfaces, p.Surfaces)
		env(envSectorsPerBlock, max(p.SectorsPerBlock, 1))
		env(envBlocksPerTrack, p.BlocksPerTrack)
		env(envReserved, p.Reserved)
		env(envLowCyl, p.LowCyl)
		env(envHighCyl, p.HighCyl)
		env(envNumBuffers, 30)
		env(envMaxTransfer, 0x1fe00)
		env(envMask, 0x7ffffffe)
		env(envBootPri, uint32(p.BootPri))
		env(envDosType, p.DosType)
		putChecksum(buf)
		if _, err := w.WriteAt(buf, int64(p.Block)*blockSize); err != nil {
			return fmt.Errorf("writing PART %s: %w", p.Name, err)
		}
	}
	return nil
}

// Type returns the partition table type
func (pfs *FS) Type() string {
	return "RDB"
}

// Close releases resources
func (pfs *FS) Close() error {
	return nil
}

// BaseReader returns the underlying disk
func (pfs *FS) BaseReader() io.ReaderAt {
	return pfs.r
}

// Disk returns the drive geometry
func (pfs *FS) Disk() Disk {
	return pfs.disk
}

// Info returns partition table information
func (pfs *FS) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Partition table: RDB at block %d (%d cylinders, %d heads, %d sectors)\n",
		pfs.disk.Block, pfs.disk.Cylinders, pfs.disk.Heads, pfs.disk.Sectors)
	fmt.Fprintf(&sb, "Partitions: %d\n\n", len(pfs.partitions))
	fmt.Fprintf(&sb, "%-6s %-10s %8s %8s %10s %s\n", "Name", "DosType", "LowCyl", "HighCyl", "Size", "Flags")
	for _, p := range pfs.partitions {
		var flags []string
		if p.Bootable() {
			flags = append(flags, fmt.Sprintf("boot(%d)", p.BootPri))
		}
		if p.Flags&FlagNoMount != 0 {
			flags = append(flags, "nomount")
		}
		fmt.Fprintf(&sb, "%-6s %-10s %8d %8d %10s %s\n",
			p.Name, p.DosTypeString(), p.LowCyl, p.HighCyl, formatSize(p.SizeBytes()), strings.Join(flags, ","))
	}
	return sb.String()
}

func formatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1fG", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1fM", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1fK", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

// FreeBlocks returns the byte ranges not covered by any partition,
// skipping the RDB area before the first partition.
func (pfs *FS) FreeBlocks() ([]fsys.Range, error) {
	var ranges []fsys.Range
	if len(pfs.partitions) == 0 {
		return nil, nil
	}
	pos := pfs.partitions[0].StartOffset()
	for _, p := range sortedByStart(pfs.partitions) {
		if p.StartOffset() > pos {
			ranges = append(ranges, fsys.Range{Start: pos, End: p.StartOffset()})
		}
		if end := p.StartOffset() + p.SizeBytes(); end > pos {
			pos = end
		}
	}
	if pos < pfs.size {
		ranges = append(ranges, fsys.Range{Start: pos, End: pfs.size})
	}
	return ranges, nil
}

func sortedByStart(ps []*Partition) []*Partition {
	out := append([]*Partition(nil), ps...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].StartOffset() < out[j-1].StartOffset(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// FileExtents returns the physical extents for a partition
func (pfs *FS) FileExtents(name string) ([]fsys.Extent, error) {
	p := pfs.Find(cleanPath(name))
	if p == nil {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: fs.ErrNotExist}
	}
	return []fsys.Extent{{Logical: 0, Physical: p.StartOffset(), Length: p.SizeBytes()}}, nil
}

// Partitions returns the list of partitions
func (pfs *FS) Partitions() []*Partition {
	return pfs.partitions
}

// Find returns the partition with the given drive name, case-insensitively
func (pfs *FS) Find(name string) *Partition {
	for _, p := range pfs.partitions {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// Open implements fs.FS
func (pfs *FS) Open(name string) (fs.File, error) {
	name = cleanPath(name)
	if name == "." {
		return &rootDir{pfs: pfs}, nil
	}
	p := pfs.Find(name)
	if p == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &partitionFile{pfs: pfs, part: p}, nil
}

// ReadDir implements fs.ReadDirFS
func (pfs *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if cleanPath(name) != "." {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fmt.Errorf("not a directory")}
	}
	entries := make([]fs.DirEntry, 0, len(pfs.partitions))
	for _, p := range pfs.partitions {
		entries = append(entries, &partitionEntry{part: p})
	}
	return entries, nil
}

// Stat implements fs.StatFS
func (pfs *FS) Stat(name string) (fs.FileInfo, error) {
	name = cleanPath(name)
	if name == "." {
		return &rootInfo{}, nil
	}
	p := pfs.Find(name)
	if p == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return &partitionInfo{part: p}, nil
}

func cleanPath(name string) string {
	name = strings.Trim(name, "/")
	if name == "" {
		return "."
	}
	return name
}

// rootDir represents the root directory
type rootDir struct {
	pfs    *FS
	offset int
}

func (d *rootDir) Read(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fmt.Errorf("is a directory")}
}

func (d *rootDir) Close() error {
	return nil
}

func (d *rootDir) Stat() (fs.FileInfo, error) {
	return &rootInfo{}, nil
}

func (d *rootDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.offset >= len(d.pfs.partitions) {
		if n <= 0 {
			return nil, nil
		}
		return nil, io.EOF
	}
	if n <= 0 {
		n = len(d.pfs.partitions) - d.offset
	}
	end := min(d.offset+n, len(d.pfs.partitions))
	entries := make([]fs.DirEntry, 0, end-d.offset)
	for i := d.offset; i < end; i++ {
		entries = append(entries, &partitionEntry{part: d.pfs.partitions[i]})
	}
	d.offset = end
	return entries, nil
}

// rootInfo provides FileInfo for the root directory
type rootInfo struct{}

func (i *rootInfo) Name() string       { return "." }
func (i *rootInfo) Size() int64        { return 0 }
func (i *rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0755 }
func (i *rootInfo) ModTime() time.Time { return time.Time{} }
func (i *rootInfo) IsDir() bool        { return true }
func (i *rootInfo) Sys() any           { return nil }

// partitionEntry represents a partition as a directory entry (file)
type partitionEntry struct {
	part *Partition
}

func (e *partitionEntry) Name() string               { return e.part.Name }
func (e *partitionEntry) IsDir() bool                { return false }
func (e *partitionEntry) Type() fs.FileMode          { return 0 }
func (e *partitionEntry) Info() (fs.FileInfo, error) { return &partitionInfo{part: e.part}, nil }

// partitionInfo provides FileInfo for a partition
type partitionInfo struct {
	part *Partition
}

func (i *partitionInfo) Name() string       { return i.part.Name }
func (i *partitionInfo) Size() int64        { return i.part.SizeBytes() }
func (i *partitionInfo) Mode() fs.FileMode  { return 0444 }
func (i *partitionInfo) ModTime() time.Time { return time.Time{} }
func (i *partitionInfo) IsDir() bool        { return false }
func (i *partitionInfo) Sys() any           { return i.part }

// partitionFile represents an open partition as a file
type partitionFile struct {
	pfs    *FS
	part   *Partition
	offset int64
}

func (f *partitionFile) Stat() (fs.FileInfo, error) {
	return &partitionInfo{part: f.part}, nil
}

func (f *partitionFile) Read(p []byte) (int, error) {
	if f.offset >= f.part.SizeBytes() {
		return 0, io.EOF
	}
	toRead := min(int64(len(p)), f.part.SizeBytes()-f.offset)
	n, err := f.pfs.r.ReadAt(p[:toRead], f.part.StartOffset()+f.offset)
	f.offset += int64(n)
	return n, err
}

func (f *partitionFile) Close() error {
	return nil
}
