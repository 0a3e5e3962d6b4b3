package ffs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
)

// OpenMode selects how OpenFile treats the file
type OpenMode int

const (
	ModeRead   OpenMode = iota
	ModeWrite           // create or truncate
	ModeAppend          // create or continue at the end
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	}
	return fmt.Sprintf("OpenMode(%d)", int(m))
}

// Pos2DataBlock splits a byte position into the data block ordinal and
// the offset inside it. For blocks past the header table extBlock is the
// 0-based extension block holding the pointer and extIndex the ordinal
// inside that block; otherwise extBlock is -1 and extIndex equals block.
func Pos2DataBlock(pos, dataCap, maxDataBlk int) (block, offset, extBlock, extIndex int) {
	block, offset = pos/dataCap, pos%dataCap
	if block < maxDataBlk {
		return block, offset, -1, block
	}
	n := block - maxDataBlk
	return block, offset, n / maxDataBlk, n % maxDataBlk
}

// FileRealSize returns the number of data plus extension blocks a file
// of size bytes occupies.
func FileRealSize(size uint32, dataCap, maxDataBlk int) int {
	nBlock := int((int64(size) + int64(dataCap) - 1) / int64(dataCap))
	if nBlock <= maxDataBlk {
		return nBlock
	}
	return nBlock + (nBlock-maxDataBlk+maxDataBlk-1)/maxDataBlk
}

// File is an open file stream. Changes become durable on Flush or Close.
type File struct {
	v       *Volume
	hdr     *EntryBlock
	mode    OpenMode
	pos     uint32
	nBlocks int

	cur    int // ordinal of the loaded data block, -1 for none
	curSec uint32
	data   []byte // payload of the loaded block
	ofs    OFSDataBlock
	dirty  bool

	ext      *EntryBlock
	extN     int
	extDirty bool

	closed bool
}

// OpenFile opens the file at path. Write and append create the file when
// it does not exist.
func (v *Volume) OpenFile(path string, mode OpenMode) (*File, error) {
	if mode != ModeRead {
		if err := v.checkWritable(); err != nil {
			return nil, err
		}
	}
	hdr, err := v.resolve(path)
	switch {
	case err == nil:
		if hdr.SecType == STLinkFile {
			if hdr, err = v.readEntry(hdr.Real); err != nil {
				return nil, err
			}
		}
		if !hdr.IsFile() {
			return nil, fmt.Errorf("%w: %s", ErrNotFile, path)
		}
	case mode != ModeRead && errors.Is(err, ErrEntryNotFound):
		if hdr, err = v.create(path, STFile); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	f := &File{v: v, hdr: hdr, mode: mode, cur: -1, extN: -1}
	f.nBlocks = int((int64(hdr.ByteSize) + int64(v.dataCapacity()) - 1) / int64(v.dataCapacity()))
	switch mode {
	case ModeWrite:
		if err := f.truncate(); err != nil {
			return nil, err
		}
	case ModeAppend:
		f.pos = hdr.ByteSize
	}
	return f, nil
}

// Name returns the file name
func (f *File) Name() string { return f.hdr.Name }

// Size returns the current file size
func (f *File) Size() int64 { return int64(f.hdr.ByteSize) }

// Sector returns the header block of the file
func (f *File) Sector() uint32 { return f.hdr.HeaderKey }

// Entry returns the listing record of the file
func (f *File) Entry() Entry { return entryFromBlock(f.hdr) }

func (f *File) truncate() error {
	if err := f.v.freeFileBlocks(f.hdr); err != nil {
		return err
	}
	clear(f.hdr.Index)
	f.hdr.HighSeq = 0
	f.hdr.FirstData = 0
	f.hdr.Extension = 0
	f.hdr.ByteSize = 0
	f.nBlocks = 0
	return nil
}

// freeFileBlocks releases the data and extension blocks of a file in the
// in-memory bitmap. The header itself is left alone.
func (v *Volume) freeFileBlocks(hdr *EntryBlock) error {
	data, ext, err := v.getFileBlocks(hdr)
	if err != nil {
		return err
	}
	for _, s := range data {
		v.SetBlockFree(s)
	}
	for _, s := range ext {
		v.SetBlockFree(s)
	}
	v.extents.forget(hdr.HeaderKey)
	return nil
}

// loadExt makes the n-th extension block current
func (f *File) loadExt(n int) (*EntryBlock, error) {
	if f.ext != nil && f.extN == n {
		return f.ext, nil
	}
	if err := f.flushExt(); err != nil {
		return nil, err
	}
	key := f.hdr.HeaderKey
	k, s, ok := f.v.extents.nearest(key, n)
	if !ok {
		k, s = 0, f.hdr.Extension
	}
	for ; ; k++ {
		if s == 0 {
			return nil, fmt.Errorf("%w: extension block %d of %s missing", ErrIO, k, f.hdr.Name)
		}
		e, err := f.v.readFileExt(s)
		if err != nil {
			return nil, err
		}
		if e.Parent != key {
			return nil, &BlockError{Op: "read extension", Sector: s,
				Err: fmt.Errorf("%w: belongs to %d, not %d", ErrIO, e.Parent, key)}
		}
		f.v.extents.add(key, k, s)
		if k == n {
			f.ext, f.extN = e, n
			return e, nil
		}
		s = e.Extension
	}
}

// dataSector returns the sector of data block idx via the pointer tables
func (f *File) dataSector(idx int) (uint32, error) {
	max := f.v.maxDataBlocks()
	_, _, eb, ei := Pos2DataBlock(idx*f.v.dataCapacity(), f.v.dataCapacity(), max)
	var s uint32
	if eb < 0 {
		s = f.hdr.Index[max-1-ei]
	} else {
		ext, err := f.loadExt(eb)
		if err != nil {
			return 0, err
		}
		s = ext.Index[max-1-ei]
	}
	if s == 0 {
		return 0, fmt.Errorf("%w: data block %d of %s missing", ErrIO, idx, f.hdr.Name)
	}
	return s, nil
}

// loadBlock makes data block idx current. With grow set, idx may be one
// past the last block, which allocates it.
func (f *File) loadBlock(idx int, grow bool) error {
	if f.cur == idx {
		return nil
	}
	if grow && idx == f.nBlocks {
		return f.newBlock(idx)
	}
	if idx >= f.nBlocks {
		return fmt.Errorf("%w: block %d beyond end of %s", ErrIO, idx, f.hdr.Name)
	}

	var s uint32
	if !f.v.dosType.IsFFS() && f.cur == idx-1 && f.ofs.NextData != 0 {
		s = f.ofs.NextData
	} else {
		var err error
		if s, err = f.dataSector(idx); err != nil {
			return err
		}
	}
	if err := f.flushData(); err != nil {
		return err
	}
	buf, err := f.v.readBlock(s)
	if err != nil {
		return err
	}
	if f.v.dosType.IsFFS() {
		f.data = buf
	} else {
		d, err := ParseOFSDataBlock(buf)
		if err != nil {
			return &BlockError{Op: "parse data", Sector: s, Err: err}
		}
		if d.SeqNum != uint32(idx+1) {
			return &BlockError{Op: "read data", Sector: s,
				Err: fmt.Errorf("%w: seqnum incorrect, %d instead of %d", ErrIO, d.SeqNum, idx+1)}
		}
		f.data, f.ofs = d.Data, *d
	}
	f.cur, f.curSec = idx, s
	return nil
}

// newBlock allocates data block idx at the end of the file, plus a new
// extension block when idx is the first pointer of one.
func (f *File) newBlock(idx int) error {
	v := f.v
	max := v.maxDataBlocks()
	_, _, eb, ei := Pos2DataBlock(idx*v.dataCapacity(), v.dataCapacity(), max)
	needExt := eb >= 0 && ei == 0

	n := 1
	if needExt {
		n = 2
	}
	secs, err := v.GetFreeBlocks(n)
	if err != nil {
		return err
	}
	d := secs[0]

	if !v.dosType.IsFFS() && idx > 0 {
		if err := f.linkOFS(idx-1, d); err != nil {
			return err
		}
	}
	if err := f.flushData(); err != nil {
		return err
	}

	if needExt {
		e := secs[1]
		if eb == 0 {
			f.hdr.Extension = e
		} else {
			prev, err := f.loadExt(eb - 1)
			if err != nil {
				return err
			}
			prev.Extension = e
			f.extDirty = true
			if err := f.flushExt(); err != nil {
				return err
			}
		}
		f.ext, f.extN, f.extDirty = newFileExtBlock(v.blockSize, e, f.hdr.HeaderKey), eb, true
		v.extents.add(f.hdr.HeaderKey, eb, e)
	}

	if eb < 0 {
		f.hdr.Index[max-1-ei] = d
		f.hdr.HighSeq = uint32(idx + 1)
		if idx == 0 {
			f.hdr.FirstData = d
		}
	} else {
		ext, err := f.loadExt(eb)
		if err != nil {
			return err
		}
		ext.Index[max-1-ei] = d
		ext.HighSeq = uint32(ei + 1)
		f.extDirty = true
	}

	f.cur, f.curSec = idx, d
	f.data = make([]byte, v.dataCapacity())
	f.ofs = OFSDataBlock{HeaderKey: f.hdr.HeaderKey, SeqNum: uint32(idx + 1)}
	f.dirty = true
	f.nBlocks++
	return nil
}

// linkOFS points the NextData field of OFS block idx at next
func (f *File) linkOFS(idx int, next uint32) error {
	if f.cur == idx {
		f.ofs.NextData = next
		f.dirty = true
		return nil
	}
	s, err := f.dataSector(idx)
	if err != nil {
		return err
	}
	buf, err := f.v.readBlock(s)
	if err != nil {
		return err
	}
	d, err := ParseOFSDataBlock(buf)
	if err != nil {
		return &BlockError{Op: "parse data", Sector: s, Err: err}
	}
	d.NextData = next
	return f.v.writeBlock(s, d.Build(f.v.blockSize))
}

func (f *File) flushData() error {
	if !f.dirty {
		return nil
	}
	buf := f.data
	if !f.v.dosType.IsFFS() {
		f.ofs.Data = f.data
		buf = f.ofs.Build(f.v.blockSize)
	}
	if err := f.v.writeBlock(f.curSec, buf); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func (f *File) flushExt() error {
	if !f.extDirty {
		return nil
	}
	if err := f.v.writeBlock(f.ext.HeaderKey, f.ext.Build(f.v.blockSize, false)); err != nil {
		return err
	}
	f.extDirty = false
	return nil
}

// Read reads up to len(p) bytes from the current position
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	size := f.hdr.ByteSize
	if f.pos >= size {
		return 0, io.EOF
	}
	dc := f.v.dataCapacity()
	n := 0
	for n < len(p) && f.pos < size {
		idx, off, _, _ := Pos2DataBlock(int(f.pos), dc, f.v.maxDataBlocks())
		if err := f.loadBlock(idx, false); err != nil {
			return n, err
		}
		avail := min(dc-off, int(size-f.pos))
		k := copy(p[n:], f.data[off:off+avail])
		n += k
		f.pos += uint32(k)
	}
	return n, nil
}

// ReadAt reads at off without moving the stream position
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset", ErrIO)
	}
	if off >= f.Size() {
		return 0, io.EOF
	}
	save := f.pos
	defer func() { f.pos = save }()
	f.pos = uint32(off)
	n, err := f.Read(p)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// Write writes p at the current position, growing the file as needed
func (f *File) Write(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.mode == ModeRead {
		return 0, fmt.Errorf("%w: %s opened for reading", ErrReadOnly, f.hdr.Name)
	}
	dc := f.v.dataCapacity()
	n := 0
	for len(p) > 0 {
		idx, off, _, _ := Pos2DataBlock(int(f.pos), dc, f.v.maxDataBlocks())
		if err := f.loadBlock(idx, true); err != nil {
			return n, err
		}
		k := copy(f.data[off:], p)
		f.dirty = true
		if end := uint32(off + k); end > f.ofs.DataSize {
			f.ofs.DataSize = end
		}
		f.pos += uint32(k)
		n += k
		p = p[k:]
		if f.pos > f.hdr.ByteSize {
			f.hdr.ByteSize = f.pos
		}
	}
	return n, nil
}

// Seek sets the stream position. Positions past the end are rejected;
// files only grow by writing.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(f.pos) + offset
	case io.SeekEnd:
		abs = f.Size() + offset
	default:
		return 0, fmt.Errorf("%w: invalid whence %d", ErrIO, whence)
	}
	if abs < 0 || abs > f.Size() {
		return 0, fmt.Errorf("%w: seek to %d outside [0, %d]", ErrIO, abs, f.Size())
	}
	f.pos = uint32(abs)
	return abs, nil
}

// Flush writes pending data, the extension and header blocks, the cache
// record and the bitmap.
func (f *File) Flush() error {
	if f.closed {
		return fs.ErrClosed
	}
	if f.mode == ModeRead {
		return nil
	}
	if err := f.flushData(); err != nil {
		return err
	}
	if err := f.flushExt(); err != nil {
		return err
	}
	if err := f.refreshHeader(); err != nil {
		return err
	}
	f.hdr.Date = ToAmigaDate(f.v.now())
	if err := f.v.writeEntry(f.hdr); err != nil {
		return err
	}
	if f.v.usesDirCache() {
		if err := f.v.updateCache(f.hdr.Parent, f.hdr); err != nil {
			return err
		}
	}
	return f.v.UpdateBitmap()
}

// refreshHeader rereads the header block so that name, comment, protection,
// parent and chain links changed through the volume while the file was open
// survive the flush. The stream owns only the size and block pointers.
func (f *File) refreshHeader() error {
	cur, err := f.v.readEntry(f.hdr.HeaderKey)
	if err != nil {
		return err
	}
	if !cur.IsFile() {
		return fmt.Errorf("%w: header %d of %s is no longer a file", ErrIO, f.hdr.HeaderKey, f.hdr.Name)
	}
	cur.HighSeq = f.hdr.HighSeq
	cur.FirstData = f.hdr.FirstData
	cur.Index = f.hdr.Index
	cur.ByteSize = f.hdr.ByteSize
	cur.Extension = f.hdr.Extension
	f.hdr = cur
	return nil
}

// Close flushes and releases the stream
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	err := f.Flush()
	f.closed = true
	return err
}

// getFileBlocks returns the data block sectors of hdr in file order and
// its extension block sectors. The count is checked against the size.
func (v *Volume) getFileBlocks(hdr *EntryBlock) (data, ext []uint32, err error) {
	max := v.maxDataBlocks()
	for i := 0; i < min(int(hdr.HighSeq), max); i++ {
		data = append(data, hdr.Index[max-1-i])
	}
	for s := hdr.Extension; s != 0; {
		if len(ext) > v.chainLimit() {
			return nil, nil, fmt.Errorf("%w: extension chain loop in %s", ErrIO, hdr.Name)
		}
		e, err := v.readFileExt(s)
		if err != nil {
			return nil, nil, err
		}
		ext = append(ext, s)
		for i := 0; i < min(int(e.HighSeq), max); i++ {
			data = append(data, e.Index[max-1-i])
		}
		s = e.Extension
	}
	if got, want := len(data)+len(ext), FileRealSize(hdr.ByteSize, v.dataCapacity(), max); got != want {
		return nil, nil, fmt.Errorf("%w: %s has %d blocks, size %d needs %d", ErrIO, hdr.Name, got, hdr.ByteSize, want)
	}
	return data, ext, nil
}
