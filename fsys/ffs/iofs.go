package ffs

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/lvdlvd/affs/fsys"
)

// FS exposes a mounted volume through io/fs
type FS struct {
	v *Volume
}

var (
	_ fsys.FS           = (*FS)(nil)
	_ fsys.FreeBlocker  = (*FS)(nil)
	_ fsys.ExtentMapper = (*FS)(nil)
)

// NewFS wraps v
func NewFS(v *Volume) *FS { return &FS{v: v} }

// Volume returns the underlying volume
func (f *FS) Volume() *Volume { return f.v }

// BaseReader returns the device the volume was mounted from. Extent
// offsets refer to it.
func (f *FS) BaseReader() io.ReaderAt { return f.v.dev }

func (f *FS) Type() string {
	d := f.v.dosType
	t := "OFS"
	if d.IsFFS() {
		t = "FFS"
	}
	switch {
	case d.IsLongName():
		t += "-LNFS"
	case d.IsDirCache():
		t += "-DC"
	case d.IsIntl():
		t += "-INTL"
	}
	return t
}

func (f *FS) Close() error { return f.v.Close() }

// volPath turns an io/fs path into an absolute volume path
func volPath(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

// FreeBlocks returns the free byte ranges of the partition
func (f *FS) FreeBlocks() ([]fsys.Range, error) {
	bs := int64(f.v.blockSize)
	var ranges []fsys.Range
	for _, r := range f.v.FreeRanges() {
		ranges = append(ranges, fsys.Range{Start: f.v.offset + int64(r[0])*bs, End: f.v.offset + int64(r[1])*bs})
	}
	return ranges, nil
}

// FileExtents returns where the bytes of a file live in the image. OFS
// payload starts after the 24 byte block header.
func (f *FS) FileExtents(name string) ([]fsys.Extent, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: fs.ErrInvalid}
	}
	e, err := f.v.resolve(volPath(name))
	if err != nil {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: err}
	}
	if !e.IsFile() {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: fmt.Errorf("cannot get extents for directory")}
	}
	data, _, err := f.v.getFileBlocks(e)
	if err != nil {
		return nil, &fs.PathError{Op: "extents", Path: name, Err: err}
	}

	bs := int64(f.v.blockSize)
	dc := int64(f.v.dataCapacity())
	skip := bs - dc
	size := int64(e.ByteSize)
	var extents []fsys.Extent
	for i, s := range data {
		logical := int64(i) * dc
		n := min(dc, size-logical)
		phys := f.v.offset + int64(s)*bs + skip
		if l := len(extents); l > 0 && skip == 0 && extents[l-1].Physical+extents[l-1].Length == phys {
			extents[l-1].Length += n
			continue
		}
		extents = append(extents, fsys.Extent{Logical: logical, Physical: phys, Length: n})
	}
	return extents, nil
}

func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	e, err := f.v.resolve(volPath(name))
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	switch e.SecType {
	case STRoot, STDir, STLinkDir:
		return &dir{fs: f, e: e, name: path.Base(name)}, nil
	case STSoftLink:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fmt.Errorf("soft link to %s", e.LinkTarget)}
	}
	fh, err := f.v.OpenFile(volPath(name), ModeRead)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	ent := fh.Entry()
	ent.Name = e.Name
	return &file{f: fh, info: &fileInfo{e: ent}}, nil
}

func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	d, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	entries, err := d.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	ent, err := f.v.Stat(volPath(name))
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	if name == "." {
		ent.Name = "."
	}
	return &fileInfo{e: ent}, nil
}

// file implements fs.File for regular files
type file struct {
	f    *File
	info *fileInfo
}

func (f *file) Stat() (fs.FileInfo, error)                { return f.info, nil }
func (f *file) Read(b []byte) (int, error)                { return f.f.Read(b) }
func (f *file) ReadAt(b []byte, off int64) (int, error)   { return f.f.ReadAt(b, off) }
func (f *file) Seek(off int64, whence int) (int64, error) { return f.f.Seek(off, whence) }
func (f *file) Close() error                              { return f.f.Close() }

// dir implements fs.ReadDirFile for directories and links to them
type dir struct {
	fs      *FS
	e       *EntryBlock
	name    string
	entries []fs.DirEntry
	offset  int
}

func (d *dir) Stat() (fs.FileInfo, error) {
	return &fileInfo{e: entryFromBlock(d.e)}, nil
}

func (d *dir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *dir) Close() error {
	d.entries = nil
	return nil
}

func (d *dir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		target, err := d.fs.v.followDirLink(d.e)
		if err != nil {
			return nil, err
		}
		raw, err := d.fs.v.readEntries(target, false)
		if err != nil {
			return nil, err
		}
		d.entries = make([]fs.DirEntry, 0, len(raw))
		for _, e := range raw {
			d.entries = append(d.entries, &dirEntry{info: &fileInfo{e: e}})
		}
	}

	if n <= 0 {
		entries := d.entries[d.offset:]
		d.offset = len(d.entries)
		return entries, nil
	}
	if d.offset >= len(d.entries) {
		return nil, io.EOF
	}
	end := min(d.offset+n, len(d.entries))
	entries := d.entries[d.offset:end]
	d.offset = end
	return entries, nil
}

// dirEntry implements fs.DirEntry
type dirEntry struct {
	info *fileInfo
}

func (e *dirEntry) Name() string               { return e.info.Name() }
func (e *dirEntry) IsDir() bool                { return e.info.IsDir() }
func (e *dirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e *dirEntry) Info() (fs.FileInfo, error) { return e.info, nil }

// fileInfo implements fsys.FileInfo
type fileInfo struct {
	e Entry
}

var _ fsys.FileInfo = (*fileInfo)(nil)

func (i *fileInfo) Name() string       { return i.e.Name }
func (i *fileInfo) Size() int64        { return int64(i.e.Size) }
func (i *fileInfo) ModTime() time.Time { return i.e.Date }
func (i *fileInfo) IsDir() bool        { return i.e.Type.IsDir() }
func (i *fileInfo) Sys() any           { return i.e }
func (i *fileInfo) Sector() uint32     { return i.e.Sector }
func (i *fileInfo) Protection() uint32 { return i.e.Access }
func (i *fileInfo) Comment() string    { return i.e.Comment }

// Mode maps the active low RWED bits onto owner permissions
func (i *fileInfo) Mode() fs.FileMode {
	var mode fs.FileMode
	if i.e.Access&AccessRead == 0 {
		mode |= 0444
	}
	if i.e.Access&AccessWrite == 0 && i.e.Access&AccessDelete == 0 {
		mode |= 0200
	}
	if i.e.Access&AccessExecute == 0 {
		mode |= 0111
	}
	switch {
	case i.IsDir():
		mode |= fs.ModeDir | 0111
	case i.e.Type == EntrySoftLink:
		mode |= fs.ModeSymlink
	}
	return mode
}
