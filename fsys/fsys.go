// Package fsys provides the filesystem interfaces shared by the Amiga
// volume drivers and the command layer.
package fsys

import (
	"fmt"
	"io"
	"io/fs"
	"sort"
)

// Range represents a byte range [Start, End) where Start is inclusive
// and End is exclusive (one past the last byte).
type Range struct {
	Start int64
	End   int64
}

// Size returns the size of the range in bytes
func (r Range) Size() int64 {
	return r.End - r.Start
}

// Extent maps a run of logical file offsets to image offsets
type Extent struct {
	Logical  int64 // Offset within the file
	Physical int64 // Offset within the image
	Length   int64
}

// FS is a filesystem opened from a disk image. Drivers that can
// modify the image expose that through their own API; FS itself is
// the read side used by ls/cat/stat.
type FS interface {
	fs.FS
	fs.ReadDirFS
	fs.StatFS

	// Type returns the filesystem type name (e.g. "FFS", "OFS-INTL")
	Type() string

	// Close releases any resources held by the filesystem
	Close() error
}

// FreeBlocker is an optional interface for filesystems that can report free space
type FreeBlocker interface {
	// FreeBlocks returns the free byte ranges of the image in ascending,
	// non-overlapping order.
	FreeBlocks() ([]Range, error)
}

// ExtentMapper is an optional interface for filesystems that can report
// the physical location of file data within the image
type ExtentMapper interface {
	FileExtents(path string) ([]Extent, error)
}

// FileInfo provides the Amiga specific parts of a directory entry
type FileInfo interface {
	fs.FileInfo

	// Sector returns the header block of the entry
	Sector() uint32

	// Protection returns the raw protection bits (HSPARWED, active low for RWED)
	Protection() uint32

	// Comment returns the file note
	Comment() string
}

// ReadOnlyError is returned for any write operation on a read-only volume
type ReadOnlyError struct{}

func (e ReadOnlyError) Error() string {
	return "filesystem is read-only"
}

// ExtentReaderAt presents a list of extents over a base reader as one
// contiguous file. Gaps read as zeros.
type ExtentReaderAt struct {
	r       io.ReaderAt
	extents []Extent
	size    int64
}

// NewExtentReaderAt creates a new ExtentReaderAt from a base reader and extents.
// If the base reader is itself an ExtentReaderAt, the mappings are composed so
// reads go straight to the innermost reader.
func NewExtentReaderAt(r io.ReaderAt, extents []Extent, size int64) *ExtentReaderAt {
	sorted := make([]Extent, len(extents))
	copy(sorted, extents)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Logical < sorted[j].Logical
	})

	if inner, ok := r.(*ExtentReaderAt); ok {
		return &ExtentReaderAt{r: inner.r, extents: ComposeExtents(sorted, inner.extents), size: size}
	}

	return &ExtentReaderAt{r: r, extents: sorted, size: size}
}

// ComposeExtents maps outer extents, whose Physical offsets live in the
// logical space of inner, through inner. A partition-relative file extent
// composed with the partition's extent yields an image offset.
func ComposeExtents(outer, inner []Extent) []Extent {
	var composed []Extent

	for _, o := range outer {
		remaining := o.Length
		at := o.Physical
		logical := o.Logical

		for remaining > 0 {
			i, ok := findExtent(inner, at)
			if !ok {
				next := nextExtentStart(inner, at, -1)
				if next < 0 {
					break
				}
				gap := next - at
				if gap > remaining {
					gap = remaining
				}
				logical += gap
				at += gap
				remaining -= gap
				continue
			}

			skip := at - i.Logical
			use := i.Length - skip
			if use > remaining {
				use = remaining
			}
			composed = append(composed, Extent{Logical: logical, Physical: i.Physical + skip, Length: use})
			logical += use
			at += use
			remaining -= use
		}
	}

	return composed
}

// Size returns the logical size of the file
func (e *ExtentReaderAt) Size() int64 {
	return e.size
}

// Extents returns the flattened extent list
func (e *ExtentReaderAt) Extents() []Extent {
	return e.extents
}

// ReadAt implements io.ReaderAt
func (e *ExtentReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	if off >= e.size {
		return 0, io.EOF
	}

	var short bool
	if off+int64(len(p)) > e.size {
		p = p[:e.size-off]
		short = true
	}

	total := 0
	for total < len(p) {
		ext, found := findExtent(e.extents, off)
		if !found {
			end := nextExtentStart(e.extents, off, e.size)
			n := int(end - off)
			if n > len(p)-total {
				n = len(p) - total
			}
			clear(p[total : total+n])
			total += n
			off += int64(n)
			continue
		}

		skip := off - ext.Logical
		n := int(ext.Length - skip)
		if n > len(p)-total {
			n = len(p) - total
		}
		nr, err := e.r.ReadAt(p[total:total+n], ext.Physical+skip)
		total += nr
		off += int64(nr)
		if err != nil && err != io.EOF {
			return total, err
		}
		if nr < n {
			return total, io.EOF
		}
	}

	if short {
		return total, io.EOF
	}
	return total, nil
}

func findExtent(extents []Extent, off int64) (Extent, bool) {
	for _, ext := range extents {
		if off >= ext.Logical && off < ext.Logical+ext.Length {
			return ext, true
		}
	}
	return Extent{}, false
}

// nextExtentStart returns the start of the first extent beginning after
// off, or def if there is none
func nextExtentStart(extents []Extent, off, def int64) int64 {
	next := def
	for _, ext := range extents {
		if ext.Logical > off && (next == def || ext.Logical < next) {
			next = ext.Logical
		}
	}
	return next
}
