package ffs

import (
	"io"
	"io/fs"
	"testing"

	"github.com/lvdlvd/affs/fsys"
	"github.com/stretchr/testify/require"
)

func TestFSType(t *testing.T) {
	tests := []struct {
		dt   DosType
		want string
	}{
		{DOS0, "OFS"},
		{DOS1, "FFS"},
		{DOS2, "OFS-INTL"},
		{DOS3, "FFS-INTL"},
		{DOS5, "FFS-DC"},
		{DOS7, "FFS-LNFS"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			v, _ := formatFloppy(t, tt.dt, "Workbench")
			require.Equal(t, tt.want, NewFS(v).Type())
		})
	}
}

func TestFS(t *testing.T) {
	v, _ := formatFloppy(t, DOS3, "Workbench")
	require.NoError(t, v.CreateDirectory("Devs"))
	config := pattern(232)
	readme := pattern(1500)
	writeFile(t, v, "Devs/system-configuration", config)
	writeFile(t, v, "readme", readme)
	require.NoError(t, v.SetComment("readme", "read me first"))
	require.NoError(t, v.SetProtectionBits("readme", AccessWrite|AccessDelete))

	fsy := NewFS(v)
	require.Same(t, v, fsy.Volume())

	entries, err := fs.ReadDir(fsy, ".")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Devs", entries[0].Name())
	require.True(t, entries[0].IsDir())
	require.Equal(t, "readme", entries[1].Name())
	require.False(t, entries[1].IsDir())

	got, err := fs.ReadFile(fsy, "Devs/system-configuration")
	require.NoError(t, err)
	require.Equal(t, config, got)
	got, err = fs.ReadFile(fsy, "readme")
	require.NoError(t, err)
	require.Equal(t, readme, got)

	info, err := fs.Stat(fsy, "readme")
	require.NoError(t, err)
	require.Equal(t, int64(1500), info.Size())
	require.Equal(t, fs.FileMode(0555), info.Mode())
	require.True(t, testTime.Equal(info.ModTime()))
	fi, ok := info.(fsys.FileInfo)
	require.True(t, ok)
	require.Equal(t, "read me first", fi.Comment())
	require.Equal(t, uint32(AccessWrite|AccessDelete), fi.Protection())
	e, err := v.Stat("readme")
	require.NoError(t, err)
	require.Equal(t, e.Sector, fi.Sector())
	require.Equal(t, e, info.Sys())

	info, err = fs.Stat(fsy, "Devs")
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, fs.ModeDir|0755, info.Mode())

	info, err = fs.Stat(fsy, ".")
	require.NoError(t, err)
	require.Equal(t, ".", info.Name())
	require.True(t, info.IsDir())

	_, err = fsy.Open("/abs")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = fsy.Open("missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fs.Stat(fsy, "Devs/missing")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fs.ReadDir(fsy, "readme")
	require.Error(t, err)
}

func TestFSFile(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	data := pattern(1200)
	writeFile(t, v, "f", data)

	f, err := NewFS(v).Open("f")
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, "f", info.Name())
	require.Equal(t, int64(1200), info.Size())

	ra, ok := f.(io.ReaderAt)
	require.True(t, ok)
	buf := make([]byte, 100)
	n, err := ra.ReadAt(buf, 600)
	require.NoError(t, err)
	require.Equal(t, data[600:700], buf[:n])

	sk, ok := f.(io.Seeker)
	require.True(t, ok)
	_, err = sk.Seek(1100, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, data[1100:], rest)
}

func TestFSDirPaging(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	require.NoError(t, v.CreateDirectory("d"))
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, v.CreateFile("d/"+n))
	}

	f, err := NewFS(v).Open("d")
	require.NoError(t, err)
	defer f.Close()
	d, ok := f.(fs.ReadDirFile)
	require.True(t, ok)

	var seen []string
	for {
		page, err := d.ReadDir(2)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.LessOrEqual(t, len(page), 2)
		for _, e := range page {
			seen = append(seen, e.Name())
		}
	}
	require.ElementsMatch(t, []string{"a", "b", "c"}, seen)

	_, err = f.Read(make([]byte, 1))
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestFreeBlocks(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	ranges, err := NewFS(v).FreeBlocks()
	require.NoError(t, err)
	require.Equal(t, []fsys.Range{
		{Start: 2 * 512, End: 880 * 512},
		{Start: 882 * 512, End: 1760 * 512},
	}, ranges)

	var total int64
	for _, r := range ranges {
		total += r.Size()
	}
	require.Equal(t, int64(v.FreeBlockCount())*512, total)
}

func TestFileExtents(t *testing.T) {
	tests := []struct {
		name   string
		dt     DosType
		size   int
		merged bool
	}{
		{"ffs", DOS1, 1500, true},
		{"ofs", DOS0, 1500, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, disk := formatFloppy(t, tt.dt, "Workbench")
			data := pattern(tt.size)
			writeFile(t, v, "f", data)
			require.NoError(t, v.CreateDirectory("d"))

			fsy := NewFS(v)
			extents, err := fsy.FileExtents("f")
			require.NoError(t, err)
			if tt.merged {
				require.Len(t, extents, 1)
			} else {
				require.Len(t, extents, 4)
				require.Equal(t, int64(488), extents[0].Length)
				require.Equal(t, int64(1500-3*488), extents[3].Length)
			}

			r := fsys.NewExtentReaderAt(disk, extents, int64(tt.size))
			got := make([]byte, tt.size)
			_, err = r.ReadAt(got, 0)
			require.NoError(t, err)
			require.Equal(t, data, got)

			_, err = fsy.FileExtents("d")
			require.Error(t, err)
			_, err = fsy.FileExtents("missing")
			require.ErrorIs(t, err, fs.ErrNotExist)
		})
	}
}
