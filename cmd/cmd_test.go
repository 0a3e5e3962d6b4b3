package cmd

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lvdlvd/affs/fsys/ffs"
	"github.com/stretchr/testify/require"
)

type memDisk struct{ buf []byte }

func (m *memDisk) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memDisk) WriteAt(p []byte, off int64) (int, error) {
	if end := off + int64(len(p)); end > int64(len(m.buf)) {
		m.buf = append(m.buf, make([]byte, end-int64(len(m.buf)))...)
	}
	return copy(m.buf[off:], p), nil
}

func testNow() time.Time { return time.Date(2024, time.March, 1, 12, 30, 15, 0, time.UTC) }

func newVolume(t *testing.T, dt ffs.DosType) *ffs.Volume {
	t.Helper()
	disk := &memDisk{}
	require.NoError(t, ffs.Format(disk, ffs.FloppyDD, dt, "Workbench", ffs.FormatOptions{Now: testNow}))
	v, err := ffs.Mount(disk, ffs.FloppyDD, ffs.Options{Now: testNow})
	require.NoError(t, err)
	return v
}

func TestProtection(t *testing.T) {
	tests := []struct {
		bits uint32
		str  string
	}{
		{0, "----rwed"},
		{0x0f, "--------"},
		{0x15, "---ar-e-"},
		{0xf0, "hsparwed"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.str, FormatProtection(tt.bits))
		got, err := ParseProtection(tt.str)
		require.NoError(t, err)
		require.Equal(t, tt.bits, got)
	}

	for b := uint32(0); b < 256; b++ {
		got, err := ParseProtection(FormatProtection(b))
		require.NoError(t, err)
		require.Equal(t, b, got)
	}

	got, err := ParseProtection("RE")
	require.NoError(t, err)
	require.Equal(t, uint32(ffs.AccessWrite|ffs.AccessDelete), got)

	got, err = ParseProtection("0x15")
	require.NoError(t, err)
	require.Equal(t, uint32(0x15), got)

	_, err = ParseProtection("rwx")
	require.Error(t, err)
	_, err = ParseProtection("9z")
	require.Error(t, err)
}

func populate(t *testing.T, v *ffs.Volume) {
	t.Helper()
	require.NoError(t, Mkdir(v, "Devs/Keymaps", true))
	_, err := Put(v, strings.NewReader("usa"), "Devs/Keymaps/usa")
	require.NoError(t, err)
	_, err = Put(v, strings.NewReader(strings.Repeat("hello amiga\n", 100)), "readme")
	require.NoError(t, err)
	require.NoError(t, Comment(v, "readme", "read me first"))
}

func TestLs(t *testing.T) {
	v := newVolume(t, ffs.DOS3)
	populate(t, v)
	filesystem := ffs.NewFS(v)

	var out bytes.Buffer
	require.NoError(t, Ls(filesystem, "/", &out, LsOptions{}))
	require.Equal(t, "Devs/\nreadme\n", out.String())

	out.Reset()
	require.NoError(t, Ls(filesystem, "", &out, LsOptions{Recursive: true}))
	require.Equal(t, "Devs/\nreadme\n\nDevs:\nKeymaps/\n\nDevs/Keymaps:\nusa\n", out.String())

	out.Reset()
	require.NoError(t, Ls(filesystem, ".", &out, LsOptions{Long: true}))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "----rwed        Dir 01-Mar-24 12:30:15 Devs", lines[0])
	require.Equal(t, "----rwed       1200 01-Mar-24 12:30:15 readme", lines[1])
	require.Equal(t, ": read me first", lines[2])

	out.Reset()
	require.NoError(t, Ls(filesystem, "/Devs/Keymaps/usa", &out, LsOptions{}))
	require.Equal(t, "usa\n", out.String())

	require.Error(t, Ls(filesystem, "missing", &out, LsOptions{}))
}

func TestCat(t *testing.T) {
	for _, dt := range []ffs.DosType{ffs.DOS0, ffs.DOS1} {
		t.Run(dt.String(), func(t *testing.T) {
			v := newVolume(t, dt)
			populate(t, v)
			filesystem := ffs.NewFS(v)

			var out bytes.Buffer
			require.NoError(t, Cat(filesystem, "readme", &out))
			require.Equal(t, strings.Repeat("hello amiga\n", 100), out.String())

			out.Reset()
			require.NoError(t, Cat(filesystem, "/Devs/Keymaps/usa", &out))
			require.Equal(t, "usa", out.String())

			require.ErrorContains(t, Cat(filesystem, "Devs", &out), "is a directory")
		})
	}
}

func TestStat(t *testing.T) {
	v := newVolume(t, ffs.DOS1)
	populate(t, v)
	require.NoError(t, Protect(v, "readme", "r"))

	var out bytes.Buffer
	require.NoError(t, Stat(ffs.NewFS(v), "readme", &out))
	s := out.String()
	require.Contains(t, s, "File: readme")
	require.Contains(t, s, "Size: 1200")
	require.Contains(t, s, "Protect: ----r---")
	require.Contains(t, s, "Comment: read me first")

	e, err := v.Stat("readme")
	require.NoError(t, err)
	require.Contains(t, s, fmt.Sprintf("Header: %d\n", e.Sector))
}

func TestMkdirParents(t *testing.T) {
	v := newVolume(t, ffs.DOS1)
	require.NoError(t, Mkdir(v, "a/b/c", true))
	require.NoError(t, Mkdir(v, "a/b/c", true))
	require.ErrorIs(t, Mkdir(v, "a/b/c", false), ffs.ErrEntryAlreadyExists)

	_, err := Put(v, strings.NewReader("x"), "a/file")
	require.NoError(t, err)
	require.ErrorIs(t, Mkdir(v, "a/file/d", true), ffs.ErrNotDirectory)

	e, err := v.Stat("a/b/c")
	require.NoError(t, err)
	require.Equal(t, ffs.EntryDir, e.Type)
}

func TestAppend(t *testing.T) {
	v := newVolume(t, ffs.DOS1)
	_, err := Append(v, strings.NewReader("one "), "log")
	require.NoError(t, err)
	n, err := Append(v, strings.NewReader("two"), "log")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	var out bytes.Buffer
	require.NoError(t, Cat(ffs.NewFS(v), "log", &out))
	require.Equal(t, "one two", out.String())
}

func TestRemove(t *testing.T) {
	v := newVolume(t, ffs.DOS5)
	free := v.FreeBlockCount()
	populate(t, v)

	require.ErrorIs(t, Remove(v, "Devs", false), ffs.ErrDirectoryNotEmpty)
	require.NoError(t, Remove(v, "Devs", true))
	require.NoError(t, Remove(v, "readme", false))
	require.Equal(t, free, v.FreeBlockCount())

	entries, err := v.ReadEntries("/", false)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestMove(t *testing.T) {
	v := newVolume(t, ffs.DOS3)
	populate(t, v)

	require.NoError(t, Move(v, "readme", "Devs"))
	_, err := v.Stat("Devs/readme")
	require.NoError(t, err)

	require.NoError(t, Move(v, "Devs/readme", "/ReadMe.txt"))
	e, err := v.Stat("ReadMe.txt")
	require.NoError(t, err)
	require.Equal(t, "read me first", e.Comment)

	require.NoError(t, Move(v, "Devs/Keymaps", "/"))
	_, err = v.Stat("Keymaps/usa")
	require.NoError(t, err)
}

func TestInfo(t *testing.T) {
	v := newVolume(t, ffs.DOS3)
	var out bytes.Buffer
	require.NoError(t, Info(v, &out))
	s := out.String()
	require.Contains(t, s, "Volume:     Workbench\n")
	require.Contains(t, s, "Type:       FFS-INTL (DOS\\3)\n")
	require.Contains(t, s, "Blocks:     1760\n")
	require.Contains(t, s, "Free:       1756 (878.0K)\n  0x400-0x6e000 (439.0K)\n  0x6e400-0xdc000 (439.0K)\nRoot block")
	require.Contains(t, s, "Root block: 880\n")
	require.Contains(t, s, "Created:    01-Mar-24 12:30:15\n")
	require.NotContains(t, s, "invalid")
}

func TestFormatSize(t *testing.T) {
	require.Equal(t, "512B", formatSize(512))
	require.Equal(t, "1.5K", formatSize(1536))
	require.Equal(t, "880.0K", formatSize(901120))
	require.Equal(t, "2.0M", formatSize(2<<20))
	require.Equal(t, "1.0G", formatSize(1<<30))
}
