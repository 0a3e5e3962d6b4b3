package ffs

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memDisk struct {
	buf []byte
}

func newMemDisk(size int64) *memDisk {
	return &memDisk{buf: make([]byte, size)}
}

func (d *memDisk) ReadAt(buf []byte, off int64) (int, error) {
	if off != int64(int(off)) {
		return 0, io.EOF
	}

	if int(off) >= len(d.buf) {
		return 0, io.EOF
	}

	max := len(d.buf) - int(off)
	var err error
	if max < len(buf) {
		buf = buf[:max]
		err = io.EOF
	}

	copy(buf, d.buf[int(off):])

	return len(buf), err
}

func (d *memDisk) WriteAt(data []byte, off int64) (int, error) {
	if off != int64(int(off)) {
		return 0, io.EOF
	}

	if int(off)+len(data) > len(d.buf) {
		d.buf = append(d.buf, make([]byte, int(off)+len(data)-len(d.buf))...)
	}

	copy(d.buf[int(off):], data)

	return len(data), nil
}

func (d *memDisk) snapshot() []byte {
	return append([]byte(nil), d.buf...)
}

var testTime = time.Date(2024, time.March, 1, 12, 30, 15, 0, time.UTC)

func testNow() time.Time { return testTime }

// formatFloppy formats an in-memory DD floppy and mounts it
func formatFloppy(t *testing.T, dt DosType, name string) (*Volume, *memDisk) {
	t.Helper()
	disk := newMemDisk(0)
	require.NoError(t, Format(disk, FloppyDD, dt, name, FormatOptions{Now: testNow}))
	require.Len(t, disk.buf, 901120)
	return mountDisk(t, disk, Options{}), disk
}

func mountDisk(t *testing.T, disk io.ReaderAt, opts Options) *Volume {
	t.Helper()
	opts.Now = testNow
	v, err := Mount(disk, FloppyDD, opts)
	require.NoError(t, err)
	return v
}

// formatImageFile formats a DD floppy image in a temporary file
func formatImageFile(t *testing.T, dt DosType, name string) (*Volume, *os.File) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.adf")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	require.NoError(t, Format(f, FloppyDD, dt, name, FormatOptions{Now: testNow}))
	st, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, int64(901120), st.Size())
	return mountDisk(t, f, Options{}), f
}

// forEachDisk runs fn against a memory disk and an image file
func forEachDisk(t *testing.T, dt DosType, fn func(t *testing.T, v *Volume, disk io.ReaderAt)) {
	t.Run("mem", func(t *testing.T) {
		v, disk := formatFloppy(t, dt, "Workbench")
		fn(t, v, disk)
	})
	t.Run("file", func(t *testing.T) {
		v, f := formatImageFile(t, dt, "Workbench")
		fn(t, v, f)
	})
}

func writeFile(t *testing.T, v *Volume, path string, data []byte) {
	t.Helper()
	f, err := v.OpenFile(path, ModeWrite)
	require.NoError(t, err)
	n, err := f.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, v *Volume, path string) []byte {
	t.Helper()
	f, err := v.OpenFile(path, ModeRead)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func names(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}
