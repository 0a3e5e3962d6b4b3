package detect

import (
	"bytes"
	"io"
	"testing"

	"github.com/lvdlvd/affs/fsys/ffs"
	"github.com/lvdlvd/affs/fsys/part"
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

func TestDetectFormatted(t *testing.T) {
	want := []Type{OFS, FFS, OFSIntl, FFSIntl, OFSDirCache, FFSDirCache, OFSLongName, FFSLongName}
	for i, typ := range want {
		t.Run(typ.String(), func(t *testing.T) {
			disk := &memDisk{}
			require.NoError(t, ffs.Format(disk, ffs.FloppyDD, ffs.DOS0+ffs.DosType(i), "Test", ffs.FormatOptions{}))
			got, err := Detect(disk)
			require.NoError(t, err)
			require.Equal(t, typ, got)
			require.True(t, got.IsDOS())
			require.False(t, got.IsPartitionTable())
			require.Equal(t, i%2 == 1, got.IsFFS())
		})
	}
}

func TestDetectRDB(t *testing.T) {
	disk := &memDisk{buf: make([]byte, 64*512)}
	require.NoError(t, part.Write(disk, part.Disk{Cylinders: 1, Heads: 1, Sectors: 64}, nil))
	got, err := Detect(disk)
	require.NoError(t, err)
	require.Equal(t, RDB, got)
	require.True(t, got.IsPartitionTable())
	require.False(t, got.IsDOS())

	// a broken checksum is not a partition table
	disk.buf[100] ^= 1
	got, err = Detect(disk)
	require.NoError(t, err)
	require.Equal(t, Unknown, got)
}

func TestDetectOther(t *testing.T) {
	tests := []struct {
		name string
		head string
		want Type
	}{
		{"pfs", "PFS\x01", PFS},
		{"pds", "PDS\x03", PFS},
		{"bad dos flags", "DOS\x09", Unknown},
		{"blank", "\x00\x00\x00\x00", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 1024)
			copy(buf, tt.head)
			got, err := Detect(bytes.NewReader(buf))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestDetectTooSmall(t *testing.T) {
	_, err := Detect(bytes.NewReader([]byte("DOS\x00")))
	require.ErrorContains(t, err, "too small")
}

func TestFromDosType(t *testing.T) {
	require.Equal(t, OFS, FromDosType(0))
	require.Equal(t, FFSLongName, FromDosType(7))
	require.Equal(t, Unknown, FromDosType(8))
	require.Equal(t, "FFS-INTL", FromDosType(3).String())
	require.Equal(t, "unknown", Unknown.String())
	require.Equal(t, "OFS-DC", OFSDirCache.String())
}
