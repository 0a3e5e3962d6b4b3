package ffs

import (
	"bytes"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPos2DataBlock(t *testing.T) {
	tests := []struct {
		pos                      int
		block, offset, eb, index int
	}{
		{0, 0, 0, -1, 0},
		{511, 0, 511, -1, 0},
		{512, 1, 0, -1, 1},
		{72*512 - 1, 71, 511, -1, 71},
		{72 * 512, 72, 0, 0, 0},
		{73*512 + 1, 73, 1, 0, 1},
		{144*512 + 5, 144, 5, 1, 0},
	}
	for _, tt := range tests {
		block, offset, eb, index := Pos2DataBlock(tt.pos, 512, 72)
		require.Equal(t, []int{tt.block, tt.offset, tt.eb, tt.index}, []int{block, offset, eb, index}, "pos %d", tt.pos)
	}

	block, offset, _, _ := Pos2DataBlock(1000, 488, 72)
	require.Equal(t, 2, block)
	require.Equal(t, 24, offset)
}

func TestFileRealSize(t *testing.T) {
	tests := []struct {
		size uint32
		want int
	}{
		{0, 0},
		{1, 1},
		{512, 1},
		{513, 2},
		{72 * 512, 72},
		{72*512 + 1, 74},
		{144 * 512, 145},
		{144*512 + 1, 147},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, FileRealSize(tt.size, 512, 72), "size %d", tt.size)
	}
	require.Equal(t, 3, FileRealSize(1000, 488, 72))
}

func TestScenarioWriteRead(t *testing.T) {
	forEachDisk(t, DOS3, func(t *testing.T, v *Volume, disk io.ReaderAt) {
		text := "This is a test file!\n    "
		require.Len(t, text, 25)

		f, err := v.OpenFile("test.txt", ModeWrite)
		require.NoError(t, err)
		n, err := f.Write([]byte(text))
		require.NoError(t, err)
		require.Equal(t, 25, n)
		require.NoError(t, f.Close())

		ro := mountDisk(t, disk, Options{ReadOnly: true})
		f, err = ro.OpenFile("test.txt", ModeRead)
		require.NoError(t, err)
		buf := make([]byte, 512)
		n, err = f.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 25, n)
		require.Equal(t, text, latin1ToString(buf[:n]))

		_, err = f.Read(buf)
		require.ErrorIs(t, err, io.EOF)
		require.NoError(t, f.Close())

		_, err = f.Read(buf)
		require.ErrorIs(t, err, fs.ErrClosed)
	})
}

func TestSeekReadConsistency(t *testing.T) {
	for _, dt := range []DosType{DOS0, DOS1} {
		t.Run(dt.String(), func(t *testing.T) {
			v, _ := formatFloppy(t, dt, "Workbench")
			const size = 3*512 + 100
			data := pattern(size)
			writeFile(t, v, "f", data)

			f, err := v.OpenFile("f", ModeRead)
			require.NoError(t, err)
			defer f.Close()
			require.Equal(t, int64(size), f.Size())

			tests := []struct {
				k, m int
			}{
				{0, 10},
				{0, size},
				{0, size + 100},
				{487, 2},
				{488, 600},
				{511, 1},
				{512, 512},
				{1000, 1000},
				{size - 1, 10},
				{size, 10},
			}
			for _, tt := range tests {
				pos, err := f.Seek(int64(tt.k), io.SeekStart)
				require.NoError(t, err)
				require.Equal(t, int64(tt.k), pos)

				buf := make([]byte, tt.m)
				n, err := f.Read(buf)
				want := data[tt.k:min(tt.k+tt.m, size)]
				if len(want) == 0 {
					require.ErrorIs(t, err, io.EOF)
				} else {
					require.NoError(t, err)
				}
				require.Equal(t, len(want), n)
				require.True(t, bytes.Equal(want, buf[:n]), "k=%d m=%d", tt.k, tt.m)

				cur, err := f.Seek(0, io.SeekCurrent)
				require.NoError(t, err)
				require.Equal(t, int64(tt.k+n), cur)
			}

			_, err = f.Seek(size+1, io.SeekStart)
			require.ErrorIs(t, err, ErrIO)
			_, err = f.Seek(-1, io.SeekStart)
			require.ErrorIs(t, err, ErrIO)
			pos, err := f.Seek(-5, io.SeekEnd)
			require.NoError(t, err)
			require.Equal(t, int64(size-5), pos)

			buf := make([]byte, 8)
			n, err := f.ReadAt(buf, size-4)
			require.ErrorIs(t, err, io.EOF)
			require.Equal(t, 4, n)
			require.Equal(t, data[size-4:], buf[:n])
			cur, _ := f.Seek(0, io.SeekCurrent)
			require.Equal(t, int64(size-5), cur, "ReadAt leaves the position alone")
		})
	}
}

func TestOFSDataChain(t *testing.T) {
	v, disk := formatFloppy(t, DOS0, "Workbench")
	data := pattern(1000)
	writeFile(t, v, "f", data)

	hdr, err := v.resolve("f")
	require.NoError(t, err)
	require.Equal(t, uint32(3), hdr.HighSeq)
	blocks, ext, err := v.getFileBlocks(hdr)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	require.Empty(t, ext)
	require.Equal(t, blocks[0], hdr.FirstData)

	sizes := []uint32{488, 488, 24}
	for i, s := range blocks {
		d, err := ParseOFSDataBlock(disk.buf[int(s)*512 : int(s+1)*512])
		require.NoError(t, err)
		require.Equal(t, hdr.HeaderKey, d.HeaderKey)
		require.Equal(t, uint32(i+1), d.SeqNum)
		require.Equal(t, sizes[i], d.DataSize)
		if i+1 < len(blocks) {
			require.Equal(t, blocks[i+1], d.NextData)
		} else {
			require.Zero(t, d.NextData)
		}
	}

	// a wrong sequence number in the chain is a hard error
	s := blocks[1]
	d, err := ParseOFSDataBlock(disk.buf[int(s)*512 : int(s+1)*512])
	require.NoError(t, err)
	d.SeqNum = 7
	copy(disk.buf[int(s)*512:], d.Build(512))

	for _, opts := range []Options{{}, {IgnoreErrors: true}} {
		again := mountDisk(t, disk, opts)
		f, err := again.OpenFile("f", ModeRead)
		require.NoError(t, err)
		_, err = io.ReadAll(f)
		require.ErrorIs(t, err, ErrIO)
		require.ErrorContains(t, err, "seqnum incorrect")
	}
}

func TestLargeFiles(t *testing.T) {
	tests := []struct {
		name   string
		dt     DosType
		blocks int
		ext    int
	}{
		{"ffs direct only", DOS1, 72, 0},
		{"ffs one extension", DOS1, 100, 1},
		{"ffs two extensions", DOS1, 200, 2},
		{"ofs two extensions", DOS0, 150, 2},
		{"dircache one extension", DOS5, 80, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, disk := formatFloppy(t, tt.dt, "Workbench")
			free := v.FreeBlockCount()
			dc := v.dataCapacity()
			data := pattern(tt.blocks*dc - 7)
			writeFile(t, v, "big", data)

			hdr, err := v.resolve("big")
			require.NoError(t, err)
			blocks, ext, err := v.getFileBlocks(hdr)
			require.NoError(t, err)
			require.Len(t, blocks, tt.blocks)
			require.Len(t, ext, tt.ext)
			require.Equal(t, FileRealSize(hdr.ByteSize, dc, 72), len(blocks)+len(ext))
			require.Equal(t, free-1-tt.blocks-tt.ext, v.FreeBlockCount())

			// fresh mount with a tiny extension cache
			again := mountDisk(t, disk, Options{ExtentCacheSize: 1})
			require.Equal(t, data, readFile(t, again, "big"))

			f, err := again.OpenFile("big", ModeRead)
			require.NoError(t, err)
			for _, off := range []int{len(data) - 3, 0, min(72*dc+1, len(data)-3), 10, len(data) / 2} {
				buf := make([]byte, 3)
				n, err := f.ReadAt(buf, int64(off))
				require.NoError(t, err)
				require.Equal(t, data[off:off+n], buf[:n])
			}
			require.NoError(t, f.Close())

			require.NoError(t, again.Delete("big"))
			require.Equal(t, free, again.FreeBlockCount())
		})
	}
}

func TestAppend(t *testing.T) {
	for _, dt := range []DosType{DOS0, DOS1} {
		t.Run(dt.String(), func(t *testing.T) {
			v, disk := formatFloppy(t, dt, "Workbench")
			writeFile(t, v, "log", []byte("hello "))

			f, err := v.OpenFile("log", ModeAppend)
			require.NoError(t, err)
			_, err = f.Write([]byte("world"))
			require.NoError(t, err)
			require.NoError(t, f.Close())
			require.Equal(t, []byte("hello world"), readFile(t, v, "log"))

			// grow across several block boundaries
			more := pattern(1500)
			f, err = v.OpenFile("log", ModeAppend)
			require.NoError(t, err)
			_, err = f.Write(more)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			want := append([]byte("hello world"), more...)
			again := mountDisk(t, disk, Options{})
			require.Equal(t, want, readFile(t, again, "log"))

			// append mode may also seek back and overwrite
			f, err = again.OpenFile("log", ModeAppend)
			require.NoError(t, err)
			_, err = f.Seek(6, io.SeekStart)
			require.NoError(t, err)
			_, err = f.Write([]byte("WORLD"))
			require.NoError(t, err)
			require.NoError(t, f.Close())
			copy(want[6:], "WORLD")
			require.Equal(t, want, readFile(t, again, "log"))

			hdr, err := again.resolve("log")
			require.NoError(t, err)
			_, _, err = again.getFileBlocks(hdr)
			require.NoError(t, err)
		})
	}
}

func TestAppendCreates(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	f, err := v.OpenFile("new", ModeAppend)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, []byte("x"), readFile(t, v, "new"))
}

func TestTruncate(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	free := v.FreeBlockCount()
	writeFile(t, v, "f", pattern(100*512))
	require.Equal(t, free-1-100-1, v.FreeBlockCount())

	writeFile(t, v, "f", []byte("short"))
	require.Equal(t, []byte("short"), readFile(t, v, "f"))
	require.Equal(t, free-2, v.FreeBlockCount())

	hdr, err := v.resolve("f")
	require.NoError(t, err)
	require.Zero(t, hdr.Extension)
	require.Equal(t, uint32(1), hdr.HighSeq)

	writeFile(t, v, "f", nil)
	require.Equal(t, free-1, v.FreeBlockCount())
	require.Empty(t, readFile(t, v, "f"))
}

func TestWriteDiskFull(t *testing.T) {
	v, disk := formatFloppy(t, DOS1, "Workbench")
	_, err := v.GetFreeBlocks(v.FreeBlockCount() - 3)
	require.NoError(t, err)

	f, err := v.OpenFile("f", ModeWrite)
	require.NoError(t, err)
	data := pattern(5 * 512)
	n, err := f.Write(data)
	require.ErrorIs(t, err, ErrDiskFull)
	require.Equal(t, 2*512, n)
	require.NoError(t, f.Close())

	again := mountDisk(t, disk, Options{})
	require.Equal(t, data[:2*512], readFile(t, again, "f"))
	require.Zero(t, again.FreeBlockCount())
}

func TestFlushKeepsAttributes(t *testing.T) {
	for _, dt := range []DosType{DOS1, DOS5} {
		t.Run(dt.String(), func(t *testing.T) {
			v, disk := formatFloppy(t, dt, "Workbench")
			data := pattern(1500)

			f, err := v.OpenFile("f6", ModeWrite)
			require.NoError(t, err)
			_, err = f.Write(data[:700])
			require.NoError(t, err)
			require.NoError(t, v.CreateDirectory("A"))
			require.NoError(t, v.SetComment("f6", "kept"))
			require.NoError(t, v.SetProtectionBits("f6", 0x0a))
			_, err = f.Write(data[700:])
			require.NoError(t, err)
			require.NoError(t, f.Close())

			g, err := v.OpenFile("moved", ModeWrite)
			require.NoError(t, err)
			_, err = g.Write(data[:100])
			require.NoError(t, err)
			require.NoError(t, v.Rename("moved", "A/there"))
			_, err = g.Write(data[100:300])
			require.NoError(t, err)
			require.NoError(t, g.Close())

			again := mountDisk(t, disk, Options{})
			e, err := again.Stat("f6")
			require.NoError(t, err)
			require.Equal(t, "kept", e.Comment)
			require.Equal(t, uint32(0x0a), e.Access)
			require.Equal(t, uint32(1500), e.Size)
			require.Equal(t, data, readFile(t, again, "f6"))

			dir, err := again.Stat("A")
			require.NoError(t, err)
			_, err = again.Stat("moved")
			require.ErrorIs(t, err, ErrEntryNotFound)
			e, err = again.Stat("A/there")
			require.NoError(t, err)
			require.Equal(t, dir.Sector, e.Parent)
			require.Equal(t, data[:300], readFile(t, again, "A/there"))

			entries, err := again.ReadEntries("A", false)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			require.Equal(t, "there", entries[0].Name)
			require.Equal(t, uint32(300), entries[0].Size)
		})
	}
}

func TestOpenFileErrors(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	require.NoError(t, v.CreateDirectory("dir"))
	writeFile(t, v, "f", []byte("abc"))

	_, err := v.OpenFile("dir", ModeRead)
	require.ErrorIs(t, err, ErrNotFile)
	_, err = v.OpenFile("missing", ModeRead)
	require.ErrorIs(t, err, ErrEntryNotFound)
	_, err = v.OpenFile("nodir/f", ModeWrite)
	require.ErrorIs(t, err, ErrPathNotFound)

	f, err := v.OpenFile("f", ModeRead)
	require.NoError(t, err)
	_, err = f.Write([]byte("x"))
	require.ErrorIs(t, err, ErrReadOnly)
	_, err = f.Seek(0, 42)
	require.ErrorIs(t, err, ErrIO)
	require.Equal(t, "f", f.Name())
	require.Equal(t, int64(3), f.Size())
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	require.Equal(t, "append", ModeAppend.String())
}

func TestCorruptFileSize(t *testing.T) {
	v, _ := formatFloppy(t, DOS1, "Workbench")
	writeFile(t, v, "f", pattern(1000))
	hdr, err := v.resolve("f")
	require.NoError(t, err)

	hdr.ByteSize = 5000
	require.NoError(t, v.writeEntry(hdr))
	require.ErrorIs(t, v.Delete("f"), ErrIO)
}
