package cmd

import (
	"fmt"
	"io"

	"github.com/lvdlvd/affs/fsys"
	"github.com/lvdlvd/affs/fsys/ffs"
)

// Info prints the volume summary
func Info(v *ffs.Volume, out io.Writer) error {
	total := v.TotalBlocks()
	free := v.FreeBlockCount()
	bs := v.BlockSize()
	vfs := ffs.NewFS(v)

	fmt.Fprintf(out, "Volume:     %s\n", v.Name())
	fmt.Fprintf(out, "Type:       %s (%s)\n", vfs.Type(), v.DosType())
	fmt.Fprintf(out, "Block size: %d\n", bs)
	fmt.Fprintf(out, "Blocks:     %d\n", total)
	fmt.Fprintf(out, "Free:       %d (%s)\n", free, formatSize(int64(free)*int64(bs)))
	if err := printFreeRanges(vfs, out); err != nil {
		return err
	}
	fmt.Fprintf(out, "Root block: %d\n", v.RootSector())
	fmt.Fprintf(out, "Created:    %s\n", v.Created().Format("02-Jan-06 15:04:05"))
	fmt.Fprintf(out, "Altered:    %s\n", v.Altered().Format("02-Jan-06 15:04:05"))
	if !v.BitmapValid() {
		fmt.Fprintln(out, "Bitmap:     invalid")
	}
	if v.ReadOnly() {
		fmt.Fprintln(out, "Mounted read-only")
	}
	for _, l := range v.Logs() {
		fmt.Fprintf(out, "warning: %s\n", l)
	}
	return nil
}

// printFreeRanges lists the free byte ranges of the image
func printFreeRanges(fb fsys.FreeBlocker, out io.Writer) error {
	ranges, err := fb.FreeBlocks()
	if err != nil {
		return err
	}
	for _, r := range ranges {
		fmt.Fprintf(out, "  %#x-%#x (%s)\n", r.Start, r.End, formatSize(r.Size()))
	}
	return nil
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
