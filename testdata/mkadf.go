//go:build ignore

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/lvdlvd/affs/fsys/ffs"
	"github.com/lvdlvd/affs/fsys/part"
)

func main() {
	if err := createFloppies(); err != nil {
		fmt.Fprintf(os.Stderr, "floppies: %v\n", err)
	}
	if err := createRDBDisk(); err != nil {
		fmt.Fprintf(os.Stderr, "RDB: %v\n", err)
	}
}

// createFloppies writes one DD image per DOS type and one HD image
func createFloppies() error {
	for i := 0; i < 8; i++ {
		dt := ffs.DOS0 + ffs.DosType(i)
		name := fmt.Sprintf("testdata/dos%d.adf", i)
		if err := createFloppy(name, ffs.FloppyDD, dt, fmt.Sprintf("Empty%d", i)); err != nil {
			return err
		}
	}
	return createFloppy("testdata/ffs-hd.adf", ffs.FloppyHD, ffs.DOS1, "EmptyHD")
}

func createFloppy(path string, g ffs.Geometry, dt ffs.DosType, label string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := ffs.Format(f, g, dt, label, ffs.FormatOptions{}); err != nil {
		return fmt.Errorf("format %s: %w", path, err)
	}
	v, err := ffs.Mount(f, g, ffs.Options{})
	if err != nil {
		return err
	}
	if err := populate(v); err != nil {
		return fmt.Errorf("populate %s: %w", path, err)
	}
	if err := v.Close(); err != nil {
		return err
	}

	fmt.Printf("Created %s (%s)\n", path, dt)
	return nil
}

// populate adds a small tree that spans more than one extension block
func populate(v *ffs.Volume) error {
	if err := v.CreateDirectory("S"); err != nil {
		return err
	}
	if err := writeFile(v, "S/Startup-Sequence", []byte("C:SetPatch\nC:LoadWB\nEndCLI >NIL:\n")); err != nil {
		return err
	}
	if err := v.SetComment("S/Startup-Sequence", "boot script"); err != nil {
		return err
	}
	big := []byte(strings.Repeat("0123456789abcdef", 5000))
	return writeFile(v, "big.bin", big)
}

func writeFile(v *ffs.Volume, path string, data []byte) error {
	f, err := v.OpenFile(path, ffs.ModeWrite)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// createRDBDisk writes a 16MB hard disk image with two FFS partitions
func createRDBDisk() error {
	const (
		heads     = 4
		sectors   = 32
		cylinders = 128
	)
	f, err := os.Create("testdata/rdb-disk.hdf")
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Truncate(cylinders * heads * sectors * 512); err != nil {
		return err
	}

	parts := []*part.Partition{
		{Name: "DH0", Flags: part.FlagBootable, BlockSize: 512, SectorsPerBlock: 1, Surfaces: heads,
			BlocksPerTrack: sectors, Reserved: 2, LowCyl: 2, HighCyl: 63, BootPri: 0, DosType: uint32(ffs.DOS3)},
		{Name: "DH1", BlockSize: 512, SectorsPerBlock: 2, Surfaces: heads,
			BlocksPerTrack: sectors, Reserved: 2, LowCyl: 64, HighCyl: cylinders - 1, DosType: uint32(ffs.DOS7)},
	}
	if err := part.Write(f, part.Disk{Cylinders: cylinders, Heads: heads, Sectors: sectors}, parts); err != nil {
		return err
	}

	for _, p := range parts {
		if err := ffs.FormatPartition(f, p, "Vol"+p.Name, ffs.FormatOptions{}); err != nil {
			return fmt.Errorf("format %s: %w", p.Name, err)
		}
		v, err := ffs.MountPartition(f, p, ffs.Options{})
		if err != nil {
			return err
		}
		if err := populate(v); err != nil {
			return fmt.Errorf("populate %s: %w", p.Name, err)
		}
		if err := v.Close(); err != nil {
			return err
		}
	}

	fmt.Println("Created rdb-disk.hdf")
	return nil
}
