package cmd

import (
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/lvdlvd/affs/fsys/ffs"
)

// Mkdir creates a directory. With parents set, missing intermediate
// directories are created and an existing directory is not an error.
func Mkdir(v *ffs.Volume, dirPath string, parents bool) error {
	if !parents {
		return v.CreateDirectory(dirPath)
	}
	cur := ""
	for _, p := range splitPath(dirPath) {
		cur = path.Join(cur, p)
		err := v.CreateDirectory(cur)
		if err == nil {
			continue
		}
		if !errors.Is(err, ffs.ErrEntryAlreadyExists) {
			return err
		}
		e, serr := v.Stat(cur)
		if serr != nil {
			return serr
		}
		if !e.Type.IsDir() {
			return fmt.Errorf("%s: %w", cur, ffs.ErrNotDirectory)
		}
	}
	return nil
}

func splitPath(p string) []string {
	var parts []string
	for p = normalizePath(p); p != "." && p != "/"; p = path.Dir(p) {
		parts = append([]string{path.Base(p)}, parts...)
	}
	return parts
}

// Put copies r into a file on the volume, replacing its contents
func Put(v *ffs.Volume, r io.Reader, filePath string) (int64, error) {
	f, err := v.OpenFile(filePath, ffs.ModeWrite)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Append adds r to the end of a file, creating it if needed
func Append(v *ffs.Volume, r io.Reader, filePath string) (int64, error) {
	f, err := v.OpenFile(filePath, ffs.ModeAppend)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Remove deletes an entry. With recursive set, directory contents are
// deleted first.
func Remove(v *ffs.Volume, entryPath string, recursive bool) error {
	if recursive {
		e, err := v.Stat(entryPath)
		if err != nil {
			return err
		}
		if e.Type == ffs.EntryDir {
			entries, err := v.ReadEntries(entryPath, false)
			if err != nil {
				return err
			}
			for _, c := range entries {
				if err := Remove(v, path.Join(entryPath, c.Name), true); err != nil {
					return err
				}
			}
		}
	}
	return v.Delete(entryPath)
}

// Move renames an entry. A destination that is an existing directory
// receives the entry under its current name.
func Move(v *ffs.Volume, from, to string) error {
	if e, err := v.Stat(to); err == nil && e.Type.IsDir() {
		to = path.Join(to, path.Base(normalizePath(from)))
	}
	return v.Rename(from, to)
}

// Comment sets the file note of an entry
func Comment(v *ffs.Volume, entryPath, text string) error {
	return v.SetComment(entryPath, text)
}

// Protect sets the protection bits of an entry from a "hsparwed" string
// or a number
func Protect(v *ffs.Volume, entryPath, flags string) error {
	bits, err := ParseProtection(flags)
	if err != nil {
		return err
	}
	return v.SetProtectionBits(entryPath, bits)
}
