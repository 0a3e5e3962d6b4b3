// Package cmd implements the affs commands.
package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/lvdlvd/affs/fsys"
)

// LsOptions controls ls behavior
type LsOptions struct {
	Long      bool // Long format (-l)
	Recursive bool // Descend into subdirectories (-R)
}

// Ls lists the contents of a path in the filesystem.
// If the path is a file, it shows file information.
// If the path is a directory, it lists its contents.
func Ls(filesystem fsys.FS, fsPath string, out io.Writer, opts LsOptions) error {
	fsPath = normalizePath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return listDirectory(filesystem, fsPath, out, opts)
	}

	return showFileInfo(info, out, opts.Long)
}

func normalizePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func listDirectory(filesystem fsys.FS, dirPath string, out io.Writer, opts LsOptions) error {
	entries, err := fs.ReadDir(filesystem, dirPath)
	if err != nil {
		return err
	}

	var subdirs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			subdirs = append(subdirs, path.Join(dirPath, name))
		}

		if opts.Long {
			info, err := entry.Info()
			if err != nil {
				fmt.Fprintf(out, "%-8s %10s %s %s\n", "????????", "?", "?????????????????", name)
				continue
			}
			printLongFormat(info, out)
		} else {
			if entry.IsDir() {
				name += "/"
			}
			fmt.Fprintln(out, name)
		}
	}

	if !opts.Recursive {
		return nil
	}
	for _, sub := range subdirs {
		fmt.Fprintf(out, "\n%s:\n", sub)
		if err := listDirectory(filesystem, sub, out, opts); err != nil {
			return err
		}
	}
	return nil
}

func showFileInfo(info fs.FileInfo, out io.Writer, long bool) error {
	if long {
		printLongFormat(info, out)
	} else {
		fmt.Fprintln(out, info.Name())
	}
	return nil
}

// printLongFormat prints one entry the way AmigaDOS List does: protection,
// size or "Dir", date, name and the file note on its own line.
func printLongFormat(info fs.FileInfo, out io.Writer) {
	size := fmt.Sprintf("%10d", info.Size())
	if info.IsDir() {
		size = fmt.Sprintf("%10s", "Dir")
	}
	modTime := info.ModTime().Format("02-Jan-06 15:04:05")

	prot := info.Mode().String()
	var comment string
	if fi, ok := info.(fsys.FileInfo); ok {
		prot = FormatProtection(fi.Protection())
		comment = fi.Comment()
	}

	fmt.Fprintf(out, "%s %s %s %s\n", prot, size, modTime, info.Name())
	if comment != "" {
		fmt.Fprintf(out, ": %s\n", comment)
	}
}
