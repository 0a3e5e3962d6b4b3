// affs - Read and write Amiga OFS/FFS volumes in disk images
//
// Usage:
//
//	affs [-p part] [-ro] [-ignore-errors] [-v] <image> <command> [options] [args]
//
// Commands:
//
//	ls [-l] [-R] [path]       list a directory
//	cat <path>                write a file to stdout
//	stat <path>               show an entry
//	info                      show the volume summary
//	parts                     show the RDB partition table
//	format [-type DOS3] [-hd] [-boot file] <name>
//	mkdir [-p] <path>
//	put <local|-> <path>      copy a host file onto the volume
//	append <local|-> <path>
//	rm [-r] <path>
//	mv <from> <to>
//	comment <path> <text>
//	protect <path> <hsparwed|number>
//	relabel <name>
//
// ADF floppy images (DD or HD) are recognised by size. Hard disk images
// carry an RDB; -p selects a partition by drive name or index.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/lvdlvd/affs/cmd"
	"github.com/lvdlvd/affs/detect"
	"github.com/lvdlvd/affs/fsys/ffs"
	"github.com/lvdlvd/affs/fsys/part"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "affs: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	partition    string
	readOnly     bool
	ignoreErrors bool
	verbose      bool
}

// commands that modify the image
var writeCommands = map[string]bool{
	"format": true, "mkdir": true, "put": true, "append": true, "rm": true,
	"mv": true, "comment": true, "protect": true, "relabel": true,
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var g globalFlags
	flags := flag.NewFlagSet("affs", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&g.partition, "p", "", "RDB partition drive name or index")
	flags.BoolVar(&g.readOnly, "ro", false, "mount read-only")
	flags.BoolVar(&g.ignoreErrors, "ignore-errors", false, "skip damaged entries instead of failing")
	flags.BoolVar(&g.verbose, "v", false, "log filesystem activity to stderr")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() < 2 {
		return fmt.Errorf("usage: affs [flags] <image> <command> [options] [args]")
	}

	imagePath := flags.Arg(0)
	command := flags.Arg(1)
	cmdArgs := flags.Args()[2:]

	writable := writeCommands[command]
	if writable && g.readOnly {
		return fmt.Errorf("%s: %w", command, ffs.ErrReadOnly)
	}

	mode := os.O_RDONLY
	if writable {
		mode = os.O_RDWR
	}
	if command == "format" {
		mode |= os.O_CREATE
	}
	file, err := os.OpenFile(imagePath, mode, 0644)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}

	var logger *log.Logger
	if g.verbose {
		logger = log.New(stderr, "affs: ", 0)
	}

	if command == "format" {
		return runFormat(file, info.Size(), g, cmdArgs, logger)
	}

	fsType, err := detect.Detect(file)
	if err != nil {
		return fmt.Errorf("detecting filesystem: %w", err)
	}

	if command == "parts" {
		if !fsType.IsPartitionTable() {
			return fmt.Errorf("no partition table (detected %s)", fsType)
		}
		table, err := part.Open(file, info.Size())
		if err != nil {
			return err
		}
		_, err = io.WriteString(stdout, table.Info())
		return err
	}

	opts := ffs.Options{
		ReadOnly:     !writable,
		IgnoreErrors: g.ignoreErrors,
		Logger:       logger,
	}
	vol, err := mount(file, info.Size(), fsType, g.partition, opts)
	if err != nil {
		return fmt.Errorf("opening filesystem: %w", err)
	}

	err = runCommand(vol, command, cmdArgs, stdin, stdout)
	if cerr := vol.Close(); err == nil {
		err = cerr
	}
	return err
}

func floppyGeometry(size int64) (ffs.Geometry, error) {
	switch size {
	case ffs.FloppyDD.Size():
		return ffs.FloppyDD, nil
	case ffs.FloppyHD.Size():
		return ffs.FloppyHD, nil
	}
	return ffs.Geometry{}, fmt.Errorf("image size %d is not a DD or HD floppy", size)
}

func selectPartition(table *part.FS, sel string) (*part.Partition, error) {
	parts := table.Partitions()
	if len(parts) == 0 {
		return nil, fmt.Errorf("partition table is empty")
	}
	if sel == "" {
		return parts[0], nil
	}
	if p := table.Find(sel); p != nil {
		return p, nil
	}
	if i, err := strconv.Atoi(sel); err == nil && i >= 0 && i < len(parts) {
		return parts[i], nil
	}
	return nil, fmt.Errorf("partition %q not found", sel)
}

func mount(file *os.File, size int64, fsType detect.Type, sel string, opts ffs.Options) (*ffs.Volume, error) {
	switch {
	case fsType.IsPartitionTable():
		table, err := part.Open(file, size)
		if err != nil {
			return nil, err
		}
		p, err := selectPartition(table, sel)
		if err != nil {
			return nil, err
		}
		return ffs.MountPartition(file, p, opts)
	case fsType.IsDOS():
		g, err := floppyGeometry(size)
		if err != nil {
			return nil, err
		}
		return ffs.Mount(file, g, opts)
	case fsType == detect.Unknown:
		return nil, fmt.Errorf("unknown or unsupported filesystem")
	default:
		return nil, fmt.Errorf("unsupported filesystem type: %s", fsType)
	}
}

func runFormat(file *os.File, size int64, g globalFlags, args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("format", flag.ContinueOnError)
	typ := fs.String("type", "DOS1", "DOS type, DOS0 to DOS7 or a name like ffs-intl")
	hd := fs.Bool("hd", false, "format a blank image as an HD floppy")
	boot := fs.String("boot", "", "install boot code from this file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("format requires a volume name")
	}
	dosType, ok := ffs.ParseDosType(*typ)
	if !ok {
		return fmt.Errorf("unknown DOS type %q", *typ)
	}
	var (
		geo ffs.Geometry
		err error
	)
	fsType := detect.Unknown
	if size >= 512 {
		if fsType, err = detect.Detect(file); err != nil {
			return err
		}
	}
	if fsType.IsPartitionTable() {
		table, err := part.Open(file, size)
		if err != nil {
			return err
		}
		p, err := selectPartition(table, g.partition)
		if err != nil {
			return err
		}
		geo = ffs.GeometryFromPartition(p)
	} else {
		switch {
		case size == 0 && *hd:
			geo = ffs.FloppyHD
		case size == 0:
			geo = ffs.FloppyDD
		default:
			if geo, err = floppyGeometry(size); err != nil {
				return err
			}
		}
	}
	if err := ffs.Format(file, geo, dosType, fs.Arg(0), ffs.FormatOptions{}); err != nil {
		return err
	}
	if logger != nil {
		logger.Printf("formatted %q as %s", fs.Arg(0), dosType)
	}

	if *boot == "" {
		return nil
	}
	code, err := os.ReadFile(*boot)
	if err != nil {
		return err
	}
	return ffs.InstallBootCode(file, geo, code)
}

func runCommand(vol *ffs.Volume, command string, args []string, stdin io.Reader, out io.Writer) error {
	filesystem := ffs.NewFS(vol)

	switch command {
	case "ls":
		return runLs(filesystem, args, out)
	case "cat":
		if len(args) < 1 {
			return fmt.Errorf("cat requires a path argument")
		}
		return cmd.Cat(filesystem, args[0], out)
	case "stat":
		if len(args) < 1 {
			return fmt.Errorf("stat requires a path argument")
		}
		return cmd.Stat(filesystem, args[0], out)
	case "info":
		return cmd.Info(vol, out)
	case "mkdir":
		fs := flag.NewFlagSet("mkdir", flag.ContinueOnError)
		parents := fs.Bool("p", false, "create missing parent directories")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("mkdir requires a path argument")
		}
		return cmd.Mkdir(vol, fs.Arg(0), *parents)
	case "put", "append":
		if len(args) < 2 {
			return fmt.Errorf("%s requires a local file and a path", command)
		}
		r := stdin
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		copyFn := cmd.Put
		if command == "append" {
			copyFn = cmd.Append
		}
		_, err := copyFn(vol, r, args[1])
		return err
	case "rm":
		fs := flag.NewFlagSet("rm", flag.ContinueOnError)
		recursive := fs.Bool("r", false, "remove directories and their contents")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() < 1 {
			return fmt.Errorf("rm requires a path argument")
		}
		return cmd.Remove(vol, fs.Arg(0), *recursive)
	case "mv":
		if len(args) < 2 {
			return fmt.Errorf("mv requires a source and a destination")
		}
		return cmd.Move(vol, args[0], args[1])
	case "comment":
		if len(args) < 2 {
			return fmt.Errorf("comment requires a path and a text")
		}
		return cmd.Comment(vol, args[0], args[1])
	case "protect":
		if len(args) < 2 {
			return fmt.Errorf("protect requires a path and flags")
		}
		return cmd.Protect(vol, args[0], args[1])
	case "relabel":
		if len(args) < 1 {
			return fmt.Errorf("relabel requires a name")
		}
		return vol.SetVolumeName(args[0])
	default:
		return errors.New("unknown command: " + command +
			" (use ls, cat, stat, info, parts, format, mkdir, put, append, rm, mv, comment, protect or relabel)")
	}
}

func runLs(filesystem *ffs.FS, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	long := fs.Bool("l", false, "use long listing format")
	recursive := fs.Bool("R", false, "list subdirectories recursively")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "."
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}

	return cmd.Ls(filesystem, path, out, cmd.LsOptions{
		Long:      *long,
		Recursive: *recursive,
	})
}
