package ffs

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/lvdlvd/affs/fsys"
)

// Structural errors
var (
	ErrInvalidBlockType     = errors.New("invalid block type")
	ErrInvalidSecondaryType = errors.New("invalid secondary type")
	ErrInvalidHashTableSize = errors.New("invalid hash table size")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
	ErrNotDOS               = errors.New("not a DOS volume")
)

// Allocation and bounds errors
var (
	ErrDiskFull          = errors.New("no more free sector available")
	ErrSectorOutOfRange  = errors.New("sector out of range")
	ErrIO                = errors.New("i/o error")
	ErrReadOnly          = fsys.ReadOnlyError{}
	ErrInvalidName       = errors.New("invalid name")
	ErrNotDirectory      = errors.New("not a directory")
	ErrNotFile           = errors.New("not a file")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
)

// Lookup errors wrap the io/fs sentinels so callers can use either.
var (
	ErrEntryNotFound      = fmt.Errorf("entry not found: %w", fs.ErrNotExist)
	ErrPathNotFound       = fmt.Errorf("path not found: %w", fs.ErrNotExist)
	ErrEntryAlreadyExists = fmt.Errorf("entry already exists: %w", fs.ErrExist)
	ErrPathAlreadyExists  = fmt.Errorf("path already exists: %w", fs.ErrExist)
)

// BlockError records a failure on a specific sector
type BlockError struct {
	Op     string
	Sector uint32
	Err    error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("%s sector %d: %v", e.Op, e.Sector, e.Err)
}

func (e *BlockError) Unwrap() error { return e.Err }
