// Package detect identifies Amiga filesystem types from disk images.
package detect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Type represents a filesystem or partitioning type
type Type int

const (
	Unknown Type = iota
	OFS
	FFS
	OFSIntl
	FFSIntl
	OFSDirCache
	FFSDirCache
	OFSLongName
	FFSLongName
	PFS // Professional File System (recognised, not supported)
	RDB // Rigid Disk Block partitioned hard disk
)

// rdbSearchBlocks is the number of leading blocks that may hold the RDSK block.
const rdbSearchBlocks = 16

func (t Type) String() string {
	switch t {
	case OFS:
		return "OFS"
	case FFS:
		return "FFS"
	case OFSIntl:
		return "OFS-INTL"
	case FFSIntl:
		return "FFS-INTL"
	case OFSDirCache:
		return "OFS-DC"
	case FFSDirCache:
		return "FFS-DC"
	case OFSLongName:
		return "OFS-LNFS"
	case FFSLongName:
		return "FFS-LNFS"
	case PFS:
		return "PFS"
	case RDB:
		return "RDB"
	default:
		return "unknown"
	}
}

// IsDOS returns true if the type is one of the DOS\0..DOS\7 variants
func (t Type) IsDOS() bool {
	return t >= OFS && t <= FFSLongName
}

// IsFFS returns true if the type stores raw (headerless) data blocks
func (t Type) IsFFS() bool {
	return t == FFS || t == FFSIntl || t == FFSDirCache || t == FFSLongName
}

// IsPartitionTable returns true if the type is a partition table format
func (t Type) IsPartitionTable() bool {
	return t == RDB
}

// FromDosType maps the fourth byte of a "DOS" signature to a Type.
func FromDosType(flags byte) Type {
	if flags > 7 {
		return Unknown
	}
	return OFS + Type(flags)
}

// Detect identifies the filesystem type from a reader.
// Floppy images and bare partitions carry a DOS signature at offset 0;
// hard disk images carry an RDSK block somewhere in the first 16 blocks.
func Detect(r io.ReaderAt) (Type, error) {
	header := make([]byte, rdbSearchBlocks*512)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return Unknown, fmt.Errorf("reading header: %w", err)
	}
	if n < 512 {
		return Unknown, fmt.Errorf("file too small: %d bytes", n)
	}

	if bytes.Equal(header[0:3], []byte("DOS")) {
		return FromDosType(header[3]), nil
	}

	if bytes.Equal(header[0:3], []byte("PFS")) || bytes.Equal(header[0:3], []byte("PDS")) {
		return PFS, nil
	}

	for blk := 0; blk+1 <= n/512; blk++ {
		b := header[blk*512 : (blk+1)*512]
		if !bytes.Equal(b[0:4], []byte("RDSK")) {
			continue
		}
		if isValidRDSK(b) {
			return RDB, nil
		}
	}

	return Unknown, nil
}

// isValidRDSK verifies the summed-longs checksum of an RDSK block
func isValidRDSK(b []byte) bool {
	summed := binary.BigEndian.Uint32(b[4:8])
	if summed == 0 || int(summed)*4 > len(b) {
		return false
	}
	var sum uint32
	for i := uint32(0); i < summed; i++ {
		sum += binary.BigEndian.Uint32(b[i*4 : i*4+4])
	}
	return sum == 0
}
