package ffs

import (
	"bytes"
	"fmt"
)

// Offsets of the fixed head shared by every header-style block
const (
	offType      = 0x00
	offHeaderKey = 0x04
	offHighSeq   = 0x08
	offTableSize = 0x0c
	offFirstData = 0x10
	offChecksum  = 0x14
	offTable     = 0x18
)

// Offsets of the tail, counted back from the end of the block
const (
	tailAccess       = 0xc0
	tailByteSize     = 0xbc
	tailComment      = 0xb8
	tailDate         = 0x5c
	tailName         = 0x50
	tailReal         = 0x2c
	tailNextLink     = 0x28
	tailNextSameHash = 0x10
	tailParent       = 0x0c
	tailExtension    = 0x08
	tailSecType      = 0x04

	// long name volumes keep name and comment together in one 112 byte
	// area where the comment used to be, which pushes the date back
	tailLongNameArea  = 0xb8
	tailLongDate      = 0x48
	tailCommentBlock  = 0x3c
	longNameAreaBytes = 112
)

// TableSize returns the number of hash table or data block slots of a
// header block for the given block size: (bs - 0x18 - 0xc8) / 4.
func TableSize(blockSize int) int {
	return (blockSize - entryHeaderSize - entryTailSize) / 4
}

// EntryBlock is the decoded form of a directory, file header, file
// extension or link block. SecType selects which fields are meaningful:
//
//	STDir:              Index is the hash table
//	STFile:             Index holds data block pointers, filled from the end
//	STFile+TypeList:    file extension block, only HighSeq/Index/Parent/Extension
//	STLinkFile/LinkDir: Real points at the linked entry
//	STSoftLink:         LinkTarget holds the path
type EntryBlock struct {
	Raw []byte

	Type         int32
	HeaderKey    uint32
	HighSeq      uint32
	TableSize    uint32
	FirstData    uint32
	Index        []uint32
	Access       uint32
	ByteSize     uint32
	Comment      string
	Date         Date
	Name         string
	Real         uint32
	NextLink     uint32
	NextSameHash uint32
	Parent       uint32
	Extension    uint32
	SecType      int32

	LinkTarget   string // soft links
	CommentBlock uint32 // long name volumes, comments that do not fit inline
}

// IsDir reports whether the entry is a directory or a link to one
func (e *EntryBlock) IsDir() bool {
	return e.SecType == STDir || e.SecType == STRoot || e.SecType == STLinkDir
}

// IsFile reports whether the entry is a file header
func (e *EntryBlock) IsFile() bool {
	return e.SecType == STFile && e.Type == TypeHeader
}

// IsExtension reports whether the block is a file extension block
func (e *EntryBlock) IsExtension() bool {
	return e.Type == TypeList
}

// ParseEntryBlock decodes a directory, file header or link block.
func ParseEntryBlock(buf []byte, longNames bool) (*EntryBlock, error) {
	if t := getInt32(buf, offType); t != TypeHeader {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockType, t)
	}
	e := decodeEntry(buf, longNames)
	switch e.SecType {
	case STDir, STFile, STLinkFile, STLinkDir, STSoftLink:
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidSecondaryType, e.SecType)
	}
	if err := verifyChecksum(buf, offChecksum); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseFileExtBlock decodes a file extension block
func ParseFileExtBlock(buf []byte) (*EntryBlock, error) {
	if t := getInt32(buf, offType); t != TypeList {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockType, t)
	}
	bs := len(buf)
	if st := getInt32(buf, bs-tailSecType); st != STFile {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSecondaryType, st)
	}
	if err := verifyChecksum(buf, offChecksum); err != nil {
		return nil, err
	}
	return &EntryBlock{
		Raw:          bytes.Clone(buf),
		Type:         TypeList,
		HeaderKey:    be.Uint32(buf[offHeaderKey:]),
		HighSeq:      be.Uint32(buf[offHighSeq:]),
		Index:        readTable(buf),
		NextSameHash: be.Uint32(buf[bs-tailNextSameHash:]),
		Parent:       be.Uint32(buf[bs-tailParent:]),
		Extension:    be.Uint32(buf[bs-tailExtension:]),
		SecType:      STFile,
	}, nil
}

func readTable(buf []byte) []uint32 {
	t := make([]uint32, TableSize(len(buf)))
	for i := range t {
		t[i] = be.Uint32(buf[offTable+i*4:])
	}
	return t
}

func decodeEntry(buf []byte, longNames bool) *EntryBlock {
	bs := len(buf)
	e := &EntryBlock{
		Raw:          bytes.Clone(buf),
		Type:         getInt32(buf, offType),
		HeaderKey:    be.Uint32(buf[offHeaderKey:]),
		HighSeq:      be.Uint32(buf[offHighSeq:]),
		TableSize:    be.Uint32(buf[offTableSize:]),
		FirstData:    be.Uint32(buf[offFirstData:]),
		Access:       be.Uint32(buf[bs-tailAccess:]),
		ByteSize:     be.Uint32(buf[bs-tailByteSize:]),
		Real:         be.Uint32(buf[bs-tailReal:]),
		NextLink:     be.Uint32(buf[bs-tailNextLink:]),
		NextSameHash: be.Uint32(buf[bs-tailNextSameHash:]),
		Parent:       be.Uint32(buf[bs-tailParent:]),
		Extension:    be.Uint32(buf[bs-tailExtension:]),
		SecType:      getInt32(buf, bs-tailSecType),
	}

	if e.SecType == STSoftLink {
		area := buf[offTable : bs-entryTailSize]
		if i := bytes.IndexByte(area, 0); i >= 0 {
			area = area[:i]
		}
		e.LinkTarget = latin1ToString(area)
	} else {
		e.Index = readTable(buf)
	}

	if longNames {
		off := bs - tailLongNameArea
		e.Name = readBSTR(buf, off, MaxLongNameLen)
		coff := off + 1 + latin1Len(e.Name)
		if coff < off+longNameAreaBytes {
			e.Comment = readBSTR(buf, coff, off+longNameAreaBytes-coff-1)
		}
		e.Date = readDate(buf, bs-tailLongDate)
		e.CommentBlock = be.Uint32(buf[bs-tailCommentBlock:])
	} else {
		e.Comment = readBSTR(buf, bs-tailComment, MaxCommentLen)
		e.Date = readDate(buf, bs-tailDate)
		e.Name = readBSTR(buf, bs-tailName, MaxNameLen)
	}
	return e
}

// Build encodes the block into a buffer of blockSize bytes, starting from
// Raw so fields this package does not model survive.
func (e *EntryBlock) Build(blockSize int, longNames bool) []byte {
	buf := make([]byte, blockSize)
	if len(e.Raw) == blockSize {
		copy(buf, e.Raw)
	}
	bs := blockSize

	putInt32(buf, offType, e.Type)
	be.PutUint32(buf[offHeaderKey:], e.HeaderKey)
	be.PutUint32(buf[offHighSeq:], e.HighSeq)

	if e.Type == TypeList {
		writeTable(buf, e.Index)
		be.PutUint32(buf[bs-tailParent:], e.Parent)
		be.PutUint32(buf[bs-tailExtension:], e.Extension)
		putInt32(buf, bs-tailSecType, STFile)
		putChecksum(buf, offChecksum)
		return buf
	}

	be.PutUint32(buf[offTableSize:], e.TableSize)
	be.PutUint32(buf[offFirstData:], e.FirstData)
	if e.SecType == STSoftLink {
		area := buf[offTable : bs-entryTailSize]
		clear(area)
		copy(area[:len(area)-1], stringToLatin1(e.LinkTarget))
	} else {
		writeTable(buf, e.Index)
	}
	be.PutUint32(buf[bs-tailAccess:], e.Access)
	be.PutUint32(buf[bs-tailByteSize:], e.ByteSize)

	if longNames {
		off := bs - tailLongNameArea
		clear(buf[off : off+longNameAreaBytes])
		writeBSTR(buf, off, MaxLongNameLen, e.Name)
		name := buf[off]
		coff := off + 1 + int(name)
		if inline := longNameAreaBytes - 2 - int(name); e.CommentBlock == 0 && inline >= latin1Len(e.Comment) {
			writeBSTR(buf, coff, inline, e.Comment)
		}
		writeDate(buf, bs-tailLongDate, e.Date)
		be.PutUint32(buf[bs-tailCommentBlock:], e.CommentBlock)
	} else {
		writeBSTR(buf, bs-tailComment, MaxCommentLen, e.Comment)
		writeDate(buf, bs-tailDate, e.Date)
		writeBSTR(buf, bs-tailName, MaxNameLen, e.Name)
	}

	be.PutUint32(buf[bs-tailReal:], e.Real)
	be.PutUint32(buf[bs-tailNextLink:], e.NextLink)
	be.PutUint32(buf[bs-tailNextSameHash:], e.NextSameHash)
	be.PutUint32(buf[bs-tailParent:], e.Parent)
	be.PutUint32(buf[bs-tailExtension:], e.Extension)
	putInt32(buf, bs-tailSecType, e.SecType)
	putChecksum(buf, offChecksum)
	return buf
}

// inlineCommentFits reports whether comment can share the long name area with name
func inlineCommentFits(name, comment string) bool {
	return latin1Len(name)+latin1Len(comment)+2 <= longNameAreaBytes
}

func writeTable(buf []byte, t []uint32) {
	n := TableSize(len(buf))
	for i := 0; i < n; i++ {
		var v uint32
		if i < len(t) {
			v = t[i]
		}
		be.PutUint32(buf[offTable+i*4:], v)
	}
}

// newEntryBlock returns an empty header block of the given secondary type
func newEntryBlock(blockSize int, sector uint32, secType int32) *EntryBlock {
	return &EntryBlock{
		Type:      TypeHeader,
		HeaderKey: sector,
		Index:     make([]uint32, TableSize(blockSize)),
		SecType:   secType,
	}
}

// newFileExtBlock returns an empty file extension block owned by header
func newFileExtBlock(blockSize int, sector, header uint32) *EntryBlock {
	return &EntryBlock{
		Type:      TypeList,
		HeaderKey: sector,
		Index:     make([]uint32, TableSize(blockSize)),
		Parent:    header,
		SecType:   STFile,
	}
}
