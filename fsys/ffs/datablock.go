package ffs

import (
	"bytes"
	"fmt"
)

// OFSDataBlock is an OFS data block: a 24 byte header followed by payload.
// FFS data blocks are raw payload and have no decoded form.
type OFSDataBlock struct {
	HeaderKey uint32 // owning file header
	SeqNum    uint32 // 1-based ordinal within the file
	DataSize  uint32
	NextData  uint32
	Data      []byte
}

// ParseOFSDataBlock decodes and validates an OFS data block
func ParseOFSDataBlock(buf []byte) (*OFSDataBlock, error) {
	if t := getInt32(buf, offType); t != TypeData {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockType, t)
	}
	if err := verifyChecksum(buf, offChecksum); err != nil {
		return nil, err
	}
	d := &OFSDataBlock{
		HeaderKey: be.Uint32(buf[offHeaderKey:]),
		SeqNum:    be.Uint32(buf[offHighSeq:]),
		DataSize:  be.Uint32(buf[offTableSize:]),
		NextData:  be.Uint32(buf[offFirstData:]),
		Data:      bytes.Clone(buf[ofsHeaderSize:]),
	}
	if int(d.DataSize) > len(d.Data) {
		return nil, fmt.Errorf("%w: data size %d exceeds block", ErrIO, d.DataSize)
	}
	return d, nil
}

// Build encodes the data block
func (d *OFSDataBlock) Build(blockSize int) []byte {
	buf := make([]byte, blockSize)
	putInt32(buf, offType, TypeData)
	be.PutUint32(buf[offHeaderKey:], d.HeaderKey)
	be.PutUint32(buf[offHighSeq:], d.SeqNum)
	be.PutUint32(buf[offTableSize:], d.DataSize)
	be.PutUint32(buf[offFirstData:], d.NextData)
	copy(buf[ofsHeaderSize:], d.Data)
	putChecksum(buf, offChecksum)
	return buf
}

// CommentBlock stores a comment that does not fit in a long name entry
type CommentBlock struct {
	HeaderKey uint32 // own sector
	OwnKey    uint32 // entry the comment belongs to
	Comment   string
}

// ParseCommentBlock decodes a long name comment block
func ParseCommentBlock(buf []byte) (*CommentBlock, error) {
	if t := getInt32(buf, offType); t != TypeComment {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockType, t)
	}
	if err := verifyChecksum(buf, offChecksum); err != nil {
		return nil, err
	}
	return &CommentBlock{
		HeaderKey: be.Uint32(buf[offHeaderKey:]),
		OwnKey:    be.Uint32(buf[offHighSeq:]),
		Comment:   readBSTR(buf, offTable, MaxLongCommentLen),
	}, nil
}

// Build encodes the comment block
func (c *CommentBlock) Build(blockSize int) []byte {
	buf := make([]byte, blockSize)
	putInt32(buf, offType, TypeComment)
	be.PutUint32(buf[offHeaderKey:], c.HeaderKey)
	be.PutUint32(buf[offHighSeq:], c.OwnKey)
	writeBSTR(buf, offTable, MaxLongCommentLen, c.Comment)
	putChecksum(buf, offChecksum)
	return buf
}

// BootBlock is the first 1024 bytes of a partition
type BootBlock struct {
	DosType   DosType
	Checksum  uint32
	RootBlock uint32
	Code      []byte // everything after the 12 byte header
}

// ParseBootBlock decodes a boot block. Only the DOS signature is
// checked; the checksum matters only for bootable disks.
func ParseBootBlock(buf []byte) (*BootBlock, error) {
	if len(buf) < 12 {
		return nil, fmt.Errorf("%w: boot block too short", ErrIO)
	}
	b := &BootBlock{
		DosType:   DosType(be.Uint32(buf[0:4])),
		Checksum:  be.Uint32(buf[4:8]),
		RootBlock: be.Uint32(buf[8:12]),
		Code:      bytes.Clone(buf[12:]),
	}
	if !b.DosType.IsDOS() {
		return nil, fmt.Errorf("%w: signature %08x", ErrNotDOS, uint32(b.DosType))
	}
	return b, nil
}

// Bootable reports whether the stored checksum matches the content
func (b *BootBlock) Bootable() bool {
	return b.Checksum != 0 && b.Checksum == BootChecksum(b.build(false))
}

// Build encodes the boot block into bootBlockSize bytes. The checksum is
// only computed when boot code is present.
func (b *BootBlock) Build() []byte {
	return b.build(len(bytes.Trim(b.Code, "\x00")) > 0)
}

func (b *BootBlock) build(sum bool) []byte {
	buf := make([]byte, bootBlockSize)
	be.PutUint32(buf[0:], uint32(b.DosType))
	be.PutUint32(buf[8:], b.RootBlock)
	copy(buf[12:], b.Code)
	if sum {
		be.PutUint32(buf[4:], BootChecksum(buf))
	} else {
		be.PutUint32(buf[4:], b.Checksum)
	}
	return buf
}
