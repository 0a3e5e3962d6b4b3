package ffs

import (
	"fmt"
)

// CacheEntry is one packed record of a directory cache block
type CacheEntry struct {
	Header  uint32
	Size    uint32
	Protect uint32
	Owner   uint32
	Date    Date
	Type    int32
	Name    string
	Comment string
}

// Record layout: header, size, protect, owner (4 bytes each), days, mins,
// ticks (2 bytes each), type, name length, name, comment length, comment,
// padded so the next record starts on an even offset.
const cacheRecordFixed = 24

// encodedLen returns the number of bytes the record occupies
func (c *CacheEntry) encodedLen() int {
	n := cacheRecordFixed + 1 + latin1Len(c.Name) + 1 + latin1Len(c.Comment)
	if n%2 != 0 {
		n++
	}
	return n
}

func (c *CacheEntry) put(buf []byte) int {
	be.PutUint32(buf[0:], c.Header)
	be.PutUint32(buf[4:], c.Size)
	be.PutUint32(buf[8:], c.Protect)
	be.PutUint32(buf[12:], c.Owner)
	be.PutUint16(buf[16:], uint16(c.Date.Days))
	be.PutUint16(buf[18:], uint16(c.Date.Mins))
	be.PutUint16(buf[20:], uint16(c.Date.Ticks))
	buf[22] = byte(int8(c.Type))
	name := stringToLatin1(c.Name)
	comment := stringToLatin1(c.Comment)
	buf[23] = byte(len(name))
	p := cacheRecordFixed
	p += copy(buf[p:], name)
	buf[p] = byte(len(comment))
	p++
	p += copy(buf[p:], comment)
	if p%2 != 0 {
		buf[p] = 0
		p++
	}
	return p
}

func getCacheEntry(buf []byte) (CacheEntry, int, error) {
	if len(buf) < cacheRecordFixed+2 {
		return CacheEntry{}, 0, fmt.Errorf("%w: truncated cache record", ErrIO)
	}
	c := CacheEntry{
		Header:  be.Uint32(buf[0:]),
		Size:    be.Uint32(buf[4:]),
		Protect: be.Uint32(buf[8:]),
		Owner:   be.Uint32(buf[12:]),
		Date: Date{
			Days:  uint32(be.Uint16(buf[16:])),
			Mins:  uint32(be.Uint16(buf[18:])),
			Ticks: uint32(be.Uint16(buf[20:])),
		},
		Type: int32(int8(buf[22])),
	}
	p := cacheRecordFixed
	nl := int(buf[23])
	if p+nl+1 > len(buf) {
		return CacheEntry{}, 0, fmt.Errorf("%w: truncated cache record", ErrIO)
	}
	c.Name = latin1ToString(buf[p : p+nl])
	p += nl
	cl := int(buf[p])
	p++
	if p+cl > len(buf) {
		return CacheEntry{}, 0, fmt.Errorf("%w: truncated cache record", ErrIO)
	}
	c.Comment = latin1ToString(buf[p : p+cl])
	p += cl
	if p%2 != 0 {
		p++
	}
	return c, p, nil
}

// DirCacheBlock is one node of a directory's cache chain
type DirCacheBlock struct {
	HeaderKey uint32
	Parent    uint32
	NextDirC  uint32
	Records   []CacheEntry
}

// recordArea returns the record capacity of a cache block (488 for 512 byte blocks)
func recordArea(blockSize int) int { return blockSize - entryHeaderSize }

// ParseDirCacheBlock decodes and validates a directory cache block
func ParseDirCacheBlock(buf []byte) (*DirCacheBlock, error) {
	if t := getInt32(buf, offType); t != TypeDirCache {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockType, t)
	}
	if err := verifyChecksum(buf, offChecksum); err != nil {
		return nil, err
	}
	d := &DirCacheBlock{
		HeaderKey: be.Uint32(buf[offHeaderKey:]),
		Parent:    be.Uint32(buf[offHighSeq:]),
		NextDirC:  be.Uint32(buf[offFirstData:]),
	}
	n := int(be.Uint32(buf[offTableSize:]))
	area := buf[offTable:]
	p := 0
	for i := 0; i < n; i++ {
		c, l, err := getCacheEntry(area[p:])
		if err != nil {
			return nil, err
		}
		d.Records = append(d.Records, c)
		p += l
	}
	return d, nil
}

// used returns the number of record bytes in use
func (d *DirCacheBlock) used() int {
	n := 0
	for i := range d.Records {
		n += d.Records[i].encodedLen()
	}
	return n
}

// fits reports whether extra more bytes can be packed into the block
func (d *DirCacheBlock) fits(extra, blockSize int) bool {
	return d.used()+extra <= recordArea(blockSize)
}

// Build packs the records into a block. Callers check fits first.
func (d *DirCacheBlock) Build(blockSize int) []byte {
	buf := make([]byte, blockSize)
	putInt32(buf, offType, TypeDirCache)
	be.PutUint32(buf[offHeaderKey:], d.HeaderKey)
	be.PutUint32(buf[offHighSeq:], d.Parent)
	be.PutUint32(buf[offTableSize:], uint32(len(d.Records)))
	be.PutUint32(buf[offFirstData:], d.NextDirC)
	p := offTable
	for i := range d.Records {
		p += d.Records[i].put(buf[p:])
	}
	putChecksum(buf, offChecksum)
	return buf
}

// indexOf returns the position of the record for header, or -1
func (d *DirCacheBlock) indexOf(header uint32) int {
	for i := range d.Records {
		if d.Records[i].Header == header {
			return i
		}
	}
	return -1
}

// cacheEntryFor builds the cache record describing an entry block
func cacheEntryFor(e *EntryBlock) CacheEntry {
	c := CacheEntry{
		Header:  e.HeaderKey,
		Protect: e.Access,
		Date:    e.Date,
		Type:    e.SecType,
		Name:    e.Name,
		Comment: e.Comment,
	}
	if e.SecType == STFile {
		c.Size = e.ByteSize
	}
	return c
}
