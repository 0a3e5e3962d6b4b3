package ffs

import "fmt"

// Directory cache maintenance. Every function here runs alongside the
// hash table change it mirrors, never instead of it.

// createEmptyCache writes an empty cache block for dir at sector
func (v *Volume) createEmptyCache(dir *EntryBlock, sector uint32) error {
	c := &DirCacheBlock{HeaderKey: sector, Parent: dir.HeaderKey}
	return v.writeBlock(sector, c.Build(v.blockSize))
}

// dirCacheChain returns the sectors of dir's cache blocks
func (v *Volume) dirCacheChain(dir *EntryBlock) ([]uint32, error) {
	var out []uint32
	for s := dir.Extension; s != 0; {
		if len(out) > v.chainLimit() {
			return nil, fmt.Errorf("%w: dircache chain loop", ErrIO)
		}
		c, err := v.readDirCache(s)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
		s = c.NextDirC
	}
	return out, nil
}

// readDirEntCache returns the cache records of dir in chain order
func (v *Volume) readDirEntCache(dir *EntryBlock) ([]CacheEntry, error) {
	var out []CacheEntry
	for s, n := dir.Extension, 0; s != 0; n++ {
		if n > v.chainLimit() {
			return out, fmt.Errorf("%w: dircache chain loop", ErrIO)
		}
		c, err := v.readDirCache(s)
		if err != nil {
			return out, err
		}
		out = append(out, c.Records...)
		s = c.NextDirC
	}
	return out, nil
}

// addInCache appends the record of e to the last block of dir's chain,
// growing the chain by one block when it is full.
func (v *Volume) addInCache(dir *EntryBlock, e *EntryBlock) error {
	if dir.Extension == 0 {
		v.logf("directory %d has no cache", dir.HeaderKey)
		return nil
	}
	rec := cacheEntryFor(e)

	var last *DirCacheBlock
	var lastSector uint32
	for s, n := dir.Extension, 0; s != 0; n++ {
		if n > v.chainLimit() {
			return fmt.Errorf("%w: dircache chain loop", ErrIO)
		}
		c, err := v.readDirCache(s)
		if err != nil {
			return err
		}
		last, lastSector, s = c, s, c.NextDirC
	}

	if last.fits(rec.encodedLen(), v.blockSize) {
		last.Records = append(last.Records, rec)
		return v.writeBlock(lastSector, last.Build(v.blockSize))
	}

	s, err := v.GetFreeBlock()
	if err != nil {
		return err
	}
	next := &DirCacheBlock{HeaderKey: s, Parent: dir.HeaderKey, Records: []CacheEntry{rec}}
	if err := v.writeBlock(s, next.Build(v.blockSize)); err != nil {
		return err
	}
	last.NextDirC = s
	return v.writeBlock(lastSector, last.Build(v.blockSize))
}

// findInCache returns the cache block holding the record of header
func (v *Volume) findInCache(dir *EntryBlock, header uint32) (c *DirCacheBlock, prev *DirCacheBlock, idx int, err error) {
	for s, n := dir.Extension, 0; s != 0; n++ {
		if n > v.chainLimit() {
			return nil, nil, -1, fmt.Errorf("%w: dircache chain loop", ErrIO)
		}
		cur, err := v.readDirCache(s)
		if err != nil {
			return nil, nil, -1, err
		}
		if i := cur.indexOf(header); i >= 0 {
			return cur, prev, i, nil
		}
		prev, s = cur, cur.NextDirC
	}
	return nil, nil, -1, nil
}

// updateCache rewrites the record of e in the cache of directory
// parentSector. A record that grew past the free space of its block is
// moved to the end of the chain.
func (v *Volume) updateCache(parentSector uint32, e *EntryBlock) error {
	dir, err := v.readDir(parentSector)
	if err != nil {
		return err
	}
	c, _, i, err := v.findInCache(dir, e.HeaderKey)
	if err != nil {
		return err
	}
	if c == nil {
		return v.addInCache(dir, e)
	}
	rec := cacheEntryFor(e)
	if c.fits(rec.encodedLen()-c.Records[i].encodedLen(), v.blockSize) {
		c.Records[i] = rec
		return v.writeBlock(c.HeaderKey, c.Build(v.blockSize))
	}
	c.Records = append(c.Records[:i], c.Records[i+1:]...)
	if err := v.writeBlock(c.HeaderKey, c.Build(v.blockSize)); err != nil {
		return err
	}
	return v.addInCache(dir, e)
}

// deleteFromCache removes the record of header from dir's cache. A block
// other than the first that becomes empty is unlinked and freed.
func (v *Volume) deleteFromCache(dir *EntryBlock, header uint32) error {
	c, prev, i, err := v.findInCache(dir, header)
	if err != nil {
		return err
	}
	if c == nil {
		v.logf("entry %d missing from cache of %d", header, dir.HeaderKey)
		return nil
	}
	c.Records = append(c.Records[:i], c.Records[i+1:]...)
	if len(c.Records) == 0 && prev != nil {
		prev.NextDirC = c.NextDirC
		v.SetBlockFree(c.HeaderKey)
		return v.writeBlock(prev.HeaderKey, prev.Build(v.blockSize))
	}
	return v.writeBlock(c.HeaderKey, c.Build(v.blockSize))
}
