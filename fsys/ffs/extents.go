package ffs

import (
	lru "github.com/hashicorp/golang-lru"
)

const defaultExtentCacheSize = 1024

// extentKey names the n-th extension block (0-based) of a file
type extentKey struct {
	header uint32
	n      int
}

// extentCache remembers where file extension blocks live so random
// access into large files does not walk the chain from the header every
// time. It lives for the duration of the mount only.
type extentCache struct {
	c *lru.Cache
}

func newExtentCache(size int) (*extentCache, error) {
	if size <= 0 {
		size = defaultExtentCacheSize
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &extentCache{c: c}, nil
}

func (x *extentCache) get(header uint32, n int) (uint32, bool) {
	v, ok := x.c.Get(extentKey{header, n})
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}

func (x *extentCache) add(header uint32, n int, sector uint32) {
	x.c.Add(extentKey{header, n}, sector)
}

// nearest returns the highest cached extension index not above n
func (x *extentCache) nearest(header uint32, n int) (int, uint32, bool) {
	for i := n; i >= 0; i-- {
		if s, ok := x.get(header, i); ok {
			return i, s, true
		}
	}
	return 0, 0, false
}

// forget drops every entry of a file
func (x *extentCache) forget(header uint32) {
	for _, k := range x.c.Keys() {
		if k.(extentKey).header == header {
			x.c.Remove(k)
		}
	}
}
