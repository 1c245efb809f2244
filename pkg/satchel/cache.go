package satchel

import (
	"math"
	"weak"
)

// weakCache indexes live rows by a comparable key without keeping them
// alive. Rows with pending changes are owned by their entity's dirty set;
// everything else is collectible once the application drops it. Dead
// entries are purged lazily on access.
type weakCache struct {
	m map[any]weak.Pointer[Row]
}

func newWeakCache() *weakCache {
	return &weakCache{m: make(map[any]weak.Pointer[Row])}
}

// cacheKey normalizes a lookup value into a comparable map key. Bytes
// key as text, and integral floats key as integers: the engine's NUMERIC
// affinity hands 5.0 back as 5, and both must find the same row.
func cacheKey(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float64:
		if x == math.Trunc(x) {
			return int64(x)
		}
	}
	return v
}

func (c *weakCache) get(key any) *Row {
	k := cacheKey(key)
	p, ok := c.m[k]
	if !ok {
		return nil
	}
	r := p.Value()
	if r == nil {
		delete(c.m, k)
	}
	return r
}

func (c *weakCache) put(key any, r *Row) {
	c.m[cacheKey(key)] = weak.Make(r)
}

func (c *weakCache) remove(key any) {
	delete(c.m, cacheKey(key))
}

// sweep drops entries whose rows have been collected.
func (c *weakCache) sweep() {
	for k, p := range c.m {
		if p.Value() == nil {
			delete(c.m, k)
		}
	}
}
