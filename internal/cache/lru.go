package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// NewLRU returns a concurrency-safe LRU holding at most capacity entries.
// capacity < 1 is treated as 1.
func NewLRU[K comparable, V any](capacity int) *lru.Cache[K, V] {
	return NewLRUWithEvict[K, V](capacity, nil)
}

// NewLRUWithEvict is NewLRU with a callback for entries evicted or removed.
func NewLRUWithEvict[K comparable, V any](capacity int, onEvict func(K, V)) *lru.Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	// only a non-positive size is rejected
	c, _ := lru.NewWithEvict[K, V](capacity, onEvict)
	return c
}

// RemoveFunc drops every entry for which match returns true and reports how many went.
func RemoveFunc[K comparable, V any](c *lru.Cache[K, V], match func(K, V) bool) int {
	n := 0
	for _, k := range c.Keys() {
		v, ok := c.Peek(k)
		if ok && match(k, v) && c.Remove(k) {
			n++
		}
	}
	return n
}
