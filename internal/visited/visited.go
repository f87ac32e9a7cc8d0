// Package visited memoizes resource classifications so repeated traversals
// do not probe the same path twice.
//
// A Cache lives in ordinary process memory. Goroutines of one worker process
// contend on its lock; each worker process builds its own cache and nothing is
// shared across processes.
package visited

import (
	"hash/fnv"
	"sync"
)

// Class is the classification recorded for an identifier.
type Class uint8

const (
	// NotWorthy marks a path that is not worth probing again.
	NotWorthy Class = iota + 1
	// SCSI marks a device backed by a SCSI target.
	SCSI
	// NotSCSI marks a device confirmed not to be a SCSI target.
	NotSCSI
	// Hung marks a path whose open exceeded the try-open timeout.
	Hung
)

func (c Class) String() string {
	switch c {
	case NotWorthy:
		return "not-worthy"
	case SCSI:
		return "scsi"
	case NotSCSI:
		return "not-scsi"
	case Hung:
		return "hung"
	default:
		return "unknown"
	}
}

// DefaultBuckets is the bucket count used when New is given zero.
const DefaultBuckets = 251

type entry struct {
	id    string
	class Class
	next  *entry
}

// Cache is a fixed-size chained hash table guarded by one mutex.
type Cache struct {
	mu      sync.Mutex
	buckets []*entry
	size    int
}

// New returns a cache with the given bucket count.
func New(buckets int) *Cache {
	if buckets <= 0 {
		buckets = DefaultBuckets
	}
	return &Cache{buckets: make([]*entry, buckets)}
}

func (c *Cache) bucket(id string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(c.buckets)))
}

// Lookup returns the classification recorded for id.
func (c *Cache) Lookup(id string) (Class, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.buckets[c.bucket(id)]; e != nil; e = e.next {
		if e.id == id {
			return e.class, true
		}
	}
	return 0, false
}

// Insert records class for id. A second insert for the same id overwrites the
// first.
func (c *Cache) Insert(id string, class Class) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.bucket(id)
	for e := c.buckets[idx]; e != nil; e = e.next {
		if e.id == id {
			e.class = class
			return
		}
	}
	c.buckets[idx] = &entry{id: id, class: class, next: c.buckets[idx]}
	c.size++
}

// Len returns the number of distinct identifiers.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
