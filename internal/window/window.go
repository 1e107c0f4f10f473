// Package window holds the sliding-window data structure for one reply
// thread and the slice builder that evaluates viewer requests against it.
//
// The package is pure: no I/O, no locking. Ownership is single-threaded;
// the feed actor is the only mutator.
package window

import (
	"sort"

	"replyfeed/pkg/replyfeed"
)

// Cache is the loaded, contiguous subrange of one thread's full message
// sequence, plus bookkeeping about how much of the sequence is not loaded.
//
// Invariants: ids is strictly decreasing and duplicate-free; whenever both
// skip counters are known, total = skipOlder + len(ids) + skipNewer.
type Cache struct {
	// ids holds loaded message ids sorted descending, newest first.
	ids []int64
	// skipOlder counts sequence items older than ids[len-1] not loaded.
	// Known(0) means the earliest message has been reached.
	skipOlder replyfeed.Count
	// skipNewer counts sequence items newer than ids[0] not loaded.
	// Known(0) means the thread head has been reached.
	skipNewer replyfeed.Count
	// total is the best current estimate of the full sequence length.
	total replyfeed.Count
}

// NewCache returns an empty, all-unknown cache.
func NewCache() *Cache {
	return &Cache{}
}

// Len returns the number of loaded ids.
func (c *Cache) Len() int {
	return len(c.ids)
}

// Empty reports whether no ids are loaded.
func (c *Cache) Empty() bool {
	return len(c.ids) == 0
}

// First returns the newest loaded id. Zero when empty.
func (c *Cache) First() int64 {
	if len(c.ids) == 0 {
		return 0
	}
	return c.ids[0]
}

// Last returns the oldest loaded id. Zero when empty.
func (c *Cache) Last() int64 {
	if len(c.ids) == 0 {
		return 0
	}
	return c.ids[len(c.ids)-1]
}

// IDs returns a copy of the loaded ids, descending.
func (c *Cache) IDs() []int64 {
	return append([]int64(nil), c.ids...)
}

// SkipOlder returns the older-side skip counter.
func (c *Cache) SkipOlder() replyfeed.Count {
	return c.skipOlder
}

// SkipNewer returns the newer-side skip counter.
func (c *Cache) SkipNewer() replyfeed.Count {
	return c.skipNewer
}

// TotalCount returns the current full-length estimate.
func (c *Cache) TotalCount() replyfeed.Count {
	return c.total
}

// SetTotalCount overrides the full-length estimate, typically from a fetch
// response hint.
func (c *Cache) SetTotalCount(total replyfeed.Count) {
	c.total = total
}

// indexOf returns the position of the first id not newer than target, which
// is the insertion point in descending order.
func (c *Cache) indexOf(target int64) int {
	return sort.Search(len(c.ids), func(i int) bool {
		return c.ids[i] <= target
	})
}

// Contains reports whether id is loaded.
func (c *Cache) Contains(id int64) bool {
	i := c.indexOf(id)
	return i < len(c.ids) && c.ids[i] == id
}

// Insert adds id at its sorted position. It reports whether the cache
// changed; inserting a present id is a no-op.
func (c *Cache) Insert(id int64) bool {
	i := c.indexOf(id)
	if i < len(c.ids) && c.ids[i] == id {
		return false
	}
	c.ids = append(c.ids, 0)
	copy(c.ids[i+1:], c.ids[i:])
	c.ids[i] = id
	c.recountAfter(+1)
	return true
}

// Remove erases id. It reports whether the cache changed; removing an
// absent id is a no-op.
func (c *Cache) Remove(id int64) bool {
	i := c.indexOf(id)
	if i == len(c.ids) || c.ids[i] != id {
		return false
	}
	c.ids = append(c.ids[:i], c.ids[i+1:]...)
	c.recountAfter(-1)
	return true
}

// recountAfter refreshes the total after one insert or remove: derived from
// the skip counters when both are known, otherwise shifted by delta, floored
// at zero, when a concrete estimate exists.
func (c *Cache) recountAfter(delta int) {
	olderN, olderKnown := c.skipOlder.Get()
	newerN, newerKnown := c.skipNewer.Get()
	if olderKnown && newerKnown {
		c.total = replyfeed.Known(olderN + len(c.ids) + newerN)
		return
	}
	if known, ok := c.total.Get(); ok {
		if delta < 0 && known == 0 {
			return
		}
		c.total = replyfeed.Known(known + delta)
	}
}

// Reset discards the loaded window and installs new boundary knowledge.
// Used when a seek response replaces the window wholesale.
func (c *Cache) Reset(skipOlder, skipNewer replyfeed.Count) {
	c.ids = c.ids[:0]
	c.skipOlder = skipOlder
	c.skipNewer = skipNewer
}

// CollapseEmpty records that the thread is known to be empty.
func (c *Cache) CollapseEmpty() {
	c.ids = c.ids[:0]
	c.skipOlder = replyfeed.Known(0)
	c.skipNewer = replyfeed.Known(0)
	c.total = replyfeed.Known(0)
}

// MarkOlderBoundary records that the earliest message has been reached,
// deriving the total when the newer boundary is also known.
func (c *Cache) MarkOlderBoundary() {
	c.skipOlder = replyfeed.Known(0)
	if c.skipNewer.Is(0) {
		c.total = replyfeed.Known(len(c.ids))
	}
}

// MarkNewerBoundary records that the thread head has been reached,
// deriving the total when the older boundary is also known.
func (c *Cache) MarkNewerBoundary() {
	c.skipNewer = replyfeed.Known(0)
	if c.skipOlder.Is(0) {
		c.total = replyfeed.Known(len(c.ids))
	}
}

// Merge ingests a fetched batch of ids, given descending. When the batch's
// newest id is newer than the window's newest, the batch lands at the head
// and the previous window is appended after it; otherwise the batch is
// appended at the tail. Ids already present are dropped, so overlapping
// fetches are idempotent. Skip counters and total are not touched; the
// caller owns boundary bookkeeping for fetch merges.
func (c *Cache) Merge(batch []int64) {
	fresh := make([]int64, 0, len(batch))
	for _, id := range batch {
		if !c.Contains(id) {
			fresh = append(fresh, id)
		}
	}
	if len(fresh) == 0 {
		return
	}
	if len(c.ids) == 0 || fresh[0] > c.ids[0] {
		c.ids = append(fresh, c.ids...)
		return
	}
	c.ids = append(c.ids, fresh...)
}
