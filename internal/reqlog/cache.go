package reqlog

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Cache holds request logs keyed by request id. Entries are ordered by last
// touch; the least recently touched entry is evicted when the cache grows past
// its capacity, and entries idle longer than the TTL are expired by
// EvictExpired or lazily on access. It is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	order *list.List // front = most recently touched
	items map[string]*record
	now   func() time.Time
}

type record struct {
	id       string
	lines    []Entry
	deadline time.Time
	elem     *list.Element
}

// NewCache returns a cache holding at most max request logs for ttl each.
func NewCache(max int, ttl time.Duration) *Cache {
	if max <= 0 {
		max = 200
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		max:   max,
		ttl:   ttl,
		order: list.New(),
		items: make(map[string]*record),
		now:   time.Now,
	}
}

// Insert creates the entry for id if it does not exist and touches it.
// It reports whether a new entry was created.
func (c *Cache) Insert(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, created := c.openLocked(id)
	return created
}

// Touch promotes id to most recently used and refreshes its deadline.
func (c *Cache) Touch(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.liveLocked(id)
	if !ok {
		return false
	}
	c.touchLocked(rec)
	return true
}

// Get returns a copy of the lines stored for id, touching the entry.
func (c *Cache) Get(id string) ([]Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.liveLocked(id)
	if !ok {
		return nil, false
	}
	c.touchLocked(rec)
	return append([]Entry(nil), rec.lines...), true
}

// Remove drops id from the cache.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.items[id]; ok {
		c.removeLocked(rec)
	}
}

// Len returns the number of cached request logs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns ids from most to least recently touched.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*record).id)
	}
	return keys
}

// EvictExpired removes every entry whose deadline has passed and returns how
// many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for e := c.order.Back(); e != nil; {
		prev := e.Prev()
		rec := e.Value.(*record)
		if !now.Before(rec.deadline) {
			c.removeLocked(rec)
			n++
		}
		e = prev
	}
	return n
}

// Run sweeps expired entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.EvictExpired()
		}
	}
}

// open returns the record for id, creating it when missing.
func (c *Cache) open(id string) *record {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, _ := c.openLocked(id)
	return rec
}

// append adds a line to rec. A record evicted while its request is still
// running is put back so late lines are not lost, unless a newer record now
// owns the id; then the line stays with rec only.
func (c *Cache) append(rec *record, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec.lines = append(rec.lines, e)
	cur, ok := c.items[rec.id]
	switch {
	case !ok:
		c.items[rec.id] = rec
		rec.elem = c.order.PushFront(rec)
	case cur != rec:
		return
	}
	c.touchLocked(rec)
	c.evictOverflowLocked()
}

func (c *Cache) snapshot(rec *record) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), rec.lines...)
}

func (c *Cache) openLocked(id string) (*record, bool) {
	if rec, ok := c.liveLocked(id); ok {
		c.touchLocked(rec)
		return rec, false
	}
	rec := &record{id: id}
	c.items[id] = rec
	rec.elem = c.order.PushFront(rec)
	c.touchLocked(rec)
	c.evictOverflowLocked()
	return rec, true
}

// liveLocked looks id up, expiring it first when its deadline passed.
func (c *Cache) liveLocked(id string) (*record, bool) {
	rec, ok := c.items[id]
	if !ok {
		return nil, false
	}
	if !c.now().Before(rec.deadline) {
		c.removeLocked(rec)
		return nil, false
	}
	return rec, true
}

func (c *Cache) touchLocked(rec *record) {
	rec.deadline = c.now().Add(c.ttl)
	if rec.elem != nil {
		c.order.MoveToFront(rec.elem)
	}
}

func (c *Cache) evictOverflowLocked() {
	for len(c.items) > c.max {
		oldest := c.order.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest.Value.(*record))
	}
}

func (c *Cache) removeLocked(rec *record) {
	if rec.elem != nil {
		c.order.Remove(rec.elem)
		rec.elem = nil
	}
	rec.deadline = time.Time{}
	delete(c.items, rec.id)
}
