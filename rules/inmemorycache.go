package rules

import (
	"sync"
	"time"

	"github.com/liamcoop/rulecheck/rules/expr"
)

type cacheEntry struct {
	program  *expr.Program
	cachedAt time.Time
	seq      uint64
}

// InMemoryProgramCache is a simple in-memory implementation of ProgramCache
// Thread-safe for concurrent access
type InMemoryProgramCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	seq     uint64
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryProgramCache creates a new in-memory program cache
func NewInMemoryProgramCache(config CacheConfig) *InMemoryProgramCache {
	return &InMemoryProgramCache{
		entries: make(map[string]cacheEntry),
		config:  config,
		now:     time.Now,
	}
}

func (c *InMemoryProgramCache) expired(e cacheEntry) bool {
	return c.config.TTL > 0 && c.now().Sub(e.cachedAt) > c.config.TTL
}

// Get retrieves a cached program
// Returns false if the entry is missing or expired
func (c *InMemoryProgramCache) Get(src string) (*expr.Program, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[src]
	if !ok || c.expired(e) {
		return nil, false
	}
	return e.program, true
}

// Set stores a program, evicting expired entries and then the oldest entry
// when the cache is full
func (c *InMemoryProgramCache) Set(src string, p *expr.Program) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[src]; !ok && c.config.MaxEntries > 0 && len(c.entries) >= c.config.MaxEntries {
		c.evictLocked()
	}
	c.seq++
	c.entries[src] = cacheEntry{program: p, cachedAt: c.now(), seq: c.seq}
}

func (c *InMemoryProgramCache) evictLocked() {
	var (
		oldest    string
		oldestSeq uint64
		found     bool
	)
	for k, e := range c.entries {
		if c.expired(e) {
			delete(c.entries, k)
			continue
		}
		if !found || e.seq < oldestSeq {
			oldest, oldestSeq, found = k, e.seq, true
		}
	}
	if found && len(c.entries) >= c.config.MaxEntries {
		delete(c.entries, oldest)
	}
}

// Invalidate clears the cache
func (c *InMemoryProgramCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of unexpired entries
func (c *InMemoryProgramCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, e := range c.entries {
		if !c.expired(e) {
			n++
		}
	}
	return n
}
