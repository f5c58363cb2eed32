package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
)

// ValidationQuery is the Rego rule a validation module must define
const ValidationQuery = "data.governance.allow"

// DefaultModuleCacheSize bounds the number of compiled Rego modules kept
const DefaultModuleCacheSize = 256

// moduleEntry is one compiled module
type moduleEntry struct {
	query   rego.PreparedEvalQuery
	element *list.Element // For LRU tracking
}

// ModuleCache is an LRU cache of compiled validation modules keyed by source
// digest, so policy versions that share a module compile it once.
type ModuleCache struct {
	mu      sync.Mutex
	entries map[string]*moduleEntry
	lruList *list.List
	maxSize int
	hits    uint64
	misses  uint64
}

// NewModuleCache creates a cache holding at most maxSize compiled modules
func NewModuleCache(maxSize int) *ModuleCache {
	if maxSize <= 0 {
		maxSize = DefaultModuleCacheSize
	}
	return &ModuleCache{
		entries: make(map[string]*moduleEntry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// Prepare returns the compiled query for source, compiling it on a miss
func (c *ModuleCache) Prepare(ctx context.Context, source string) (rego.PreparedEvalQuery, error) {
	key := moduleKey(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		c.lruList.MoveToFront(entry.element)
		c.hits++
		return entry.query, nil
	}
	c.misses++

	query, err := rego.New(
		rego.Query(ValidationQuery),
		rego.Module("validation.rego", source),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("failed to compile validation module: %w", err)
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}
	c.entries[key] = &moduleEntry{
		query:   query,
		element: c.lruList.PushFront(key),
	}
	return query, nil
}

// Clear removes all entries from the cache
func (c *ModuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*moduleEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *ModuleCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
	}
	return stats
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"max_size"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *ModuleCache) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	c.lruList.Remove(back)
	delete(c.entries, back.Value.(string))
}

func moduleKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
