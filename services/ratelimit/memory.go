package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 64

type shard struct {
	mu      sync.Mutex
	windows map[string]Window
}

// MemoryStore is an in-process Store. Keys are spread over independently
// locked shards so unrelated identifiers do not contend.
type MemoryStore struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	s := &MemoryStore{now: now}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]Window)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

// Increment implements Store
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Window, error) {
	sh := s.shardFor(key)
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = Window{ResetAt: now.Add(window)}
	}
	w.Count++
	sh.windows[key] = w
	return w, nil
}

// Peek implements Store. Elapsed windows are reported as absent.
func (s *MemoryStore) Peek(_ context.Context, key string) (Window, bool, error) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || !s.now().Before(w.ResetAt) {
		return Window{}, false, nil
	}
	return w, true, nil
}

// Reset implements Store
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	sh := s.shardFor(key)

	sh.mu.Lock()
	delete(sh.windows, key)
	sh.mu.Unlock()
	return nil
}

// Sweep removes windows that ended more than grace before now.
// It returns the number of entries removed.
func (s *MemoryStore) Sweep(now time.Time, grace time.Duration) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if now.After(w.ResetAt.Add(grace)) {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked identifiers
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}
