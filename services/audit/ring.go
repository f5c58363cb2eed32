package audit

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/upb/tenant-governance/models"
)

// DefaultRingCapacity is the number of entries kept in memory
const DefaultRingCapacity = 10000

// RingBuffer is a bounded in-memory sink. When full, the oldest entry is evicted.
type RingBuffer struct {
	mu             sync.RWMutex
	entries        []models.AuditEntry
	head           int // index of the oldest entry
	size           int
	evicted        uint64
	evictedCounter prometheus.Counter
}

// NewRingBuffer creates a ring holding at most capacity entries
func NewRingBuffer(capacity int, evictedCounter prometheus.Counter) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &RingBuffer{
		entries:        make([]models.AuditEntry, capacity),
		evictedCounter: evictedCounter,
	}
}

// Append implements Sink. It never fails.
func (r *RingBuffer) Append(_ context.Context, entry models.AuditEntry) error {
	entry.Metadata = cloneMetadata(entry.Metadata)

	r.mu.Lock()
	defer r.mu.Unlock()

	capacity := len(r.entries)
	if r.size < capacity {
		r.entries[(r.head+r.size)%capacity] = entry
		r.size++
		return nil
	}

	r.entries[r.head] = entry
	r.head = (r.head + 1) % capacity
	r.evicted++
	if r.evictedCounter != nil {
		r.evictedCounter.Inc()
	}
	return nil
}

// Len returns the number of entries held
func (r *RingBuffer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Evicted returns how many entries have been pushed out
func (r *RingBuffer) Evicted() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evicted
}

// Recent returns up to n entries, newest first
func (r *RingBuffer) Recent(n int) []models.AuditEntry {
	return r.Query(Filter{Limit: n})
}

// Query returns matching entries, newest first
func (r *RingBuffer) Query(f Filter) []models.AuditEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capacity := len(r.entries)
	out := make([]models.AuditEntry, 0)
	for i := r.size - 1; i >= 0; i-- {
		e := r.entries[(r.head+i)%capacity]
		if !f.matches(&e) {
			continue
		}
		e.Metadata = cloneMetadata(e.Metadata)
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}
