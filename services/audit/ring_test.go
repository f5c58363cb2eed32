package audit

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/tenant-governance/models"
)

func TestRingBuffer_EvictsOldestFirst(t *testing.T) {
	evicted := prometheus.NewCounter(prometheus.CounterOpts{Name: "evicted"})
	ring := NewRingBuffer(3, evicted)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, ring.Append(ctx, entry(fmt.Sprintf("a%d", i), "t1")))
	}

	assert.Equal(t, 3, ring.Len())
	assert.Equal(t, uint64(2), ring.Evicted())
	assert.Equal(t, float64(2), testutil.ToFloat64(evicted))

	recent := ring.Recent(10)
	require.Len(t, recent, 3)
	assert.Equal(t, "a5", recent[0].Action)
	assert.Equal(t, "a3", recent[2].Action)

	assert.Len(t, ring.Recent(2), 2)
}

func TestRingBuffer_Query(t *testing.T) {
	ring := NewRingBuffer(10, nil)
	ctx := context.Background()

	_ = ring.Append(ctx, entry("read", "t1"))
	_ = ring.Append(ctx, entry("write", "t2"))
	blocked := entry("write", "t1")
	blocked.Result = models.AuditResultBlocked
	blocked.RequestID = "req-9"
	_ = ring.Append(ctx, blocked)

	assert.Len(t, ring.Query(Filter{TenantID: "t1"}), 2)
	assert.Len(t, ring.Query(Filter{Action: "write"}), 2)
	assert.Len(t, ring.Query(Filter{Result: models.AuditResultBlocked}), 1)
	assert.Len(t, ring.Query(Filter{RequestID: "req-9"}), 1)
	assert.Len(t, ring.Query(Filter{TenantID: "t3"}), 0)
}

func TestRingBuffer_EntriesAreCopies(t *testing.T) {
	ring := NewRingBuffer(10, nil)
	e := entry("read", "t1")
	e.Metadata = map[string]interface{}{"k": "v"}

	_ = ring.Append(context.Background(), e)
	e.Metadata["k"] = "changed"

	got := ring.Recent(1)[0]
	assert.Equal(t, "v", got.Metadata["k"])

	got.Metadata["k"] = "mutated"
	assert.Equal(t, "v", ring.Recent(1)[0].Metadata["k"])
}

func TestRingBuffer_Concurrent(t *testing.T) {
	ring := NewRingBuffer(100, nil)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = ring.Append(context.Background(), entry("a", "t1"))
				_ = ring.Recent(5)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, ring.Len())
	assert.Equal(t, uint64(700), ring.Evicted())
}
