package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/upb/tenant-governance/services"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingStore simulates an unreachable distributed backend
type failingStore struct {
	calls int
}

func (s *failingStore) Increment(context.Context, string, time.Duration) (Window, error) {
	s.calls++
	return Window{}, errors.New("connection refused")
}

func (s *failingStore) Peek(context.Context, string) (Window, bool, error) {
	return Window{}, false, errors.New("connection refused")
}

func (s *failingStore) Reset(context.Context, string) error {
	return errors.New("connection refused")
}

// countingStore is a healthy backend that honours its context. onCall runs
// before each Increment so a test can cancel the caller mid-flight.
type countingStore struct {
	*MemoryStore
	mu     sync.Mutex
	calls  int
	onCall func()
}

func (s *countingStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	s.mu.Lock()
	s.calls++
	onCall := s.onCall
	s.mu.Unlock()
	if onCall != nil {
		onCall()
	}
	if err := ctx.Err(); err != nil {
		return Window{}, err
	}
	return s.MemoryStore.Increment(ctx, key, window)
}

func (s *countingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestLimiter_Boundary(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(newMemoryStore(clock.Now), Options{}, zap.NewNop())
	ctx := context.Background()
	cfg := Config{MaxRequests: 5, Window: time.Second}

	for i := 1; i <= 5; i++ {
		res, err := l.Check(ctx, "user:u1", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d should be allowed", i)
		assert.Equal(t, 5-i, res.Remaining)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := l.Check(ctx, "user:u1", cfg)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, services.IsRateLimitError(res.Err()))

	clock.Advance(time.Second)

	res, err = l.Check(ctx, "user:u1", cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 4, res.Remaining)
	assert.Equal(t, clock.Now().Add(time.Second), res.ResetAt)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Options{}, zap.NewNop())
	ctx := context.Background()
	cfg := Config{MaxRequests: 1, Window: time.Minute}

	res, _ := l.Check(ctx, "user:a", cfg)
	assert.True(t, res.Allowed)
	res, _ = l.Check(ctx, "user:a", cfg)
	assert.False(t, res.Allowed)
	res, _ = l.Check(ctx, "user:b", cfg)
	assert.True(t, res.Allowed)
}

func TestLimiter_InvalidInput(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Options{}, zap.NewNop())

	_, err := l.Check(context.Background(), "", Config{MaxRequests: 1, Window: time.Second})
	assert.True(t, services.IsValidationError(err))

	_, err = l.Check(context.Background(), "user:a", Config{MaxRequests: 0, Window: time.Second})
	assert.True(t, services.IsValidationError(err))
}

func TestLimiter_FailOpen(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{Name: "fallbacks"})
	remote := &failingStore{}

	l := NewLimiter(NewMemoryStore(), Options{Remote: remote, Fallbacks: fallbacks}, zap.New(core))
	cfg := Config{MaxRequests: 2, Window: time.Minute}

	res, err := l.Check(context.Background(), "ip:abc", cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)

	warnings := logs.FilterMessage("rate limit backend unavailable, falling back to local store")
	assert.Equal(t, 1, warnings.Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(fallbacks))

	// The local store keeps counting while the backend is down.
	_, _ = l.Check(context.Background(), "ip:abc", cfg)
	res, _ = l.Check(context.Background(), "ip:abc", cfg)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, logs.FilterMessage("rate limit backend unavailable, falling back to local store").Len())
	assert.Equal(t, float64(3), testutil.ToFloat64(fallbacks))
}

func TestLimiter_FailOpenUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 20 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	l := NewLimiter(NewMemoryStore(), Options{
		Remote:         NewRedisStore(client, "test:"),
		BackendTimeout: 30 * time.Millisecond,
	}, zap.New(core))

	res, err := l.Check(context.Background(), "user:u1", Config{MaxRequests: 5, Window: time.Minute})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, logs.FilterMessage("rate limit backend unavailable, falling back to local store").Len())
}

func TestLimiter_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	remote := &failingStore{}
	l := NewLimiter(NewMemoryStore(), Options{Remote: remote}, zap.NewNop())
	cfg := Config{MaxRequests: 100, Window: time.Minute}

	for i := 0; i < 10; i++ {
		res, err := l.Check(context.Background(), "user:u1", cfg)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	// Five consecutive failures trip the breaker; later calls skip the backend.
	assert.Equal(t, 5, remote.calls)
}

func TestLimiter_CheckPreset(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Options{}, zap.NewNop())

	res, err := l.CheckPreset(context.Background(), "email:x", "password_reset")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Limit)

	_, err = l.CheckPreset(context.Background(), "email:x", "nope")
	assert.True(t, services.IsValidationError(err))
	assert.Equal(t, "nope", services.GetErrorDetails(err)["preset"])
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Options{Remote: &failingStore{}}, zap.NewNop())
	cfg := Config{MaxRequests: 1, Window: time.Minute}
	ctx := context.Background()

	_, _ = l.Check(ctx, "user:a", cfg)
	res, _ := l.Check(ctx, "user:a", cfg)
	require.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "user:a"))

	res, _ = l.Check(ctx, "user:a", cfg)
	assert.True(t, res.Allowed)
}

func TestLimiter_Concurrent(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Options{}, zap.NewNop())
	cfg := Config{MaxRequests: 50, Window: time.Minute}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Check(context.Background(), "tenant:t1", cfg)
			if err == nil && res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestLimiter_CallerCancellationIsNotABackendFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{Name: "fallbacks"})
	remote := &countingStore{MemoryStore: NewMemoryStore()}
	l := NewLimiter(NewMemoryStore(), Options{Remote: remote, Fallbacks: fallbacks}, zap.New(core))
	cfg := Config{MaxRequests: 100, Window: time.Minute}

	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		for i := 0; i < 5; i++ {
			_, err := l.Check(ctx, "user:u1", cfg)
			require.NoError(t, err)
		}
		assert.Equal(t, 0, remote.Calls())
	})

	t.Run("cancelled during the backend call", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			ctx, cancel := context.WithCancel(context.Background())
			remote.mu.Lock()
			remote.onCall = cancel
			remote.mu.Unlock()
			_, err := l.Check(ctx, "user:u1", cfg)
			require.NoError(t, err)
			cancel()
		}
		remote.mu.Lock()
		remote.onCall = nil
		remote.mu.Unlock()
		assert.Equal(t, 5, remote.Calls())
	})

	// The breaker stays closed, so a normal caller still reaches the backend.
	res, err := l.Check(context.Background(), "user:u1", cfg)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 6, remote.Calls())
	assert.Equal(t, 99, res.Remaining)

	assert.Equal(t, 0, logs.FilterMessage("rate limit backend unavailable, falling back to local store").Len())
	assert.Equal(t, float64(0), testutil.ToFloat64(fallbacks))
}
