package ratelimit

import (
	"context"
	"time"
)

// Window is the state of one fixed window for an identifier
type Window struct {
	Count   int64
	ResetAt time.Time
}

// Store keeps fixed-window counters. Increment must open a new window when
// none exists or the current one has elapsed, then add one, as a single
// atomic step per key.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)
	Peek(ctx context.Context, key string) (Window, bool, error)
	Reset(ctx context.Context, key string) error
}
