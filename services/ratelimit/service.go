package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/services"
)

// DefaultBackendTimeout bounds every call to the distributed store
const DefaultBackendTimeout = 50 * time.Millisecond

// Config is a limit of MaxRequests per Window
type Config struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window"`
}

// Result is the outcome of a rate limit check
type Result struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Err returns a rate_limit error when the check was denied
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return services.NewRateLimited(r.ResetAt)
}

// Options configures a Limiter
type Options struct {
	// Remote is the optional distributed store. When nil only the local store is used.
	Remote         Store
	BackendTimeout time.Duration
	Presets        map[string]Config
	Fallbacks      prometheus.Counter
	Decisions      *prometheus.CounterVec
}

// Limiter implements fixed-window rate limiting. Each window admits up to
// MaxRequests calls; a burst straddling a window boundary can see up to twice that.
type Limiter struct {
	local     *MemoryStore
	remote    Store
	breaker   *gobreaker.CircuitBreaker
	timeout   time.Duration
	presets   map[string]Config
	fallbacks prometheus.Counter
	decisions *prometheus.CounterVec
	logger    *zap.Logger
}

// NewLimiter creates a Limiter that prefers opts.Remote and falls back to local
func NewLimiter(local *MemoryStore, opts Options, logger *zap.Logger) *Limiter {
	timeout := opts.BackendTimeout
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}

	l := &Limiter{
		local:     local,
		remote:    opts.Remote,
		timeout:   timeout,
		presets:   opts.Presets,
		fallbacks: opts.Fallbacks,
		decisions: opts.Decisions,
		logger:    logger,
	}
	if l.presets == nil {
		l.presets = DefaultPresets()
	}
	if l.remote != nil {
		l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "ratelimit-backend",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A caller that went away says nothing about backend health.
			IsSuccessful: func(err error) bool {
				var gone callerGone
				return err == nil || errors.As(err, &gone)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("rate limit backend breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}
	return l
}

// DefaultPresets returns the built-in named limits
func DefaultPresets() map[string]Config {
	return map[string]Config{
		"api":            {MaxRequests: 100, Window: time.Minute},
		"auth":           {MaxRequests: 5, Window: 15 * time.Minute},
		"password_reset": {MaxRequests: 3, Window: time.Hour},
		"evaluate":       {MaxRequests: 1000, Window: time.Minute},
	}
}

// Check counts one request for identifier and reports whether it is admitted.
// Backend failures never surface here; the local store answers instead.
func (l *Limiter) Check(ctx context.Context, identifier string, cfg Config) (Result, error) {
	if identifier == "" {
		return Result{}, services.NewValidationError("identifier", "identifier is required")
	}
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return Result{}, services.NewValidationError("config", "max_requests and window must be positive")
	}

	w := l.increment(ctx, identifier, cfg.Window)

	remaining := int64(cfg.MaxRequests) - w.Count
	if remaining < 0 {
		remaining = 0
	}
	res := Result{
		Allowed:   w.Count <= int64(cfg.MaxRequests),
		Limit:     cfg.MaxRequests,
		Remaining: int(remaining),
		ResetAt:   w.ResetAt,
	}
	if l.decisions != nil {
		l.decisions.WithLabelValues(strconv.FormatBool(res.Allowed)).Inc()
	}
	return res, nil
}

// CheckPreset runs Check with a named configuration
func (l *Limiter) CheckPreset(ctx context.Context, identifier, preset string) (Result, error) {
	cfg, ok := l.presets[preset]
	if !ok {
		return Result{}, services.NewDomainError(services.ErrorTypeValidation, "unknown rate limit preset", nil).
			WithDetail("preset", preset)
	}
	return l.Check(ctx, identifier, cfg)
}

// Preset returns a named configuration
func (l *Limiter) Preset(name string) (Config, bool) {
	cfg, ok := l.presets[name]
	return cfg, ok
}

// Reset clears identifier in both stores
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	_ = l.local.Reset(ctx, identifier)
	if l.remote == nil {
		return nil
	}
	_, err := l.callRemote(ctx, func(cctx context.Context) (interface{}, error) {
		return nil, l.remote.Reset(cctx, identifier)
	})
	if err != nil {
		l.logger.Warn("failed to reset identifier on rate limit backend",
			zap.String("identifier", identifier),
			zap.Error(err))
	}
	return nil
}

// Sweep purges expired local windows
func (l *Limiter) Sweep(now time.Time, grace time.Duration) int {
	return l.local.Sweep(now, grace)
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) Window {
	if l.remote != nil {
		out, err := l.callRemote(ctx, func(cctx context.Context) (interface{}, error) {
			return l.remote.Increment(cctx, key, window)
		})
		if err == nil {
			return out.(Window)
		}
		// A departed caller is not a backend outage.
		if ctx.Err() == nil {
			l.logger.Warn("rate limit backend unavailable, falling back to local store",
				zap.String("identifier", key),
				zap.Error(err))
			if l.fallbacks != nil {
				l.fallbacks.Inc()
			}
		}
	}

	w, _ := l.local.Increment(ctx, key, window)
	return w
}

// callerGone marks a remote failure caused by the caller's own context
type callerGone struct {
	err error
}

func (e callerGone) Error() string { return e.err.Error() }

func (e callerGone) Unwrap() error { return e.err }

// callRemote runs fn against the distributed store under the breaker and
// the backend timeout. Errors caused by the caller's context are returned
// as is and are not counted against the backend.
func (l *Limiter) callRemote(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := l.breaker.Execute(func() (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		out, err := fn(cctx)
		if err != nil && ctx.Err() != nil {
			return nil, callerGone{err: ctx.Err()}
		}
		return out, err
	})
	if err != nil {
		var gone callerGone
		if errors.As(err, &gone) {
			return nil, gone.err
		}
		return nil, services.NewBackendUnavailable(err)
	}
	return out, nil
}
