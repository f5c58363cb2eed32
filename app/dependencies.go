package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/upb/tenant-governance/config"
	"github.com/upb/tenant-governance/handlers"
	"github.com/upb/tenant-governance/internal/observability"
	"github.com/upb/tenant-governance/middleware"
	"github.com/upb/tenant-governance/repositories/postgres"
	"github.com/upb/tenant-governance/services/audit"
	"github.com/upb/tenant-governance/services/governance"
	"github.com/upb/tenant-governance/services/policy"
	"github.com/upb/tenant-governance/services/ratelimit"
	"github.com/upb/tenant-governance/services/resource"
	"github.com/upb/tenant-governance/services/tenant"
)

// IPRatePreset is the limiter preset applied to every API caller address
const IPRatePreset = "api"

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	// DB and Redis are nil when the backend is not configured
	DB          *postgres.DB
	RepoFactory *postgres.RepositoryFactory
	Redis       redis.UniversalClient

	// Observability
	Metrics       *observability.Metrics
	shutdownTrace observability.ShutdownFunc

	// Governance core
	Governance *config.Governance
	Pools      *resource.Manager
	Tenants    *tenant.Registry
	Limiter    *ratelimit.Limiter
	Policies   *policy.Engine
	AuditRing  *audit.RingBuffer
	auditAsync *audit.AsyncSink
	Service    *governance.Service

	// HTTP
	AuthMiddleware   *middleware.AuthMiddleware
	PolicyMiddleware *middleware.PolicyEnforcementMiddleware
	Tenant           *handlers.TenantHandler
	Policy           *handlers.PolicyHandler
	Admission        *handlers.AdmissionHandler
	Audit            *handlers.AuditHandler
	Health           *handlers.HealthHandler
}

// NewDependencies creates and wires up all application dependencies.
// Background workers are not running until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewMetrics(),
	}

	gov, err := config.LoadGovernance(cfg.GovernancePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load governance config: %w", err)
	}
	deps.Governance = gov

	if err := deps.initTracing(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if cfg.Audit.Persist {
		if err := deps.initDatabase(ctx, cfg); err != nil {
			deps.closeQuietly(ctx)
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	if cfg.Redis.Addr != "" {
		deps.initRedis(cfg)
	} else {
		logger.Warn("redis not configured, rate limits are per instance")
	}

	if err := deps.initGovernance(ctx, cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize governance core: %w", err)
	}

	if err := deps.initHTTP(cfg); err != nil {
		deps.closeQuietly(ctx)
		return nil, fmt.Errorf("failed to initialize http layer: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.Int("policies", len(gov.Policies)),
		zap.Bool("audit_persist", cfg.Audit.Persist),
		zap.Bool("redis", deps.Redis != nil))
	return deps, nil
}

func (d *Dependencies) initTracing(ctx context.Context, cfg *config.Config) error {
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Observability.TracingEnabled,
		Endpoint:    cfg.Observability.TracingEndpoint,
		SampleRate:  cfg.Observability.TracingSampleRate,
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Environment,
	}, d.Logger)
	d.shutdownTrace = shutdown
	return err
}

// initDatabase initializes the PostgreSQL connection behind the audit trail
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return nil
}

func (d *Dependencies) initRedis(cfg *config.Config) {
	d.Redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	d.Logger.Info("redis rate limit backend configured", zap.String("addr", cfg.Redis.Addr))
}

func (d *Dependencies) initGovernance(ctx context.Context, cfg *config.Config) error {
	pools, err := resource.NewManager(d.Governance.PoolCapacity, d.Logger)
	if err != nil {
		return err
	}
	d.Pools = pools

	masterKey := cfg.Auth.MasterKey
	if masterKey == "" {
		d.Logger.Warn("TENANT_MASTER_KEY not set, using an ephemeral key; tenant keys change on restart")
		masterKey = randomSecret()
	}
	keys, err := tenant.NewKeyDeriver(masterKey)
	if err != nil {
		return err
	}

	d.Tenants, err = tenant.NewRegistry(d.Governance.Plans, pools, keys, tenant.Options{
		UsageHistory: cfg.Audit.UsageHistory,
	}, d.Logger)
	if err != nil {
		return err
	}

	limiterOpts := ratelimit.Options{
		BackendTimeout: cfg.RateLimit.BackendTimeout,
		Presets:        d.Governance.Presets,
		Fallbacks:      d.Metrics.RateLimitFallback,
		Decisions:      d.Metrics.RateLimitDecision,
	}
	if d.Redis != nil {
		limiterOpts.Remote = ratelimit.NewRedisStore(d.Redis, cfg.Redis.KeyPrefix)
	}
	d.Limiter = ratelimit.NewLimiter(ratelimit.NewMemoryStore(), limiterOpts, d.Logger)

	d.AuditRing = audit.NewRingBuffer(cfg.Audit.RingCapacity, d.Metrics.AuditEvicted)
	sink := audit.Sink(d.AuditRing)
	if d.RepoFactory != nil {
		d.auditAsync = audit.NewAsyncSink(d.RepoFactory.NewRepositories().Audit, d.Logger, audit.Config{
			BufferSize:  cfg.Audit.BufferSize,
			WorkerCount: cfg.Audit.Workers,
			BatchSize:   cfg.Audit.BatchSize,
		}, d.Metrics.AuditDropped)
		sink = audit.MultiSink{d.AuditRing, d.auditAsync}
	}

	d.Policies = policy.NewEngine(policy.NewBuiltinRegistry(policy.BuiltinOptions{
		Limiter: d.Limiter,
		IPSalt:  cfg.RateLimit.IPSalt,
	}), policy.Options{
		Tenants:   d.Tenants,
		Sink:      sink,
		Decisions: d.Metrics.PolicyDecisions,
	}, d.Logger)
	if err := d.Policies.Load(ctx, d.Governance.Policies); err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	d.Service = governance.NewService(governance.Deps{
		Tenants:  d.Tenants,
		Pools:    pools,
		Limiter:  d.Limiter,
		Policies: d.Policies,
		Sink:     sink,
		Metrics:  d.Metrics,
		Logger:   d.Logger,
	}, governance.MaintenanceConfig{
		Interval:       cfg.RateLimit.SweepInterval,
		RateLimitGrace: cfg.RateLimit.SweepGrace,
		UsageRetention: cfg.Audit.UsageMaxAge,
	})
	return nil
}

func (d *Dependencies) initHTTP(cfg *config.Config) error {
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		d.Logger.Warn("JWT_SECRET not set, using an ephemeral secret; no issued token will validate")
		secret = randomSecret()
	}
	validator, err := middleware.NewHMACValidator([]byte(secret), cfg.Auth.JWTIssuer, cfg.Auth.TokenLeeway)
	if err != nil {
		return err
	}

	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	d.PolicyMiddleware = middleware.NewPolicyEnforcementMiddleware(
		d.Service, d.Limiter, IPRatePreset, cfg.RateLimit.IPSalt, d.Logger)

	d.Tenant = handlers.NewTenantHandler(d.Service, d.Logger)
	d.Policy = handlers.NewPolicyHandler(d.Service, d.Logger)
	d.Admission = handlers.NewAdmissionHandler(d.Service, cfg.Auth.AdminRole, d.Logger)
	d.Audit = handlers.NewAuditHandler(d.AuditRing, d.Logger)

	var db *sql.DB
	if d.DB != nil {
		db = d.DB.DB
	}
	d.Health = handlers.NewHealthHandler(db, d.Redis, d.Logger)
	return nil
}

// Start launches the audit writers and the maintenance loop
func (d *Dependencies) Start() error {
	if d.auditAsync != nil {
		if err := d.auditAsync.Start(); err != nil {
			return fmt.Errorf("failed to start audit writers: %w", err)
		}
	}
	if err := d.Service.Start(); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	return nil
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Service != nil {
		d.Service.Stop()
	}

	// Drain queued audit entries before the database goes away
	if d.auditAsync != nil {
		if err := d.auditAsync.Stop(shutdownBudget(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit writers: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.shutdownTrace != nil {
		if err := d.shutdownTrace(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush traces: %w", err))
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	return errors.Join(errs...)
}

func (d *Dependencies) closeQuietly(ctx context.Context) {
	if err := d.Close(ctx); err != nil {
		d.Logger.Warn("cleanup after failed initialization", zap.Error(err))
	}
}

// shutdownBudget is the time left on ctx, or a default when it has no deadline
func shutdownBudget(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
		return time.Millisecond
	}
	return 10 * time.Second
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
