package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string
	// GovernancePath points at the YAML file with plans, presets and default
	// policies. Empty means built-in defaults.
	GovernancePath string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the distributed rate limit backend. An empty Addr keeps
// rate limiting in process.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// AuthConfig holds token validation and key derivation secrets
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	AdminRole   string
	MasterKey   string // tenant encryption keys are derived from it
	TokenLeeway time.Duration
}

// RateLimitConfig tunes the limiter
type RateLimitConfig struct {
	BackendTimeout time.Duration
	SweepInterval  time.Duration
	SweepGrace     time.Duration
	IPSalt         string
}

// AuditConfig controls where audit entries go
type AuditConfig struct {
	RingCapacity int
	// Persist enables the asynchronous PostgreSQL writer
	Persist      bool
	Workers      int
	BufferSize   int
	BatchSize    int
	UsageHistory int
	UsageMaxAge  time.Duration
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel          string
	LogFormat         string // json or text
	MetricsEnabled    bool
	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
	ServiceName       string
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		GovernancePath: getEnv("GOVERNANCE_CONFIG_PATH", ""),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 15*time.Second),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "governance:rl:"),
		},
		Auth: AuthConfig{
			JWTSecret:   getEnv("JWT_SECRET", ""),
			JWTIssuer:   getEnv("JWT_ISSUER", ""),
			AdminRole:   getEnv("ADMIN_ROLE", "admin"),
			MasterKey:   getEnv("TENANT_MASTER_KEY", ""),
			TokenLeeway: getEnvAsDuration("JWT_LEEWAY", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			BackendTimeout: getEnvAsDuration("RATE_LIMIT_BACKEND_TIMEOUT", 50*time.Millisecond),
			SweepInterval:  getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", time.Minute),
			SweepGrace:     getEnvAsDuration("RATE_LIMIT_SWEEP_GRACE", 5*time.Second),
			IPSalt:         getEnv("RATE_LIMIT_IP_SALT", ""),
		},
		Audit: AuditConfig{
			RingCapacity: getEnvAsInt("AUDIT_RING_CAPACITY", 10000),
			Persist:      getEnvAsBool("AUDIT_PERSIST", false),
			Workers:      getEnvAsInt("AUDIT_WORKERS", 5),
			BufferSize:   getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
			BatchSize:    getEnvAsInt("AUDIT_BATCH_SIZE", 100),
			UsageHistory: getEnvAsInt("USAGE_HISTORY", 256),
			UsageMaxAge:  getEnvAsDuration("USAGE_MAX_AGE", 24*time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			LogFormat:         getEnv("LOG_FORMAT", "json"),
			MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", true),
			TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
			TracingEndpoint:   getEnv("TRACING_ENDPOINT", ""),
			TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 0.1),
			ServiceName:       getEnv("SERVICE_NAME", "tenant-governance"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// The database is only needed when audit entries are persisted
	if c.Audit.Persist {
		if c.Database.ConnectionString == "" && c.Database.Host == "" {
			return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
		}
		if c.Database.ConnectionString == "" {
			if c.Database.User == "" {
				return fmt.Errorf("database user is required")
			}
			if c.Database.Database == "" {
				return fmt.Errorf("database name is required")
			}
		}
	}

	if c.Audit.RingCapacity <= 0 {
		return fmt.Errorf("audit ring capacity must be positive")
	}
	if c.RateLimit.BackendTimeout <= 0 {
		return fmt.Errorf("rate limit backend timeout must be positive")
	}
	if c.RateLimit.SweepInterval <= 0 {
		return fmt.Errorf("rate limit sweep interval must be positive")
	}

	// Secrets are mandatory in production; development falls back to
	// random keys that do not survive a restart.
	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required in production")
		}
		if c.Auth.MasterKey == "" {
			return fmt.Errorf("tenant master key is required in production")
		}
		if c.RateLimit.IPSalt == "" {
			return fmt.Errorf("rate limit IP salt is required in production")
		}
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}
	if c.Observability.TracingEnabled && c.Observability.TracingEndpoint == "" {
		return fmt.Errorf("tracing endpoint is required when tracing is enabled")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "governance"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "governance"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping blanks
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
