package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the gateway.
type Config struct {
	AppName        string
	Environment    string
	HTTP           HTTPConfig
	Gateway        GatewayConfig
	Authority      AuthorityConfig
	TokenCache     TokenCacheConfig
	PasswordPolicy PasswordPolicyConfig
	Audit          AuditConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Context        ContextConfig
	Logger         LoggerConfig
	Migrations     MigrationsConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnableMetrics bool
	// MetricsAddress, when set, serves /metrics on its own listener
	// instead of behind the gateway.
	MetricsAddress string
}

// GatewayConfig holds the session gateway routing and cookie settings.
type GatewayConfig struct {
	LoginPath          string
	PasswordChangePath string
	APIPrefix          string
	TokenCookie        string
	UserCookie         string
	TokenQueryParam    string
	CookieMaxAge       time.Duration
	CookieSecure       bool
	PublicPaths        []string
	PublicPrefixes     []string
	RoutesFile         string
	Upstreams          map[string]string
	UpstreamTimeout    time.Duration
}

type AuthorityConfig struct {
	URL     string
	Timeout time.Duration
}

const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type TokenCacheConfig struct {
	Backend       string
	MaxEntries    int
	SweepInterval time.Duration
}

type PasswordPolicyConfig struct {
	Enabled    bool
	FailClosed bool
}

type AuditConfig struct {
	Enabled      bool
	BufferPath   string
	SyncInterval time.Duration
	MaxRetry     int
	BatchSize    int
	QueueSize    int
	Retention    time.Duration
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

var (
	defaultPublicPaths = []string{
		"/login",
		"/api/health",
		"/favicon.ico",
	}
	defaultPublicPrefixes = []string{
		"/_next/static/",
		"/_next/image",
		"/static/",
		"/images/",
		"/api/auth/",
	}
)

// Load reads configuration from environment variables (optionally .env)
// and applies defaults so the gateway can boot against a local auth service.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "hms-gateway"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:           getString("SERVER_HOST", "0.0.0.0"),
			Port:           getString("SERVER_PORT", "8080"),
			ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:    getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:        getInt("SERVER_MAX_CONN", 0),
			EnableMetrics:  getBool("SERVER_ENABLE_METRICS", true),
			MetricsAddress: os.Getenv("SERVER_METRICS_ADDRESS"),
		},
		Gateway: GatewayConfig{
			LoginPath:          getString("LOGIN_PATH", "/login"),
			PasswordChangePath: getString("PASSWORD_CHANGE_PATH", "/change-password"),
			APIPrefix:          getString("API_PREFIX", "/api/"),
			TokenCookie:        getString("TOKEN_COOKIE_NAME", "token"),
			UserCookie:         getString("USER_COOKIE_NAME", "user"),
			TokenQueryParam:    getString("TOKEN_QUERY_PARAM", "token"),
			CookieMaxAge:       getDuration("TOKEN_COOKIE_MAX_AGE", 7*24*time.Hour),
			CookieSecure:       getBool("TOKEN_COOKIE_SECURE", false),
			PublicPaths:        getList("GATEWAY_PUBLIC_PATHS", defaultPublicPaths),
			PublicPrefixes:     getList("GATEWAY_PUBLIC_PREFIXES", defaultPublicPrefixes),
			RoutesFile:         os.Getenv("GATEWAY_ROUTES_FILE"),
			Upstreams:          map[string]string{},
			UpstreamTimeout:    getDuration("UPSTREAM_TIMEOUT", 15*time.Second),
		},
		Authority: AuthorityConfig{
			URL:     getString("AUTH_SERVICE_URL", "http://localhost:4000"),
			Timeout: getDuration("AUTH_VERIFY_TIMEOUT", 5*time.Second),
		},
		TokenCache: TokenCacheConfig{
			Backend:       strings.ToLower(getString("TOKEN_CACHE_BACKEND", CacheBackendMemory)),
			MaxEntries:    getInt("TOKEN_CACHE_MAX_ENTRIES", 10_000),
			SweepInterval: getDuration("TOKEN_CACHE_SWEEP_INTERVAL", time.Minute),
		},
		PasswordPolicy: PasswordPolicyConfig{
			Enabled:    getBool("PASSWORD_POLICY_ENABLED", false),
			FailClosed: getBool("PASSWORD_POLICY_FAIL_CLOSED", true),
		},
		Audit: AuditConfig{
			Enabled:      getBool("AUDIT_ENABLED", false),
			BufferPath:   getString("BOLTDB_PATH", "./data/audit.db"),
			SyncInterval: getDuration("SYNC_INTERVAL_SECONDS", 30*time.Second),
			MaxRetry:     getInt("MAX_RETRY_ATTEMPTS", 3),
			BatchSize:    getInt("AUDIT_BATCH_SIZE", 100),
			QueueSize:    getInt("AUDIT_QUEUE_SIZE", 1024),
			Retention:    getDuration("AUDIT_BUFFER_RETENTION", 72*time.Hour),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "hms"),
			User:            getString("DB_USER", "hms_gateway"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 2),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("REDIS_URL"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 10*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", false),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}

	if cfg.Gateway.RoutesFile != "" {
		routes, err := LoadRoutes(cfg.Gateway.RoutesFile)
		if err != nil {
			return nil, fmt.Errorf("load routes file: %w", err)
		}
		routes.Apply(&cfg.Gateway)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects combinations the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error

	authURL, err := url.Parse(c.Authority.URL)
	if err != nil || authURL.Scheme == "" || authURL.Host == "" {
		errs = append(errs, fmt.Errorf("AUTH_SERVICE_URL must be an absolute URL, got %q", c.Authority.URL))
	}
	if c.Authority.Timeout <= 0 {
		errs = append(errs, errors.New("AUTH_VERIFY_TIMEOUT must be positive"))
	}
	// A request deadline shorter than the verify call cancels every slow
	// verification before its verdict can be cached.
	if c.Context.RequestTimeout > 0 && c.Context.RequestTimeout <= c.Authority.Timeout {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT_SECONDS (%s) must exceed AUTH_VERIFY_TIMEOUT (%s)",
			c.Context.RequestTimeout, c.Authority.Timeout))
	}
	if c.HTTP.MetricsAddress != "" && c.HTTP.MetricsAddress == c.Address() {
		errs = append(errs, errors.New("SERVER_METRICS_ADDRESS must differ from the gateway address"))
	}

	switch c.TokenCache.Backend {
	case CacheBackendMemory:
		if c.TokenCache.MaxEntries <= 0 {
			errs = append(errs, errors.New("TOKEN_CACHE_MAX_ENTRIES must be positive"))
		}
	case CacheBackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("TOKEN_CACHE_BACKEND=redis requires REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown TOKEN_CACHE_BACKEND %q", c.TokenCache.Backend))
	}

	if !strings.HasPrefix(c.Gateway.LoginPath, "/") {
		errs = append(errs, fmt.Errorf("LOGIN_PATH must start with '/', got %q", c.Gateway.LoginPath))
	}
	if !strings.HasPrefix(c.Gateway.PasswordChangePath, "/") {
		errs = append(errs, fmt.Errorf("PASSWORD_CHANGE_PATH must start with '/', got %q", c.Gateway.PasswordChangePath))
	}
	if c.Gateway.TokenCookie == "" || c.Gateway.TokenQueryParam == "" {
		errs = append(errs, errors.New("token cookie and query parameter names are required"))
	}

	return errors.Join(errs...)
}

// NeedsDatabase reports whether any enabled feature reads or writes Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.PasswordPolicy.Enabled || c.Audit.Enabled
}

// NeedsRedis reports whether a Redis connection has to be opened.
func (c *Config) NeedsRedis() bool {
	return c.TokenCache.Backend == CacheBackendRedis
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if strings.TrimSpace(val) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
