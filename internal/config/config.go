package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/leafsii/cachekit/pkg/kv"
)

type Config struct {
	Env      string `mapstructure:"CACHEKIT_ENV"`
	HTTPAddr string `mapstructure:"CACHEKIT_HTTP_ADDR"`

	Store    StoreConfig    `mapstructure:",squash"`
	Redis    RedisConfig    `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type StoreConfig struct {
	Backend         string        `mapstructure:"CACHEKIT_BACKEND"` // "redis", "memory"
	Failover        bool          `mapstructure:"CACHEKIT_FAILOVER"`
	ProbeInterval   time.Duration `mapstructure:"CACHEKIT_PROBE_INTERVAL"`
	JanitorInterval time.Duration `mapstructure:"CACHEKIT_JANITOR_INTERVAL"`
}

type RedisConfig struct {
	URL            string        `mapstructure:"CACHEKIT_REDIS_URL"`
	PoolSize       int           `mapstructure:"CACHEKIT_REDIS_POOL_SIZE"`
	MinIdle        int           `mapstructure:"CACHEKIT_REDIS_MIN_IDLE"`
	PoolWait       time.Duration `mapstructure:"CACHEKIT_REDIS_POOL_WAIT"`  // Max wait for a free connection
	OpTimeout      time.Duration `mapstructure:"CACHEKIT_REDIS_OP_TIMEOUT"` // Per-call deadline once leased
	DialTimeout    time.Duration `mapstructure:"CACHEKIT_REDIS_DIAL_TIMEOUT"`
	ReadTimeout    time.Duration `mapstructure:"CACHEKIT_REDIS_READ_TIMEOUT"`
	WriteTimeout   time.Duration `mapstructure:"CACHEKIT_REDIS_WRITE_TIMEOUT"`
	RetryAttempts  int           `mapstructure:"CACHEKIT_REDIS_RETRY_ATTEMPTS"`
	RetryInterval  time.Duration `mapstructure:"CACHEKIT_REDIS_RETRY_INTERVAL"`
	ConnectTimeout time.Duration `mapstructure:"CACHEKIT_REDIS_CONNECT_TIMEOUT"`
	ScanCount      int64         `mapstructure:"CACHEKIT_REDIS_SCAN_COUNT"`
}

type SecurityConfig struct {
	RateLimitRPM       int           `mapstructure:"CACHEKIT_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string      `mapstructure:"CACHEKIT_CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `mapstructure:"CACHEKIT_REQUEST_TIMEOUT"`
}

var defaults = map[string]any{
	"CACHEKIT_ENV":                   "dev",
	"CACHEKIT_HTTP_ADDR":             ":8080",
	"CACHEKIT_BACKEND":               "redis",
	"CACHEKIT_FAILOVER":              true,
	"CACHEKIT_PROBE_INTERVAL":        "5s",
	"CACHEKIT_JANITOR_INTERVAL":      "30s",
	"CACHEKIT_REDIS_URL":             "redis://127.0.0.1:6379/0",
	"CACHEKIT_REDIS_POOL_SIZE":       8,
	"CACHEKIT_REDIS_MIN_IDLE":        0,
	"CACHEKIT_REDIS_POOL_WAIT":       "2s",
	"CACHEKIT_REDIS_OP_TIMEOUT":      "3s",
	"CACHEKIT_REDIS_DIAL_TIMEOUT":    "5s",
	"CACHEKIT_REDIS_READ_TIMEOUT":    "3s",
	"CACHEKIT_REDIS_WRITE_TIMEOUT":   "3s",
	"CACHEKIT_REDIS_RETRY_ATTEMPTS":  3,
	"CACHEKIT_REDIS_RETRY_INTERVAL":  "500ms",
	"CACHEKIT_REDIS_CONNECT_TIMEOUT": "5s",
	"CACHEKIT_REDIS_SCAN_COUNT":      100,
	"CACHEKIT_RATE_LIMIT_RPM":        600,
	"CACHEKIT_CORS_ALLOWED_ORIGINS":  "http://localhost:3000,http://localhost:5173",
	"CACHEKIT_REQUEST_TIMEOUT":       "30s",
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	v := viper.New()
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Handle array parsing for comma-separated values
	if origins := v.GetString("CACHEKIT_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("CACHEKIT_CORS_ALLOWED_ORIGINS", splitList(origins))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch kv.Backend(c.Store.Backend) {
	case kv.BackendMemory:
	case kv.BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("CACHEKIT_REDIS_URL is required when CACHEKIT_BACKEND is redis")
		}
	default:
		return fmt.Errorf("invalid CACHEKIT_BACKEND %q (must be redis or memory)", c.Store.Backend)
	}
	if c.Redis.PoolSize <= 0 {
		return fmt.Errorf("CACHEKIT_REDIS_POOL_SIZE must be positive, got %d", c.Redis.PoolSize)
	}
	if c.Redis.MinIdle < 0 || c.Redis.MinIdle > c.Redis.PoolSize {
		return fmt.Errorf("CACHEKIT_REDIS_MIN_IDLE must be between 0 and the pool size, got %d", c.Redis.MinIdle)
	}
	if c.Redis.PoolWait < 0 || c.Redis.OpTimeout < 0 {
		return fmt.Errorf("redis timeouts must not be negative")
	}
	if c.Security.RateLimitRPM < 0 {
		return fmt.Errorf("CACHEKIT_RATE_LIMIT_RPM must not be negative")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

// KV converts the store settings into a kv.Config
func (c *Config) KV() kv.Config {
	return kv.Config{
		Backend: kv.Backend(c.Store.Backend),
		Redis: kv.RedisConfig{
			URL:             c.Redis.URL,
			PoolSize:        c.Redis.PoolSize,
			MinIdleConns:    c.Redis.MinIdle,
			PoolWaitTimeout: c.Redis.PoolWait,
			OpTimeout:       c.Redis.OpTimeout,
			DialTimeout:     c.Redis.DialTimeout,
			ReadTimeout:     c.Redis.ReadTimeout,
			WriteTimeout:    c.Redis.WriteTimeout,
			RetryAttempts:   c.Redis.RetryAttempts,
			RetryInterval:   c.Redis.RetryInterval,
			ScanCount:       c.Redis.ScanCount,
		},
		JanitorInterval:     c.Store.JanitorInterval,
		FailoverEnabled:     c.Store.Failover,
		ProbeInterval:       c.Store.ProbeInterval,
		StartupProbeTimeout: c.Redis.ConnectTimeout,
	}
}
