// Package config loads the server configuration: struct defaults, then an
// optional YAML file, then EDITIONS_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "EDITIONS_CONFIG"

var defaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/editions/config.yaml",
}

type Config struct {
	HTTP    HTTPConfig    `koanf:"http"`
	MySQL   MySQLConfig   `koanf:"mysql"`
	Redis   RedisConfig   `koanf:"redis"`
	Breaker BreakerConfig `koanf:"breaker"`
	Retry   RetryConfig   `koanf:"retry"`
	Cache   CacheConfig   `koanf:"cache"`
	Quota   QuotaConfig   `koanf:"quota"`
	Notify  NotifyConfig  `koanf:"notify"`
	Log     LogConfig     `koanf:"log"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	AcquireTimeout  time.Duration `koanf:"acquire_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Addr     string        `koanf:"addr"`
	PoolSize int           `koanf:"pool_size"`
	DedupTTL time.Duration `koanf:"dedup_ttl"`
}

type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	ProbeInterval    time.Duration `koanf:"probe_interval"`
	ProbeTimeout     time.Duration `koanf:"probe_timeout"`
}

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
}

type CacheConfig struct {
	DetailTTL       time.Duration `koanf:"detail_ttl"`
	AvailabilityTTL time.Duration `koanf:"availability_ttl"`
	PurchasesTTL    time.Duration `koanf:"purchases_ttl"`
	SellerTTL       time.Duration `koanf:"seller_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

type QuotaConfig struct {
	MaxPublished int `koanf:"max_published"`
}

type NotifyConfig struct {
	QueueSize int `koanf:"queue_size"`
	Workers   int `koanf:"workers"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/editions?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			AcquireTimeout:  3 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			PoolSize: 100,
			DedupTTL: 24 * time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			ProbeInterval:    30 * time.Second,
			ProbeTimeout:     2 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   100 * time.Millisecond,
		},
		Cache: CacheConfig{
			DetailTTL:       2 * time.Minute,
			AvailabilityTTL: 30 * time.Second,
			PurchasesTTL:    time.Minute,
			SellerTTL:       2 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Quota: QuotaConfig{
			MaxPublished: 2,
		},
		Notify: NotifyConfig{
			QueueSize: 10000,
			Workers:   10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the effective configuration.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// EDITIONS_MYSQL_MAX_OPEN_CONNS -> mysql.max_open_conns
	envProvider := env.Provider("EDITIONS_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "EDITIONS_")
		s = strings.ToLower(s)
		return strings.Replace(s, "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run under.
func (c *Config) Validate() error {
	if c.MySQL.DSN == "" {
		return fmt.Errorf("config: mysql.dsn is required")
	}
	if c.MySQL.MaxOpenConns < 1 || c.MySQL.MaxIdleConns < 0 {
		return fmt.Errorf("config: invalid pool bounds")
	}
	if c.MySQL.MaxIdleConns > c.MySQL.MaxOpenConns {
		return fmt.Errorf("config: max_idle_conns exceeds max_open_conns")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("config: breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.ProbeInterval <= 0 {
		return fmt.Errorf("config: breaker.probe_interval must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1")
	}
	if c.Quota.MaxPublished < 1 {
		return fmt.Errorf("config: quota.max_published must be >= 1")
	}
	if c.Notify.QueueSize < 1 || c.Notify.Workers < 1 {
		return fmt.Errorf("config: notify queue_size and workers must be >= 1")
	}
	return nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
