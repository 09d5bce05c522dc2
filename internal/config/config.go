// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	DB      DBConfig      `mapstructure:"db"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// CrawlerConfig carries server-level defaults applied to jobs that do not
// set the corresponding knob.
type CrawlerConfig struct {
	MaxDepthDefault    int      `mapstructure:"max_depth_default"`
	ConcurrencyDefault int      `mapstructure:"concurrency_default"`
	RetryLimitDefault  int      `mapstructure:"retry_limit_default"`
	MaxPendingDefault  int      `mapstructure:"max_pending_default"`
	HostRPSDefault     float64  `mapstructure:"host_rps_default"`
	UserAgent          string   `mapstructure:"user_agent"`
	FetchTimeoutSec    int      `mapstructure:"fetch_timeout_seconds"`
	MinWordCount       int      `mapstructure:"min_word_count"`
	DenyPatterns       []string `mapstructure:"deny_patterns"`
	BackoffBaseMs      int      `mapstructure:"backoff_base_ms"`
	BackoffMaxMs       int      `mapstructure:"backoff_max_ms"`
	SnapshotSeconds    int      `mapstructure:"snapshot_seconds"`
	IgnoreRobots       bool     `mapstructure:"ignore_robots"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	Migrate      bool   `mapstructure:"migrate"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. path may be empty, in which
// case only defaults and CRAWLD_* environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("crawler.max_depth_default", 3)
	v.SetDefault("crawler.concurrency_default", 8)
	v.SetDefault("crawler.retry_limit_default", 2)
	v.SetDefault("crawler.max_pending_default", 10000)
	v.SetDefault("crawler.host_rps_default", 2.0)
	v.SetDefault("crawler.user_agent", "crawld/1.0 (+https://github.com/webharvest/crawld)")
	v.SetDefault("crawler.fetch_timeout_seconds", 15)
	v.SetDefault("crawler.min_word_count", 0)
	v.SetDefault("crawler.backoff_base_ms", 500)
	v.SetDefault("crawler.backoff_max_ms", 30000)
	v.SetDefault("crawler.snapshot_seconds", 30)
	v.SetDefault("crawler.ignore_robots", false)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.migrate", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.ConcurrencyDefault <= 0 {
		return fmt.Errorf("crawler.concurrency_default must be > 0")
	}
	if c.Crawler.MaxDepthDefault <= 0 {
		return fmt.Errorf("crawler.max_depth_default must be > 0")
	}
	if c.Crawler.FetchTimeoutSec <= 0 {
		return fmt.Errorf("crawler.fetch_timeout_seconds must be > 0")
	}
	if c.Crawler.HostRPSDefault < 0 {
		return fmt.Errorf("crawler.host_rps_default must not be negative")
	}
	if c.Crawler.BackoffBaseMs <= 0 || c.Crawler.BackoffMaxMs < c.Crawler.BackoffBaseMs {
		return fmt.Errorf("crawler backoff bounds are inconsistent")
	}
	return nil
}

// FetchTimeout converts the configured fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.FetchTimeoutSec) * time.Second
}

// ShutdownGrace bounds how long the server waits for in-flight work on exit.
func (c Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
