// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior for the serve command.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlConfig governs the crawl pipeline.
type CrawlConfig struct {
	StartURLs       []string `mapstructure:"start_urls"`
	UserAgent       string   `mapstructure:"user_agent"`
	DelaySeconds    float64  `mapstructure:"delay_seconds"`
	MaxPages        int      `mapstructure:"max_pages"`
	PartialInterval int      `mapstructure:"partial_interval"`
	BlockThreshold  int      `mapstructure:"block_threshold"`
}

// HTTPConfig configures fetch retry behavior.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
	BackoffBaseSec int `mapstructure:"backoff_base_seconds"`
	BackoffMaxSec  int `mapstructure:"backoff_max_seconds"`
}

// CacheConfig sets the on-disk page cache location and freshness window.
type CacheConfig struct {
	Dir      string `mapstructure:"dir"`
	TTLHours int    `mapstructure:"ttl_hours"`
}

// SnapshotConfig sets where run snapshots are written.
type SnapshotConfig struct {
	Dir string `mapstructure:"dir"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOWATCH")
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
	v.SetDefault("crawl.start_urls", []string{
		"https://www.booli.se/sok/till-salu?areaIds=2&objectType=L%C3%A4genhet",
		"https://www.booli.se/sok/till-salu?areaIds=386699&objectType=L%C3%A4genhet",
		"https://www.booli.se/sok/till-salu?areaIds=2&objectType=L%C3%A4genhet&floor=topFloor",
		"https://www.booli.se/sok/till-salu?areaIds=386699&objectType=L%C3%A4genhet&floor=topFloor",
	})
	v.SetDefault("crawl.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	v.SetDefault("crawl.delay_seconds", 1.0)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("crawl.partial_interval", 10)
	v.SetDefault("crawl.block_threshold", 3)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_base_seconds", 5)
	v.SetDefault("http.backoff_max_seconds", 80)
	v.SetDefault("cache.dir", "data/cache")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("snapshot.dir", "data/snapshots")
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Crawl.StartURLs) == 0 {
		return fmt.Errorf("crawl.start_urls must not be empty")
	}
	if c.Crawl.DelaySeconds < 0 {
		return fmt.Errorf("crawl.delay_seconds must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Cache.TTLHours <= 0 {
		return fmt.Errorf("cache.ttl_hours must be > 0")
	}
	if strings.TrimSpace(c.Cache.Dir) == "" {
		return fmt.Errorf("cache.dir must be set")
	}
	if strings.TrimSpace(c.Snapshot.Dir) == "" {
		return fmt.Errorf("snapshot.dir must be set")
	}
	if c.Headless.Enabled && c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0 when headless is enabled")
	}
	return nil
}

// Delay converts the configured politeness delay into a duration.
func (c CrawlConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// Timeout converts the HTTP timeout into a duration.
func (c HTTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackoffBase converts the base backoff into a duration.
func (c HTTPConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec) * time.Second
}

// BackoffMax converts the backoff ceiling into a duration.
func (c HTTPConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSec) * time.Second
}

// TTL converts the cache freshness window into a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}
