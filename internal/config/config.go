// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Site       SiteConfig       `mapstructure:"site"`
	Crawl      CrawlConfig      `mapstructure:"crawl"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Sink       SinkConfig       `mapstructure:"sink"`
	Publisher  PublisherConfig  `mapstructure:"publisher"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// SiteConfig pins the listing site and the inclusive page range of a run.
type SiteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	StartPage int    `mapstructure:"start_page"`
	EndPage   int    `mapstructure:"end_page"`
}

// CrawlConfig governs scheduler behavior.
type CrawlConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
}

// HTTPConfig configures the fetch backends.
type HTTPConfig struct {
	Backend            string        `mapstructure:"backend"`
	Timeout            time.Duration `mapstructure:"timeout"`
	UserAgents         []string      `mapstructure:"user_agents"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
}

// HeadlessConfig configures the browser-backed fetcher.
type HeadlessConfig struct {
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
}

// RetryConfig bounds per-request retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// ProxyConfig lists the outbound proxy endpoints rotated on ban-shaped
// failures. Empty means direct connections.
type ProxyConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
}

// CheckpointConfig selects where crawl state snapshots live.
type CheckpointConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
	Bucket   string `mapstructure:"bucket"`
	Object   string `mapstructure:"object"`
}

// SinkConfig selects the persistence backend for completed records.
type SinkConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	Path     string `mapstructure:"path"`
}

// PublisherConfig selects the event broker.
type PublisherConfig struct {
	Provider  string   `mapstructure:"provider"`
	ProjectID string   `mapstructure:"project_id"`
	Topic     string   `mapstructure:"topic"`
	Brokers   []string `mapstructure:"brokers"`
}

// ServerConfig controls the status/metrics HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig shapes zap output and optional file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// TelemetryConfig enables span export to Google Cloud Trace.
type TelemetryConfig struct {
	TraceProjectID string `mapstructure:"trace_project_id"`
}

// Load unmarshals the Viper instance into a validated Config.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("site.base_url must be set")
	}
	if c.Site.StartPage < 1 {
		return fmt.Errorf("site.start_page must be >= 1")
	}
	if c.Site.EndPage < c.Site.StartPage {
		return fmt.Errorf("site.end_page must be >= site.start_page")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.CheckpointEvery <= 0 {
		return fmt.Errorf("crawl.checkpoint_every must be > 0")
	}
	if c.Crawl.RequestInterval < 0 {
		return fmt.Errorf("crawl.request_interval must be >= 0")
	}

	switch c.HTTP.Backend {
	case "http", "colly", "headless":
	default:
		return fmt.Errorf("http.backend must be one of http, colly, headless")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.Backend == "headless" {
		if c.Headless.NavTimeout <= 0 {
			return fmt.Errorf("headless.nav_timeout must be > 0")
		}
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0")
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be > 0")
	}

	for _, raw := range c.Proxy.Endpoints {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.endpoints entry %q is not a valid URL", raw)
		}
	}

	switch c.Checkpoint.Provider {
	case "file":
		if c.Checkpoint.Path == "" {
			return fmt.Errorf("checkpoint.path must be set for the file provider")
		}
	case "gcs":
		if c.Checkpoint.Bucket == "" || c.Checkpoint.Object == "" {
			return fmt.Errorf("checkpoint.bucket and checkpoint.object must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("checkpoint.provider must be one of file, gcs")
	}

	switch c.Sink.Provider {
	case "postgres":
		if c.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn must be set for the postgres provider")
		}
	case "csv", "jsonl":
		if c.Sink.Path == "" {
			return fmt.Errorf("sink.path must be set for the %s provider", c.Sink.Provider)
		}
	case "noop":
	default:
		return fmt.Errorf("sink.provider must be one of postgres, csv, jsonl, noop")
	}

	switch c.Publisher.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic must be set for the pubsub provider")
		}
	case "kafka":
		if len(c.Publisher.Brokers) == 0 || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.brokers and publisher.topic must be set for the kafka provider")
		}
	default:
		return fmt.Errorf("publisher.provider must be one of noop, memory, pubsub, kafka")
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the server is enabled")
	}

	return nil
}
