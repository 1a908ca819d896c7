// Package config initializes the Viper instance the crawler reads its
// settings from: defaults, config file search paths, and environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// New builds a Viper instance seeded with defaults and environment
// overrides (TURBOCRAWL_SITE_END_PAGE=40 overrides site.end_page). path,
// when non-empty, pins the config file; otherwise the search paths are
// tried and a missing file is fine.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/turbocrawl/")
	v.AddConfigPath("$HOME/.turbocrawl")

	setDefaults(v)

	v.SetEnvPrefix("TURBOCRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("site.base_url", "https://turbo.az")
	v.SetDefault("site.start_page", 1)
	v.SetDefault("site.end_page", 5)

	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.checkpoint_every", 10)
	v.SetDefault("crawl.request_interval", "0s")

	v.SetDefault("http.backend", "http")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.user_agents", []string{})
	v.SetDefault("http.insecure_skip_verify", false)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)

	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("headless.max_parallel", 2)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "2s")

	v.SetDefault("proxy.endpoints", []string{})

	v.SetDefault("checkpoint.provider", "file")
	v.SetDefault("checkpoint.path", "data/checkpoint.json")

	v.SetDefault("sink.provider", "jsonl")
	v.SetDefault("sink.path", "data/listings.jsonl")
	v.SetDefault("sink.table", "listings")

	v.SetDefault("publisher.provider", "noop")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 14)
}
