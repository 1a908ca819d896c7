package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewAppliesDefaults(t *testing.T) {
	v, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := v.GetString("site.base_url"); got != "https://turbo.az" {
		t.Fatalf("expected default base url, got %q", got)
	}
	if got := v.GetInt("crawl.concurrency"); got != 4 {
		t.Fatalf("expected default concurrency 4, got %d", got)
	}
	if got := v.GetString("sink.provider"); got != "jsonl" {
		t.Fatalf("expected default sink provider jsonl, got %q", got)
	}
}

func TestNewReadsExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	configYAML := `
site:
  end_page: 40
crawl:
  concurrency: 12
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v, err := New(path)
	if err != nil {
		t.Fatalf("New(%q) error = %v", path, err)
	}

	if got := v.GetInt("site.end_page"); got != 40 {
		t.Fatalf("expected end page 40, got %d", got)
	}
	if got := v.GetInt("crawl.concurrency"); got != 12 {
		t.Fatalf("expected concurrency 12, got %d", got)
	}
	if got := v.GetInt("site.start_page"); got != 1 {
		t.Fatalf("expected default start page to survive, got %d", got)
	}
}

func TestNewRejectsMissingExplicitFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestNewEnvOverride(t *testing.T) {
	t.Setenv("TURBOCRAWL_SITE_END_PAGE", "77")

	v, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := v.GetInt("site.end_page"); got != 77 {
		t.Fatalf("expected env override 77, got %d", got)
	}
}
