package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigil.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Checker.Concurrency != 16 {
		t.Fatalf("default concurrency wrong: %d", cfg.Checker.Concurrency)
	}
	if cfg.Checker.DefaultTimeout != 5*time.Second {
		t.Fatalf("default timeout wrong: %v", cfg.Checker.DefaultTimeout)
	}
	if cfg.Schedule.Interval != time.Minute {
		t.Fatalf("default interval wrong: %v", cfg.Schedule.Interval)
	}
	if cfg.Sink.Kind != "none" {
		t.Fatalf("default sink kind wrong: %q", cfg.Sink.Kind)
	}
	if cfg.Proxy.SecretPrefix != "vigil:proxy:" {
		t.Fatalf("default secret prefix wrong: %q", cfg.Proxy.SecretPrefix)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
checker:
  concurrency: 4
  defaultTimeout: 3s
schedule:
  interval: 30s
sink:
  kind: sqlite
  path: /tmp/results.db
proxy:
  static:
    default: http://proxy.internal:3128
logging:
  level: debug
  json: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Checker.Concurrency != 4 {
		t.Fatalf("concurrency not loaded: %d", cfg.Checker.Concurrency)
	}
	if cfg.Schedule.Interval != 30*time.Second {
		t.Fatalf("interval not loaded: %v", cfg.Schedule.Interval)
	}
	if cfg.Sink.Kind != "sqlite" || cfg.Sink.Path != "/tmp/results.db" {
		t.Fatalf("sink not loaded: %+v", cfg.Sink)
	}
	if cfg.Proxy.Static["default"] != "http://proxy.internal:3128" {
		t.Fatalf("proxy static map not loaded: %v", cfg.Proxy.Static)
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Fatalf("logging not loaded: %+v", cfg.Logging)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := writeConfig(t, "checker: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VIGIL_CONCURRENCY", "3")
	t.Setenv("VIGIL_SINK_KIND", "HTTP")
	t.Setenv("VIGIL_SINK_ENDPOINT", "http://sink.internal/ingest")
	t.Setenv("VIGIL_DEFAULT_PROXY_URL", "http://egress.internal:8080")
	t.Setenv("VIGIL_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Checker.Concurrency != 3 {
		t.Fatalf("env concurrency not applied: %d", cfg.Checker.Concurrency)
	}
	if cfg.Sink.Kind != "http" {
		t.Fatalf("sink kind not lowercased: %q", cfg.Sink.Kind)
	}
	if cfg.Sink.Endpoint != "http://sink.internal/ingest" {
		t.Fatalf("sink endpoint not applied: %q", cfg.Sink.Endpoint)
	}
	if cfg.Proxy.Static["default"] != "http://egress.internal:8080" {
		t.Fatalf("default proxy not applied: %v", cfg.Proxy.Static)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("log format override not applied")
	}
}

func TestConcurrencyFloor(t *testing.T) {
	path := writeConfig(t, "checker:\n  concurrency: -5\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Checker.Concurrency != 16 {
		t.Fatalf("non-positive concurrency must fall back to default, got %d", cfg.Checker.Concurrency)
	}
}
