package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/vigil-checker/internal/utils"
)

// Config captures the settings required to run the checker engine.
type Config struct {
	Checker  CheckerConfig  `yaml:"checker"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sink     SinkConfig     `yaml:"sink"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// CheckerConfig controls probe execution.
type CheckerConfig struct {
	// Concurrency bounds the number of outstanding probes across the whole
	// run, not per service.
	Concurrency    int           `yaml:"concurrency"`
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
	RunTimeout     time.Duration `yaml:"runTimeout"`
	UserAgent      string        `yaml:"userAgent"`
}

// ScheduleConfig controls the scheduled-run loop.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// SinkConfig selects and configures the result sink.
type SinkConfig struct {
	// Kind is one of "http", "sqlite" or "none".
	Kind      string        `yaml:"kind"`
	Endpoint  string        `yaml:"endpoint"`
	Path      string        `yaml:"path"`
	Timeout   time.Duration `yaml:"timeout"`
	BatchSize int           `yaml:"batchSize"`
}

// ProxyConfig maps named proxy settings to URLs. Settings not present in
// Static are resolved through the secret store under SecretPrefix.
type ProxyConfig struct {
	Static       map[string]string `yaml:"static"`
	SecretPrefix string            `yaml:"secretPrefix"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the Prometheus listener used in scheduled mode.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// CacheConfig controls the Valkey-backed snapshot/secret store.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	SnapshotTTL  time.Duration `yaml:"snapshotTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VIGIL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, utils.NewAppError("config.load", fmt.Sprintf("config file %s not found", path), err)
			}
			return nil, utils.NewAppError("config.load", "read config", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, utils.NewAppError("config.load", "parse config", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Checker.Concurrency <= 0 {
		cfg.Checker.Concurrency = 16
	}
	if cfg.Sink.BatchSize <= 0 {
		cfg.Sink.BatchSize = 500
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Checker: CheckerConfig{
			Concurrency:    16,
			DefaultTimeout: 5 * time.Second,
			RunTimeout:     2 * time.Minute,
			UserAgent:      "vigil-checker/1.0 (+https://github.com/vigilstack/vigil-checker)",
		},
		Schedule: ScheduleConfig{Interval: time.Minute},
		Sink: SinkConfig{
			Kind:      "none",
			Timeout:   10 * time.Second,
			BatchSize: 500,
		},
		Proxy:   ProxyConfig{SecretPrefix: "vigil:proxy:"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Metrics: MetricsConfig{Address: ":2112"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			SnapshotTTL:  5 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Checker.Concurrency = n
		}
	}
	if v := os.Getenv("VIGIL_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Checker.DefaultTimeout = d
		}
	}
	if v := os.Getenv("VIGIL_RUN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Checker.RunTimeout = d
		}
	}
	if v := os.Getenv("VIGIL_USER_AGENT"); v != "" {
		cfg.Checker.UserAgent = v
	}
	if v := os.Getenv("VIGIL_SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.Interval = d
		}
	}
	if v := os.Getenv("VIGIL_SINK_KIND"); v != "" {
		cfg.Sink.Kind = strings.ToLower(v)
	}
	if v := os.Getenv("VIGIL_SINK_ENDPOINT"); v != "" {
		cfg.Sink.Endpoint = v
	}
	if v := os.Getenv("VIGIL_SINK_PATH"); v != "" {
		cfg.Sink.Path = v
	}
	if v := os.Getenv("VIGIL_SINK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sink.Timeout = d
		}
	}
	if v := os.Getenv("VIGIL_DEFAULT_PROXY_URL"); v != "" {
		if cfg.Proxy.Static == nil {
			cfg.Proxy.Static = make(map[string]string)
		}
		cfg.Proxy.Static["default"] = v
	}
	if v := os.Getenv("VIGIL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIGIL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("VIGIL_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("VIGIL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VIGIL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("VIGIL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("VIGIL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("VIGIL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("VIGIL_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("VIGIL_CACHE_SNAPSHOT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SnapshotTTL = d
		}
	}
}
