// Package config loads datacube settings from a YAML file and DATACUBE_*
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opal-lang/datacube/internal/telemetry"
	"github.com/opal-lang/datacube/runtime/pqa"
)

// ErrInvalidConfig wraps every load and validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds every setting the CLI and server read.
type Config struct {
	LogLevel    string     `yaml:"log_level"`
	Strict      bool       `yaml:"strict"`
	Parallelism int        `yaml:"parallelism"`
	MaskPolicy  pqa.Policy `yaml:"mask_policy"`

	Snapshot SnapshotConfig `yaml:"snapshot"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

// SnapshotConfig selects where executor results are persisted. RedisURL
// wins over Dir when both are set.
type SnapshotConfig struct {
	Dir      string        `yaml:"dir"`
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Telemetry converts to the telemetry package's form.
func (t TracingConfig) Telemetry() telemetry.TracingConfig {
	return telemetry.TracingConfig{
		Endpoint:    t.Endpoint,
		Insecure:    t.Insecure,
		ServiceName: t.ServiceName,
		SampleRatio: t.SampleRatio,
	}
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type CatalogConfig struct {
	// DSN of the DuckDB database; empty is in-memory.
	DSN string `yaml:"dsn"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel:    "info",
		Parallelism: 4,
		MaskPolicy:  pqa.DefaultPolicy(),
		Snapshot:    SnapshotConfig{Prefix: "datacube:"},
		Tracing:     TracingConfig{ServiceName: "datacube", SampleRatio: 1},
		Metrics:     MetricsConfig{Addr: ":9464"},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("DATACUBE_LOG_LEVEL", c.LogLevel)
	if getBool("DATACUBE_DEBUG", false) {
		c.LogLevel = "debug"
	}
	c.Strict = getBool("DATACUBE_STRICT", c.Strict)
	c.Parallelism = getInt("DATACUBE_PARALLELISM", c.Parallelism)
	c.MaskPolicy.Dilation = getInt("DATACUBE_MASK_DILATION", c.MaskPolicy.Dilation)
	c.MaskPolicy.GoodValues = getInt64Slice("DATACUBE_MASK_GOOD_VALUES", c.MaskPolicy.GoodValues)

	c.Snapshot.Dir = getEnv("DATACUBE_SNAPSHOT_DIR", c.Snapshot.Dir)
	c.Snapshot.RedisURL = getEnv("DATACUBE_REDIS_URL", c.Snapshot.RedisURL)
	c.Snapshot.Prefix = getEnv("DATACUBE_SNAPSHOT_PREFIX", c.Snapshot.Prefix)
	c.Snapshot.TTL = getDuration("DATACUBE_SNAPSHOT_TTL", c.Snapshot.TTL)

	c.Tracing.Endpoint = getEnv("DATACUBE_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getBool("DATACUBE_OTLP_INSECURE", c.Tracing.Insecure)
	c.Tracing.ServiceName = getEnv("DATACUBE_SERVICE_NAME", c.Tracing.ServiceName)
	c.Tracing.SampleRatio = getFloat("DATACUBE_TRACE_SAMPLE_RATIO", c.Tracing.SampleRatio)

	c.Metrics.Addr = getEnv("DATACUBE_METRICS_ADDR", c.Metrics.Addr)
	c.Catalog.DSN = getEnv("DATACUBE_CATALOG_DSN", c.Catalog.DSN)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var problems []string
	if _, err := telemetry.ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Parallelism < 1 {
		problems = append(problems, fmt.Sprintf("parallelism must be at least 1, got %d", c.Parallelism))
	}
	if err := c.MaskPolicy.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Snapshot.TTL < 0 {
		problems = append(problems, "snapshot ttl must not be negative")
	}
	if r := c.Tracing.SampleRatio; r < 0 || r > 1 {
		problems = append(problems, fmt.Sprintf("tracing sample_ratio must be in [0, 1], got %g", r))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getInt64Slice(key string, defaultVal []int64) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []int64
	for _, part := range strings.Split(val, ",") {
		i, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return defaultVal
		}
		out = append(out, i)
	}
	return out
}
