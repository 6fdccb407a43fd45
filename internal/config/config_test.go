package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/datacube/runtime/pqa"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "datacube.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, pqa.DefaultPolicy(), cfg.MaskPolicy)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log_level: warn
strict: true
parallelism: 8
mask_policy:
  good_values: [32767]
  dilation: 1
snapshot:
  dir: /var/lib/datacube
  ttl: 2h
tracing:
  endpoint: collector:4317
  sample_ratio: 0.25
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 8, cfg.Parallelism)
	assert.Equal(t, pqa.Policy{GoodValues: []int64{32767}, Dilation: 1}, cfg.MaskPolicy)
	assert.Equal(t, 2*time.Hour, cfg.Snapshot.TTL)
	assert.Equal(t, "datacube:", cfg.Snapshot.Prefix)
	assert.Equal(t, "collector:4317", cfg.Tracing.Telemetry().Endpoint)
	assert.Equal(t, "datacube", cfg.Tracing.ServiceName)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATACUBE_DEBUG", "1")
	t.Setenv("DATACUBE_PARALLELISM", "2")
	t.Setenv("DATACUBE_MASK_GOOD_VALUES", "16383, 2457")
	t.Setenv("DATACUBE_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("DATACUBE_SNAPSHOT_TTL", "not-a-duration")

	cfg, err := Load(writeConfig(t, "log_level: error\n"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.Parallelism)
	assert.Equal(t, []int64{16383, 2457}, cfg.MaskPolicy.GoodValues)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Snapshot.RedisURL)
	assert.Zero(t, cfg.Snapshot.TTL)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "colour: red\n", "field colour not found"},
		{"bad level", "log_level: loud\n", `unknown log level "loud"`},
		{"bad parallelism", "parallelism: 0\n", "parallelism must be at least 1"},
		{"negative dilation", "mask_policy: {good_values: [1], dilation: -1}\n", "dilation"},
		{"sample ratio", "tracing: {sample_ratio: 2}\n", "sample_ratio must be in [0, 1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
