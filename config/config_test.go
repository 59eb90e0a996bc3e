package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/objpool/errs"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, EnvProd, cfg.Environment)
	require.Equal(t, "info", cfg.Log.Level)
	require.Empty(t, cfg.Telemetry.OTLPEndpoint)
	require.NotNil(t, cfg.Pools)
}

func TestParsePools(t *testing.T) {
	cfg, err := Parse([]byte(`
environment: dev
log:
  level: debug
pools:
  frames:
    trackActive: true
    defaultCapacity: 4
    maxSize: 8
  sessions:
    defaultCapacity: 0
`))
	require.NoError(t, err)
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Encoding)
	require.Equal(t, []string{"frames", "sessions"}, cfg.PoolNames())

	frames := cfg.Pool("frames").Options()
	require.True(t, frames.TrackActive)
	require.Equal(t, 4, frames.DefaultCapacity)
	require.Equal(t, 8, frames.MaxSize)

	sessions := cfg.Pool("sessions").Options()
	require.False(t, sessions.TrackActive)
	require.Equal(t, 0, sessions.DefaultCapacity)
	require.Equal(t, 20, sessions.MaxSize)

	missing := cfg.Pool("missing").Options()
	require.Equal(t, 10, missing.DefaultCapacity)
	require.Equal(t, 20, missing.MaxSize)
}

func TestParseRejectsBadCapacity(t *testing.T) {
	_, err := Parse([]byte(`
pools:
  frames:
    defaultCapacity: 30
    maxSize: 10
`))
	require.Error(t, err)
	require.True(t, errs.IsCode(err, errs.CodeConfiguration))
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("pools: [unterminated"))
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OBJPOOL_ENV", "STAGING")
	t.Setenv("OBJPOOL_LOG_LEVEL", "DEBUG")
	t.Setenv("OBJPOOL_OTLP_ENDPOINT", "http://collector:4318")
	t.Setenv("OBJPOOL_SERVICE_NAME", "pool-demo")

	cfg := Default()
	cfg.ApplyEnv()
	require.Equal(t, EnvStaging, cfg.Environment)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "http://collector:4318", cfg.Telemetry.OTLPEndpoint)
	require.Equal(t, "pool-demo", cfg.Telemetry.ServiceName)
}

func TestLoadOrDefault(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, EnvProd, cfg.Environment)

	path := filepath.Join(t.TempDir(), "pools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pools:\n  frames:\n    maxSize: 12\n"), 0o600))
	cfg, loaded, err = LoadOrDefault(path)
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, 12, cfg.Pool("frames").Options().MaxSize)

	_, loaded, err = LoadOrDefault("")
	require.NoError(t, err)
	require.False(t, loaded)
}
