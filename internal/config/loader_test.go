package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
server:
  host: "127.0.0.1"
  port: 8081
log:
  level: debug
redis:
  enabled: true
  addr: "redis:6379"
resolution:
  confident_threshold: 0.9
  plausible_threshold: 0.6
  chain_timeout: 20s
  adapter_order: ["openalex", "crossref"]
  weights:
    title: 0.6
    authors: 0.2
    year: 0.1
    journal: 0.1
sources:
  crossref:
    mailto: "ops@example.org"
    rate_per_second: 5
  semanticscholar:
    api_key: "s2-key"
batch:
  max_concurrency: 4
  checkpoint_interval: 25
  initial_backoff: 100ms
cache:
  backend: redis
  ttl: 1h
`

func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FromFile_ValidConfig(t *testing.T) {
	cfg, err := Load(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 0.9, cfg.Resolution.ConfidentThreshold)
	assert.Equal(t, 20*time.Second, cfg.Resolution.ChainTimeout)
	assert.Equal(t, []string{"openalex", "crossref"}, cfg.Resolution.AdapterOrder)
	assert.Equal(t, 0.6, cfg.Resolution.Weights.Title)
	assert.Equal(t, "ops@example.org", cfg.Sources.Crossref.Mailto)
	assert.Equal(t, 5.0, cfg.Sources.Crossref.RatePerSecond)
	assert.Equal(t, "s2-key", cfg.Sources.SemanticScholar.APIKey)
	assert.Equal(t, 4, cfg.Batch.MaxConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Batch.InitialBackoff)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)

	// Untouched keys fall back to defaults.
	assert.Equal(t, DefaultBatchMaxRetries, cfg.Batch.MaxRetries)
	assert.Equal(t, DefaultOpenAlexBaseURL, cfg.Sources.OpenAlex.BaseURL)
}

func TestLoad_FromFile_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_FromFile_InvalidYAML(t *testing.T) {
	_, err := Load(createTempConfigFile(t, "resolution: ["))
	require.Error(t, err)
}

func TestLoad_FromFile_ValidationFailure(t *testing.T) {
	_, err := Load(createTempConfigFile(t, `
resolution:
  confident_threshold: 0.3
  plausible_threshold: 0.5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoad_EnvOverride(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	t.Setenv("CITERESOLVE_SERVER_PORT", "9999")
	t.Setenv("CITERESOLVE_BATCH_MAX_RETRIES", "7")
	t.Setenv("CITERESOLVE_SOURCES_OPENALEX_MAILTO", "env@example.org")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Batch.MaxRetries)
	assert.Equal(t, "env@example.org", cfg.Sources.OpenAlex.Mailto)
}

func TestLoadFromEnv_NoFile(t *testing.T) {
	t.Setenv("CITERESOLVE_RESOLUTION_CHAIN_TIMEOUT", "5s")
	t.Setenv("CITERESOLVE_CACHE_BACKEND", "memory")
	t.Setenv("CITERESOLVE_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Resolution.ChainTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
}

func TestLoadFromFile_Convenience(t *testing.T) {
	cfg, err := LoadFromFile(createTempConfigFile(t, validConfigYAML))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestMustLoad(t *testing.T) {
	path := createTempConfigFile(t, validConfigYAML)
	assert.NotPanics(t, func() { MustLoad(path) })
	assert.Panics(t, func() { MustLoad(filepath.Join(t.TempDir(), "nope.yaml")) })
}
