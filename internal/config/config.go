// Package config provides configuration loading, defaults, and validation for
// citeresolve.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Version is overridden at build time via ldflags.
var Version = "dev"

// Config is the root configuration object. Each component receives only the
// section it needs; see the *Config accessors on the sub-structs.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Resolution ResolutionConfig `mapstructure:"resolution"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Cache      CacheConfig      `mapstructure:"cache"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// RequestsPerSecond limits the API per client IP; 0 disables limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// LogConfig mirrors logging.LogConfig without importing it.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig configures the resolved-citation repository.
type PostgresConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// KafkaConfig configures event publishing and the raw-citation worker.
type KafkaConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	TopicPrefix   string   `mapstructure:"topic_prefix"`
}

// MinIOConfig configures the batch report archive.
type MinIOConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	Region          string `mapstructure:"region"`
	ReportBucket    string `mapstructure:"report_bucket"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// ResolutionConfig is the chain policy slice.
type ResolutionConfig struct {
	ConfidentThreshold float64       `mapstructure:"confident_threshold"`
	PlausibleThreshold float64       `mapstructure:"plausible_threshold"`
	ChainTimeout       time.Duration `mapstructure:"chain_timeout"`
	// AdapterOrder lists source names in priority order.
	AdapterOrder []string      `mapstructure:"adapter_order"`
	Weights      WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig holds the per-field fuzzy-match weights.
type WeightsConfig struct {
	Title   float64 `mapstructure:"title"`
	Authors float64 `mapstructure:"authors"`
	Year    float64 `mapstructure:"year"`
	Journal float64 `mapstructure:"journal"`
}

// SourcesConfig holds one section per resolution source.
type SourcesConfig struct {
	Crossref        SourceConfig `mapstructure:"crossref"`
	OpenAlex        SourceConfig `mapstructure:"openalex"`
	SemanticScholar SourceConfig `mapstructure:"semanticscholar"`
}

// SourceConfig configures one HTTP source adapter.
type SourceConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Rows          int           `mapstructure:"rows"`
	Mailto        string        `mapstructure:"mailto"`
	APIKey        string        `mapstructure:"api_key"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// BatchConfig is the batch processor slice.
type BatchConfig struct {
	MaxConcurrency     int           `mapstructure:"max_concurrency"`
	MaxRetries         int           `mapstructure:"max_retries"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff"`
	BackoffMultiplier  float64       `mapstructure:"backoff_multiplier"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval"`
	ItemTimeout        time.Duration `mapstructure:"item_timeout"`
	CheckpointTTL      time.Duration `mapstructure:"checkpoint_ttl"`
	Enrich             bool          `mapstructure:"enrich"`
}

// CacheConfig configures the dedup cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	FailedTTL time.Duration `mapstructure:"failed_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Source names accepted in resolution.adapter_order.
const (
	SourceCrossref        = "crossref"
	SourceOpenAlex        = "openalex"
	SourceSemanticScholar = "semanticscholar"
)

// KnownSources returns the recognised adapter names.
func KnownSources() []string {
	return []string{SourceCrossref, SourceOpenAlex, SourceSemanticScholar}
}

// Validate checks cross-field invariants after defaults have been applied.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}

	r := c.Resolution
	if r.ConfidentThreshold <= 0 || r.ConfidentThreshold > 1 {
		problems = append(problems, "resolution.confident_threshold must be in (0,1]")
	}
	if r.PlausibleThreshold <= 0 || r.PlausibleThreshold > 1 {
		problems = append(problems, "resolution.plausible_threshold must be in (0,1]")
	}
	if r.ConfidentThreshold <= r.PlausibleThreshold {
		problems = append(problems, "resolution.confident_threshold must exceed plausible_threshold")
	}
	w := r.Weights
	if w.Title < 0 || w.Authors < 0 || w.Year < 0 || w.Journal < 0 {
		problems = append(problems, "resolution.weights must be non-negative")
	}
	if w.Title+w.Authors+w.Year+w.Journal <= 0 {
		problems = append(problems, "resolution.weights must have a positive sum")
	}
	if len(r.AdapterOrder) == 0 {
		problems = append(problems, "resolution.adapter_order must not be empty")
	}
	seen := make(map[string]bool, len(r.AdapterOrder))
	for _, name := range r.AdapterOrder {
		if !isKnownSource(name) {
			problems = append(problems, fmt.Sprintf("resolution.adapter_order: unknown source %q", name))
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("resolution.adapter_order: duplicate source %q", name))
		}
		seen[name] = true
	}

	b := c.Batch
	if b.MaxConcurrency < 1 {
		problems = append(problems, "batch.max_concurrency must be >= 1")
	}
	if b.MaxRetries < 0 {
		problems = append(problems, "batch.max_retries must be >= 0")
	}
	if b.CheckpointInterval < 1 {
		problems = append(problems, "batch.checkpoint_interval must be >= 1")
	}
	if b.BackoffMultiplier < 1 {
		problems = append(problems, "batch.backoff_multiplier must be >= 1")
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			problems = append(problems, "cache.backend=redis requires redis.enabled")
		}
	default:
		problems = append(problems, fmt.Sprintf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers required when kafka.enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

func isKnownSource(name string) bool {
	for _, s := range KnownSources() {
		if s == name {
			return true
		}
	}
	return false
}

// Source returns the configuration section for the named source.
func (s SourcesConfig) Source(name string) (SourceConfig, bool) {
	switch name {
	case SourceCrossref:
		return s.Crossref, true
	case SourceOpenAlex:
		return s.OpenAlex, true
	case SourceSemanticScholar:
		return s.SemanticScholar, true
	default:
		return SourceConfig{}, false
	}
}

// DSN returns the lib/pq connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// URL returns the postgres:// form used by golang-migrate.
func (p PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode)
}
