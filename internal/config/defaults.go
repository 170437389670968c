package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultServerHost            = "0.0.0.0"
	DefaultServerPort            = 8080
	DefaultServerReadTimeout     = 15 * time.Second
	DefaultServerWriteTimeout    = 60 * time.Second
	DefaultServerShutdownTimeout = 20 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultRedisAddr     = "localhost:6379"
	DefaultRedisPoolSize = 20

	DefaultPostgresHost   = "localhost"
	DefaultPostgresPort   = 5432
	DefaultPostgresDBName = "citeresolve"
	DefaultMigrationsPath = "file://internal/infrastructure/database/postgres/migrations"

	DefaultKafkaBroker        = "localhost:9092"
	DefaultKafkaConsumerGroup = "citeresolve-worker"
	DefaultKafkaTopicPrefix   = "citeresolve"

	DefaultMinIOEndpoint     = "localhost:9000"
	DefaultMinIOReportBucket = "citeresolve-reports"

	DefaultMetricsNamespace = "citeresolve"
	DefaultMetricsPath      = "/metrics"

	DefaultConfidentThreshold = 0.85
	DefaultPlausibleThreshold = 0.50
	DefaultChainTimeout       = 30 * time.Second

	DefaultWeightTitle   = 0.5
	DefaultWeightAuthors = 0.3
	DefaultWeightYear    = 0.1
	DefaultWeightJournal = 0.1

	DefaultCrossrefBaseURL        = "https://api.crossref.org"
	DefaultOpenAlexBaseURL        = "https://api.openalex.org"
	DefaultSemanticScholarBaseURL = "https://api.semanticscholar.org/graph/v1"
	DefaultSourceTimeout          = 10 * time.Second
	DefaultSourceRows             = 5
	DefaultUserAgent              = "citeresolve/1.0 (+https://github.com/turtacn/citeresolve)"

	DefaultBatchMaxConcurrency     = 10
	DefaultBatchMaxRetries         = 3
	DefaultBatchInitialBackoff     = 500 * time.Millisecond
	DefaultBatchMaxBackoff         = 30 * time.Second
	DefaultBatchBackoffMultiplier  = 2.0
	DefaultBatchCheckpointInterval = 50
	DefaultBatchItemTimeout        = 60 * time.Second
	DefaultBatchCheckpointTTL      = 7 * 24 * time.Hour

	DefaultCacheBackend   = "memory"
	DefaultCacheTTL       = 24 * time.Hour
	DefaultCacheFailedTTL = 10 * time.Minute
	DefaultCacheKeyPrefix = "citeresolve:"
)

// Per-source polite request rates.
const (
	DefaultCrossrefRate        = 10.0
	DefaultOpenAlexRate        = 10.0
	DefaultSemanticScholarRate = 1.0
)

// DefaultAdapterOrder is the chain priority used when none is configured.
func DefaultAdapterOrder() []string {
	return []string{SourceCrossref, SourceOpenAlex, SourceSemanticScholar}
}

// NewDefaultConfig returns a Config populated entirely with defaults. It
// always passes Validate.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-value fields in cfg. Values already set win.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if len(cfg.Log.OutputPaths) == 0 {
		cfg.Log.OutputPaths = []string{"stdout"}
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultRedisPoolSize
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = DefaultPostgresHost
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = DefaultPostgresPort
	}
	if cfg.Postgres.DBName == "" {
		cfg.Postgres.DBName = DefaultPostgresDBName
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if cfg.Postgres.MigrationsPath == "" {
		cfg.Postgres.MigrationsPath = DefaultMigrationsPath
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = DefaultKafkaConsumerGroup
	}
	if cfg.Kafka.TopicPrefix == "" {
		cfg.Kafka.TopicPrefix = DefaultKafkaTopicPrefix
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.ReportBucket == "" {
		cfg.MinIO.ReportBucket = DefaultMinIOReportBucket
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}

	r := &cfg.Resolution
	if r.ConfidentThreshold == 0 {
		r.ConfidentThreshold = DefaultConfidentThreshold
	}
	if r.PlausibleThreshold == 0 {
		r.PlausibleThreshold = DefaultPlausibleThreshold
	}
	if r.ChainTimeout == 0 {
		r.ChainTimeout = DefaultChainTimeout
	}
	if len(r.AdapterOrder) == 0 {
		r.AdapterOrder = DefaultAdapterOrder()
	}
	// All-zero weights mean "unset"; a partial set is taken as given.
	if r.Weights == (WeightsConfig{}) {
		r.Weights = WeightsConfig{
			Title:   DefaultWeightTitle,
			Authors: DefaultWeightAuthors,
			Year:    DefaultWeightYear,
			Journal: DefaultWeightJournal,
		}
	}

	applySourceDefaults(&cfg.Sources.Crossref, DefaultCrossrefBaseURL, DefaultCrossrefRate)
	applySourceDefaults(&cfg.Sources.OpenAlex, DefaultOpenAlexBaseURL, DefaultOpenAlexRate)
	applySourceDefaults(&cfg.Sources.SemanticScholar, DefaultSemanticScholarBaseURL, DefaultSemanticScholarRate)

	b := &cfg.Batch
	if b.MaxConcurrency == 0 {
		b.MaxConcurrency = DefaultBatchMaxConcurrency
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = DefaultBatchMaxRetries
	}
	if b.InitialBackoff == 0 {
		b.InitialBackoff = DefaultBatchInitialBackoff
	}
	if b.MaxBackoff == 0 {
		b.MaxBackoff = DefaultBatchMaxBackoff
	}
	if b.BackoffMultiplier == 0 {
		b.BackoffMultiplier = DefaultBatchBackoffMultiplier
	}
	if b.CheckpointInterval == 0 {
		b.CheckpointInterval = DefaultBatchCheckpointInterval
	}
	if b.ItemTimeout == 0 {
		b.ItemTimeout = DefaultBatchItemTimeout
	}
	if b.CheckpointTTL == 0 {
		b.CheckpointTTL = DefaultBatchCheckpointTTL
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.FailedTTL == 0 {
		cfg.Cache.FailedTTL = DefaultCacheFailedTTL
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}
}

func applySourceDefaults(s *SourceConfig, baseURL string, rate float64) {
	if s.BaseURL == "" {
		s.BaseURL = baseURL
	}
	if s.Timeout == 0 {
		s.Timeout = DefaultSourceTimeout
	}
	if s.RatePerSecond == 0 {
		s.RatePerSecond = rate
	}
	if s.Burst == 0 {
		s.Burst = 1
	}
	if s.Rows == 0 {
		s.Rows = DefaultSourceRows
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
}

// registerKeys declares every leaf key on v so that AutomaticEnv can resolve
// CITERESOLVE_* variables even when no config file mentions the key. Values
// are the zero value; ApplyDefaults supplies the real defaults afterwards.
func registerKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.host", "server.port", "server.read_timeout", "server.write_timeout",
		"server.shutdown_timeout", "server.requests_per_second",
		"log.level", "log.format", "log.output_paths",
		"redis.enabled", "redis.addr", "redis.password", "redis.db", "redis.pool_size",
		"postgres.enabled", "postgres.host", "postgres.port", "postgres.user",
		"postgres.password", "postgres.dbname", "postgres.sslmode", "postgres.migrations_path",
		"kafka.enabled", "kafka.brokers", "kafka.consumer_group", "kafka.topic_prefix",
		"minio.enabled", "minio.endpoint", "minio.access_key_id", "minio.secret_access_key",
		"minio.use_ssl", "minio.region", "minio.report_bucket",
		"metrics.enabled", "metrics.namespace", "metrics.path",
		"resolution.confident_threshold", "resolution.plausible_threshold", "resolution.chain_timeout",
		"resolution.adapter_order", "resolution.weights.title", "resolution.weights.authors",
		"resolution.weights.year", "resolution.weights.journal",
		"batch.max_concurrency", "batch.max_retries", "batch.initial_backoff", "batch.max_backoff",
		"batch.backoff_multiplier", "batch.checkpoint_interval", "batch.item_timeout", "batch.enrich",
		"cache.backend", "cache.ttl", "cache.failed_ttl", "cache.key_prefix",
	} {
		v.SetDefault(key, nil)
	}
	for _, src := range KnownSources() {
		for _, field := range []string{"base_url", "timeout", "rate_per_second", "burst", "rows", "mailto", "api_key", "user_agent"} {
			v.SetDefault("sources."+src+"."+field, nil)
		}
	}
}
