// Package bootstrap assembles the resolver, the batch processor and their
// infrastructure collaborators from a loaded config.Config. The CLI, the API
// server and the worker all build their object graph here.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/config"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/redis"
	"github.com/turtacn/citeresolve/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources/crossref"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources/openalex"
	"github.com/turtacn/citeresolve/internal/infrastructure/sources/semanticscholar"
	"github.com/turtacn/citeresolve/internal/infrastructure/storage/minio"
	"github.com/turtacn/citeresolve/pkg/errors"
)

// semanticScholarKeyHeader carries the optional Semantic Scholar API key.
const semanticScholarKeyHeader = "x-api-key"

// Container owns every long-lived object of one process. Optional
// infrastructure fields are nil when the matching config section is disabled.
type Container struct {
	Config *config.Config
	Logger logging.Logger

	Collector prometheus.MetricsCollector
	Metrics   *prometheus.ResolverMetrics

	Adapters []resolution.Adapter
	Chain    *resolution.Chain
	Enricher *resolution.EnrichmentService

	Redis     *redis.Client
	Postgres  *postgres.Connection
	Citations *repositories.CitationRepo
	Runs      *repositories.BatchRunRepo
	Producer  *kafka.Producer
	Events    *kafka.EventPublisher
	MinIO     *minio.MinIOClient
	Reports   *minio.ReportRepository

	checkpoints batch.CheckpointStore
	locker      batch.RunLocker
	closers     []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

// Option customises New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	redis      *redis.Client
	collector  prometheus.MetricsCollector
}

// WithHTTPClient replaces the HTTP client shared by the source adapters.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithRedisClient uses an existing Redis client instead of dialing
// cfg.Redis. The container does not close it.
func WithRedisClient(c *redis.Client) Option {
	return func(o *options) { o.redis = c }
}

// WithCollector registers metrics on c instead of a new registry.
func WithCollector(c prometheus.MetricsCollector) Option {
	return func(o *options) { o.collector = c }
}

// New builds a Container. On error every client opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("config", "config is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Container{Config: cfg, Logger: logger}
	if err := c.wire(ctx, o); err != nil {
		_ = c.Close()
		return nil, err
	}
	logger.Info("container initialized",
		logging.Strings("adapters", c.Chain.AdapterNames()),
		logging.String("cache", cfg.Cache.Backend),
		logging.Bool("redis", c.Redis != nil),
		logging.Bool("postgres", c.Postgres != nil),
		logging.Bool("kafka", c.Producer != nil),
		logging.Bool("minio", c.MinIO != nil))
	return c, nil
}

func (c *Container) wire(_ context.Context, o *options) error {
	cfg := c.Config

	if err := c.initMetrics(o); err != nil {
		return err
	}
	if err := c.initRedis(o); err != nil {
		return err
	}
	if cfg.Postgres.Enabled {
		conn, err := postgres.NewConnection(PostgresConfig(cfg.Postgres), c.Logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		c.Postgres = conn
		c.closers = append(c.closers, namedCloser{"postgres", conn.Close})
		c.Citations = repositories.NewCitationRepo(conn, c.Logger)
		c.Runs = repositories.NewBatchRunRepo(conn, c.Logger)
	}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, c.Logger)
		if err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
		c.Producer = producer
		c.closers = append(c.closers, namedCloser{"kafka", producer.Close})
		c.Events = kafka.NewEventPublisher(producer, kafka.NewTopics(cfg.Kafka.TopicPrefix), "citeresolve", c.Logger)
	}
	if cfg.MinIO.Enabled {
		mc, err := minio.NewMinIOClient(MinIOConfig(cfg.MinIO), c.Logger)
		if err != nil {
			return fmt.Errorf("minio: %w", err)
		}
		c.MinIO = mc
		c.closers = append(c.closers, namedCloser{"minio", mc.Close})
		c.Reports = minio.NewReportRepository(mc, c.Logger)
	}

	adapters, err := BuildAdapters(cfg, c.Logger, o.httpClient)
	if err != nil {
		return err
	}
	c.Adapters = adapters

	chain, err := resolution.NewChain(adapters, c.buildCache(), ChainConfig(cfg.Resolution), c.Logger, c.Metrics)
	if err != nil {
		return err
	}
	c.Chain = chain
	c.Enricher = resolution.NewEnrichmentService(adapters, c.Logger)

	if c.Redis != nil {
		c.checkpoints = redis.NewCheckpointStore(c.Redis, cfg.Cache.KeyPrefix, cfg.Batch.CheckpointTTL)
		c.locker = redis.NewRunLocker(c.Redis, cfg.Cache.KeyPrefix, 0)
	} else {
		c.checkpoints = batch.NewMemoryCheckpointStore()
	}
	return nil
}

func (c *Container) initMetrics(o *options) error {
	cfg := c.Config.Metrics
	if !cfg.Enabled && o.collector == nil {
		return nil
	}
	collector := o.collector
	if collector == nil {
		var err error
		collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Namespace,
			EnableGoMetrics:      true,
			EnableProcessMetrics: true,
		}, c.Logger)
		if err != nil {
			return err
		}
	}
	c.Collector = collector
	c.Metrics = prometheus.NewResolverMetrics(collector)
	return nil
}

func (c *Container) initRedis(o *options) error {
	if o.redis != nil {
		c.Redis = o.redis
		return nil
	}
	if !c.Config.Redis.Enabled {
		return nil
	}
	client, err := redis.NewClient(RedisConfig(c.Config.Redis), c.Logger)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	c.Redis = client
	c.closers = append(c.closers, namedCloser{"redis", client.Close})
	return nil
}

func (c *Container) buildCache() resolution.DedupCache {
	cfg := c.Config.Cache
	policy := resolution.TTLPolicy{TTL: cfg.TTL, FailedTTL: cfg.FailedTTL}
	if cfg.Backend == "redis" && c.Redis != nil {
		return resolution.NewStoreCache(redis.NewStore(c.Redis), policy,
			resolution.WithKeyPrefix(cfg.KeyPrefix+"resolution:"),
			resolution.WithCacheLogger(c.Logger))
	}
	return resolution.NewMemoryCache(policy)
}

// BatchConfig returns the configured batch settings for runID.
func (c *Container) BatchConfig(runID string) batch.BatchConfig {
	return BatchConfig(c.Config.Batch, runID)
}

// NewProcessor builds a processor for one run. Results flow to every enabled
// sink: the Postgres repository and the Kafka event publisher.
func (c *Container) NewProcessor(cfg batch.BatchConfig) (*batch.Processor, error) {
	opts := []batch.Option{
		batch.WithLogger(c.Logger),
		batch.WithMetrics(c.Metrics),
	}
	if cfg.Enrich {
		opts = append(opts, batch.WithEnricher(c.Enricher))
	}
	if c.locker != nil {
		opts = append(opts, batch.WithRunLocker(c.locker))
	}
	for _, sink := range c.sinks() {
		opts = append(opts, batch.WithResultSink(sink))
	}
	return batch.NewProcessor(c.Chain, c.checkpoints, cfg, opts...)
}

func (c *Container) sinks() []batch.ResultSink {
	var out []batch.ResultSink
	if c.Citations != nil {
		out = append(out, c.Citations)
	}
	if c.Events != nil {
		out = append(out, c.Events)
	}
	return out
}

// FinishRun archives a final report to MinIO, records the run in Postgres
// and announces it on Kafka, each when enabled. It returns the archive
// location, or "" when nothing was archived. Failures after archiving are
// logged and joined into the returned error.
func (c *Container) FinishRun(ctx context.Context, report *batch.BatchReport) (string, error) {
	if report == nil {
		return "", errors.NewValidationError("report", "report is required")
	}
	log := c.Logger.WithContext(ctx).With(logging.String(logging.FieldRunID, report.RunID))

	var location string
	var errs []error
	if c.Reports != nil {
		loc, err := c.Reports.Save(ctx, report)
		if err != nil {
			log.Error("failed to archive batch report", logging.Err(err))
			errs = append(errs, err)
		}
		location = loc
	}
	if c.Runs != nil {
		if err := c.Runs.SaveRun(ctx, repositories.BatchRunFromReport(report, location)); err != nil {
			log.Error("failed to record batch run", logging.Err(err))
			errs = append(errs, err)
		}
	}
	if c.Events != nil {
		if err := c.Events.PublishBatchCompleted(ctx, report, location); err != nil {
			log.Error("failed to publish batch completion", logging.Err(err))
			errs = append(errs, err)
		}
	}
	return location, errors.Join(errs...)
}

// RunBatch processes citations as one run and then finishes it. The report
// is returned even when processing stopped early. Finishing is best effort:
// its failures are logged by FinishRun and leave the location empty.
func (c *Container) RunBatch(ctx context.Context, opts batch.RunOptions, citations []citation.Citation) (*batch.BatchReport, string, error) {
	cfg := opts.Apply(c.BatchConfig(opts.RunID))
	p, err := c.NewProcessor(cfg)
	if err != nil {
		return nil, "", err
	}
	report, runErr := p.ProcessBatch(ctx, citations)
	if report == nil {
		return nil, "", runErr
	}
	location, _ := c.FinishRun(context.WithoutCancel(ctx), report)
	return report, location, runErr
}

// GetRecord looks up a persisted resolution record by item key.
func (c *Container) GetRecord(ctx context.Context, id string) (*citation.Record, error) {
	if c.Citations == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "citation repository is not configured")
	}
	return c.Citations.GetRecord(ctx, id)
}

// GetRun returns the recorded summary of a finished run.
func (c *Container) GetRun(ctx context.Context, runID string) (*repositories.BatchRun, error) {
	if c.Runs == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "batch run repository is not configured")
	}
	return c.Runs.GetRun(ctx, runID)
}

// ReportURL returns a time-limited download URL for an archived report.
func (c *Container) ReportURL(ctx context.Context, runID string, expiry time.Duration) (string, error) {
	if c.Reports == nil {
		return "", errors.New(errors.ErrCodeServiceUnavailable, "report storage is not configured")
	}
	return c.Reports.PresignedURL(ctx, runID, expiry)
}

// ListRecords pages through persisted records.
func (c *Container) ListRecords(ctx context.Context, f citation.RecordFilter) ([]*citation.Record, int64, error) {
	if c.Citations == nil {
		return nil, 0, errors.New(errors.ErrCodeServiceUnavailable, "citation repository is not configured")
	}
	return c.Citations.ListRecords(ctx, f)
}

// Close releases clients in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		nc := c.closers[i]
		if err := nc.close(); err != nil {
			c.Logger.Warn("close failed", logging.String("component", nc.name), logging.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// BuildAdapters creates the source adapters in cfg.Resolution.AdapterOrder.
func BuildAdapters(cfg *config.Config, logger logging.Logger, hc *http.Client) ([]resolution.Adapter, error) {
	order := cfg.Resolution.AdapterOrder
	if len(order) == 0 {
		order = config.DefaultAdapterOrder()
	}
	out := make([]resolution.Adapter, 0, len(order))
	for _, name := range order {
		sc, ok := cfg.Sources.Source(name)
		if !ok {
			return nil, errors.New(errors.ErrCodeUnknownSource, "unknown resolution source").WithDetail("source=" + name)
		}
		client := sources.NewClient(name, clientOptions(sc, logger, hc, name)...)
		switch name {
		case config.SourceCrossref:
			out = append(out, crossref.New(client, crossref.WithRows(sc.Rows), crossref.WithMailto(sc.Mailto)))
		case config.SourceOpenAlex:
			out = append(out, openalex.New(client, openalex.WithPerPage(sc.Rows), openalex.WithMailto(sc.Mailto)))
		case config.SourceSemanticScholar:
			out = append(out, semanticscholar.New(client, semanticscholar.WithLimit(sc.Rows)))
		}
	}
	return out, nil
}

func clientOptions(sc config.SourceConfig, logger logging.Logger, hc *http.Client, name string) []sources.Option {
	opts := []sources.Option{sources.WithLogger(logger)}
	if hc != nil {
		opts = append(opts, sources.WithHTTPClient(hc))
	}
	if sc.BaseURL != "" {
		opts = append(opts, sources.WithBaseURL(sc.BaseURL))
	}
	if sc.Timeout > 0 {
		opts = append(opts, sources.WithTimeout(sc.Timeout))
	}
	if sc.RatePerSecond > 0 {
		opts = append(opts, sources.WithRateLimit(sc.RatePerSecond, sc.Burst))
	}
	if sc.UserAgent != "" {
		opts = append(opts, sources.WithUserAgent(sc.UserAgent))
	}
	if sc.APIKey != "" && name == config.SourceSemanticScholar {
		opts = append(opts, sources.WithAPIKey(semanticScholarKeyHeader, sc.APIKey))
	}
	return opts
}
