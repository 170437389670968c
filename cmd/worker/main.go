// Command worker consumes raw citations from Kafka, resolves each one and
// stores the result in Postgres and on the citation.resolved topic.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/citeresolve/internal/bootstrap"
	"github.com/turtacn/citeresolve/internal/config"
	"github.com/turtacn/citeresolve/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/citeresolve/internal/interfaces/http"
	"github.com/turtacn/citeresolve/internal/interfaces/http/handlers"
	"github.com/turtacn/citeresolve/internal/interfaces/worker"
	"github.com/turtacn/citeresolve/pkg/errors"
)

const defaultHealthPort = 8081

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: CITERESOLVE_* environment only)")
	healthPort := flag.Int("health-port", defaultHealthPort, "port for /healthz, /readyz and metrics")
	enrich := flag.Bool("enrich", false, "enrich every resolved record (default: batch.enrich)")
	flag.Parse()

	var (
		cfg *config.Config
		err error
	)
	if *configPath == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.LoadFromFile(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "enrich" {
			cfg.Batch.Enrich = *enrich
		}
	})

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *healthPort, logger); err != nil {
		logger.Error("worker exited", logging.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, healthPort int, logger logging.Logger) error {
	if !cfg.Kafka.Enabled {
		return errors.NewValidationError("kafka.enabled", "the worker needs kafka.enabled=true")
	}

	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.Warn("failed to release resources", logging.Err(cerr))
		}
	}()

	opts := []worker.Option{worker.WithLogger(logger)}
	if cfg.Batch.Enrich {
		opts = append(opts, worker.WithEnricher(c.Enricher))
	}
	if c.Citations != nil {
		opts = append(opts, worker.WithSink(c.Citations))
	}
	if c.Events != nil {
		opts = append(opts, worker.WithSink(c.Events))
	}
	h, err := worker.NewHandler(c.Chain, opts...)
	if err != nil {
		return err
	}

	topics := kafka.NewTopics(cfg.Kafka.TopicPrefix)
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.ConsumerGroup,
		Topics:  []string{topics.CitationRaw},
		RetryConfig: kafka.RetryConfig{
			MaxRetries:      cfg.Batch.MaxRetries,
			RetryBackoff:    cfg.Batch.InitialBackoff,
			MaxRetryBackoff: cfg.Batch.MaxBackoff,
			DeadLetterTopic: topics.DeadLetter,
		},
	}, logger)
	if err != nil {
		return err
	}
	consumer.Subscribe(topics.CitationRaw, h.Handle)

	checks := c.HealthChecks()
	checkers := make([]handlers.HealthChecker, 0, len(checks))
	for _, hc := range checks {
		checkers = append(checkers, hc)
	}
	health := httpserver.NewServer(httpserver.ServerConfig{
		Host: cfg.Server.Host,
		Port: healthPort,
	}, httpserver.NewRouter(httpserver.RouterConfig{
		HealthHandler:    handlers.NewHealthHandler(config.Version, checkers...),
		Logger:           logger,
		MetricsCollector: c.Collector,
		MetricsPath:      cfg.Metrics.Path,
	}), logger)

	logger.Info("starting citeresolve worker",
		logging.String("version", config.Version),
		logging.String("topic", topics.CitationRaw),
		logging.String("group", cfg.Kafka.ConsumerGroup),
		logging.Bool("enrich", cfg.Batch.Enrich))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return health.Run(gctx) })
	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		err := consumer.Close()
		logger.Info("worker stopped",
			logging.Int64("processed", consumer.Processed()),
			logging.Int64("dead_lettered", consumer.DeadLettered()))
		return err
	})
	return g.Wait()
}
