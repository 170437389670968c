// Command apiserver serves the citation resolution HTTP API.
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
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	httpserver "github.com/turtacn/citeresolve/internal/interfaces/http"
	"github.com/turtacn/citeresolve/internal/interfaces/http/handlers"
	"github.com/turtacn/citeresolve/internal/interfaces/http/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: CITERESOLVE_* environment only)")
	port := flag.Int("port", 0, "HTTP port (overrides server.port)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := bootstrap.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server exited", logging.Err(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.LoadFromFile(path)
}

func run(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	c, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			logger.Warn("failed to release resources", logging.Err(cerr))
		}
	}()

	checks := c.HealthChecks()
	checkers := make([]handlers.HealthChecker, 0, len(checks))
	for _, hc := range checks {
		checkers = append(checkers, hc)
	}

	routerCfg := httpserver.RouterConfig{
		CitationHandler:  handlers.NewCitationHandler(c.Chain, c.Enricher, c, logger),
		BatchHandler:     handlers.NewBatchHandler(c, logger),
		HealthHandler:    handlers.NewHealthHandler(config.Version, checkers...),
		Logger:           logger,
		MetricsCollector: c.Collector,
		MetricsPath:      cfg.Metrics.Path,
	}
	if c.Metrics != nil {
		routerCfg.Metrics = c.Metrics
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.RequestsPerSecond > 0 {
		rlCfg := middleware.DefaultRateLimitConfig()
		rlCfg.RequestsPerSecond = cfg.Server.RequestsPerSecond
		rlCfg.BurstSize = int(2 * cfg.Server.RequestsPerSecond)
		if cfg.Metrics.Path != "" {
			rlCfg.SkipPaths = append(rlCfg.SkipPaths, cfg.Metrics.Path)
		}
		limiter := middleware.NewRateLimiter(rlCfg)
		routerCfg.RateLimiter = limiter
		g.Go(func() error {
			limiter.RunCleanup(gctx)
			return nil
		})
	}

	srv := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpserver.NewRouter(routerCfg), logger)

	logger.Info("starting citeresolve API server",
		logging.String("version", config.Version),
		logging.String("addr", srv.Addr()),
		logging.Strings("adapters", c.Chain.AdapterNames()))

	g.Go(func() error { return srv.Run(gctx) })
	return g.Wait()
}
