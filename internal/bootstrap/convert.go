package bootstrap

import (
	"github.com/turtacn/citeresolve/internal/application/batch"
	"github.com/turtacn/citeresolve/internal/application/resolution"
	"github.com/turtacn/citeresolve/internal/config"
	"github.com/turtacn/citeresolve/internal/domain/citation"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/postgres"
	"github.com/turtacn/citeresolve/internal/infrastructure/database/redis"
	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/citeresolve/internal/infrastructure/storage/minio"
)

// Each component takes its own narrow config struct. The functions below
// derive them from the loaded config.Config.

func ChainConfig(r config.ResolutionConfig) resolution.ChainConfig {
	return resolution.ChainConfig{
		ConfidentThreshold: r.ConfidentThreshold,
		PlausibleThreshold: r.PlausibleThreshold,
		ChainTimeout:       r.ChainTimeout,
		Weights: citation.Weights{
			Title:   r.Weights.Title,
			Authors: r.Weights.Authors,
			Year:    r.Weights.Year,
			Journal: r.Weights.Journal,
		},
	}
}

func BatchConfig(b config.BatchConfig, runID string) batch.BatchConfig {
	return batch.BatchConfig{
		MaxConcurrency:     b.MaxConcurrency,
		MaxRetries:         b.MaxRetries,
		InitialBackoff:     b.InitialBackoff,
		MaxBackoff:         b.MaxBackoff,
		BackoffMultiplier:  b.BackoffMultiplier,
		CheckpointInterval: b.CheckpointInterval,
		ItemTimeout:        b.ItemTimeout,
		RunID:              runID,
		Enrich:             b.Enrich,
	}
}

func PostgresConfig(p config.PostgresConfig) postgres.PostgresConfig {
	return postgres.PostgresConfig{
		Host:            p.Host,
		Port:            p.Port,
		User:            p.User,
		Password:        p.Password,
		DBName:          p.DBName,
		SSLMode:         p.SSLMode,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
	}
}

func RedisConfig(r config.RedisConfig) *redis.RedisConfig {
	return &redis.RedisConfig{
		Addr:         r.Addr,
		Password:     r.Password,
		DB:           r.DB,
		PoolSize:     r.PoolSize,
		DialTimeout:  r.DialTimeout,
		ReadTimeout:  r.ReadTimeout,
		WriteTimeout: r.WriteTimeout,
	}
}

func MinIOConfig(m config.MinIOConfig) *minio.MinIOConfig {
	return &minio.MinIOConfig{
		Endpoint:        m.Endpoint,
		AccessKeyID:     m.AccessKeyID,
		SecretAccessKey: m.SecretAccessKey,
		UseSSL:          m.UseSSL,
		Region:          m.Region,
		ReportBucket:    m.ReportBucket,
	}
}

// LogConfig converts the log section. An unknown level falls back to info.
func LogConfig(l config.LogConfig) logging.LogConfig {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.LogConfig{
		Level:       level,
		Format:      l.Format,
		OutputPaths: l.OutputPaths,
	}
}

// NewLogger builds the process logger from the log section and installs it
// as the package default.
func NewLogger(l config.LogConfig) (logging.Logger, error) {
	logger, err := logging.NewLogger(LogConfig(l))
	if err != nil {
		return nil, err
	}
	logging.SetDefault(logger)
	return logger, nil
}
