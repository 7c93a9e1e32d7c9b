// Package bootstrap assembles the forecasting stack from configuration for the
// server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"pharmacore/m/internal/config"
	"pharmacore/m/internal/forecasting"
)

// Forecasting is a wired forecasting service plus the resources it holds.
type Forecasting struct {
	Service *forecasting.Service
	redis   *redis.Client
}

// Close releases the model store connection, if any.
func (f *Forecasting) Close() error {
	if f.redis != nil {
		return f.redis.Close()
	}
	return nil
}

// NewStore opens the model store selected by cfg.ModelStore.
func NewStore(ctx context.Context, cfg config.Config) (forecasting.Store, *redis.Client, error) {
	if cfg.ModelStore != "redis" {
		return forecasting.NewFileStore(cfg.ModelsDir), nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("redis model store %s: %w", cfg.RedisAddr, err)
	}
	return forecasting.NewRedisStore(client), client, nil
}

// NewForecasting wires repository, model registry, metrics and service.
// reg may be nil when metrics are not exported.
func NewForecasting(ctx context.Context, cfg config.Config, db *sqlx.DB, reg prometheus.Registerer, logger *zerolog.Logger) (*Forecasting, error) {
	store, client, err := NewStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	models, err := forecasting.NewRegistry(store, cfg.ModelCacheSize)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, err
	}
	svc := forecasting.NewService(forecasting.NewRepository(db), models, forecasting.Options{
		LookbackDays: cfg.LookbackDays,
		Metrics:      forecasting.NewMetrics(reg),
		Logger:       logger,
	})
	return &Forecasting{Service: svc, redis: client}, nil
}
