package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"pharmacore/m/internal/api"
	"pharmacore/m/internal/bootstrap"
	"pharmacore/m/internal/config"
	"pharmacore/m/internal/database"
	"pharmacore/m/internal/migrations"
	"pharmacore/m/internal/telemetry"
)

func main() {
	cfg := config.Load()
	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Logger = logger
	for _, w := range cfg.Warnings {
		log.Warn().Msg(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tp *sdktrace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		var err error
		if tp, err = telemetry.InitTracer(ctx, cfg.OTLPEndpoint, "pharmacore"); err != nil {
			log.Fatal().Err(err).Msg("tracing")
		}
	}

	db := database.Connect(cfg.DatabaseDSN)
	defer db.Close()
	migrations.Run(db)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	fc, err := bootstrap.NewForecasting(ctx, cfg, db, reg, &logger)
	if err != nil {
		log.Fatal().Err(err).Msg("forecasting")
	}
	defer fc.Close()

	handler := api.New(db, cfg.Secret, fc.Service, api.Options{
		Logger:         &logger,
		Registry:       reg,
		TrainPerMinute: cfg.TrainRatePerMinute,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("model_store", cfg.ModelStore).Msg("pharmacore server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := telemetry.Shutdown(shutdownCtx, tp); err != nil {
		log.Error().Err(err).Msg("tracer shutdown")
	}
}
