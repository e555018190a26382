package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/herry-alex/cryptotrkr/internal/config"
	"github.com/herry-alex/cryptotrkr/internal/domain"
	"github.com/herry-alex/cryptotrkr/internal/provider"
	"github.com/herry-alex/cryptotrkr/internal/repository"
	"github.com/herry-alex/cryptotrkr/internal/tracker"
	"github.com/herry-alex/cryptotrkr/pkg/tracing"
)

const serviceName = "crypto-accuracy-tracker"

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initTracerFunc    = tracing.InitTracer
	newRepositoryFunc = repository.NewPredictionRepository

	newPredictionSourceFunc = func(tracer trace.Tracer, timeout, gap time.Duration) tracker.PredictionSource {
		return provider.NewCoinCodexProvider(tracer, timeout, gap)
	}
	newPriceReaderFunc = func(tracer trace.Tracer, timeout, gap time.Duration) tracker.PriceReader {
		return provider.NewCoinGeckoProvider(tracer, timeout, gap)
	}
	runTrackerFunc = func(ctx context.Context, svc *tracker.Service, now time.Time) (domain.TrackerRunResult, error) {
		return svc.Run(ctx, now)
	}
)

func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()
	setupLogging(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandling(cancel)

	tp, tracer, err := initTracerFunc(ctx, serviceName, cfg.TracingEnabled)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer")
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	repo, err := newRepositoryFunc(ctx, cfg.DBPath, tracer)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer repo.Close()

	if err := repo.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	timeout := time.Duration(cfg.HTTPTimeoutSecs) * time.Second
	gap := time.Duration(cfg.PolitenessDelayMS) * time.Millisecond
	source := newPredictionSourceFunc(tracer, timeout, gap)
	prices := newPriceReaderFunc(tracer, timeout, gap)

	svc := tracker.NewService(tracer, repo, source, prices, cfg.TrackedAssets)

	result, err := runTrackerFunc(ctx, svc, time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("tracker run failed")
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("stored", result.PredictionsStored).
		Int("due", result.DueFound).
		Int("evaluated", result.Evaluated).
		Int("skipped", result.Skipped).
		Int("warnings", len(result.Errors)).
		Msg("tracker run complete")
}

func setupLogging(logLevel string) {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(output)

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log.Logger = log.Logger.Level(level)
}

func setupSignalHandling(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info().Msg("shutdown signal received, cancelling run")
		cancel()
	}()
}
