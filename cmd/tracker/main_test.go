package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/herry-alex/cryptotrkr/internal/config"
	"github.com/herry-alex/cryptotrkr/internal/domain"
	"github.com/herry-alex/cryptotrkr/internal/repository"
	"github.com/herry-alex/cryptotrkr/internal/tracker"
)

func TestMainRunsOnce(t *testing.T) {
	restore := stubTrackerDeps(t)
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("main did not exit")
	}
}

func stubTrackerDeps(t *testing.T) func() {
	t.Helper()

	origLoadEnv := loadEnvFunc
	origLoadConfig := loadConfigFunc
	origInitTracer := initTracerFunc
	origNewRepository := newRepositoryFunc
	origNewSource := newPredictionSourceFunc
	origNewPrices := newPriceReaderFunc
	origRun := runTrackerFunc

	dbPath := filepath.Join(t.TempDir(), "tracker.db")

	loadEnvFunc = func(...string) error { return nil }
	loadConfigFunc = func() *config.Config {
		return &config.Config{
			DBPath:            dbPath,
			HTTPTimeoutSecs:   1,
			PolitenessDelayMS: 0,
			LogLevel:          "error",
		}
	}
	initTracerFunc = func(ctx context.Context, serviceName string, enabled bool) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	newRepositoryFunc = repository.NewPredictionRepository
	newPredictionSourceFunc = func(trace.Tracer, time.Duration, time.Duration) tracker.PredictionSource {
		return stubSource{}
	}
	newPriceReaderFunc = func(trace.Tracer, time.Duration, time.Duration) tracker.PriceReader {
		return stubPrices{}
	}
	runTrackerFunc = func(ctx context.Context, svc *tracker.Service, now time.Time) (domain.TrackerRunResult, error) {
		return svc.Run(ctx, now)
	}

	return func() {
		loadEnvFunc = origLoadEnv
		loadConfigFunc = origLoadConfig
		initTracerFunc = origInitTracer
		newRepositoryFunc = origNewRepository
		newPredictionSourceFunc = origNewSource
		newPriceReaderFunc = origNewPrices
		runTrackerFunc = origRun
	}
}

type stubSource struct{}

func (stubSource) Extract(ctx context.Context, slug string) []domain.PredictionPoint {
	return nil
}

type stubPrices struct{}

func (stubPrices) FetchPriceOn(ctx context.Context, slug string, day time.Time) (float64, error) {
	return 0, context.Canceled
}
