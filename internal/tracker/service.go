package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"

	"github.com/herry-alex/cryptotrkr/internal/domain"
)

// PredictionSource extracts dated price predictions for one asset slug.
// Implementations absorb their own transport failures and report an empty
// slice, so a zero-length result is never distinguishable from "no data".
type PredictionSource interface {
	Extract(ctx context.Context, slug string) []domain.PredictionPoint
}

// PriceReader resolves the realized price of an asset on a calendar day.
type PriceReader interface {
	FetchPriceOn(ctx context.Context, slug string, day time.Time) (float64, error)
}

type Store interface {
	InsertPrediction(ctx context.Context, p domain.Prediction) (int64, error)
	ListDueUnevaluated(ctx context.Context, asOf time.Time) ([]domain.Prediction, error)
	InsertResult(ctx context.Context, r domain.EvaluationResult) (int64, error)
}

type Service struct {
	tracer trace.Tracer
	store  Store
	source PredictionSource
	prices PriceReader

	assets []domain.TrackedAsset
	slugs  map[string]string
}

func NewService(
	tracer trace.Tracer,
	store Store,
	source PredictionSource,
	prices PriceReader,
	assets []domain.TrackedAsset,
) *Service {
	if len(assets) == 0 {
		assets = domain.DefaultTrackedAssets
	}
	return &Service{
		tracer: tracer,
		store:  store,
		source: source,
		prices: prices,
		assets: assets,
		slugs:  slugTable(assets),
	}
}

// Run executes one complete pass: extract and persist fresh predictions for
// every tracked asset, then evaluate every stored prediction whose target
// date has arrived. Per-item failures are collected in the result and the
// pass keeps going; only store failures abort it.
func (s *Service) Run(ctx context.Context, now time.Time) (domain.TrackerRunResult, error) {
	_, span := s.tracer.Start(ctx, "tracker.run")
	defer span.End()

	if s.store == nil || s.source == nil || s.prices == nil {
		return domain.TrackerRunResult{}, fmt.Errorf("tracker service dependencies are not initialized")
	}

	now = now.UTC()
	result := domain.TrackerRunResult{RunID: uuid.NewString()}

	log.Info().
		Str("run_id", result.RunID).
		Int("assets", len(s.assets)).
		Msg("tracker run started")

	for _, asset := range s.assets {
		points := s.source.Extract(ctx, asset.Slug)
		for _, point := range points {
			pred := domain.Prediction{
				Symbol:         asset.Symbol,
				Source:         point.Source,
				PredictionDate: now,
				TargetDate:     point.TargetDate,
				PredictedPrice: point.Price,
			}
			if _, err := s.store.InsertPrediction(ctx, pred); err != nil {
				return result, err
			}
			result.PredictionsStored++
		}
		log.Debug().
			Str("symbol", asset.Symbol).
			Int("predictions", len(points)).
			Msg("asset extraction complete")
	}

	due, err := s.store.ListDueUnevaluated(ctx, now)
	if err != nil {
		return result, err
	}
	result.DueFound = len(due)

	for _, pred := range due {
		slug, ok := s.slugs[pred.Symbol]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("evaluate:id=%d: no slug mapping for symbol %s", pred.ID, pred.Symbol))
			result.Skipped++
			log.Error().
				Int64("prediction_id", pred.ID).
				Str("symbol", pred.Symbol).
				Msg("prediction skipped: symbol has no slug mapping")
			continue
		}

		actual, err := s.prices.FetchPriceOn(ctx, slug, pred.TargetDate)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("evaluate:id=%d: %v", pred.ID, err))
			result.Skipped++
			log.Warn().
				Err(err).
				Int64("prediction_id", pred.ID).
				Str("symbol", pred.Symbol).
				Msg("prediction skipped: realized price unavailable, stays due")
			continue
		}

		res := scoreEvaluation(pred, actual, now)
		if _, err := s.store.InsertResult(ctx, res); err != nil {
			return result, err
		}
		result.Evaluated++
	}

	return result, nil
}
