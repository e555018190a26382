package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/herry-alex/cryptotrkr/internal/domain"
)

func newTestService(store *trackerStoreStub, source *predictionSourceStub, prices *priceReaderStub, assets []domain.TrackedAsset) *Service {
	return NewService(trace.NewNoopTracerProvider().Tracer("test"), store, source, prices, assets)
}

func TestServiceRunStoresExtractedPredictions(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC)
	target := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	store := &trackerStoreStub{}
	source := &predictionSourceStub{bySlug: map[string][]domain.PredictionPoint{
		"bitcoin":  {{TargetDate: target, Price: 65000, Source: domain.SourcePrimaryAPI}},
		"ethereum": {{TargetDate: target, Price: 3500, Source: domain.SourceSecondaryScrape}},
	}}
	assets := []domain.TrackedAsset{
		{Symbol: "BTC", Slug: "bitcoin"},
		{Symbol: "ETH", Slug: "ethereum"},
	}

	res, err := newTestService(store, source, &priceReaderStub{}, assets).Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RunID == "" {
		t.Fatal("expected a run id to be assigned")
	}
	if res.PredictionsStored != 2 {
		t.Fatalf("expected 2 stored predictions, got %d", res.PredictionsStored)
	}
	if len(store.predictions) != 2 {
		t.Fatalf("expected 2 inserted rows, got %d", len(store.predictions))
	}
	first := store.predictions[0]
	if first.Symbol != "BTC" || first.Source != domain.SourcePrimaryAPI {
		t.Fatalf("unexpected first row: %+v", first)
	}
	if !first.PredictionDate.Equal(now) || !first.TargetDate.Equal(target) {
		t.Fatalf("dates not carried through: %+v", first)
	}
	if store.predictions[1].Symbol != "ETH" || store.predictions[1].PredictedPrice != 3500 {
		t.Fatalf("unexpected second row: %+v", store.predictions[1])
	}
}

func TestServiceRunEvaluatesDuePredictions(t *testing.T) {
	now := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	due := domain.Prediction{
		ID:             7,
		Symbol:         "BTC",
		Source:         domain.SourcePrimaryAPI,
		TargetDate:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		PredictedPrice: 65000,
	}
	store := &trackerStoreStub{due: []domain.Prediction{due}}
	prices := &priceReaderStub{prices: map[string]float64{"bitcoin": 60000}}

	res, err := newTestService(store, &predictionSourceStub{}, prices, nil).Run(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DueFound != 1 || res.Evaluated != 1 || res.Skipped != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if len(store.results) != 1 {
		t.Fatalf("expected 1 result row, got %d", len(store.results))
	}
	got := store.results[0]
	if got.PredictionID != 7 || got.ActualPrice != 60000 || got.AbsError != 5000 {
		t.Fatalf("unexpected result: %+v", got)
	}
	wantPct := 5000.0 / 60000.0 * 100
	if got.PctError == nil || *got.PctError != wantPct {
		t.Fatalf("unexpected pct error: %+v", got.PctError)
	}
	if !got.EvaluatedOn.Equal(now) {
		t.Fatalf("evaluated_on should be the run time, got %v", got.EvaluatedOn)
	}
	if prices.lastDay != due.TargetDate {
		t.Fatalf("price looked up for wrong day: %v", prices.lastDay)
	}
}

func TestServiceRunLeavesPredictionDueWhenPriceUnavailable(t *testing.T) {
	store := &trackerStoreStub{due: []domain.Prediction{{
		ID: 3, Symbol: "BTC", TargetDate: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), PredictedPrice: 65000,
	}}}
	prices := &priceReaderStub{err: errors.New("coingecko API error 429: throttled")}

	res, err := newTestService(store, &predictionSourceStub{}, prices, nil).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("missing price must not be fatal: %v", err)
	}
	if res.Evaluated != 0 || res.Skipped != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if len(store.results) != 0 {
		t.Fatalf("no result row may be written, got %d", len(store.results))
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "429") {
		t.Fatalf("expected the provider error to be collected: %v", res.Errors)
	}
}

func TestServiceRunSkipsUnmappedSymbolAndContinues(t *testing.T) {
	store := &trackerStoreStub{due: []domain.Prediction{
		{ID: 1, Symbol: "ZZZ", TargetDate: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), PredictedPrice: 10},
		{ID: 2, Symbol: "BTC", TargetDate: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), PredictedPrice: 65000},
	}}
	prices := &priceReaderStub{prices: map[string]float64{"bitcoin": 60000}}

	res, err := newTestService(store, &predictionSourceStub{}, prices, nil).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Skipped != 1 || res.Evaluated != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], "no slug mapping") {
		t.Fatalf("expected a mapping error: %v", res.Errors)
	}
	if prices.calls != 1 {
		t.Fatalf("unmapped symbol must not hit the price API, got %d calls", prices.calls)
	}
	if len(store.results) != 1 || store.results[0].PredictionID != 2 {
		t.Fatalf("sibling prediction should still be evaluated: %+v", store.results)
	}
}

func TestServiceRunAbortsOnResultWriteFailure(t *testing.T) {
	store := &trackerStoreStub{
		due: []domain.Prediction{{
			ID: 5, Symbol: "BTC", TargetDate: time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC), PredictedPrice: 65000,
		}},
		resultErr: errors.New("database is locked"),
	}
	prices := &priceReaderStub{prices: map[string]float64{"bitcoin": 60000}}

	res, err := newTestService(store, &predictionSourceStub{}, prices, nil).Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected a fatal error when persisting a result fails")
	}
	if res.Evaluated != 0 {
		t.Fatalf("nothing may be counted as evaluated, got %d", res.Evaluated)
	}
}

func TestServiceRunAbortsOnStoreListFailure(t *testing.T) {
	store := &trackerStoreStub{dueErr: errors.New("disk I/O error")}

	_, err := newTestService(store, &predictionSourceStub{}, &priceReaderStub{}, nil).Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected a fatal error when the due query fails")
	}
}

func TestServiceRunAbortsOnInsertFailure(t *testing.T) {
	store := &trackerStoreStub{insertErr: errors.New("disk I/O error")}
	source := &predictionSourceStub{bySlug: map[string][]domain.PredictionPoint{
		"bitcoin": {{TargetDate: time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), Price: 65000, Source: domain.SourcePrimaryAPI}},
	}}

	_, err := newTestService(store, source, &priceReaderStub{}, nil).Run(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected a fatal error when persisting a prediction fails")
	}
}

func TestServiceRunRequiresDependencies(t *testing.T) {
	svc := NewService(trace.NewNoopTracerProvider().Tracer("test"), nil, nil, nil, nil)
	if _, err := svc.Run(context.Background(), time.Now()); err == nil {
		t.Fatal("expected an error for missing dependencies")
	}
}

func TestServiceRunDefaultsToBitcoin(t *testing.T) {
	source := &predictionSourceStub{}

	_, err := newTestService(&trackerStoreStub{}, source, &priceReaderStub{}, nil).Run(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(source.calls) != 1 || source.calls[0] != "bitcoin" {
		t.Fatalf("expected the default asset to be extracted, got %v", source.calls)
	}
}

type trackerStoreStub struct {
	seq         int64
	predictions []domain.Prediction
	results     []domain.EvaluationResult
	due         []domain.Prediction

	insertErr error
	dueErr    error
	resultErr error
}

func (s *trackerStoreStub) InsertPrediction(ctx context.Context, p domain.Prediction) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	s.seq++
	p.ID = s.seq
	s.predictions = append(s.predictions, p)
	return p.ID, nil
}

func (s *trackerStoreStub) ListDueUnevaluated(ctx context.Context, asOf time.Time) ([]domain.Prediction, error) {
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	return s.due, nil
}

func (s *trackerStoreStub) InsertResult(ctx context.Context, r domain.EvaluationResult) (int64, error) {
	if s.resultErr != nil {
		return 0, s.resultErr
	}
	s.results = append(s.results, r)
	return int64(len(s.results)), nil
}

type predictionSourceStub struct {
	bySlug map[string][]domain.PredictionPoint
	calls  []string
}

func (s *predictionSourceStub) Extract(ctx context.Context, slug string) []domain.PredictionPoint {
	s.calls = append(s.calls, slug)
	return s.bySlug[slug]
}

type priceReaderStub struct {
	prices  map[string]float64
	err     error
	calls   int
	lastDay time.Time
}

func (s *priceReaderStub) FetchPriceOn(ctx context.Context, slug string, day time.Time) (float64, error) {
	s.calls++
	s.lastDay = day
	if s.err != nil {
		return 0, s.err
	}
	price, ok := s.prices[slug]
	if !ok {
		return 0, errors.New("no price configured for " + slug)
	}
	return price, nil
}
