package domain

import "time"

// Prediction source labels, persisted verbatim on every stored row.
const (
	SourcePrimaryAPI      = "primary-api"
	SourceSecondaryScrape = "secondary-scrape"
)

// PredictionPoint is a single dated price prediction as extracted from an
// external source, before it is persisted.
type PredictionPoint struct {
	TargetDate time.Time
	Price      float64
	Source     string
}

// Prediction is one stored prediction row. Dates are calendar dates (UTC
// midnight); CreatedAt is assigned by the store.
type Prediction struct {
	ID             int64
	Symbol         string
	Source         string
	PredictionDate time.Time
	TargetDate     time.Time
	PredictedPrice float64
	CreatedAt      time.Time
}

// EvaluationResult is the measured outcome for a prediction whose target
// date has passed.
type EvaluationResult struct {
	ID           int64
	PredictionID int64
	ActualPrice  float64
	AbsError     float64
	PctError     *float64 // nil when the realized price was zero
	EvaluatedOn  time.Time
}

// TrackedAsset pairs a ticker symbol with the slug both external services
// key on (prediction endpoint and price history endpoint use the same id).
type TrackedAsset struct {
	Symbol string `yaml:"symbol"`
	Slug   string `yaml:"slug"`
}

// TrackerRunResult aggregates one batch pass. Errors collects non-fatal
// per-item failures; a fatal store error aborts the pass instead.
type TrackerRunResult struct {
	RunID             string
	PredictionsStored int
	DueFound          int
	Evaluated         int
	Skipped           int
	Errors            []string
}

// AssetSlugs maps ticker symbols to the identifier the external price
// services key on. Used to resolve assets configured by symbol only.
var AssetSlugs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
}

// DefaultTrackedAssets is the asset set used when no configuration is given.
var DefaultTrackedAssets = []TrackedAsset{
	{Symbol: "BTC", Slug: "bitcoin"},
}
