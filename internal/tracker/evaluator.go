package tracker

import (
	"math"
	"time"

	"github.com/herry-alex/cryptotrkr/internal/domain"
)

// scoreEvaluation measures a prediction against the realized price. The
// percentage error is left nil when the realized price is zero, since the
// ratio is undefined there; the absolute error still carries the magnitude.
func scoreEvaluation(p domain.Prediction, actual float64, now time.Time) domain.EvaluationResult {
	absErr := math.Abs(p.PredictedPrice - actual)
	res := domain.EvaluationResult{
		PredictionID: p.ID,
		ActualPrice:  actual,
		AbsError:     absErr,
		EvaluatedOn:  now,
	}
	if actual != 0 {
		pct := absErr / actual * 100
		res.PctError = &pct
	}
	return res
}

// slugTable builds the symbol-to-slug lookup used during evaluation. The
// static table seeds it so predictions stored under a previously tracked
// symbol stay resolvable after the configured asset set changes.
func slugTable(assets []domain.TrackedAsset) map[string]string {
	slugs := make(map[string]string, len(domain.AssetSlugs)+len(assets))
	for symbol, slug := range domain.AssetSlugs {
		slugs[symbol] = slug
	}
	for _, asset := range assets {
		if asset.Symbol == "" || asset.Slug == "" {
			continue
		}
		slugs[asset.Symbol] = asset.Slug
	}
	return slugs
}
