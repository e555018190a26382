package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// historyDateLayout is the day-month-year format the history endpoint expects.
const historyDateLayout = "02-01-2006"

// CoinGeckoProvider fetches realized historical prices from the CoinGecko
// free API.
type CoinGeckoProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	tracer    trace.Tracer
	pacer     *Pacer
}

// NewCoinGeckoProvider creates a provider with the given request timeout and
// politeness gap between requests.
func NewCoinGeckoProvider(tracer trace.Tracer, timeout, politenessGap time.Duration) *CoinGeckoProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimSpace(os.Getenv("COINGECKO_BASE_URL"))
	if baseURL == "" {
		baseURL = coingeckoBaseURL
	}
	return &CoinGeckoProvider{
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		userAgent: userAgent,
		tracer:    tracer,
		pacer:     NewPacer(politenessGap),
	}
}

// FetchPriceOn returns the realized USD price of slug on the given calendar
// day. Exactly one attempt is made per call; any failure (transport error,
// non-200 status, missing field) comes back as an error, and the caller
// decides whether the prediction stays due.
func (p *CoinGeckoProvider) FetchPriceOn(ctx context.Context, slug string, day time.Time) (float64, error) {
	_, span := p.tracer.Start(ctx, "coingecko.fetch-price-on")
	defer span.End()

	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return 0, fmt.Errorf("slug is required")
	}
	dateStr := day.Format(historyDateLayout)

	url := fmt.Sprintf("%s/coins/%s/history?date=%s", p.baseURL, slug, dateStr)

	body, err := p.doRequest(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("fetch history for %s: %w", slug, err)
	}

	var raw struct {
		MarketData *struct {
			CurrentPrice map[string]float64 `json:"current_price"`
		} `json:"market_data"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, fmt.Errorf("parse history for %s: %w", slug, err)
	}
	if raw.MarketData == nil {
		return 0, fmt.Errorf("history for %s on %s has no market_data", slug, dateStr)
	}
	usd, ok := raw.MarketData.CurrentPrice["usd"]
	if !ok {
		return 0, fmt.Errorf("history for %s on %s has no usd price", slug, dateStr)
	}

	return usd, nil
}

func (p *CoinGeckoProvider) doRequest(ctx context.Context, url string) ([]byte, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacer wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Warn().
			Int("status", resp.StatusCode).
			Str("url", url).
			Str("body", truncateBody(body, maxLoggedBody)).
			Msg("coingecko request failed")
		return nil, fmt.Errorf("coingecko API error %d: %s", resp.StatusCode, truncateBody(body, maxLoggedBody))
	}

	return io.ReadAll(resp.Body)
}
