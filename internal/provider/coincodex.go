package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/trace"

	"github.com/herry-alex/cryptotrkr/internal/domain"
)

const coincodexBaseURL = "https://coincodex.com"

var (
	scrapeDateRe  = regexp.MustCompile(`(\d{1,2}[-/]\d{1,2}[-/]\d{2,4})`)
	scrapePriceRe = regexp.MustCompile(`\$?\s?([0-9]{1,3}(?:[,][0-9]{3})*(?:\.\d+)?)`)
)

// CoinCodexProvider extracts dated price predictions for an asset. It tries
// a structured JSON endpoint first and falls back to scraping the public
// coin page only when the endpoint yields nothing.
type CoinCodexProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
	tracer    trace.Tracer
	pacer     *Pacer
}

// NewCoinCodexProvider creates a provider with the given request timeout and
// politeness gap between requests.
func NewCoinCodexProvider(tracer trace.Tracer, timeout, politenessGap time.Duration) *CoinCodexProvider {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	baseURL := strings.TrimSpace(os.Getenv("COINCODEX_BASE_URL"))
	if baseURL == "" {
		baseURL = coincodexBaseURL
	}
	return &CoinCodexProvider{
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		userAgent: userAgent,
		tracer:    tracer,
		pacer:     NewPacer(politenessGap),
	}
}

// Extract returns every prediction either strategy produces for slug.
// Failures never escape: they degrade to an empty result with a logged
// diagnostic. An empty result is a normal outcome, not an error.
func (p *CoinCodexProvider) Extract(ctx context.Context, slug string) []domain.PredictionPoint {
	_, span := p.tracer.Start(ctx, "coincodex.extract")
	defer span.End()

	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		log.Warn().Msg("empty slug given to extractor")
		return nil
	}

	points, err := p.extractStructured(ctx, slug)
	if err != nil {
		log.Warn().Err(err).Str("slug", slug).Msg("structured extraction failed, trying scrape")
	}
	if len(points) > 0 {
		return points
	}

	points, err = p.extractScrape(ctx, slug)
	if err != nil {
		log.Warn().Err(err).Str("slug", slug).Msg("scrape extraction failed")
		return nil
	}
	if len(points) == 0 {
		log.Debug().Str("slug", slug).Msg("no predictions from either strategy")
	}
	return points
}

func (p *CoinCodexProvider) extractStructured(ctx context.Context, slug string) ([]domain.PredictionPoint, error) {
	url := fmt.Sprintf("%s/api/coincodex/get_coin/%s", p.baseURL, slug)
	body, err := p.doRequest(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json payload from %s", url)
	}

	entries := gjson.ParseBytes(body).Get("price_prediction")
	if !entries.Exists() || !entries.IsArray() {
		return nil, nil
	}

	points := make([]domain.PredictionPoint, 0, 16)
	for _, entry := range entries.Array() {
		rawDate := firstField(entry, "date", "target_date")
		rawPrice := firstField(entry, "price", "predicted_price")
		if !rawDate.Exists() || !rawPrice.Exists() {
			log.Debug().Str("slug", slug).Str("entry", entry.Raw).Msg("prediction entry missing date or price, skipping")
			continue
		}
		target, ok := parseFlexibleDate(rawDate.String())
		if !ok {
			log.Debug().Str("slug", slug).Str("date", rawDate.String()).Msg("unparseable prediction date, skipping")
			continue
		}
		price, ok := predictionPrice(rawPrice)
		if !ok {
			log.Debug().Str("slug", slug).Str("price", rawPrice.String()).Msg("unparseable prediction price, skipping")
			continue
		}
		points = append(points, domain.PredictionPoint{
			TargetDate: target,
			Price:      price,
			Source:     domain.SourcePrimaryAPI,
		})
	}
	return points, nil
}

func (p *CoinCodexProvider) extractScrape(ctx context.Context, slug string) ([]domain.PredictionPoint, error) {
	url := fmt.Sprintf("%s/currency/%s", p.baseURL, slug)
	body, err := p.doRequest(ctx, url, "text/html")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse prediction page: %w", err)
	}

	block := findPredictionBlock(doc)
	if block == nil {
		log.Debug().Str("slug", slug).Msg("no price prediction section on page")
		return nil, nil
	}

	text := flattenBlockText(block)
	dates := scrapeDateRe.FindAllStringSubmatch(text, -1)
	// Date tokens are consumed before the price pass so their digit groups
	// cannot be picked up as prices.
	prices := scrapePriceRe.FindAllStringSubmatch(scrapeDateRe.ReplaceAllString(text, " "), -1)

	n := len(dates)
	if len(prices) < n {
		n = len(prices)
	}
	points := make([]domain.PredictionPoint, 0, n)
	for i := 0; i < n; i++ {
		target, ok := parseFlexibleDate(dates[i][1])
		if !ok {
			log.Debug().Str("slug", slug).Str("date", dates[i][1]).Msg("unparseable scraped date, skipping")
			continue
		}
		price, ok := parsePriceToken(prices[i][1])
		if !ok {
			log.Debug().Str("slug", slug).Str("price", prices[i][1]).Msg("unparseable scraped price, skipping")
			continue
		}
		points = append(points, domain.PredictionPoint{
			TargetDate: target,
			Price:      price,
			Source:     domain.SourceSecondaryScrape,
		})
	}
	return points, nil
}

// findPredictionBlock locates the first h2 heading mentioning "price
// prediction" and returns its immediately following sibling element. The
// first matching heading decides; nil when it has no sibling.
func findPredictionBlock(doc *goquery.Document) *goquery.Selection {
	var block *goquery.Selection
	doc.Find("h2").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(h.Text()), "price prediction") {
			return true
		}
		if next := h.Next(); next.Length() > 0 {
			block = next
		}
		return false
	})
	return block
}

func firstField(entry gjson.Result, keys ...string) gjson.Result {
	for _, key := range keys {
		if v := entry.Get(key); v.Exists() && strings.TrimSpace(v.String()) != "" {
			return v
		}
	}
	return gjson.Result{}
}

func predictionPrice(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Num, true
	case gjson.String:
		return parsePriceToken(v.Str)
	default:
		return 0, false
	}
}

func (p *CoinCodexProvider) doRequest(ctx context.Context, url, accept string) ([]byte, error) {
	if err := p.pacer.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pacer wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("coincodex error %d: %s", resp.StatusCode, truncateBody(body, maxLoggedBody))
	}

	return io.ReadAll(resp.Body)
}
