package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/herry-alex/cryptotrkr/internal/domain"
)

type Config struct {
	DBPath            string
	HTTPTimeoutSecs   int
	PolitenessDelayMS int
	LogLevel          string
	TracingEnabled    bool
	TrackedAssets     []domain.TrackedAsset
}

func Load() *Config {
	cfg := &Config{
		DBPath:   strings.TrimSpace(os.Getenv("TRACKER_DB")),
		LogLevel: strings.TrimSpace(os.Getenv("LOG_LEVEL")),
	}

	if cfg.DBPath == "" {
		log.Warn().Msg("TRACKER_DB not set, defaulting to predictions.db")
		cfg.DBPath = "predictions.db"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.HTTPTimeoutSecs = 15
	if v := strings.TrimSpace(os.Getenv("HTTP_TIMEOUT_SECS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTPTimeoutSecs = n
		}
	}

	cfg.PolitenessDelayMS = 1000
	if v := strings.TrimSpace(os.Getenv("POLITENESS_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PolitenessDelayMS = n
		}
	}

	cfg.TracingEnabled = strings.EqualFold(strings.TrimSpace(os.Getenv("TRACING_ENABLED")), "true")

	cfg.TrackedAssets = loadTrackedAssets()

	return cfg
}

// loadTrackedAssets resolves the asset set in order of precedence:
// ASSETS_FILE (YAML), then TRACKED_ASSETS (comma list of SYMBOL:slug or
// bare SYMBOL), then the built-in default.
func loadTrackedAssets() []domain.TrackedAsset {
	if path := strings.TrimSpace(os.Getenv("ASSETS_FILE")); path != "" {
		assets, err := LoadAssetsFile(path)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("cannot load assets file, falling back")
		} else {
			return assets
		}
	}

	if raw := strings.TrimSpace(os.Getenv("TRACKED_ASSETS")); raw != "" {
		if assets := parseAssetList(raw); len(assets) > 0 {
			return assets
		}
		log.Warn().Str("value", raw).Msg("TRACKED_ASSETS yielded no usable assets, using defaults")
	}

	return append([]domain.TrackedAsset(nil), domain.DefaultTrackedAssets...)
}

func parseAssetList(raw string) []domain.TrackedAsset {
	parts := strings.Split(raw, ",")
	assets := make([]domain.TrackedAsset, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		symbol, slug, found := strings.Cut(part, ":")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		slug = strings.ToLower(strings.TrimSpace(slug))
		if symbol == "" {
			continue
		}
		if !found || slug == "" {
			known, ok := domain.AssetSlugs[symbol]
			if !ok {
				log.Warn().Str("symbol", symbol).Msg("no slug known for symbol, skipping")
				continue
			}
			slug = known
		}
		assets = append(assets, domain.TrackedAsset{Symbol: symbol, Slug: slug})
	}
	return assets
}

type assetsFile struct {
	Assets []domain.TrackedAsset `yaml:"assets"`
}

// LoadAssetsFile reads and parses a YAML tracked-asset file.
func LoadAssetsFile(path string) ([]domain.TrackedAsset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assets file: %w", err)
	}

	var f assetsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse assets file: %w", err)
	}
	if len(f.Assets) == 0 {
		return nil, fmt.Errorf("assets file lists no assets")
	}

	assets := make([]domain.TrackedAsset, 0, len(f.Assets))
	for i, asset := range f.Assets {
		asset.Symbol = strings.ToUpper(strings.TrimSpace(asset.Symbol))
		asset.Slug = strings.ToLower(strings.TrimSpace(asset.Slug))
		if asset.Symbol == "" {
			return nil, fmt.Errorf("assets[%d]: symbol is required", i)
		}
		if asset.Slug == "" {
			known, ok := domain.AssetSlugs[asset.Symbol]
			if !ok {
				return nil, fmt.Errorf("assets[%d]: no slug given and none known for %s", i, asset.Symbol)
			}
			asset.Slug = known
		}
		assets = append(assets, asset)
	}
	return assets, nil
}
