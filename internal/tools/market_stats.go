package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/coinscout/coinscout/internal/cache"
)

const defaultStatsAPIBase = "https://api.binance.com"

// MarketStatsTool fetches 24h market statistics for one exchange symbol.
// Exchanges disagree on field names (lastPrice vs price vs close), so the
// response is read tolerantly with gjson instead of a fixed struct.
type MarketStatsTool struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	logger     zerolog.Logger
}

// NewMarketStatsTool creates a new market stats tool
func NewMarketStatsTool(c cache.Cache, logger zerolog.Logger) *MarketStatsTool {
	return &MarketStatsTool{
		baseURL: defaultStatsAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  c,
		logger: logger.With().Str("tool", "market_stats").Logger(),
	}
}

// SetBaseURL overrides the API base URL (used by tests)
func (t *MarketStatsTool) SetBaseURL(base string) {
	t.baseURL = strings.TrimRight(base, "/")
}

// Name returns the tool name
func (t *MarketStatsTool) Name() string {
	return "market_stats"
}

// Description returns the tool description
func (t *MarketStatsTool) Description() string {
	return "Fetches 24h exchange statistics (last price, high, low, volume, price change) for a trading symbol like BTCUSDT."
}

// Parameters returns the JSON schema for the tool-calling protocol
func (t *MarketStatsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"symbol": map[string]interface{}{
				"type":        "string",
				"description": "Exchange trading symbol, e.g. BTCUSDT",
			},
		},
		"required": []string{"symbol"},
	}
}

// Run executes the stats lookup
func (t *MarketStatsTool) Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	symbol, _ := input["symbol"].(string)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewToolError("market_stats", "symbol is required", "MISSING_PARAMS")
	}

	cacheKey := fmt.Sprintf(cache.StatsKeyPattern, symbol)
	if t.cache != nil {
		var cached map[string]interface{}
		if err := t.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			t.logger.Debug().Str("symbol", symbol).Msg("stats served from cache")
			return cached, nil
		}
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	statsURL := fmt.Sprintf("%s/api/v3/ticker/24hr?%s", t.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statsURL, nil)
	if err != nil {
		return nil, NewToolError("market_stats", fmt.Sprintf("failed to create request: %v", err), "REQUEST_ERROR")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, NewToolError("market_stats", fmt.Sprintf("failed to make request: %v", err), "REQUEST_ERROR")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewToolError("market_stats",
			fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, string(body)), "STATS_FETCH_ERROR")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewToolError("market_stats", fmt.Sprintf("failed to read response: %v", err), "STATS_FETCH_ERROR")
	}
	if !gjson.ValidBytes(body) {
		return nil, NewToolError("market_stats", "malformed JSON response", "STATS_FETCH_ERROR")
	}

	ticker := gjson.ParseBytes(body)
	envelope := map[string]interface{}{
		"success":        true,
		"symbol":         symbol,
		"lastPrice":      firstNumber(ticker, "lastPrice", "price", "close"),
		"high24h":        firstNumber(ticker, "highPrice", "high"),
		"low24h":         firstNumber(ticker, "lowPrice", "low"),
		"volume24h":      firstNumber(ticker, "volume", "baseVolume"),
		"quoteVolume24h": firstNumber(ticker, "quoteVolume"),
		"changePct24h":   firstNumber(ticker, "priceChangePercent", "changePercent"),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cacheKey, envelope, cache.StatsTTL); err != nil {
			t.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache stats")
		}
	}

	return envelope, nil
}

// firstNumber returns the first present field parsed as a number; exchange
// tickers often quote numbers as strings, which gjson's Float tolerates.
func firstNumber(result gjson.Result, keys ...string) float64 {
	for _, key := range keys {
		if v := result.Get(key); v.Exists() {
			return v.Float()
		}
	}
	return 0
}
