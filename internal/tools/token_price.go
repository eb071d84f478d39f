package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coinscout/coinscout/internal/cache"
)

const defaultPriceAPIBase = "https://api.coingecko.com/api/v3"

// TokenPriceTool looks up spot prices from the CoinGecko API
type TokenPriceTool struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	logger     zerolog.Logger
}

// TokenPriceResult represents price information for one coin
type TokenPriceResult struct {
	Coin        string    `json:"coin"`
	Currency    string    `json:"currency"`
	Price       float64   `json:"price"`
	Change24h   float64   `json:"change_24h"`
	LastUpdated time.Time `json:"last_updated"`
}

// NewTokenPriceTool creates a new token price tool
func NewTokenPriceTool(apiKey string, c cache.Cache, logger zerolog.Logger) *TokenPriceTool {
	return &TokenPriceTool{
		apiKey:  apiKey,
		baseURL: defaultPriceAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  c,
		logger: logger.With().Str("tool", "token_price").Logger(),
	}
}

// SetBaseURL overrides the API base URL (used by tests)
func (t *TokenPriceTool) SetBaseURL(base string) {
	t.baseURL = strings.TrimRight(base, "/")
}

// Name returns the tool name
func (t *TokenPriceTool) Name() string {
	return "token_price"
}

// Description returns the tool description
func (t *TokenPriceTool) Description() string {
	return "Looks up the current price and 24h change of a cryptocurrency by its CoinGecko id, e.g. bitcoin, ethereum, solana."
}

// Parameters returns the JSON schema for the tool-calling protocol
func (t *TokenPriceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"coin": map[string]interface{}{
				"type":        "string",
				"description": "CoinGecko coin id, e.g. bitcoin",
			},
			"currency": map[string]interface{}{
				"type":        "string",
				"description": "Quote currency (default usd)",
			},
		},
		"required": []string{"coin"},
	}
}

// Run executes the price lookup
func (t *TokenPriceTool) Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	coin, _ := input["coin"].(string)
	coin = strings.ToLower(strings.TrimSpace(coin))
	if coin == "" {
		return nil, NewToolError("token_price", "coin is required", "MISSING_PARAMS")
	}

	currency, _ := input["currency"].(string)
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}

	// Check cache first
	cacheKey := fmt.Sprintf(cache.PriceKeyPattern, currency, coin)
	if t.cache != nil {
		var cached TokenPriceResult
		if err := t.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			t.logger.Debug().Str("coin", coin).Msg("price served from cache")
			return priceEnvelope(&cached), nil
		}
	}

	result, err := t.fetchPrice(ctx, coin, currency)
	if err != nil {
		return nil, NewToolError("token_price", fmt.Sprintf("failed to fetch price: %v", err), "PRICE_FETCH_ERROR")
	}

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cacheKey, result, cache.PriceTTL); err != nil {
			t.logger.Warn().Err(err).Str("coin", coin).Msg("failed to cache price")
		}
	}

	return priceEnvelope(result), nil
}

func priceEnvelope(result *TokenPriceResult) map[string]interface{} {
	return map[string]interface{}{
		"success":   true,
		"coin":      result.Coin,
		"currency":  result.Currency,
		"price":     result.Price,
		"change24h": result.Change24h,
		"timestamp": result.LastUpdated.Format(time.RFC3339),
	}
}

func (t *TokenPriceTool) fetchPrice(ctx context.Context, coin, currency string) (*TokenPriceResult, error) {
	params := url.Values{}
	params.Set("ids", coin)
	params.Set("vs_currencies", currency)
	params.Set("include_24hr_change", "true")

	priceURL := fmt.Sprintf("%s/simple/price?%s", t.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, priceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if t.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", t.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Response shape: { "<coin>": { "<currency>": 123.4, "<currency>_24h_change": -1.2 } }
	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	quotes, ok := payload[coin]
	if !ok {
		return nil, fmt.Errorf("price not found for coin %s", coin)
	}
	price, ok := quotes[currency]
	if !ok {
		return nil, fmt.Errorf("quote not found for currency %s", currency)
	}

	return &TokenPriceResult{
		Coin:        coin,
		Currency:    currency,
		Price:       price,
		Change24h:   quotes[currency+"_24h_change"],
		LastUpdated: time.Now().UTC(),
	}, nil
}
