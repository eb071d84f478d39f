package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/coinscout/coinscout/internal/aggregator"
)

// BigSwapsTool surfaces the multi-chain swap aggregator to the agent. It
// never returns a Go error for aggregation outcomes: partial and total
// failures alike are folded into the success/failure envelope so the model
// always has structured data to reason about.
type BigSwapsTool struct {
	agg    *aggregator.Aggregator
	logger zerolog.Logger
}

// NewBigSwapsTool creates the big swaps tool on top of an aggregator
func NewBigSwapsTool(agg *aggregator.Aggregator, logger zerolog.Logger) *BigSwapsTool {
	return &BigSwapsTool{
		agg:    agg,
		logger: logger.With().Str("tool", "big_swaps").Logger(),
	}
}

// Name returns the tool name
func (t *BigSwapsTool) Name() string {
	return "big_swaps"
}

// Description returns the tool description
func (t *BigSwapsTool) Description() string {
	return "Fetches recent large swaps (whale trades) across supported blockchains. " +
		"Can filter by chain, token symbol, exact pair (e.g. ETH/USDT), trade side (buy/sell) and minimum USD value."
}

// Parameters returns the JSON schema for the tool-calling protocol
func (t *BigSwapsTool) Parameters() map[string]interface{} {
	var chains []string
	for _, src := range t.agg.Sources() {
		chains = append(chains, src.ID)
	}

	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"chain": map[string]interface{}{
				"type":        "string",
				"description": "Restrict to one chain",
				"enum":        chains,
			},
			"token": map[string]interface{}{
				"type":        "string",
				"description": "Token symbol substring to search for, e.g. PEPE",
			},
			"pair": map[string]interface{}{
				"type":        "string",
				"description": "Exact trading pair in BASE/QUOTE form, order-insensitive, e.g. ETH/USDT",
			},
			"side": map[string]interface{}{
				"type":        "string",
				"description": "Trade direction",
				"enum":        []string{"buy", "sell"},
			},
			"min_value_usd": map[string]interface{}{
				"type":        "number",
				"description": "Minimum swap value in USD",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of swaps to return (default 20, 0 or negative for all)",
			},
		},
	}
}

// Run executes one aggregation and shapes the envelope
func (t *BigSwapsTool) Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query := parseQuery(input)

	result, err := t.agg.Aggregate(ctx, query)
	if err != nil {
		return t.failureEnvelope(query, err), nil
	}

	envelope := map[string]interface{}{
		"success":          true,
		"data":             result.Records,
		"dataByChain":      result.BySource,
		"count":            result.Count,
		"message":          summarize(result),
		"supportedChains":  t.supportedChains(),
		"filteredChain":    query.Source,
		"chainsChecked":    result.Succeeded,
		"failedChains":     result.Failed,
		"filters":          query,
		"availableSymbols": result.Symbols,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	}

	if result.Count == 0 {
		envelope["message"] = "No swaps matched the given filters. Try relaxing them or one of the availableSymbols."
	}

	return envelope, nil
}

// parseQuery maps tool-call arguments onto an aggregator query. A limit that
// is absent defaults to the standard page size; an explicit non-positive
// limit means "no limit".
func parseQuery(input map[string]interface{}) aggregator.Query {
	query := aggregator.Query{Limit: aggregator.DefaultLimit}

	if chain, ok := input["chain"].(string); ok {
		query.Source = strings.TrimSpace(chain)
	}
	if token, ok := input["token"].(string); ok {
		query.Token = strings.TrimSpace(token)
	}
	if pair, ok := input["pair"].(string); ok {
		query.Pair = strings.TrimSpace(pair)
	}
	if side, ok := input["side"].(string); ok {
		query.Side = strings.TrimSpace(side)
	}
	if minValue, ok := toFloat(input["min_value_usd"]); ok {
		query.MinValueUSD = minValue
	}
	if limit, ok := toFloat(input["limit"]); ok {
		if limit <= 0 {
			query.Limit = 0
		} else {
			query.Limit = int(limit)
		}
	}

	return query
}

// toFloat accepts the numeric spellings a tool call can produce
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (t *BigSwapsTool) supportedChains() []string {
	var chains []string
	for _, src := range t.agg.Sources() {
		chains = append(chains, src.ID)
	}
	return chains
}

func (t *BigSwapsTool) failureEnvelope(query aggregator.Query, err error) map[string]interface{} {
	t.logger.Error().Err(err).Msg("aggregation failed")

	envelope := map[string]interface{}{
		"success":         false,
		"error":           err.Error(),
		"message":         "Could not fetch swap data right now.",
		"suggestion":      "Retry in a moment, or use the token_price or market_stats tools for current prices.",
		"supportedChains": t.supportedChains(),
		"filteredChain":   query.Source,
		"filters":         query,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	var total *aggregator.TotalFailureError
	if errors.As(err, &total) && len(total.Failed) > 0 {
		envelope["failedChains"] = total.Failed
	}

	return envelope
}

// summarize builds the human-readable line the model quotes back to users
func summarize(result *aggregator.Result) string {
	var totalUSD float64
	for _, rec := range result.Records {
		totalUSD += rec.ValueUSD
	}

	msg := fmt.Sprintf("Found %d swaps across %d chains totaling $%s",
		result.Count, len(result.Succeeded), humanize.CommafWithDigits(totalUSD, 2))
	if len(result.Failed) > 0 {
		var failed []string
		for _, f := range result.Failed {
			failed = append(failed, f.Source)
		}
		msg += fmt.Sprintf(" (no data from: %s)", strings.Join(failed, ", "))
	}
	return msg
}
