package aggregator

import (
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// batchSourceID marks a fetch against the batch endpoint; records fetched
// through it carry their origin chain inside the payload instead.
const batchSourceID = "_batch"

// Upstream feeds disagree on field spellings. The normalizer maps the known
// variants into the canonical Record shape explicitly instead of chaining
// fallback lookups at every use site; the raw object is preserved in Fields.
var (
	baseSymbolKeys  = []string{"baseSymbol", "base_symbol", "tokenIn", "token_in_symbol", "symbol0", "base"}
	quoteSymbolKeys = []string{"quoteSymbol", "quote_symbol", "tokenOut", "token_out_symbol", "symbol1", "quote"}
	valueUSDKeys    = []string{"valueUSD", "value_usd", "amountUSD", "amount_usd", "usdValue", "volumeUSD"}
	priceKeys       = []string{"price", "lastPrice", "close"}
	sideKeys        = []string{"side", "direction", "tradeType"}
	timestampKeys   = []string{"timestamp", "time", "ts", "blockTimestamp", "block_timestamp"}
	chainKeys       = []string{"chain", "network", "chainSlug"}
)

// parseFeed parses an upstream feed body shaped { data: [...], message?: string }.
// A missing or non-array data field is a shape error, reported to the retry
// loop like any other failed attempt.
func parseFeed(body []byte, sourceID string) ([]Record, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("malformed JSON response")
	}

	data := gjson.GetBytes(body, "data")
	if !data.Exists() || !data.IsArray() {
		if msg := gjson.GetBytes(body, "message"); msg.Exists() {
			return nil, fmt.Errorf("unexpected response shape: %s", msg.String())
		}
		return nil, fmt.Errorf("unexpected response shape: missing data array")
	}

	var records []Record
	data.ForEach(func(_, item gjson.Result) bool {
		records = append(records, normalizeRecord(item, sourceID))
		return true
	})
	return records, nil
}

// normalizeRecord maps one upstream object into the canonical Record. When
// sourceID is empty (batch fetch) the origin is taken from the payload's
// chain field, falling back to "unknown".
func normalizeRecord(item gjson.Result, sourceID string) Record {
	rec := Record{
		BaseSymbol:  firstString(item, baseSymbolKeys),
		QuoteSymbol: firstString(item, quoteSymbolKeys),
		ValueUSD:    firstFloat(item, valueUSDKeys),
		Side:        strings.ToLower(firstString(item, sideKeys)),
		Timestamp:   parseTimestamp(item),
		Source:      sourceID,
	}

	if rec.ValueUSD == 0 {
		// Some feeds only publish a unit price and an amount
		if price := firstFloat(item, priceKeys); price > 0 {
			if amount := item.Get("amount"); amount.Exists() {
				rec.ValueUSD = price * amount.Float()
			}
		}
	}

	if rec.Source == "" {
		rec.Source = firstString(item, chainKeys)
		if rec.Source == "" {
			rec.Source = "unknown"
		}
	}

	if fields, ok := item.Value().(map[string]interface{}); ok {
		rec.Fields = fields
	}

	return rec
}

func firstString(item gjson.Result, keys []string) string {
	for _, key := range keys {
		if v := item.Get(key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func firstFloat(item gjson.Result, keys []string) float64 {
	for _, key := range keys {
		if v := item.Get(key); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC 3339 strings
func parseTimestamp(item gjson.Result) time.Time {
	for _, key := range timestampKeys {
		v := item.Get(key)
		if !v.Exists() {
			continue
		}

		switch v.Type {
		case gjson.Number:
			n := v.Int()
			if n <= 0 {
				continue
			}
			if n > 1e12 { // milliseconds
				return time.UnixMilli(n).UTC()
			}
			return time.Unix(n, 0).UTC()
		case gjson.String:
			if ts, err := time.Parse(time.RFC3339, v.String()); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}
