package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Defaults for one aggregation call. Callers can override the retry knobs
// through Config; the filter semantics are fixed.
const (
	DefaultLimit       = 20
	DefaultMaxAttempts = 3
	DefaultTimeout     = 10 * time.Second
	DefaultBackoff     = 1 * time.Second

	// SymbolPreviewLimit caps the distinct-symbol hint returned with every result
	SymbolPreviewLimit = 20
)

// Source is one upstream swap feed (usually one chain's endpoint)
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Record is one normalized swap attributable to exactly one source.
// The origin source is stamped at fetch time and never reassigned.
type Record struct {
	BaseSymbol  string                 `json:"base_symbol"`
	QuoteSymbol string                 `json:"quote_symbol"`
	ValueUSD    float64                `json:"value_usd"`
	Side        string                 `json:"side,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      string                 `json:"source"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// Query carries the caller-supplied selection and filter parameters for one
// aggregation call. Every field is optional. A Limit <= 0 means "no limit";
// callers wanting the default page size set Limit to DefaultLimit themselves.
type Query struct {
	Source      string  `json:"source,omitempty"`
	Token       string  `json:"token,omitempty"`
	Pair        string  `json:"pair,omitempty"`
	Side        string  `json:"side,omitempty"`
	MinValueUSD float64 `json:"min_value_usd,omitempty"`
	Limit       int     `json:"limit,omitempty"`
}

// SourceFailure records one source whose retry budget was exhausted
type SourceFailure struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// Result is the outcome of one aggregation call. Partial source failure is
// represented here as data, never as an error.
type Result struct {
	Records   []Record            `json:"records"`
	BySource  map[string][]Record `json:"by_source"`
	Count     int                 `json:"count"`
	Succeeded []string            `json:"succeeded"`
	Failed    []SourceFailure     `json:"failed,omitempty"`
	Symbols   []string            `json:"symbols,omitempty"`
}

// TotalFailureError is returned when no source produced any data: either the
// candidate set was empty or every candidate exhausted its retry budget.
type TotalFailureError struct {
	Failed []SourceFailure
}

func (e *TotalFailureError) Error() string {
	if len(e.Failed) == 0 {
		return "no candidate sources to query"
	}
	return fmt.Sprintf("all %d sources failed", len(e.Failed))
}

// Config configures an Aggregator
type Config struct {
	Sources []Source

	// BatchURL is an optional endpoint returning all sources' records in one
	// call, used instead of fanning out when the query selects neither a
	// source nor a token. Exhaustion of the batch endpoint falls back to a
	// full fan-out before the call is declared a total failure.
	BatchURL string

	HTTPClient *http.Client

	// Retry knobs, zero values fall back to the package defaults
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialBackoff time.Duration

	// Per-source request rate gate. Zero means unlimited.
	RateLimit rate.Limit
	RateBurst int

	Logger zerolog.Logger
}

// Aggregator fans a query out across upstream swap feeds, retries transient
// failures per source, and merges, filters, sorts and truncates the results.
// It keeps no cross-call state beyond its configuration.
type Aggregator struct {
	sources  []Source
	batchURL string
	fetcher  *fetcher
	limiters map[string]*rate.Limiter
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// New creates an Aggregator from the given configuration
func New(cfg Config) *Aggregator {
	client := cfg.HTTPClient
	if client == nil {
		// No client-level timeout: each attempt is bounded by its own context
		client = &http.Client{}
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	backoff := cfg.InitialBackoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}

	sources := make([]Source, len(cfg.Sources))
	copy(sources, cfg.Sources)
	sort.Slice(sources, func(i, j int) bool { return sources[i].ID < sources[j].ID })

	limiters := make(map[string]*rate.Limiter, len(sources))
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		for _, src := range sources {
			limiters[src.ID] = rate.NewLimiter(cfg.RateLimit, burst)
		}
	}

	return &Aggregator{
		sources:  sources,
		batchURL: cfg.BatchURL,
		fetcher: &fetcher{
			client:      client,
			maxAttempts: maxAttempts,
			timeout:     timeout,
			backoff:     backoff,
			logger:      cfg.Logger,
		},
		limiters: limiters,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("coinscout/aggregator"),
	}
}

// Sources returns the configured sources in ID order
func (a *Aggregator) Sources() []Source {
	out := make([]Source, len(a.sources))
	copy(out, a.sources)
	return out
}

// Aggregate executes one query. Partial source failure is reported inside the
// Result; a non-nil error is returned only on total failure (empty candidate
// set or every candidate exhausted).
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.Aggregate", trace.WithAttributes(
		attribute.String("query.source", q.Source),
		attribute.String("query.token", q.Token),
		attribute.Int("query.limit", q.Limit),
	))
	defer span.End()

	candidates, err := a.selectSources(q)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &TotalFailureError{}
	}
	span.SetAttributes(attribute.Int("sources.candidates", len(candidates)))

	// Batch shortcut: only when the query names neither a source nor a token,
	// so a single call can stand in for the full fan-out.
	if a.batchURL != "" && q.Source == "" && q.Token == "" {
		records, batchErr := a.fetchSource(ctx, Source{ID: batchSourceID, Name: "batch", URL: a.batchURL})
		if batchErr == nil {
			succeeded := make([]string, 0, len(candidates))
			for _, src := range candidates {
				succeeded = append(succeeded, src.ID)
			}
			return a.buildResult(q, records, succeeded, nil), nil
		}
		a.logger.Warn().Err(batchErr).Msg("batch endpoint exhausted, falling back to fan-out")
	}

	merged, succeeded, failed := a.fanOut(ctx, candidates)
	if len(succeeded) == 0 {
		span.SetAttributes(attribute.Int("sources.failed", len(failed)))
		return nil, &TotalFailureError{Failed: failed}
	}

	return a.buildResult(q, merged, succeeded, failed), nil
}

// selectSources resolves the candidate set for a query: a named source limits
// the set to that one source, anything else is a full fan-out.
func (a *Aggregator) selectSources(q Query) ([]Source, error) {
	if q.Source == "" {
		return a.sources, nil
	}

	want := strings.ToLower(q.Source)
	for _, src := range a.sources {
		if strings.ToLower(src.ID) == want {
			return []Source{src}, nil
		}
	}
	return nil, fmt.Errorf("unknown source %q", q.Source)
}

// fanOut fetches every candidate concurrently and waits for all of them to
// settle. Each goroutine writes only its own slot, so no locking is needed;
// merge order is candidate order (sorted by source ID) then fetch order.
func (a *Aggregator) fanOut(ctx context.Context, candidates []Source) ([]Record, []string, []SourceFailure) {
	type slot struct {
		records []Record
		err     error
	}

	slots := make([]slot, len(candidates))
	var wg sync.WaitGroup
	for i, src := range candidates {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			records, err := a.fetchSource(ctx, src)
			slots[i] = slot{records: records, err: err}
		}(i, src)
	}
	wg.Wait()

	var merged []Record
	var succeeded []string
	var failed []SourceFailure
	for i, src := range candidates {
		if slots[i].err != nil {
			failed = append(failed, SourceFailure{Source: src.ID, Reason: slots[i].err.Error()})
			continue
		}
		succeeded = append(succeeded, src.ID)
		merged = append(merged, slots[i].records...)
	}
	return merged, succeeded, failed
}

// fetchSource runs one source's sequential retry loop inside its own span
func (a *Aggregator) fetchSource(ctx context.Context, src Source) ([]Record, error) {
	ctx, span := a.tracer.Start(ctx, "aggregator.fetchSource", trace.WithAttributes(
		attribute.String("source.id", src.ID),
	))
	defer span.End()

	records, err := a.fetcher.fetchWithRetry(ctx, src, a.limiters[src.ID])
	if err != nil {
		span.SetAttributes(attribute.Bool("source.exhausted", true))
		return nil, err
	}
	span.SetAttributes(attribute.Int("source.records", len(records)))
	return records, nil
}

// buildResult applies the filter chain, sorts, truncates and shapes the result
func (a *Aggregator) buildResult(q Query, merged []Record, succeeded []string, failed []SourceFailure) *Result {
	symbols := symbolPreview(merged)

	filtered := applyFilters(q, merged, a.logger)

	// Timestamp descending; the stable sort preserves merge order for ties,
	// which is source-ID order then original fetch order.
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[:q.Limit]
	}

	bySource := make(map[string][]Record)
	for _, rec := range filtered {
		key := rec.Source
		if key == "" {
			key = "unknown"
		}
		bySource[key] = append(bySource[key], rec)
	}

	sort.Strings(succeeded)

	return &Result{
		Records:   filtered,
		BySource:  bySource,
		Count:     len(filtered),
		Succeeded: succeeded,
		Failed:    failed,
		Symbols:   symbols,
	}
}

// applyFilters runs the filter chain in its fixed order: token substring,
// exact pair, side, minimum value. A stage whose query field is empty is a
// no-op. The token substring filter applies whether or not a source was
// explicitly selected.
func applyFilters(q Query, records []Record, logger zerolog.Logger) []Record {
	out := records

	if q.Token != "" {
		token := strings.ToLower(q.Token)
		out = keep(out, func(r Record) bool {
			return strings.Contains(strings.ToLower(r.BaseSymbol), token) ||
				strings.Contains(strings.ToLower(r.QuoteSymbol), token)
		})
	}

	if q.Pair != "" {
		first, second, ok := splitPair(q.Pair)
		if !ok {
			logger.Warn().Str("pair", q.Pair).Msg("ignoring malformed pair filter, expected BASE/QUOTE")
		} else {
			out = keep(out, func(r Record) bool {
				base := strings.ToLower(r.BaseSymbol)
				quote := strings.ToLower(r.QuoteSymbol)
				return (base == first && quote == second) || (base == second && quote == first)
			})
		}
	}

	if q.Side != "" {
		side := strings.ToLower(q.Side)
		out = keep(out, func(r Record) bool {
			return strings.ToLower(r.Side) == side
		})
	}

	if q.MinValueUSD > 0 {
		out = keep(out, func(r Record) bool {
			return r.ValueUSD >= q.MinValueUSD
		})
	}

	return out
}

func keep(records []Record, pred func(Record) bool) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// splitPair parses a "BASE/QUOTE" filter into its two lowercased identifiers
func splitPair(pair string) (string, string, bool) {
	parts := strings.SplitN(pair, "/", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	first := strings.ToLower(strings.TrimSpace(parts[0]))
	second := strings.ToLower(strings.TrimSpace(parts[1]))
	if first == "" || second == "" {
		return "", "", false
	}
	return first, second, true
}

// symbolPreview collects the distinct symbols observed across the merged
// records, capped at SymbolPreviewLimit, to help callers reformulate
// zero-match queries.
func symbolPreview(records []Record) []string {
	seen := make(map[string]bool)
	var symbols []string
	add := func(sym string) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			return
		}
		seen[sym] = true
		if len(symbols) < SymbolPreviewLimit {
			symbols = append(symbols, sym)
		}
	}
	for _, rec := range records {
		if len(symbols) >= SymbolPreviewLimit {
			break
		}
		add(rec.BaseSymbol)
		add(rec.QuoteSymbol)
	}
	return symbols
}
