package aggregator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// fetcher runs the per-source retry loop. Attempts within one source are
// strictly sequential; the backoff delay doubles after each failed attempt
// starting from the configured initial delay. Non-2xx responses and shape
// errors are retried exactly like connection errors; only an exhausted
// attempt budget surfaces as a failure.
type fetcher struct {
	client      *http.Client
	maxAttempts int
	timeout     time.Duration
	backoff     time.Duration
	logger      zerolog.Logger
}

func (f *fetcher) fetchWithRetry(ctx context.Context, src Source, limiter *rate.Limiter) ([]Record, error) {
	var lastErr error
	delay := f.backoff

	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
		records, err := f.fetchOnce(attemptCtx, src)
		cancel()

		if err == nil {
			if attempt > 1 {
				f.logger.Debug().Str("source", src.ID).Int("attempt", attempt).Msg("fetch recovered")
			}
			return records, nil
		}
		lastErr = err

		if attempt == f.maxAttempts {
			break
		}

		f.logger.Warn().
			Str("source", src.ID).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("fetch attempt failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled during retry delay: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%d attempts exhausted: %w", f.maxAttempts, lastErr)
}

// fetchOnce performs a single GET against the source and normalizes the body
func (f *fetcher) fetchOnce(ctx context.Context, src Source) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	sourceID := src.ID
	if sourceID == batchSourceID {
		// Batch responses carry each record's own chain; the normalizer
		// reads it from the payload.
		sourceID = ""
	}
	return parseFeed(body, sourceID)
}
