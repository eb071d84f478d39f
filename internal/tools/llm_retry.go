package tools

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
)

// LLMRetryConfig configures retry behavior for LLM calls
type LLMRetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	InitialDelay    time.Duration `json:"initial_delay"`
	MaxDelay        time.Duration `json:"max_delay"`
	BackoffFactor   float64       `json:"backoff_factor"`
	TimeoutPerRetry time.Duration `json:"timeout_per_retry"`
}

// DefaultLLMRetryConfig returns a sensible default configuration
func DefaultLLMRetryConfig() LLMRetryConfig {
	return LLMRetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		TimeoutPerRetry: 60 * time.Second,
	}
}

// LLMRetryWrapper wraps an LLM with retry logic for transient failures
type LLMRetryWrapper struct {
	llm    llms.Model
	config LLMRetryConfig
	logger zerolog.Logger
}

// NewLLMRetryWrapper creates a new retry wrapper for an LLM
func NewLLMRetryWrapper(llm llms.Model, config LLMRetryConfig, logger zerolog.Logger) *LLMRetryWrapper {
	return &LLMRetryWrapper{
		llm:    llm,
		config: config,
		logger: logger.With().Str("component", "llm_retry").Logger(),
	}
}

// GenerateContent calls the LLM, retrying transient failures with
// exponential backoff. Non-retryable errors fail immediately.
func (w *LLMRetryWrapper) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var lastErr error
	delay := w.config.InitialDelay

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		retryCtx, cancel := context.WithTimeout(ctx, w.config.TimeoutPerRetry)
		response, err := w.llm.GenerateContent(retryCtx, messages, options...)
		cancel()

		if err == nil {
			if attempt > 0 {
				w.logger.Debug().Int("attempt", attempt+1).Msg("LLM call recovered")
			}
			return response, nil
		}
		lastErr = err

		if attempt >= w.config.MaxRetries {
			break
		}
		if !isRetryableLLMError(err) {
			w.logger.Debug().Err(err).Msg("LLM error is not retryable")
			break
		}

		w.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Err(err).
			Msg("LLM call failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * w.config.BackoffFactor)
		if delay > w.config.MaxDelay {
			delay = w.config.MaxDelay
		}
	}

	return nil, fmt.Errorf("LLM call failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

// isRetryableLLMError determines if an error is worth retrying
func isRetryableLLMError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	// Deadline and cancellation errors
	if strings.Contains(errStr, "context canceled") ||
		strings.Contains(errStr, "context deadline exceeded") {
		return true
	}

	// Network-level failures
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "temporary failure") {
		return true
	}

	// Retryable HTTP statuses and provider throttling
	if strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "service unavailable") {
		return true
	}

	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	if urlErr, ok := err.(*url.Error); ok {
		return isRetryableLLMError(urlErr.Err)
	}

	return false
}
