package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
)

// flakyLLM fails a fixed number of times before succeeding
type flakyLLM struct {
	failures int
	err      error
	calls    int
}

func (f *flakyLLM) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: "ok"}},
	}, nil
}

func (f *flakyLLM) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func fastRetryConfig() LLMRetryConfig {
	return LLMRetryConfig{
		MaxRetries:      3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        10 * time.Millisecond,
		BackoffFactor:   2.0,
		TimeoutPerRetry: time.Second,
	}
}

func TestLLMRetryRecovers(t *testing.T) {
	llm := &flakyLLM{failures: 2, err: errors.New("connection refused")}
	w := NewLLMRetryWrapper(llm, fastRetryConfig(), zerolog.Nop())

	resp, err := w.GenerateContent(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if resp.Choices[0].Content != "ok" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if llm.calls != 3 {
		t.Errorf("expected 3 calls, got %d", llm.calls)
	}
}

func TestLLMRetryGivesUpAfterBudget(t *testing.T) {
	llm := &flakyLLM{failures: 100, err: errors.New("503 service unavailable")}
	w := NewLLMRetryWrapper(llm, fastRetryConfig(), zerolog.Nop())

	_, err := w.GenerateContent(context.Background(), nil)
	if err == nil {
		t.Fatal("expected failure after the retry budget")
	}
	if llm.calls != 4 {
		t.Errorf("expected initial attempt plus 3 retries, got %d calls", llm.calls)
	}
}

func TestLLMRetryStopsOnNonRetryableError(t *testing.T) {
	llm := &flakyLLM{failures: 100, err: errors.New("invalid api key")}
	w := NewLLMRetryWrapper(llm, fastRetryConfig(), zerolog.Nop())

	_, err := w.GenerateContent(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if llm.calls != 1 {
		t.Errorf("non-retryable errors must fail immediately, got %d calls", llm.calls)
	}
}

func TestIsRetryableLLMError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), true},
		{errors.New("request timeout"), true},
		{errors.New("429 too many requests"), true},
		{errors.New("rate limit exceeded"), true},
		{errors.New("502 bad gateway"), true},
		{errors.New("model overloaded"), true},
		{errors.New("invalid api key"), false},
		{errors.New("unsupported model"), false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			if got := isRetryableLLMError(tt.err); got != tt.want {
				t.Errorf("isRetryableLLMError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
