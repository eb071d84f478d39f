package aggregator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestFetcher(attempts int) *fetcher {
	return &fetcher{
		client:      &http.Client{},
		maxAttempts: attempts,
		timeout:     2 * time.Second,
		backoff:     time.Millisecond,
		logger:      zerolog.Nop(),
	}
}

func TestFetchWithRetryExhaustion(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no luck", http.StatusBadGateway)
	}))
	defer server.Close()

	f := newTestFetcher(3)
	_, err := f.fetchWithRetry(context.Background(), Source{ID: "ethereum", URL: server.URL}, nil)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", got)
	}
	if !strings.Contains(err.Error(), "attempts exhausted") {
		t.Errorf("exhaustion error should say so: %q", err)
	}
	// The last attempt's error is preserved for diagnostics
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("exhaustion error should wrap the last failure: %q", err)
	}
}

func TestFetchWithRetryBackoffDoubles(t *testing.T) {
	var stamps []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stamps = append(stamps, time.Now())
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestFetcher(3)
	f.backoff = 50 * time.Millisecond

	_, err := f.fetchWithRetry(context.Background(), Source{ID: "ethereum", URL: server.URL}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(stamps) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stamps))
	}

	firstGap := stamps[1].Sub(stamps[0])
	secondGap := stamps[2].Sub(stamps[1])
	if firstGap < 50*time.Millisecond {
		t.Errorf("first backoff too short: %v", firstGap)
	}
	if secondGap < 100*time.Millisecond {
		t.Errorf("second backoff should be doubled, got %v", secondGap)
	}
}

func TestFetchWithRetryHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	f := newTestFetcher(3)
	f.backoff = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.fetchWithRetry(ctx, Source{ID: "ethereum", URL: server.URL}, nil)
		done <- err
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
		if !strings.Contains(err.Error(), "cancelled") {
			t.Errorf("expected cancellation reason, got %q", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetchWithRetry did not return promptly after cancellation")
	}
}

func TestFetchOnceAttemptTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	f := newTestFetcher(1)
	f.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := f.fetchWithRetry(context.Background(), Source{ID: "slow", URL: server.URL}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("attempt should have been cut off by its own timeout, took %v", elapsed)
	}
}

func TestFetchOnceNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	f := newTestFetcher(1)
	_, err := f.fetchOnce(context.Background(), Source{ID: "ethereum", URL: server.URL})
	if err == nil {
		t.Fatal("expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should carry the status code: %q", err)
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("error should carry a body excerpt: %q", err)
	}
}

func TestFetchOnceSetsAcceptHeader(t *testing.T) {
	var accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer server.Close()

	f := newTestFetcher(1)
	if _, err := f.fetchOnce(context.Background(), Source{ID: "ethereum", URL: server.URL}); err != nil {
		t.Fatalf("fetchOnce failed: %v", err)
	}
	if accept != "application/json" {
		t.Errorf("expected Accept: application/json, got %q", accept)
	}
}
