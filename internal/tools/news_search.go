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

const (
	defaultNewsAPIBase = "https://newsdata.io/api/1"
	maxNewsResults     = 10
)

// NewsSearchTool searches crypto and financial news headlines
type NewsSearchTool struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	logger     zerolog.Logger
}

// NewsArticle is one trimmed search hit
type NewsArticle struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Source      string `json:"source"`
	PublishedAt string `json:"published_at"`
	Description string `json:"description,omitempty"`
}

// NewNewsSearchTool creates a new news search tool
func NewNewsSearchTool(apiKey string, c cache.Cache, logger zerolog.Logger) *NewsSearchTool {
	return &NewsSearchTool{
		apiKey:  apiKey,
		baseURL: defaultNewsAPIBase,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		cache:  c,
		logger: logger.With().Str("tool", "news_search").Logger(),
	}
}

// SetBaseURL overrides the API base URL (used by tests)
func (t *NewsSearchTool) SetBaseURL(base string) {
	t.baseURL = strings.TrimRight(base, "/")
}

// IsAvailable returns whether the news API is available (has API key)
func (t *NewsSearchTool) IsAvailable() bool {
	return t.apiKey != ""
}

// Name returns the tool name
func (t *NewsSearchTool) Name() string {
	return "news_search"
}

// Description returns the tool description
func (t *NewsSearchTool) Description() string {
	return "Searches recent cryptocurrency and financial news headlines for a query, e.g. 'bitcoin etf'."
}

// Parameters returns the JSON schema for the tool-calling protocol
func (t *NewsSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Search query",
			},
		},
		"required": []string{"query"},
	}
}

// Run executes the news search
func (t *NewsSearchTool) Run(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query, _ := input["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewToolError("news_search", "query is required", "MISSING_PARAMS")
	}
	if !t.IsAvailable() {
		return nil, NewToolError("news_search", "news API key not configured", "NOT_CONFIGURED")
	}

	cacheKey := fmt.Sprintf(cache.NewsKeyPattern, strings.ToLower(query))
	if t.cache != nil {
		var cached []NewsArticle
		if err := t.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			t.logger.Debug().Str("query", query).Msg("news served from cache")
			return newsEnvelope(query, cached), nil
		}
	}

	articles, err := t.search(ctx, query)
	if err != nil {
		return nil, NewToolError("news_search", fmt.Sprintf("failed to search news: %v", err), "NEWS_FETCH_ERROR")
	}

	if t.cache != nil {
		if err := t.cache.SetJSON(ctx, cacheKey, articles, cache.NewsTTL); err != nil {
			t.logger.Warn().Err(err).Str("query", query).Msg("failed to cache news")
		}
	}

	return newsEnvelope(query, articles), nil
}

func newsEnvelope(query string, articles []NewsArticle) map[string]interface{} {
	return map[string]interface{}{
		"success":   true,
		"query":     query,
		"articles":  articles,
		"count":     len(articles),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

func (t *NewsSearchTool) search(ctx context.Context, query string) ([]NewsArticle, error) {
	params := url.Values{}
	params.Set("apikey", t.apiKey)
	params.Set("q", query)
	params.Set("language", "en")

	searchURL := fmt.Sprintf("%s/crypto?%s", t.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
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

	var payload struct {
		Status  string `json:"status"`
		Results []struct {
			Title       string `json:"title"`
			Link        string `json:"link"`
			SourceID    string `json:"source_id"`
			PubDate     string `json:"pubDate"`
			Description string `json:"description"`
		} `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if payload.Status != "success" {
		return nil, fmt.Errorf("API returned status %q", payload.Status)
	}

	var articles []NewsArticle
	for _, r := range payload.Results {
		if len(articles) >= maxNewsResults {
			break
		}
		articles = append(articles, NewsArticle{
			Title:       r.Title,
			Link:        r.Link,
			Source:      r.SourceID,
			PublishedAt: r.PubDate,
			Description: r.Description,
		})
	}
	return articles, nil
}
