package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Chain represents one supported blockchain network whose swap feed we query
type Chain struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	SwapsURL string `json:"swaps_url"`
}

// SupportedChains will be populated from environment variables or defaults
var SupportedChains map[string]Chain

// Default chains (used as fallback if no env vars are configured)
var defaultChains = map[string]Chain{
	"ethereum": {
		Slug:     "ethereum",
		Name:     "Ethereum",
		SwapsURL: "https://api.whalestream.io/v1/swaps/ethereum",
	},
	"bsc": {
		Slug:     "bsc",
		Name:     "BNB Smart Chain",
		SwapsURL: "https://api.whalestream.io/v1/swaps/bsc",
	},
	"polygon": {
		Slug:     "polygon",
		Name:     "Polygon",
		SwapsURL: "https://api.whalestream.io/v1/swaps/polygon",
	},
	"arbitrum": {
		Slug:     "arbitrum",
		Name:     "Arbitrum",
		SwapsURL: "https://api.whalestream.io/v1/swaps/arbitrum",
	},
	"base": {
		Slug:     "base",
		Name:     "Base",
		SwapsURL: "https://api.whalestream.io/v1/swaps/base",
	},
	"solana": {
		Slug:     "solana",
		Name:     "Solana",
		SwapsURL: "https://api.whalestream.io/v1/swaps/solana",
	},
}

// LoadChainsFromEnv loads chain configurations from environment variables.
// Uses the pattern: SWAPS_ENDPOINT_CHAIN_<SLUG> and CHAIN_NAME_<SLUG>
func LoadChainsFromEnv() map[string]Chain {
	chains := make(map[string]Chain)

	// First, load defaults
	for slug, chain := range defaultChains {
		chains[slug] = chain
	}

	// Look for swap endpoint environment variables
	for _, envVar := range os.Environ() {
		parts := strings.SplitN(envVar, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := parts[0]
		value := parts[1]

		if strings.HasPrefix(key, "SWAPS_ENDPOINT_CHAIN_") {
			slug := strings.ToLower(strings.TrimPrefix(key, "SWAPS_ENDPOINT_CHAIN_"))
			if slug == "" {
				continue
			}

			// Get or create chain for this slug
			chain, exists := chains[slug]
			if !exists {
				chain = Chain{
					Slug: slug,
					Name: titleCase(slug),
				}
			}
			chain.SwapsURL = value
			chains[slug] = chain
		}
	}

	// Load chain display names from environment variables
	for _, envVar := range os.Environ() {
		parts := strings.SplitN(envVar, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := parts[0]
		value := parts[1]

		if strings.HasPrefix(key, "CHAIN_NAME_") {
			slug := strings.ToLower(strings.TrimPrefix(key, "CHAIN_NAME_"))
			if chain, exists := chains[slug]; exists {
				chain.Name = value
				chains[slug] = chain
			}
		}
	}

	return chains
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// InitializeChains initializes SupportedChains from environment variables or defaults
func InitializeChains() {
	SupportedChains = LoadChainsFromEnv()
}

// IsValidChain checks if the chain slug is supported
func IsValidChain(slug string) bool {
	if SupportedChains == nil {
		InitializeChains()
	}
	_, exists := SupportedChains[strings.ToLower(slug)]
	return exists
}

// GetChain returns chain info for a given slug
func GetChain(slug string) (Chain, bool) {
	if SupportedChains == nil {
		InitializeChains()
	}
	chain, exists := SupportedChains[strings.ToLower(slug)]
	return chain, exists
}

// ListChainSlugs returns a slice of all configured chain slugs
func ListChainSlugs() []string {
	if SupportedChains == nil {
		InitializeChains()
	}

	var slugs []string
	for slug := range SupportedChains {
		slugs = append(slugs, slug)
	}
	return slugs
}

// ChatRequest represents the input request for a conversational query
type ChatRequest struct {
	Message string `json:"message" validate:"required"`
	Model   string `json:"model,omitempty"`
}

// ChatResponse holds the agent's final answer plus tool-call diagnostics
type ChatResponse struct {
	RequestID string     `json:"request_id"`
	Answer    string     `json:"answer"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ToolCall records one tool invocation made while answering a chat request
type ToolCall struct {
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
	Succeeded bool   `json:"succeeded"`
}

// SwapsRequest mirrors the big_swaps tool arguments for the direct HTTP endpoint
type SwapsRequest struct {
	Chain       string  `json:"chain,omitempty"`
	Token       string  `json:"token,omitempty"`
	Pair        string  `json:"pair,omitempty"`
	Side        string  `json:"side,omitempty"`
	MinValueUSD float64 `json:"min_value_usd,omitempty"`
	Limit       int     `json:"limit,omitempty"`
}

// ToJSON converts any struct to JSON string
func ToJSON(v interface{}) string {
	bytes, _ := json.Marshal(v)
	return string(bytes)
}

// ErrUnsupportedChain builds the standard error for a chain outside the registry
func ErrUnsupportedChain(slug string) error {
	return fmt.Errorf("unsupported chain %q, supported: %s", slug, strings.Join(ListChainSlugs(), ", "))
}
