package models

import (
	"strings"
	"testing"
)

func TestLoadChainsFromEnvDefaults(t *testing.T) {
	chains := LoadChainsFromEnv()

	for _, slug := range []string{"ethereum", "bsc", "polygon", "arbitrum", "base", "solana"} {
		chain, ok := chains[slug]
		if !ok {
			t.Errorf("default chain %s missing", slug)
			continue
		}
		if chain.SwapsURL == "" {
			t.Errorf("default chain %s has no endpoint", slug)
		}
	}
}

func TestLoadChainsFromEnvOverrides(t *testing.T) {
	t.Setenv("SWAPS_ENDPOINT_CHAIN_ETHEREUM", "https://internal.example.com/eth-swaps")
	t.Setenv("SWAPS_ENDPOINT_CHAIN_AVALANCHE", "https://internal.example.com/avax-swaps")
	t.Setenv("CHAIN_NAME_AVALANCHE", "Avalanche C-Chain")

	chains := LoadChainsFromEnv()

	if got := chains["ethereum"].SwapsURL; got != "https://internal.example.com/eth-swaps" {
		t.Errorf("env endpoint should override the default, got %s", got)
	}

	avax, ok := chains["avalanche"]
	if !ok {
		t.Fatal("env-configured chain missing")
	}
	if avax.Name != "Avalanche C-Chain" {
		t.Errorf("CHAIN_NAME_ override not applied, got %s", avax.Name)
	}
	if avax.SwapsURL != "https://internal.example.com/avax-swaps" {
		t.Errorf("unexpected endpoint %s", avax.SwapsURL)
	}
}

func TestLoadChainsFromEnvTitlesNewChains(t *testing.T) {
	t.Setenv("SWAPS_ENDPOINT_CHAIN_OPTIMISM", "https://internal.example.com/op-swaps")

	chains := LoadChainsFromEnv()
	if got := chains["optimism"].Name; got != "Optimism" {
		t.Errorf("expected a title-cased default name, got %s", got)
	}
}

func TestChainLookups(t *testing.T) {
	InitializeChains()

	if !IsValidChain("ethereum") || !IsValidChain("ETHEREUM") {
		t.Error("chain lookup should be case-insensitive")
	}
	if IsValidChain("dogechain") {
		t.Error("unknown chains must not validate")
	}

	chain, ok := GetChain("Solana")
	if !ok || chain.Slug != "solana" {
		t.Errorf("GetChain failed: %v %v", chain, ok)
	}

	slugs := ListChainSlugs()
	if len(slugs) < 6 {
		t.Errorf("expected at least the default chains, got %v", slugs)
	}
}

func TestErrUnsupportedChain(t *testing.T) {
	InitializeChains()

	err := ErrUnsupportedChain("dogechain")
	if !strings.Contains(err.Error(), "dogechain") {
		t.Errorf("error should name the offending chain: %v", err)
	}
	if !strings.Contains(err.Error(), "ethereum") {
		t.Errorf("error should list the supported chains: %v", err)
	}
}
