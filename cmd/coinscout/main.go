package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/coinscout/coinscout/internal/agent"
	"github.com/coinscout/coinscout/internal/aggregator"
	"github.com/coinscout/coinscout/internal/api"
	"github.com/coinscout/coinscout/internal/cache"
	"github.com/coinscout/coinscout/internal/models"
	"github.com/coinscout/coinscout/internal/tools"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Don't fail if .env doesn't exist
		fmt.Fprintf(os.Stderr, "no .env file loaded: %v\n", err)
	}

	// Initialize chains from environment variables
	models.InitializeChains()

	var (
		httpAddr    = flag.String("http-addr", ":8080", "HTTP server address")
		openaiKey   = flag.String("openai-key", "", "OpenAI API key (can also be set via OPENAI_API_KEY env var)")
		model       = flag.String("model", "", "Model name override")
		showVersion = flag.Bool("version", false, "Show version and exit")
		verbose     = flag.Bool("v", false, "Verbose mode - debug-level logging")
		ask         = flag.String("ask", "", "One-shot mode: answer a single question and exit")
		swapsMode   = flag.Bool("swaps", false, "One-shot mode: run a swap aggregation and print the envelope")
		chainFlag   = flag.String("chain", "", "Swaps mode: restrict to one chain")
		tokenFlag   = flag.String("token", "", "Swaps mode: token symbol substring filter")
		pairFlag    = flag.String("pair", "", "Swaps mode: exact pair filter, e.g. ETH/USDT")
		sideFlag    = flag.String("side", "", "Swaps mode: trade side filter (buy/sell)")
		minUSDFlag  = flag.Float64("min-usd", 0, "Swaps mode: minimum swap value in USD")
		limitFlag   = flag.Int("limit", aggregator.DefaultLimit, "Swaps mode: result limit (0 or negative for all)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println("coinscout v1.0.0")
		fmt.Println("AI-powered crypto search service")
		os.Exit(0)
	}

	logger := newLogger(*verbose)

	toolCache := newCache(logger)
	swapsTool := newSwapsTool(logger)

	if *swapsMode {
		runSwaps(swapsTool, *chainFlag, *tokenFlag, *pairFlag, *sideFlag, *minUSDFlag, *limitFlag, logger)
		return
	}

	apiKey := *openaiKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		logger.Fatal().Msg("OpenAI API key is required, set OPENAI_API_KEY or use -openai-key")
	}

	toolset := buildToolset(swapsTool, toolCache, logger)
	scout, err := agent.New(apiKey, *model, toolset, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize agent")
	}

	if *ask != "" {
		runAsk(scout, *ask, logger)
		return
	}

	runServer(*httpAddr, scout, swapsTool, logger)
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	var logger zerolog.Logger
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

// newCache prefers Redis when configured, falling back to an in-process cache
func newCache(logger zerolog.Logger) cache.Cache {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		db := 0
		if raw := os.Getenv("REDIS_DB"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				db = parsed
			}
		}
		logger.Info().Str("addr", addr).Msg("using Redis cache")
		return cache.NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), db, "coinscout")
	}

	memory, err := cache.NewMemoryCache(0)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create memory cache")
	}
	logger.Info().Msg("using in-process cache")
	return memory
}

func newSwapsTool(logger zerolog.Logger) *tools.BigSwapsTool {
	var sources []aggregator.Source
	for _, slug := range models.ListChainSlugs() {
		chain, _ := models.GetChain(slug)
		sources = append(sources, aggregator.Source{
			ID:   chain.Slug,
			Name: chain.Name,
			URL:  chain.SwapsURL,
		})
	}

	agg := aggregator.New(aggregator.Config{
		Sources:   sources,
		BatchURL:  os.Getenv("SWAPS_BATCH_ENDPOINT"),
		RateLimit: rate.Limit(5),
		RateBurst: 2,
		Logger:    logger,
	})
	return tools.NewBigSwapsTool(agg, logger)
}

func buildToolset(swapsTool *tools.BigSwapsTool, toolCache cache.Cache, logger zerolog.Logger) []tools.Tool {
	toolset := []tools.Tool{
		swapsTool,
		tools.NewTokenPriceTool(os.Getenv("COINGECKO_API_KEY"), toolCache, logger),
		tools.NewMarketStatsTool(toolCache, logger),
	}

	// News search needs its own key, register it only when configured
	if newsKey := os.Getenv("NEWSDATA_API_KEY"); newsKey != "" {
		toolset = append(toolset, tools.NewNewsSearchTool(newsKey, toolCache, logger))
	}

	return toolset
}

// runAsk answers a single question and prints the result
func runAsk(scout *agent.Agent, question string, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	response, err := scout.Ask(ctx, question)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to answer")
	}
	fmt.Println(response.Answer)
}

// runSwaps runs one aggregation directly and prints the envelope as JSON
func runSwaps(swapsTool *tools.BigSwapsTool, chain, token, pair, side string, minUSD float64, limit int, logger zerolog.Logger) {
	input := map[string]interface{}{
		"limit": float64(limit),
	}
	if chain != "" {
		input["chain"] = chain
	}
	if token != "" {
		input["token"] = token
	}
	if pair != "" {
		input["pair"] = pair
	}
	if side != "" {
		input["side"] = side
	}
	if minUSD > 0 {
		input["min_value_usd"] = minUSD
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	envelope, err := swapsTool.Run(ctx, input)
	if err != nil {
		logger.Fatal().Err(err).Msg("aggregation failed")
	}

	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to encode envelope")
	}
	fmt.Println(string(out))
}

// runServer runs the HTTP API until interrupted
func runServer(httpAddr string, scout *agent.Agent, swapsTool *tools.BigSwapsTool, logger zerolog.Logger) {
	server := api.NewServer(httpAddr, scout, swapsTool, logger)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Strs("chains", models.ListChainSlugs()).
		Strs("tools", scout.Tools()).
		Msg("coinscout started")

	select {
	case sig := <-signalChan:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errChan:
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down server")
	}

	logger.Info().Msg("shutdown completed")
}
