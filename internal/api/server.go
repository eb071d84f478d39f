package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/coinscout/coinscout/internal/models"
	"github.com/coinscout/coinscout/internal/tools"
)

// Asker is the slice of the agent the server needs
type Asker interface {
	Ask(ctx context.Context, question string) (*models.ChatResponse, error)
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	agent   Asker
	swaps   tools.Tool
	address string
	logger  zerolog.Logger
	server  *http.Server
}

// NewServer creates a new API server. swaps is the big_swaps tool, exposed
// directly so clients can query aggregated swaps without going through the
// model.
func NewServer(address string, agent Asker, swaps tools.Tool, logger zerolog.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		agent:   agent,
		swaps:   swaps,
		address: address,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

// Router exposes the configured handler (used by tests)
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// OPTIONS is listed so preflight requests reach the CORS middleware
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/chat", s.handleChat).Methods("POST", "OPTIONS")
	v1.HandleFunc("/swaps", s.handleSwaps).Methods("POST", "OPTIONS")
	v1.HandleFunc("/chains", s.handleGetChains).Methods("GET")
}

// handleHealth returns the health status of the service
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "coinscout",
		"version":   "1.0.0",
	})
}

// handleChat runs one conversational query through the agent
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var request models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "Message is required", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 120*time.Second)
	defer cancel()

	response, err := s.agent.Ask(ctx, request.Message)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			s.writeErrorResponse(w, http.StatusRequestTimeout, "Chat request timed out", err)
		} else {
			s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to answer", err)
		}
		return
	}

	response.RequestID = requestIDFrom(r)
	s.writeJSON(w, http.StatusOK, response)
}

// handleSwaps queries the aggregator directly, returning the same envelope
// the model sees
func (s *Server) handleSwaps(w http.ResponseWriter, r *http.Request) {
	var request models.SwapsRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	input := map[string]interface{}{}
	if request.Chain != "" {
		input["chain"] = request.Chain
	}
	if request.Token != "" {
		input["token"] = request.Token
	}
	if request.Pair != "" {
		input["pair"] = request.Pair
	}
	if request.Side != "" {
		input["side"] = request.Side
	}
	if request.MinValueUSD > 0 {
		input["min_value_usd"] = request.MinValueUSD
	}
	if request.Limit != 0 {
		input["limit"] = float64(request.Limit)
	}

	envelope, err := s.swaps.Run(r.Context(), input)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "Failed to fetch swaps", err)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope)
}

// handleGetChains returns the list of supported chains
func (s *Server) handleGetChains(w http.ResponseWriter, r *http.Request) {
	var chains []models.Chain
	for _, slug := range models.ListChainSlugs() {
		if chain, ok := models.GetChain(slug); ok {
			// SwapsURL may embed credentials, keep it private
			chain.SwapsURL = ""
			chains = append(chains, chain)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"chains": chains,
		"count":  len(chains),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// writeErrorResponse writes an error response in a consistent format. Full
// error details stay in the logs; clients get a sanitized hint.
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		s.logger.Error().Err(err).Str("message", message).Msg("request failed")

		switch {
		case strings.Contains(err.Error(), "attempts exhausted"):
			response["details"] = "Upstream data source unavailable"
		case strings.Contains(err.Error(), "API"):
			response["details"] = "External service error"
		case strings.Contains(err.Error(), "context"):
			response["details"] = "Request timeout"
		default:
			response["details"] = "Internal processing error"
		}
	}

	s.writeJSON(w, statusCode, response)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func requestIDFrom(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// requestIDMiddleware tags every request with a unique ID
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// recoveryMiddleware catches panics and returns proper JSON error responses
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic", err).
					Msg("panic in handler")
				s.writeErrorResponse(w, http.StatusInternalServerError, "Internal server error", fmt.Errorf("panic: %v", err))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", requestIDFrom(r)).
			Int("status", wrapped.statusCode).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.router,

		ReadTimeout:       120 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
	}

	s.logger.Info().Str("address", s.address).Msg("starting coinscout API server")
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down coinscout API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}
	return nil
}
