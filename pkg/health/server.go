// Package health serves liveness, readiness and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otcdesk/rfq-settler/pkg/chainclient"
	"github.com/otcdesk/rfq-settler/pkg/logger"
)

// ReadyChecker reports whether the worker passed its readiness checks
type ReadyChecker interface {
	Ready() bool
}

// Server represents the health check HTTP server
type Server struct {
	port          string
	chain         chainclient.Client
	worker        ReadyChecker
	metricsAPIKey string
	logger        logger.Logger
}

// NewServer creates a new health check server
func NewServer(port string, chain chainclient.Client, worker ReadyChecker, log logger.Logger) *Server {
	return &Server{
		port:          port,
		chain:         chain,
		worker:        worker,
		metricsAPIKey: os.Getenv("METRICS_API_KEY"),
		logger:        log,
	}
}

// metricsAuthMiddleware checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the health server until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.worker.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Worker not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"chain_id": s.chain.ChainID(),
			"sender":   s.chain.Sender().Hex(),
			"ready":    s.worker.Ready(),
		}
		if head, err := s.chain.BlockNumber(r.Context()); err == nil {
			status["latest_block"] = head
		}
		if balance, err := s.chain.GetBalance(r.Context(), s.chain.Sender()); err == nil {
			status["native_balance"] = balance.String()
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.logger.Error("Error encoding status JSON: %v", err)
		}
	})

	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	server := &http.Server{Addr: ":" + s.port, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Health server error: %v", err)
	}
}
