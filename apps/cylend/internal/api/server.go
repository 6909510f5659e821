package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cylend/apps/cylend/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the API server
type Server struct {
	actionHandler *ActionHandler
	entityHandler *EntityHandler
	gatherer      prometheus.Gatherer
	logger        *zap.Logger
	server        *http.Server
}

// NewServer creates a new API server. gatherer backs /metrics.
func NewServer(port int, s store.Store, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		actionHandler: NewActionHandler(s, logger),
		entityHandler: NewEntityHandler(s, logger),
		gatherer:      gatherer,
		logger:        logger,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start starts the API server
func (s *Server) Start() error {
	s.server.Handler = s.Handler()

	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	// Add middleware
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// API routes
	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/actions", s.actionHandler.ListActions).Methods("GET")
	api.HandleFunc("/actions/{action_id}", s.actionHandler.GetAction).Methods("GET")

	api.HandleFunc("/deposits", s.entityHandler.ListDeposits).Methods("GET")
	api.HandleFunc("/deposits/{deposit_id}", s.entityHandler.GetDeposit).Methods("GET")
	api.HandleFunc("/positions/{user}/{token}", s.entityHandler.GetPosition).Methods("GET")
	api.HandleFunc("/liquidity/{token}", s.entityHandler.GetLiquidity).Methods("GET")
	api.HandleFunc("/prices/{token}", s.entityHandler.GetPrice).Methods("GET")

	// Health check endpoint
	api.HandleFunc("/health", s.healthCheck).Methods("GET")

	return router
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Call the next handler
		next.ServeHTTP(w, r)

		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// corsMiddleware handles CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// healthCheck handles the health check endpoint
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health check response", zap.Error(err))
	}
}
