// Package opsserver exposes the operational HTTP surface: health, Prometheus
// metrics, deployment history, and queue depths.
package opsserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mergepilot/pkg/logx"
	"mergepilot/pkg/metrics"
	"mergepilot/pkg/persistence"
	"mergepilot/pkg/pipeline"
	"mergepilot/pkg/version"
)

// Server serves the ops endpoints. All routes are read-only.
type Server struct {
	store        *persistence.Store
	queueNames   []string
	db           *sql.DB
	metricsQuery *metrics.QueryService
	logger       *logx.Logger
}

// NewServer creates an ops server over the shared database. queueNames lists
// the task queues whose depths /api/queues reports; metricsQuery backs
// /api/metrics and may be nil when no Prometheus endpoint is configured.
func NewServer(db *sql.DB, store *persistence.Store, queueNames []string, metricsQuery *metrics.QueryService) *Server {
	return &Server{
		store:        store,
		queueNames:   queueNames,
		db:           db,
		metricsQuery: metricsQuery,
		logger:       logx.NewLogger("opsserver"),
	}
}

// RegisterRoutes attaches all handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/deployments", s.handleDeployments)
	mux.HandleFunc("/api/queues", s.handleQueues)
	mux.HandleFunc("/api/metrics", s.handleMetricsSummary)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := map[string]string{
		"status":  "ok",
		"version": version.Version,
	}
	if err := s.db.PingContext(r.Context()); err != nil {
		response["status"] = "degraded"
		response["database"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode health response: %v", err)
	}
}

// handleDeployments implements GET /api/deployments?pr=N.
func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	prNumber, err := strconv.Atoi(r.URL.Query().Get("pr"))
	if err != nil || prNumber <= 0 {
		http.Error(w, "pr query parameter must be a positive integer", http.StatusBadRequest)
		return
	}

	statuses, err := s.store.ListByPR(r.Context(), prNumber)
	if err != nil {
		s.logger.Error("Failed to list deployments: %v", err)
		http.Error(w, "Failed to list deployments", http.StatusInternalServerError)
		return
	}
	if statuses == nil {
		statuses = []*pipeline.DeploymentStatus{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statuses); err != nil {
		s.logger.Error("Failed to encode deployments response: %v", err)
	}
}

// handleQueues implements GET /api/queues.
func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	depths := make(map[string]int, len(s.queueNames))
	for _, name := range s.queueNames {
		var depth int
		err := s.db.QueryRowContext(r.Context(),
			"SELECT COUNT(*) FROM tasks WHERE queue = ? AND status = 'pending'", name,
		).Scan(&depth)
		if err != nil {
			s.logger.Error("Failed to measure queue %s: %v", name, err)
			http.Error(w, "Failed to measure queues", http.StatusInternalServerError)
			return
		}
		depths[name] = depth
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(depths); err != nil {
		s.logger.Error("Failed to encode queues response: %v", err)
	}
}

// handleMetricsSummary implements GET /api/metrics?environment=staging:
// aggregated deployment counters for one environment plus merge counts by
// strategy, read back from Prometheus.
func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.metricsQuery == nil {
		http.Error(w, "No Prometheus endpoint configured", http.StatusServiceUnavailable)
		return
	}

	environment := r.URL.Query().Get("environment")
	if environment == "" {
		http.Error(w, "environment query parameter is required", http.StatusBadRequest)
		return
	}

	deployments, err := s.metricsQuery.GetDeploymentMetrics(r.Context(), environment)
	if err != nil {
		s.logger.Error("Failed to query deployment metrics: %v", err)
		http.Error(w, "Failed to query deployment metrics", http.StatusBadGateway)
		return
	}
	merges, err := s.metricsQuery.GetMergesByStrategy(r.Context())
	if err != nil {
		s.logger.Error("Failed to query merge metrics: %v", err)
		http.Error(w, "Failed to query merge metrics", http.StatusBadGateway)
		return
	}

	response := map[string]any{
		"deployments":        deployments,
		"merges_by_strategy": merges,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode metrics response: %v", err)
	}
}

// StartServer serves on addr in a background goroutine and shuts down
// gracefully when ctx is cancelled.
func (s *Server) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Starting ops server on %s", addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down ops server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		//nolint:contextcheck // Parent context is cancelled; we need a fresh context for shutdown
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("HTTP server shutdown failed: %v", err)
		}
	}()

	return nil
}

// Handler returns the full route set for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}
