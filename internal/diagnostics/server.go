// Package diagnostics exposes the keeper's operational HTTP surface: a
// hand-rolled JSON status endpoint alongside the Prometheus scrape
// endpoint, following the corpus's internal/infrastructure/metrics/server.go
// minimal-http.Server-plus-promhttp-handler shape, extended with the
// bespoke /diagnostics and /reset-metrics handlers this keeper needs.
package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundingkeeper/internal/core"
	"fundingkeeper/internal/reconcile"
	"fundingkeeper/internal/store"
	"fundingkeeper/internal/telemetry"
)

// Status is the JSON body served at GET /diagnostics.
type Status struct {
	Uptime           string `json:"uptime"`
	OpenPositions    int    `json:"openPositions"`
	OpenIncidents    int    `json:"openIncidents"`
	ReconcileHalted  bool   `json:"reconcileHalted"`
	StorageHealthy   bool   `json:"storageHealthy"`
}

// Server is the diagnostics HTTP endpoint: /diagnostics, /reset-metrics,
// and /metrics.
type Server struct {
	port       int
	logger     core.Logger
	store      store.Store
	reconciler *reconcile.Reconciler
	metrics    *telemetry.Holder
	startedAt  time.Time
	srv        *http.Server
}

func NewServer(port int, st store.Store, reconciler *reconcile.Reconciler, metrics *telemetry.Holder, logger core.Logger) *Server {
	return &Server{
		port:       port,
		logger:     logger.With("component", "diagnostics_server"),
		store:      st,
		reconciler: reconciler,
		metrics:    metrics,
		startedAt:  time.Now(),
	}
}

// Start begins serving in the background. It never blocks; callers observe
// failures through the logger, matching the corpus's metrics server.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/reset-metrics", s.handleResetMetrics)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go func() {
		s.logger.Info("starting diagnostics server", "port", s.port)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("diagnostics server failed", "error", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Info("stopping diagnostics server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	positions, err := s.store.ListPositions(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	incidents, err := s.store.ListOpenIncidents(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	open := 0
	for _, p := range positions {
		if p.Status == core.PositionOpen {
			open++
		}
	}

	status := Status{
		Uptime:          time.Since(s.startedAt).String(),
		OpenPositions:   open,
		OpenIncidents:   len(incidents),
		ReconcileHalted: s.reconciler != nil && s.reconciler.IsHalted(),
		StorageHealthy:  true,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("failed to encode diagnostics response", "error", err)
	}
}

// handleResetMetrics clears the per-position gauge series (health factor,
// realized net APY). It never resets the monotonic counters — those are
// process lifetime totals, not something an operator should be able to
// zero out from an HTTP call.
func (s *Server) handleResetMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.metrics == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	positions, err := s.store.ListPositions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, p := range positions {
		s.metrics.ClearPosition(p.ID)
	}
	w.WriteHeader(http.StatusNoContent)
}
