// Package server exposes the ops surface: manual run triggers, health,
// PnL summaries, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeloop/internal/core"
	"tradeloop/internal/storage"
	"tradeloop/pkg/concurrency"
)

// Triggers fires runs on demand.
type Triggers interface {
	RunPlan(ctx context.Context) error
	RunOrder(ctx context.Context) error
	RunPnL(ctx context.Context) error
}

// History reads run and PnL state for the read endpoints.
type History interface {
	RecentRuns(ctx context.Context, kind core.RunKind, limit int) ([]core.RunRecord, error)
	ListPNLSnapshots(ctx context.Context, productID string, limit int) ([]storage.PNLSnapshotRow, error)
}

// Server is the ops HTTP server.
type Server struct {
	srv       *http.Server
	triggers  Triggers
	history   History
	pool      *concurrency.WorkerPool
	productID string
	logger    core.ILogger
}

func NewServer(addr, productID string, triggers Triggers, history History,
	pool *concurrency.WorkerPool, logger core.ILogger) *Server {
	s := &Server{
		triggers:  triggers,
		history:   history,
		pool:      pool,
		productID: productID,
		logger:    logger.WithField("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/force/plan", s.handleForce("plan", triggers.RunPlan))
	mux.HandleFunc("/force/order", s.handleForce("order", triggers.RunOrder))
	mux.HandleFunc("/force/pnl", s.handleForce("pnl", triggers.RunPnL))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/pnl", s.handlePNL)
	mux.HandleFunc("/runs", s.handleRuns)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// handleForce queues the run on the worker pool and acknowledges
// immediately; outcomes land in the run log like any scheduled run.
func (s *Server) handleForce(kind string, run func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		err := s.pool.Submit(func() {
			if err := run(context.Background()); err != nil {
				s.logger.Error("Forced run failed", "kind", kind, "error", err)
			}
		})
		if err != nil {
			http.Error(w, "trigger queue full", http.StatusServiceUnavailable)
			return
		}

		s.logger.Info("Run triggered manually", "kind", kind)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "kind": kind})
	}
}

type runOutcome struct {
	Status     string     `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// handleHealth reports the latest outcome per run kind. The process serving
// this endpoint is alive by definition, so the status code stays 200 even
// when runs have failed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	outcomes := make(map[string]runOutcome, 4)
	for _, kind := range []core.RunKind{core.RunPlan, core.RunOrder, core.RunMonitor, core.RunPnL} {
		runs, err := s.history.RecentRuns(r.Context(), kind, 1)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read run log: %v", err), http.StatusInternalServerError)
			return
		}
		if len(runs) == 0 {
			outcomes[string(kind)] = runOutcome{Status: "never_ran"}
			continue
		}
		run := runs[0]
		started := run.StartedAt
		outcomes[string(kind)] = runOutcome{
			Status:     string(run.Status),
			StartedAt:  &started,
			FinishedAt: run.FinishedAt,
			Error:      run.ErrorText,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": outcomes})
}

func (s *Server) handlePNL(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.history.ListPNLSnapshots(r.Context(), s.productID, 1)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read pnl snapshots: %v", err), http.StatusInternalServerError)
		return
	}
	if len(snapshots) == 0 {
		http.Error(w, "no pnl snapshot yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"product_id": snapshots[0].ProductID,
		"created_at": snapshots[0].CreatedAt,
		"summary":    snapshots[0].Summary,
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	kind := core.RunKind(r.URL.Query().Get("kind"))
	runs, err := s.history.RecentRuns(r.Context(), kind, 20)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read run log: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
