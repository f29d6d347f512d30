package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pricesync/internal/domain"
	"pricesync/internal/engine"
)

// reconcileRequest optionally overrides the configured markup policy for
// a single run.
type reconcileRequest struct {
	Force            bool     `json:"force"`
	MarkupPercentage *float64 `json:"markup_percentage,omitempty"`
	TaxRate          *float64 `json:"tax_rate,omitempty"`
}

func (s *Server) handleReconcileRequest(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.Body != nil {
		// An empty body means "run with configured defaults".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	markup := s.config.MarkupPercentage
	if req.MarkupPercentage != nil {
		markup = *req.MarkupPercentage
	}
	tax := s.config.TaxRate
	if req.TaxRate != nil {
		tax = *req.TaxRate
	}
	if markup < 0 || tax < 0 {
		s.respondWithError(w, http.StatusBadRequest, "Markup and tax rate must not be negative")
		return
	}
	policy := domain.MarkupPolicy{
		MarkupPercentage: decimal.NewFromFloat(markup),
		TaxRate:          decimal.NewFromFloat(tax),
	}

	runID, err := s.engine.StartReconciliation(policy, req.Force)
	if err != nil {
		if errors.Is(err, engine.ErrRunInProgress) {
			s.respondWithError(w, http.StatusConflict, "A reconciliation run is already in progress")
			return
		}
		s.logger.Error("failed to start reconciliation run", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not start reconciliation run")
		return
	}

	s.respondWithJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  runID,
		"message": "Reconciliation run started",
	})
}

// handleCancelRequest cancels the in-flight run, if any. The run winds
// down at its next checkpoint and reports a cancelled partial summary.
func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	if !s.engine.Cancel() {
		s.respondWithError(w, http.StatusConflict, "No reconciliation run in progress")
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, map[string]string{
		"message": "Cancellation requested",
	})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		s.respondWithError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	progress, err := s.redisStore.GetProgress(r.Context(), runID)
	if err != nil {
		s.logger.Error("failed to load run progress", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve run progress")
		return
	}
	if progress == nil {
		s.respondWithError(w, http.StatusNotFound, "Run not found")
		return
	}
	s.respondWithJSON(w, http.StatusOK, progress)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	if healthStatus["postgres"] != "healthy" || healthStatus["redis"] != "healthy" {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
