package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/service"
)

// SimulationAPI is the slice of the simulation service the HTTP handlers
// consume.
type SimulationAPI interface {
	Params() domain.SimulationParams
	SetParams(p domain.SimulationParams) error
	Status() service.Status
	LatestMetrics(ctx context.Context) domain.BookMetrics
	LatestResult(ctx context.Context) (domain.CostResult, error)
	ListResults(ctx context.Context, opts domain.ListOpts) ([]domain.CostResult, error)
}

// SimulationHandler serves the cost-estimation API surface.
type SimulationHandler struct {
	sim    SimulationAPI
	logger *slog.Logger
}

// NewSimulationHandler creates a SimulationHandler over the given service.
func NewSimulationHandler(sim SimulationAPI, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{sim: sim, logger: logger}
}

// GetParams returns the hypothetical order currently being costed.
// GET /api/params
func (h *SimulationHandler) GetParams(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Params())
}

// UpdateParams replaces the hypothetical order. Validation failures return
// 422 with the rejection reason; the previous parameters stay in effect.
// PUT /api/params
func (h *SimulationHandler) UpdateParams(w http.ResponseWriter, r *http.Request) {
	log := logHandler(h.logger, "update_params")

	var params domain.SimulationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if err := h.sim.SetParams(params); err != nil {
		if errors.Is(err, domain.ErrInvalidParams) || errors.Is(err, domain.ErrUnknownFeeTier) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		log.ErrorContext(r.Context(), "update params failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to update parameters")
		return
	}

	writeJSON(w, http.StatusOK, h.sim.Params())
}

// GetBookMetrics returns the latest derived orderbook metrics.
// GET /api/book/metrics
func (h *SimulationHandler) GetBookMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.LatestMetrics(r.Context()))
}

// GetLatestResult returns the most recent cost result.
// GET /api/results/latest
func (h *SimulationHandler) GetLatestResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.sim.LatestResult(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no result available yet")
			return
		}
		logHandler(h.logger, "latest_result").ErrorContext(r.Context(),
			"latest result lookup failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListResults pages through journaled results.
// GET /api/results?limit=&offset=&since=&until=
func (h *SimulationHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.sim.ListResults(r.Context(), parseListOpts(r))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "result journal not configured")
			return
		}
		logHandler(h.logger, "list_results").ErrorContext(r.Context(),
			"result list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list results")
		return
	}
	if results == nil {
		results = []domain.CostResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// GetStatus reports the full pipeline status snapshot.
// GET /api/status
func (h *SimulationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Status())
}

// HealthCheck reports liveness together with the feed state and book
// sequence.
// GET /api/health
func (h *SimulationHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	st := h.sim.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"feed_state": st.FeedState,
		"sequence":   st.Sequence,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}
