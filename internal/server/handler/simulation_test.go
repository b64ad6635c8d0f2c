package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSim is a scripted SimulationAPI.
type fakeSim struct {
	params    domain.SimulationParams
	setErr    error
	result    domain.CostResult
	resultErr error
	listed    []domain.CostResult
	listErr   error
	gotOpts   domain.ListOpts
	metrics   domain.BookMetrics
}

func (f *fakeSim) Params() domain.SimulationParams { return f.params }

func (f *fakeSim) SetParams(p domain.SimulationParams) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.params = p
	return nil
}

func (f *fakeSim) Status() service.Status {
	return service.Status{FeedState: "streaming", Sequence: 42, Params: f.params}
}

func (f *fakeSim) LatestMetrics(ctx context.Context) domain.BookMetrics { return f.metrics }

func (f *fakeSim) LatestResult(ctx context.Context) (domain.CostResult, error) {
	return f.result, f.resultErr
}

func (f *fakeSim) ListResults(ctx context.Context, opts domain.ListOpts) ([]domain.CostResult, error) {
	f.gotOpts = opts
	return f.listed, f.listErr
}

func defaultParams() domain.SimulationParams {
	return domain.SimulationParams{
		Exchange:    "okx",
		Asset:       "BTC-USDT",
		OrderType:   "market",
		QuantityUSD: 100,
		FeeTier:     "VIP0",
		Side:        domain.SideBuy,
	}
}

func TestGetParams(t *testing.T) {
	h := NewSimulationHandler(&fakeSim{params: defaultParams()}, testLogger())

	rec := httptest.NewRecorder()
	h.GetParams(rec, httptest.NewRequest(http.MethodGet, "/api/params", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))

	var got domain.SimulationParams
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "BTC-USDT", got.Asset)
}

func TestUpdateParams(t *testing.T) {
	sim := &fakeSim{params: defaultParams()}
	h := NewSimulationHandler(sim, testLogger())

	body := `{"exchange":"okx","asset":"BTC-USDT","order_type":"market","quantity_usd":2500,"fee_tier":"VIP1","side":"sell"}`
	rec := httptest.NewRecorder()
	h.UpdateParams(rec, httptest.NewRequest(http.MethodPut, "/api/params", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2500.0, sim.params.QuantityUSD)
	assert.Equal(t, domain.SideSell, sim.params.Side)
}

func TestUpdateParamsBadJSON(t *testing.T) {
	h := NewSimulationHandler(&fakeSim{}, testLogger())

	rec := httptest.NewRecorder()
	h.UpdateParams(rec, httptest.NewRequest(http.MethodPut, "/api/params", strings.NewReader("{nope")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateParamsValidationFailure(t *testing.T) {
	for _, sentinel := range []error{domain.ErrInvalidParams, domain.ErrUnknownFeeTier} {
		sim := &fakeSim{params: defaultParams(), setErr: sentinel}
		h := NewSimulationHandler(sim, testLogger())

		rec := httptest.NewRecorder()
		h.UpdateParams(rec, httptest.NewRequest(http.MethodPut, "/api/params", strings.NewReader(`{"quantity_usd":-1}`)))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "sentinel %v", sentinel)
	}
}

func TestGetLatestResult(t *testing.T) {
	sim := &fakeSim{result: domain.CostResult{ID: "r1", NetCostBps: 12.5}}
	h := NewSimulationHandler(sim, testLogger())

	rec := httptest.NewRecorder()
	h.GetLatestResult(rec, httptest.NewRequest(http.MethodGet, "/api/results/latest", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.CostResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, 12.5, got.NetCostBps)
}

func TestGetLatestResultNotFound(t *testing.T) {
	sim := &fakeSim{resultErr: domain.ErrNotFound}
	h := NewSimulationHandler(sim, testLogger())

	rec := httptest.NewRecorder()
	h.GetLatestResult(rec, httptest.NewRequest(http.MethodGet, "/api/results/latest", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListResults(t *testing.T) {
	sim := &fakeSim{listed: []domain.CostResult{{ID: "r1"}, {ID: "r2"}}}
	h := NewSimulationHandler(sim, testLogger())

	rec := httptest.NewRecorder()
	h.ListResults(rec, httptest.NewRequest(http.MethodGet,
		"/api/results?limit=10&offset=5&since=2024-03-01T00:00:00Z", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Results []domain.CostResult `json:"results"`
		Count   int                 `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2, got.Count)
	require.Len(t, got.Results, 2)

	assert.Equal(t, 10, sim.gotOpts.Limit)
	assert.Equal(t, 5, sim.gotOpts.Offset)
	require.NotNil(t, sim.gotOpts.Since)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), sim.gotOpts.Since.UTC())
}

func TestListResultsEmptyIsArray(t *testing.T) {
	h := NewSimulationHandler(&fakeSim{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListResults(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestListResultsUnconfigured(t *testing.T) {
	h := NewSimulationHandler(&fakeSim{listErr: domain.ErrNotFound}, testLogger())

	rec := httptest.NewRecorder()
	h.ListResults(rec, httptest.NewRequest(http.MethodGet, "/api/results", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatus(t *testing.T) {
	h := NewSimulationHandler(&fakeSim{params: defaultParams()}, testLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "streaming", got.FeedState)
	assert.Equal(t, uint64(42), got.Sequence)
}

func TestGetBookMetrics(t *testing.T) {
	sim := &fakeSim{metrics: domain.BookMetrics{MidPrice: 100.05, Valid: true}}
	h := NewSimulationHandler(sim, testLogger())

	rec := httptest.NewRecorder()
	h.GetBookMetrics(rec, httptest.NewRequest(http.MethodGet, "/api/book/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.BookMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Valid)
	assert.Equal(t, 100.05, got.MidPrice)
}

func TestHealthCheck(t *testing.T) {
	h := NewSimulationHandler(&fakeSim{}, testLogger())

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"feed_state":"streaming"`)
	assert.Contains(t, rec.Body.String(), `"sequence":42`)
}

func TestParseListOptsDefaultsAndCaps(t *testing.T) {
	opts := parseListOpts(httptest.NewRequest(http.MethodGet, "/api/results", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Nil(t, opts.Since)
	assert.Nil(t, opts.Until)

	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/api/results?limit=9999", nil))
	assert.Equal(t, 500, opts.Limit)

	// Malformed values fall back to defaults.
	opts = parseListOpts(httptest.NewRequest(http.MethodGet, "/api/results?limit=lots&offset=-3&since=yesterday", nil))
	assert.Equal(t, 50, opts.Limit)
	assert.Zero(t, opts.Offset)
	assert.Nil(t, opts.Since)
}
