// Package service contains the application services tying the feed, the
// orderbook store, and the cost models together.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/costsim/internal/bench"
	"github.com/alanyoungcy/costsim/internal/book"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/feed"
	"github.com/alanyoungcy/costsim/internal/model"
	"github.com/alanyoungcy/costsim/internal/simulator"
)

// Channel names used on the signal bus.
const (
	ChannelCost    = "ch:cost"
	ChannelMetrics = "ch:metrics"
	ChannelStatus  = "ch:status"
)

// FeedSource is the slice of the ingestor the simulation loop consumes.
type FeedSource interface {
	Events() <-chan domain.BookUpdate
	RequestResync()
	State() feed.State
	Dropped() uint64
	LatencyMs() (avg, max float64)
}

// SimulationConfig parameterizes the simulation loop.
type SimulationConfig struct {
	// MetricsDepth is how many levels feed the derived metrics.
	MetricsDepth int
	// TickInterval drives simulation when the feed goes quiet.
	TickInterval time.Duration
	// ObservationFlush batches training observations before journaling.
	ObservationFlush int
}

// Status is a point-in-time snapshot of the whole pipeline, served by the
// API and published on the status channel.
type Status struct {
	FeedState      string                      `json:"feed_state"`
	Sequence       uint64                      `json:"sequence"`
	BidDepth       int                         `json:"bid_depth"`
	AskDepth       int                         `json:"ask_depth"`
	LastUpdate     time.Time                   `json:"last_update"`
	DroppedUpdates uint64                      `json:"dropped_updates"`
	FeedLatencyAvg float64                     `json:"feed_latency_avg_ms"`
	FeedLatencyMax float64                     `json:"feed_latency_max_ms"`
	Slippage       domain.ModelState           `json:"slippage_model"`
	MakerTaker     domain.ModelState           `json:"maker_taker_model"`
	Params         domain.SimulationParams     `json:"params"`
	Stages         map[string]bench.StageStats `json:"stages"`
	Timestamp      time.Time                   `json:"timestamp"`
}

// SimulationService consumes ordered book updates, keeps the orderbook
// store current, and recomputes the hypothetical order cost on every change.
// Optional stores and the bus may be nil; the loop degrades to in-memory
// operation.
type SimulationService struct {
	cfg SimulationConfig

	source     FeedSource
	book       *book.Store
	agg        *simulator.Aggregator
	slippage   *model.SlippageEstimator
	classifier *model.MakerTakerClassifier

	results domain.ResultStore
	obs     domain.ObservationStore
	live    domain.LiveCache
	bus     domain.SignalBus

	mu     sync.RWMutex
	params domain.SimulationParams

	obsMu      sync.Mutex
	pendingObs []domain.Observation

	logger *slog.Logger
}

// NewSimulationService wires the simulation loop. results, obs, live and bus
// may all be nil.
func NewSimulationService(
	cfg SimulationConfig,
	source FeedSource,
	bookStore *book.Store,
	agg *simulator.Aggregator,
	slippage *model.SlippageEstimator,
	classifier *model.MakerTakerClassifier,
	results domain.ResultStore,
	obs domain.ObservationStore,
	live domain.LiveCache,
	bus domain.SignalBus,
	initial domain.SimulationParams,
	logger *slog.Logger,
) *SimulationService {
	if cfg.MetricsDepth <= 0 {
		cfg.MetricsDepth = 10
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.ObservationFlush <= 0 {
		cfg.ObservationFlush = 20
	}
	return &SimulationService{
		cfg:        cfg,
		source:     source,
		book:       bookStore,
		agg:        agg,
		slippage:   slippage,
		classifier: classifier,
		results:    results,
		obs:        obs,
		live:       live,
		bus:        bus,
		params:     initial,
		logger:     logger.With(slog.String("component", "simulation")),
	}
}

// Params returns the current hypothetical order parameters.
func (s *SimulationService) Params() domain.SimulationParams {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// SetParams swaps the hypothetical order. The new parameters take effect on
// the next book update or tick.
func (s *SimulationService) SetParams(p domain.SimulationParams) error {
	if err := s.agg.ValidateParams(p); err != nil {
		return err
	}
	s.mu.Lock()
	s.params = p
	s.mu.Unlock()
	s.logger.Info("simulation params updated",
		slog.String("asset", p.Asset),
		slog.String("side", string(p.Side)),
		slog.Float64("quantity_usd", p.QuantityUSD),
		slog.String("fee_tier", p.FeeTier),
	)
	return nil
}

// Status reports the pipeline state.
func (s *SimulationService) Status() Status {
	avg, max := s.source.LatencyMs()
	bids, asks := s.book.Depth()
	return Status{
		FeedState:      s.source.State().String(),
		Sequence:       s.book.Sequence(),
		BidDepth:       bids,
		AskDepth:       asks,
		LastUpdate:     s.book.LastUpdate(),
		DroppedUpdates: s.source.Dropped(),
		FeedLatencyAvg: avg,
		FeedLatencyMax: max,
		Slippage:       s.slippage.State(),
		MakerTaker:     s.classifier.State(),
		Params:         s.Params(),
		Stages:         s.agg.Stages(),
		Timestamp:      time.Now().UTC(),
	}
}

// Run consumes the feed until the context is canceled or the event channel
// closes. Each applied update triggers a simulation; a ticker fills gaps
// when the feed is quiet so the cached result and published stream never go
// stale.
func (s *SimulationService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	statusTicker := time.NewTicker(5 * time.Second)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flushObservations(context.WithoutCancel(ctx))
			return ctx.Err()

		case u, ok := <-s.source.Events():
			if !ok {
				s.flushObservations(context.WithoutCancel(ctx))
				return nil
			}
			stop := s.agg.Bench().Measure("book_apply")
			err := s.book.Apply(u)
			stop()
			if err != nil {
				s.handleApplyError(err, u)
				continue
			}
			s.simulate(ctx)

		case <-ticker.C:
			s.agg.CleanupCache()
			s.simulate(ctx)

		case <-statusTicker.C:
			s.publishStatus(ctx)
		}
	}
}

// handleApplyError classifies a store rejection and requests a resync for
// anything that means local state diverged from the venue.
func (s *SimulationService) handleApplyError(err error, u domain.BookUpdate) {
	switch {
	case errors.Is(err, domain.ErrSequenceGap),
		errors.Is(err, domain.ErrSequenceRegression),
		errors.Is(err, domain.ErrCrossedBook):
		s.logger.Warn("book desynchronized, requesting resync",
			slog.Uint64("sequence", u.Sequence),
			slog.String("error", err.Error()),
		)
		s.source.RequestResync()
	default:
		s.logger.Error("book update rejected",
			slog.Uint64("sequence", u.Sequence),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SimulationService) simulate(ctx context.Context) {
	metrics := s.book.Metrics(s.cfg.MetricsDepth)
	params := s.Params()

	res, err := s.agg.Simulate(params, metrics)
	if err != nil {
		s.logger.Error("simulation failed", slog.String("error", err.Error()))
		return
	}

	s.recordObservations(ctx, params, metrics, res)
	s.publishResult(ctx, metrics, res)
}

// recordObservations feeds the book-walk outcome back into the models. The
// simulated walk stands in for a fill against current depth; the maker
// label compares realized slippage to half the spread, a taker crossing
// the book pays at least that.
func (s *SimulationService) recordObservations(ctx context.Context, params domain.SimulationParams, m domain.BookMetrics, res domain.CostResult) {
	if !res.Slippage.Simulated || !m.Valid {
		return
	}
	features := simulator.BuildFeatures(params, m)
	s.slippage.Observe(features, res.Slippage.SimulatedBps)

	isMaker := res.Slippage.SimulatedBps <= m.SpreadBps/2
	s.classifier.Observe(features, isMaker)

	if s.obs == nil {
		return
	}
	s.obsMu.Lock()
	s.pendingObs = append(s.pendingObs, domain.Observation{
		Features: features,
		Actual:   res.Slippage.SimulatedBps,
	})
	flush := len(s.pendingObs) >= s.cfg.ObservationFlush
	s.obsMu.Unlock()
	if flush {
		s.flushObservations(ctx)
	}
}

func (s *SimulationService) flushObservations(ctx context.Context) {
	if s.obs == nil {
		return
	}
	s.obsMu.Lock()
	batch := s.pendingObs
	s.pendingObs = nil
	s.obsMu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := s.obs.InsertBatch(ctx, "slippage", batch); err != nil {
		s.logger.Warn("observation journal write failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *SimulationService) publishResult(ctx context.Context, m domain.BookMetrics, res domain.CostResult) {
	if s.live != nil {
		if err := s.live.SetMetrics(ctx, m); err != nil {
			s.logger.Warn("live metrics cache write failed", slog.String("error", err.Error()))
		}
		if err := s.live.SetResult(ctx, res); err != nil {
			s.logger.Warn("live result cache write failed", slog.String("error", err.Error()))
		}
	}

	if s.results != nil {
		if err := s.results.Insert(ctx, res); err != nil {
			s.logger.Warn("result journal write failed",
				slog.String("result_id", res.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus == nil {
		return
	}
	if payload, err := json.Marshal(res); err == nil {
		if pubErr := s.bus.Publish(ctx, ChannelCost, payload); pubErr != nil {
			s.logger.Warn("cost publish failed", slog.String("error", pubErr.Error()))
		}
	}
	if payload, err := json.Marshal(m); err == nil {
		if pubErr := s.bus.Publish(ctx, ChannelMetrics, payload); pubErr != nil {
			s.logger.Warn("metrics publish failed", slog.String("error", pubErr.Error()))
		}
	}
}

func (s *SimulationService) publishStatus(ctx context.Context) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(s.Status())
	if err != nil {
		return
	}
	if pubErr := s.bus.Publish(ctx, ChannelStatus, payload); pubErr != nil {
		s.logger.Warn("status publish failed", slog.String("error", pubErr.Error()))
	}
}

// LatestMetrics serves the API read path: live cache first, local book as
// fallback.
func (s *SimulationService) LatestMetrics(ctx context.Context) domain.BookMetrics {
	if s.live != nil {
		if m, err := s.live.GetMetrics(ctx); err == nil {
			return m
		}
	}
	return s.book.Metrics(s.cfg.MetricsDepth)
}

// LatestResult serves the API read path for the most recent cost result.
func (s *SimulationService) LatestResult(ctx context.Context) (domain.CostResult, error) {
	if s.live != nil {
		if res, err := s.live.GetResult(ctx); err == nil {
			return res, nil
		}
	}
	if s.results != nil {
		return s.results.Latest(ctx)
	}
	return domain.CostResult{}, fmt.Errorf("service: latest result: %w", domain.ErrNotFound)
}

// ListResults pages through journaled results.
func (s *SimulationService) ListResults(ctx context.Context, opts domain.ListOpts) ([]domain.CostResult, error) {
	if s.results == nil {
		return nil, fmt.Errorf("service: list results: %w", domain.ErrNotFound)
	}
	return s.results.List(ctx, opts)
}
