// Package simulator orchestrates the cost-estimation models into one result
// per simulation tick: maker/taker prediction first (the fee blend needs
// it), then slippage, market impact, and fees, aggregated with a short-TTL
// result cache keyed by parameters and book sequence.
package simulator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/costsim/internal/bench"
	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/alanyoungcy/costsim/internal/model"
)

// Config parameterizes the aggregator.
type Config struct {
	// CacheTTL bounds how long a (params, sequence) result is reused.
	CacheTTL time.Duration
	// MetricsDepth is the depth the feature liquidity aggregates refer to;
	// informational only, the metrics snapshot already reflects it.
	MetricsDepth int
}

// Aggregator owns the lifecycle of CostResult values. It is safe for
// concurrent Simulate calls; the underlying models serialize themselves.
type Aggregator struct {
	slippage   *model.SlippageEstimator
	impact     *model.ImpactModel
	fees       *model.FeeSchedule
	classifier *model.MakerTakerClassifier
	book       model.BookWalker

	cache *resultCache
	bench *bench.Recorder

	logger *slog.Logger
}

// New creates an aggregator over the given models and book.
func New(
	cfg Config,
	slippage *model.SlippageEstimator,
	impact *model.ImpactModel,
	fees *model.FeeSchedule,
	classifier *model.MakerTakerClassifier,
	book model.BookWalker,
	recorder *bench.Recorder,
	logger *slog.Logger,
) *Aggregator {
	if recorder == nil {
		recorder = bench.NewRecorder()
	}
	return &Aggregator{
		slippage:   slippage,
		impact:     impact,
		fees:       fees,
		classifier: classifier,
		book:       book,
		cache:      newResultCache(cfg.CacheTTL),
		bench:      recorder,
		logger:     logger.With(slog.String("component", "aggregator")),
	}
}

// ValidateParams rejects parameter sets the aggregator cannot cost.
func (a *Aggregator) ValidateParams(p domain.SimulationParams) error {
	if p.QuantityUSD <= 0 {
		return fmt.Errorf("simulator: quantity_usd %.4f: %w", p.QuantityUSD, domain.ErrInvalidParams)
	}
	if !p.Side.Valid() {
		return fmt.Errorf("simulator: side %q: %w", p.Side, domain.ErrInvalidParams)
	}
	if p.Volatility < 0 {
		return fmt.Errorf("simulator: volatility %.4f: %w", p.Volatility, domain.ErrInvalidParams)
	}
	if !a.fees.Has(p.FeeTier) {
		return fmt.Errorf("simulator: fee tier %q: %w", p.FeeTier, domain.ErrUnknownFeeTier)
	}
	return nil
}

// BuildFeatures derives the model feature vector from the parameters and a
// metrics snapshot. With invalid metrics only the size feature survives;
// relative size defaults to 1 (assume the order dominates unknown depth).
func BuildFeatures(p domain.SimulationParams, m domain.BookMetrics) domain.FeatureVector {
	f := domain.FeatureVector{
		QuantityUSD:  p.QuantityUSD,
		Volatility:   p.Volatility,
		RelativeSize: 1,
	}
	if !m.Valid || m.MidPrice <= 0 {
		return f
	}
	f.SpreadBps = m.SpreadBps
	f.Imbalance = m.Imbalance

	available := m.AskVolume
	if p.Side == domain.SideSell {
		available = m.BidVolume
	}
	if available > 0 {
		rel := (p.QuantityUSD / m.MidPrice) / available
		if rel > 1 {
			rel = 1
		}
		f.RelativeSize = rel
	}
	return f
}

// Simulate produces one cost result for the given parameters against the
// given metrics snapshot. A failure in one estimator does not abort the
// call: the component is zeroed and listed in Unavailable. Invalid
// parameters are the only hard error.
func (a *Aggregator) Simulate(p domain.SimulationParams, m domain.BookMetrics) (domain.CostResult, error) {
	if p.QuantityUSD <= 0 || !p.Side.Valid() {
		return domain.CostResult{}, fmt.Errorf("simulator: %w", domain.ErrInvalidParams)
	}

	key := p.CacheKey(m.Sequence)
	if res, ok := a.cache.Get(key); ok {
		return res, nil
	}

	start := time.Now()
	defer a.bench.Measure("simulate")()

	features := BuildFeatures(p, m)

	stop := a.bench.Measure("maker_taker")
	mt := a.classifier.Predict(features)
	stop()

	stop = a.bench.Measure("slippage")
	slip := a.slippage.EstimateFromOrderbook(a.book, m, features, p.Side)
	stop()

	stop = a.bench.Measure("impact")
	imp := a.impact.Estimate(p.QuantityUSD, p.Volatility, features.Imbalance, p.Side)
	stop()

	res := domain.CostResult{
		ID:         uuid.NewString(),
		Params:     p,
		Slippage:   slip,
		Impact:     imp,
		MakerTaker: mt,
		Book:       m,
		Timestamp:  start,
	}

	stop = a.bench.Measure("fees")
	fees, err := a.fees.Compute(p.QuantityUSD, p.FeeTier, mt.MakerPct, mt.TakerPct)
	stop()
	if err != nil {
		a.logger.Warn("fee computation unavailable",
			slog.String("tier", p.FeeTier),
			slog.String("error", err.Error()),
		)
		res.Unavailable = append(res.Unavailable, "fees")
	} else {
		res.Fees = fees
	}

	res.NetCostBps = res.Slippage.ExpectedBps + res.Fees.EffectiveRateBps + res.Impact.TotalBps
	res.InternalLatencyMs = float64(time.Since(start).Microseconds()) / 1000

	a.cache.Put(key, res)
	return res, nil
}

// CleanupCache drops expired cache slots; the owning service calls it on a
// timer.
func (a *Aggregator) CleanupCache() { a.cache.Cleanup() }

// Stages reports per-stage timing statistics.
func (a *Aggregator) Stages() map[string]bench.StageStats { return a.bench.Snapshot() }

// Bench exposes the stage recorder so the consumer loop can time work that
// happens outside Simulate, such as applying book updates.
func (a *Aggregator) Bench() *bench.Recorder { return a.bench }
