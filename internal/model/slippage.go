// Package model implements the cost-estimation models: the slippage
// regression with heuristic and book-walk blending, the Almgren-Chriss
// market impact model, the fee tier schedule, and the maker/taker
// classifier. Each trainable model owns its bounded observation history and
// serializes Observe/retrain against Predict.
package model

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Confidence selects which slippage estimate Predict returns.
type Confidence string

const (
	Expected     Confidence = "expected"
	Conservative Confidence = "conservative"
)

// ConservativeStrategy is the capability variant for the conservative
// estimate, chosen once at startup.
type ConservativeStrategy string

const (
	// StrategyQuantile fits a second regression under the pinball loss.
	StrategyQuantile ConservativeStrategy = "quantile"
	// StrategyLinear scales the expected estimate by 1 + k/sqrt(n).
	StrategyLinear ConservativeStrategy = "linear"
)

// BookWalker provides the live depth walk the slippage estimate blends with.
type BookWalker interface {
	VWAPForQuantity(quantity float64, side domain.Side) domain.VWAPResult
}

// SlippageConfig parameterizes the estimator.
type SlippageConfig struct {
	HistoryCapacity int
	TrainThreshold  int
	Strategy        ConservativeStrategy
	Quantile        float64
	SafetyK         float64

	// MaxBookAge optionally decays the simulation blend weight as the book
	// snapshot goes stale. Zero disables the decay.
	MaxBookAge time.Duration
}

// SlippageEstimator blends a trained regression, a closed-form heuristic,
// and a live book-walk simulation into one slippage estimate.
type SlippageEstimator struct {
	mu   sync.Mutex
	cfg  SlippageConfig
	hist *history

	sc          scaler
	coeffs      []float64
	quantCoeffs []float64
	trained     bool
	lastMSE     float64

	logger *slog.Logger
}

// NewSlippageEstimator creates an untrained estimator.
func NewSlippageEstimator(cfg SlippageConfig, logger *slog.Logger) *SlippageEstimator {
	if cfg.TrainThreshold <= 0 {
		cfg.TrainThreshold = 50
	}
	if cfg.Quantile <= 0 || cfg.Quantile >= 1 {
		cfg.Quantile = 0.9
	}
	if cfg.SafetyK <= 0 {
		cfg.SafetyK = 2
	}
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyLinear
	}
	return &SlippageEstimator{
		cfg:    cfg,
		hist:   newHistory(cfg.HistoryCapacity),
		logger: logger.With(slog.String("component", "slippage_model")),
	}
}

// Observe appends a (features, actual slippage bps) pair to the bounded
// history and retrains once the sample threshold is crossed. Invalid feature
// vectors are dropped. Training failures never propagate: the model keeps
// its previous state and the heuristic path stays in charge.
func (e *SlippageEstimator) Observe(f domain.FeatureVector, actualBps float64) {
	if err := f.Validate(); err != nil {
		e.logger.Warn("dropping observation", slog.String("error", err.Error()))
		return
	}
	if math.IsNaN(actualBps) || math.IsInf(actualBps, 0) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.hist.Push(domain.Observation{Features: f, Actual: actualBps})
	if e.hist.Len() < e.cfg.TrainThreshold {
		return
	}
	e.train()
}

// train refits both models from the current history. Caller holds e.mu.
func (e *SlippageEstimator) train() {
	obs := e.hist.All()
	sc := fitScaler(obs)

	coeffs, mse, status := fitOLS(obs, sc)
	if status != TrainOK {
		e.logger.Warn("slippage training failed",
			slog.String("status", status.String()),
			slog.Int("samples", len(obs)),
		)
		return
	}

	e.sc = sc
	e.coeffs = coeffs
	e.lastMSE = mse
	e.trained = true

	if e.cfg.Strategy == StrategyQuantile {
		qc, qstatus := fitQuantile(obs, sc, e.cfg.Quantile, coeffs)
		if qstatus != TrainOK {
			e.logger.Warn("quantile training failed, linear safety factor in use",
				slog.String("status", qstatus.String()),
			)
			e.quantCoeffs = nil
		} else {
			e.quantCoeffs = qc
		}
	}
}

// Predict returns the slippage estimate in bps for the requested confidence
// level, using the trained regression when available and the closed-form
// heuristic otherwise.
func (e *SlippageEstimator) Predict(f domain.FeatureVector, level Confidence) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictLocked(f, level, domain.SideBuy)
}

func (e *SlippageEstimator) predictLocked(f domain.FeatureVector, level Confidence, side domain.Side) float64 {
	if !e.trained {
		h := heuristicSlippageBps(f, side)
		if level == Conservative {
			h *= 1 + untrainedSafetyMargin
		}
		return h
	}

	expected := dot(e.coeffs, e.sc.apply(f))
	if level != Conservative {
		return expected
	}
	if e.quantCoeffs != nil {
		return dot(e.quantCoeffs, e.sc.apply(f))
	}
	return expected * (1 + e.cfg.SafetyK/math.Sqrt(float64(e.hist.Len())))
}

// untrainedSafetyMargin widens the conservative estimate while the model has
// no fitted error to derive a quantile from.
const untrainedSafetyMargin = 0.25

// heuristicSlippageBps is the regression-free fallback: a size-driven base
// scaled up with spread, plus an imbalance penalty when the order direction
// opposes the book.
func heuristicSlippageBps(f domain.FeatureVector, side domain.Side) float64 {
	base := 0.1 * f.QuantityUSD * (1 + 0.05*math.Log1p(f.QuantityUSD/100))
	base *= 1 + f.SpreadBps/200

	// Buying into an ask-heavy book (or selling into a bid-heavy one) costs
	// extra; penalty grows with |imbalance| and is capped.
	adverse := (side == domain.SideBuy && f.Imbalance < 0) ||
		(side == domain.SideSell && f.Imbalance > 0)
	if adverse {
		base *= 1 + math.Min(0.5, 0.5*math.Abs(f.Imbalance))
	}
	return base
}

// State returns a snapshot of the model status.
func (e *SlippageEstimator) State() domain.ModelState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := domain.ModelState{
		Trained:           e.trained,
		SampleCount:       e.hist.Len(),
		LastTrainingError: e.lastMSE,
	}
	if e.trained {
		st.Coefficients = append(st.Coefficients, e.coeffs...)
	}
	return st
}

// EstimateFromOrderbook produces a full slippage estimate for the given
// metrics snapshot: model (or heuristic) prediction, live book-walk
// simulation, and the filled-ratio blend of the two. Invalid metrics fall
// back to the pure heuristic with no simulation component.
func (e *SlippageEstimator) EstimateFromOrderbook(
	book BookWalker,
	m domain.BookMetrics,
	f domain.FeatureVector,
	side domain.Side,
) domain.SlippageEstimate {
	e.mu.Lock()
	expected := e.predictLocked(f, Expected, side)
	conservative := e.predictLocked(f, Conservative, side)
	trained := e.trained
	samples := e.hist.Len()
	e.mu.Unlock()

	est := domain.SlippageEstimate{
		ExpectedBps:     expected,
		ConservativeBps: conservative,
		Trained:         trained,
		Samples:         samples,
	}

	if !m.Valid || m.MidPrice <= 0 || book == nil {
		return est
	}

	quantity := f.QuantityUSD / m.MidPrice
	walk := book.VWAPForQuantity(quantity, side)
	if walk.FilledQuantity <= 0 {
		return est
	}

	sign := 1.0
	if side == domain.SideSell {
		sign = -1
	}
	est.SimulatedBps = (walk.AveragePrice - m.MidPrice) / m.MidPrice * 10000 * sign
	est.Simulated = true
	est.FilledRatio = walk.FilledRatio

	// Weight direct observation of current depth over model extrapolation;
	// optionally decay the weight as the snapshot goes stale.
	weight := walk.FilledRatio
	if e.cfg.MaxBookAge > 0 && !m.Timestamp.IsZero() {
		if age := time.Since(m.Timestamp); age > 0 {
			decay := 1 - float64(age)/float64(e.cfg.MaxBookAge)
			if decay < 0 {
				decay = 0
			}
			weight *= decay
		}
	}
	est.ExpectedBps = weight*est.SimulatedBps + (1-weight)*expected
	return est
}
