package model

import (
	"log/slog"
	"math"
	"sync"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// ClassifierConfig parameterizes the maker/taker classifier.
type ClassifierConfig struct {
	HistoryCapacity int
	TrainThreshold  int
}

// MakerTakerClassifier predicts the maker fill probability of a hypothetical
// order: a trained logistic regression when enough labeled fills have been
// observed, a logistic-shaped heuristic otherwise.
type MakerTakerClassifier struct {
	mu   sync.Mutex
	cfg  ClassifierConfig
	hist *history

	sc      scaler
	coeffs  []float64
	trained bool
	lastAcc float64

	logger *slog.Logger
}

// NewMakerTakerClassifier creates an untrained classifier.
func NewMakerTakerClassifier(cfg ClassifierConfig, logger *slog.Logger) *MakerTakerClassifier {
	if cfg.TrainThreshold <= 0 {
		cfg.TrainThreshold = 50
	}
	return &MakerTakerClassifier{
		cfg:    cfg,
		hist:   newHistory(cfg.HistoryCapacity),
		logger: logger.With(slog.String("component", "maker_taker_model")),
	}
}

// Observe records a labeled fill and retrains once past the threshold.
// Training failures leave the previous state in place.
func (c *MakerTakerClassifier) Observe(f domain.FeatureVector, isMaker bool) {
	if err := f.Validate(); err != nil {
		c.logger.Warn("dropping observation", slog.String("error", err.Error()))
		return
	}

	label := 0.0
	if isMaker {
		label = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.hist.Push(domain.Observation{Features: f, Actual: label})
	if c.hist.Len() < c.cfg.TrainThreshold {
		return
	}

	obs := c.hist.All()
	sc := fitScaler(obs)
	coeffs, acc, status := fitLogistic(obs, sc)
	if status != TrainOK {
		c.logger.Warn("maker/taker training failed",
			slog.String("status", status.String()),
			slog.Int("samples", len(obs)),
		)
		return
	}
	c.sc = sc
	c.coeffs = coeffs
	c.lastAcc = acc
	c.trained = true
}

// Predict returns the maker/taker split for the given features. MakerPct and
// TakerPct always sum to exactly 1.
func (c *MakerTakerClassifier) Predict(f domain.FeatureVector) domain.MakerTakerEstimate {
	c.mu.Lock()
	defer c.mu.Unlock()

	var makerP float64
	if c.trained {
		makerP = sigmoid(dot(c.coeffs, c.sc.apply(f)))
	} else {
		makerP = heuristicMakerProbability(f)
	}

	return domain.MakerTakerEstimate{
		MakerPct: makerP,
		TakerPct: 1 - makerP,
		Trained:  c.trained,
	}
}

// State returns a snapshot of the model status. LastTrainingError carries
// 1 - accuracy so lower is better, matching the regression models.
func (c *MakerTakerClassifier) State() domain.ModelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := domain.ModelState{
		Trained:           c.trained,
		SampleCount:       c.hist.Len(),
		LastTrainingError: 1 - c.lastAcc,
	}
	if c.trained {
		st.Coefficients = append(st.Coefficients, c.coeffs...)
	}
	return st
}

// heuristicMakerProbability shrinks toward taker as the order grows relative
// to available liquidity and as the spread it must cross widens. The sigmoid
// keeps the probability in (0, 1) without a hard cutoff.
func heuristicMakerProbability(f domain.FeatureVector) float64 {
	rel := math.Max(0, math.Min(1, f.RelativeSize))
	return sigmoid(1.2 - 3*rel - f.SpreadBps/25)
}
