package domain

import (
	"fmt"
	"math"
)

// NumFeatures is the fixed width of the model feature vector.
const NumFeatures = 5

// FeatureVector is the fixed-shape input to the trainable models. Fields are
// validated at construction; dynamic feature dictionaries are deliberately
// not supported.
type FeatureVector struct {
	QuantityUSD  float64 `json:"quantity_usd"`
	RelativeSize float64 `json:"relative_size"`
	SpreadBps    float64 `json:"spread_bps"`
	Volatility   float64 `json:"volatility"`
	Imbalance    float64 `json:"imbalance"`
}

// Validate rejects vectors containing NaN or Inf components.
func (f FeatureVector) Validate() error {
	for name, v := range map[string]float64{
		"quantity_usd":  f.QuantityUSD,
		"relative_size": f.RelativeSize,
		"spread_bps":    f.SpreadBps,
		"volatility":    f.Volatility,
		"imbalance":     f.Imbalance,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %s: %w", name, ErrInvalidFeature)
		}
	}
	return nil
}

// Slice returns the features in canonical column order.
func (f FeatureVector) Slice() []float64 {
	return []float64{f.QuantityUSD, f.RelativeSize, f.SpreadBps, f.Volatility, f.Imbalance}
}

// Observation pairs a feature vector with the value it led to. For the
// slippage model Actual is observed slippage in bps; for the maker/taker
// classifier it is 1 for a maker fill and 0 for a taker fill.
type Observation struct {
	Features FeatureVector `json:"features"`
	Actual   float64       `json:"actual_value"`
}

// ModelState is a read-only snapshot of a trainable model's status.
type ModelState struct {
	Trained           bool      `json:"trained"`
	SampleCount       int       `json:"sample_count"`
	Coefficients      []float64 `json:"coefficients,omitempty"`
	LastTrainingError float64   `json:"last_training_error"`
}
