package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// TrainStatus is the explicit outcome of a training pass. Callers branch on
// the status instead of catching failures.
type TrainStatus int

const (
	TrainOK TrainStatus = iota
	TrainInsufficientData
	TrainDegenerate
)

// String implements fmt.Stringer for log output.
func (s TrainStatus) String() string {
	switch s {
	case TrainOK:
		return "ok"
	case TrainInsufficientData:
		return "insufficient data"
	case TrainDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// numCoeffs is the fitted coefficient count: intercept plus one per feature.
const numCoeffs = domain.NumFeatures + 1

// scaler standardizes feature columns to zero mean and unit variance, which
// the gradient-based fits need for stable step sizes.
type scaler struct {
	mean [domain.NumFeatures]float64
	std  [domain.NumFeatures]float64
}

func fitScaler(obs []domain.Observation) scaler {
	var sc scaler
	n := float64(len(obs))
	for _, o := range obs {
		for j, v := range o.Features.Slice() {
			sc.mean[j] += v
		}
	}
	for j := range sc.mean {
		sc.mean[j] /= n
	}
	for _, o := range obs {
		for j, v := range o.Features.Slice() {
			d := v - sc.mean[j]
			sc.std[j] += d * d
		}
	}
	for j := range sc.std {
		sc.std[j] = math.Sqrt(sc.std[j] / n)
		if sc.std[j] == 0 {
			sc.std[j] = 1
		}
	}
	return sc
}

// apply returns the standardized row with a leading 1 for the intercept.
func (sc scaler) apply(f domain.FeatureVector) [numCoeffs]float64 {
	var row [numCoeffs]float64
	row[0] = 1
	for j, v := range f.Slice() {
		row[j+1] = (v - sc.mean[j]) / sc.std[j]
	}
	return row
}

// fitOLS solves the ordinary least-squares fit over standardized features via
// QR decomposition. It returns the coefficients, the training MSE, and an
// explicit status; a rank-deficient design matrix yields TrainDegenerate.
func fitOLS(obs []domain.Observation, sc scaler) ([]float64, float64, TrainStatus) {
	n := len(obs)
	if n < numCoeffs {
		return nil, 0, TrainInsufficientData
	}

	x := mat.NewDense(n, numCoeffs, nil)
	y := mat.NewVecDense(n, nil)
	for i, o := range obs {
		row := sc.apply(o.Features)
		x.SetRow(i, row[:])
		y.SetVec(i, o.Actual)
	}

	var qr mat.QR
	qr.Factorize(x)
	var beta mat.VecDense
	if err := qr.SolveVecTo(&beta, false, y); err != nil {
		return nil, 0, TrainDegenerate
	}

	coeffs := make([]float64, numCoeffs)
	for j := range coeffs {
		c := beta.AtVec(j)
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, 0, TrainDegenerate
		}
		coeffs[j] = c
	}

	var mse float64
	for _, o := range obs {
		resid := o.Actual - dot(coeffs, sc.apply(o.Features))
		mse += resid * resid
	}
	mse /= float64(n)

	return coeffs, mse, TrainOK
}

const (
	gradIterations = 200
	gradLearnRate  = 0.05
)

// fitQuantile fits a linear model under the pinball loss at the given
// quantile using subgradient descent over standardized features. The OLS
// coefficients seed the descent so it converges in few iterations.
func fitQuantile(obs []domain.Observation, sc scaler, q float64, seed []float64) ([]float64, TrainStatus) {
	n := len(obs)
	if n < numCoeffs {
		return nil, TrainInsufficientData
	}

	coeffs := make([]float64, numCoeffs)
	if len(seed) == numCoeffs {
		copy(coeffs, seed)
	}

	rows := make([][numCoeffs]float64, n)
	for i, o := range obs {
		rows[i] = sc.apply(o.Features)
	}

	grad := make([]float64, numCoeffs)
	for it := 0; it < gradIterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		for i, o := range obs {
			resid := o.Actual - dot(coeffs, rows[i])
			// Pinball loss subgradient: -q below the fit, (1-q) above it.
			w := q
			if resid < 0 {
				w = q - 1
			}
			for j := range grad {
				grad[j] -= w * rows[i][j]
			}
		}
		step := gradLearnRate / float64(n)
		for j := range coeffs {
			coeffs[j] -= step * grad[j]
		}
	}

	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, TrainDegenerate
		}
	}
	return coeffs, TrainOK
}

// fitLogistic fits a logistic regression by gradient descent over
// standardized features. Labels are taken from Observation.Actual (> 0.5 is
// positive). Returns coefficients, training accuracy, and status.
func fitLogistic(obs []domain.Observation, sc scaler) ([]float64, float64, TrainStatus) {
	n := len(obs)
	if n < numCoeffs {
		return nil, 0, TrainInsufficientData
	}

	rows := make([][numCoeffs]float64, n)
	labels := make([]float64, n)
	var positives int
	for i, o := range obs {
		rows[i] = sc.apply(o.Features)
		if o.Actual > 0.5 {
			labels[i] = 1
			positives++
		}
	}
	// A single-class history cannot be fit; the heuristic stays in charge.
	if positives == 0 || positives == n {
		return nil, 0, TrainDegenerate
	}

	coeffs := make([]float64, numCoeffs)
	grad := make([]float64, numCoeffs)
	for it := 0; it < gradIterations; it++ {
		for j := range grad {
			grad[j] = 0
		}
		for i := range rows {
			p := sigmoid(dot(coeffs, rows[i]))
			err := p - labels[i]
			for j := range grad {
				grad[j] += err * rows[i][j]
			}
		}
		step := gradLearnRate / float64(n)
		for j := range coeffs {
			coeffs[j] -= step * grad[j]
		}
	}

	var correct int
	for i := range rows {
		p := sigmoid(dot(coeffs, rows[i]))
		if (p >= 0.5) == (labels[i] == 1) {
			correct++
		}
	}

	for _, c := range coeffs {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, 0, TrainDegenerate
		}
	}
	return coeffs, float64(correct) / float64(n), TrainOK
}

func dot(coeffs []float64, row [numCoeffs]float64) float64 {
	var sum float64
	for j := range coeffs {
		sum += coeffs[j] * row[j]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
